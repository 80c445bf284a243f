package capture

import (
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCaptureBody_FinishOnce(t *testing.T) {
	calls := 0
	body := newCaptureBody(io.NopCloser(strings.NewReader("hello")), 64, func(data []byte, size int64) {
		calls++
		assert.Equal(t, "hello", string(data))
		assert.Equal(t, int64(5), size)
	})

	got, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
	require.NoError(t, body.Close())

	assert.Equal(t, 1, calls, "onDone must fire exactly once across EOF and Close")
}

func TestCaptureBody_EarlyCloseCapturesPartial(t *testing.T) {
	var captured []byte
	body := newCaptureBody(io.NopCloser(strings.NewReader("0123456789")), 64, func(data []byte, size int64) {
		captured = data
	})

	buf := make([]byte, 4)
	_, err := body.Read(buf)
	require.NoError(t, err)
	require.NoError(t, body.Close())

	assert.Equal(t, "0123", string(captured), "abandoning a body finalizes with what was read")
}

func TestCaptureBody_CapBoundsBufferNotCount(t *testing.T) {
	var captured []byte
	var total int64
	body := newCaptureBody(io.NopCloser(strings.NewReader(strings.Repeat("a", 100))), 10, func(data []byte, size int64) {
		captured = data
		total = size
	})

	_, err := io.Copy(io.Discard, body)
	require.NoError(t, err)

	assert.Len(t, captured, 10)
	assert.Equal(t, int64(100), total)
}

func TestSnapshotRequestBody(t *testing.T) {
	req, err := http.NewRequest("POST", "https://example.com", strings.NewReader(`{"name":"a"}`))
	require.NoError(t, err)

	snap := snapshotRequestBody(req, 1024)
	assert.Equal(t, `{"name":"a"}`, string(snap))

	// The request body itself is untouched by the snapshot.
	data, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	assert.Equal(t, `{"name":"a"}`, string(data))
}

func TestSnapshotRequestBody_NoBody(t *testing.T) {
	req, err := http.NewRequest("GET", "https://example.com", nil)
	require.NoError(t, err)
	assert.Nil(t, snapshotRequestBody(req, 1024))
}

func TestSnapshotRequestBody_Limit(t *testing.T) {
	req, err := http.NewRequest("POST", "https://example.com", strings.NewReader(strings.Repeat("b", 100)))
	require.NoError(t, err)
	assert.Len(t, snapshotRequestBody(req, 10), 10)
}
