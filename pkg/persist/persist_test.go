package persist

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDir(t *testing.T) *Dir {
	t.Helper()
	d, err := Open(t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestOpen_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "captures")
	d, err := Open(path, nil)
	require.NoError(t, err)
	defer func() { _ = d.Close() }()

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	// Session log exists immediately so external tailers can attach.
	_, err = os.Stat(filepath.Join(path, SessionLogName))
	assert.NoError(t, err)
}

func TestWriteBody_TextRoundTrip(t *testing.T) {
	d := newTestDir(t)

	d.WriteBody("request_1700000000_abc", []byte(`{"name":"a"}`))

	got := d.ReadBody("request_1700000000_abc")
	assert.Equal(t, `{"name":"a"}`, string(got))
}

func TestWriteBody_BinaryBase64Encoded(t *testing.T) {
	d := newTestDir(t)
	raw := []byte{0x89, 0x50, 0x4e, 0x47, 0x00, 0xff}

	d.WriteBody("response_1700000000_img", raw)

	stored := d.ReadBody("response_1700000000_img")
	decoded, err := base64.StdEncoding.DecodeString(string(stored))
	require.NoError(t, err, "binary bodies must be stored base64-encoded")
	assert.Equal(t, raw, decoded)
}

func TestWriteBody_EmptyIsNoop(t *testing.T) {
	d := newTestDir(t)
	d.WriteBody("request_1_none", nil)

	_, err := os.Stat(filepath.Join(d.Path(), "request_1_none"))
	assert.True(t, os.IsNotExist(err))
}

func TestReadBody_MissingYieldsEmpty(t *testing.T) {
	d := newTestDir(t)
	assert.Nil(t, d.ReadBody("request_1_missing"))
}

func TestRemove_MissingIgnored(t *testing.T) {
	d := newTestDir(t)
	d.Remove("never_existed") // must not panic or error
}

func TestSweep_RetentionBoundary(t *testing.T) {
	d := newTestDir(t)
	retention := 7 * 24 * time.Hour

	stale := filepath.Join(d.Path(), "request_1_stale")
	fresh := filepath.Join(d.Path(), "request_2_fresh")
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0600))
	require.NoError(t, os.WriteFile(fresh, []byte("new"), 0600))

	// One second past the boundary is deleted; one hour inside it is kept.
	staleTime := time.Now().Add(-retention - time.Second)
	freshTime := time.Now().Add(-retention + time.Hour)
	require.NoError(t, os.Chtimes(stale, staleTime, staleTime))
	require.NoError(t, os.Chtimes(fresh, freshTime, freshTime))

	removed := d.Sweep(retention)

	assert.Equal(t, 1, removed)
	_, err := os.Stat(stale)
	assert.True(t, os.IsNotExist(err), "stale file should be swept")
	_, err = os.Stat(fresh)
	assert.NoError(t, err, "fresh file should be retained")
}

func TestSweep_SparesSessionLog(t *testing.T) {
	d := newTestDir(t)
	d.Log().RequestSent("t1", "GET", "https://example.com")
	d.Log().Flush()

	logPath := filepath.Join(d.Path(), SessionLogName)
	old := time.Now().Add(-30 * 24 * time.Hour)
	require.NoError(t, os.Chtimes(logPath, old, old))

	d.Sweep(7 * 24 * time.Hour)

	_, err := os.Stat(logPath)
	assert.NoError(t, err, "session log must survive the sweep")
}

func TestClear_RemovesBodiesAndResetsLog(t *testing.T) {
	d := newTestDir(t)
	d.WriteBody("request_1_a", []byte("one"))
	d.WriteBody("response_1_a", []byte("two"))
	d.Log().RequestSent("t1", "GET", "https://example.com")

	d.Clear([]string{"request_1_a", "response_1_a", "request_9_gone"})

	assert.Nil(t, d.ReadBody("request_1_a"))
	assert.Nil(t, d.ReadBody("response_1_a"))

	data, err := os.ReadFile(filepath.Join(d.Path(), SessionLogName))
	require.NoError(t, err)
	assert.Empty(t, data, "session log should be truncated")

	// The log stays usable after a clear.
	d.Log().RequestSent("t2", "GET", "https://example.com/after")
	d.Log().Flush()
	data, err = os.ReadFile(filepath.Join(d.Path(), SessionLogName))
	require.NoError(t, err)
	assert.Contains(t, string(data), "https://example.com/after")
}

func TestSessionLog_LineFormat(t *testing.T) {
	d := newTestDir(t)
	d.Log().RequestSent("trace-1", "GET", "https://api.example.com/users")
	d.Log().ResponseReceived("trace-1", 200, 125*time.Millisecond, "https://api.example.com/users")
	d.Log().RequestFailed("trace-2", "connection reset", "https://api.example.com/items")
	d.Log().Flush()

	data, err := os.ReadFile(filepath.Join(d.Path(), SessionLogName))
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "trace=trace-1 request-sent GET https://api.example.com/users")
	assert.Contains(t, lines[1], "trace=trace-1 response-received status=200 duration=125ms")
	assert.Contains(t, lines[2], `trace=trace-2 request-failed reason="connection reset"`)
	for _, line := range lines {
		// Every line starts with an RFC3339 timestamp.
		stamp := strings.SplitN(line, " ", 2)[0]
		_, err := time.Parse(time.RFC3339, stamp)
		assert.NoError(t, err, "line %q", line)
	}
}

func TestSessionLog_ConcurrentAppends(t *testing.T) {
	d := newTestDir(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				d.Log().RequestSent("t", "GET", "https://example.com")
			}
		}()
	}
	wg.Wait()
	d.Log().Flush()

	data, err := os.ReadFile(filepath.Join(d.Path(), SessionLogName))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 500)
	for _, line := range lines {
		assert.Contains(t, line, "request-sent", "interleaved write detected: %q", line)
	}
}

func TestSessionLog_AppendDoesNotWaitForDisk(t *testing.T) {
	d := newTestDir(t)

	// Appends only enqueue; the enqueue order is the on-disk order once
	// flushed, so lifecycle lines never invert within an exchange.
	for i := 0; i < 100; i++ {
		d.Log().RequestSent("t-order", "GET", fmt.Sprintf("https://example.com/%d", i))
		d.Log().ResponseReceived("t-order", 200, time.Millisecond, fmt.Sprintf("https://example.com/%d", i))
	}
	d.Log().Flush()

	data, err := os.ReadFile(filepath.Join(d.Path(), SessionLogName))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 200)
	for i := 0; i < 200; i += 2 {
		assert.Contains(t, lines[i], "request-sent", "line %d", i)
		assert.Contains(t, lines[i+1], "response-received", "line %d", i+1)
	}
}

func TestSessionLog_ResetDropsQueuedEntries(t *testing.T) {
	d := newTestDir(t)

	for i := 0; i < 50; i++ {
		d.Log().RequestSent("t-drop", "GET", "https://example.com/before")
	}
	require.NoError(t, d.Log().Reset())
	d.Log().RequestSent("t-keep", "GET", "https://example.com/after")
	d.Log().Flush()

	data, err := os.ReadFile(filepath.Join(d.Path(), SessionLogName))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "example.com/before",
		"entries queued before a reset must not resurface")
	assert.Contains(t, string(data), "example.com/after")
}
