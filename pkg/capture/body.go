package capture

import (
	"bytes"
	"io"
	"net/http"
	"sync"
)

// snapshotRequestBody obtains a copy of the request body without consuming
// it, via GetBody. Bodies the client cannot replay (streaming readers with
// no GetBody) are not captured; the request itself is unaffected either
// way.
func snapshotRequestBody(req *http.Request, limit int64) []byte {
	if req.Body == nil || req.Body == http.NoBody || req.GetBody == nil {
		return nil
	}
	rc, err := req.GetBody()
	if err != nil {
		return nil
	}
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(io.LimitReader(rc, limit))
	if err != nil || len(data) == 0 {
		return nil
	}
	return data
}

// captureBody tees a response body into a bounded buffer as the caller
// reads it. The caller sees exactly the bytes and errors the inner body
// produces; capture happens on the side. onDone fires exactly once, at EOF
// or Close, whichever comes first, with the captured bytes and the total
// size observed.
type captureBody struct {
	rc     io.ReadCloser
	max    int64
	onDone func(body []byte, size int64)

	mu   sync.Mutex
	buf  bytes.Buffer
	size int64
	done bool
}

func newCaptureBody(rc io.ReadCloser, max int64, onDone func([]byte, int64)) *captureBody {
	return &captureBody{rc: rc, max: max, onDone: onDone}
}

func (b *captureBody) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	if n > 0 {
		b.mu.Lock()
		b.size += int64(n)
		if room := b.max - int64(b.buf.Len()); room > 0 {
			chunk := p[:n]
			if int64(len(chunk)) > room {
				chunk = chunk[:room]
			}
			b.buf.Write(chunk)
		}
		b.mu.Unlock()
	}
	if err == io.EOF {
		b.finish()
	}
	return n, err
}

func (b *captureBody) Close() error {
	err := b.rc.Close()
	b.finish()
	return err
}

func (b *captureBody) finish() {
	b.mu.Lock()
	if b.done {
		b.mu.Unlock()
		return
	}
	b.done = true
	data := make([]byte, b.buf.Len())
	copy(data, b.buf.Bytes())
	size := b.size
	b.mu.Unlock()

	if b.onDone != nil {
		b.onDone(data, size)
	}
}
