package persist

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// SessionLog is an append-only, line-oriented log of request-sent and
// response-received events, written independently of the structured store
// so it can be tailed externally.
//
// Appends enqueue in memory and return immediately; a single writer
// goroutine drains the queue to disk in enqueue order, so a stalled disk
// never blocks the goroutine driving an exchange.
type SessionLog struct {
	path string

	mu      sync.Mutex
	cond    *sync.Cond
	pending []string
	writing bool
	gen     int
	closed  bool

	fileMu sync.Mutex
	file   *os.File

	done chan struct{}
}

// OpenSessionLog opens (or creates) the log file for appending and starts
// the writer.
func OpenSessionLog(path string) (*SessionLog, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open session log: %w", err)
	}
	l := &SessionLog{path: path, file: file, done: make(chan struct{})}
	l.cond = sync.NewCond(&l.mu)
	go l.run()
	return l, nil
}

// RequestSent appends a request-sent entry.
func (l *SessionLog) RequestSent(traceID, method, url string) {
	l.append(fmt.Sprintf("trace=%s request-sent %s %s", traceID, method, url))
}

// ResponseReceived appends a response-received entry.
func (l *SessionLog) ResponseReceived(traceID string, status int, duration time.Duration, url string) {
	l.append(fmt.Sprintf("trace=%s response-received status=%d duration=%s %s", traceID, status, duration.Round(time.Millisecond), url))
}

// RequestFailed appends a failure entry for an exchange that never got a
// response.
func (l *SessionLog) RequestFailed(traceID, reason, url string) {
	l.append(fmt.Sprintf("trace=%s request-failed reason=%q %s", traceID, reason, url))
}

func (l *SessionLog) append(line string) {
	stamp := time.Now().UTC().Format(time.RFC3339)
	l.mu.Lock()
	if !l.closed {
		l.pending = append(l.pending, stamp+" "+line)
		l.cond.Broadcast()
	}
	l.mu.Unlock()
}

// run is the writer loop. It exits after Close once the queue is drained.
func (l *SessionLog) run() {
	defer close(l.done)
	for {
		l.mu.Lock()
		for len(l.pending) == 0 && !l.closed {
			l.cond.Wait()
		}
		if len(l.pending) == 0 {
			l.mu.Unlock()
			return
		}
		batch := l.pending
		l.pending = nil
		gen := l.gen
		l.writing = true
		l.mu.Unlock()

		l.fileMu.Lock()
		// A Reset that raced this batch bumped gen; its lines predate the
		// truncation and must not reappear in the fresh log.
		l.mu.Lock()
		stale := gen != l.gen
		l.mu.Unlock()
		if !stale && l.file != nil {
			for _, line := range batch {
				_, _ = fmt.Fprintln(l.file, line)
			}
		}
		l.fileMu.Unlock()

		l.mu.Lock()
		l.writing = false
		l.cond.Broadcast()
		l.mu.Unlock()
	}
}

// Flush blocks until every entry enqueued before the call is on disk.
func (l *SessionLog) Flush() {
	l.mu.Lock()
	for len(l.pending) > 0 || l.writing {
		l.cond.Wait()
	}
	l.mu.Unlock()
}

// Reset truncates the log, deleting all prior entries including ones still
// queued.
func (l *SessionLog) Reset() error {
	l.mu.Lock()
	l.pending = nil
	l.gen++
	l.mu.Unlock()

	l.fileMu.Lock()
	defer l.fileMu.Unlock()
	if l.file != nil {
		_ = l.file.Close()
	}
	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_TRUNC|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		l.file = nil
		return fmt.Errorf("failed to reset session log: %w", err)
	}
	l.file = file
	return nil
}

// Close drains the queue, stops the writer, and closes the log file.
func (l *SessionLog) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.cond.Broadcast()
	l.mu.Unlock()
	<-l.done

	l.fileMu.Lock()
	defer l.fileMu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
