// Package persist provides file-backed storage for captured bodies and the
// append-only session log, independent of in-memory record lifetime.
// Operations are best-effort: a missing file reads as empty, a failed write
// is logged and swallowed. Instrumentation storage must never surface
// errors into the host's traffic.
package persist

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
	"unicode/utf8"

	"github.com/httpscope/httpscope/pkg/logging"
)

// SessionLogName is the session log file inside the capture directory. It
// is exempt from the retention sweep.
const SessionLogName = "session.log"

// Dir owns a capture directory: per-exchange body files plus the session
// log. It is safe for concurrent use.
type Dir struct {
	path   string
	logger *slog.Logger
	log    *SessionLog
}

// Open creates the capture directory if needed and returns a Dir for it.
func Open(path string, logger *slog.Logger) (*Dir, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	if err := os.MkdirAll(path, 0700); err != nil {
		return nil, fmt.Errorf("failed to create capture directory: %w", err)
	}
	log, err := OpenSessionLog(filepath.Join(path, SessionLogName))
	if err != nil {
		return nil, err
	}
	return &Dir{path: path, logger: logger, log: log}, nil
}

// Path returns the capture directory path.
func (d *Dir) Path() string { return d.path }

// Log returns the session log appender.
func (d *Dir) Log() *SessionLog { return d.log }

// WriteBody persists one body under the given file name. Valid UTF-8 is
// written verbatim; binary content is base64-encoded first. Failures are
// logged and swallowed.
func (d *Dir) WriteBody(name string, data []byte) {
	if len(data) == 0 {
		return
	}
	if !utf8.Valid(data) {
		data = []byte(base64.StdEncoding.EncodeToString(data))
	}
	if err := os.WriteFile(filepath.Join(d.path, name), data, 0600); err != nil {
		d.logger.Warn("body write failed", "file", name, "error", err)
	}
}

// ReadBody reads a persisted body. A missing or unreadable file yields nil.
func (d *Dir) ReadBody(name string) []byte {
	data, err := os.ReadFile(filepath.Join(d.path, name))
	if err != nil {
		return nil
	}
	return data
}

// Remove deletes one body file. Already-missing files are ignored.
func (d *Dir) Remove(name string) {
	err := os.Remove(filepath.Join(d.path, name))
	if err != nil && !os.IsNotExist(err) {
		d.logger.Warn("body remove failed", "file", name, "error", err)
	}
}

// Sweep deletes every body file whose modification time is strictly older
// than the retention window. Files at or under the boundary are kept, and
// the session log is never swept. Returns the number of files removed.
func (d *Dir) Sweep(retention time.Duration) int {
	entries, err := os.ReadDir(d.path)
	if err != nil {
		d.logger.Warn("retention sweep failed", "dir", d.path, "error", err)
		return 0
	}

	cutoff := time.Now().Add(-retention)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || entry.Name() == SessionLogName {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(d.path, entry.Name())); err == nil {
				removed++
			}
		}
	}
	if removed > 0 {
		d.logger.Info("retention sweep removed stale bodies", "count", removed)
	}
	return removed
}

// Clear removes the session log and the given body files, reopening an
// empty session log afterwards. Missing files are ignored.
func (d *Dir) Clear(bodyFiles []string) {
	for _, name := range bodyFiles {
		d.Remove(name)
	}
	if err := d.log.Reset(); err != nil {
		d.logger.Warn("session log reset failed", "error", err)
	}
}

// Close releases the session log file handle.
func (d *Dir) Close() error {
	return d.log.Close()
}
