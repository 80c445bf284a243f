// Package config holds the capture configuration surface: the enabled
// flag, ignored URL prefixes, and the per-classification visibility
// filters. Hosts mutate it through thread-safe setters; the core only
// reads. There is no ambient global state — a Settings object is passed
// explicitly into the tap and consulted by the record store.
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/httpscope/httpscope/pkg/exchange"
)

// DefaultMaxBodyBytes caps how much of a body is captured (10MB). The
// caller always receives the full stream regardless.
const DefaultMaxBodyBytes = 10 * 1024 * 1024

// DefaultRetention is how long persisted body files are kept.
const DefaultRetention = 7 * 24 * time.Hour

// Filters holds one visibility boolean per content-type classification.
// All classifications are visible by default. Filtering is a read-time
// projection only; it never deletes or reorders records.
type Filters struct {
	JSON  bool `json:"json" yaml:"json"`
	XML   bool `json:"xml" yaml:"xml"`
	HTML  bool `json:"html" yaml:"html"`
	Image bool `json:"image" yaml:"image"`
	Other bool `json:"other" yaml:"other"`
}

// AllVisible returns filters with every classification enabled.
func AllVisible() Filters {
	return Filters{JSON: true, XML: true, HTML: true, Image: true, Other: true}
}

// Enabled reports whether records of the given classification are visible.
func (f Filters) Enabled(c exchange.Classification) bool {
	switch c {
	case exchange.ClassificationJSON:
		return f.JSON
	case exchange.ClassificationXML:
		return f.XML
	case exchange.ClassificationHTML:
		return f.HTML
	case exchange.ClassificationImage:
		return f.Image
	default:
		return f.Other
	}
}

// Settings is the runtime capture configuration. All accessors are safe
// for concurrent use.
type Settings struct {
	mu             sync.RWMutex
	enabled        bool
	ignorePrefixes []string
	filters        Filters
	captureDir     string
	maxBodyBytes   int64
	retention      time.Duration
}

// Default returns settings with capture enabled, all classifications
// visible, and the capture directory under the user data dir.
func Default() *Settings {
	return &Settings{
		enabled:      true,
		filters:      AllVisible(),
		captureDir:   DefaultCaptureDir(),
		maxBodyBytes: DefaultMaxBodyBytes,
		retention:    DefaultRetention,
	}
}

// DefaultCaptureDir returns the default capture directory following the
// XDG base directory spec.
func DefaultCaptureDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "httpscope", "captures")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".httpscope", "captures")
	}
	if runtime.GOOS == "darwin" {
		return filepath.Join(home, "Library", "Application Support", "httpscope", "captures")
	}
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("LOCALAPPDATA"); appData != "" {
			return filepath.Join(appData, "httpscope", "captures")
		}
		return filepath.Join(home, "AppData", "Local", "httpscope", "captures")
	}
	return filepath.Join(home, ".local", "share", "httpscope", "captures")
}

// Enabled reports whether capture is on.
func (s *Settings) Enabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.enabled
}

// SetEnabled toggles capture.
func (s *Settings) SetEnabled(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = v
}

// IgnorePrefixes returns a copy of the ignored URL prefix list.
func (s *Settings) IgnorePrefixes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.ignorePrefixes))
	copy(out, s.ignorePrefixes)
	return out
}

// SetIgnorePrefixes replaces the ignored URL prefix list.
func (s *Settings) SetIgnorePrefixes(prefixes []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ignorePrefixes = make([]string, len(prefixes))
	copy(s.ignorePrefixes, prefixes)
}

// Ignored reports whether a URL matches any configured ignore prefix.
func (s *Settings) Ignored(url string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, prefix := range s.ignorePrefixes {
		if strings.HasPrefix(url, prefix) {
			return true
		}
	}
	return false
}

// Filters returns the current visibility filter set.
func (s *Settings) Filters() Filters {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filters
}

// SetFilters replaces the visibility filter set.
func (s *Settings) SetFilters(f Filters) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filters = f
}

// CaptureDir returns the capture directory path.
func (s *Settings) CaptureDir() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.captureDir
}

// SetCaptureDir changes the capture directory path. Takes effect for taps
// constructed afterwards.
func (s *Settings) SetCaptureDir(dir string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.captureDir = dir
}

// MaxBodyBytes returns the per-body capture cap.
func (s *Settings) MaxBodyBytes() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maxBodyBytes
}

// SetMaxBodyBytes changes the per-body capture cap.
func (s *Settings) SetMaxBodyBytes(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxBodyBytes = n
}

// Retention returns the body file retention window.
func (s *Settings) Retention() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.retention
}

// SetRetention changes the body file retention window.
func (s *Settings) SetRetention(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retention = d
}
