// Package capture implements the traffic interceptor: the hook that
// observes outbound HTTP(S) exchanges issued through an instrumented
// client and drives record creation, persistence, and the record store.
//
// Interception is an explicit registration step the host opts into —
// wrap a transport, take a prepared client, or install over
// http.DefaultTransport once at startup. Callers cannot detect the hook:
// responses, errors, and timing-visible behavior pass through unmodified,
// and a capture-side failure is only ever logged.
package capture

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/httpscope/httpscope/pkg/config"
	"github.com/httpscope/httpscope/pkg/exchange"
	"github.com/httpscope/httpscope/pkg/logging"
	"github.com/httpscope/httpscope/pkg/persist"
	"github.com/httpscope/httpscope/pkg/store"
)

// defaultIPEndpoint serves the public IP lookup helper.
const defaultIPEndpoint = "https://api.ipify.org"

// Options configures a Tap. Zero values get sensible defaults.
type Options struct {
	// Settings is the capture configuration. Defaults to config.Default().
	Settings *config.Settings

	// Store receives finished records. Defaults to a fresh store.
	Store *store.Store

	// Logger receives capture-side diagnostics. Defaults to a no-op
	// logger; capture must stay silent unless asked otherwise.
	Logger *slog.Logger

	// Transport is the inner RoundTripper requests are proxied through.
	// Defaults to http.DefaultTransport.
	Transport http.RoundTripper

	// IPEndpoint overrides the public IP lookup URL.
	IPEndpoint string
}

// Tap owns one capture pipeline: configuration, record store, capture
// directory, and the interception transport.
type Tap struct {
	settings  *config.Settings
	store     *store.Store
	dir       *persist.Dir
	logger    *slog.Logger
	transport *Transport

	ipEndpoint string

	mu         sync.Mutex
	transports []*Transport
	started    bool
	stop       chan struct{}

	installOnce sync.Once
}

// New builds a Tap and opens its capture directory.
func New(opts Options) (*Tap, error) {
	settings := opts.Settings
	if settings == nil {
		settings = config.Default()
	}
	st := opts.Store
	if st == nil {
		st = store.New()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	ipEndpoint := opts.IPEndpoint
	if ipEndpoint == "" {
		ipEndpoint = defaultIPEndpoint
	}

	dir, err := persist.Open(settings.CaptureDir(), logger)
	if err != nil {
		return nil, err
	}

	tap := &Tap{
		settings:   settings,
		store:      st,
		dir:        dir,
		logger:     logger,
		ipEndpoint: ipEndpoint,
	}
	tap.transport = newTransport(opts.Transport, tap)
	tap.transports = []*Transport{tap.transport}
	return tap, nil
}

// Start runs the retention sweep over the capture directory. Idempotent.
func (t *Tap) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return nil
	}
	t.started = true
	t.stop = make(chan struct{})
	go t.flushLoop(t.stop)
	removed := t.dir.Sweep(t.settings.Retention())
	t.logger.Info("capture started", "dir", t.dir.Path(), "swept", removed)
	return nil
}

// flushLoop periodically finalizes redirect chains no client came back
// for, keeping the correlation maps bounded in long-lived hosts.
func (t *Tap) flushLoop(stop chan struct{}) {
	ticker := time.NewTicker(redirectFlushAge)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.mu.Lock()
			transports := make([]*Transport, len(t.transports))
			copy(transports, t.transports)
			t.mu.Unlock()
			for _, tr := range transports {
				tr.flushStale(redirectFlushAge)
			}
		case <-stop:
			return
		}
	}
}

// Stop finalizes any unresolved redirect chains and closes the session
// log.
func (t *Tap) Stop() error {
	t.mu.Lock()
	transports := make([]*Transport, len(t.transports))
	copy(transports, t.transports)
	t.started = false
	if t.stop != nil {
		close(t.stop)
		t.stop = nil
	}
	t.mu.Unlock()

	for _, tr := range transports {
		tr.flushPending()
	}
	return t.dir.Close()
}

// Transport returns the tap's RoundTripper for callers that wire clients
// themselves.
func (t *Tap) Transport() http.RoundTripper {
	return t.transport
}

// Wrap returns a capturing RoundTripper around rt, sharing this tap's
// configuration, store, and capture directory.
func (t *Tap) Wrap(rt http.RoundTripper) http.RoundTripper {
	tr := newTransport(rt, t)
	t.mu.Lock()
	t.transports = append(t.transports, tr)
	t.mu.Unlock()
	return tr
}

// Client returns an http.Client instrumented by this tap. Its redirect
// policy matches net/http's default while keeping redirect chains
// collapsed into single records.
func (t *Tap) Client() *http.Client {
	return &http.Client{
		Transport:     t.transport,
		CheckRedirect: t.transport.checkRedirect,
	}
}

// InstallDefault wraps http.DefaultTransport with this tap, once. Every
// client that relies on the default transport is captured from then on.
func (t *Tap) InstallDefault() {
	t.installOnce.Do(func() {
		http.DefaultTransport = t.Wrap(http.DefaultTransport)
	})
}

// Store returns the record store.
func (t *Tap) Store() *store.Store {
	return t.store
}

// Settings returns the capture configuration.
func (t *Tap) Settings() *config.Settings {
	return t.settings
}

// Subscribe registers a live consumer on the record store.
func (t *Tap) Subscribe() (<-chan []*exchange.Record, func()) {
	return t.store.Subscribe()
}

// Visible returns the records allowed by the current filter set.
func (t *Tap) Visible() []*exchange.Record {
	return t.store.Visible(t.settings.Filters())
}

// ClearAll deletes the session log and every body file referenced by
// records in the store, then empties the store.
func (t *Tap) ClearAll() {
	t.dir.Clear(t.store.BodyFiles())
	t.store.Clear()
	t.logger.Info("capture store cleared")
}

// PublicIP looks up the host's public IP address. The lookup request
// carries the sentinel marker so the tap never captures its own traffic.
func (t *Tap) PublicIP(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.ipEndpoint, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set(SentinelHeader, "1")

	resp, err := t.transport.RoundTrip(req)
	if err != nil {
		return "", fmt.Errorf("public ip lookup failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("public ip lookup failed: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 256))
	if err != nil {
		return "", fmt.Errorf("public ip lookup failed: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
