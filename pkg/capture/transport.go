package capture

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/httpscope/httpscope/pkg/exchange"
)

// SentinelHeader marks a request as internal to the instrumentation layer.
// Marked requests are never captured (preventing recursive self-capture)
// and the marker is stripped before the request reaches the wire.
const SentinelHeader = "X-Httpscope-Internal"

// maxRedirects mirrors net/http's default redirect policy.
const maxRedirects = 10

// redirectFlushAge bounds how long an unclaimed redirect chain may sit in
// the correlation map before it is finalized with its last redirect
// status. A client that follows redirects claims the entry within
// milliseconds; an entry this old belongs to a chain the client stopped
// following.
const redirectFlushAge = 30 * time.Second

var errTooManyRedirects = errors.New("stopped after 10 redirects")

// Transport is the interception hook: an http.RoundTripper that proxies
// requests through an inner transport with zero observable difference to
// the caller, capturing an exchange record on the side.
//
// Redirect hops issued by an http.Client re-enter RoundTrip as separate
// calls; a chain is collapsed into a single record by correlating each hop
// with the response it was derived from (req.Response pointer identity).
type Transport struct {
	inner http.RoundTripper
	tap   *Tap

	mu        sync.Mutex
	redirects map[*http.Response]*pendingExchange
}

// pendingExchange tracks one admitted exchange between admission and
// finalization, possibly across redirect hops.
type pendingExchange struct {
	rec     *exchange.Record
	traceID string
	reqBody []byte

	// Last redirect response seen, used to finalize chains the client
	// declines to follow.
	lastStatus  int
	lastHeaders http.Header
	registered  time.Time
}

func newTransport(inner http.RoundTripper, tap *Tap) *Transport {
	if inner == nil {
		inner = http.DefaultTransport
	}
	return &Transport{
		inner:     inner,
		tap:       tap,
		redirects: make(map[*http.Response]*pendingExchange),
	}
}

// RoundTrip implements http.RoundTripper. The response body, status, and
// headers handed back are exactly the inner transport's; transport errors
// are returned unmodified and never retried.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !t.admit(req) {
		return t.inner.RoundTrip(stripSentinel(req))
	}

	p := t.claimContinuation(req)
	if p != nil {
		p.rec.Redirect(req.URL.String())
	} else {
		body := snapshotRequestBody(req, t.tap.settings.MaxBodyBytes())
		rec := exchange.New(req, body)
		rec.SetBodySource(t.tap.dir)
		p = &pendingExchange{rec: rec, traceID: uuid.NewString(), reqBody: body}
		t.tap.dir.Log().RequestSent(p.traceID, req.Method, rec.URL())
	}

	resp, err := t.inner.RoundTrip(req)
	if err != nil {
		t.finishFailed(p, err.Error())
		return resp, err
	}

	if isRedirect(resp) {
		p.lastStatus = resp.StatusCode
		p.lastHeaders = resp.Header.Clone()
		p.registered = time.Now()
		t.mu.Lock()
		t.redirects[resp] = p
		t.mu.Unlock()
		return resp, nil
	}

	resp.Body = newCaptureBody(resp.Body, t.tap.settings.MaxBodyBytes(), func(body []byte, size int64) {
		if p.rec.Complete(resp.StatusCode, resp.Header, size) == nil {
			t.finalize(p, body)
		}
	})
	return resp, nil
}

// admit applies the capture admission test: capture enabled, no sentinel
// marker, http(s) scheme, and no ignore-prefix match.
func (t *Transport) admit(req *http.Request) bool {
	s := t.tap.settings
	if !s.Enabled() {
		return false
	}
	if req.Header.Get(SentinelHeader) != "" {
		return false
	}
	if req.URL == nil {
		return false
	}
	if scheme := req.URL.Scheme; scheme != "http" && scheme != "https" {
		return false
	}
	return !s.Ignored(req.URL.String())
}

// claimContinuation matches a redirect hop to the chain it continues.
func (t *Transport) claimContinuation(req *http.Request) *pendingExchange {
	if req.Response == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.redirects[req.Response]
	if !ok {
		return nil
	}
	delete(t.redirects, req.Response)
	return p
}

// checkRedirect is installed on clients built by Tap.Client. It reproduces
// the default redirect policy while finalizing the record for chains that
// hit the hop limit.
func (t *Transport) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		if p := t.claimContinuation(req); p != nil {
			t.finishFailed(p, errTooManyRedirects.Error())
		}
		return errTooManyRedirects
	}
	return nil
}

func (t *Transport) finishFailed(p *pendingExchange, reason string) {
	if p.rec.Fail(reason) == nil {
		t.finalize(p, nil)
	}
}

// finalize persists bodies, writes the session log entry, and appends the
// record to the store. It runs on a background goroutine so disk I/O never
// blocks the thread driving the original request, and any error stays
// inside the persistence layer.
func (t *Transport) finalize(p *pendingExchange, respBody []byte) {
	tap := t.tap
	go func() {
		rec := p.rec
		if len(p.reqBody) > 0 {
			tap.dir.WriteBody(rec.BodyFileName(exchange.DirectionRequest), p.reqBody)
		}
		if len(respBody) > 0 {
			tap.dir.WriteBody(rec.BodyFileName(exchange.DirectionResponse), respBody)
		}
		switch rec.State() {
		case exchange.StateCompleted:
			status, _ := rec.StatusCode()
			tap.dir.Log().ResponseReceived(p.traceID, status, rec.Duration(), rec.URL())
		case exchange.StateFailed:
			tap.dir.Log().RequestFailed(p.traceID, rec.FailReason(), rec.URL())
		}
		tap.store.Append(rec)
	}()
}

// flushStale finalizes redirect chains the client stopped following —
// http.ErrUseLastResponse, or a custom CheckRedirect that aborted — with
// their last redirect status, so unclaimed entries cannot accumulate in a
// long-lived host. The tap calls it periodically while started.
func (t *Transport) flushStale(maxAge time.Duration) {
	cutoff := time.Now().Add(-maxAge)

	t.mu.Lock()
	var stale []*pendingExchange
	for resp, p := range t.redirects {
		if p.registered.Before(cutoff) {
			delete(t.redirects, resp)
			stale = append(stale, p)
		}
	}
	t.mu.Unlock()

	for _, p := range stale {
		if p.rec.Complete(p.lastStatus, p.lastHeaders, 0) == nil {
			t.finalize(p, nil)
		}
	}
}

// flushPending finalizes redirect-chain records the client never followed
// to a terminal response. Called on tap shutdown.
func (t *Transport) flushPending() {
	t.mu.Lock()
	pending := make([]*pendingExchange, 0, len(t.redirects))
	for resp, p := range t.redirects {
		delete(t.redirects, resp)
		pending = append(pending, p)
	}
	t.mu.Unlock()

	for _, p := range pending {
		if p.rec.Complete(p.lastStatus, p.lastHeaders, 0) == nil {
			t.finalize(p, nil)
		}
	}
}

// stripSentinel removes the internal marker so it never reaches the wire.
func stripSentinel(req *http.Request) *http.Request {
	if req.Header.Get(SentinelHeader) == "" {
		return req
	}
	clone := req.Clone(req.Context())
	clone.Header.Del(SentinelHeader)
	return clone
}

// isRedirect reports whether resp is a redirect the client may follow.
func isRedirect(resp *http.Response) bool {
	switch resp.StatusCode {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return resp.Header.Get("Location") != ""
	default:
		return false
	}
}
