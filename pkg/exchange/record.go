// Package exchange defines the data model for one captured HTTP exchange:
// the request facet frozen at admission, the response facet filled in
// exactly once on completion, and lazy access to the persisted bodies.
package exchange

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/httpscope/httpscope/internal/id"
)

// State is the completion state of a record. Terminal states are never
// reopened.
type State string

const (
	StatePending   State = "pending"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Direction tags a persisted body file.
type Direction string

const (
	DirectionRequest  Direction = "request"
	DirectionResponse Direction = "response"
)

// ErrAlreadyTerminal is returned when a completion is applied twice.
var ErrAlreadyTerminal = errors.New("record already in a terminal state")

// BodySource reads persisted body files on demand. The persist layer
// implements it; a missing file yields nil.
type BodySource interface {
	ReadBody(name string) []byte
}

// Record is one intercepted request/response pair.
//
// The request facet is immutable after construction. The response facet is
// guarded by a mutex and set exactly once, atomically with the completion
// state, by the interceptor that owns the record.
type Record struct {
	// ID is the opaque token identifying this exchange. Body file names
	// are derived from it.
	ID string

	Method          string
	RequestHeaders  http.Header
	CachePolicy     string
	Timeout         time.Duration
	RequestBodySize int64

	// Curl is the reproduction command, precomputed from request data.
	Curl string

	CreatedAt time.Time

	mu             sync.RWMutex
	url            string
	state          State
	failReason     string
	statusCode     int
	hasStatus      bool
	respHeaders    http.Header
	classification Classification
	respBodySize   int64
	completedAt    time.Time

	source BodySource
}

// New creates a pending record from an admitted request. body is the
// request body snapshot used for the cURL command and persistence; it may
// be nil when the body could not be replayed non-destructively.
func New(req *http.Request, body []byte) *Record {
	cachePolicy := req.Header.Get("Cache-Control")
	if cachePolicy == "" {
		cachePolicy = "default"
	}

	var timeout time.Duration
	if deadline, ok := req.Context().Deadline(); ok {
		timeout = time.Until(deadline).Round(time.Millisecond)
	}

	size := req.ContentLength
	if size < 0 {
		size = int64(len(body))
	}

	url := req.URL.String()
	return &Record{
		ID:              id.Short(),
		Method:          req.Method,
		RequestHeaders:  req.Header.Clone(),
		CachePolicy:     cachePolicy,
		Timeout:         timeout,
		RequestBodySize: size,
		Curl:            CurlCommand(req.Method, url, req.Header, body),
		CreatedAt:       time.Now(),
		url:             url,
		state:           StatePending,
	}
}

// SetBodySource attaches the persistence layer used for lazy body reads.
func (r *Record) SetBodySource(src BodySource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.source = src
}

// URL returns the exchange URL. A redirected exchange reports the final
// resolved location.
func (r *Record) URL() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.url
}

// Redirect points the record at a new location. Only the interceptor calls
// this, and only while the record is pending; the same record keeps
// tracking the chain so redirect hops are not separately recorded.
func (r *Record) Redirect(url string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StatePending {
		return
	}
	r.url = url
}

// Complete finalizes the record with a response. The classification is
// computed here from the final response headers and is immutable after.
func (r *Record) Complete(status int, headers http.Header, bodySize int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StatePending {
		return ErrAlreadyTerminal
	}
	r.state = StateCompleted
	r.statusCode = status
	r.hasStatus = true
	r.respHeaders = headers.Clone()
	r.classification = Classify(headers.Get("Content-Type"))
	r.respBodySize = bodySize
	r.completedAt = time.Now()
	return nil
}

// Fail finalizes the record with a transport failure. Response facet
// fields stay unset.
func (r *Record) Fail(reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StatePending {
		return ErrAlreadyTerminal
	}
	r.state = StateFailed
	r.failReason = reason
	r.completedAt = time.Now()
	return nil
}

// State returns the record's completion state.
func (r *Record) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// FailReason returns the failure reason for a failed record.
func (r *Record) FailReason() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.failReason
}

// StatusCode returns the response status and whether one was received.
func (r *Record) StatusCode() (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.statusCode, r.hasStatus
}

// ResponseHeaders returns the captured response headers, nil while pending.
func (r *Record) ResponseHeaders() http.Header {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.respHeaders
}

// Classification returns the content-type bucket. Records without a
// response classify as Other.
func (r *Record) Classification() Classification {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.classification == "" {
		return ClassificationOther
	}
	return r.classification
}

// ResponseBodySize returns the captured response body size in bytes.
func (r *Record) ResponseBodySize() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.respBodySize
}

// CompletedAt returns the completion time and whether the record is
// terminal.
func (r *Record) CompletedAt() (time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.completedAt, r.state != StatePending
}

// Duration is the elapsed time from creation to completion, zero while
// pending.
func (r *Record) Duration() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.state == StatePending {
		return 0
	}
	return r.completedAt.Sub(r.CreatedAt)
}

// BodyFileName derives the persisted body file name for one direction.
func (r *Record) BodyFileName(dir Direction) string {
	return BodyFileName(dir, r.CreatedAt, r.ID)
}

// BodyFileName builds the on-disk name <direction>_<timestamp>_<token>.
func BodyFileName(dir Direction, createdAt time.Time, token string) string {
	return fmt.Sprintf("%s_%d_%s", dir, createdAt.Unix(), token)
}

// RequestBody lazily reads and formats the persisted request body.
func (r *Record) RequestBody() string {
	return r.readBody(DirectionRequest)
}

// ResponseBody lazily reads and formats the persisted response body.
func (r *Record) ResponseBody() string {
	return r.readBody(DirectionResponse)
}

func (r *Record) readBody(dir Direction) string {
	r.mu.RLock()
	src := r.source
	r.mu.RUnlock()
	if src == nil {
		return ""
	}
	return FormatBody(src.ReadBody(r.BodyFileName(dir)), r.Classification())
}
