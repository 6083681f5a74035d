// Package transport relays cancellable, chunked HTTP requests to in-process
// listeners as ordered SSE frames.
//
// Every request opened through a Transport produces zero or more chunk
// signals followed by exactly one terminal signal (end or error), after which
// every listener registered for that request id is removed.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
)

// SignalKind discriminates the signals delivered for a request.
type SignalKind string

const (
	SignalChunk SignalKind = "chunk"
	SignalEnd   SignalKind = "end"
	SignalError SignalKind = "error"
)

// Signal is one notification for a request. Chunk signals carry one complete
// SSE frame; error signals carry a *TransportError.
type Signal struct {
	RequestID string
	Kind      SignalKind
	Frame     string
	Err       error
}

// Terminal reports whether the signal ends the request.
func (s Signal) Terminal() bool {
	return s.Kind == SignalEnd || s.Kind == SignalError
}

// Request describes one outbound streaming call.
type Request struct {
	ID      string
	URL     string
	Method  string
	Headers map[string]string
	Body    []byte
}

// Listener receives signals for a request id. Listeners run on the reader
// goroutine and must not call back into the Transport synchronously.
type Listener func(Signal)

type inflight struct {
	cancel  context.CancelFunc
	aborted atomic.Bool
	once    sync.Once
}

// Transport owns in-flight requests and their listeners.
type Transport struct {
	client     *http.Client
	logger     *slog.Logger
	readBuffer int
	maxErrBody int64

	mu        sync.Mutex
	listeners map[string]map[uint64]Listener
	active    map[string]*inflight
	nextID    uint64
}

// Option configures a Transport.
type Option func(*Transport)

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(client *http.Client) Option {
	return func(t *Transport) {
		if client != nil {
			t.client = client
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transport) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// New creates a Transport.
func New(opts ...Option) *Transport {
	t := &Transport{
		client:     http.DefaultClient,
		logger:     slog.Default(),
		readBuffer: 32 * 1024,
		maxErrBody: 4 * 1024,
		listeners:  make(map[string]map[uint64]Listener),
		active:     make(map[string]*inflight),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With("component", "transport")
	return t
}

// Listen registers fn for signals of requestID. The returned function removes
// the listener; calling it after the request terminated is a no-op.
func (t *Transport) Listen(requestID string, fn Listener) func() {
	t.mu.Lock()
	t.nextID++
	id := t.nextID
	set, ok := t.listeners[requestID]
	if !ok {
		set = make(map[uint64]Listener)
		t.listeners[requestID] = set
	}
	set[id] = fn
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if set, ok := t.listeners[requestID]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(t.listeners, requestID)
			}
		}
	}
}

// Subscribe registers a channel-backed listener. Signals block the reader
// until consumed or until the returned release function is called, which
// gives the stream natural backpressure.
func (t *Transport) Subscribe(requestID string, buffer int) (<-chan Signal, func()) {
	ch := make(chan Signal, buffer)
	done := make(chan struct{})
	remove := t.Listen(requestID, func(s Signal) {
		select {
		case ch <- s:
		case <-done:
		}
	})
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			close(done)
			remove()
		})
	}
}

// ListenerCount returns the number of listeners registered for requestID.
func (t *Transport) ListenerCount(requestID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.listeners[requestID])
}

// Active returns the number of requests that have not yet terminated.
func (t *Transport) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active)
}

// Open starts a request. It returns once response headers arrive; frames are
// then delivered asynchronously. Connection and status failures are returned
// as *TransportError and also delivered as the terminal error signal.
func (t *Transport) Open(ctx context.Context, req Request) error {
	if req.Method == "" {
		req.Method = http.MethodPost
	}

	reqCtx, cancel := context.WithCancel(ctx)
	fl := &inflight{cancel: cancel}

	t.mu.Lock()
	if _, exists := t.active[req.ID]; exists {
		t.mu.Unlock()
		cancel()
		return newTransportError(req, 0, "", ErrDuplicateRequest)
	}
	t.active[req.ID] = fl
	t.mu.Unlock()

	httpReq, err := http.NewRequestWithContext(reqCtx, req.Method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		te := newTransportError(req, 0, "", fmt.Errorf("build request: %w", err))
		t.finish(req.ID, fl, Signal{RequestID: req.ID, Kind: SignalError, Err: te})
		return te
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		te := newTransportError(req, 0, "", t.cause(fl, err))
		t.finish(req.ID, fl, Signal{RequestID: req.ID, Kind: SignalError, Err: te})
		return te
	}

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, t.maxErrBody))
		resp.Body.Close()
		te := newTransportError(req, resp.StatusCode, string(body), nil)
		t.finish(req.ID, fl, Signal{RequestID: req.ID, Kind: SignalError, Err: te})
		return te
	}

	go t.pump(req, fl, resp.Body)
	return nil
}

// Abort terminates the request's connection. The terminal signal is
// delivered by the reader. It returns false when the request is not in flight.
func (t *Transport) Abort(requestID string) bool {
	t.mu.Lock()
	fl, ok := t.active[requestID]
	t.mu.Unlock()
	if !ok {
		return false
	}
	fl.aborted.Store(true)
	fl.cancel()
	return true
}

func (t *Transport) pump(req Request, fl *inflight, body io.ReadCloser) {
	defer body.Close()

	var framer Framer
	buf := make([]byte, t.readBuffer)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			for _, frame := range framer.Push(buf[:n]) {
				t.deliver(Signal{RequestID: req.ID, Kind: SignalChunk, Frame: frame})
			}
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			if frame, ok := framer.Flush(); ok {
				t.deliver(Signal{RequestID: req.ID, Kind: SignalChunk, Frame: frame})
			}
			t.finish(req.ID, fl, Signal{RequestID: req.ID, Kind: SignalEnd})
			return
		}
		te := newTransportError(req, 0, "", t.cause(fl, err))
		t.finish(req.ID, fl, Signal{RequestID: req.ID, Kind: SignalError, Err: te})
		return
	}
}

func (t *Transport) cause(fl *inflight, err error) error {
	if fl.aborted.Load() {
		return ErrAborted
	}
	return err
}

func (t *Transport) deliver(sig Signal) {
	t.mu.Lock()
	set := t.listeners[sig.RequestID]
	fns := make([]Listener, 0, len(set))
	for _, fn := range set {
		fns = append(fns, fn)
	}
	t.mu.Unlock()

	for _, fn := range fns {
		fn(sig)
	}
}

// finish delivers the terminal signal exactly once and drops all state for
// the request.
func (t *Transport) finish(requestID string, fl *inflight, sig Signal) {
	fl.once.Do(func() {
		t.deliver(sig)
		fl.cancel()

		t.mu.Lock()
		delete(t.listeners, requestID)
		if t.active[requestID] == fl {
			delete(t.active, requestID)
		}
		t.mu.Unlock()

		if sig.Kind == SignalError {
			t.logger.Debug("request terminated with error", "request_id", requestID, "error", sig.Err)
		}
	})
}
