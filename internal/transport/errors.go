package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrAborted is the cause carried by the terminal signal of an aborted request.
	ErrAborted = errors.New("request aborted")

	// ErrDuplicateRequest is returned by Open when the request id is already in flight.
	ErrDuplicateRequest = errors.New("request id already in flight")
)

// TransportError is a network, timeout, or HTTP status failure. All request
// context it carries is masked so it can be logged or shown directly.
type TransportError struct {
	RequestID  string
	Method     string
	URL        string
	Headers    map[string]string
	StatusCode int
	// Body is a bounded snippet of the response body for status failures.
	Body  string
	Cause error
}

func (e *TransportError) Error() string {
	msg := fmt.Sprintf("transport %s %s", e.Method, e.URL)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": status %d", e.StatusCode)
	}
	if e.Body != "" {
		msg += ": " + e.Body
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}

// Timeout reports whether the failure was a deadline or network timeout.
func (e *TransportError) Timeout() bool {
	if errors.Is(e.Cause, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(e.Cause, &netErr) && netErr.Timeout()
}

// Aborted reports whether the request was terminated by Abort or caller cancellation.
func (e *TransportError) Aborted() bool {
	return errors.Is(e.Cause, ErrAborted) || errors.Is(e.Cause, context.Canceled)
}

func newTransportError(req Request, status int, body string, cause error) *TransportError {
	return &TransportError{
		RequestID:  req.ID,
		Method:     req.Method,
		URL:        MaskURL(req.URL),
		Headers:    MaskHeaders(req.Headers),
		StatusCode: status,
		Body:       MaskText(body),
		Cause:      cause,
	}
}
