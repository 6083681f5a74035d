package providers

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrUnknownProvider is returned by Registry.New for an unregistered type tag.
var ErrUnknownProvider = errors.New("unknown provider type")

// ErrorReason categorizes an explicit upstream error payload.
type ErrorReason string

const (
	ReasonRateLimit      ErrorReason = "rate_limit"
	ReasonOverloaded     ErrorReason = "overloaded"
	ReasonAuth           ErrorReason = "auth"
	ReasonInvalidRequest ErrorReason = "invalid_request"
	ReasonContextLength  ErrorReason = "context_length"
	ReasonContentFilter  ErrorReason = "content_filter"
	ReasonServerError    ErrorReason = "server_error"
	ReasonUnknown        ErrorReason = "unknown"
)

// IsRetryable returns true if retrying the request later may succeed.
func (r ErrorReason) IsRetryable() bool {
	switch r {
	case ReasonRateLimit, ReasonOverloaded, ReasonServerError:
		return true
	default:
		return false
	}
}

// ProtocolError is an error carried inside the stream itself. Malformed
// frames never become a ProtocolError; they are skipped as keep-alive noise.
type ProtocolError struct {
	Reason   ErrorReason
	Provider string
	Model    string
	Code     string
	Message  string
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	parts := []string{fmt.Sprintf("[%s]", e.Reason)}
	if e.Provider != "" {
		parts = append(parts, e.Provider)
	}
	if e.Model != "" {
		parts = append(parts, "model="+e.Model)
	}
	if e.Code != "" {
		parts = append(parts, "code="+e.Code)
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	}
	return strings.Join(parts, " ")
}

// errorPayload sniffs a frame for an explicit error object. It recognizes
// {"type":"error","error":{...}}, {"error":{...}}, and the flat
// {"type":"error","code":..,"message":..} shape.
func errorPayload(provider, model, data string) (*ProtocolError, bool) {
	if !gjson.Valid(data) {
		return nil, false
	}
	root := gjson.Parse(data)
	errObj := root.Get("error")
	switch {
	case errObj.IsObject():
	case root.Get("type").String() == "error":
		errObj = root
	default:
		return nil, false
	}

	code := firstNonEmpty(errObj.Get("type").String(), errObj.Get("code").String(), errObj.Get("status").String())
	if code == "error" {
		code = errObj.Get("code").String()
	}
	pe := &ProtocolError{
		Provider: provider,
		Model:    model,
		Code:     code,
		Message:  errObj.Get("message").String(),
	}
	pe.Reason = classifyReason(code + " " + pe.Message)
	return pe, true
}

func classifyReason(s string) ErrorReason {
	s = strings.ToLower(s)
	switch {
	case strings.Contains(s, "rate_limit") || strings.Contains(s, "rate limit") || strings.Contains(s, "resource_exhausted") || strings.Contains(s, "429"):
		return ReasonRateLimit
	case strings.Contains(s, "overloaded") || strings.Contains(s, "unavailable"):
		return ReasonOverloaded
	case strings.Contains(s, "auth") || strings.Contains(s, "api key") || strings.Contains(s, "permission"):
		return ReasonAuth
	case strings.Contains(s, "context_length") || strings.Contains(s, "context length") || strings.Contains(s, "too long"):
		return ReasonContextLength
	case strings.Contains(s, "content_filter") || strings.Contains(s, "safety"):
		return ReasonContentFilter
	case strings.Contains(s, "invalid"):
		return ReasonInvalidRequest
	case strings.Contains(s, "server") || strings.Contains(s, "internal"):
		return ReasonServerError
	}
	return ReasonUnknown
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
