package providers

import (
	"errors"
	"testing"

	"github.com/haasonsaas/agentrt/internal/transport"
	"github.com/haasonsaas/agentrt/pkg/models"
)

func TestErrorReasonIsRetryable(t *testing.T) {
	tests := []struct {
		reason   ErrorReason
		expected bool
	}{
		{ReasonRateLimit, true},
		{ReasonOverloaded, true},
		{ReasonServerError, true},
		{ReasonAuth, false},
		{ReasonInvalidRequest, false},
		{ReasonContextLength, false},
		{ReasonContentFilter, false},
		{ReasonUnknown, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.reason), func(t *testing.T) {
			if got := tt.reason.IsRetryable(); got != tt.expected {
				t.Errorf("ErrorReason(%q).IsRetryable() = %v, want %v", tt.reason, got, tt.expected)
			}
		})
	}
}

func TestErrorPayload(t *testing.T) {
	tests := []struct {
		name       string
		data       string
		wantErr    bool
		wantReason ErrorReason
	}{
		{
			name:       "anthropic nested",
			data:       `{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`,
			wantErr:    true,
			wantReason: ReasonOverloaded,
		},
		{
			name:       "openai error object",
			data:       `{"error":{"message":"This model's maximum context length is 128000 tokens","type":"invalid_request_error","code":"context_length_exceeded"}}`,
			wantErr:    true,
			wantReason: ReasonContextLength,
		},
		{
			name:       "flat error",
			data:       `{"type":"error","code":"rate_limit_exceeded","message":"slow down"}`,
			wantErr:    true,
			wantReason: ReasonRateLimit,
		},
		{
			name:       "gemini status",
			data:       `{"error":{"code":429,"message":"Resource has been exhausted","status":"RESOURCE_EXHAUSTED"}}`,
			wantErr:    true,
			wantReason: ReasonRateLimit,
		},
		{
			name:    "ordinary frame",
			data:    `{"type":"content_block_delta","index":0}`,
			wantErr: false,
		},
		{
			name:    "not json",
			data:    `: keep-alive`,
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pe, isErr := errorPayload("test", "m", tt.data)
			if isErr != tt.wantErr {
				t.Fatalf("expected isErr=%v, got %v", tt.wantErr, isErr)
			}
			if isErr && pe.Reason != tt.wantReason {
				t.Errorf("expected reason %s, got %s (%v)", tt.wantReason, pe.Reason, pe)
			}
		})
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(transport.New(), nil)

	want := []string{"anthropic", "gemini", "openai", "openai-responses"}
	tags := r.Tags()
	if len(tags) != len(want) {
		t.Fatalf("expected tags %v, got %v", want, tags)
	}
	for i := range want {
		if tags[i] != want[i] {
			t.Errorf("expected tag %s at %d, got %s", want[i], i, tags[i])
		}
	}

	tests := []struct {
		typ  string
		name string
	}{
		{"anthropic", "anthropic"},
		{"openai", "openai"},
		{"", "openai"},
		{"openai-responses", "openai-responses"},
		{"gemini", "gemini"},
	}
	for _, tt := range tests {
		t.Run(tt.name+"/"+tt.typ, func(t *testing.T) {
			a, err := r.New(models.ProviderConfig{Type: tt.typ})
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if a.Name() != tt.name {
				t.Errorf("expected adapter %s, got %s", tt.name, a.Name())
			}
		})
	}

	if _, err := r.New(models.ProviderConfig{Type: "bedrock"}); !errors.Is(err, ErrUnknownProvider) {
		t.Errorf("expected ErrUnknownProvider, got %v", err)
	}
}
