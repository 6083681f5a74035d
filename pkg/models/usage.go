package models

import "time"

// RequestTiming records latency characteristics of one streamed model call.
type RequestTiming struct {
	StartedAt       time.Time     `json:"started_at"`
	Duration        time.Duration `json:"duration"`
	TimeToFirst     time.Duration `json:"ttft"`
	TokensPerSecond float64       `json:"tokens_per_second"`
}

// TokenUsage tracks token consumption for a call or a whole loop run.
type TokenUsage struct {
	InputTokens         int `json:"input_tokens"`
	OutputTokens        int `json:"output_tokens"`
	CacheCreationTokens int `json:"cache_creation_tokens,omitempty"`
	CacheReadTokens     int `json:"cache_read_tokens,omitempty"`
	ReasoningTokens     int `json:"reasoning_tokens,omitempty"`

	// ContextTokens is the size of the most recent request's context window.
	// It is overwritten, never summed.
	ContextTokens int `json:"context_tokens"`

	Timings []RequestTiming `json:"timings,omitempty"`
}

// Add folds one call's usage into an accumulated run total. Counters
// accumulate; ContextTokens is replaced by the latest call's value.
func (u *TokenUsage) Add(call *TokenUsage) {
	if call == nil {
		return
	}
	u.InputTokens += call.InputTokens
	u.OutputTokens += call.OutputTokens
	u.CacheCreationTokens += call.CacheCreationTokens
	u.CacheReadTokens += call.CacheReadTokens
	u.ReasoningTokens += call.ReasoningTokens
	u.ContextTokens = call.ContextTokens
	u.Timings = append(u.Timings, call.Timings...)
}

// Clone returns a deep copy.
func (u *TokenUsage) Clone() *TokenUsage {
	if u == nil {
		return nil
	}
	out := *u
	if u.Timings != nil {
		out.Timings = append([]RequestTiming(nil), u.Timings...)
	}
	return &out
}

// TotalTokens returns input plus output tokens.
func (u *TokenUsage) TotalTokens() int {
	if u == nil {
		return 0
	}
	return u.InputTokens + u.OutputTokens
}
