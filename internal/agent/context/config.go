// Package context manages the conversation context window.
//
// This package handles:
//   - Budget monitoring: deciding between no action, pre-compression and
//     full compression from the last call's input token count
//   - Pre-compression: clearing bulky tool output and thinking in place
//   - Full compression: replacing the middle of a conversation with a model
//     generated summary while keeping the first user message and the most
//     recent exchange verbatim
//   - Sanitization: keeping tool_use/tool_result pairing intact
package context

// Action is the compression tier chosen for the next request.
type Action string

const (
	ActionNone Action = "none"
	ActionPre  Action = "pre"
	ActionFull Action = "full"
)

const (
	DefaultFullThreshold = 0.8
	DefaultPreThreshold  = 0.65
)

// CompressionConfig controls when compression runs.
type CompressionConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	// ContextLength is the model's context window in tokens.
	ContextLength int `yaml:"context_length" json:"context_length"`

	// FullThreshold is the input/context ratio at or above which the
	// conversation is summarized. Default: 0.8.
	FullThreshold float64 `yaml:"full_threshold" json:"full_threshold"`

	// PreThreshold is the ratio at or above which bulky content is cleared
	// without a model call. Default: 0.65.
	PreThreshold float64 `yaml:"pre_threshold" json:"pre_threshold"`

	// ZoneBSize overrides the number of recent messages kept verbatim.
	// 0 means adaptive.
	ZoneBSize int `yaml:"zone_b_size" json:"zone_b_size"`
}

// DefaultCompressionConfig returns defaults for a 200k window.
func DefaultCompressionConfig() CompressionConfig {
	return CompressionConfig{
		Enabled:       true,
		ContextLength: 200000,
		FullThreshold: DefaultFullThreshold,
		PreThreshold:  DefaultPreThreshold,
	}
}

// WithDefaults fills zero thresholds.
func (c CompressionConfig) WithDefaults() CompressionConfig {
	if c.FullThreshold <= 0 {
		c.FullThreshold = DefaultFullThreshold
	}
	if c.PreThreshold <= 0 {
		c.PreThreshold = DefaultPreThreshold
	}
	return c
}

// Ratio returns inputTokens as a fraction of the context window.
func (c CompressionConfig) Ratio(inputTokens int) float64 {
	if c.ContextLength <= 0 {
		return 0
	}
	return float64(inputTokens) / float64(c.ContextLength)
}

// Decide picks the compression tier for inputTokens. Pre-compression covers
// [PreThreshold, FullThreshold); full covers [FullThreshold, ∞).
func (c CompressionConfig) Decide(inputTokens int) Action {
	if !c.Enabled || c.ContextLength <= 0 {
		return ActionNone
	}
	c = c.WithDefaults()
	ratio := c.Ratio(inputTokens)
	switch {
	case ratio >= c.FullThreshold:
		return ActionFull
	case ratio >= c.PreThreshold:
		return ActionPre
	default:
		return ActionNone
	}
}
