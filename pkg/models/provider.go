package models

// ThinkingConfig enables extended reasoning on providers that support it.
type ThinkingConfig struct {
	Enabled      bool `yaml:"enabled" json:"enabled"`
	BudgetTokens int  `yaml:"budget_tokens" json:"budget_tokens,omitempty"`
	// Effort is used by dialects that take a reasoning effort level instead of a budget.
	Effort string `yaml:"effort" json:"effort,omitempty"`
}

// ProviderConfig selects and parameterizes one upstream model backend.
// Type is the registry tag that picks the wire adapter.
type ProviderConfig struct {
	Name         string         `yaml:"name" json:"name"`
	Type         string         `yaml:"type" json:"type"`
	APIKey       string         `yaml:"api_key" json:"api_key,omitempty"`
	BaseURL      string         `yaml:"base_url" json:"base_url,omitempty"`
	Model        string         `yaml:"model" json:"model"`
	MaxTokens    int            `yaml:"max_tokens" json:"max_tokens,omitempty"`
	Temperature  *float64       `yaml:"temperature" json:"temperature,omitempty"`
	Thinking     ThinkingConfig `yaml:"thinking" json:"thinking,omitempty"`
	SystemPrompt string         `yaml:"system_prompt" json:"system_prompt,omitempty"`
}
