package providers

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/haasonsaas/agentrt/internal/agent"
	"github.com/haasonsaas/agentrt/internal/transport"
	"github.com/haasonsaas/agentrt/pkg/models"
)

// Factory builds an adapter bound to the shared transport.
type Factory func(t *transport.Transport, logger *slog.Logger) agent.Adapter

// Registry maps provider type tags to adapter factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	transport *transport.Transport
	logger    *slog.Logger
}

// NewRegistry creates a registry with the built-in dialects registered.
func NewRegistry(t *transport.Transport, logger *slog.Logger) *Registry {
	if t == nil {
		t = transport.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		factories: make(map[string]Factory),
		transport: t,
		logger:    logger,
	}
	r.Register("anthropic", func(t *transport.Transport, l *slog.Logger) agent.Adapter {
		return NewAnthropicAdapter(t, l)
	})
	r.Register("openai", func(t *transport.Transport, l *slog.Logger) agent.Adapter {
		return NewOpenAIAdapter(t, l)
	})
	r.Register("openai-responses", func(t *transport.Transport, l *slog.Logger) agent.Adapter {
		return NewResponsesAdapter(t, l)
	})
	r.Register("gemini", func(t *transport.Transport, l *slog.Logger) agent.Adapter {
		return NewGeminiAdapter(t, l)
	})
	return r
}

// Register adds or replaces the factory for tag.
func (r *Registry) Register(tag string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[tag] = f
}

// Tags returns the registered type tags, sorted.
func (r *Registry) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tags := make([]string, 0, len(r.factories))
	for tag := range r.factories {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// New returns an adapter for cfg.Type. An empty type selects the
// delta-merge dialect, which most compatible endpoints speak.
func (r *Registry) New(cfg models.ProviderConfig) (agent.Adapter, error) {
	tag := cfg.Type
	if tag == "" {
		tag = "openai"
	}
	r.mu.RLock()
	f, ok := r.factories[tag]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, tag)
	}
	return f(r.transport, r.logger), nil
}
