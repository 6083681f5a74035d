package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	agentctx "github.com/haasonsaas/agentrt/internal/agent/context"
	"github.com/haasonsaas/agentrt/pkg/models"
)

// AdapterSummaryProvider runs compression summaries through a wire adapter
// with no tools.
type AdapterSummaryProvider struct {
	adapter Adapter
	config  models.ProviderConfig
}

var _ agentctx.SummaryProvider = (*AdapterSummaryProvider)(nil)

// NewAdapterSummaryProvider creates a provider. Thinking is disabled for
// summary calls.
func NewAdapterSummaryProvider(adapter Adapter, config models.ProviderConfig) *AdapterSummaryProvider {
	config.Thinking = models.ThinkingConfig{}
	return &AdapterSummaryProvider{adapter: adapter, config: config}
}

// Summarize streams one call and concatenates its text.
func (p *AdapterSummaryProvider) Summarize(ctx context.Context, system, prompt string) (string, error) {
	req := &Request{
		Config: p.config,
		System: system,
		Messages: []*models.Message{
			{ID: uuid.NewString(), Role: models.RoleUser, Content: prompt},
		},
	}
	events, err := p.adapter.Stream(ctx, req)
	if err != nil {
		return "", fmt.Errorf("summary request: %w", err)
	}

	var sb strings.Builder
	var streamErr error
	for ev := range events {
		switch ev.Type {
		case models.EventTextDelta:
			sb.WriteString(ev.Text)
		case models.EventError:
			if streamErr == nil {
				streamErr = ev.Err
				if streamErr == nil {
					streamErr = errors.New("provider reported an error")
				}
			}
		}
	}
	if streamErr != nil {
		return "", fmt.Errorf("summary stream: %w", streamErr)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return sb.String(), nil
}
