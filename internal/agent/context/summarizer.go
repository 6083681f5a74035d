package context

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// SummaryTimeout bounds a single summarization call independently of the
// caller's context.
const SummaryTimeout = 2 * time.Minute

// SummarySystemPrompt instructs the model producing a compression summary.
const SummarySystemPrompt = `You are compressing the middle of a long working session between a user and an AI assistant so the session can continue within its context window.

Write a dense summary that lets the assistant continue the work without the original messages. Cover:
- The user's goals and any constraints or preferences they stated
- Decisions made and the reasoning that still matters
- Files, commands, identifiers and values that were inspected or changed
- Tool calls that were made and what they established
- Work that is finished and work that is still pending

Write in plain prose and short lists. Do not address the user. Do not invent details. Wrap the final summary in <summary></summary> tags.`

// SummaryProvider generates text for a system prompt and a user prompt.
// It is implemented over a wire adapter by the agent package and by fakes in
// tests.
type SummaryProvider interface {
	Summarize(ctx context.Context, system, prompt string) (string, error)
}

// SummaryProviderFunc adapts a function to SummaryProvider.
type SummaryProviderFunc func(ctx context.Context, system, prompt string) (string, error)

// Summarize implements SummaryProvider.
func (f SummaryProviderFunc) Summarize(ctx context.Context, system, prompt string) (string, error) {
	return f(ctx, system, prompt)
}

// Summarizer turns a serialized span into a cleaned summary.
type Summarizer struct {
	provider SummaryProvider
	timeout  time.Duration
}

// NewSummarizer creates a summarizer with the default timeout.
func NewSummarizer(provider SummaryProvider) *Summarizer {
	return &Summarizer{provider: provider, timeout: SummaryTimeout}
}

// WithTimeout overrides the per-call ceiling.
func (s *Summarizer) WithTimeout(d time.Duration) *Summarizer {
	if d > 0 {
		s.timeout = d
	}
	return s
}

// Summarize runs one model call over transcript and returns the cleaned
// summary. An empty result is a *CompressionError.
func (s *Summarizer) Summarize(ctx context.Context, transcript string, count int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	prompt := fmt.Sprintf("Summarize the following %d messages.\n\n<transcript>\n%s</transcript>", count, transcript)
	raw, err := s.provider.Summarize(ctx, SummarySystemPrompt, prompt)
	if err != nil {
		return "", &CompressionError{Stage: StageSummarize, Cause: err}
	}
	summary := CleanSummary(raw)
	if summary == "" {
		return "", &CompressionError{Stage: StageSummarize, Cause: ErrEmptySummary}
	}
	return summary, nil
}

var (
	analysisBlock = regexp.MustCompile(`(?s)<(analysis|thinking)>.*?</(analysis|thinking)>`)
	summaryBlock  = regexp.MustCompile(`(?s)<summary>(.*?)</summary>`)
)

// CleanSummary strips scratch sections and extracts the <summary> body when
// one is present.
func CleanSummary(raw string) string {
	raw = analysisBlock.ReplaceAllString(raw, "")
	if m := summaryBlock.FindStringSubmatch(raw); m != nil {
		raw = m[1]
	} else {
		raw = strings.ReplaceAll(raw, "<summary>", "")
		raw = strings.ReplaceAll(raw, "</summary>", "")
	}
	return strings.TrimSpace(raw)
}
