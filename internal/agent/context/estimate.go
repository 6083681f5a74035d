package context

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/haasonsaas/agentrt/pkg/models"
)

const (
	estimatorEncoding = "cl100k_base"
	perMessageTokens  = 4
	imageTokens       = 1000 // flat per image
)

// Estimator counts tokens for the budget check made before the first call of
// a session, when no provider-reported count exists yet. It is an
// approximation for every model family.
type Estimator struct {
	once     sync.Once
	encoding *tiktoken.Tiktoken
}

// NewEstimator creates an estimator. The encoding loads lazily; when it
// cannot be loaded the estimator falls back to four characters per token.
func NewEstimator() *Estimator {
	return &Estimator{}
}

func (e *Estimator) load() {
	e.once.Do(func() {
		enc, err := tiktoken.GetEncoding(estimatorEncoding)
		if err == nil {
			e.encoding = enc
		}
	})
}

// Count returns the token count of text.
func (e *Estimator) Count(text string) int {
	if text == "" {
		return 0
	}
	e.load()
	if e.encoding == nil {
		return (len(text) + 3) / 4
	}
	return len(e.encoding.Encode(text, nil, nil))
}

// CountMessages sums the tokens of every block plus a small per-message
// overhead.
func (e *Estimator) CountMessages(msgs []*models.Message) int {
	total := 0
	for _, m := range msgs {
		if m == nil {
			continue
		}
		total += perMessageTokens
		for _, b := range m.ContentBlocks() {
			switch b.Type {
			case models.BlockText, models.BlockThinking:
				total += e.Count(b.Text)
			case models.BlockToolUse:
				total += e.Count(b.Name) + e.Count(string(b.Input))
			case models.BlockToolResult:
				total += e.Count(b.Content)
			case models.BlockImage:
				total += imageTokens
			}
		}
	}
	return total
}
