package context

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/agentrt/pkg/models"
)

const (
	minZoneB         = 4
	maxZoneB         = 10
	pullbackStep     = 2
	maxPullbacks     = 5
	SummarySource    = "compression"
	summaryHeaderFmt = "[Summary of %d prior messages]\n\n%s"
)

// Options tunes a single Compress call.
type Options struct {
	// Pinned, when set, is placed immediately after Zone A and never
	// summarized. Any other message with the same ID is dropped.
	Pinned *models.Message

	// ZoneBSize overrides the adaptive Zone B size when positive.
	ZoneBSize int
}

// Result is the outcome of Compress.
type Result struct {
	Messages      []*models.Message
	Compressed    bool
	OriginalCount int
	NewCount      int
	// Summarized is the number of messages replaced by the summary.
	Summarized int
}

// Compressor performs full compression:
//
//	[Zone A][pinned][summary of the span][Zone B]
//
// Zone A is the first genuine user message. Zone B is the most recent
// clamp(total/5, 4, 10) messages, extended backward so no tool pair
// straddles the boundary.
type Compressor struct {
	summarizer *Summarizer
	logger     *slog.Logger
	now        func() time.Time
}

// NewCompressor creates a compressor.
func NewCompressor(summarizer *Summarizer, logger *slog.Logger) *Compressor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Compressor{summarizer: summarizer, logger: logger, now: time.Now}
}

// Compress summarizes the middle of msgs. It declines with Compressed=false
// and a nil error when the list is too short to keep both zones. On failure
// the returned error is a *CompressionError and msgs is untouched.
func (c *Compressor) Compress(ctx context.Context, msgs []*models.Message, opts Options) (*Result, error) {
	res := &Result{Messages: msgs, OriginalCount: len(msgs), NewCount: len(msgs)}

	zoneA := FindZoneA(msgs)
	if zoneA < 0 {
		return res, nil
	}

	minSpan := 2
	if opts.Pinned != nil {
		minSpan = 3
	}
	bStart, ok := ZoneBStart(msgs, zoneA, ZoneBSize(len(msgs), opts.ZoneBSize), minSpan)
	if !ok {
		c.logger.Debug("compression declined: too few messages", "count", len(msgs))
		return res, nil
	}

	pinned := func(m *models.Message) bool {
		return opts.Pinned != nil && m.ID != "" && m.ID == opts.Pinned.ID
	}
	var span []*models.Message
	for i, m := range msgs[:bStart] {
		if i == zoneA || m == nil || pinned(m) {
			continue
		}
		span = append(span, m)
	}
	if len(span) < minSpan {
		return res, nil
	}

	summary, err := c.summarizer.Summarize(ctx, Serialize(span), len(span))
	if err != nil {
		return nil, err
	}

	assembled := make([]*models.Message, 0, 3+len(msgs)-bStart)
	assembled = append(assembled, msgs[zoneA])
	if opts.Pinned != nil {
		assembled = append(assembled, opts.Pinned)
	}
	assembled = append(assembled, &models.Message{
		ID:        uuid.NewString(),
		Role:      models.RoleUser,
		Content:   fmt.Sprintf(summaryHeaderFmt, len(span), summary),
		Source:    SummarySource,
		CreatedAt: c.now(),
	})
	for _, m := range msgs[bStart:] {
		if m != nil && !pinned(m) {
			assembled = append(assembled, m)
		}
	}
	assembled = Sanitize(assembled)

	if len(assembled) >= len(msgs) {
		return nil, &CompressionError{Stage: StageAssemble, Cause: fmt.Errorf("result has %d messages, original %d", len(assembled), len(msgs))}
	}

	res.Messages = assembled
	res.Compressed = true
	res.NewCount = len(assembled)
	res.Summarized = len(span)
	c.logger.Info("conversation compressed",
		"original", res.OriginalCount,
		"new", res.NewCount,
		"summarized", res.Summarized)
	return res, nil
}

// FindZoneA returns the index of the first genuine user message: a user
// message that is neither a team notification, a compression summary, nor
// tool-only. It returns -1 when there is none.
func FindZoneA(msgs []*models.Message) int {
	for i, m := range msgs {
		if m == nil || m.Role != models.RoleUser {
			continue
		}
		if m.Source == models.SourceTeam || m.Source == SummarySource {
			continue
		}
		if m.IsToolOnly() || m.IsEmpty() {
			continue
		}
		return i
	}
	return -1
}

// ZoneBSize returns the Zone B length for a list of total messages.
func ZoneBSize(total, override int) int {
	if override > 0 {
		return override
	}
	n := total / 5
	if n < minZoneB {
		n = minZoneB
	}
	if n > maxZoneB {
		n = maxZoneB
	}
	return n
}

// ZoneBStart returns the first index of Zone B. When the naive cut would
// split a tool pair the boundary moves back one message at a time to the
// first position that splits nothing, at most maxPullbacks*pullbackStep
// messages and never into the minimum span. Pairs still split afterwards
// are left to Sanitize. ok is false when fewer than minSpan messages would
// remain between Zone A and Zone B.
func ZoneBStart(msgs []*models.Message, zoneA, size, minSpan int) (int, bool) {
	start := len(msgs) - size
	lowest := zoneA + 1 + minSpan
	if start < lowest {
		return 0, false
	}
	floor := max(start-maxPullbacks*pullbackStep, lowest)
	for start > floor && splitsToolPair(msgs, start) {
		start--
	}
	return start, true
}

// splitsToolPair reports whether Zone B, starting at start, holds a
// tool_result whose tool_use lies before start.
func splitsToolPair(msgs []*models.Message, start int) bool {
	uses := make(map[string]bool)
	for _, m := range msgs[start:] {
		if m == nil {
			continue
		}
		for _, b := range m.Blocks {
			switch b.Type {
			case models.BlockToolUse:
				uses[b.ID] = true
			case models.BlockToolResult:
				if !uses[b.ToolUseID] {
					return true
				}
			}
		}
	}
	return false
}
