package context

import (
	"errors"
	"fmt"
)

// ErrEmptySummary indicates the summarizer produced nothing usable.
var ErrEmptySummary = errors.New("summary is empty")

// Compression stages reported by CompressionError.
const (
	StageSummarize = "summarize"
	StageAssemble  = "assemble"
)

// CompressionError is fatal only to the compression attempt; the caller
// keeps the uncompressed conversation.
type CompressionError struct {
	Stage string
	Cause error
}

func (e *CompressionError) Error() string {
	return fmt.Sprintf("compression failed at %s: %v", e.Stage, e.Cause)
}

func (e *CompressionError) Unwrap() error {
	return e.Cause
}
