package agent

import (
	"sync"
	"time"
)

// DefaultDeltaWindow is how long fragments are coalesced before delivery.
const DefaultDeltaWindow = 30 * time.Millisecond

// DeltaKind identifies the stream a fragment belongs to.
type DeltaKind string

const (
	DeltaText     DeltaKind = "text"
	DeltaThinking DeltaKind = "thinking"
	DeltaToolArgs DeltaKind = "tool_args"
)

// Delta is a run of coalesced fragments of one kind and key. Key is the tool
// call id for DeltaToolArgs and empty otherwise.
type Delta struct {
	Kind DeltaKind
	Key  string
	Text string
}

// DeltaBuffer coalesces high-frequency fragments for presentation. Adjacent
// fragments with the same kind and key are merged; a timer delivers the batch
// after the window. Flush delivers synchronously and is called before any
// structural event so ordering matches the stream.
type DeltaBuffer struct {
	mu      sync.Mutex
	pending []Delta
	timer   *time.Timer
	closed  bool

	// deliverMu keeps batches in order when the timer and an explicit
	// Flush race.
	deliverMu sync.Mutex

	window time.Duration
	sink   func([]Delta)
}

// NewDeltaBuffer creates a buffer delivering batches to sink. A zero window
// uses DefaultDeltaWindow.
func NewDeltaBuffer(window time.Duration, sink func([]Delta)) *DeltaBuffer {
	if window <= 0 {
		window = DefaultDeltaWindow
	}
	return &DeltaBuffer{window: window, sink: sink}
}

// Append queues a fragment. It never calls the sink itself unless the buffer
// is closed, in which case the fragment is delivered immediately.
func (b *DeltaBuffer) Append(kind DeltaKind, key, fragment string) {
	if fragment == "" {
		return
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		b.deliver([]Delta{{Kind: kind, Key: key, Text: fragment}})
		return
	}
	if n := len(b.pending); n > 0 && b.pending[n-1].Kind == kind && b.pending[n-1].Key == key {
		b.pending[n-1].Text += fragment
	} else {
		b.pending = append(b.pending, Delta{Kind: kind, Key: key, Text: fragment})
	}
	if b.timer == nil {
		b.timer = time.AfterFunc(b.window, b.Flush)
	}
	b.mu.Unlock()
}

// Flush delivers everything buffered so far.
func (b *DeltaBuffer) Flush() {
	b.deliverMu.Lock()
	defer b.deliverMu.Unlock()

	b.mu.Lock()
	batch := b.pending
	b.pending = nil
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.mu.Unlock()

	if len(batch) > 0 && b.sink != nil {
		b.sink(batch)
	}
}

// Close flushes and stops the timer.
func (b *DeltaBuffer) Close() {
	b.Flush()
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
}

func (b *DeltaBuffer) deliver(batch []Delta) {
	b.deliverMu.Lock()
	defer b.deliverMu.Unlock()
	if b.sink != nil {
		b.sink(batch)
	}
}
