package team

import (
	"sync"
	"time"
)

// LeadQueue batches bus messages addressed to the lead. Every Enqueue
// restarts the debounce window. When the window expires and the lead is
// idle, onReady is called; if a lead run is in progress, onReady is deferred
// until the last run ends. The receiver takes the batch with Drain.
//
// onReady is never called with the queue's lock held and may call back into
// the queue.
type LeadQueue struct {
	mu      sync.Mutex
	items   []Envelope
	timer   *time.Timer
	window  time.Duration
	running int
	due     bool
	stopped bool
	onReady func()
}

// NewLeadQueue creates a queue with the given debounce window. A window of
// zero makes every Enqueue due immediately.
func NewLeadQueue(window time.Duration, onReady func()) *LeadQueue {
	if window < 0 {
		window = 0
	}
	if onReady == nil {
		onReady = func() {}
	}
	return &LeadQueue{window: window, onReady: onReady}
}

// Enqueue adds an envelope and resets the debounce window.
func (q *LeadQueue) Enqueue(env Envelope) {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, env)
	q.due = false
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	if q.window > 0 {
		q.timer = time.AfterFunc(q.window, q.expire)
		q.mu.Unlock()
		return
	}
	q.mu.Unlock()
	q.expire()
}

// expire runs when the window closes.
func (q *LeadQueue) expire() {
	q.mu.Lock()
	q.timer = nil
	if q.stopped || len(q.items) == 0 {
		q.mu.Unlock()
		return
	}
	if q.running > 0 {
		q.due = true
		q.mu.Unlock()
		return
	}
	q.due = false
	q.mu.Unlock()
	q.onReady()
}

// BeginRun marks a lead run in progress. Runs may overlap while one
// replaces another; the lead is idle once every run has ended.
func (q *LeadQueue) BeginRun() {
	q.mu.Lock()
	q.running++
	q.mu.Unlock()
}

// EndRun marks a lead run finished. Going idle with an expired window
// pending calls onReady.
func (q *LeadQueue) EndRun() {
	q.mu.Lock()
	if q.running > 0 {
		q.running--
	}
	fire := q.running == 0 && q.due && q.timer == nil && len(q.items) > 0 && !q.stopped
	if fire {
		q.due = false
	}
	q.mu.Unlock()
	if fire {
		q.onReady()
	}
}

// Busy reports whether a lead run is in progress.
func (q *LeadQueue) Busy() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running > 0
}

// Drain removes and returns everything queued. A second call returns nil.
func (q *LeadQueue) Drain() []Envelope {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	q.due = false
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	return items
}

// Len returns the number of queued envelopes.
func (q *LeadQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Stop cancels the timer and ignores further Enqueue calls. Queued items
// remain available to Drain.
func (q *LeadQueue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.stopped = true
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
}
