package team

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

func envelope(i int) Envelope {
	return Envelope{Seq: uint64(i), From: "worker", To: AddressLead, Content: fmt.Sprintf("msg %d", i)}
}

func TestLeadQueue_BatchesWhileBusy(t *testing.T) {
	var fired atomic.Int32
	var q *LeadQueue
	batches := make(chan []Envelope, 4)
	q = NewLeadQueue(20*time.Millisecond, func() {
		fired.Add(1)
		batches <- q.Drain()
	})

	q.BeginRun()
	for i := 1; i <= 5; i++ {
		q.Enqueue(envelope(i))
		time.Sleep(2 * time.Millisecond)
	}
	// well past the window; the lead is still busy
	time.Sleep(60 * time.Millisecond)
	if fired.Load() != 0 {
		t.Fatalf("onReady fired %d times while busy", fired.Load())
	}
	if q.Len() != 5 {
		t.Fatalf("expected 5 queued, got %d", q.Len())
	}

	q.EndRun()
	select {
	case batch := <-batches:
		if len(batch) != 5 {
			t.Fatalf("expected one batch of 5, got %d", len(batch))
		}
		for i, env := range batch {
			if env.Seq != uint64(i+1) {
				t.Errorf("batch out of order at %d: %+v", i, env)
			}
		}
	case <-time.After(time.Second):
		t.Fatal("expected a batch once idle")
	}

	time.Sleep(40 * time.Millisecond)
	if fired.Load() != 1 {
		t.Errorf("expected exactly one delivery, got %d", fired.Load())
	}
	if again := q.Drain(); again != nil {
		t.Errorf("second drain should be empty, got %v", again)
	}
}

func TestLeadQueue_EnqueueResetsWindow(t *testing.T) {
	var fired atomic.Int32
	q := NewLeadQueue(40*time.Millisecond, func() { fired.Add(1) })

	for i := 0; i < 4; i++ {
		q.Enqueue(envelope(i))
		time.Sleep(15 * time.Millisecond)
	}
	if fired.Load() != 0 {
		t.Fatal("window should keep resetting while messages arrive")
	}
	time.Sleep(80 * time.Millisecond)
	if fired.Load() != 1 {
		t.Fatalf("expected one expiry, got %d", fired.Load())
	}
	if got := len(q.Drain()); got != 4 {
		t.Errorf("expected 4 queued, got %d", got)
	}
}

func TestLeadQueue_ZeroWindow(t *testing.T) {
	var fired atomic.Int32
	q := NewLeadQueue(0, func() { fired.Add(1) })
	q.Enqueue(envelope(1))
	if fired.Load() != 1 {
		t.Fatalf("expected immediate delivery, got %d", fired.Load())
	}
}

func TestLeadQueue_OverlappingRuns(t *testing.T) {
	var fired atomic.Int32
	q := NewLeadQueue(0, func() { fired.Add(1) })

	q.BeginRun()
	q.BeginRun()
	q.Enqueue(envelope(1))
	q.EndRun()
	if fired.Load() != 0 || !q.Busy() {
		t.Fatal("lead is busy until every run has ended")
	}
	q.EndRun()
	if fired.Load() != 1 || q.Busy() {
		t.Fatalf("expected delivery once idle, fired %d", fired.Load())
	}
	q.EndRun()
	if q.Busy() {
		t.Error("extra EndRun must not go negative")
	}
}

func TestLeadQueue_Stop(t *testing.T) {
	var fired atomic.Int32
	q := NewLeadQueue(10*time.Millisecond, func() { fired.Add(1) })
	q.Enqueue(envelope(1))
	q.Stop()
	q.Enqueue(envelope(2))
	time.Sleep(30 * time.Millisecond)
	if fired.Load() != 0 {
		t.Error("stopped queue must not fire")
	}
	if got := q.Drain(); len(got) != 1 {
		t.Errorf("expected the message queued before Stop, got %v", got)
	}
}
