package agent

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSessionRegistry_BeginAndRelease(t *testing.T) {
	r := NewSessionRegistry()

	ctx, release, err := r.Begin(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if !r.Active("s1") || r.Count() != 1 {
		t.Fatal("expected s1 to be active")
	}

	release()
	release()
	if r.Active("s1") || r.Count() != 0 {
		t.Error("expected s1 to be released")
	}
	if ctx.Err() == nil {
		t.Error("release should cancel the loop context")
	}
}

func TestSessionRegistry_Abort(t *testing.T) {
	r := NewSessionRegistry()
	if r.Abort("missing") {
		t.Error("abort of an idle session should report false")
	}

	ctx, release, err := r.Begin(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer release()

	if !r.Abort("s1") {
		t.Fatal("expected abort to find the loop")
	}
	<-ctx.Done()
	if !errors.Is(context.Cause(ctx), ErrAborted) {
		t.Errorf("expected ErrAborted cause, got %v", context.Cause(ctx))
	}
}

func TestSessionRegistry_BeginReplacesPrevious(t *testing.T) {
	r := NewSessionRegistry()

	first, releaseFirst, err := r.Begin(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	go func() {
		<-first.Done()
		time.Sleep(10 * time.Millisecond)
		releaseFirst()
	}()

	second, releaseSecond, err := r.Begin(context.Background(), "s1")
	if err != nil {
		t.Fatalf("second Begin: %v", err)
	}
	defer releaseSecond()

	if !errors.Is(context.Cause(first), ErrAborted) {
		t.Errorf("expected the first loop to be aborted, got %v", context.Cause(first))
	}
	if second.Err() != nil {
		t.Error("the replacement loop must start live")
	}
	if r.Count() != 1 {
		t.Errorf("expected one active loop, got %d", r.Count())
	}
}

func TestSessionRegistry_BeginHonorsCallerContext(t *testing.T) {
	r := NewSessionRegistry()
	_, release, err := r.Begin(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer release()

	// the first loop never releases, so the caller's deadline wins
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, _, err := r.Begin(ctx, "s1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}
