package team

import (
	"errors"
	"testing"
	"time"
)

func receive(t *testing.T, sub *Subscription) Envelope {
	t.Helper()
	select {
	case env, ok := <-sub.C():
		if !ok {
			t.Fatal("subscription closed")
		}
		return env
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for envelope")
	}
	return Envelope{}
}

func assertEmpty(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case env, ok := <-sub.C():
		if ok {
			t.Fatalf("%s: unexpected envelope %+v", sub.Address(), env)
		}
	default:
	}
}

func TestBus_Routing(t *testing.T) {
	bus := NewBus(8, nil)
	lead := bus.Subscribe(AddressLead)
	alice := bus.Subscribe("alice")
	bob := bus.Subscribe("bob")

	if _, err := bus.Publish("alice", AddressLead, "hello lead"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if env := receive(t, lead); env.From != "alice" || env.Content != "hello lead" || env.Seq != 1 {
		t.Errorf("unexpected envelope %+v", env)
	}
	assertEmpty(t, alice)
	assertEmpty(t, bob)

	if _, err := bus.Publish("alice", AddressBroadcast, "all hands"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if env := receive(t, lead); env.Seq != 2 {
		t.Errorf("expected seq 2, got %d", env.Seq)
	}
	receive(t, bob)
	assertEmpty(t, alice)

	history := bus.History()
	if len(history) != 2 || history[0].Seq != 1 || history[1].To != AddressBroadcast {
		t.Errorf("unexpected history %+v", history)
	}
}

func TestBus_PublishValidation(t *testing.T) {
	bus := NewBus(1, nil)
	tests := []struct {
		name    string
		to      string
		content string
		want    error
	}{
		{"empty recipient", "  ", "x", ErrInvalidAddress},
		{"empty content", "lead", " \n", ErrEmptyMessage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := bus.Publish("alice", tt.to, tt.content); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
	if len(bus.History()) != 0 {
		t.Error("rejected messages must not be logged")
	}
}

func TestBus_FullBufferDropsButLogs(t *testing.T) {
	bus := NewBus(1, nil)
	sub := bus.Subscribe("bob")
	for i := 0; i < 3; i++ {
		if _, err := bus.Publish("alice", "bob", "ping"); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}
	receive(t, sub)
	assertEmpty(t, sub)
	if len(bus.History()) != 3 {
		t.Errorf("expected every message in history, got %d", len(bus.History()))
	}
}

func TestBus_SubscribeFuncReceivesEverything(t *testing.T) {
	bus := NewBus(1, nil)
	var got []uint64
	sub := bus.SubscribeFunc("bob", func(env Envelope) { got = append(got, env.Seq) })
	for _, to := range []string{"bob", "carol", "bob", AddressBroadcast, "bob"} {
		if _, err := bus.Publish("alice", to, "ping"); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	if want := []uint64{1, 3, 4, 5}; len(got) != len(want) || got[0] != 1 || got[3] != 5 {
		t.Errorf("expected seqs %v, got %v", want, got)
	}
	assertEmpty(t, sub)

	sub.Unsubscribe()
	if _, err := bus.Publish("alice", "bob", "late"); err != nil {
		t.Fatal(err)
	}
	if len(got) != 4 {
		t.Errorf("handler called after Unsubscribe")
	}
}

func TestBus_UnsubscribeAndClose(t *testing.T) {
	bus := NewBus(4, nil)
	sub := bus.Subscribe("bob")
	sub.Unsubscribe()
	sub.Unsubscribe()
	if _, ok := <-sub.C(); ok {
		t.Error("expected closed channel after Unsubscribe")
	}
	if _, err := bus.Publish("alice", "bob", "still logged"); err != nil {
		t.Fatalf("publish: %v", err)
	}

	other := bus.Subscribe("carol")
	bus.Close()
	bus.Close()
	if _, ok := <-other.C(); ok {
		t.Error("expected closed channel after Close")
	}
	other.Unsubscribe()

	if _, err := bus.Publish("alice", "bob", "late"); !errors.Is(err, ErrBusClosed) {
		t.Errorf("expected ErrBusClosed, got %v", err)
	}
	late := bus.Subscribe("dave")
	if _, ok := <-late.C(); ok {
		t.Error("subscribing to a closed bus must return a closed channel")
	}
}

func TestBus_Tap(t *testing.T) {
	bus := NewBus(4, nil)
	tap := bus.Tap()
	if _, err := bus.Publish("alice", "bob", "direct"); err != nil {
		t.Fatal(err)
	}
	if _, err := bus.Publish("bob", AddressBroadcast, "everyone"); err != nil {
		t.Fatal(err)
	}
	if env := receive(t, tap); env.Content != "direct" {
		t.Errorf("unexpected envelope %+v", env)
	}
	if env := receive(t, tap); env.Content != "everyone" {
		t.Errorf("unexpected envelope %+v", env)
	}
}
