// Package team runs a lead agent with peer agents that talk over a shared
// message bus.
package team

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// AddressLead is the lead agent's bus address.
	AddressLead = "lead"
	// AddressBroadcast delivers to every subscriber except the sender.
	AddressBroadcast = "*"

	defaultSubscriptionBuffer = 64
)

var (
	// ErrBusClosed is returned by Publish after Close.
	ErrBusClosed = errors.New("bus closed")
	// ErrInvalidAddress is returned for an empty recipient.
	ErrInvalidAddress = errors.New("invalid address")
	// ErrEmptyMessage is returned for blank content.
	ErrEmptyMessage = errors.New("message content is empty")
)

// Envelope is one message on the bus.
type Envelope struct {
	ID      string    `json:"id"`
	Seq     uint64    `json:"seq"`
	From    string    `json:"from"`
	To      string    `json:"to"`
	Content string    `json:"content"`
	Time    time.Time `json:"time"`
}

// Subscription receives envelopes addressed to one name.
type Subscription struct {
	id      uint64
	address string
	tap     bool
	handle  func(Envelope)
	ch      chan Envelope
	bus     *Bus
	once    sync.Once
}

// C returns the delivery channel. It is closed by Unsubscribe or Bus.Close.
func (s *Subscription) C() <-chan Envelope {
	return s.ch
}

// Address returns the subscribed address.
func (s *Subscription) Address() string {
	return s.address
}

// Unsubscribe stops delivery and closes the channel. It is idempotent.
func (s *Subscription) Unsubscribe() {
	s.bus.remove(s)
}

// Bus is an append-only log with fan-out to subscribers. Delivery never
// blocks the publisher: a channel subscriber whose buffer is full misses
// the envelope, which stays in History. Handler subscribers (SubscribeFunc)
// receive every envelope.
type Bus struct {
	mu      sync.Mutex
	log     []Envelope
	seq     uint64
	subs    map[uint64]*Subscription
	nextSub uint64
	buffer  int
	closed  bool
	logger  *slog.Logger
	now     func() time.Time
}

// NewBus creates a bus. buffer is the per-subscription channel capacity.
func NewBus(buffer int, logger *slog.Logger) *Bus {
	if buffer <= 0 {
		buffer = defaultSubscriptionBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subs:   make(map[uint64]*Subscription),
		buffer: buffer,
		logger: logger.With("component", "team.bus"),
		now:    time.Now,
	}
}

// Publish appends a message and delivers it to matching subscribers.
func (b *Bus) Publish(from, to, content string) (Envelope, error) {
	to = strings.TrimSpace(to)
	if to == "" {
		return Envelope{}, fmt.Errorf("%w: recipient is required", ErrInvalidAddress)
	}
	if strings.TrimSpace(content) == "" {
		return Envelope{}, ErrEmptyMessage
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return Envelope{}, ErrBusClosed
	}

	b.seq++
	env := Envelope{
		ID:      uuid.NewString(),
		Seq:     b.seq,
		From:    from,
		To:      to,
		Content: content,
		Time:    b.now(),
	}
	b.log = append(b.log, env)

	for _, sub := range b.subs {
		if !sub.tap && !delivers(env, sub.address) {
			continue
		}
		if sub.handle != nil {
			sub.handle(env)
			continue
		}
		select {
		case sub.ch <- env:
		default:
			b.logger.Warn("subscriber buffer full, message dropped",
				"address", sub.address, "seq", env.Seq, "from", env.From)
		}
	}
	return env, nil
}

func delivers(env Envelope, address string) bool {
	if env.To == AddressBroadcast {
		return address != env.From
	}
	return env.To == address
}

// Subscribe registers for envelopes addressed to address, including
// broadcasts from others.
func (b *Bus) Subscribe(address string) *Subscription {
	return b.subscribe(address, false, nil)
}

// SubscribeFunc calls fn for every envelope addressed to address, in
// publish order, while Publish holds the bus lock. fn must not block or
// use the bus. The subscription's channel only signals closing.
func (b *Bus) SubscribeFunc(address string, fn func(Envelope)) *Subscription {
	return b.subscribe(address, false, fn)
}

// Tap receives every envelope regardless of recipient, for transcripts.
func (b *Bus) Tap() *Subscription {
	return b.subscribe("", true, nil)
}

func (b *Bus) subscribe(address string, tap bool, fn func(Envelope)) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextSub++
	sub := &Subscription{
		id:      b.nextSub,
		address: address,
		tap:     tap,
		handle:  fn,
		ch:      make(chan Envelope, b.buffer),
		bus:     b,
	}
	if b.closed {
		close(sub.ch)
		sub.once.Do(func() {})
		return sub
	}
	b.subs[sub.id] = sub
	return sub
}

func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub.once.Do(func() {
		delete(b.subs, sub.id)
		close(sub.ch)
	})
}

// History returns a copy of every envelope published so far, in order.
func (b *Bus) History() []Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Envelope(nil), b.log...)
}

// Close rejects further publishes and closes every subscription.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, sub := range b.subs {
		sub.once.Do(func() {
			close(sub.ch)
		})
	}
	b.subs = make(map[uint64]*Subscription)
}
