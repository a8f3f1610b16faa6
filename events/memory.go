package events

import (
	"sync"
	"sync/atomic"
)

// MemoryBus implements Bus using in-memory channels.
type MemoryBus struct {
	config Config

	mu     sync.RWMutex
	subs   []*memorySub
	closed atomic.Bool
}

type memorySub struct {
	pattern string
	ch      chan *Message
	closed  bool // guarded by bus.mu
	bus     *MemoryBus
}

var _ Bus = (*MemoryBus)(nil)

// NewMemoryBus creates a new in-memory bus.
func NewMemoryBus(cfg Config) *MemoryBus {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	return &MemoryBus{config: cfg}
}

// Publish sends a message to every matching subscriber. Subscribers with a
// full buffer miss the message.
func (b *MemoryBus) Publish(subject string, data []byte) error {
	if err := ValidateSubject(subject); err != nil {
		return err
	}
	if b.closed.Load() {
		return ErrClosed
	}

	msg := &Message{
		Subject: subject,
		Data:    data,
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if sub.closed || !MatchSubject(sub.pattern, subject) {
			continue
		}
		select {
		case sub.ch <- msg:
		default:
			// Buffer full, drop message
		}
	}
	return nil
}

// Subscribe creates a subscription to a subject pattern.
func (b *MemoryBus) Subscribe(subject string) (Subscription, error) {
	if subject == "" {
		return nil, ErrInvalidSubject
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed.Load() {
		return nil, ErrClosed
	}

	sub := &memorySub{
		pattern: subject,
		ch:      make(chan *Message, b.config.BufferSize),
		bus:     b,
	}
	b.subs = append(b.subs, sub)
	return sub, nil
}

// Close shuts down the bus.
func (b *MemoryBus) Close() error {
	if b.closed.Swap(true) {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs {
		if !sub.closed {
			sub.closed = true
			close(sub.ch)
		}
	}
	b.subs = nil
	return nil
}

// Messages returns the message channel.
func (s *memorySub) Messages() <-chan *Message {
	return s.ch
}

// Unsubscribe cancels the subscription.
func (s *memorySub) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	close(s.ch)

	for i, sub := range s.bus.subs {
		if sub == s {
			s.bus.subs = append(s.bus.subs[:i], s.bus.subs[i+1:]...)
			break
		}
	}
	return nil
}
