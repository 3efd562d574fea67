package es

import (
	"context"
	"sync"
)

// Message is what the publisher hands to the message bus. Data carries the
// encoded Event record; the remaining fields exist so transports can route
// and de-duplicate without decoding the payload.
type Message struct {
	ID            string
	AggregateType string
	AggregateID   string
	Type          string
	Version       Version
	Data          []byte
}

// Bus is the outbound message transport. It must itself be at-least-once;
// the core assumes no transactional coupling between the bus and its own
// storage. Consumers must tolerate duplicate delivery.
type Bus interface {
	Send(ctx context.Context, msg Message) error
	SendBatch(ctx context.Context, msgs []Message) error
}

// InMemoryBus records sent messages. For tests/dev.
type InMemoryBus struct {
	mu   sync.Mutex
	msgs []Message
}

func NewInMemoryBus() *InMemoryBus { return &InMemoryBus{} }

func (b *InMemoryBus) Send(_ context.Context, msg Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, msg)
	return nil
}

func (b *InMemoryBus) SendBatch(_ context.Context, msgs []Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, msgs...)
	return nil
}

// Messages returns a copy of everything sent so far, in send order.
func (b *InMemoryBus) Messages() []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Message, len(b.msgs))
	copy(out, b.msgs)
	return out
}

var _ Bus = (*InMemoryBus)(nil)
