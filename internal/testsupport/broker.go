package testsupport

import (
	"context"
	"sync"
	"time"

	"dramapipe/internal/broker"
)

// Delivery records one publish observed by the fake broker.
type Delivery struct {
	Unit  broker.WorkUnit
	Delay time.Duration
}

// FakeBroker records enqueued work units instead of publishing them, letting
// tests drive the dispatcher directly.
type FakeBroker struct {
	mu         sync.Mutex
	deliveries []Delivery
	closed     bool
}

// NewFakeBroker builds an empty fake broker.
func NewFakeBroker() *FakeBroker {
	return &FakeBroker{}
}

// Enqueue records an immediate delivery.
func (b *FakeBroker) Enqueue(_ context.Context, unit broker.WorkUnit) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deliveries = append(b.deliveries, Delivery{Unit: unit})
	return nil
}

// EnqueueIn records a delayed delivery.
func (b *FakeBroker) EnqueueIn(_ context.Context, unit broker.WorkUnit, delay time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deliveries = append(b.deliveries, Delivery{Unit: unit, Delay: delay})
	return nil
}

// Close marks the broker closed.
func (b *FakeBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Deliveries returns a copy of everything enqueued so far.
func (b *FakeBroker) Deliveries() []Delivery {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Delivery, len(b.deliveries))
	copy(out, b.deliveries)
	return out
}

// Drain removes and returns everything enqueued so far, oldest first.
func (b *FakeBroker) Drain() []Delivery {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.deliveries
	b.deliveries = nil
	return out
}
