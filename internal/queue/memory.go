package queue

import (
	"context"
	"sync"
	"time"
)

// MemoryBroker is a channel-backed broker for tests and dev runs without
// Redis. Results never expire.
type MemoryBroker struct {
	tasks chan []byte

	mu      sync.RWMutex
	results map[string][]byte
	closed  bool
}

// NewMemoryBroker returns a broker buffering up to 1024 pending tasks.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		tasks:   make(chan []byte, 1024),
		results: make(map[string][]byte),
	}
}

func (b *MemoryBroker) Push(ctx context.Context, payload []byte) error {
	select {
	case b.tasks <- payload:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *MemoryBroker) Pop(ctx context.Context, wait time.Duration) ([]byte, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case payload := <-b.tasks:
		return payload, nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *MemoryBroker) SetResult(ctx context.Context, taskID string, payload []byte, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.results[taskID] = payload
	return nil
}

func (b *MemoryBroker) GetResult(ctx context.Context, taskID string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	blob, ok := b.results[taskID]
	if !ok {
		return nil, ErrResultNotFound
	}
	return blob, nil
}

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Pending reports queued tasks not yet popped. Test helper.
func (b *MemoryBroker) Pending() int {
	return len(b.tasks)
}
