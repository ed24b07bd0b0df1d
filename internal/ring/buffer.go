// Package ring is the bounded queue between event publishers and the notify
// dispatcher goroutine.
package ring

import (
	"errors"
	"sync"

	"github.com/slyt3/GetItDone/internal/assert"
)

var (
	ErrFull  = errors.New("ring: queue full")
	ErrEmpty = errors.New("ring: queue empty")
)

// Buffer is a fixed-size FIFO safe for concurrent use. It never grows;
// callers choose what to do with an item that does not fit.
type Buffer[T any] struct {
	mu    sync.Mutex
	slots []T
	start int // oldest item
	size  int
}

func New[T any](capacity int) (*Buffer[T], error) {
	if err := assert.Check(capacity > 0, "ring capacity must be positive, got %d", capacity); err != nil {
		return nil, err
	}
	return &Buffer[T]{slots: make([]T, capacity)}, nil
}

// at maps the i-th queued position to a slot index.
func (b *Buffer[T]) at(i int) int {
	return (b.start + i) % len(b.slots)
}

// Push queues item behind everything already queued.
func (b *Buffer[T]) Push(item T) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.size == len(b.slots) {
		return ErrFull
	}
	b.slots[b.at(b.size)] = item
	b.size++
	return nil
}

// Pop takes the oldest item.
func (b *Buffer[T]) Pop() (T, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var zero T
	if b.size == 0 {
		return zero, ErrEmpty
	}
	item := b.slots[b.start]
	b.slots[b.start] = zero
	b.start = b.at(1)
	b.size--
	return item, nil
}

// Drain takes up to limit items, oldest first, in one lock hold. It returns
// nil when the queue is empty.
func (b *Buffer[T]) Drain(limit int) []T {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := min(limit, b.size)
	if n <= 0 {
		return nil
	}
	out := make([]T, n)
	end := min(b.start+n, len(b.slots))
	head := copy(out, b.slots[b.start:end])
	copy(out[head:], b.slots[:n-head])
	clear(b.slots[b.start:end])
	clear(b.slots[:n-head])
	b.start = b.at(n)
	b.size -= n
	return out
}

func (b *Buffer[T]) IsFull() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size == len(b.slots)
}

func (b *Buffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

func (b *Buffer[T]) Cap() int { return len(b.slots) }
