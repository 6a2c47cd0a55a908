package sink

import (
	"context"
	"sync"
)

// DefaultMemoryCapacity is used when NewMemorySink gets a non-positive
// capacity.
const DefaultMemoryCapacity = 10000

// MemorySink keeps the most recent failures in memory. Once full, the
// oldest failure is evicted for each new one.
// Suitable for testing and single-instance deployments.
type MemorySink struct {
	mu       sync.RWMutex
	buf      []*Failure
	head     int // index of the oldest entry
	size     int
	reported int64
	evicted  int64
}

// NewMemorySink creates a MemorySink holding at most capacity failures.
func NewMemorySink(capacity int) *MemorySink {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &MemorySink{buf: make([]*Failure, capacity)}
}

// Report implements Sink.
func (m *MemorySink) Report(_ context.Context, f *Failure) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.reported++
	if m.size == len(m.buf) {
		m.buf[m.head] = f
		m.head = (m.head + 1) % len(m.buf)
		m.evicted++
		return nil
	}
	m.buf[(m.head+m.size)%len(m.buf)] = f
	m.size++
	return nil
}

// List returns up to limit failures, oldest first. A non-positive limit
// returns all of them.
func (m *MemorySink) List(limit int) []*Failure {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > m.size {
		limit = m.size
	}
	out := make([]*Failure, 0, limit)
	for i := 0; i < limit; i++ {
		out = append(out, m.buf[(m.head+i)%len(m.buf)])
	}
	return out
}

// Count returns the number of failures held.
func (m *MemorySink) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.size
}

// Clear removes every held failure.
func (m *MemorySink) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.buf)
	m.head, m.size = 0, 0
}

// MemoryStats summarises a MemorySink.
type MemoryStats struct {
	Held     int   // Current number of failures
	Capacity int   // Maximum held
	Reported int64 // Total failures reported
	Evicted  int64 // Total failures evicted for space
}

// Stats returns sink statistics.
func (m *MemorySink) Stats() MemoryStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return MemoryStats{
		Held:     m.size,
		Capacity: len(m.buf),
		Reported: m.reported,
		Evicted:  m.evicted,
	}
}
