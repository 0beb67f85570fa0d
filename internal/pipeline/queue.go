package pipeline

import (
	"sync/atomic"
	"time"

	"logsift/internal/model"
)

const (
	// DefaultQueueCapacity bounds how many parsed entries may wait for the
	// next flush cycle.
	DefaultQueueCapacity = 100_000
	// DefaultEnqueueWait is the longest a producer blocks for free space
	// before the entry is dropped.
	DefaultEnqueueWait = 50 * time.Millisecond
)

// Queue is a bounded FIFO of parsed entries shared between the consumption
// workers and the flusher. It never blocks producers past the configured
// wait and never grows past its capacity.
type Queue struct {
	entries     chan model.LogEntry
	enqueueWait time.Duration
	dropped     atomic.Int64
}

func NewQueue(capacity int, enqueueWait time.Duration) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	if enqueueWait <= 0 {
		enqueueWait = DefaultEnqueueWait
	}
	return &Queue{
		entries:     make(chan model.LogEntry, capacity),
		enqueueWait: enqueueWait,
	}
}

// Enqueue offers an entry, waiting up to the bounded enqueue wait for space.
// It reports false when the entry had to be dropped.
func (q *Queue) Enqueue(entry model.LogEntry) bool {
	select {
	case q.entries <- entry:
		return true
	default:
	}

	timer := time.NewTimer(q.enqueueWait)
	defer timer.Stop()

	select {
	case q.entries <- entry:
		return true
	case <-timer.C:
		q.dropped.Add(1)
		return false
	}
}

// DrainUpTo removes up to n entries without blocking, returning fewer when
// fewer are available.
func (q *Queue) DrainUpTo(n int) []model.LogEntry {
	if n <= 0 {
		return nil
	}

	var batch []model.LogEntry
	for len(batch) < n {
		select {
		case entry := <-q.entries:
			batch = append(batch, entry)
		default:
			return batch
		}
	}
	return batch
}

// Len returns the current occupancy.
func (q *Queue) Len() int {
	return len(q.entries)
}

// Cap returns the fixed capacity.
func (q *Queue) Cap() int {
	return cap(q.entries)
}

// Occupancy returns the fill ratio in [0, 1].
func (q *Queue) Occupancy() float64 {
	return float64(len(q.entries)) / float64(cap(q.entries))
}

// Dropped returns how many entries were lost to enqueue timeouts.
func (q *Queue) Dropped() int64 {
	return q.dropped.Load()
}
