package pipeline

import (
	"testing"
	"time"

	"logsift/internal/model"
)

func TestQueueEnqueueDrainOrder(t *testing.T) {
	q := NewQueue(10, 10*time.Millisecond)

	for _, raw := range []string{"a", "b", "c"} {
		if !q.Enqueue(model.NewLogEntry(raw)) {
			t.Fatalf("enqueue %q failed", raw)
		}
	}

	batch := q.DrainUpTo(2)
	if len(batch) != 2 || batch[0].RawLog != "a" || batch[1].RawLog != "b" {
		t.Fatalf("drain order wrong: %+v", batch)
	}

	batch = q.DrainUpTo(10)
	if len(batch) != 1 || batch[0].RawLog != "c" {
		t.Fatalf("remainder wrong: %+v", batch)
	}
}

func TestQueueEnqueueFullDropsWithinBoundedWait(t *testing.T) {
	q := NewQueue(1, 20*time.Millisecond)

	if !q.Enqueue(model.NewLogEntry("first")) {
		t.Fatalf("first enqueue failed")
	}

	start := time.Now()
	if q.Enqueue(model.NewLogEntry("second")) {
		t.Fatalf("enqueue against a full queue should drop")
	}
	elapsed := time.Since(start)

	if elapsed > 500*time.Millisecond {
		t.Fatalf("enqueue blocked too long: %v", elapsed)
	}
	if q.Dropped() != 1 {
		t.Fatalf("drop not counted: %d", q.Dropped())
	}
}

func TestQueueDrainEmptyNonBlocking(t *testing.T) {
	q := NewQueue(4, time.Millisecond)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if batch := q.DrainUpTo(10); len(batch) != 0 {
			t.Errorf("expected empty drain, got %d", len(batch))
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("drain blocked on empty queue")
	}
}

func TestQueueOccupancy(t *testing.T) {
	q := NewQueue(4, time.Millisecond)
	q.Enqueue(model.NewLogEntry("a"))
	q.Enqueue(model.NewLogEntry("b"))
	q.Enqueue(model.NewLogEntry("c"))

	if got := q.Occupancy(); got != 0.75 {
		t.Fatalf("occupancy: got %v want 0.75", got)
	}
	if q.Len() != 3 || q.Cap() != 4 {
		t.Fatalf("len/cap: %d/%d", q.Len(), q.Cap())
	}
}
