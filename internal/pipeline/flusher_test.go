package pipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"logsift/internal/model"
)

type recordingWriter struct {
	mu      sync.Mutex
	batches map[string][][]model.LogEntry
	failOn  map[string]bool
}

func newRecordingWriter(failOn ...string) *recordingWriter {
	w := &recordingWriter{
		batches: make(map[string][][]model.LogEntry),
		failOn:  make(map[string]bool),
	}
	for _, index := range failOn {
		w.failOn[index] = true
	}
	return w
}

func (w *recordingWriter) BulkIndex(_ context.Context, index string, entries []model.LogEntry) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failOn[index] {
		return fmt.Errorf("bulk write to %s refused", index)
	}
	w.batches[index] = append(w.batches[index], entries)
	return nil
}

func (w *recordingWriter) written(index string) []model.LogEntry {
	w.mu.Lock()
	defer w.mu.Unlock()
	var all []model.LogEntry
	for _, batch := range w.batches[index] {
		all = append(all, batch...)
	}
	return all
}

func enqueueFor(t *testing.T, q *Queue, destination string, raws ...string) {
	t.Helper()
	for _, raw := range raws {
		entry := model.NewLogEntry(raw)
		entry.Destination = destination
		if !q.Enqueue(entry) {
			t.Fatalf("enqueue failed for %q", raw)
		}
	}
}

func TestFlushGroupsByDestination(t *testing.T) {
	q := NewQueue(100, time.Millisecond)
	writer := newRecordingWriter()
	f := NewFlusher(FlusherConfig{}, q, writer, nil, nil)

	enqueueFor(t, q, "app_a", "a1", "a2")
	enqueueFor(t, q, "app_b", "b1")
	enqueueFor(t, q, "app_a", "a3")

	f.FlushOnce(context.Background())

	gotA := writer.written("app_a")
	if len(gotA) != 3 || gotA[0].RawLog != "a1" || gotA[1].RawLog != "a2" || gotA[2].RawLog != "a3" {
		t.Fatalf("app_a batch wrong: %+v", gotA)
	}
	if len(writer.written("app_b")) != 1 {
		t.Fatalf("app_b batch wrong")
	}
	if len(q.DrainUpTo(10)) != 0 {
		t.Fatalf("queue should be drained")
	}
}

func TestFlushIsolatesDestinationFailure(t *testing.T) {
	q := NewQueue(100, time.Millisecond)
	writer := newRecordingWriter("app_a")
	f := NewFlusher(FlusherConfig{}, q, writer, nil, nil)

	enqueueFor(t, q, "app_a", "a1")
	enqueueFor(t, q, "app_b", "b1", "b2")

	f.FlushOnce(context.Background())

	if got := writer.written("app_b"); len(got) != 2 {
		t.Fatalf("app_b should survive app_a failure: %+v", got)
	}
	if len(writer.written("app_a")) != 0 {
		t.Fatalf("app_a write should have failed")
	}
	// Failed entries are not re-queued; the design is at-most-once.
	if len(q.DrainUpTo(10)) != 0 {
		t.Fatalf("failed batch must not be re-queued")
	}
}

func TestFlushEmptyDrainIsNoop(t *testing.T) {
	q := NewQueue(10, time.Millisecond)
	writer := newRecordingWriter()
	f := NewFlusher(FlusherConfig{}, q, writer, nil, nil)

	f.FlushOnce(context.Background())

	if len(writer.batches) != 0 {
		t.Fatalf("no writes expected on empty drain")
	}
}

func TestFlushRespectsDrainMax(t *testing.T) {
	q := NewQueue(100, time.Millisecond)
	writer := newRecordingWriter()
	f := NewFlusher(FlusherConfig{DrainMax: 2}, q, writer, nil, nil)

	enqueueFor(t, q, "app_a", "a1", "a2", "a3")

	f.FlushOnce(context.Background())

	if got := writer.written("app_a"); len(got) != 2 {
		t.Fatalf("drain max not respected: %d", len(got))
	}
	if q.Len() != 1 {
		t.Fatalf("one entry should remain queued, got %d", q.Len())
	}
}

type recordingArchiver struct {
	mu      sync.Mutex
	entries []model.LogEntry
	err     error
}

func (a *recordingArchiver) ArchiveEntries(_ context.Context, entries []model.LogEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.entries = append(a.entries, entries...)
	return nil
}

func TestFlushArchivesDrainedCycle(t *testing.T) {
	q := NewQueue(10, time.Millisecond)
	writer := newRecordingWriter()
	archive := &recordingArchiver{}
	f := NewFlusher(FlusherConfig{}, q, writer, archive, nil)

	enqueueFor(t, q, "app_a", "a1", "a2")
	f.FlushOnce(context.Background())

	if len(archive.entries) != 2 {
		t.Fatalf("archive should see the drained cycle: %d", len(archive.entries))
	}
}

func TestFlushArchiveFailureDoesNotAffectBulkPath(t *testing.T) {
	q := NewQueue(10, time.Millisecond)
	writer := newRecordingWriter()
	archive := &recordingArchiver{err: fmt.Errorf("pg down")}
	f := NewFlusher(FlusherConfig{}, q, writer, archive, nil)

	enqueueFor(t, q, "app_a", "a1")
	f.FlushOnce(context.Background())

	if len(writer.written("app_a")) != 1 {
		t.Fatalf("bulk path should be unaffected by archive failure")
	}
}

func TestFlusherRunDrainsOnShutdown(t *testing.T) {
	q := NewQueue(10, time.Millisecond)
	writer := newRecordingWriter()
	f := NewFlusher(FlusherConfig{Interval: time.Hour, ShutdownGrace: time.Second}, q, writer, nil, nil)

	enqueueFor(t, q, "app_a", "a1")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.Run(ctx)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("flusher did not stop")
	}

	if len(writer.written("app_a")) != 1 {
		t.Fatalf("final cycle should drain pending entries")
	}
}

func TestFlusherRunShutdownDrainsPastDrainMax(t *testing.T) {
	q := NewQueue(10, time.Millisecond)
	writer := newRecordingWriter()
	f := NewFlusher(FlusherConfig{Interval: time.Hour, DrainMax: 2, ShutdownGrace: time.Second}, q, writer, nil, nil)

	enqueueFor(t, q, "app_a", "a1", "a2", "a3", "a4", "a5")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.Run(ctx)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("flusher did not stop")
	}

	if got := writer.written("app_a"); len(got) != 5 {
		t.Fatalf("shutdown drain should empty the queue, wrote %d", len(got))
	}
	if q.Len() != 0 {
		t.Fatalf("queue should be empty after shutdown, holds %d", q.Len())
	}
}
