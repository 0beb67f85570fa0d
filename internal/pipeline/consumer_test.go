package pipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"logsift/internal/indexmap"
	"logsift/internal/kafka"
	"logsift/internal/logparse"
	"logsift/internal/model"
)

type fakeSource struct {
	mu      sync.Mutex
	fetches []kgo.Fetches
	commits int
	polls   []time.Time
}

func (f *fakeSource) PollFetches(ctx context.Context) kgo.Fetches {
	f.mu.Lock()
	f.polls = append(f.polls, time.Now())
	if len(f.fetches) == 0 {
		f.mu.Unlock()
		<-ctx.Done()
		return kgo.Fetches{}
	}
	next := f.fetches[0]
	f.fetches = f.fetches[1:]
	f.mu.Unlock()
	return next
}

func (f *fakeSource) CommitUncommitted(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits++
	return nil
}

func (f *fakeSource) Close() {}

func (f *fakeSource) drained() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fetches) == 0 && f.commits > 0
}

func fetchesFor(topic string, lines ...string) kgo.Fetches {
	records := make([]*kgo.Record, 0, len(lines))
	for _, line := range lines {
		records = append(records, &kgo.Record{Topic: topic, Value: []byte(line)})
	}
	return kgo.Fetches{{
		Topics: []kgo.FetchTopic{{
			Topic: topic,
			Partitions: []kgo.FetchPartition{{
				Partition: 0,
				Records:   records,
			}},
		}},
	}}
}

type staticFetcher struct {
	mapping map[string]string
}

func (s *staticFetcher) FetchTopicIndexMap(context.Context) (map[string]string, error) {
	return s.mapping, nil
}

func runConsumerOnce(t *testing.T, source *fakeSource, overrides map[string]string) *Queue {
	t.Helper()

	queue := NewQueue(100, 10*time.Millisecond)
	cache := indexmap.NewCache(&staticFetcher{mapping: overrides}, nil)
	cache.Refresh(context.Background())

	cfg := ConsumerConfig{
		Tenant:      "acme",
		Topics:      []string{"acme_orders"},
		Group:       "acme_group",
		Concurrency: 1,
	}
	tc := NewTenantConsumer(cfg, func() (kafka.Consumer, error) { return source, nil },
		logparse.New(""), queue, cache, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		tc.Run(ctx)
	}()

	deadline := time.After(2 * time.Second)
	for !source.drained() {
		select {
		case <-deadline:
			t.Fatalf("consumer did not drain its fetches")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done

	return queue
}

func TestConsumerReassemblesAndEnqueues(t *testing.T) {
	source := &fakeSource{fetches: []kgo.Fetches{fetchesFor("acme_orders",
		"2024-01-01 10:00:00,123 [t1] INFO svcA - Hello",
		"continuation",
		"2024-01-01 10:00:01,000 [t1] ERROR svcA - Bye",
	)}}

	queue := runConsumerOnce(t, source, nil)

	batch := queue.DrainUpTo(10)
	if len(batch) != 2 {
		t.Fatalf("expected 2 entries, got %d: %+v", len(batch), batch)
	}
	if batch[0].RawLog != "2024-01-01 10:00:00,123 [t1] INFO svcA - Hello\ncontinuation\n" {
		t.Fatalf("entry 1 raw mismatch: %q", batch[0].RawLog)
	}
	if batch[0].Level != "INFO" || batch[1].Level != "ERROR" {
		t.Fatalf("levels not parsed: %q %q", batch[0].Level, batch[1].Level)
	}
	if source.commits == 0 {
		t.Fatalf("offsets should be committed after enqueue")
	}
}

func TestConsumerDestinationStripsTenantPrefix(t *testing.T) {
	source := &fakeSource{fetches: []kgo.Fetches{fetchesFor("acme_orders",
		"2024-01-01 10:00:00,123 [t1] INFO svcA - Hello",
	)}}

	queue := runConsumerOnce(t, source, nil)

	batch := queue.DrainUpTo(1)
	if len(batch) != 1 || batch[0].Destination != "orders" {
		t.Fatalf("destination mismatch: %+v", batch)
	}
}

func TestConsumerDestinationUsesOverride(t *testing.T) {
	source := &fakeSource{fetches: []kgo.Fetches{fetchesFor("acme_orders",
		"2024-01-01 10:00:00,123 [t1] INFO svcA - Hello",
	)}}

	queue := runConsumerOnce(t, source, map[string]string{"acme_orders": "orders-v2"})

	batch := queue.DrainUpTo(1)
	if len(batch) != 1 || batch[0].Destination != "orders-v2" {
		t.Fatalf("override not applied: %+v", batch)
	}
}

func TestConsumerPausesNextPollUnderQueuePressure(t *testing.T) {
	// 19 entries into a capacity-20 queue pushes occupancy past the default
	// 0.9 ratio; the batch in hand is still enqueued, only the next poll
	// waits out the pause.
	lines := make([]string, 0, 19)
	for i := 0; i < 19; i++ {
		lines = append(lines, fmt.Sprintf("2024-01-01 10:00:%02d,000 [t1] INFO svcA - msg %d", i, i))
	}
	source := &fakeSource{fetches: []kgo.Fetches{
		fetchesFor("acme_orders", lines...),
		fetchesFor("acme_orders", "2024-01-01 10:01:00,000 [t1] INFO svcA - last"),
	}}

	queue := NewQueue(20, 10*time.Millisecond)
	cache := indexmap.NewCache(&staticFetcher{}, nil)

	pause := 150 * time.Millisecond
	cfg := ConsumerConfig{
		Tenant:            "acme",
		Topics:            []string{"acme_orders"},
		Group:             "acme_group",
		Concurrency:       1,
		BackpressurePause: pause,
	}
	tc := NewTenantConsumer(cfg, func() (kafka.Consumer, error) { return source, nil },
		logparse.New(""), queue, cache, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		tc.Run(ctx)
	}()

	deadline := time.After(2 * time.Second)
	for !source.drained() {
		select {
		case <-deadline:
			t.Fatalf("consumer did not drain its fetches")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done

	if queue.Len() != 20 {
		t.Fatalf("expected both batches enqueued, queue holds %d", queue.Len())
	}
	if queue.Dropped() != 0 {
		t.Fatalf("pressure pause must not drop entries, dropped %d", queue.Dropped())
	}
	if len(source.polls) < 2 {
		t.Fatalf("expected a second poll, got %d", len(source.polls))
	}
	if gap := source.polls[1].Sub(source.polls[0]); gap < pause {
		t.Fatalf("second poll arrived after %v, want at least %v", gap, pause)
	}
}

func TestConsumerUnparseableRecordStillFlows(t *testing.T) {
	source := &fakeSource{fetches: []kgo.Fetches{fetchesFor("acme_orders",
		"garbage with no shape",
	)}}

	queue := runConsumerOnce(t, source, nil)

	batch := queue.DrainUpTo(1)
	if len(batch) != 1 {
		t.Fatalf("fallback record should still be enqueued")
	}
	if batch[0].Metadata[model.MetaParseFallback] != model.FallbackGrokNoCapture {
		t.Fatalf("fallback tag missing: %v", batch[0].Metadata)
	}
}
