package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"logsift/internal/indexmap"
	"logsift/internal/kafka"
	"logsift/internal/logparse"
	"logsift/internal/tenant"
)

const (
	// DefaultConcurrency is the per-tenant worker count.
	DefaultConcurrency = 3
	// DefaultBackpressureRatio is the queue occupancy above which workers
	// pause before the next poll.
	DefaultBackpressureRatio = 0.9
	// DefaultBackpressurePause is how long a worker pauses under pressure.
	DefaultBackpressurePause = 500 * time.Millisecond
)

// SourceFactory builds one record source per worker so every worker owns an
// independent consumer connection in the tenant's group.
type SourceFactory func() (kafka.Consumer, error)

// ConsumerConfig holds runtime settings for one tenant's consumption unit.
type ConsumerConfig struct {
	Tenant            string
	Topics            []string
	Group             string
	Concurrency       int
	BackpressureRatio float64
	BackpressurePause time.Duration
	HostName          string
	HostIP            string
}

// TenantConsumer runs the reassemble-parse-enqueue pipeline for one tenant.
// Each worker goroutine owns its own source client and its own reassembly
// state; nothing mutable is shared between workers except the queue.
type TenantConsumer struct {
	cfg       ConsumerConfig
	newSource SourceFactory
	parser    *logparse.Parser
	queue     *Queue
	indexes   *indexmap.Cache
	logger    *zap.Logger
}

func NewTenantConsumer(cfg ConsumerConfig, newSource SourceFactory, parser *logparse.Parser, queue *Queue, indexes *indexmap.Cache, logger *zap.Logger) *TenantConsumer {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.BackpressureRatio <= 0 || cfg.BackpressureRatio > 1 {
		cfg.BackpressureRatio = DefaultBackpressureRatio
	}
	if cfg.BackpressurePause <= 0 {
		cfg.BackpressurePause = DefaultBackpressurePause
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TenantConsumer{
		cfg:       cfg,
		newSource: newSource,
		parser:    parser,
		queue:     queue,
		indexes:   indexes,
		logger:    logger.With(zap.String("tenant", cfg.Tenant)),
	}
}

// Run starts the configured number of workers and blocks until all exit.
func (tc *TenantConsumer) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < tc.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			tc.runWorker(ctx, worker)
		}(i)
	}
	wg.Wait()
}

func (tc *TenantConsumer) runWorker(ctx context.Context, worker int) {
	logger := tc.logger.With(zap.Int("worker", worker))

	source, err := tc.newSource()
	if err != nil {
		logger.Error("consumer connect failed", zap.Error(err))
		return
	}
	defer source.Close()

	logger.Info("consumer worker started",
		zap.String("group", tc.cfg.Group),
		zap.Strings("topics", tc.cfg.Topics),
	)

	for {
		if ctx.Err() != nil {
			return
		}

		fetches := source.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return
		}

		fetches.EachError(func(topic string, partition int32, err error) {
			logger.Warn("fetch error",
				zap.String("topic", topic),
				zap.Int32("partition", partition),
				zap.Error(err),
			)
		})

		tc.processFetches(fetches, logger)

		// Acknowledgment happens after enqueue, not after the bulk write;
		// a crash between enqueue and flush loses acknowledged entries.
		if err := source.CommitUncommitted(ctx); err != nil && ctx.Err() == nil {
			logger.Warn("offset commit failed", zap.Error(err))
		}

		// Backpressure slows the next poll; the batch just processed has
		// already been enqueued.
		if tc.queue.Occupancy() > tc.cfg.BackpressureRatio {
			logger.Warn("queue pressure high, pausing intake",
				zap.Int("occupancy", tc.queue.Len()),
				zap.Int("capacity", tc.queue.Cap()),
			)
			select {
			case <-ctx.Done():
				return
			case <-time.After(tc.cfg.BackpressurePause):
			}
		}
	}
}

// processFetches reassembles and enqueues every record in one poll. A fresh
// reassembler per partition batch keeps interleaved streams intact; entries
// still open at the end of the batch are flushed, matching the per-batch
// boundary of the transport.
func (tc *TenantConsumer) processFetches(fetches kgo.Fetches, logger *zap.Logger) {
	fetches.EachPartition(func(ftp kgo.FetchTopicPartition) {
		if len(ftp.Records) == 0 {
			return
		}

		destination := tc.destinationFor(ftp.Topic)
		reassembler := logparse.NewReassembler()

		for _, record := range ftp.Records {
			if entry, ok := reassembler.Feed(string(record.Value)); ok {
				tc.emit(entry, destination, logger)
			}
		}
		if entry, ok := reassembler.Flush(); ok {
			tc.emit(entry, destination, logger)
		}
	})
}

// destinationFor resolves a topic to its index: an admin override when one
// is cached, otherwise the topic with the tenant prefix stripped.
func (tc *TenantConsumer) destinationFor(topic string) string {
	if index, ok := tc.indexes.Override(topic); ok {
		return index
	}
	return tenant.DefaultIndex(topic, tc.cfg.Tenant)
}

func (tc *TenantConsumer) emit(rawLog, destination string, logger *zap.Logger) {
	entry := tc.parser.Parse(rawLog)
	entry.Destination = destination
	entry.HostName = tc.cfg.HostName
	entry.HostIP = tc.cfg.HostIP

	if !tc.queue.Enqueue(entry) {
		logger.Warn("queue full, dropping log entry",
			zap.String("destination", destination),
			zap.Int64("dropped_total", tc.queue.Dropped()),
		)
	}
}
