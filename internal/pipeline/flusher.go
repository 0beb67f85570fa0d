package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"logsift/internal/model"
	"logsift/internal/storage"
)

const (
	// DefaultFlushInterval is the flush timer period.
	DefaultFlushInterval = 500 * time.Millisecond
	// DefaultDrainMax caps how many entries one cycle drains.
	DefaultDrainMax = 1000
	// DefaultShutdownGrace bounds the final in-flight cycle on shutdown.
	DefaultShutdownGrace = 5 * time.Second
)

// FlusherConfig holds runtime settings for the flusher.
type FlusherConfig struct {
	Interval      time.Duration
	DrainMax      int
	ShutdownGrace time.Duration
}

// Flusher periodically drains the queue, groups entries by destination, and
// performs one bulk write per destination. A failed destination loses its
// batch for the cycle; other destinations are unaffected.
type Flusher struct {
	cfg     FlusherConfig
	queue   *Queue
	writer  storage.BulkWriter
	archive storage.Archiver
	logger  *zap.Logger
}

// NewFlusher builds a Flusher. The archiver is optional and best-effort.
func NewFlusher(cfg FlusherConfig, queue *Queue, writer storage.BulkWriter, archive storage.Archiver, logger *zap.Logger) *Flusher {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultFlushInterval
	}
	if cfg.DrainMax <= 0 {
		cfg.DrainMax = DefaultDrainMax
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = DefaultShutdownGrace
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Flusher{
		cfg:     cfg,
		queue:   queue,
		writer:  writer,
		archive: archive,
		logger:  logger,
	}
}

// Run flushes on a fixed timer until ctx is cancelled, then keeps draining
// under a bounded grace period so queued entries are not stranded. Entries
// still queued when the grace period expires are lost.
func (f *Flusher) Run(ctx context.Context) {
	ticker := time.NewTicker(f.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			f.drainRemaining()
			return
		case <-ticker.C:
			f.FlushOnce(ctx)
		}
	}
}

func (f *Flusher) drainRemaining() {
	graceCtx, cancel := context.WithTimeout(context.Background(), f.cfg.ShutdownGrace)
	defer cancel()

	for f.queue.Len() > 0 {
		if graceCtx.Err() != nil {
			f.logger.Warn("shutdown grace expired with entries queued",
				zap.Int("remaining", f.queue.Len()))
			return
		}
		f.FlushOnce(graceCtx)
	}
}

// FlushOnce drains one batch and writes it out, grouped by destination.
// An empty drain is a no-op.
func (f *Flusher) FlushOnce(ctx context.Context) {
	batch := f.queue.DrainUpTo(f.cfg.DrainMax)
	if len(batch) == 0 {
		return
	}

	groups := groupByDestination(batch)
	written := 0
	for destination, entries := range groups {
		if err := f.writer.BulkIndex(ctx, destination, entries); err != nil {
			f.logger.Error("bulk write failed",
				zap.String("destination", destination),
				zap.Int("entries", len(entries)),
				zap.Error(err),
			)
			continue
		}
		written += len(entries)
	}

	if f.archive != nil {
		if err := f.archive.ArchiveEntries(ctx, batch); err != nil {
			f.logger.Warn("relational archive failed", zap.Int("entries", len(batch)), zap.Error(err))
		}
	}

	f.logger.Debug("flush cycle complete",
		zap.Int("drained", len(batch)),
		zap.Int("written", written),
		zap.Int("destinations", len(groups)),
	)
}

// groupByDestination builds the per-destination batches for one cycle,
// preserving drain order within each destination.
func groupByDestination(batch []model.LogEntry) map[string][]model.LogEntry {
	groups := make(map[string][]model.LogEntry)
	for _, entry := range batch {
		groups[entry.Destination] = append(groups[entry.Destination], entry)
	}
	return groups
}
