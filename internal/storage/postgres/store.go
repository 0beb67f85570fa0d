package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"logsift/internal/model"
)

// Store provides Postgres persistence for the optional relational archive of
// flushed log entries.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	// The archive often starts alongside its database; give it a few
	// attempts before giving up.
	if err := withRetry(ctx, 3, 500*time.Millisecond, pool.Ping); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping archive database: %w", err)
	}
	return &Store{pool: pool}, nil
}

func withRetry(ctx context.Context, maxRetries int, baseDelay time.Duration, fn func(context.Context) error) error {
	delay := baseDelay
	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if attempt >= maxRetries {
			return err
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
	}
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// ArchiveEntries inserts a batch of parsed entries. Entries are written
// append-only; the archive never mutates existing rows.
func (s *Store) ArchiveEntries(ctx context.Context, entries []model.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, entry := range entries {
		batch.Queue(`
			INSERT INTO log_entries (
				ts, level, service_name, message, exception,
				host_name, host_ip, raw_log, destination, metadata, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
		`,
			entry.Timestamp,
			entry.Level,
			entry.ServiceName,
			entry.Message,
			entry.Exception,
			entry.HostName,
			entry.HostIP,
			entry.RawLog,
			entry.Destination,
			entry.Metadata,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range entries {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}
