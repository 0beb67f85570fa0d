package storage

import (
	"context"

	"logsift/internal/model"
)

// BulkWriter performs a single bulk write of entries into one destination
// index. The flusher calls it once per destination group per cycle.
type BulkWriter interface {
	BulkIndex(ctx context.Context, index string, entries []model.LogEntry) error
}

// Archiver keeps a best-effort relational copy of flushed entries.
type Archiver interface {
	ArchiveEntries(ctx context.Context, entries []model.LogEntry) error
}

// Storage defines a local sink for parsed entries.
type Storage interface {
	PutEntryBatch(entries []model.LogEntry) error
}
