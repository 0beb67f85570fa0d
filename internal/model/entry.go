package model

import (
	"encoding/json"
	"time"
)

// Metadata keys reserved for parse diagnostics.
const (
	MetaParseFallback = "parseFallback"
	MetaAssumedZone   = "assumedZone"
)

// Parse fallback reasons recorded under MetaParseFallback.
const (
	FallbackEmptyLog        = "emptyLog"
	FallbackGrokNoCapture   = "grokNoCapture"
	FallbackGrokException   = "grokException"
	FallbackTimestampFailed = "timestampParseFailed"
)

// LogEntry is the structured representation of one logical log event.
// RawLog always carries the original reassembled text; Metadata is never nil.
type LogEntry struct {
	ID          string            `json:"id,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
	Level       string            `json:"level,omitempty"`
	ServiceName string            `json:"serviceName,omitempty"`
	Message     string            `json:"message,omitempty"`
	Exception   string            `json:"exception,omitempty"`
	HostName    string            `json:"hostName,omitempty"`
	HostIP      string            `json:"hostIp,omitempty"`
	RawLog      string            `json:"rawLog"`
	Destination string            `json:"-"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// NewLogEntry builds an entry carrying the raw text and an empty metadata map.
func NewLogEntry(rawLog string) LogEntry {
	return LogEntry{
		RawLog:   rawLog,
		Metadata: make(map[string]string),
	}
}

// Tag records a diagnostic metadata value, allocating the map if needed.
func (e *LogEntry) Tag(key, value string) {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
}

// MarshalJSON ensures LogEntry is encoded with stable field names.
func (e LogEntry) MarshalJSON() ([]byte, error) {
	type Alias LogEntry
	return json.Marshal(Alias(e))
}

// UnmarshalJSON decodes a LogEntry from JSON.
func (e *LogEntry) UnmarshalJSON(data []byte) error {
	type Alias LogEntry
	var a Alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*e = LogEntry(a)
	return nil
}
