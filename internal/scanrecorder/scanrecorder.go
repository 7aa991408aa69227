// Package scanrecorder defines the append-only Scan Recorder contract
// consumed by both the bio-sensor client (real scan attempts) and the Task
// Engine (N/A rows on skips and shelf drops).
package scanrecorder

import (
	"context"
	"time"
)

// Row is one scan history record. Rows are never updated, only appended.
type Row struct {
	LocationID string
	BedName    string
	BPM        int
	RPM        int
	Status     string // "OK", "INVALID", "N/A"
	IsValid    bool
	RetryCount int
	Details    string
	ScannedAt  time.Time
}

// Recorder appends one scan row. Implementations must not block the caller
// on anything beyond the write itself — the engine calls this inline from
// the main loop for skip/drop rows.
type Recorder interface {
	Record(ctx context.Context, row Row) error
}
