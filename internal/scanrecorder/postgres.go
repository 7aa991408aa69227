package scanrecorder

import (
	"context"
	"embed"
	"fmt"

	"biopatrol/pkg/database"
)

//go:embed migrations/*.sql
var Migrations embed.FS

const insertRow = `
INSERT INTO scan_history
	(location_id, bed_name, bpm, rpm, status, is_valid, retry_count, details, scanned_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`

// PostgresRecorder appends scan rows through pgx, grounded on the teacher's
// pkg/database pool (biopatrol/pkg/database.DB, backed by pgxpool).
type PostgresRecorder struct {
	db database.DB
}

// NewPostgresRecorder builds a Recorder over an already-connected database.DB.
func NewPostgresRecorder(db database.DB) *PostgresRecorder {
	return &PostgresRecorder{db: db}
}

// Record appends one row to scan_history (see migrations/0001_scan_history.sql).
func (r *PostgresRecorder) Record(ctx context.Context, row Row) error {
	_, err := r.db.Exec(ctx, insertRow,
		row.LocationID, row.BedName, row.BPM, row.RPM,
		row.Status, row.IsValid, row.RetryCount, row.Details, row.ScannedAt,
	)
	if err != nil {
		return fmt.Errorf("scanrecorder: insert row: %w", err)
	}
	return nil
}

var _ Recorder = (*PostgresRecorder)(nil)
