// Package biosensor defines the Bio-sensor Client contract consumed by the
// Task Engine's bio_scan action: produce a valid vital-signs reading for a
// bed, or time out. The interface is the engine's only
// dependency; internal/biosensor/mqtt.go is the concrete adapter.
package biosensor

import "context"

// ScanPayload is the vital-signs reading returned by a successful scan.
type ScanPayload struct {
	BPM     int
	RPM     int
	Details string
}

// Client blocks up to initial_wait + retry_count*wait_time seconds waiting
// for a valid reading for targetBed, tagged with taskID and bedName for the
// scan history trail. It returns (nil, nil) on timeout — callers treat a
// nil payload as "no valid data", not an error.
type Client interface {
	GetValidScanData(ctx context.Context, targetBed, taskID, bedName string) (*ScanPayload, error)
}
