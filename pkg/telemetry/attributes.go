package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys shared across patrol spans.
const (
	// Task
	AttrTaskID     = "task.id"
	AttrTaskRobot  = "task.robot_id"
	AttrTaskStatus = "task.status"
	AttrTaskSteps  = "task.steps"

	// Step
	AttrStepID     = "step.id"
	AttrStepAction = "step.action"
	AttrStepStatus = "step.status"

	// Shelf
	AttrShelfID      = "shelf.id"
	AttrShelfDropped = "shelf.dropped"

	// Scan
	AttrScanBed   = "scan.bed"
	AttrScanValid = "scan.valid"
)

// TaskAttributes labels a span with one task's identity.
func TaskAttributes(taskID, robotID, status string, steps int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrTaskID, taskID),
		attribute.String(AttrTaskRobot, robotID),
		attribute.String(AttrTaskStatus, status),
		attribute.Int(AttrTaskSteps, steps),
	}
}

// StepAttributes labels a span with one step's identity.
func StepAttributes(stepID, action, status string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrStepID, stepID),
		attribute.String(AttrStepAction, action),
		attribute.String(AttrStepStatus, status),
	}
}

// ScanAttributes labels a span with one scan outcome.
func ScanAttributes(bed string, valid bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrScanBed, bed),
		attribute.Bool(AttrScanValid, valid),
	}
}
