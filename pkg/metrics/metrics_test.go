package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestInitMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	prometheus.DefaultRegisterer = reg
	prometheus.DefaultGatherer = reg

	m := InitMetrics("test", "service")

	if m == nil {
		t.Fatal("InitMetrics returned nil")
	}

	if m.TasksTotal == nil {
		t.Error("TasksTotal should not be nil")
	}
	if m.FleetRequestsTotal == nil {
		t.Error("FleetRequestsTotal should not be nil")
	}
	if m.ShelfDropsTotal == nil {
		t.Error("ShelfDropsTotal should not be nil")
	}
}

func TestGet(t *testing.T) {
	defaultMetrics = nil

	m := Get()
	if m == nil {
		t.Error("Get() should not return nil")
	}

	m2 := Get()
	if m2 != m {
		t.Error("Get() should return same instance")
	}
}

func TestRecordTask(t *testing.T) {
	reg := prometheus.NewRegistry()
	prometheus.DefaultRegisterer = reg
	prometheus.DefaultGatherer = reg

	m := InitMetrics("test", "task")

	m.RecordTask("robot-1", "DONE", 5*time.Second)
	m.RecordTask("robot-1", "FAILED", 2*time.Second)
}

func TestRecordStepAndRetry(t *testing.T) {
	reg := prometheus.NewRegistry()
	prometheus.DefaultRegisterer = reg
	prometheus.DefaultGatherer = reg

	m := InitMetrics("test", "step")

	m.RecordStep("move_shelf", "SUCCESS", 100*time.Millisecond)
	m.RecordRetry("move_shelf")
}

func TestRecordFleetRequest(t *testing.T) {
	reg := prometheus.NewRegistry()
	prometheus.DefaultRegisterer = reg
	prometheus.DefaultGatherer = reg

	m := InitMetrics("test", "fleet")

	m.RecordFleetRequest("move_to_location", "ok", 50*time.Millisecond)
	m.RecordFleetRequest("move_to_location", "error", 10*time.Millisecond)
}

func TestRecordShelfEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	prometheus.DefaultRegisterer = reg
	prometheus.DefaultGatherer = reg

	m := InitMetrics("test", "shelf")

	m.RecordShelfPoll("robot-1")
	m.RecordShelfDrop("robot-1")
}

func TestRecordScan(t *testing.T) {
	reg := prometheus.NewRegistry()
	prometheus.DefaultRegisterer = reg
	prometheus.DefaultGatherer = reg

	m := InitMetrics("test", "scan")

	m.RecordScan(true)
	m.RecordScan(false)
}

func TestSetServiceInfo(t *testing.T) {
	reg := prometheus.NewRegistry()
	prometheus.DefaultRegisterer = reg
	prometheus.DefaultGatherer = reg

	m := InitMetrics("test", "info")

	m.SetServiceInfo("1.0.0", "production")
}

func TestHandler(t *testing.T) {
	handler := Handler()
	if handler == nil {
		t.Error("Handler() should not return nil")
	}
}

