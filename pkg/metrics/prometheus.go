package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the global container of Prometheus collectors for the runtime.
type Metrics struct {
	// Task lifecycle
	TasksTotal       *prometheus.CounterVec
	TaskDuration     *prometheus.HistogramVec
	TasksInProgress  *prometheus.GaugeVec

	// Step execution
	StepsTotal    *prometheus.CounterVec
	StepDuration  *prometheus.HistogramVec
	StepRetries   *prometheus.CounterVec

	// Fleet RPC
	FleetRequestsTotal   *prometheus.CounterVec
	FleetRequestDuration *prometheus.HistogramVec

	// Shelf monitor
	ShelfDropsTotal  *prometheus.CounterVec
	ShelfPollsTotal  *prometheus.CounterVec

	// Bio-sensor
	ScansTotal *prometheus.CounterVec

	// System
	MemoryUsage *prometheus.GaugeVec
	Goroutines  prometheus.Gauge

	ServiceInfo *prometheus.GaugeVec
}

var defaultMetrics *Metrics

// InitMetrics initializes the metric collectors.
func InitMetrics(namespace, subsystem string) *Metrics {
	m := &Metrics{
		TasksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "tasks_total",
				Help:      "Total number of tasks reaching a terminal state",
			},
			[]string{"robot_id", "status"},
		),

		TaskDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "task_duration_seconds",
				Help:      "Duration of a task execution from dispatch to terminal state",
				Buckets:   []float64{.5, 1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"robot_id"},
		),

		TasksInProgress: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "tasks_in_progress",
				Help:      "Number of tasks currently IN_PROGRESS, per robot",
			},
			[]string{"robot_id"},
		),

		StepsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "steps_total",
				Help:      "Total number of steps reaching a terminal status",
			},
			[]string{"action", "status"},
		),

		StepDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "step_duration_seconds",
				Help:      "Duration of a single step's action dispatch",
				Buckets:   []float64{.1, .5, 1, 5, 15, 30, 60, 120},
			},
			[]string{"action"},
		),

		StepRetries: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "step_retries_total",
				Help:      "Total number of retry attempts issued by the Retry Policy",
			},
			[]string{"action"},
		),

		FleetRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "fleet_requests_total",
				Help:      "Total number of Fleet Gateway operations",
			},
			[]string{"operation", "status"},
		),

		FleetRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "fleet_request_duration_seconds",
				Help:      "Duration of Fleet Gateway operations",
				Buckets:   []float64{.01, .05, .1, .5, 1, 5, 15, 30},
			},
			[]string{"operation"},
		),

		ShelfDropsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "shelf_drops_total",
				Help:      "Total number of shelf-drop events detected by the shelf monitor",
			},
			[]string{"robot_id"},
		),

		ShelfPollsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "shelf_monitor_polls_total",
				Help:      "Total number of get_moving_shelf polls issued by the shelf monitor",
			},
			[]string{"robot_id"},
		),

		ScansTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "bio_scans_total",
				Help:      "Total number of bio-scan attempts, by validity",
			},
			[]string{"is_valid"},
		),

		MemoryUsage: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "memory_usage_bytes",
				Help:      "Current memory usage",
			},
			[]string{"type"},
		),

		Goroutines: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "goroutines",
				Help:      "Current number of goroutines",
			},
		),

		ServiceInfo: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "service_info",
				Help:      "Service information",
			},
			[]string{"version", "environment"},
		),
	}

	defaultMetrics = m
	return m
}

// Get returns the global metrics, initializing with defaults if necessary.
func Get() *Metrics {
	if defaultMetrics == nil {
		return InitMetrics("biopatrol", "")
	}
	return defaultMetrics
}

// RecordTask records the terminal outcome and duration of a task.
func (m *Metrics) RecordTask(robotID, status string, duration time.Duration) {
	m.TasksTotal.WithLabelValues(robotID, status).Inc()
	m.TaskDuration.WithLabelValues(robotID).Observe(duration.Seconds())
}

// RecordStep records the terminal status and duration of a step.
func (m *Metrics) RecordStep(action, status string, duration time.Duration) {
	m.StepsTotal.WithLabelValues(action, status).Inc()
	m.StepDuration.WithLabelValues(action).Observe(duration.Seconds())
}

// RecordRetry records one retry attempt for an action.
func (m *Metrics) RecordRetry(action string) {
	m.StepRetries.WithLabelValues(action).Inc()
}

// RecordFleetRequest records a single Fleet Gateway operation.
func (m *Metrics) RecordFleetRequest(operation, status string, duration time.Duration) {
	m.FleetRequestsTotal.WithLabelValues(operation, status).Inc()
	m.FleetRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordShelfDrop records a detected shelf drop for a robot.
func (m *Metrics) RecordShelfDrop(robotID string) {
	m.ShelfDropsTotal.WithLabelValues(robotID).Inc()
}

// RecordShelfPoll records one shelf-monitor poll tick for a robot.
func (m *Metrics) RecordShelfPoll(robotID string) {
	m.ShelfPollsTotal.WithLabelValues(robotID).Inc()
}

// RecordScan records one bio-scan attempt.
func (m *Metrics) RecordScan(isValid bool) {
	m.ScansTotal.WithLabelValues(strconv.FormatBool(isValid)).Inc()
}

// SetServiceInfo sets the service info gauge.
func (m *Metrics) SetServiceInfo(version, environment string) {
	m.ServiceInfo.WithLabelValues(version, environment).Set(1)
}

// Handler returns the HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// StartMetricsServer starts the metrics HTTP server.
func StartMetricsServer(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK")) //nolint:errcheck // health endpoint, write error not critical
	})

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return server.ListenAndServe()
}
