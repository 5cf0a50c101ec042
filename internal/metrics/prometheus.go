// Package metrics provides Prometheus-based metrics collection for gvmscan.
// A nil *PrometheusMetrics is valid and records nothing, so components can
// carry an optional collector without guarding every call.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// Namespace for all gvmscan metrics
	namespace = "gvmscan"

	// Subsystems
	subsystemRun     = "run"
	subsystemGMP     = "gmp"
	subsystemCleanup = "cleanup"
	subsystemReport  = "report"
	subsystemSystem  = "system"
)

// PrometheusMetrics holds all Prometheus metric collectors
type PrometheusMetrics struct {
	// Run metrics
	runsTotal        *prometheus.CounterVec
	runDuration      *prometheus.HistogramVec
	stateTransitions *prometheus.CounterVec
	polls            *prometheus.CounterVec
	taskProgress     prometheus.Gauge
	activeRuns       prometheus.Gauge

	// Command channel metrics
	commandsTotal   *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec
	commandErrors   *prometheus.CounterVec

	// Cleanup metrics
	cleanupObjects *prometheus.CounterVec

	// Report metrics
	reportBytes *prometheus.CounterVec

	// System metrics
	uptime prometheus.GaugeFunc

	startTime time.Time
	registry  *prometheus.Registry
}

// NewPrometheusMetrics creates a new Prometheus metrics instance with all collectors
func NewPrometheusMetrics() *PrometheusMetrics {
	registry := prometheus.NewRegistry()

	pm := &PrometheusMetrics{
		startTime: time.Now(),
		registry:  registry,
	}

	pm.initRunMetrics()
	pm.initGMPMetrics()
	pm.initCleanupMetrics()
	pm.initReportMetrics()
	pm.initSystemMetrics()

	pm.registerMetrics()

	// Register standard Go and process collectors for runtime visibility
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return pm
}

// initRunMetrics initializes orchestration run metrics
func (pm *PrometheusMetrics) initRunMetrics() {
	pm.runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemRun,
			Name:      "total",
			Help:      "Total number of scan runs by profile and outcome",
		},
		[]string{"profile", "outcome"},
	)

	pm.runDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemRun,
			Name:      "duration_seconds",
			Help:      "Duration of scan runs in seconds",
			Buckets:   []float64{60, 300, 900, 1800, 3600, 7200, 14400, 28800, 86400},
		},
		[]string{"profile"},
	)

	pm.stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemRun,
			Name:      "state_transitions_total",
			Help:      "Total number of orchestrator state transitions by state entered",
		},
		[]string{"state"},
	)

	pm.polls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemRun,
			Name:      "polls_total",
			Help:      "Total number of task status polls by result",
		},
		[]string{"result"},
	)

	pm.taskProgress = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemRun,
			Name:      "task_progress_percent",
			Help:      "Last progress reported by the daemon for the running task",
		},
	)

	pm.activeRuns = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemRun,
			Name:      "active",
			Help:      "Number of scan runs in progress",
		},
	)
}

// initGMPMetrics initializes command channel metrics
func (pm *PrometheusMetrics) initGMPMetrics() {
	pm.commandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemGMP,
			Name:      "commands_total",
			Help:      "Total number of management protocol commands by command and status",
		},
		[]string{"command", "status"},
	)

	pm.commandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemGMP,
			Name:      "command_duration_seconds",
			Help:      "Duration of management protocol commands in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
		},
		[]string{"command"},
	)

	pm.commandErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemGMP,
			Name:      "errors_total",
			Help:      "Total number of failed commands by command and error code",
		},
		[]string{"command", "error_type"},
	)
}

// initCleanupMetrics initializes cleanup pass metrics
func (pm *PrometheusMetrics) initCleanupMetrics() {
	pm.cleanupObjects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemCleanup,
			Name:      "objects_total",
			Help:      "Total number of daemon objects handled by cleanup passes by kind and result",
		},
		[]string{"kind", "result"},
	)
}

// initReportMetrics initializes report metrics
func (pm *PrometheusMetrics) initReportMetrics() {
	pm.reportBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemReport,
			Name:      "bytes_total",
			Help:      "Total number of report bytes written by format",
		},
		[]string{"format"},
	)
}

// initSystemMetrics initializes system-related metrics
func (pm *PrometheusMetrics) initSystemMetrics() {
	pm.uptime = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "uptime_seconds",
			Help:      "Application uptime in seconds",
		},
		func() float64 { return time.Since(pm.startTime).Seconds() },
	)
}

// registerMetrics registers all metrics with the Prometheus registry
func (pm *PrometheusMetrics) registerMetrics() {
	// Run metrics
	pm.registry.MustRegister(pm.runsTotal)
	pm.registry.MustRegister(pm.runDuration)
	pm.registry.MustRegister(pm.stateTransitions)
	pm.registry.MustRegister(pm.polls)
	pm.registry.MustRegister(pm.taskProgress)
	pm.registry.MustRegister(pm.activeRuns)

	// Command channel metrics
	pm.registry.MustRegister(pm.commandsTotal)
	pm.registry.MustRegister(pm.commandDuration)
	pm.registry.MustRegister(pm.commandErrors)

	pm.registry.MustRegister(pm.cleanupObjects)
	pm.registry.MustRegister(pm.reportBytes)
	pm.registry.MustRegister(pm.uptime)
}

// GetRegistry returns the Prometheus registry for HTTP handler
func (pm *PrometheusMetrics) GetRegistry() *prometheus.Registry {
	if pm == nil {
		return nil
	}
	return pm.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (pm *PrometheusMetrics) Handler() http.Handler {
	if pm == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(pm.registry, promhttp.HandlerOpts{})
}

// WriteTextfile writes the registry for the node-exporter textfile collector.
func (pm *PrometheusMetrics) WriteTextfile(path string) error {
	if pm == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, pm.registry)
}

// Run Metrics Methods

// RunStarted marks a run as active.
func (pm *PrometheusMetrics) RunStarted() {
	if pm == nil {
		return
	}
	pm.activeRuns.Inc()
}

// RunFinished records the outcome and duration of a run.
func (pm *PrometheusMetrics) RunFinished(profile, outcome string, duration time.Duration) {
	if pm == nil {
		return
	}
	pm.activeRuns.Dec()
	pm.runsTotal.WithLabelValues(profile, outcome).Inc()
	pm.runDuration.WithLabelValues(profile).Observe(duration.Seconds())
}

// RecordStateTransition counts entry into an orchestrator state.
func (pm *PrometheusMetrics) RecordStateTransition(state string) {
	if pm == nil {
		return
	}
	pm.stateTransitions.WithLabelValues(state).Inc()
}

// RecordPoll counts one status poll.
func (pm *PrometheusMetrics) RecordPoll(result string) {
	if pm == nil {
		return
	}
	pm.polls.WithLabelValues(result).Inc()
}

// SetTaskProgress sets the last observed task progress.
func (pm *PrometheusMetrics) SetTaskProgress(percent int) {
	if pm == nil {
		return
	}
	pm.taskProgress.Set(float64(percent))
}

// Command Channel Metrics Methods

// RecordCommand records one command round trip. errorType is empty on success.
func (pm *PrometheusMetrics) RecordCommand(command string, duration time.Duration, errorType string) {
	if pm == nil {
		return
	}
	status := "success"
	if errorType != "" {
		status = "error"
		pm.commandErrors.WithLabelValues(command, errorType).Inc()
	}
	pm.commandsTotal.WithLabelValues(command, status).Inc()
	pm.commandDuration.WithLabelValues(command).Observe(duration.Seconds())
}

// Cleanup Metrics Methods

// RecordCleanupObject counts one object handled by a cleanup pass.
func (pm *PrometheusMetrics) RecordCleanupObject(kind, result string) {
	if pm == nil {
		return
	}
	pm.cleanupObjects.WithLabelValues(kind, result).Inc()
}

// Report Metrics Methods

// RecordReportBytes counts bytes written for a report format.
func (pm *PrometheusMetrics) RecordReportBytes(format string, n int) {
	if pm == nil {
		return
	}
	pm.reportBytes.WithLabelValues(format).Add(float64(n))
}

// GetUptime returns the application uptime
func (pm *PrometheusMetrics) GetUptime() time.Duration {
	return time.Since(pm.startTime)
}

// Global instance for easy access
var globalMetrics *PrometheusMetrics
var metricsOnce sync.Once

// GetGlobalMetrics returns the global Prometheus metrics instance
func GetGlobalMetrics() *PrometheusMetrics {
	metricsOnce.Do(func() {
		globalMetrics = NewPrometheusMetrics()
	})
	return globalMetrics
}
