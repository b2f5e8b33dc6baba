package observability

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	coreerrors "factorchain/core/errors"
)

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	engineMetricsOnce sync.Once
	engineRegistry    *EngineMetrics

	keeperMetricsOnce sync.Once
	keeperRegistry    *KeeperMetrics
)

// ModuleMetrics returns the lazily-initialised module metrics registry used to
// record RPC module activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "factorchain",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests segmented by module and method.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "factorchain",
				Subsystem: "rpc",
				Name:      "errors_total",
				Help:      "Total JSON-RPC errors segmented by module, method, and status code.",
			}, []string{"module", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "factorchain",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "factorchain",
				Subsystem: "rpc",
				Name:      "throttles_total",
				Help:      "Count of requests rejected due to throttling policies.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of a module request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *moduleMetrics) Observe(module, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(module, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied module and
// reason. Reasons should be stable strings such as "rate_limit" or "replay".
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(module, reason).Inc()
}

// EngineMetrics tracks ledger transactions executed by the node.
type EngineMetrics struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
}

// Engine returns the singleton metrics registry for node transactions.
func Engine() *EngineMetrics {
	engineMetricsOnce.Do(func() {
		engineRegistry = &EngineMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "factorchain",
				Subsystem: "engine",
				Name:      "operations_total",
				Help:      "Count of ledger operations segmented by operation and error kind.",
			}, []string{"operation", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "factorchain",
				Subsystem: "engine",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for ledger operations including commit.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
		}
		prometheus.MustRegister(engineRegistry.operations, engineRegistry.latency)
	})
	return engineRegistry
}

// Observe records one ledger operation. Failed operations are labelled with
// their error kind so authorization failures and state conflicts can be told
// apart on dashboards.
func (m *EngineMetrics) Observe(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	op := strings.TrimSpace(operation)
	if op == "" {
		op = "unknown"
	}
	outcome := "success"
	if err != nil {
		outcome = coreerrors.KindOf(err).String()
	}
	m.operations.WithLabelValues(op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(duration.Seconds())
}

// KeeperMetrics wraps collectors tracking the default keeper.
type KeeperMetrics struct {
	actions  *prometheus.CounterVec
	scans    prometheus.Counter
	lastScan prometheus.Gauge
}

// Keeper exposes the metrics registry for the keeper daemon.
func Keeper() *KeeperMetrics {
	keeperMetricsOnce.Do(func() {
		keeperRegistry = &KeeperMetrics{
			actions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "factorchain",
				Subsystem: "keeper",
				Name:      "actions_total",
				Help:      "Count of keeper actions segmented by action and outcome.",
			}, []string{"action", "outcome"}),
			scans: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "factorchain",
				Subsystem: "keeper",
				Name:      "scans_total",
				Help:      "Count of completed due-loan scans.",
			}),
			lastScan: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "factorchain",
				Subsystem: "keeper",
				Name:      "last_scan_timestamp_seconds",
				Help:      "Unix time of the most recent completed scan.",
			}),
		}
		prometheus.MustRegister(keeperRegistry.actions, keeperRegistry.scans, keeperRegistry.lastScan)
	})
	return keeperRegistry
}

// RecordAction increments the action counter. Outcomes should be stable
// strings such as "submitted", "skipped" or "failed".
func (m *KeeperMetrics) RecordAction(action, outcome string) {
	if m == nil {
		return
	}
	if action == "" {
		action = "unknown"
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.actions.WithLabelValues(action, outcome).Inc()
}

// RecordScan marks the completion of a scan at the supplied time.
func (m *KeeperMetrics) RecordScan(at time.Time) {
	if m == nil {
		return
	}
	m.scans.Inc()
	m.lastScan.Set(float64(at.Unix()))
}
