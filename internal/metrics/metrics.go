// Package metrics owns the Prometheus registry for the public server and
// the instruments the rate limiter and tool store report into.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/linnemanlabs/toolsdir-web/internal/version"
)

type ServerMetrics struct {
	reg     *prometheus.Registry
	handler http.Handler

	inflight       prometheus.Gauge
	reqTotal       *prometheus.CounterVec
	reqDur         *prometheus.HistogramVec
	respBytes      *prometheus.HistogramVec
	errorsTotal    *prometheus.CounterVec
	httpPanicTotal prometheus.Counter

	buildInfo       *prometheus.GaugeVec
	profilingActive prometheus.Gauge

	ratelimitDenied     *prometheus.CounterVec
	ratelimitCapacity   prometheus.Counter
	ratelimitEntries    prometheus.Gauge
	ratelimitSweeps     prometheus.Counter
	ratelimitSweptTotal prometheus.Counter

	storeOps      *prometheus.CounterVec
	storeDuration *prometheus.HistogramVec
	toolsTotal    prometheus.Gauge
}

// New returns a private registry with the go and process collectors and
// every server instrument. Labels are bounded: method, chi route, status,
// quota class and store operation.
func New() *ServerMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &ServerMetrics{
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Current number of in-flight HTTP requests",
		}),
		reqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		}, []string{"method", "route", "status"}),
		reqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request latency by method and route",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"method", "route"}),
		respBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Response size by method and route",
			Buckets: prometheus.ExponentialBuckets(128, 4, 8),
		}, []string{"method", "route"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total 5xx HTTP server errors by method and route (SLI)",
		}, []string{"method", "route"}),
		httpPanicTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_panic_total",
			Help: "Total number of recovered handler panics",
		}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "component", "version", "commit", "build_id", "build_date", "vcs_dirty", "go_version"}),
		profilingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "profiling_active",
			Help: "Whether continuous profiling is active (1) or disabled/failed (0)",
		}),
		ratelimitDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ratelimit_denied_total",
			Help: "Requests rejected by the rate limiter by quota class",
		}, []string{"class"}),
		ratelimitCapacity: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ratelimit_capacity_reached_total",
			Help: "Times the rate limit registry filled up",
		}),
		ratelimitEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ratelimit_registry_entries",
			Help: "Entries in the rate limit registry after the last sweep",
		}),
		ratelimitSweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ratelimit_sweeps_total",
			Help: "Background sweeps of the rate limit registry",
		}),
		ratelimitSweptTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ratelimit_swept_entries_total",
			Help: "Expired rate limit entries removed by sweeps",
		}),
		storeOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "directory_store_operations_total",
			Help: "Tool store operations by operation and result",
		}, []string{"op", "result"}),
		storeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "directory_store_operation_duration_seconds",
			Help:    "Tool store operation latency",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"op"}),
		toolsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "directory_tools",
			Help: "Tools in the directory at startup or after the last write",
		}),
	}
	reg.MustRegister(
		m.inflight,
		m.reqTotal,
		m.reqDur,
		m.respBytes,
		m.errorsTotal,
		m.httpPanicTotal,
		m.buildInfo,
		m.profilingActive,
		m.ratelimitDenied,
		m.ratelimitCapacity,
		m.ratelimitEntries,
		m.ratelimitSweeps,
		m.ratelimitSweptTotal,
		m.storeOps,
		m.storeDuration,
		m.toolsTotal,
	)

	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
	m.reg = reg
	return m
}

func (m *ServerMetrics) Handler() http.Handler { return m.handler }

// Registry exposes the registry for tests and extra collectors.
func (m *ServerMetrics) Registry() *prometheus.Registry { return m.reg }

func (m *ServerMetrics) IncHttpPanic() { m.httpPanicTotal.Inc() }

// SetBuildInfoFromVersion is called once at startup.
func (m *ServerMetrics) SetBuildInfoFromVersion(component string, vi *version.Info) {
	dirty := "unknown"
	if vi.VCSDirty != nil {
		dirty = strconv.FormatBool(*vi.VCSDirty)
	}
	m.buildInfo.With(prometheus.Labels{
		"app":        vi.AppName,
		"component":  component,
		"version":    vi.Version,
		"commit":     vi.Commit,
		"build_id":   vi.BuildId,
		"build_date": vi.BuildDate,
		"go_version": vi.GoVersion,
		"vcs_dirty":  dirty,
	}).Set(1)
}

func (m *ServerMetrics) SetProfilingActive(active bool) {
	if active {
		m.profilingActive.Set(1)
	} else {
		m.profilingActive.Set(0)
	}
}

// IncRateLimitDenied counts one rejected request for a quota class. Ad-hoc
// classes are folded into "custom" to keep the label bounded.
func (m *ServerMetrics) IncRateLimitDenied(class string) {
	switch class {
	case "read", "write":
	default:
		class = "custom"
	}
	m.ratelimitDenied.WithLabelValues(class).Inc()
}

func (m *ServerMetrics) IncRateLimitCapacity() { m.ratelimitCapacity.Inc() }

func (m *ServerMetrics) ObserveRateLimitSweep(removed, remaining int) {
	m.ratelimitSweeps.Inc()
	m.ratelimitSweptTotal.Add(float64(removed))
	m.ratelimitEntries.Set(float64(remaining))
}

// ObserveStoreOp records one tool store call.
func (m *ServerMetrics) ObserveStoreOp(op string, d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.storeOps.WithLabelValues(op, result).Inc()
	m.storeDuration.WithLabelValues(op).Observe(d.Seconds())
}

func (m *ServerMetrics) SetToolCount(n int) { m.toolsTotal.Set(float64(n)) }
