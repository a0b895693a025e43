package metrics

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SessionCounter exposes the number of registered sessions.
type SessionCounter interface {
	Count() int
}

// CallStatusCounter returns per-user engine counts grouped by call status.
type CallStatusCounter interface {
	CallsByStatus() map[string]int
}

// PresenceCounter returns the number of presence keys in shared storage.
type PresenceCounter interface {
	CountOnline(ctx context.Context) (int64, error)
}

// Collector gathers hub gauges at scrape time.
type Collector struct {
	sessions  SessionCounter
	calls     CallStatusCounter
	presence  PresenceCounter
	startTime time.Time

	sessionsDesc *prometheus.Desc
	callsDesc    *prometheus.Desc
	presenceDesc *prometheus.Desc
	uptimeDesc   *prometheus.Desc
}

// NewCollector creates a collector. Any provider may be nil.
func NewCollector(sessions SessionCounter, calls CallStatusCounter, presence PresenceCounter, startTime time.Time) *Collector {
	return &Collector{
		sessions:  sessions,
		calls:     calls,
		presence:  presence,
		startTime: startTime,

		sessionsDesc: prometheus.NewDesc(
			"mcp_hub_sessions",
			"Number of connected sessions on this instance",
			nil, nil,
		),
		callsDesc: prometheus.NewDesc(
			"mcp_hub_calls",
			"Call engines by current status",
			[]string{"status"}, nil,
		),
		presenceDesc: prometheus.NewDesc(
			"mcp_hub_presence_online",
			"Users with a live presence key across all instances",
			nil, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"mcp_hub_uptime_seconds",
			"Seconds since the hub process started",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.sessionsDesc
	ch <- c.callsDesc
	ch <- c.presenceDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.sessions != nil {
		ch <- prometheus.MustNewConstMetric(c.sessionsDesc, prometheus.GaugeValue, float64(c.sessions.Count()))
	}

	if c.calls != nil {
		for status, n := range c.calls.CallsByStatus() {
			ch <- prometheus.MustNewConstMetric(c.callsDesc, prometheus.GaugeValue, float64(n), status)
		}
	}

	if c.presence != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		n, err := c.presence.CountOnline(ctx)
		cancel()
		if err != nil {
			slog.Error("metrics: failed to count presence", "error", err)
		} else {
			ch <- prometheus.MustNewConstMetric(c.presenceDesc, prometheus.GaugeValue, float64(n))
		}
	}

	if !c.startTime.IsZero() {
		ch <- prometheus.MustNewConstMetric(c.uptimeDesc, prometheus.GaugeValue, time.Since(c.startTime).Seconds())
	}
}

// Recorder counts routed events. It satisfies the router's metrics hook.
type Recorder struct {
	events *prometheus.CounterVec
	errors *prometheus.CounterVec
	misses *prometheus.CounterVec
	limits prometheus.Counter
}

func NewRecorder() *Recorder {
	return &Recorder{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcp_hub_events_total",
			Help: "Inbound client events by type",
		}, []string{"event"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcp_hub_event_errors_total",
			Help: "Inbound client events answered with mcp:error",
		}, []string{"event", "kind"}),
		misses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcp_hub_delivery_misses_total",
			Help: "Outbound events addressed to a user with no live session",
		}, []string{"event"}),
		limits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mcp_hub_rate_limited_total",
			Help: "Inbound frames dropped by the per-connection rate limiter",
		}),
	}
}

func (r *Recorder) EventRouted(event string)       { r.events.WithLabelValues(event).Inc() }
func (r *Recorder) EventFailed(event, kind string) { r.errors.WithLabelValues(event, kind).Inc() }
func (r *Recorder) DeliveryMissed(event string)    { r.misses.WithLabelValues(event).Inc() }
func (r *Recorder) RateLimited()                   { r.limits.Inc() }

func (r *Recorder) collectors() []prometheus.Collector {
	return []prometheus.Collector{r.events, r.errors, r.misses, r.limits}
}

// NewRegistry registers the collector, the recorder and the Go runtime collectors.
func NewRegistry(c *Collector, r *Recorder) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if c != nil {
		reg.MustRegister(c)
	}
	if r != nil {
		reg.MustRegister(r.collectors()...)
	}
	return reg
}

// Handler serves reg in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
