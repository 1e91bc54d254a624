// Package metrics exposes Prometheus counters for the tracker, guard and
// bridge.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is the metrics surface used by the tracker, guard and bridge.
type Recorder interface {
	SessionOpened()
	SessionClosed()
	MessageHandled(action string)
	MessageStale()
	FlushSucceeded(kind string, latency time.Duration)
	FlushFailed()
	Redirected()
	PatternInvalid()
	OutboxDropped()
	RateLimited()
}

// Collector is the Prometheus-backed Recorder.
type Collector struct {
	sessionsOpened prometheus.Counter
	sessionsActive prometheus.Gauge
	messages       *prometheus.CounterVec
	staleMessages  prometheus.Counter
	flushes        *prometheus.CounterVec
	flushFailures  prometheus.Counter
	flushLatency   prometheus.Histogram
	redirects      prometheus.Counter
	invalidPattern prometheus.Counter
	outboxDropped  prometheus.Counter
	rateLimited    prometheus.Counter
}

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		sessionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pagetime_sessions_opened_total",
			Help: "Tab sessions opened.",
		}),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pagetime_sessions_active",
			Help: "Tab sessions currently open.",
		}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pagetime_messages_total",
			Help: "Tab messages applied, by action.",
		}, []string{"action"}),
		staleMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pagetime_messages_stale_total",
			Help: "Messages ignored because their session was closed.",
		}),
		flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pagetime_flushes_total",
			Help: "Session records written, by kind (insert or update).",
		}, []string{"kind"}),
		flushFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pagetime_flush_failures_total",
			Help: "Session records that failed to persist.",
		}),
		flushLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pagetime_flush_latency_seconds",
			Help:    "Time spent persisting a session record.",
			Buckets: prometheus.DefBuckets,
		}),
		redirects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pagetime_redirects_total",
			Help: "Navigations redirected by the blacklist.",
		}),
		invalidPattern: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pagetime_blacklist_invalid_patterns_total",
			Help: "Blacklist patterns skipped because they failed to compile.",
		}),
		outboxDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pagetime_outbox_dropped_total",
			Help: "Outbound messages dropped because no receiver drained the outbox.",
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pagetime_messages_rate_limited_total",
			Help: "Inbound messages rejected by the per-tab rate limiter.",
		}),
	}

	reg.MustRegister(
		c.sessionsOpened,
		c.sessionsActive,
		c.messages,
		c.staleMessages,
		c.flushes,
		c.flushFailures,
		c.flushLatency,
		c.redirects,
		c.invalidPattern,
		c.outboxDropped,
		c.rateLimited,
	)

	return c
}

func (c *Collector) SessionOpened() {
	c.sessionsOpened.Inc()
	c.sessionsActive.Inc()
}

func (c *Collector) SessionClosed() { c.sessionsActive.Dec() }

func (c *Collector) MessageHandled(action string) { c.messages.WithLabelValues(action).Inc() }

func (c *Collector) MessageStale() { c.staleMessages.Inc() }

func (c *Collector) FlushSucceeded(kind string, latency time.Duration) {
	c.flushes.WithLabelValues(kind).Inc()
	c.flushLatency.Observe(latency.Seconds())
}

func (c *Collector) FlushFailed() { c.flushFailures.Inc() }

func (c *Collector) Redirected() { c.redirects.Inc() }

func (c *Collector) PatternInvalid() { c.invalidPattern.Inc() }

func (c *Collector) OutboxDropped() { c.outboxDropped.Inc() }

func (c *Collector) RateLimited() { c.rateLimited.Inc() }

// Handler returns the Prometheus scrape handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop discards everything.
type Nop struct{}

func (Nop) SessionOpened()                       {}
func (Nop) SessionClosed()                       {}
func (Nop) MessageHandled(string)                {}
func (Nop) MessageStale()                        {}
func (Nop) FlushSucceeded(string, time.Duration) {}
func (Nop) FlushFailed()                         {}
func (Nop) Redirected()                          {}
func (Nop) PatternInvalid()                      {}
func (Nop) OutboxDropped()                       {}
func (Nop) RateLimited()                         {}

var (
	_ Recorder = (*Collector)(nil)
	_ Recorder = Nop{}
)
