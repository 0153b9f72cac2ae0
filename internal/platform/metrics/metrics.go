// Package metrics exposes the engine's prometheus collectors. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "clinical_engine"

type Metrics struct {
	registry *prometheus.Registry

	transitions   *prometheus.CounterVec
	syncEvents    *prometheus.CounterVec
	syncConflicts *prometheus.CounterVec
	slotsEmitted  prometheus.Counter
	slotsSkipped  *prometheus.CounterVec
	planCache     *prometheus.CounterVec
	httpRequests  *prometheus.CounterVec
	httpDurations *prometheus.HistogramVec
}

// New builds a fresh registry with Go runtime and process collectors plus
// the engine's own series.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lifecycle_transitions_total",
			Help:      "Lifecycle transition attempts by kind, action and outcome.",
		}, []string{"kind", "action", "outcome"}),
		syncEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "schedule_sync_events_total",
			Help:      "Schedule synchronizer triggers by trigger and outcome.",
		}, []string{"trigger", "outcome"}),
		syncConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "schedule_sync_conflicts_total",
			Help:      "Scheduled appointments whose state disagreed with the triggering event.",
		}, []string{"trigger"}),
		slotsEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slots_generated_total",
			Help:      "Free slots yielded by the recurrence generator.",
		}),
		slotsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slots_skipped_total",
			Help:      "Candidate slots skipped because the local time could not be normalized.",
		}, []string{"reason"}),
		planCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "daily_plan_cache_total",
			Help:      "Daily plan cache lookups by result.",
		}, []string{"result"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpDurations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	reg.MustRegister(m.transitions, m.syncEvents, m.syncConflicts, m.slotsEmitted,
		m.slotsSkipped, m.planCache, m.httpRequests, m.httpDurations)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Transition(kind, action, outcome string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(kind, action, outcome).Inc()
}

func (m *Metrics) SyncEvent(trigger, outcome string) {
	if m == nil {
		return
	}
	m.syncEvents.WithLabelValues(trigger, outcome).Inc()
}

func (m *Metrics) SyncConflict(trigger string) {
	if m == nil {
		return
	}
	m.syncConflicts.WithLabelValues(trigger).Inc()
}

func (m *Metrics) SlotEmitted() {
	if m == nil {
		return
	}
	m.slotsEmitted.Inc()
}

func (m *Metrics) SlotSkipped(reason string) {
	if m == nil {
		return
	}
	m.slotsSkipped.WithLabelValues(reason).Inc()
}

func (m *Metrics) PlanCache(result string) {
	if m == nil {
		return
	}
	m.planCache.WithLabelValues(result).Inc()
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}

// Middleware records request counts and latency keyed by the matched route
// so that path parameters do not explode label cardinality.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method
			m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
			m.httpDurations.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}
