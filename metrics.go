package main

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metrics holds the service's Prometheus collectors. A nil *metrics is valid
// and records nothing.
type metrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	llmCallsTotal   *prometheus.CounterVec
	remindersTotal  *prometheus.CounterVec
}

// newMetrics registers all collectors on a fresh registry, so tests can build
// as many handlers as they like.
//
// Metrics:
//   - coach_http_requests_total{route,method,status}
//   - coach_http_request_duration_seconds{route,method}
//   - coach_llm_calls_total{kind,outcome}
//   - coach_reminders_sent_total{outcome}
func newMetrics() *metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &metrics{
		registry: reg,
		requestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coach_http_requests_total",
				Help: "Total HTTP requests by route, method and status",
			},
			[]string{"route", "method", "status"},
		),
		requestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "coach_http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),
		llmCallsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coach_llm_calls_total",
				Help: "Total LLM API calls by kind and outcome",
			},
			[]string{"kind", "outcome"}, // kind: chat | transcribe
		),
		remindersTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coach_reminders_sent_total",
				Help: "Check-in reminder emails by outcome",
			},
			[]string{"outcome"},
		),
	}
}

func (m *metrics) observeLLM(kind string, err error) {
	if m == nil {
		return
	}
	m.llmCallsTotal.WithLabelValues(kind, outcome(err)).Inc()
}

func (m *metrics) observeReminder(err error) {
	if m == nil {
		return
	}
	m.remindersTotal.WithLabelValues(outcome(err)).Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// middleware records request count and latency per matched route.
func (m *metrics) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.requestsTotal.WithLabelValues(route, c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		m.requestDuration.WithLabelValues(route, c.Request.Method).Observe(time.Since(start).Seconds())
	}
}

// handler serves the registry in the Prometheus text format.
func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
