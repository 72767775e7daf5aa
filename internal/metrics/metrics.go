// Package metrics exposes zaibridge's Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "zaibridge"

// Registry holds every zaibridge collector plus the Go and process collectors
var Registry = prometheus.NewRegistry()

var (
	// Requests counts bridge requests by outcome ("ok" or an error type)
	Requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Chat requests handled by the bridge, by outcome",
		},
		[]string{"outcome"},
	)

	Inflight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "requests_inflight",
		Help:      "Requests currently holding the page",
	})

	QueueWait = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "queue_wait_seconds",
		Help:      "Time spent waiting for the page slot",
		Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
	})

	StreamDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "stream_duration_seconds",
		Help:      "Time from submission to end of reply",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
	})

	TextDeltas = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "text_deltas_total",
		Help:      "Text deltas forwarded to clients",
	})

	ToolCalls = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tool_calls_total",
		Help:      "Tool calls recovered from model output",
	})

	DecodeErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "decode_errors_total",
		Help:      "Stream lines that could not be decoded",
	})

	ToolParseErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tool_parse_errors_total",
		Help:      "Replies containing only malformed tool call blocks",
	})

	BrowserSessions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "browser_sessions_total",
			Help:      "Browser sessions established, by how",
		},
		[]string{"mode"},
	)

	LoginPolls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "login_polls_total",
			Help:      "Cookie polls during login capture, by result",
		},
		[]string{"result"},
	)

	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code",
		},
		[]string{"route", "code"},
	)

	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration by route",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		Requests,
		Inflight,
		QueueWait,
		StreamDuration,
		TextDeltas,
		ToolCalls,
		DecodeErrors,
		ToolParseErrors,
		BrowserSessions,
		LoginPolls,
		HTTPRequests,
		HTTPDuration,
	)
}

// RecordOutcome counts one finished request
func RecordOutcome(outcome string) {
	Requests.WithLabelValues(outcome).Inc()
}

// ObserveHTTP records one served HTTP request
func ObserveHTTP(route string, code int, d time.Duration) {
	HTTPRequests.WithLabelValues(route, statusLabel(code)).Inc()
	HTTPDuration.WithLabelValues(route).Observe(d.Seconds())
}

func statusLabel(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

// Handler serves the registry in the Prometheus text format
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
