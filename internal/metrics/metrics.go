package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	WsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_ws_connections",
		Help: "Current number of active websocket connections",
	})
	BusSubscriptions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_bus_subscriptions",
		Help: "Current number of live event bus subscriptions",
	})
	BusPublishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_bus_published_total",
		Help: "Total number of events published on the event bus",
	}, []string{"event"})
	MessagesSentTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_messages_sent_total",
		Help: "Total number of chat messages sent",
	})
	TokenRefreshesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_token_refreshes_total",
		Help: "Total number of access token refresh attempts",
	}, []string{"transport", "result"})
	HttpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
	HttpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)

func init() {
	prometheus.MustRegister(
		WsConnections, BusSubscriptions, BusPublishedTotal, MessagesSentTotal,
		TokenRefreshesTotal, HttpRequestsTotal, HttpRequestDuration,
	)
}

// Middleware records basic request metrics keyed by the chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		labels := prometheus.Labels{
			"method": r.Method,
			"path":   path,
			"status": strconv.Itoa(ww.Status()),
		}
		HttpRequestsTotal.With(labels).Inc()
		HttpRequestDuration.With(labels).Observe(time.Since(start).Seconds())
	})
}
