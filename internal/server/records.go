package server

import (
	"net/http"
	"strconv"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RecordsPath is where the records plugin exposes its request metrics.
const RecordsPath = "/__records/metrics"

// recordsPlugin records request counts and latencies and exposes them in
// Prometheus format. Each server instance carries its own registry so
// repeated construction never collides on metric registration.
type recordsPlugin struct{}

func (p *recordsPlugin) Name() string { return "records" }

func (p *recordsPlugin) Install(ctx *Context) {
	registry := prometheus.NewRegistry()

	requests := promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "kiln",
		Subsystem: "dev_server",
		Name:      "requests_total",
		Help:      "Requests handled, by method and status code.",
	}, []string{"method", "code"})

	duration := promauto.With(registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "kiln",
		Subsystem: "dev_server",
		Name:      "request_duration_seconds",
		Help:      "Request handling latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method"})

	ctx.Use(p.Name(), func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			requests.WithLabelValues(r.Method, strconv.Itoa(ww.Status())).Inc()
			duration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
		})
	})

	// exposition endpoint rides on the mux directly; the plugin's single
	// install-order entry is the recording middleware above
	ctx.Mux.Handle(RecordsPath, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
