package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mcules/homeprice/internal/httpx"
)

// Collectors groups the Prometheus series the service exports. Each instance owns its
// registry so tests can build isolated copies.
type Collectors struct {
	Registry *prometheus.Registry

	httpInFlight prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	predictions     *prometheus.CounterVec
	predictedPrices prometheus.Histogram
	artifactsLoaded prometheus.Gauge
}

func NewCollectors() *Collectors {
	c := &Collectors{
		Registry: prometheus.NewRegistry(),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "homeprice",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "homeprice",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "homeprice",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}, []string{"method", "route"}),
		predictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "homeprice",
			Subsystem: "estimator",
			Name:      "predictions_total",
			Help:      "Predictions by transport and outcome.",
		}, []string{"transport", "outcome"}),
		predictedPrices: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "homeprice",
			Subsystem: "estimator",
			Name:      "predicted_price",
			Help:      "Distribution of predicted prices.",
			Buckets:   prometheus.ExponentialBuckets(10, 2, 10),
		}),
		artifactsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "homeprice",
			Subsystem: "estimator",
			Name:      "artifacts_loaded",
			Help:      "1 when the column list and model are loaded.",
		}),
	}

	c.Registry.MustRegister(
		c.httpInFlight,
		c.httpRequests,
		c.httpDuration,
		c.predictions,
		c.predictedPrices,
		c.artifactsLoaded,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return c
}

// Handler exposes the registry.
func (c *Collectors) Handler() http.Handler {
	return promhttp.HandlerFor(c.Registry, promhttp.HandlerOpts{})
}

// ObservePrediction counts one prediction. outcome is "ok", "invalid" or "error".
func (c *Collectors) ObservePrediction(transport, outcome string, price float64) {
	c.predictions.WithLabelValues(transport, outcome).Inc()
	if outcome == "ok" {
		c.predictedPrices.Observe(price)
	}
}

func (c *Collectors) SetArtifactsLoaded(loaded bool) {
	if loaded {
		c.artifactsLoaded.Set(1)
		return
	}
	c.artifactsLoaded.Set(0)
}

// InstrumentRoute wraps one route handler. route is the registered pattern, which keeps
// label cardinality bounded. The EWMA tracker is optional.
func (c *Collectors) InstrumentRoute(route string, lat *LatencyTracker, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := httpx.NewStatusRecorder(w)
		start := time.Now()

		c.httpInFlight.Inc()
		defer c.httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		d := time.Since(start)
		c.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(rec.Status)).Inc()
		c.httpDuration.WithLabelValues(r.Method, route).Observe(d.Seconds())

		if lat != nil {
			lat.Observe(route, rec.Status, d)
		}
	})
}
