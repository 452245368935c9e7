// Package metrics records pipeline construction and transform execution with
// Prometheus collectors registered on a private registry.
//
// Example usage:
//
//	rec := metrics.NewRecorder("fastinference")
//	out, err := pipe.RunObserved(x, rec.ObserveTransform)
//	http.Handle("/metrics", rec.Handler())
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/YuminosukeSato/fastinference/pkg/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome label values.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Recorder owns the collectors. The zero value is not usable; a nil
// *Recorder is a valid no-op recorder.
type Recorder struct {
	registry    *prometheus.Registry
	builds      *prometheus.CounterVec
	calls       *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	predictions prometheus.Counter
}

// NewRecorder creates the collectors under namespace.
func NewRecorder(namespace string) *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		builds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_builds_total",
			Help:      "Pipelines assembled from transform descriptions.",
		}, []string{"stage", "outcome"}),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transform_calls_total",
			Help:      "Transform invocations by transform name and outcome.",
		}, []string{"transform", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transform_duration_seconds",
			Help:      "Time spent applying a transform to a whole nested value.",
			Buckets:   prometheus.ExponentialBuckets(1e-5, 4, 10),
		}, []string{"transform"}),
		predictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "predicted_items_total",
			Help:      "Items passed through a model.",
		}),
	}
	r.registry.MustRegister(r.builds, r.calls, r.latency, r.predictions)
	return r
}

func outcome(err error) string {
	if err != nil {
		return OutcomeError
	}
	return OutcomeOK
}

// ObserveBuild counts one pipeline assembly for stage.
func (r *Recorder) ObserveBuild(stage string, err error) {
	if r == nil {
		return
	}
	r.builds.WithLabelValues(stage, outcome(err)).Inc()
}

// ObserveTransform has the signature of transforms.Observer.
func (r *Recorder) ObserveTransform(name string, elapsed time.Duration, err error) {
	if r == nil {
		return
	}
	r.calls.WithLabelValues(name, outcome(err)).Inc()
	r.latency.WithLabelValues(name).Observe(elapsed.Seconds())
}

// ObservePredict counts n predicted items.
func (r *Recorder) ObservePredict(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.predictions.Add(float64(n))
}

// Registry returns the private registry for scraping or tests.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Expose serves Handler on :port/metrics in the background. When the server
// stops, including a failed bind, the error goes to the global logger.
func (r *Recorder) Expose(port int) {
	go func() {
		_ = r.serve(fmt.Sprintf(":%d", port), log.GetLogger())
	}()
}

func (r *Recorder) serve(addr string, logger log.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	err := http.ListenAndServe(addr, mux)
	logger.Error("metrics server stopped", err, log.MetricsAddrKey, addr)
	return err
}
