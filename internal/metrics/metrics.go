// Package metrics exposes prometheus counters for the regeneration pipeline
// and the publishers.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tliron/commonlog"
)

const namespace = "loom"

var log = commonlog.GetLogger("loom.metrics")

// Metrics holds the counters of one server instance.
type Metrics struct {
	regenerations  *prometheus.CounterVec
	passes         prometheus.Counter
	passDuration   prometheus.Histogram
	staleResults   prometheus.Counter
	bufferUpdates  *prometheus.CounterVec
	bufferEdits    prometheus.Counter
	diagnostics    *prometheus.CounterVec
	closedCleared  prometheus.Counter
	outputsSwept   prometheus.Counter
	analyzerErrors *prometheus.CounterVec
}

func New() *Metrics {
	return &Metrics{
		regenerations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "regenerations_total",
				Help:      "Documents regenerated, by result.",
			},
			[]string{"result"}, // "success", "error" or "unsupported"
		),
		passes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "passes_total",
			Help:      "Debounced regeneration passes.",
		}),
		passDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "pass_duration_seconds",
			Help:      "Time spent generating the documents of one pass.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms to ~1s
		}),
		staleResults: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stale_results_total",
			Help:      "Regeneration results discarded because the document changed meanwhile.",
		}),
		bufferUpdates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "publish",
				Name:      "buffer_updates_total",
				Help:      "Projection buffer updates sent, by projection kind.",
			},
			[]string{"kind"},
		),
		bufferEdits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "publish",
			Name:      "buffer_edits_total",
			Help:      "Text edits carried by projection buffer updates.",
		}),
		diagnostics: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "publish",
				Name:      "diagnostics_total",
				Help:      "Diagnostics publications, by outcome.",
			},
			[]string{"outcome"}, // "published" or "unchanged"
		),
		closedCleared: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "publish",
			Name:      "closed_documents_cleared_total",
			Help:      "Closed documents whose diagnostics were cleared.",
		}),
		outputsSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "outputs_swept_total",
			Help:      "Generated outputs freed by the sweep.",
		}),
		analyzerErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "analyzer",
				Name:      "errors_total",
				Help:      "Analyzer runs that failed, by projection kind.",
			},
			[]string{"kind"},
		),
	}
}

// MustRegister registers the metrics with the given Prometheus registry.
func (m *Metrics) MustRegister(registry prometheus.Registerer) {
	registry.MustRegister(
		m.regenerations,
		m.passes,
		m.passDuration,
		m.staleResults,
		m.bufferUpdates,
		m.bufferEdits,
		m.diagnostics,
		m.closedCleared,
		m.outputsSwept,
		m.analyzerErrors,
	)
}

// ObserveRegeneration records the outcome of generating one document.
func (m *Metrics) ObserveRegeneration(err error, unsupported bool) {
	result := "success"
	switch {
	case err != nil:
		result = "error"
	case unsupported:
		result = "unsupported"
	}
	m.regenerations.WithLabelValues(result).Inc()
}

// ObservePass records one regeneration pass.
func (m *Metrics) ObservePass(elapsed time.Duration) {
	m.passes.Inc()
	m.passDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveStaleResult() { m.staleResults.Inc() }

// ObserveBufferUpdate records one projection buffer update of kind.
func (m *Metrics) ObserveBufferUpdate(kind string, edits int) {
	m.bufferUpdates.WithLabelValues(kind).Inc()
	m.bufferEdits.Add(float64(edits))
}

// ObserveDiagnostics records whether a diagnostics set was published or
// skipped as unchanged.
func (m *Metrics) ObserveDiagnostics(published bool) {
	outcome := "published"
	if !published {
		outcome = "unchanged"
	}
	m.diagnostics.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveClosedCleared(n int) { m.closedCleared.Add(float64(n)) }

func (m *Metrics) ObserveOutputsSwept(n int) { m.outputsSwept.Add(float64(n)) }

func (m *Metrics) ObserveAnalyzerError(kind string) {
	m.analyzerErrors.WithLabelValues(kind).Inc()
}

// Serve exposes the registry on addr under /metrics until ctx is done.
func Serve(ctx context.Context, addr string, registry *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warning("metrics server shutdown", "error", err)
		}
	}()

	log.Info("serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
