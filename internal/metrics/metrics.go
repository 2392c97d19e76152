// Package metrics exposes Prometheus metrics of the classification pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opensource-finance/fiscal/internal/domain"
)

// Collector owns a private registry so tests and embedded servers never
// collide on the global one. A nil *Collector records nothing.
type Collector struct {
	registry        *prometheus.Registry
	evaluations     *prometheus.CounterVec
	ruleEvaluations *prometheus.CounterVec
	suggestions     *prometheus.CounterVec
	duration        prometheus.Histogram
	batchFailures   prometheus.Counter
}

// NewCollector registers the fiscal metrics plus Go runtime and process
// collectors on a fresh registry.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(registry)

	return &Collector{
		registry: registry,
		evaluations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fiscal_evaluations_total",
			Help: "Classification runs by outcome",
		}, []string{"outcome"}),
		ruleEvaluations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fiscal_rule_evaluations_total",
			Help: "Per-rule evaluations by result",
		}, []string{"result"}),
		suggestions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fiscal_suggestions_total",
			Help: "Compliance suggestions raised by severity and type",
		}, []string{"severity", "type"}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "fiscal_evaluation_duration_seconds",
			Help:    "Time taken to classify one transaction",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		batchFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "fiscal_batch_failures_total",
			Help: "Transactions that failed inside a batch re-classification",
		}),
	}
}

// RecordEvaluation records one finished classification run.
func (c *Collector) RecordEvaluation(eval *domain.Evaluation, elapsed time.Duration) {
	if c == nil || eval == nil {
		return
	}

	c.evaluations.WithLabelValues(eval.Outcome()).Inc()
	c.duration.Observe(elapsed.Seconds())

	for _, entry := range eval.Logs {
		switch {
		case entry.ActionsApplied:
			c.ruleEvaluations.WithLabelValues("applied").Inc()
		case entry.RuleMatched:
			c.ruleEvaluations.WithLabelValues("matched").Inc()
		default:
			c.ruleEvaluations.WithLabelValues("skipped").Inc()
		}
	}

	for _, s := range eval.Suggestions {
		c.suggestions.WithLabelValues(string(s.Severity), s.SuggestionType).Inc()
	}
}

// RecordFailure counts a run that did not produce an evaluation.
func (c *Collector) RecordFailure() {
	if c == nil {
		return
	}
	c.evaluations.WithLabelValues("failed").Inc()
}

// RecordBatchFailures counts failed transactions of a batch.
func (c *Collector) RecordBatchFailures(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.batchFailures.Add(float64(n))
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
