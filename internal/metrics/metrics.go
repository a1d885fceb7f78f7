package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"quiz-attempt-service/internal/domain"
)

// Recorder holds the service collectors. A nil *Recorder records nothing.
type Recorder struct {
	registry    *prometheus.Registry
	transitions *prometheus.CounterVec
	failures    *prometheus.CounterVec
	evaluation  prometheus.Histogram
	responses   prometheus.Counter
	awards      prometheus.Counter
}

func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quiz_attempt_transitions_total",
				Help: "Attempt state transitions by resulting status",
			},
			[]string{"status"},
		),
		failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quiz_operation_failures_total",
				Help: "Failed core operations by operation and error kind",
			},
			[]string{"operation", "kind"},
		),
		evaluation: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "quiz_submission_evaluation_seconds",
			Help:    "Time spent evaluating a submitted batch of responses",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
		responses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quiz_responses_evaluated_total",
			Help: "Responses evaluated across all submissions",
		}),
		awards: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quiz_achievements_awarded_total",
			Help: "Achievements newly awarded",
		}),
	}
	r.registry.MustRegister(r.transitions, r.failures, r.evaluation, r.responses, r.awards)
	return r
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

func (r *Recorder) Transition(status domain.AttemptStatus) {
	if r == nil {
		return
	}
	r.transitions.WithLabelValues(string(status)).Inc()
}

func (r *Recorder) Evaluated(d time.Duration, responses int) {
	if r == nil {
		return
	}
	r.evaluation.Observe(d.Seconds())
	r.responses.Add(float64(responses))
}

func (r *Recorder) Awarded() {
	if r == nil {
		return
	}
	r.awards.Inc()
}

func (r *Recorder) Failure(operation string, err error) {
	if r == nil || err == nil {
		return
	}
	r.failures.WithLabelValues(operation, Kind(err)).Inc()
}

// Kind maps an error onto the core taxonomy label.
func Kind(err error) string {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrValidation):
		return "validation"
	case errors.Is(err, domain.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, domain.ErrNotEligible):
		return "not_eligible"
	case errors.Is(err, domain.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, domain.ErrConflict):
		return "conflict"
	case errors.Is(err, domain.ErrUnsupported):
		return "unsupported"
	}
	return "internal"
}
