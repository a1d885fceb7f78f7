package metrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"quiz-attempt-service/internal/domain"
)

func TestRecorderCounts(t *testing.T) {
	r := New()
	r.Transition(domain.StatusCompleted)
	r.Transition(domain.StatusCompleted)
	r.Evaluated(3*time.Millisecond, 4)
	r.Awarded()
	r.Failure("submit", fmt.Errorf("attempt a1: %w", domain.ErrInvalidState))
	r.Failure("submit", nil)

	if got := testutil.ToFloat64(r.transitions.WithLabelValues("Completed")); got != 2 {
		t.Fatalf("expected 2 completions, got %v", got)
	}
	if got := testutil.ToFloat64(r.responses); got != 4 {
		t.Fatalf("expected 4 responses, got %v", got)
	}
	if got := testutil.ToFloat64(r.awards); got != 1 {
		t.Fatalf("expected 1 award, got %v", got)
	}
	if got := testutil.ToFloat64(r.failures.WithLabelValues("submit", "invalid_state")); got != 1 {
		t.Fatalf("expected 1 invalid_state failure, got %v", got)
	}
	if n := testutil.CollectAndCount(r.failures); n != 1 {
		t.Fatalf("expected a single failure series, got %d", n)
	}
}

func TestNilRecorderIsSafe(t *testing.T) {
	var r *Recorder
	r.Transition(domain.StatusAbandoned)
	r.Evaluated(time.Second, 1)
	r.Awarded()
	r.Failure("start", domain.ErrConflict)
}

func TestKind(t *testing.T) {
	cases := map[error]string{
		domain.ErrQuizNotFound:                        "not_found",
		domain.ErrDuplicateResponse:                   "validation",
		domain.NotEligible(domain.ReasonAccessDenied): "not_eligible",
		domain.ErrUnauthorized:                        "unauthorized",
		domain.ErrConflict:                            "conflict",
		domain.ErrUnsupported:                         "unsupported",
		fmt.Errorf("dial tcp: connection refused"):    "internal",
	}
	for err, want := range cases {
		if got := Kind(err); got != want {
			t.Fatalf("Kind(%v) = %s, want %s", err, got, want)
		}
	}
}
