package domain

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// AttemptStatus is the persisted name of an attempt state.
type AttemptStatus string

const (
	StatusInProgress AttemptStatus = "InProgress"
	StatusCompleted  AttemptStatus = "Completed"
	StatusAbandoned  AttemptStatus = "Abandoned"
)

// AttemptState is one of InProgress, Completed or Abandoned. Only InProgress has
// transition methods, so terminal states cannot be advanced.
type AttemptState interface {
	Status() AttemptStatus
	sealed()
}

// InProgress is the initial state.
type InProgress struct {
	Notes string
}

// Completed is terminal and carries the scored result.
type Completed struct {
	CompletedAt    time.Time
	ElapsedMinutes int
	Result         Result
	Notes          string
}

// Abandoned is terminal and carries no score.
type Abandoned struct {
	AbandonedAt    time.Time
	ElapsedMinutes int
	Notes          string
}

func (InProgress) Status() AttemptStatus { return StatusInProgress }
func (Completed) Status() AttemptStatus  { return StatusCompleted }
func (Abandoned) Status() AttemptStatus  { return StatusAbandoned }

func (InProgress) sealed() {}
func (Completed) sealed()  {}
func (Abandoned) sealed()  {}

// WithNotes records progress notes without leaving InProgress.
func (s InProgress) WithNotes(notes string) InProgress {
	return InProgress{Notes: notes}
}

// Complete consumes the in-progress state and produces the completed one.
func (s InProgress) Complete(startedAt, at time.Time, result Result, notes *string) Completed {
	n := s.Notes
	if notes != nil {
		n = *notes
	}
	return Completed{
		CompletedAt:    at,
		ElapsedMinutes: ElapsedMinutes(startedAt, at),
		Result:         result,
		Notes:          n,
	}
}

// Abandon consumes the in-progress state and produces the abandoned one.
func (s InProgress) Abandon(startedAt, at time.Time) Abandoned {
	return Abandoned{
		AbandonedAt:    at,
		ElapsedMinutes: ElapsedMinutes(startedAt, at),
		Notes:          s.Notes,
	}
}

// Regrade replaces the earned score after manual grading. The maximum is kept.
func (s Completed) Regrade(score int, threshold *float64) (Completed, error) {
	result, err := NewResult(score, s.Result.MaxScore, threshold)
	if err != nil {
		return s, err
	}
	s.Result = result
	return s, nil
}

// Result is a validated score. Percentage is always derived from Score and MaxScore.
type Result struct {
	Score    int
	MaxScore int
	// Passed is nil when the quiz defines no passing threshold.
	Passed *bool
}

// NewResult validates 0 <= score <= maxScore, maxScore > 0, and derives the verdict.
func NewResult(score, maxScore int, threshold *float64) (Result, error) {
	if maxScore <= 0 {
		return Result{}, fmt.Errorf("max score must be positive: %w", ErrValidation)
	}
	if score < 0 {
		return Result{}, fmt.Errorf("score must not be negative: %w", ErrValidation)
	}
	if score > maxScore {
		return Result{}, fmt.Errorf("score %d exceeds max score %d: %w", score, maxScore, ErrValidation)
	}
	r := Result{Score: score, MaxScore: maxScore}
	if threshold != nil {
		passed := r.Percentage() >= *threshold
		r.Passed = &passed
	}
	return r, nil
}

// Percentage is round(score/maxScore*100, 2), half away from zero.
func (r Result) Percentage() float64 {
	return Percentage(r.Score, r.MaxScore)
}

// Percentage computes round(score/maxScore*100, 2) with exact decimal arithmetic.
func Percentage(score, maxScore int) float64 {
	if maxScore == 0 {
		return 0
	}
	pct := decimal.NewFromInt(int64(score)).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(int64(maxScore))).
		Round(2)
	f, _ := pct.Float64()
	return f
}

// ElapsedMinutes is ceil((to - from) in minutes), never negative.
func ElapsedMinutes(from, to time.Time) int {
	d := to.Sub(from)
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Minutes()))
}

// Attempt is one instance of a user taking a quiz.
type Attempt struct {
	ID        string
	UserID    string
	QuizID    string
	StartedAt time.Time
	State     AttemptState
}

// NewAttempt creates an in-progress attempt. startedAt is explicit so that seed and
// test data can backdate attempts.
func NewAttempt(id, userID, quizID string, startedAt time.Time) Attempt {
	return Attempt{
		ID:        id,
		UserID:    userID,
		QuizID:    quizID,
		StartedAt: startedAt,
		State:     InProgress{},
	}
}

// Status returns the status of the current state.
func (a Attempt) Status() AttemptStatus {
	if a.State == nil {
		return StatusInProgress
	}
	return a.State.Status()
}

// Active returns the in-progress state or ErrInvalidState.
func (a Attempt) Active() (InProgress, error) {
	switch s := a.State.(type) {
	case InProgress:
		return s, nil
	case nil:
		return InProgress{}, nil
	default:
		return InProgress{}, fmt.Errorf("attempt %s is %s: %w", a.ID, s.Status(), ErrInvalidState)
	}
}

// With returns a copy of the attempt in state s.
func (a Attempt) With(s AttemptState) Attempt {
	a.State = s
	return a
}

// OwnedBy reports whether userID owns the attempt.
func (a Attempt) OwnedBy(userID string) bool {
	return a.UserID == userID
}

// LastActivity is the completion or abandonment time, falling back to the start time.
func (a Attempt) LastActivity() time.Time {
	switch s := a.State.(type) {
	case Completed:
		return s.CompletedAt
	case Abandoned:
		return s.AbandonedAt
	}
	return a.StartedAt
}

// AttemptSnapshot is the flat form of an attempt used by storage and caches.
type AttemptSnapshot struct {
	ID             string        `json:"id"`
	UserID         string        `json:"userId"`
	QuizID         string        `json:"quizId"`
	Status         AttemptStatus `json:"status"`
	StartedAt      time.Time     `json:"startedAt"`
	CompletedAt    *time.Time    `json:"completedAt,omitempty"`
	AbandonedAt    *time.Time    `json:"abandonedAt,omitempty"`
	Score          *int          `json:"score,omitempty"`
	MaxScore       *int          `json:"maxScore,omitempty"`
	Percentage     *float64      `json:"percentage,omitempty"`
	Passed         *bool         `json:"passed,omitempty"`
	ElapsedMinutes *int          `json:"elapsedMinutes,omitempty"`
	Notes          string        `json:"notes,omitempty"`
}

// Snapshot flattens the attempt.
func (a Attempt) Snapshot() AttemptSnapshot {
	snap := AttemptSnapshot{
		ID:        a.ID,
		UserID:    a.UserID,
		QuizID:    a.QuizID,
		Status:    a.Status(),
		StartedAt: a.StartedAt,
	}
	switch s := a.State.(type) {
	case InProgress:
		snap.Notes = s.Notes
	case Completed:
		completedAt := s.CompletedAt
		score, maxScore, pct := s.Result.Score, s.Result.MaxScore, s.Result.Percentage()
		elapsed := s.ElapsedMinutes
		snap.CompletedAt = &completedAt
		snap.Score = &score
		snap.MaxScore = &maxScore
		snap.Percentage = &pct
		snap.Passed = s.Result.Passed
		snap.ElapsedMinutes = &elapsed
		snap.Notes = s.Notes
	case Abandoned:
		abandonedAt := s.AbandonedAt
		elapsed := s.ElapsedMinutes
		snap.AbandonedAt = &abandonedAt
		snap.ElapsedMinutes = &elapsed
		snap.Notes = s.Notes
	}
	return snap
}

// Attempt rebuilds the attempt, validating that the flat fields fit the status.
func (s AttemptSnapshot) Attempt() (Attempt, error) {
	a := Attempt{ID: s.ID, UserID: s.UserID, QuizID: s.QuizID, StartedAt: s.StartedAt}
	elapsed := 0
	if s.ElapsedMinutes != nil {
		elapsed = *s.ElapsedMinutes
	}
	switch s.Status {
	case StatusInProgress:
		a.State = InProgress{Notes: s.Notes}
	case StatusCompleted:
		if s.CompletedAt == nil || s.Score == nil || s.MaxScore == nil {
			return Attempt{}, fmt.Errorf("completed attempt %s missing result", s.ID)
		}
		result := Result{Score: *s.Score, MaxScore: *s.MaxScore, Passed: s.Passed}
		a.State = Completed{CompletedAt: *s.CompletedAt, ElapsedMinutes: elapsed, Result: result, Notes: s.Notes}
	case StatusAbandoned:
		if s.AbandonedAt == nil {
			return Attempt{}, fmt.Errorf("abandoned attempt %s missing timestamp", s.ID)
		}
		a.State = Abandoned{AbandonedAt: *s.AbandonedAt, ElapsedMinutes: elapsed, Notes: s.Notes}
	default:
		return Attempt{}, fmt.Errorf("attempt %s has unknown status %q", s.ID, s.Status)
	}
	return a, nil
}
