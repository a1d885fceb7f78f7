package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"quiz-attempt-service/internal/domain"
	"quiz-attempt-service/internal/grading"
)

// AttemptResult is the outcome of an attempt mutation plus the events it raised.
type AttemptResult struct {
	Attempt   domain.AttemptSnapshot `json:"attempt"`
	Responses []domain.Response      `json:"responses,omitempty"`
	Events    []domain.Event         `json:"events"`
}

// StartAttempt creates an in-progress attempt once the eligibility checks pass.
func (s *Service) StartAttempt(ctx context.Context, caller domain.Caller, quizID string) (AttemptResult, error) {
	if err := s.CheckStartEligibility(ctx, caller, quizID); err != nil {
		return AttemptResult{}, s.fail("start", err)
	}

	now := s.now()
	attempt := domain.NewAttempt(s.newID(), caller.UserID, quizID, now)
	if err := s.store.AddAttempt(ctx, attempt); err != nil {
		// The store rejects a second in-progress attempt for the same (user, quiz)
		// when two starts race past the eligibility check.
		return AttemptResult{}, s.fail("start", err)
	}

	events := []domain.Event{domain.AttemptEvent(domain.EventAttemptStarted, attempt, now)}
	s.afterCommit(ctx, caller.UserID, nil, events)
	s.metrics.Transition(domain.StatusInProgress)
	s.log.Info("attempt started",
		zap.String("attempt_id", attempt.ID),
		zap.String("user_id", caller.UserID),
		zap.String("quiz_id", quizID))

	return AttemptResult{Attempt: attempt.Snapshot(), Events: events}, nil
}

// SubmitAttempt evaluates responses, scores the attempt and completes it. The
// responses and the completed attempt are committed together or not at all.
func (s *Service) SubmitAttempt(ctx context.Context, attemptID, callerID string, responses []domain.SubmittedResponse) (AttemptResult, error) {
	attempt, err := s.ownedAttempt(ctx, attemptID, callerID)
	if err != nil {
		return AttemptResult{}, s.fail("submit", err)
	}
	if _, err := attempt.Active(); err != nil {
		return AttemptResult{}, s.fail("submit", err)
	}

	quiz, err := s.quizzes.GetQuiz(ctx, attempt.QuizID)
	if err != nil {
		return AttemptResult{}, s.fail("submit", err)
	}

	started := time.Now()
	evals, err := s.evaluator.EvaluateAll(ctx, quiz, responses)
	if err != nil {
		return AttemptResult{}, s.fail("submit", err)
	}
	s.metrics.Evaluated(time.Since(started), len(evals))

	result, err := grading.Aggregate(quiz, evals)
	if err != nil {
		return AttemptResult{}, s.fail("submit", err)
	}

	stored := make([]domain.Response, len(evals))
	for i, e := range evals {
		stored[i] = domain.Response{
			ID:               s.newID(),
			AttemptID:        attempt.ID,
			QuestionID:       e.Question.ID,
			SelectedOptionID: e.Response.SelectedOptionID,
			TextAnswer:       e.Response.TextAnswer,
			IsCorrect:        e.IsCorrect,
			PointsEarned:     e.PointsEarned,
			TimeSpent:        e.Response.TimeSpent,
			NeedsGrading:     e.NeedsGrading,
		}
	}

	now := s.now()
	var completed domain.Attempt
	err = s.inTx(ctx, func(tx Tx) error {
		current, err := tx.GetAttempt(ctx, attempt.ID)
		if err != nil {
			return err
		}
		active, err := current.Active()
		if err != nil {
			return err
		}
		completed = current.With(active.Complete(current.StartedAt, now, result, nil))
		if err := tx.AddResponses(ctx, stored); err != nil {
			return err
		}
		return tx.UpdateAttempt(ctx, completed)
	})
	if err != nil {
		return AttemptResult{}, s.fail("submit", err)
	}

	events := []domain.Event{domain.AttemptEvent(domain.EventAttemptCompleted, completed, now)}
	s.afterCommit(ctx, completed.UserID, []string{completed.ID}, events)
	s.metrics.Transition(domain.StatusCompleted)
	s.log.Info("attempt submitted",
		zap.String("attempt_id", completed.ID),
		zap.String("user_id", completed.UserID),
		zap.Int("score", result.Score),
		zap.Int("max_score", result.MaxScore),
		zap.Int("responses", len(stored)))
	s.attemptCompleted(ctx, completed.UserID, completed.ID)

	return AttemptResult{Attempt: completed.Snapshot(), Responses: stored, Events: events}, nil
}

// CompleteAttempt completes an attempt with a score computed elsewhere.
func (s *Service) CompleteAttempt(ctx context.Context, attemptID, callerID string, score, maxScore int, notes *string) (AttemptResult, error) {
	attempt, err := s.ownedAttempt(ctx, attemptID, callerID)
	if err != nil {
		return AttemptResult{}, s.fail("complete", err)
	}
	if _, err := attempt.Active(); err != nil {
		return AttemptResult{}, s.fail("complete", err)
	}
	quiz, err := s.quizzes.GetQuiz(ctx, attempt.QuizID)
	if err != nil {
		return AttemptResult{}, s.fail("complete", err)
	}
	result, err := domain.NewResult(score, maxScore, quiz.PassingThreshold)
	if err != nil {
		return AttemptResult{}, s.fail("complete", err)
	}

	now := s.now()
	completed, err := s.transition(ctx, attempt.ID, func(a domain.Attempt, active domain.InProgress) domain.AttemptState {
		return active.Complete(a.StartedAt, now, result, notes)
	})
	if err != nil {
		return AttemptResult{}, s.fail("complete", err)
	}

	events := []domain.Event{domain.AttemptEvent(domain.EventAttemptCompleted, completed, now)}
	s.afterCommit(ctx, completed.UserID, []string{completed.ID}, events)
	s.metrics.Transition(domain.StatusCompleted)
	s.log.Info("attempt completed",
		zap.String("attempt_id", completed.ID),
		zap.String("user_id", completed.UserID),
		zap.Int("score", score),
		zap.Int("max_score", maxScore))
	s.attemptCompleted(ctx, completed.UserID, completed.ID)

	return AttemptResult{Attempt: completed.Snapshot(), Events: events}, nil
}

// AbandonAttempt ends an in-progress attempt without a score.
func (s *Service) AbandonAttempt(ctx context.Context, attemptID, callerID string) (AttemptResult, error) {
	attempt, err := s.ownedAttempt(ctx, attemptID, callerID)
	if err != nil {
		return AttemptResult{}, s.fail("abandon", err)
	}

	now := s.now()
	abandoned, err := s.transition(ctx, attempt.ID, func(a domain.Attempt, active domain.InProgress) domain.AttemptState {
		return active.Abandon(a.StartedAt, now)
	})
	if err != nil {
		return AttemptResult{}, s.fail("abandon", err)
	}

	events := []domain.Event{domain.AttemptEvent(domain.EventAttemptAbandoned, abandoned, now)}
	s.afterCommit(ctx, abandoned.UserID, []string{abandoned.ID}, events)
	s.metrics.Transition(domain.StatusAbandoned)
	s.log.Info("attempt abandoned",
		zap.String("attempt_id", abandoned.ID),
		zap.String("user_id", abandoned.UserID))

	return AttemptResult{Attempt: abandoned.Snapshot(), Events: events}, nil
}

// UpdateAttemptProgress replaces the notes of an in-progress attempt.
func (s *Service) UpdateAttemptProgress(ctx context.Context, attemptID, callerID string, notes *string) (AttemptResult, error) {
	attempt, err := s.ownedAttempt(ctx, attemptID, callerID)
	if err != nil {
		return AttemptResult{}, s.fail("progress", err)
	}

	updated, err := s.transition(ctx, attempt.ID, func(_ domain.Attempt, active domain.InProgress) domain.AttemptState {
		if notes == nil {
			return active
		}
		return active.WithNotes(*notes)
	})
	if err != nil {
		return AttemptResult{}, s.fail("progress", err)
	}
	s.afterCommit(ctx, updated.UserID, []string{updated.ID}, nil)
	return AttemptResult{Attempt: updated.Snapshot()}, nil
}

// GradeResponse sets the verdict of a manually graded response. Grading may be
// repeated; a completed attempt's score follows the latest grades.
func (s *Service) GradeResponse(ctx context.Context, responseID string, isCorrect bool, pointsEarned int) (AttemptResult, error) {
	response, err := s.store.GetResponse(ctx, responseID)
	if err != nil {
		return AttemptResult{}, s.fail("grade", err)
	}
	attempt, err := s.store.GetAttempt(ctx, response.AttemptID)
	if err != nil {
		return AttemptResult{}, s.fail("grade", err)
	}
	quiz, err := s.quizzes.GetQuiz(ctx, attempt.QuizID)
	if err != nil {
		return AttemptResult{}, s.fail("grade", err)
	}
	question, ok := quiz.Question(response.QuestionID)
	if !ok {
		return AttemptResult{}, s.fail("grade", fmt.Errorf("question %s: %w", response.QuestionID, domain.ErrQuestionNotFound))
	}
	if !grading.ManuallyGraded(question) {
		return AttemptResult{}, s.fail("grade", fmt.Errorf("question %s is graded automatically: %w", question.ID, domain.ErrValidation))
	}
	if pointsEarned < 0 || pointsEarned > question.Points {
		return AttemptResult{}, s.fail("grade", fmt.Errorf("points %d outside [0, %d]: %w", pointsEarned, question.Points, domain.ErrValidation))
	}

	now := s.now()
	var graded domain.Response
	var updated domain.Attempt
	err = s.inTx(ctx, func(tx Tx) error {
		current, err := tx.GetResponse(ctx, responseID)
		if err != nil {
			return err
		}
		current.IsCorrect = isCorrect
		current.PointsEarned = pointsEarned
		current.NeedsGrading = false
		current.GradedAt = &now
		if err := tx.UpdateResponse(ctx, current); err != nil {
			return err
		}
		graded = current

		a, err := tx.GetAttempt(ctx, current.AttemptID)
		if err != nil {
			return err
		}
		updated = a
		completed, ok := a.State.(domain.Completed)
		if !ok {
			return nil
		}
		all, err := tx.ListResponses(ctx, a.ID)
		if err != nil {
			return err
		}
		score := 0
		for _, r := range all {
			score += r.PointsEarned
		}
		regraded, err := completed.Regrade(score, quiz.PassingThreshold)
		if err != nil {
			return err
		}
		updated = a.With(regraded)
		return tx.UpdateAttempt(ctx, updated)
	})
	if err != nil {
		return AttemptResult{}, s.fail("grade", err)
	}

	event := domain.AttemptEvent(domain.EventResponseGraded, updated, now)
	event.ResponseID = graded.ID
	events := []domain.Event{event}
	s.afterCommit(ctx, updated.UserID, []string{updated.ID}, events)
	s.log.Info("response graded",
		zap.String("response_id", graded.ID),
		zap.String("attempt_id", updated.ID),
		zap.Bool("correct", isCorrect),
		zap.Int("points", pointsEarned))
	if updated.Status() == domain.StatusCompleted {
		s.attemptCompleted(ctx, updated.UserID, updated.ID)
	}

	return AttemptResult{Attempt: updated.Snapshot(), Responses: []domain.Response{graded}, Events: events}, nil
}

// GetAttempt returns the caller's attempt, read through the cache.
func (s *Service) GetAttempt(ctx context.Context, attemptID, callerID string) (domain.AttemptSnapshot, error) {
	snap, err := cached(ctx, s, attemptKey(attemptID), func() (domain.AttemptSnapshot, error) {
		a, err := s.store.GetAttempt(ctx, attemptID)
		if err != nil {
			return domain.AttemptSnapshot{}, err
		}
		return a.Snapshot(), nil
	})
	if err != nil {
		return domain.AttemptSnapshot{}, err
	}
	if snap.UserID != callerID {
		return domain.AttemptSnapshot{}, fmt.Errorf("attempt %s: %w", attemptID, domain.ErrUnauthorized)
	}
	return snap, nil
}

// ListResponses returns the stored responses of the caller's attempt.
func (s *Service) ListResponses(ctx context.Context, attemptID, callerID string) ([]domain.Response, error) {
	if _, err := s.ownedAttempt(ctx, attemptID, callerID); err != nil {
		return nil, err
	}
	return s.store.ListResponses(ctx, attemptID)
}

// transition applies next to the in-progress attempt inside a transaction,
// re-reading it so a concurrent terminal transition is detected.
func (s *Service) transition(ctx context.Context, attemptID string, next func(domain.Attempt, domain.InProgress) domain.AttemptState) (domain.Attempt, error) {
	var updated domain.Attempt
	err := s.inTx(ctx, func(tx Tx) error {
		current, err := tx.GetAttempt(ctx, attemptID)
		if err != nil {
			return err
		}
		active, err := current.Active()
		if err != nil {
			return err
		}
		updated = current.With(next(current, active))
		return tx.UpdateAttempt(ctx, updated)
	})
	return updated, err
}

func (s *Service) ownedAttempt(ctx context.Context, attemptID, callerID string) (domain.Attempt, error) {
	attempt, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return domain.Attempt{}, err
	}
	if !attempt.OwnedBy(callerID) {
		return domain.Attempt{}, fmt.Errorf("attempt %s: %w", attemptID, domain.ErrUnauthorized)
	}
	return attempt, nil
}

// IsExpected reports whether err is a business failure rather than an
// infrastructure fault.
func IsExpected(err error) bool {
	for _, kind := range []error{
		domain.ErrNotFound, domain.ErrValidation, domain.ErrInvalidState, domain.ErrNotEligible,
		domain.ErrUnauthorized, domain.ErrConflict, domain.ErrUnsupported,
	} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}
