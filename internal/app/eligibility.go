package app

import (
	"context"
	"time"

	"quiz-attempt-service/internal/domain"
)

// CheckStartEligibility reports whether caller may start a new attempt on quizID.
// A rejection is a *domain.EligibilityError naming the failed check.
func (s *Service) CheckStartEligibility(ctx context.Context, caller domain.Caller, quizID string) error {
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return err
	}
	attempts, err := s.store.ListAttempts(ctx, caller.UserID, quizID)
	if err != nil {
		return err
	}
	return s.eligibility().check(quiz, caller, attempts, s.now())
}

func (s *Service) eligibility() eligibilityRules {
	return eligibilityRules{countAbandoned: s.countAbandoned}
}

type eligibilityRules struct {
	countAbandoned bool
}

// check applies the start rules in order: active window, no attempt in progress,
// attempt cap, cooldown, access.
func (r eligibilityRules) check(quiz domain.Quiz, caller domain.Caller, attempts []domain.Attempt, now time.Time) error {
	if !quiz.ActiveAt(now) {
		return domain.NotEligible(domain.ReasonQuizInactive)
	}

	counted := 0
	var latest *domain.Attempt
	for i := range attempts {
		a := attempts[i]
		if a.Status() == domain.StatusInProgress {
			return domain.NotEligible(domain.ReasonAttemptInProgress)
		}
		if a.Status() != domain.StatusAbandoned || r.countAbandoned {
			counted++
		}
		if latest == nil || a.StartedAt.After(latest.StartedAt) {
			latest = &attempts[i]
		}
	}

	if quiz.MaxAttempts > 0 && counted >= quiz.MaxAttempts {
		return domain.NotEligible(domain.ReasonMaxAttemptsExceeded)
	}

	if quiz.Cooldown > 0 && latest != nil {
		if now.Sub(latest.LastActivity()) < quiz.Cooldown {
			return domain.NotEligible(domain.ReasonCooldownActive)
		}
	}

	if !quiz.Access.Grants(caller) {
		return domain.NotEligible(domain.ReasonAccessDenied)
	}
	return nil
}
