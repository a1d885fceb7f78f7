package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"quiz-attempt-service/internal/domain"
)

// AwardResult is the award record plus the events raised when it was created.
type AwardResult struct {
	Award   domain.UserAchievement `json:"award"`
	Created bool                   `json:"created"`
	Events  []domain.Event         `json:"events,omitempty"`
}

// CheckAchievementEligibility reports whether the user's completed attempts meet
// the achievement's criteria.
func (s *Service) CheckAchievementEligibility(ctx context.Context, userID, achievementID string) (bool, error) {
	achievement, err := s.store.GetAchievement(ctx, achievementID)
	if err != nil {
		return false, err
	}
	completed, err := s.completedAttempts(ctx, userID)
	if err != nil {
		return false, err
	}
	return s.meets(achievement, completed)
}

// AwardAchievement grants the achievement when the user qualifies. Awarding an
// achievement the user already holds returns the existing record unchanged.
func (s *Service) AwardAchievement(ctx context.Context, userID, achievementID string) (AwardResult, error) {
	existing, err := s.store.GetUserAchievement(ctx, userID, achievementID)
	if err == nil {
		return AwardResult{Award: existing}, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return AwardResult{}, s.fail("award", err)
	}

	eligible, err := s.CheckAchievementEligibility(ctx, userID, achievementID)
	if err != nil {
		return AwardResult{}, s.fail("award", err)
	}
	if !eligible {
		return AwardResult{}, s.fail("award", domain.NotEligible(domain.ReasonCriteriaNotMet))
	}
	return s.grant(ctx, userID, achievementID)
}

// AwardEligible evaluates every achievement for the user and grants the ones
// newly earned. Attempt history is loaded once.
func (s *Service) AwardEligible(ctx context.Context, userID string) ([]domain.UserAchievement, error) {
	achievements, err := s.store.ListAchievements(ctx)
	if err != nil {
		return nil, err
	}
	completed, err := s.completedAttempts(ctx, userID)
	if err != nil {
		return nil, err
	}

	var awarded []domain.UserAchievement
	for _, achievement := range achievements {
		_, err := s.store.GetUserAchievement(ctx, userID, achievement.ID)
		if err == nil {
			continue
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return awarded, err
		}
		ok, err := s.meets(achievement, completed)
		if err != nil {
			return awarded, err
		}
		if !ok {
			continue
		}
		res, err := s.grant(ctx, userID, achievement.ID)
		if err != nil {
			return awarded, err
		}
		if res.Created {
			awarded = append(awarded, res.Award)
		}
	}
	return awarded, nil
}

// DeleteAchievement removes an achievement definition nobody holds yet.
func (s *Service) DeleteAchievement(ctx context.Context, achievementID string) error {
	err := s.inTx(ctx, func(tx Tx) error {
		if _, err := tx.GetAchievement(ctx, achievementID); err != nil {
			return err
		}
		n, err := tx.CountAwards(ctx, achievementID)
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("achievement %s awarded to %d users: %w", achievementID, n, domain.ErrValidation)
		}
		return tx.DeleteAchievement(ctx, achievementID)
	})
	return s.fail("delete_achievement", err)
}

// grant inserts the award, treating a concurrent insert of the same pair as
// success and returning the stored record.
func (s *Service) grant(ctx context.Context, userID, achievementID string) (AwardResult, error) {
	award := domain.UserAchievement{
		ID:            s.newID(),
		UserID:        userID,
		AchievementID: achievementID,
		AwardedAt:     s.now(),
	}
	if err := s.store.AddUserAchievement(ctx, award); err != nil {
		if !errors.Is(err, domain.ErrConflict) {
			return AwardResult{}, s.fail("award", err)
		}
		existing, err := s.store.GetUserAchievement(ctx, userID, achievementID)
		if err != nil {
			return AwardResult{}, s.fail("award", err)
		}
		return AwardResult{Award: existing}, nil
	}

	events := []domain.Event{{
		Type:          domain.EventAchievementAwarded,
		UserID:        userID,
		AchievementID: achievementID,
		OccurredAt:    award.AwardedAt,
	}}
	s.afterCommit(ctx, userID, nil, events)
	s.metrics.Awarded()
	s.log.Info("achievement awarded",
		zap.String("user_id", userID),
		zap.String("achievement_id", achievementID))
	return AwardResult{Award: award, Created: true, Events: events}, nil
}

func (s *Service) meets(a domain.Achievement, completed []domain.Attempt) (bool, error) {
	switch a.Type {
	case domain.AchievementQuizCompletion:
		return len(completed) >= a.RequiredPoints, nil
	case domain.AchievementHighScore:
		best := -1
		for _, attempt := range completed {
			if c, ok := attempt.State.(domain.Completed); ok && c.Result.Score > best {
				best = c.Result.Score
			}
		}
		return len(completed) > 0 && best >= a.RequiredPoints, nil
	case domain.AchievementStreak:
		times := make([]time.Time, 0, len(completed))
		for _, attempt := range completed {
			times = append(times, attempt.LastActivity())
		}
		return LongestStreak(times, s.streakLoc) >= a.RequiredPoints, nil
	}
	return false, fmt.Errorf("achievement %s has unknown type %q: %w", a.ID, a.Type, domain.ErrValidation)
}

func (s *Service) completedAttempts(ctx context.Context, userID string) ([]domain.Attempt, error) {
	attempts, err := s.store.ListUserAttempts(ctx, userID)
	if err != nil {
		return nil, err
	}
	completed := attempts[:0]
	for _, a := range attempts {
		if a.Status() == domain.StatusCompleted {
			completed = append(completed, a)
		}
	}
	return completed, nil
}

// LongestStreak returns the longest run of consecutive calendar days in loc that
// contain at least one of the given completion times.
func LongestStreak(completions []time.Time, loc *time.Location) int {
	if len(completions) == 0 {
		return 0
	}
	if loc == nil {
		loc = time.UTC
	}
	sorted := make([]time.Time, len(completions))
	copy(sorted, completions)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	longest, current := 1, 1
	prev := dayNumber(sorted[0], loc)
	for _, t := range sorted[1:] {
		day := dayNumber(t, loc)
		switch {
		case day == prev:
			continue
		case day == prev+1:
			current++
		default:
			current = 1
		}
		if current > longest {
			longest = current
		}
		prev = day
	}
	return longest
}

// dayNumber counts civil days since the epoch for the date of t in loc.
func dayNumber(t time.Time, loc *time.Location) int64 {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400
}
