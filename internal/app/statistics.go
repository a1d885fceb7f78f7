package app

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"quiz-attempt-service/internal/domain"
)

// GetUserStatistics summarizes the user's attempt history, read through the cache.
func (s *Service) GetUserStatistics(ctx context.Context, userID string) (domain.UserStatistics, error) {
	return cached(ctx, s, statsKey(userID), func() (domain.UserStatistics, error) {
		attempts, err := s.store.ListUserAttempts(ctx, userID)
		if err != nil {
			return domain.UserStatistics{}, err
		}
		return summarize(userID, attempts, s.streakLoc), nil
	})
}

func summarize(userID string, attempts []domain.Attempt, loc *time.Location) domain.UserStatistics {
	stats := domain.UserStatistics{UserID: userID, TotalAttempts: len(attempts)}
	var pctSum float64
	var completions []time.Time
	for _, a := range attempts {
		switch st := a.State.(type) {
		case domain.Completed:
			stats.CompletedAttempts++
			pct := st.Result.Percentage()
			pctSum += pct
			if pct > stats.BestPercentage {
				stats.BestPercentage = pct
			}
			if st.Result.Score > stats.BestScore {
				stats.BestScore = st.Result.Score
			}
			if st.Result.Passed != nil && *st.Result.Passed {
				stats.PassedAttempts++
			}
			completions = append(completions, st.CompletedAt)
		case domain.Abandoned:
			stats.AbandonedAttempts++
		}
	}
	if stats.CompletedAttempts > 0 {
		avg := decimal.NewFromFloat(pctSum).Div(decimal.NewFromInt(int64(stats.CompletedAttempts))).Round(2)
		stats.AveragePercentage, _ = avg.Float64()
	}
	stats.LongestStreak = LongestStreak(completions, loc)
	return stats
}
