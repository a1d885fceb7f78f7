package postgres

import (
	"time"

	"github.com/uptrace/bun"
	"quiz-attempt-service/internal/domain"
)

type attemptRecord struct {
	bun.BaseModel `bun:"table:quiz_attempts"`

	ID             string     `bun:"id,pk"`
	UserID         string     `bun:"user_id,notnull"`
	QuizID         string     `bun:"quiz_id,notnull"`
	Status         string     `bun:"status,notnull"`
	StartedAt      time.Time  `bun:"started_at,notnull"`
	CompletedAt    *time.Time `bun:"completed_at"`
	AbandonedAt    *time.Time `bun:"abandoned_at"`
	Score          *int       `bun:"score"`
	MaxScore       *int       `bun:"max_score"`
	Percentage     *float64   `bun:"percentage"`
	Passed         *bool      `bun:"passed"`
	ElapsedMinutes *int       `bun:"elapsed_minutes"`
	Notes          string     `bun:"notes,notnull"`
}

func newAttemptRecord(a domain.Attempt) *attemptRecord {
	s := a.Snapshot()
	return &attemptRecord{
		ID:             s.ID,
		UserID:         s.UserID,
		QuizID:         s.QuizID,
		Status:         string(s.Status),
		StartedAt:      s.StartedAt,
		CompletedAt:    s.CompletedAt,
		AbandonedAt:    s.AbandonedAt,
		Score:          s.Score,
		MaxScore:       s.MaxScore,
		Percentage:     s.Percentage,
		Passed:         s.Passed,
		ElapsedMinutes: s.ElapsedMinutes,
		Notes:          s.Notes,
	}
}

func (r attemptRecord) attempt() (domain.Attempt, error) {
	return domain.AttemptSnapshot{
		ID:             r.ID,
		UserID:         r.UserID,
		QuizID:         r.QuizID,
		Status:         domain.AttemptStatus(r.Status),
		StartedAt:      r.StartedAt,
		CompletedAt:    r.CompletedAt,
		AbandonedAt:    r.AbandonedAt,
		Score:          r.Score,
		MaxScore:       r.MaxScore,
		Percentage:     r.Percentage,
		Passed:         r.Passed,
		ElapsedMinutes: r.ElapsedMinutes,
		Notes:          r.Notes,
	}.Attempt()
}

type responseRecord struct {
	bun.BaseModel `bun:"table:quiz_responses"`

	ID               string     `bun:"id,pk"`
	AttemptID        string     `bun:"attempt_id,notnull"`
	QuestionID       string     `bun:"question_id,notnull"`
	SelectedOptionID string     `bun:"selected_option_id,notnull"`
	TextAnswer       string     `bun:"text_answer,notnull"`
	IsCorrect        bool       `bun:"is_correct,notnull"`
	PointsEarned     int        `bun:"points_earned,notnull"`
	TimeSpentMs      int64      `bun:"time_spent_ms,notnull"`
	NeedsGrading     bool       `bun:"needs_grading,notnull"`
	GradedAt         *time.Time `bun:"graded_at"`
}

func newResponseRecord(r domain.Response) responseRecord {
	return responseRecord{
		ID:               r.ID,
		AttemptID:        r.AttemptID,
		QuestionID:       r.QuestionID,
		SelectedOptionID: r.SelectedOptionID,
		TextAnswer:       r.TextAnswer,
		IsCorrect:        r.IsCorrect,
		PointsEarned:     r.PointsEarned,
		TimeSpentMs:      r.TimeSpent.Milliseconds(),
		NeedsGrading:     r.NeedsGrading,
		GradedAt:         r.GradedAt,
	}
}

func (r responseRecord) response() domain.Response {
	return domain.Response{
		ID:               r.ID,
		AttemptID:        r.AttemptID,
		QuestionID:       r.QuestionID,
		SelectedOptionID: r.SelectedOptionID,
		TextAnswer:       r.TextAnswer,
		IsCorrect:        r.IsCorrect,
		PointsEarned:     r.PointsEarned,
		TimeSpent:        time.Duration(r.TimeSpentMs) * time.Millisecond,
		NeedsGrading:     r.NeedsGrading,
		GradedAt:         r.GradedAt,
	}
}

type achievementRecord struct {
	bun.BaseModel `bun:"table:achievements"`

	ID             string            `bun:"id,pk"`
	Name           string            `bun:"name,notnull"`
	Type           string            `bun:"type,notnull"`
	RequiredPoints int               `bun:"required_points,notnull"`
	Criteria       map[string]string `bun:"criteria,type:jsonb,notnull"`
}

func (r achievementRecord) achievement() domain.Achievement {
	return domain.Achievement{
		ID:             r.ID,
		Name:           r.Name,
		Type:           domain.AchievementType(r.Type),
		RequiredPoints: r.RequiredPoints,
		Criteria:       r.Criteria,
	}
}

type userAchievementRecord struct {
	bun.BaseModel `bun:"table:user_achievements"`

	ID            string    `bun:"id,notnull"`
	UserID        string    `bun:"user_id,pk"`
	AchievementID string    `bun:"achievement_id,pk"`
	AwardedAt     time.Time `bun:"awarded_at,notnull"`
}

func (r userAchievementRecord) award() domain.UserAchievement {
	return domain.UserAchievement{
		ID:            r.ID,
		UserID:        r.UserID,
		AchievementID: r.AchievementID,
		AwardedAt:     r.AwardedAt,
	}
}
