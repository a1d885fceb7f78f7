package app

import (
	"context"
	"time"

	"quiz-attempt-service/internal/domain"
)

// Repository is the get/add/update surface of the persistence collaborator.
// Adapters report uniqueness violations as domain.ErrConflict and missing rows
// as a wrapped domain.ErrNotFound.
type Repository interface {
	GetAttempt(ctx context.Context, attemptID string) (domain.Attempt, error)
	ListAttempts(ctx context.Context, userID, quizID string) ([]domain.Attempt, error)
	ListUserAttempts(ctx context.Context, userID string) ([]domain.Attempt, error)
	AddAttempt(ctx context.Context, attempt domain.Attempt) error
	UpdateAttempt(ctx context.Context, attempt domain.Attempt) error

	GetResponse(ctx context.Context, responseID string) (domain.Response, error)
	ListResponses(ctx context.Context, attemptID string) ([]domain.Response, error)
	AddResponses(ctx context.Context, responses []domain.Response) error
	UpdateResponse(ctx context.Context, response domain.Response) error

	GetAchievement(ctx context.Context, achievementID string) (domain.Achievement, error)
	ListAchievements(ctx context.Context) ([]domain.Achievement, error)
	AddAchievement(ctx context.Context, achievement domain.Achievement) error
	DeleteAchievement(ctx context.Context, achievementID string) error
	CountAwards(ctx context.Context, achievementID string) (int, error)
	GetUserAchievement(ctx context.Context, userID, achievementID string) (domain.UserAchievement, error)
	AddUserAchievement(ctx context.Context, award domain.UserAchievement) error
}

// Store opens transactions over the repository.
type Store interface {
	Repository
	Begin(ctx context.Context) (Tx, error)
}

// Tx is a unit of work. Rollback after Commit is a no-op.
type Tx interface {
	Repository
	Commit() error
	Rollback() error
}

// QuizRepository loads quiz content (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// QuizWriter persists quiz content to the catalog.
type QuizWriter interface {
	SaveQuiz(ctx context.Context, quiz domain.Quiz) error
}

// QuizInvalidator is implemented by quiz repositories that keep cached copies.
type QuizInvalidator interface {
	Invalidate(ctx context.Context, quizID string) error
}

// Cache stores JSON-serializable values by key with a TTL.
type Cache interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Remove(ctx context.Context, keys ...string) error
}

// EventPublisher pushes domain events to the notification layer.
type EventPublisher interface {
	Publish(ctx context.Context, events ...domain.Event) error
}

// AchievementTrigger runs achievement evaluation after an attempt completes.
type AchievementTrigger interface {
	AttemptCompleted(ctx context.Context, userID, attemptID string) error
}
