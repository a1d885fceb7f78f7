package app

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"quiz-attempt-service/internal/domain"
	"quiz-attempt-service/internal/grading"
	"quiz-attempt-service/internal/metrics"
)

const defaultCacheTTL = 5 * time.Minute

// Service contains the attempt, grading and achievement use cases. It keeps no
// mutable state between calls; everything shared lives behind its collaborators.
type Service struct {
	store     Store
	quizzes   QuizRepository
	catalog   QuizWriter
	cache     Cache
	events    EventPublisher
	trigger   AchievementTrigger
	evaluator *grading.Evaluator
	log       *zap.Logger
	metrics   *metrics.Recorder

	now            func() time.Time
	newID          func() string
	cacheTTL       time.Duration
	countAbandoned bool
	streakLoc      *time.Location
}

// Option customizes a Service.
type Option func(*Service)

// WithCache enables the read-through cache for attempts and user statistics.
func WithCache(c Cache, ttl time.Duration) Option {
	return func(s *Service) {
		s.cache = c
		if ttl > 0 {
			s.cacheTTL = ttl
		}
	}
}

// WithPublisher forwards domain events to p after each committed mutation.
func WithPublisher(p EventPublisher) Option {
	return func(s *Service) { s.events = p }
}

// WithAchievementTrigger replaces the in-process achievement evaluation that
// follows a completed attempt.
func WithAchievementTrigger(t AchievementTrigger) Option {
	return func(s *Service) { s.trigger = t }
}

// WithEvaluationWorkers bounds concurrent response evaluation within one Submit.
func WithEvaluationWorkers(n int) Option {
	return func(s *Service) { s.evaluator = grading.NewEvaluator(n) }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.log = l }
}

func WithMetrics(m *metrics.Recorder) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock is used by tests for deterministic timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator is used by tests for deterministic identities.
func WithIDGenerator(f func() string) Option {
	return func(s *Service) { s.newID = f }
}

// WithQuizWriter enables SaveQuiz.
func WithQuizWriter(w QuizWriter) Option {
	return func(s *Service) { s.catalog = w }
}

// WithAbandonedCounted makes abandoned attempts count toward a quiz's attempt cap.
func WithAbandonedCounted(count bool) Option {
	return func(s *Service) { s.countAbandoned = count }
}

// WithStreakLocation sets the time zone used to split completions into calendar days.
func WithStreakLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.streakLoc = loc
		}
	}
}

func NewService(store Store, quizzes QuizRepository, opts ...Option) *Service {
	s := &Service{
		store:     store,
		quizzes:   quizzes,
		evaluator: grading.NewEvaluator(0),
		log:       zap.NewNop(),
		now:       time.Now,
		newID:     uuid.NewString,
		cacheTTL:  defaultCacheTTL,
		streakLoc: time.UTC,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// inTx runs fn in a transaction. The commit is skipped when ctx is canceled so a
// canceled request never leaves partial writes.
func (s *Service) inTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return tx.Commit()
}

// afterCommit performs best-effort side effects of a committed mutation.
func (s *Service) afterCommit(ctx context.Context, userID string, attemptIDs []string, events []domain.Event) {
	ctx = context.WithoutCancel(ctx)
	keys := []string{statsKey(userID)}
	for _, id := range attemptIDs {
		keys = append(keys, attemptKey(id))
	}
	if s.cache != nil {
		if err := s.cache.Remove(ctx, keys...); err != nil {
			s.log.Warn("cache invalidation failed", zap.Strings("keys", keys), zap.Error(err))
		}
	}
	if s.events != nil && len(events) > 0 {
		if err := s.events.Publish(ctx, events...); err != nil {
			s.log.Warn("publish events failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
}

// attemptCompleted hands off to the achievement engine. A failure here never
// undoes the committed attempt.
func (s *Service) attemptCompleted(ctx context.Context, userID, attemptID string) {
	ctx = context.WithoutCancel(ctx)
	var err error
	if s.trigger != nil {
		err = s.trigger.AttemptCompleted(ctx, userID, attemptID)
	} else {
		_, err = s.AwardEligible(ctx, userID)
	}
	if err != nil {
		s.log.Warn("achievement evaluation failed",
			zap.String("user_id", userID),
			zap.String("attempt_id", attemptID),
			zap.Error(err))
	}
}

func (s *Service) fail(op string, err error) error {
	s.metrics.Failure(op, err)
	return err
}

func attemptKey(attemptID string) string {
	return "attempt:" + attemptID
}

func statsKey(userID string) string {
	return "user:" + userID + ":stats"
}

// cached reads key through the cache, falling back to load on a miss or cache error.
func cached[T any](ctx context.Context, s *Service, key string, load func() (T, error)) (T, error) {
	if s.cache != nil {
		var v T
		hit, err := s.cache.Get(ctx, key, &v)
		if err != nil {
			s.log.Debug("cache read failed", zap.String("key", key), zap.Error(err))
		} else if hit {
			return v, nil
		}
	}
	v, err := load()
	if err != nil {
		return v, err
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, key, v, s.cacheTTL); err != nil {
			s.log.Debug("cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return v, nil
}
