// Package queue moves achievement evaluation off the request path with asynq.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
	"quiz-attempt-service/internal/domain"
)

const TypeEvaluateAchievements = "achievements:evaluate"

// AttemptCompletedPayload identifies the attempt whose completion triggered evaluation.
type AttemptCompletedPayload struct {
	UserID    string `json:"userId"`
	AttemptID string `json:"attemptId"`
}

// Enqueuer is the asynq client surface used by Trigger.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Trigger implements app.AchievementTrigger by enqueueing an evaluation task.
type Trigger struct {
	client Enqueuer
}

func NewTrigger(client Enqueuer) *Trigger {
	return &Trigger{client: client}
}

// NewEvaluateTask builds the task for one completed attempt. Tasks are unique per
// attempt for a short window so a retried submit does not queue duplicates.
func NewEvaluateTask(userID, attemptID string) (*asynq.Task, error) {
	payload, err := json.Marshal(AttemptCompletedPayload{UserID: userID, AttemptID: attemptID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeEvaluateAchievements, payload,
		asynq.MaxRetry(5),
		asynq.Timeout(30*time.Second),
		asynq.Unique(time.Minute),
	), nil
}

func (t *Trigger) AttemptCompleted(ctx context.Context, userID, attemptID string) error {
	task, err := NewEvaluateTask(userID, attemptID)
	if err != nil {
		return err
	}
	if _, err := t.client.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("enqueue %s: %w", TypeEvaluateAchievements, err)
	}
	return nil
}

// Awarder is the service surface the worker needs.
type Awarder interface {
	AwardEligible(ctx context.Context, userID string) ([]domain.UserAchievement, error)
}

// HandleEvaluate returns the asynq handler that awards every achievement the
// user now qualifies for. Awarding is idempotent, so redelivery is harmless.
func HandleEvaluate(awarder Awarder, log *zap.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		var p AttemptCompletedPayload
		if err := json.Unmarshal(task.Payload(), &p); err != nil {
			return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
		}
		awarded, err := awarder.AwardEligible(ctx, p.UserID)
		if err != nil {
			return err
		}
		log.Info("achievements evaluated",
			zap.String("user_id", p.UserID),
			zap.String("attempt_id", p.AttemptID),
			zap.Int("awarded", len(awarded)))
		return nil
	}
}

// Worker runs the asynq server for achievement tasks.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	log    *zap.Logger
}

func NewWorker(redisOpt asynq.RedisClientOpt, concurrency int, awarder Awarder, log *zap.Logger) *Worker {
	if concurrency <= 0 {
		concurrency = 10
	}
	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: concurrency,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			log.Error("task failed", zap.String("type", task.Type()), zap.Error(err))
		}),
	})
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeEvaluateAchievements, HandleEvaluate(awarder, log))
	return &Worker{server: server, mux: mux, log: log}
}

// Start begins processing in the background.
func (w *Worker) Start() error {
	w.log.Info("starting achievement worker")
	return w.server.Start(w.mux)
}

func (w *Worker) Shutdown() {
	w.log.Info("stopping achievement worker")
	w.server.Shutdown()
}
