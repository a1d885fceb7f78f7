package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/config"
	"quiz-attempt-service/internal/domain"
	"quiz-attempt-service/internal/infra/memory"
	pgstore "quiz-attempt-service/internal/infra/postgres"
	redisinfra "quiz-attempt-service/internal/infra/redis"
	"quiz-attempt-service/internal/logger"
)

// quizCatalog is the backing quiz source: Postgres, or the built-in samples.
type quizCatalog interface {
	memory.QuizLoader
	app.QuizWriter
}

// NewImportQuizCmd loads quiz documents from JSON files into the catalog.
func NewImportQuizCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "import-quiz FILE...",
		Short: "Import quiz JSON documents into the catalog",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImportQuiz(cmd.Context(), *configPath, args)
		},
	}
}

func runImportQuiz(ctx context.Context, configPath string, files []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Postgres.URL == "" {
		return errors.New("postgres url not configured, nothing to import into")
	}
	log, err := logger.New(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	redisClient := newRedisClient(cfg)
	if redisClient != nil {
		defer redisClient.Close()
	}
	loader, quizRepo, closeCatalog, err := openCatalog(ctx, cfg, redisClient)
	if err != nil {
		return err
	}
	defer closeCatalog()

	service := app.NewService(nil, quizRepo, app.WithLogger(log), app.WithQuizWriter(loader))
	for _, file := range files {
		quiz, err := readQuiz(file)
		if err != nil {
			return err
		}
		if err := service.SaveQuiz(ctx, quiz); err != nil {
			return fmt.Errorf("%s: %w", file, err)
		}
		log.Info("quiz imported", zap.String("file", file), zap.String("quiz_id", quiz.ID))
	}
	return nil
}

func readQuiz(path string) (domain.Quiz, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Quiz{}, err
	}
	var quiz domain.Quiz
	if err := json.Unmarshal(data, &quiz); err != nil {
		return domain.Quiz{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return quiz, nil
}

func newRedisClient(cfg config.Config) *redis.Client {
	if cfg.Redis.Addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

// openCatalog returns the quiz source and the caching repository in front of it.
// The returned func releases the Postgres pool.
func openCatalog(ctx context.Context, cfg config.Config, redisClient *redis.Client) (quizCatalog, app.QuizRepository, func(), error) {
	closeFn := func() {}
	var loader quizCatalog = memory.NewStaticQuizLoader(sampleQuizzes())
	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, nil, closeFn, err
		}
		closeFn = pool.Close
		loader = pgstore.NewQuizLoader(pool)
	}

	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	if redisClient != nil {
		return loader, redisinfra.NewQuizRepository(redisClient, loader, quizTTL), closeFn, nil
	}
	return loader, memory.NewQuizRepository(loader, quizTTL), closeFn, nil
}

// sampleQuizzes is served when no postgres url is configured.
func sampleQuizzes() map[string]domain.Quiz {
	threshold := 60.0
	return map[string]domain.Quiz{
		"quiz-1": {
			ID:               "quiz-1",
			Title:            "Arithmetic warm-up",
			Status:           domain.QuizPublished,
			PassingThreshold: &threshold,
			MaxAttempts:      3,
			Access:           domain.AccessPolicy{Public: true},
			Questions: []domain.Question{
				{
					ID:     "q1",
					QuizID: "quiz-1",
					Type:   domain.MultipleChoice,
					Prompt: "What is 2 + 2?",
					Options: []domain.Option{
						{ID: "o1", Text: "3"},
						{ID: "o2", Text: "4", Correct: true},
						{ID: "o3", Text: "5"},
					},
					Points: 5,
				},
				{
					ID:     "q2",
					QuizID: "quiz-1",
					Type:   domain.ShortAnswer,
					Prompt: "Spell the number after nine.",
					Options: []domain.Option{
						{ID: "o4", Text: "ten", Correct: true},
					},
					Points: 5,
				},
			},
		},
	}
}
