package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/config"
	"quiz-attempt-service/internal/infra/memory"
	pgstore "quiz-attempt-service/internal/infra/postgres"
	"quiz-attempt-service/internal/infra/queue"
	redisinfra "quiz-attempt-service/internal/infra/redis"
	"quiz-attempt-service/internal/logger"
	"quiz-attempt-service/internal/metrics"
	transport "quiz-attempt-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz attempt service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, err := logger.New(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg, log); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	streakLoc, err := cfg.StreakLocation()
	if err != nil {
		return err
	}

	redisClient := newRedisClient(cfg)
	if redisClient != nil {
		defer redisClient.Close()
	}

	loader, quizRepo, closeCatalog, err := openCatalog(ctx, cfg, redisClient)
	if err != nil {
		return err
	}
	defer closeCatalog()

	var store app.Store
	if cfg.Postgres.URL != "" {
		db := openDB(cfg)
		defer db.Close()
		store = pgstore.NewStore(db)
	} else {
		log.Warn("postgres url not configured, attempts are kept in memory")
		store = memory.NewStore()
	}

	var (
		cache app.Cache
		hub   transport.EventSource
		pub   app.EventPublisher
	)
	if redisClient != nil {
		cache = redisinfra.NewCache(redisClient, "quiz:cache:")
		bus := redisinfra.NewEventBus(redisClient)
		hub, pub = bus, bus
	} else {
		cache = memory.NewCache()
		eh := memory.NewEventHub()
		hub, pub = eh, eh
	}

	recorder := metrics.New()
	cacheTTL := config.TTLDuration(cfg.Attempts.CacheTTL, config.TTLDuration(cfg.Redis.TTL, 5*time.Minute))
	opts := []app.Option{
		app.WithLogger(log),
		app.WithMetrics(recorder),
		app.WithCache(cache, cacheTTL),
		app.WithPublisher(pub),
		app.WithQuizWriter(loader),
		app.WithEvaluationWorkers(cfg.Attempts.EvaluationWorkers),
		app.WithAbandonedCounted(cfg.Attempts.CountAbandoned),
		app.WithStreakLocation(streakLoc),
	}

	redisOpt := asynq.RedisClientOpt{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}
	if cfg.Queue.Enabled {
		if cfg.Redis.Addr == "" {
			return errors.New("queue enabled but redis addr not configured")
		}
		client := asynq.NewClient(redisOpt)
		defer client.Close()
		opts = append(opts, app.WithAchievementTrigger(queue.NewTrigger(client)))
	}

	service := app.NewService(store, quizRepo, opts...)

	if cfg.Queue.Enabled {
		worker := queue.NewWorker(redisOpt, cfg.Queue.Concurrency, service, log)
		if err := worker.Start(); err != nil {
			return err
		}
		defer worker.Shutdown()
	}

	wsHandler := transport.NewWSHandler(hub, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", recorder.Handler())
	mux.HandleFunc("/ws", wsHandler.ServeWS)

	server := &http.Server{
		Addr:        ":" + finalPort,
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
	}

	go func() {
		log.Info("starting quiz attempt service", zap.String("port", finalPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("failed to start server", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info("shutting down server")
	case <-ctx.Done():
		log.Info("context canceled, shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
