package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"mjgate/internal/api"
	"mjgate/internal/config"
	"mjgate/internal/correlate"
	"mjgate/internal/gateway"
	"mjgate/internal/jobs"
	"mjgate/internal/platform"
	"mjgate/internal/pool"
	"mjgate/internal/protocol"
	"mjgate/internal/pubsub"
	"mjgate/internal/service"
	"mjgate/internal/store"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		if err := runMigrations(); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		os.Exit(0)
	}
	if len(os.Args) > 1 && os.Args[1] != "serve" {
		log.Fatalf("Unknown command: %s (use 'serve' or 'migrate')", os.Args[1])
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()
	if err := rdb.Ping(rootCtx).Err(); err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}

	var tasks store.TaskStore
	var accounts store.AccountStore
	switch cfg.Store {
	case "postgres":
		pg, err := store.NewPostgresStore(rootCtx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer pg.Close()
		tasks = pg.Tasks()
		accounts = pg.Accounts()
	case "redis":
		retention := time.Duration(cfg.TaskRetentionHours) * time.Hour
		tasks = store.NewRedisTaskStore(rdb, retention)
		accounts = store.NewRedisAccountStore(rdb)
	default:
		tasks = store.NewMemoryTaskStore()
		accounts = store.NewMemoryAccountStore()
	}

	bus := pubsub.New(rdb, logger)
	p := pool.New(logger)
	orch := protocol.NewOrchestrator(logger)
	mod := service.NewModerator(cfg.BannedWordList)
	svc := service.New(p, tasks, accounts, orch, mod, nil, logger)
	engine := correlate.NewEngine(tasks, bus, svc, logger)
	router := gateway.NewRouter(p, engine, cfg.NijiAuthorID, logger)

	jobServer, jobClient := jobs.NewJobServer(cfg.RedisAddr, tasks, p, svc, logger)
	go func() {
		if err := jobServer.Start(); err != nil {
			logger.Fatal("Job server failed", zap.Error(err))
		}
	}()
	defer jobServer.Stop()
	sched := &timeoutScheduler{client: jobClient}

	// Connect every enabled account: one sink client and one gateway
	// consumer each.
	accts, err := accounts.GetAll(rootCtx)
	if err != nil {
		logger.Fatal("Failed to load accounts", zap.Error(err))
	}
	for _, acc := range accts {
		if !acc.Enable {
			continue
		}
		sink := platform.NewHTTPSink(cfg.SinkURL, acc.UserToken, acc.ChannelID, logger)
		in := pool.NewInstance(acc, sink, tasks, logger)
		in.Sched = sched
		p.Register(in)
		if cfg.GatewayURL != "" {
			consumer := gateway.NewConsumer(cfg.GatewayURL, acc.UserToken, router, logger)
			go consumer.Run(rootCtx)
		}
		logger.Info("account instance registered", zap.String("channel_id", acc.ChannelID))
	}
	if len(p.AliveInstances()) == 0 {
		logger.Warn("no enabled accounts; submissions will be rejected")
	}

	validator, err := api.NewValidator()
	if err != nil {
		logger.Fatal("Failed to compile request schemas", zap.Error(err))
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))

	r.Mount("/", api.Routes(api.Dependencies{
		Service:   svc,
		Tasks:     tasks,
		Validator: validator,
		Log:       logger,
		APISecret: cfg.APISecret,
		JWTSecret: cfg.JWTSecret,
	}))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: r,
	}

	logger.Info("Starting server", zap.String("addr", cfg.Addr))
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	rootCancel()
	for _, in := range p.AliveInstances() {
		in.Shutdown()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	logger.Info("Server stopped")
}

// timeoutScheduler adapts the asynq client to the pool's scheduling hook.
type timeoutScheduler struct {
	client *asynq.Client
}

func (s *timeoutScheduler) ScheduleTimeout(taskID, instanceID string, timeout time.Duration) error {
	return jobs.ScheduleTaskTimeout(s.client, taskID, instanceID, timeout)
}
