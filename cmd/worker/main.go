package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"academy/internal/config"
	"academy/internal/logging"
	"academy/internal/observability"
	"academy/internal/queue"
	"academy/internal/sandbox"
	"academy/internal/store"
	"academy/internal/worker"
)

var version = "dev"

// Worker consumes attendance events and materialises daily branch stats.
func main() {
	cfg := config.Load()

	lg, err := logging.Init(cfg.LogLevel, cfg.Env, "worker", version)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer lg.Closer()

	flush, err := observability.InitSentry(cfg.SentryDSN, cfg.Env, "worker", version)
	if err != nil {
		lg.Base.Warn("sentry disabled", zap.Error(err))
	}
	defer flush()

	if cfg.QueueBackend == "memory" {
		lg.Base.Fatal("QUEUE_BACKEND=memory only works inside the sandbox process")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		lg.Base.Fatal("db connect failed", zap.Error(err))
	}
	defer db.Close()

	redisClient, err := store.NewRedis(cfg.RedisAddr)
	if err != nil {
		lg.Base.Fatal("redis config invalid", zap.Error(err))
	}
	defer redisClient.Close()
	if err := redisClient.Ping(ctx); err != nil {
		lg.Base.Warn("redis not reachable yet, consumer will retry", zap.Error(err))
	}

	svc := sandbox.NewService(sandbox.NewRepository(db.Client), nil, lg.Base, cfg.Location)
	if err := worker.Run(ctx, queue.NewRedisQueue(redisClient.Client, ""), svc, lg.Base); err != nil {
		observability.CaptureErr(err)
		lg.Base.Error("worker failed", zap.Error(err))
	}
}
