// Command sandbox serves a demo implementation of the attendance REST
// backend over Postgres. It is for local development only.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"academy/internal/config"
	"academy/internal/httpmiddleware"
	"academy/internal/logging"
	"academy/internal/metrics"
	"academy/internal/observability"
	"academy/internal/queue"
	"academy/internal/sandbox"
	"academy/internal/sandbox/migrations"
	"academy/internal/store"
	"academy/internal/worker"
)

var version = "dev"

func main() {
	cfg := config.Load()

	lg, err := logging.Init(cfg.LogLevel, cfg.Env, "sandbox", version)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer lg.Closer()

	flush, err := observability.InitSentry(cfg.SentryDSN, cfg.Env, "sandbox", version)
	if err != nil {
		lg.Base.Warn("sentry disabled", zap.Error(err))
	}
	defer flush()

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(cfg, lg.Base); err != nil {
		observability.CaptureErr(err)
		lg.Base.Fatal("sandbox failed", zap.Error(err))
	}
}

func run(cfg config.App, lg *zap.Logger) error {
	if cfg.JWTSigningKey == "" {
		return errors.New("JWT_SIGNING_KEY is required: the sandbox issues and verifies its own tokens")
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(ctx, migrations.FS, "."); err != nil {
		return err
	}

	repo := sandbox.NewRepository(db.Client)
	if cfg.SandboxSeed {
		seeded, err := repo.Seed(ctx)
		if err != nil {
			return err
		}
		lg.Info("demo seed", zap.Bool("inserted", seeded))
	}

	var (
		q           queue.Queue
		redisClient *store.Redis
	)
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(256)
	} else {
		redisClient, err = store.NewRedis(cfg.RedisAddr)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		q = queue.NewRedisQueue(redisClient.Client, "")
	}

	svc := sandbox.NewService(repo, q, lg, cfg.Location)
	if cfg.QueueBackend == "memory" {
		// no separate worker can see an in-process queue
		go func() {
			if err := worker.Run(ctx, q, svc, lg.Named("worker")); err != nil {
				lg.Error("in-process worker stopped", zap.Error(err))
			}
		}()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestID())
	r.Use(httpmiddleware.AccessLog(lg, "/healthz", "/metrics"))
	r.Use(httpmiddleware.SecurityHeaders())
	r.Use(sandbox.Header())

	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	r.GET("/healthz", func(c *gin.Context) {
		dbHealthy := db.Healthy(c.Request.Context())
		body := gin.H{"status": "ok", "sandbox": true, "db": dbHealthy}
		status := http.StatusOK
		if !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		if redisClient != nil {
			redisHealthy := redisClient.Healthy(c.Request.Context())
			body["redis"] = redisHealthy
			if !redisHealthy {
				status = http.StatusServiceUnavailable
			}
		}
		c.JSON(status, body)
	})

	sandbox.NewHandler(svc, cfg.JWTSigningKey, cfg.JWTIssuer, cfg.AccessTTL, lg).Register(r)

	srv := &http.Server{
		Addr:         ":" + cfg.SandboxPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		lg.Warn("SANDBOX backend listening: demo data only", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	lg.Info("shutting down sandbox")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		lg.Warn("forced shutdown", zap.Error(err))
	}
	return nil
}
