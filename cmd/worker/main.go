package main

import (
	"context"
	"log"
	"log/slog"
	"os"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/nikzz125000/portfolio-website-sub000/internal/config"
	"github.com/nikzz125000/portfolio-website-sub000/internal/database"
	"github.com/nikzz125000/portfolio-website-sub000/internal/metrics"
	"github.com/nikzz125000/portfolio-website-sub000/internal/storage"
	"github.com/nikzz125000/portfolio-website-sub000/internal/tasks"
	"github.com/nikzz125000/portfolio-website-sub000/internal/worker"
)

// 孤儿文件清扫的周期与滞留阈值。
const (
	cleanupSweepSpec    = "@every 10m"
	cleanupSweepMinutes = 10
)

func main() {
	cfg := config.MustLoad()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	db, err := database.InitDatabase(cfg.Database)
	if err != nil {
		log.Fatalf("init database: %v", err)
	}
	log.Println("database connection ready for worker")

	storageClient, err := storage.NewClient(cfg.MinIO)
	if err != nil {
		log.Fatalf("init storage client: %v", err)
	}
	log.Printf("storage client ready, bucket=%s", cfg.MinIO.Bucket)

	redisAddr := cfg.Redis.Addr()
	redisClient := redis.NewClient(&redis.Options{Addr: redisAddr})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error("close redis client failed", slog.Any("error", err))
		}
	}()

	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("ping redis: %v", err)
	}

	redisOpt := asynq.RedisClientOpt{Addr: redisAddr}
	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.Worker.Concurrency,
	})

	thumbnailHandler := worker.NewThumbnailHandler(db, storageClient, redisClient, logger, cfg.Worker.ThumbnailWidth)
	snapshotHandler := worker.NewSnapshotHandler(
		db,
		storageClient,
		redisClient,
		logger,
		cfg.API.InternalSecret,
		cfg.Worker.InternalAPIBase,
		cfg.Worker.FrontendBaseURL,
	)
	cleanupHandler := worker.NewCleanupHandler(db, storageClient, logger)

	mux := asynq.NewServeMux()
	mux.Use(metrics.AsynqMetricsMiddleware())
	mux.Handle(tasks.TypeThumbnailGenerate, thumbnailHandler)
	mux.Handle(tasks.TypeSnapshotRender, snapshotHandler)
	mux.Handle(tasks.TypeCleanupSweep, cleanupHandler)

	scheduler := asynq.NewScheduler(redisOpt, nil)
	sweepTask, err := tasks.NewCleanupSweepTask(cleanupSweepMinutes)
	if err != nil {
		log.Fatalf("build cleanup sweep task: %v", err)
	}
	if _, err := scheduler.Register(cleanupSweepSpec, sweepTask); err != nil {
		log.Fatalf("register cleanup sweep schedule: %v", err)
	}
	go func() {
		if err := scheduler.Run(); err != nil {
			logger.Error("scheduler stopped", slog.Any("error", err))
		}
	}()

	logger.Info("worker service started", slog.String("redis_addr", redisAddr))
	if err := server.Run(mux); err != nil {
		logger.Error("worker server stopped", slog.Any("error", err))
	}
}
