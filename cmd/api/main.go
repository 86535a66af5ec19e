package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/nikzz125000/portfolio-website-sub000/internal/api"
	"github.com/nikzz125000/portfolio-website-sub000/internal/auth"
	"github.com/nikzz125000/portfolio-website-sub000/internal/config"
	"github.com/nikzz125000/portfolio-website-sub000/internal/database"
	"github.com/nikzz125000/portfolio-website-sub000/internal/storage"
)

func main() {
	cfg := config.MustLoad()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	db, err := database.InitDatabase(cfg.Database)
	if err != nil {
		log.Fatalf("init database: %v", err)
	}
	log.Println("database connection ready")

	if err := db.AutoMigrate(
		&database.User{},
		&database.ProjectContainer{},
		&database.SubProject{},
		&database.SiteSettings{},
		&database.Resume{},
		&database.FileCleanup{},
	); err != nil {
		log.Fatalf("auto migrate: %v", err)
	}
	log.Println("database migrated")

	storageClient, err := storage.NewClient(cfg.MinIO)
	if err != nil {
		log.Fatalf("init storage client: %v", err)
	}
	log.Printf("storage client ready, bucket=%s", cfg.MinIO.Bucket)

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr()})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error("close redis client failed", slog.Any("error", err))
		}
	}()
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("ping redis: %v", err)
	}

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.Redis.Addr()})
	defer func() {
		if err := asynqClient.Close(); err != nil {
			logger.Error("close asynq client failed", slog.Any("error", err))
		}
	}()

	privatePEM, publicPEM, err := cfg.Auth.ReadKeyPair()
	if err != nil {
		log.Fatalf("read auth key pair: %v", err)
	}
	authService, err := auth.NewAuthService(privatePEM, publicPEM, cfg.Auth.AccessTokenTTL, cfg.Auth.RefreshTokenTTL)
	if err != nil {
		log.Fatalf("init auth service: %v", err)
	}

	router := api.NewRouter(logger)
	api.RegisterRoutes(router, db, asynqClient, authService, redisClient, logger, storageClient, cfg)

	address := fmt.Sprintf(":%d", cfg.API.Port)
	log.Printf("api listening on %s", address)
	if err := router.Run(address); err != nil {
		log.Fatalf("failed to start api server: %v", err)
	}
}
