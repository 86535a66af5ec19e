package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/nikzz125000/portfolio-website-sub000/internal/api/middleware"
	"github.com/nikzz125000/portfolio-website-sub000/internal/auth"
	"github.com/nikzz125000/portfolio-website-sub000/internal/config"
	"github.com/nikzz125000/portfolio-website-sub000/internal/container"
	"github.com/nikzz125000/portfolio-website-sub000/internal/storage"
)

// RegisterRoutes 注册 API 路由，不包含 /api 前缀。
func RegisterRoutes(
	router *gin.Engine,
	db *gorm.DB,
	asynqClient *asynq.Client,
	authService *auth.AuthService,
	redisClient *redis.Client,
	logger *slog.Logger,
	storageClient *storage.Client,
	cfg *config.Config,
) {
	imageScanner := &uploadScanner{
		ClamdAddr:     cfg.Uploads.ClamdAddr,
		MaxBytes:      cfg.Uploads.MaxImageBytes,
		MIMEWhitelist: []string{"image/png", "image/jpeg", "image/webp", "image/gif"},
		Logger:        logger,
	}
	resumeScanner := &uploadScanner{
		ClamdAddr:     cfg.Uploads.ClamdAddr,
		MaxBytes:      cfg.Uploads.MaxResumeBytes,
		MIMEWhitelist: []string{"application/pdf"},
		Logger:        logger,
	}

	containerService := container.NewService(db, storageClient, asynqClient, logger)
	containerHandler := NewContainerHandler(containerService, imageScanner, logger)
	settingsHandler := NewSettingsHandler(db, logger)
	resumeHandler := NewResumeHandler(db, storageClient, resumeScanner, logger)
	authHandler := NewAuthHandler(db, authService, redisClient, logger,
		cfg.Auth.LoginRateLimitPerHour, cfg.Auth.LoginLockThreshold, cfg.Auth.LoginLockTTL, cfg.API.CookieDomain)
	wsHandler := NewWsHandler(redisClient, authService, logger, cfg.API.WsOrigins())

	authMiddleware := middleware.AuthMiddleware(authService)
	passwordGate := middleware.RequirePasswordChangeCompletedMiddleware()

	v1 := router.Group("/v1")
	{
		v1.GET("/ws", wsHandler.HandleConnection)

		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/register", authHandler.Register)
			authGroup.POST("/login", authHandler.Login)
			authGroup.POST("/refresh", authHandler.Refresh)
			authGroup.POST("/logout", authMiddleware, authHandler.Logout)
			authGroup.POST("/change-password", authMiddleware, authHandler.ChangePassword)
		}

		// 公共读取端点：前端首页渲染直接使用。
		v1.GET("/containers", containerHandler.ListContainers)
		v1.GET("/containers/details", containerHandler.ListContainerDetails)
		v1.GET("/containers/:id", containerHandler.GetContainer)
		v1.GET("/settings", settingsHandler.GetSettings)
		v1.GET("/resume", resumeHandler.GetResume)

		editGroup := v1.Group("")
		editGroup.Use(authMiddleware, passwordGate)
		{
			editGroup.POST("/containers", containerHandler.SaveContainer)
			editGroup.DELETE("/containers/:id", containerHandler.DeleteContainer)
			editGroup.DELETE("/containers/:id/subprojects/:subId", containerHandler.DeleteSubProject)
			editGroup.PUT("/settings", settingsHandler.UpdateSettings)
			editGroup.POST("/resume", resumeHandler.UploadResume)
			editGroup.GET("/resume/download-link", resumeHandler.GetDownloadLink)
		}

		internalGroup := v1.Group("/internal")
		internalGroup.Use(middleware.InternalSecretMiddleware(cfg.API.InternalSecret))
		{
			internalGroup.GET("/containers/:id/details", containerHandler.InternalContainerDetails)
		}
	}
}
