package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"log/slog"
	"strings"

	"github.com/hibiken/asynq"
	"github.com/nfnt/resize"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/nikzz125000/portfolio-website-sub000/internal/database"
	"github.com/nikzz125000/portfolio-website-sub000/internal/errcode"
	"github.com/nikzz125000/portfolio-website-sub000/internal/storage"
	"github.com/nikzz125000/portfolio-website-sub000/internal/tasks"
)

const thumbnailJPEGQuality = 80

// ThumbnailHandler 负责消费子图片缩略图生成任务。
type ThumbnailHandler struct {
	db          *gorm.DB
	storage     *storage.Client
	redisClient *redis.Client
	logger      *slog.Logger
	width       int
}

// NewThumbnailHandler 创建任务处理器。width 为缩略图目标宽度（像素），高度按比例缩放。
func NewThumbnailHandler(
	db *gorm.DB,
	storageClient *storage.Client,
	redisClient *redis.Client,
	logger *slog.Logger,
	width int,
) *ThumbnailHandler {
	if width <= 0 {
		width = 320
	}
	return &ThumbnailHandler{
		db:          db,
		storage:     storageClient,
		redisClient: redisClient,
		logger:      logger,
		width:       width,
	}
}

// ProcessTask 实现 asynq.Handler。
func (h *ThumbnailHandler) ProcessTask(ctx context.Context, t *asynq.Task) (retErr error) {
	log := h.logger

	var payload tasks.ThumbnailGeneratePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		log.Error("unmarshal thumbnail payload failed", slog.Any("error", err))
		return err
	}

	log = log.With(
		slog.String("correlation_id", payload.CorrelationID),
		slog.Uint64("sub_project_id", uint64(payload.SubProjectID)),
	)
	log.Info("Starting thumbnail generation task...")

	var sub database.SubProject
	if err := h.db.WithContext(ctx).First(&sub, payload.SubProjectID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warn("sub project not found, skipping task")
			return nil
		}
		log.Error("query sub project failed", slog.Any("error", err))
		return err
	}
	if sub.ImageKey == "" {
		log.Warn("sub project has no image, skipping task")
		return nil
	}

	defer func() {
		if retErr == nil {
			return
		}
		if !isFinalAsynqAttempt(ctx) {
			return
		}
		notify := RenderNotifyMessage{
			Kind:          "thumbnail",
			Status:        "error",
			SubProjectID:  sub.ID,
			ContainerID:   sub.ProjectContainerID,
			CorrelationID: payload.CorrelationID,
			ErrorCode:     errcode.SystemError,
			ErrorMessage:  strings.TrimSpace(retErr.Error()),
		}
		if err := publishRenderNotify(ctx, h.redisClient, notify); err != nil {
			log.Error("publish thumbnail error notification failed", slog.Any("error", err))
		}
	}()

	thumbBytes, err := h.renderThumbnail(ctx, sub.ImageKey)
	if err != nil {
		if storage.IsNoSuchKey(err) {
			log.Warn("source image missing in storage, skipping task", slog.String("image_key", sub.ImageKey))
			return nil
		}
		var decodeErr undecodableImageError
		if errors.As(err, &decodeErr) {
			log.Warn("source image not decodable, skipping task",
				slog.String("image_key", sub.ImageKey),
				slog.Any("error", err),
			)
			return nil
		}
		log.Error("render thumbnail failed", slog.Any("error", err))
		return err
	}

	objectName := fmt.Sprintf("%sthumbs/%d.jpg", storage.SubProjectPrefix, sub.ID)
	if _, err := h.storage.UploadFile(ctx, objectName, bytes.NewReader(thumbBytes), int64(len(thumbBytes)), "image/jpeg"); err != nil {
		log.Error("upload thumbnail failed", slog.Any("error", err))
		return err
	}

	if err := h.db.WithContext(ctx).Model(&sub).Update("thumbnail_key", objectName).Error; err != nil {
		log.Error("update sub project thumbnail key failed", slog.Any("error", err))
		return err
	}

	notify := RenderNotifyMessage{
		Kind:          "thumbnail",
		Status:        "completed",
		SubProjectID:  sub.ID,
		ContainerID:   sub.ProjectContainerID,
		ObjectKey:     objectName,
		CorrelationID: payload.CorrelationID,
		ErrorCode:     errcode.OK,
	}
	if err := publishRenderNotify(ctx, h.redisClient, notify); err != nil {
		log.Error("publish thumbnail notification failed", slog.Any("error", err))
		return err
	}

	log.Info("Thumbnail generation task completed successfully.")
	return nil
}

type undecodableImageError struct {
	cause error
}

func (e undecodableImageError) Error() string { return fmt.Sprintf("decode image: %v", e.cause) }
func (e undecodableImageError) Unwrap() error { return e.cause }

func (h *ThumbnailHandler) renderThumbnail(ctx context.Context, imageKey string) ([]byte, error) {
	object, err := h.storage.GetObject(ctx, imageKey)
	if err != nil {
		return nil, err
	}
	defer object.Close()

	img, _, err := image.Decode(object)
	if err != nil {
		// minio 的对象错误要到实际读取时才暴露，先区分取件失败与解码失败。
		if _, statErr := object.Stat(); statErr != nil {
			return nil, statErr
		}
		return nil, undecodableImageError{cause: err}
	}

	thumb := resize.Resize(uint(h.width), 0, img, resize.Lanczos3)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, thumb, &jpeg.Options{Quality: thumbnailJPEGQuality}); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}
