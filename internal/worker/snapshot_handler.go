package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/nikzz125000/portfolio-website-sub000/internal/database"
	"github.com/nikzz125000/portfolio-website-sub000/internal/errcode"
	"github.com/nikzz125000/portfolio-website-sub000/internal/storage"
	"github.com/nikzz125000/portfolio-website-sub000/internal/tasks"
)

const snapshotJPEGQuality = 80

// SnapshotHandler 负责消费区块快照渲染任务：
// 在无头浏览器里打开前端的区块页，截图后存入对象存储，供后台编辑器预览。
type SnapshotHandler struct {
	db                 *gorm.DB
	storage            *storage.Client
	redisClient        *redis.Client
	logger             *slog.Logger
	internalSecret     string
	internalAPIBaseURL string
	frontendBaseURL    string
}

// NewSnapshotHandler 创建任务处理器。
func NewSnapshotHandler(
	db *gorm.DB,
	storageClient *storage.Client,
	redisClient *redis.Client,
	logger *slog.Logger,
	internalSecret string,
	internalAPIBaseURL string,
	frontendBaseURL string,
) *SnapshotHandler {
	return &SnapshotHandler{
		db:                 db,
		storage:            storageClient,
		redisClient:        redisClient,
		logger:             logger,
		internalSecret:     internalSecret,
		internalAPIBaseURL: strings.TrimRight(strings.TrimSpace(internalAPIBaseURL), "/"),
		frontendBaseURL:    strings.TrimRight(strings.TrimSpace(frontendBaseURL), "/"),
	}
}

// ProcessTask 实现 asynq.Handler。
func (h *SnapshotHandler) ProcessTask(ctx context.Context, t *asynq.Task) (retErr error) {
	log := h.logger

	var payload tasks.SnapshotRenderPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		log.Error("unmarshal snapshot payload failed", slog.Any("error", err))
		return err
	}

	log = log.With(
		slog.String("correlation_id", payload.CorrelationID),
		slog.Uint64("container_id", uint64(payload.ContainerID)),
	)
	log.Info("Starting section snapshot render task...")

	var section database.ProjectContainer
	if err := h.db.WithContext(ctx).First(&section, payload.ContainerID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warn("container not found, skipping task")
			return nil
		}
		log.Error("query container failed", slog.Any("error", err))
		return err
	}

	defer func() {
		if retErr == nil {
			return
		}
		if !isFinalAsynqAttempt(ctx) {
			return
		}
		notify := RenderNotifyMessage{
			Kind:          "snapshot",
			Status:        "error",
			ContainerID:   section.ID,
			CorrelationID: payload.CorrelationID,
			ErrorCode:     errcode.SystemError,
			ErrorMessage:  strings.TrimSpace(retErr.Error()),
		}
		if err := publishRenderNotify(ctx, h.redisClient, notify); err != nil {
			log.Error("publish snapshot error notification failed", slog.Any("error", err))
		}
	}()

	snapshotBytes, err := h.renderSnapshot(ctx, section.ID, payload.CorrelationID)
	if err != nil {
		log.Error("render section snapshot failed", slog.Any("error", err))
		return err
	}

	objectName := fmt.Sprintf("%s%d/%s.jpg", storage.SnapshotPrefix, section.ID, uuid.NewString())
	if _, err := h.storage.UploadFile(ctx, objectName, bytes.NewReader(snapshotBytes), int64(len(snapshotBytes)), "image/jpeg"); err != nil {
		log.Error("upload snapshot failed", slog.Any("error", err))
		return err
	}

	previousKey := section.SnapshotKey
	if err := h.db.WithContext(ctx).Model(&section).Update("snapshot_key", objectName).Error; err != nil {
		log.Error("update container snapshot key failed", slog.Any("error", err))
		return err
	}

	// 旧快照尽力删除；失败只记日志，下一次渲染仍会覆盖指针。
	if previousKey != "" && previousKey != objectName {
		if err := h.storage.DeleteObject(ctx, previousKey); err != nil {
			log.Warn("delete previous snapshot failed",
				slog.String("object_key", previousKey),
				slog.Any("error", err),
			)
		}
	}

	notify := RenderNotifyMessage{
		Kind:          "snapshot",
		Status:        "completed",
		ContainerID:   section.ID,
		ObjectKey:     objectName,
		CorrelationID: payload.CorrelationID,
		ErrorCode:     errcode.OK,
	}
	if err := publishRenderNotify(ctx, h.redisClient, notify); err != nil {
		log.Error("publish snapshot notification failed", slog.Any("error", err))
		return err
	}

	log.Info("Section snapshot render task completed successfully.")
	return nil
}

func (h *SnapshotHandler) renderSnapshot(ctx context.Context, containerID uint, correlationID string) (_ []byte, err error) {
	layoutData, err := fetchInternalLayoutData(ctx, h.internalAPIBaseURL, containerID, h.internalSecret)
	if err != nil {
		return nil, err
	}

	targetURL := fmt.Sprintf("%s/sections/%d/snapshot", h.frontendBaseURL, containerID)
	injectionScript := buildLayoutInjectionScript(layoutData)

	page, cleanup, err := renderSectionPage(h.logger.With(slog.String("correlation_id", correlationID)), targetURL, injectionScript)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	return captureSectionScreenshot(page, snapshotJPEGQuality)
}
