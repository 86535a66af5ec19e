package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"gorm.io/gorm"

	"github.com/nikzz125000/portfolio-website-sub000/internal/database"
	"github.com/nikzz125000/portfolio-website-sub000/internal/storage"
	"github.com/nikzz125000/portfolio-website-sub000/internal/tasks"
)

// CleanupHandler 负责清扫滞留的文件删除记账行。
// 正常路径下记账行在保存提交后立即清除；这里兜底处理删除失败
// 或进程中途退出留下的残留行。
type CleanupHandler struct {
	db      *gorm.DB
	storage *storage.Client
	logger  *slog.Logger
}

// NewCleanupHandler 创建任务处理器。
func NewCleanupHandler(db *gorm.DB, storageClient *storage.Client, logger *slog.Logger) *CleanupHandler {
	return &CleanupHandler{
		db:      db,
		storage: storageClient,
		logger:  logger,
	}
}

// ProcessTask 实现 asynq.Handler。
func (h *CleanupHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	log := h.logger

	var payload tasks.CleanupSweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		log.Error("unmarshal cleanup payload failed", slog.Any("error", err))
		return err
	}

	olderThan := payload.OlderThanMinutes
	if olderThan <= 0 {
		olderThan = 10
	}
	cutoff := time.Now().Add(-time.Duration(olderThan) * time.Minute)

	var rows []database.FileCleanup
	if err := h.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Order("id ASC").
		Limit(200).
		Find(&rows).Error; err != nil {
		log.Error("query stale cleanup rows failed", slog.Any("error", err))
		return err
	}

	if len(rows) == 0 {
		return nil
	}
	log.Info("Sweeping stale cleanup rows...", slog.Int("count", len(rows)))

	var failed int
	for _, row := range rows {
		if err := h.storage.DeleteObject(ctx, row.ObjectKey); err != nil {
			failed++
			log.Warn("sweep delete object failed, row stays for next sweep",
				slog.Uint64("row_id", uint64(row.ID)),
				slog.String("object_key", row.ObjectKey),
				slog.Any("error", err),
			)
			continue
		}
		if err := h.db.WithContext(ctx).
			Unscoped().Delete(&database.FileCleanup{}, row.ID).Error; err != nil {
			log.Warn("sweep clear row failed",
				slog.Uint64("row_id", uint64(row.ID)),
				slog.Any("error", err),
			)
		}
	}

	log.Info("Cleanup sweep finished.",
		slog.Int("processed", len(rows)),
		slog.Int("failed", failed),
	)
	return nil
}
