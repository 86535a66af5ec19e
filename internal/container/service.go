package container

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/minio/minio-go/v7"
	"gorm.io/gorm"

	"github.com/nikzz125000/portfolio-website-sub000/internal/database"
	"github.com/nikzz125000/portfolio-website-sub000/internal/layout"
	"github.com/nikzz125000/portfolio-website-sub000/internal/storage"
	"github.com/nikzz125000/portfolio-website-sub000/internal/tasks"
)

var (
	ErrContainerNotFound  = errors.New("container not found")
	ErrSubProjectNotFound = errors.New("sub project not found")
)

// ObjectStore 是保存流程依赖的最小存储接口。
type ObjectStore interface {
	UploadFile(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) (*minio.UploadInfo, error)
	DeleteObject(ctx context.Context, objectKey string) error
	DeletePrefix(ctx context.Context, prefix string) error
	PublicURL(objectKey string) string
}

// TaskEnqueuer 抽象 asynq 客户端，便于测试时注入假实现。
type TaskEnqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Service 负责区块与子图片的保存/读取编排。
// 保存是一个逻辑事务：行写入全有或全无；文件写删围绕事务结果排序，
// 待删文件先以 FileCleanup 行记账（随事务提交/回滚），提交后才真正删除。
type Service struct {
	db       *gorm.DB
	store    ObjectStore
	enqueuer TaskEnqueuer
	logger   *slog.Logger
}

// NewService 构造 Service。enqueuer 可以为 nil（例如离线工具），此时跳过任务入队。
func NewService(db *gorm.DB, store ObjectStore, enqueuer TaskEnqueuer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		db:       db,
		store:    store,
		enqueuer: enqueuer,
		logger:   logger,
	}
}

type pendingDelete struct {
	rowID uint
	key   string
}

// SaveContainer 以一个原子单元应用整份保存请求。
// 处理顺序：先写新背景文件（事务外）→ 解析区块行 → 事务内逐个落子图片行
// 并为被替换的旧文件记账 → 提交后删除旧文件并入队缩略图/快照任务。
// 任一环节失败则回滚行写入，并删除本次尝试中已上传的全部文件。
func (s *Service) SaveContainer(ctx context.Context, req SaveContainerRequest, correlationID string) (SaveContainerResult, error) {
	if err := validateRequest(req); err != nil {
		return SaveContainerResult{}, err
	}

	log := s.logger.With(
		slog.String("correlation_id", correlationID),
		slog.Uint64("container_id", uint64(req.ContainerID)),
	)

	var uploadedThisAttempt []string
	defer func() {
		// uploadedThisAttempt 在成功路径上会被置空；残留说明保存失败，
		// 这些对象从未被任何已提交的行引用，直接删除。
		for _, key := range uploadedThisAttempt {
			if err := s.store.DeleteObject(ctx, key); err != nil {
				log.Error("delete uncommitted upload failed",
					slog.String("object_key", key),
					slog.Any("error", err),
				)
			}
		}
	}()

	newBackgroundKey := ""
	if req.Background != nil {
		key, err := s.uploadFile(ctx, storage.ContainerPrefix, req.Background)
		if err != nil {
			return SaveContainerResult{}, fmt.Errorf("upload background: %w", err)
		}
		uploadedThisAttempt = append(uploadedThisAttempt, key)
		newBackgroundKey = key
	}

	var row database.ProjectContainer
	isUpdate := req.ContainerID != 0
	if isUpdate {
		if err := s.db.WithContext(ctx).First(&row, req.ContainerID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return SaveContainerResult{}, ErrContainerNotFound
			}
			return SaveContainerResult{}, fmt.Errorf("load container: %w", err)
		}
	}

	staleBackground := ""
	row.Title = req.Title
	row.SortOrder = req.SortOrder
	if newBackgroundKey != "" {
		staleBackground = row.BackgroundKey
		row.BackgroundKey = newBackgroundKey
		row.AspectRatio = req.AspectRatio
	} else if req.AspectRatio > 0 {
		row.AspectRatio = req.AspectRatio
	}

	var pending []pendingDelete
	var thumbnailIDs []uint

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(&row).Error; err != nil {
			return fmt.Errorf("upsert container: %w", err)
		}

		for i, item := range req.SubItems {
			switch item.Kind {
			case KindNew:
				imageKey := ""
				if item.File != nil {
					key, err := s.uploadFile(ctx, storage.SubProjectPrefix, item.File)
					if err != nil {
						return fmt.Errorf("upload sub project %d: %w", i, err)
					}
					uploadedThisAttempt = append(uploadedThisAttempt, key)
					imageKey = key
				}
				sub := database.SubProject{
					ProjectContainerID: row.ID,
					ImageKey:           imageKey,
				}
				applySubItemFields(&sub, item)
				if err := tx.Create(&sub).Error; err != nil {
					return fmt.Errorf("insert sub project %d: %w", i, err)
				}
				if imageKey != "" {
					thumbnailIDs = append(thumbnailIDs, sub.ID)
				}

			case KindExisting:
				var sub database.SubProject
				if err := tx.
					Where("id = ? AND project_container_id = ?", item.ID, row.ID).
					First(&sub).Error; err != nil {
					if errors.Is(err, gorm.ErrRecordNotFound) {
						return fmt.Errorf("sub project %d: %w", item.ID, ErrSubProjectNotFound)
					}
					return fmt.Errorf("load sub project %d: %w", item.ID, err)
				}
				if item.File != nil {
					key, err := s.uploadFile(ctx, storage.SubProjectPrefix, item.File)
					if err != nil {
						return fmt.Errorf("upload sub project %d: %w", item.ID, err)
					}
					uploadedThisAttempt = append(uploadedThisAttempt, key)

					for _, stale := range []string{sub.ImageKey, sub.ThumbnailKey} {
						entry, err := recordPendingDelete(tx, stale, "subproject replaced")
						if err != nil {
							return err
						}
						if entry != nil {
							pending = append(pending, *entry)
						}
					}
					sub.ImageKey = key
					sub.ThumbnailKey = ""
					thumbnailIDs = append(thumbnailIDs, sub.ID)
				}
				// 位置、高度与动画字段无论是否换图都整体覆盖。
				applySubItemFields(&sub, item)
				if err := tx.Save(&sub).Error; err != nil {
					return fmt.Errorf("update sub project %d: %w", item.ID, err)
				}

			default:
				return fmt.Errorf("sub item %d: invalid kind %q", i, item.Kind)
			}
		}

		entry, err := recordPendingDelete(tx, staleBackground, "background replaced")
		if err != nil {
			return err
		}
		if entry != nil {
			pending = append(pending, *entry)
		}
		return nil
	})
	if txErr != nil {
		log.Error("save container rolled back", slog.Any("error", txErr))
		return SaveContainerResult{}, txErr
	}

	// 提交成功：本次上传的对象已被行引用，不再属于待回滚清单。
	uploadedThisAttempt = nil

	s.executePendingDeletes(ctx, log, pending)

	for _, id := range thumbnailIDs {
		s.enqueueTask(log, "thumbnail", func() (*asynq.Task, error) {
			return tasks.NewThumbnailGenerateTask(id, correlationID)
		})
	}
	s.enqueueTask(log, "snapshot", func() (*asynq.Task, error) {
		return tasks.NewSnapshotRenderTask(row.ID, correlationID)
	})

	message := "Container created successfully"
	if isUpdate {
		message = "Container updated successfully"
	}
	return SaveContainerResult{ContainerID: row.ID, Message: message}, nil
}

// GetContainer 返回单个区块及其全部子图片。
func (s *Service) GetContainer(ctx context.Context, id uint) (*ContainerDetailView, error) {
	var row database.ProjectContainer
	err := s.db.WithContext(ctx).
		Preload("SubProjects", func(db *gorm.DB) *gorm.DB {
			return db.Order("sort_order ASC, id ASC")
		}).
		First(&row, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrContainerNotFound
		}
		return nil, fmt.Errorf("load container: %w", err)
	}
	view := s.detailView(row)
	return &view, nil
}

// ListContainers 返回全部区块（无子图片、无分页），按排序值排列。
func (s *Service) ListContainers(ctx context.Context) ([]ContainerView, error) {
	var rows []database.ProjectContainer
	if err := s.db.WithContext(ctx).
		Order("sort_order ASC, id ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}
	views := make([]ContainerView, 0, len(rows))
	for _, row := range rows {
		views = append(views, s.containerView(row))
	}
	return views, nil
}

// ListContainerDetails 返回全部区块与各自的子图片，供公开站点一次拉全。
func (s *Service) ListContainerDetails(ctx context.Context) ([]ContainerDetailView, error) {
	var rows []database.ProjectContainer
	err := s.db.WithContext(ctx).
		Preload("SubProjects", func(db *gorm.DB) *gorm.DB {
			return db.Order("sort_order ASC, id ASC")
		}).
		Order("sort_order ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list container details: %w", err)
	}
	views := make([]ContainerDetailView, 0, len(rows))
	for _, row := range rows {
		views = append(views, s.detailView(row))
	}
	return views, nil
}

// DeleteSubProject 删除指定区块下的单个子图片，并连带清理其图片文件。
func (s *Service) DeleteSubProject(ctx context.Context, containerID, subID uint) error {
	var sub database.SubProject
	err := s.db.WithContext(ctx).
		Where("id = ? AND project_container_id = ?", subID, containerID).
		First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrSubProjectNotFound
		}
		return fmt.Errorf("load sub project: %w", err)
	}

	var pending []pendingDelete
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, key := range []string{sub.ImageKey, sub.ThumbnailKey} {
			entry, err := recordPendingDelete(tx, key, "subproject deleted")
			if err != nil {
				return err
			}
			if entry != nil {
				pending = append(pending, *entry)
			}
		}
		// 业务上不存在回收站，直接硬删除。
		if err := tx.Unscoped().Delete(&database.SubProject{}, sub.ID).Error; err != nil {
			return fmt.Errorf("delete sub project: %w", err)
		}
		return nil
	})
	if txErr != nil {
		return txErr
	}

	s.executePendingDeletes(ctx, s.logger, pending)
	return nil
}

// DeleteContainer 删除区块及其全部子图片与文件。
func (s *Service) DeleteContainer(ctx context.Context, id uint) error {
	var row database.ProjectContainer
	err := s.db.WithContext(ctx).
		Preload("SubProjects").
		First(&row, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrContainerNotFound
		}
		return fmt.Errorf("load container: %w", err)
	}

	keys := []string{row.BackgroundKey, row.SnapshotKey}
	for _, sub := range row.SubProjects {
		keys = append(keys, sub.ImageKey, sub.ThumbnailKey)
	}

	var pending []pendingDelete
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, key := range keys {
			entry, err := recordPendingDelete(tx, key, "container deleted")
			if err != nil {
				return err
			}
			if entry != nil {
				pending = append(pending, *entry)
			}
		}
		if err := tx.Unscoped().
			Where("project_container_id = ?", row.ID).
			Delete(&database.SubProject{}).Error; err != nil {
			return fmt.Errorf("delete sub projects: %w", err)
		}
		if err := tx.Unscoped().Delete(&database.ProjectContainer{}, row.ID).Error; err != nil {
			return fmt.Errorf("delete container: %w", err)
		}
		return nil
	})
	if txErr != nil {
		return txErr
	}

	s.executePendingDeletes(ctx, s.logger, pending)

	// 快照目录可能残留历史渲染产物（指针已换、旧对象删除失败的情况），
	// 区块删除时按前缀整体清掉。
	snapshotDir := fmt.Sprintf("%s%d/", storage.SnapshotPrefix, row.ID)
	if err := s.store.DeletePrefix(ctx, snapshotDir); err != nil {
		s.logger.Warn("sweep snapshot prefix failed",
			slog.String("prefix", snapshotDir),
			slog.Any("error", err),
		)
	}
	return nil
}

func validateRequest(req SaveContainerRequest) error {
	if req.Background != nil && req.AspectRatio <= 0 {
		return errors.New("aspect ratio is required with a new background file")
	}
	for i, item := range req.SubItems {
		switch item.Kind {
		case KindNew:
			if item.ID != 0 {
				return fmt.Errorf("sub item %d: new item must not carry an id", i)
			}
		case KindExisting:
			if item.ID == 0 {
				return fmt.Errorf("sub item %d: existing item requires an id", i)
			}
		default:
			return fmt.Errorf("sub item %d: invalid kind %q", i, item.Kind)
		}
		if err := item.Animation.Validate(); err != nil {
			return fmt.Errorf("sub item %d: %w", i, err)
		}
	}
	return nil
}

func applySubItemFields(sub *database.SubProject, item SubItemInput) {
	sub.XPercent = layout.ClampPercent(item.XPercent)
	sub.YPercent = layout.ClampPercent(item.YPercent)
	sub.HeightPercent = layout.ClampPercent(item.HeightPercent)
	sub.AnimationName = item.Animation.Name
	sub.AnimationSpeed = item.Animation.Speed
	sub.AnimationTrigger = item.Animation.Trigger
	sub.IsExterior = item.IsExterior
	sub.SortOrder = item.SortOrder
}

// recordPendingDelete 在事务内写入一条待删记录。空键返回 nil。
func recordPendingDelete(tx *gorm.DB, objectKey, reason string) (*pendingDelete, error) {
	objectKey = strings.TrimSpace(objectKey)
	if objectKey == "" {
		return nil, nil
	}
	row := database.FileCleanup{ObjectKey: objectKey, Reason: reason}
	if err := tx.Create(&row).Error; err != nil {
		return nil, fmt.Errorf("record pending delete %q: %w", objectKey, err)
	}
	return &pendingDelete{rowID: row.ID, key: objectKey}, nil
}

// executePendingDeletes 在事务提交之后执行实际的文件删除并清除记账行。
// 删除失败只记日志：残留行会被 Worker 的清扫任务重试。
func (s *Service) executePendingDeletes(ctx context.Context, log *slog.Logger, pending []pendingDelete) {
	for _, entry := range pending {
		if err := s.store.DeleteObject(ctx, entry.key); err != nil {
			log.Error("delete superseded object failed, leaving cleanup row for sweep",
				slog.String("object_key", entry.key),
				slog.Any("error", err),
			)
			continue
		}
		if err := s.db.WithContext(ctx).
			Unscoped().Delete(&database.FileCleanup{}, entry.rowID).Error; err != nil {
			log.Warn("clear cleanup row failed",
				slog.Uint64("row_id", uint64(entry.rowID)),
				slog.Any("error", err),
			)
		}
	}
}

func (s *Service) uploadFile(ctx context.Context, prefix string, upload *FileUpload) (string, error) {
	contentType := upload.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	key := prefix + uuid.NewString() + extensionFor(contentType)
	if _, err := s.store.UploadFile(ctx, key, upload.Reader, upload.Size, contentType); err != nil {
		return "", err
	}
	return key, nil
}

func (s *Service) enqueueTask(log *slog.Logger, kind string, build func() (*asynq.Task, error)) {
	if s.enqueuer == nil {
		return
	}
	task, err := build()
	if err != nil {
		log.Error("build task failed", slog.String("task", kind), slog.Any("error", err))
		return
	}
	if _, err := s.enqueuer.Enqueue(task, asynq.MaxRetry(5)); err != nil {
		log.Error("enqueue task failed", slog.String("task", kind), slog.Any("error", err))
	}
}

func (s *Service) containerView(row database.ProjectContainer) ContainerView {
	return ContainerView{
		ID:            row.ID,
		Title:         row.Title,
		BackgroundURL: s.store.PublicURL(row.BackgroundKey),
		SnapshotURL:   s.store.PublicURL(row.SnapshotKey),
		AspectRatio:   row.AspectRatio,
		SortOrder:     row.SortOrder,
		CreatedAt:     row.CreatedAt,
		UpdatedAt:     row.UpdatedAt,
	}
}

func (s *Service) detailView(row database.ProjectContainer) ContainerDetailView {
	subs := make([]SubProjectView, 0, len(row.SubProjects))
	for _, sub := range row.SubProjects {
		subs = append(subs, SubProjectView{
			ID:            sub.ID,
			ImageURL:      s.store.PublicURL(sub.ImageKey),
			ThumbnailURL:  s.store.PublicURL(sub.ThumbnailKey),
			XPercent:      sub.XPercent,
			YPercent:      sub.YPercent,
			HeightPercent: sub.HeightPercent,
			Animation: layout.Animation{
				Name:    sub.AnimationName,
				Speed:   sub.AnimationSpeed,
				Trigger: sub.AnimationTrigger,
			},
			IsExterior: sub.IsExterior,
			SortOrder:  sub.SortOrder,
		})
	}
	return ContainerDetailView{
		ContainerView: s.containerView(row),
		SubProjects:   subs,
	}
}

func extensionFor(contentType string) string {
	switch strings.ToLower(strings.TrimSpace(contentType)) {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".bin"
	}
}
