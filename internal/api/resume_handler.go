package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"gorm.io/gorm"

	"github.com/nikzz125000/portfolio-website-sub000/internal/database"
	"github.com/nikzz125000/portfolio-website-sub000/internal/storage"
)

// resumeStorage 是简历文档处理依赖的最小存储接口。
type resumeStorage interface {
	UploadFile(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) (*minio.UploadInfo, error)
	DeleteObject(ctx context.Context, objectKey string) error
	GeneratePresignedURLWithParams(ctx context.Context, objectKey string, duration time.Duration, params map[string]string) (string, error)
}

// ResumeHandler 负责站点展示的简历文档（单文件，整体替换）。
type ResumeHandler struct {
	db      *gorm.DB
	storage resumeStorage
	scanner *uploadScanner
	logger  *slog.Logger
}

// NewResumeHandler 构造 ResumeHandler。
func NewResumeHandler(db *gorm.DB, storageClient resumeStorage, scanner *uploadScanner, logger *slog.Logger) *ResumeHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResumeHandler{
		db:      db,
		storage: storageClient,
		scanner: scanner,
		logger:  logger,
	}
}

type resumeResponse struct {
	ID        uint      `json:"id"`
	FileName  string    `json:"file_name"`
	Size      int64     `json:"size"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UploadResume 上传并替换站点简历，旧文件在新行落库后删除。
func (h *ResumeHandler) UploadResume(c *gin.Context) {
	if _, ok := userIDFromContext(c); !ok {
		AbortUnauthorized(c)
		return
	}

	file, err := c.FormFile("file")
	if err != nil {
		BadRequest(c, "missing file")
		return
	}

	if h.scanner != nil {
		if err := h.scanner.Check(file); err != nil {
			BadRequest(c, err.Error())
			return
		}
	}

	reader, err := file.Open()
	if err != nil {
		Internal(c, "failed to open file")
		return
	}
	defer reader.Close()

	contentType := file.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	ctx := c.Request.Context()
	objectKey := fmt.Sprintf("%s%s.pdf", storage.ResumePrefix, uuid.NewString())
	if _, err := h.storage.UploadFile(ctx, objectKey, reader, file.Size, contentType); err != nil {
		h.logger.Error("upload resume failed", slog.Any("error", err))
		Internal(c, "failed to upload resume")
		return
	}

	previous, err := h.latest(ctx)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		h.logger.Error("load previous resume failed", slog.Any("error", err))
		Internal(c, "failed to load previous resume")
		return
	}

	row := database.Resume{
		ObjectKey:   objectKey,
		FileName:    file.Filename,
		ContentType: contentType,
		Size:        file.Size,
	}
	if err := h.db.WithContext(ctx).Create(&row).Error; err != nil {
		// 行写入失败：回收刚上传的对象，避免泄漏。
		if delErr := h.storage.DeleteObject(ctx, objectKey); delErr != nil {
			h.logger.Error("delete uncommitted resume upload failed", slog.Any("error", delErr))
		}
		h.logger.Error("create resume row failed", slog.Any("error", err))
		Internal(c, "failed to save resume")
		return
	}

	if previous != nil {
		if err := h.db.WithContext(ctx).Unscoped().Delete(&database.Resume{}, previous.ID).Error; err != nil {
			h.logger.Warn("delete previous resume row failed", slog.Any("error", err))
		}
		if err := h.storage.DeleteObject(ctx, previous.ObjectKey); err != nil {
			h.logger.Warn("delete previous resume file failed",
				slog.String("object_key", previous.ObjectKey),
				slog.Any("error", err),
			)
		}
	}

	c.JSON(http.StatusCreated, newResumeResponse(row))
}

// GetResume 返回当前简历的元信息。
func (h *ResumeHandler) GetResume(c *gin.Context) {
	row, err := h.latest(c.Request.Context())
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "resume not found")
			return
		}
		h.logger.Error("load resume failed", slog.Any("error", err))
		Internal(c, "failed to load resume")
		return
	}
	c.JSON(http.StatusOK, newResumeResponse(*row))
}

// GetDownloadLink 生成简历的限时下载链接。
func (h *ResumeHandler) GetDownloadLink(c *gin.Context) {
	ctx := c.Request.Context()
	row, err := h.latest(ctx)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "resume not found")
			return
		}
		h.logger.Error("load resume failed", slog.Any("error", err))
		Internal(c, "failed to load resume")
		return
	}

	// 浏览器应直接下载而不是内嵌打开，文件名沿用上传时的原名。
	params := map[string]string{
		"response-content-disposition": fmt.Sprintf("attachment; filename=%q", row.FileName),
	}
	signedURL, err := h.storage.GeneratePresignedURLWithParams(ctx, row.ObjectKey, 5*time.Minute, params)
	if err != nil {
		h.logger.Error("generate resume download link failed", slog.Any("error", err))
		Internal(c, "failed to generate download link")
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": signedURL})
}

func (h *ResumeHandler) latest(ctx context.Context) (*database.Resume, error) {
	var row database.Resume
	if err := h.db.WithContext(ctx).Order("created_at DESC").First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

func newResumeResponse(row database.Resume) resumeResponse {
	return resumeResponse{
		ID:        row.ID,
		FileName:  row.FileName,
		Size:      row.Size,
		UpdatedAt: row.UpdatedAt,
	}
}
