package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/nikzz125000/portfolio-website-sub000/internal/api/middleware"
	"github.com/nikzz125000/portfolio-website-sub000/internal/container"
)

// ContainerHandler 负责区块（首页全屏背景段落）及其子图片的 API。
type ContainerHandler struct {
	service *container.Service
	scanner *uploadScanner
	logger  *slog.Logger
}

// NewContainerHandler 构造 ContainerHandler。
func NewContainerHandler(service *container.Service, scanner *uploadScanner, logger *slog.Logger) *ContainerHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ContainerHandler{
		service: service,
		scanner: scanner,
		logger:  logger,
	}
}

// SaveContainer 接收一次完整的区块保存（multipart：区块字段 + Projects[i].* 子图片）。
func (h *ContainerHandler) SaveContainer(c *gin.Context) {
	if _, ok := userIDFromContext(c); !ok {
		AbortUnauthorized(c)
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		SaveFailed(c, http.StatusBadRequest, "invalid multipart payload")
		return
	}

	// 所有上传文件先过扫描，再进入保存编排。
	if h.scanner != nil {
		for _, headers := range form.File {
			for _, header := range headers {
				if err := h.scanner.Check(header); err != nil {
					SaveFailed(c, http.StatusBadRequest, err.Error())
					return
				}
			}
		}
	}

	parsed, err := parseSaveContainerForm(form)
	if err != nil {
		SaveFailed(c, http.StatusBadRequest, err.Error())
		return
	}
	defer parsed.Close()

	correlationID := middleware.GetCorrelationID(c)
	result, err := h.service.SaveContainer(c.Request.Context(), parsed.request, correlationID)
	if err != nil {
		switch {
		case errors.Is(err, container.ErrContainerNotFound):
			SaveFailed(c, http.StatusNotFound, "container not found")
		case errors.Is(err, container.ErrSubProjectNotFound):
			SaveFailed(c, http.StatusNotFound, "sub project not found")
		default:
			h.logger.Error("save container failed",
				slog.String("correlation_id", correlationID),
				slog.Any("error", err),
			)
			SaveFailed(c, http.StatusInternalServerError, "failed to save container")
		}
		return
	}

	status := http.StatusOK
	if parsed.request.ContainerID == 0 {
		status = http.StatusCreated
	}
	Saved(c, status, result.Message, result.ContainerID)
}

// ListContainers 返回全部区块概要。
func (h *ContainerHandler) ListContainers(c *gin.Context) {
	views, err := h.service.ListContainers(c.Request.Context())
	if err != nil {
		h.logger.Error("list containers failed", slog.Any("error", err))
		Internal(c, "failed to list containers")
		return
	}
	c.JSON(http.StatusOK, views)
}

// ListContainerDetails 返回全部区块与子图片，公开站点一次拉全。
func (h *ContainerHandler) ListContainerDetails(c *gin.Context) {
	views, err := h.service.ListContainerDetails(c.Request.Context())
	if err != nil {
		h.logger.Error("list container details failed", slog.Any("error", err))
		Internal(c, "failed to list container details")
		return
	}
	c.JSON(http.StatusOK, views)
}

// GetContainer 返回单个区块及其子图片。
func (h *ContainerHandler) GetContainer(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		BadRequest(c, "invalid container id")
		return
	}

	view, err := h.service.GetContainer(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, container.ErrContainerNotFound) {
			NotFound(c, "container not found")
			return
		}
		h.logger.Error("get container failed", slog.Any("error", err))
		Internal(c, "failed to load container")
		return
	}
	c.JSON(http.StatusOK, view)
}

// InternalContainerDetails 供快照渲染页拉取布局数据，仅允许内部调用。
func (h *ContainerHandler) InternalContainerDetails(c *gin.Context) {
	h.GetContainer(c)
}

// DeleteContainer 删除区块及其全部子图片与文件。
func (h *ContainerHandler) DeleteContainer(c *gin.Context) {
	if _, ok := userIDFromContext(c); !ok {
		AbortUnauthorized(c)
		return
	}

	id, err := parseIDParam(c, "id")
	if err != nil {
		BadRequest(c, "invalid container id")
		return
	}

	if err := h.service.DeleteContainer(c.Request.Context(), id); err != nil {
		if errors.Is(err, container.ErrContainerNotFound) {
			NotFound(c, "container not found")
			return
		}
		h.logger.Error("delete container failed", slog.Any("error", err))
		Internal(c, "failed to delete container")
		return
	}
	c.Status(http.StatusNoContent)
}

// DeleteSubProject 删除 (区块, 子图片) 二元组定位的单个子图片。
func (h *ContainerHandler) DeleteSubProject(c *gin.Context) {
	if _, ok := userIDFromContext(c); !ok {
		AbortUnauthorized(c)
		return
	}

	containerID, err := parseIDParam(c, "id")
	if err != nil {
		BadRequest(c, "invalid container id")
		return
	}
	subID, err := parseIDParam(c, "subId")
	if err != nil {
		BadRequest(c, "invalid sub project id")
		return
	}

	if err := h.service.DeleteSubProject(c.Request.Context(), containerID, subID); err != nil {
		if errors.Is(err, container.ErrSubProjectNotFound) {
			NotFound(c, "sub project not found")
			return
		}
		h.logger.Error("delete sub project failed", slog.Any("error", err))
		Internal(c, "failed to delete sub project")
		return
	}
	c.Status(http.StatusNoContent)
}

func parseIDParam(c *gin.Context, name string) (uint, error) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		return 0, errors.New("invalid id")
	}
	return uint(id), nil
}
