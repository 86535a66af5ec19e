package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/nikzz125000/portfolio-website-sub000/internal/database"
)

// SettingsHandler 负责站点全局设置（滚动行为、间距、配色）。
type SettingsHandler struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewSettingsHandler 构造 SettingsHandler。
func NewSettingsHandler(db *gorm.DB, logger *slog.Logger) *SettingsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SettingsHandler{db: db, logger: logger}
}

type settingsResponse struct {
	ScrollBehavior  string         `json:"scroll_behavior"`
	ScrollSpeed     int            `json:"scroll_speed"`
	SectionPadding  int            `json:"section_padding"`
	BackgroundColor string         `json:"background_color"`
	AccentColor     string         `json:"accent_color"`
	Extra           datatypes.JSON `json:"extra,omitempty"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

type updateSettingsRequest struct {
	ScrollBehavior  string         `json:"scroll_behavior" binding:"required,oneof=auto smooth"`
	ScrollSpeed     int            `json:"scroll_speed" binding:"required,min=1,max=100"`
	SectionPadding  int            `json:"section_padding" binding:"min=0,max=500"`
	BackgroundColor string         `json:"background_color" binding:"required,max=32"`
	AccentColor     string         `json:"accent_color" binding:"required,max=32"`
	Extra           datatypes.JSON `json:"extra"`
}

// GetSettings 返回站点设置；尚未保存过时返回默认值行。
func (h *SettingsHandler) GetSettings(c *gin.Context) {
	ctx := c.Request.Context()

	settings, err := h.loadOrInit(c)
	if err != nil {
		h.logger.ErrorContext(ctx, "load site settings failed", slog.Any("error", err))
		Internal(c, "failed to load settings")
		return
	}

	c.JSON(http.StatusOK, newSettingsResponse(*settings))
}

// UpdateSettings 整体覆盖站点设置（单行，最后写入者胜出）。
func (h *SettingsHandler) UpdateSettings(c *gin.Context) {
	if _, ok := userIDFromContext(c); !ok {
		AbortUnauthorized(c)
		return
	}

	var req updateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	settings, err := h.loadOrInit(c)
	if err != nil {
		h.logger.Error("load site settings failed", slog.Any("error", err))
		Internal(c, "failed to load settings")
		return
	}

	updates := map[string]any{
		"scroll_behavior":  req.ScrollBehavior,
		"scroll_speed":     req.ScrollSpeed,
		"section_padding":  req.SectionPadding,
		"background_color": req.BackgroundColor,
		"accent_color":     req.AccentColor,
	}
	if req.Extra != nil {
		updates["extra"] = req.Extra
	}

	ctx := c.Request.Context()
	if err := h.db.WithContext(ctx).Model(settings).Updates(updates).Error; err != nil {
		h.logger.Error("update site settings failed", slog.Any("error", err))
		Internal(c, "failed to update settings")
		return
	}

	if err := h.db.WithContext(ctx).First(settings, database.SiteSettingsID).Error; err != nil {
		h.logger.Error("reload site settings failed", slog.Any("error", err))
		Internal(c, "failed to reload settings")
		return
	}

	c.JSON(http.StatusOK, newSettingsResponse(*settings))
}

// loadOrInit 读取固定行，缺失时落一行默认值。
func (h *SettingsHandler) loadOrInit(c *gin.Context) (*database.SiteSettings, error) {
	ctx := c.Request.Context()

	var settings database.SiteSettings
	err := h.db.WithContext(ctx).First(&settings, database.SiteSettingsID).Error
	switch {
	case err == nil:
		return &settings, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		settings = database.SiteSettings{
			Model:           gorm.Model{ID: database.SiteSettingsID},
			ScrollBehavior:  "smooth",
			ScrollSpeed:     50,
			BackgroundColor: "#ffffff",
			AccentColor:     "#3388ff",
		}
		if err := h.db.WithContext(ctx).Create(&settings).Error; err != nil {
			return nil, err
		}
		return &settings, nil
	default:
		return nil, err
	}
}

func newSettingsResponse(settings database.SiteSettings) settingsResponse {
	return settingsResponse{
		ScrollBehavior:  settings.ScrollBehavior,
		ScrollSpeed:     settings.ScrollSpeed,
		SectionPadding:  settings.SectionPadding,
		BackgroundColor: settings.BackgroundColor,
		AccentColor:     settings.AccentColor,
		Extra:           settings.Extra,
		UpdatedAt:       settings.UpdatedAt,
	}
}
