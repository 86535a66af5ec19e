package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/nikzz125000/portfolio-website-sub000/internal/database"
)

func newSettingsTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&database.SiteSettings{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func performSettings(t *testing.T, h *SettingsHandler, method string, body []byte, authed bool) (*httptest.ResponseRecorder, settingsResponse) {
	t.Helper()
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	req := httptest.NewRequest(method, "/v1/settings", bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.Request = req
	if authed {
		c.Set("userID", uint(1))
	}

	switch method {
	case http.MethodGet:
		h.GetSettings(c)
	case http.MethodPut:
		h.UpdateSettings(c)
	default:
		t.Fatalf("unsupported method %s", method)
	}

	var resp settingsResponse
	if w.Code == http.StatusOK {
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode response: %v body=%s", err, w.Body.String())
		}
	}
	return w, resp
}

func TestGetSettings_ReturnsDefaultsWhenUnset(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newSettingsTestDB(t)
	h := NewSettingsHandler(db, slog.Default())

	w, resp := performSettings(t, h, http.MethodGet, nil, false)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d body=%s", w.Code, w.Body.String())
	}
	if resp.ScrollBehavior != "smooth" || resp.ScrollSpeed != 50 {
		t.Fatalf("unexpected defaults: %+v", resp)
	}

	var count int64
	if err := db.Model(&database.SiteSettings{}).Count(&count).Error; err != nil {
		t.Fatalf("count settings: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected default row to be created, got %d rows", count)
	}
}

func TestUpdateSettings_RoundTrip(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newSettingsTestDB(t)
	h := NewSettingsHandler(db, slog.Default())

	body, _ := json.Marshal(map[string]any{
		"scroll_behavior":  "auto",
		"scroll_speed":     80,
		"section_padding":  24,
		"background_color": "#101013",
		"accent_color":     "#ff6600",
		"extra":            map[string]any{"footer_text": "portfolio"},
	})

	w, resp := performSettings(t, h, http.MethodPut, body, true)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d body=%s", w.Code, w.Body.String())
	}
	if resp.ScrollBehavior != "auto" || resp.ScrollSpeed != 80 || resp.SectionPadding != 24 {
		t.Fatalf("unexpected response: %+v", resp)
	}

	w2, resp2 := performSettings(t, h, http.MethodGet, nil, false)
	if w2.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", w2.Code)
	}
	if resp2.AccentColor != "#ff6600" || resp2.BackgroundColor != "#101013" {
		t.Fatalf("update not persisted: %+v", resp2)
	}
	if !bytes.Contains(resp2.Extra, []byte("footer_text")) {
		t.Fatalf("extra payload not persisted: %s", string(resp2.Extra))
	}
}

func TestUpdateSettings_Validation(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newSettingsTestDB(t)
	h := NewSettingsHandler(db, slog.Default())

	body, _ := json.Marshal(map[string]any{
		"scroll_behavior":  "instant",
		"scroll_speed":     80,
		"background_color": "#fff",
		"accent_color":     "#000",
	})
	w, _ := performSettings(t, h, http.MethodPut, body, true)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d body=%s", w.Code, w.Body.String())
	}
}

func TestUpdateSettings_RequiresAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newSettingsTestDB(t)
	h := NewSettingsHandler(db, slog.Default())

	body, _ := json.Marshal(map[string]any{
		"scroll_behavior":  "auto",
		"scroll_speed":     10,
		"background_color": "#fff",
		"accent_color":     "#000",
	})
	w, _ := performSettings(t, h, http.MethodPut, body, false)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", w.Code)
	}
}
