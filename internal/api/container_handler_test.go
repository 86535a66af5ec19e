package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/minio/minio-go/v7"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/nikzz125000/portfolio-website-sub000/internal/container"
	"github.com/nikzz125000/portfolio-website-sub000/internal/database"
)

type fakeObjectStore struct {
	uploaded map[string][]byte
	deleted  []string
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{uploaded: map[string][]byte{}}
}

func (s *fakeObjectStore) UploadFile(_ context.Context, objectName string, reader io.Reader, _ int64, _ string) (*minio.UploadInfo, error) {
	b, _ := io.ReadAll(reader)
	s.uploaded[objectName] = b
	return &minio.UploadInfo{Key: objectName}, nil
}

func (s *fakeObjectStore) DeleteObject(_ context.Context, objectKey string) error {
	s.deleted = append(s.deleted, objectKey)
	delete(s.uploaded, objectKey)
	return nil
}

func (s *fakeObjectStore) DeletePrefix(_ context.Context, prefix string) error {
	for key := range s.uploaded {
		if strings.HasPrefix(key, prefix) {
			s.deleted = append(s.deleted, key)
			delete(s.uploaded, key)
		}
	}
	return nil
}

func (s *fakeObjectStore) PublicURL(objectKey string) string {
	if objectKey == "" {
		return ""
	}
	return "https://cdn.example.invalid/" + objectKey
}

func newContainerTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&database.ProjectContainer{}, &database.SubProject{}, &database.FileCleanup{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newContainerHandler(t *testing.T, db *gorm.DB, store *fakeObjectStore) *ContainerHandler {
	t.Helper()
	service := container.NewService(db, store, nil, slog.Default())
	scanner := &uploadScanner{
		MaxBytes:      5 * 1024 * 1024,
		MIMEWhitelist: []string{"image/png"},
	}
	return NewContainerHandler(service, scanner, slog.Default())
}

// saveFormBuilder 拼装保存区块的 multipart 请求体。
type saveFormBuilder struct {
	t      *testing.T
	body   *bytes.Buffer
	writer *multipart.Writer
}

func newSaveForm(t *testing.T) *saveFormBuilder {
	t.Helper()
	body := &bytes.Buffer{}
	return &saveFormBuilder{t: t, body: body, writer: multipart.NewWriter(body)}
}

func (b *saveFormBuilder) field(name, value string) *saveFormBuilder {
	if err := b.writer.WriteField(name, value); err != nil {
		b.t.Fatalf("write field %s: %v", name, err)
	}
	return b
}

func (b *saveFormBuilder) file(name, filename string, content []byte) *saveFormBuilder {
	header := make(map[string][]string)
	header["Content-Disposition"] = []string{fmt.Sprintf(`form-data; name="%s"; filename="%s"`, name, filename)}
	header["Content-Type"] = []string{"image/png"}
	part, err := b.writer.CreatePart(header)
	if err != nil {
		b.t.Fatalf("create part %s: %v", name, err)
	}
	if _, err := part.Write(content); err != nil {
		b.t.Fatalf("write part %s: %v", name, err)
	}
	return b
}

func (b *saveFormBuilder) request(t *testing.T) *http.Request {
	t.Helper()
	if err := b.writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/v1/containers", b.body)
	req.Header.Set("Content-Type", b.writer.FormDataContentType())
	return req
}

func performSave(t *testing.T, h *ContainerHandler, req *http.Request, authed bool) (*httptest.ResponseRecorder, SaveResponse) {
	t.Helper()
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req
	if authed {
		c.Set("userID", uint(1))
	}

	h.SaveContainer(c)

	var resp SaveResponse
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode response: %v body=%s", err, w.Body.String())
		}
	}
	return w, resp
}

func TestSaveContainer_CreatesContainerWithSubItems(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newContainerTestDB(t)
	store := newFakeObjectStore()
	h := newContainerHandler(t, db, store)

	req := newSaveForm(t).
		field("title", "Hero Section").
		field("aspect_ratio", "2.0").
		field("sort_order", "1").
		file("background_image", "bg.png", []byte("\x89PNG\r\n\x1a\nbg")).
		field("Projects[0].kind", "new").
		field("Projects[0].x_percent", "25.5").
		field("Projects[0].y_percent", "40").
		field("Projects[0].height_percent", "12").
		field("Projects[0].animation_name", "fadeIn").
		field("Projects[0].animation_trigger", "once").
		field("Projects[0].sort_order", "0").
		file("Projects[0].image", "item.png", []byte("\x89PNG\r\n\x1a\nitem")).
		request(t)

	w, resp := performSave(t, h, req, true)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d body=%s", w.Code, w.Body.String())
	}
	if !resp.Success || resp.ContainerID == 0 {
		t.Fatalf("unexpected response: %+v", resp)
	}

	var saved database.ProjectContainer
	if err := db.Preload("SubProjects").First(&saved, resp.ContainerID).Error; err != nil {
		t.Fatalf("load container: %v", err)
	}
	if saved.Title != "Hero Section" || saved.AspectRatio != 2.0 {
		t.Fatalf("unexpected container: %+v", saved)
	}
	if len(saved.SubProjects) != 1 {
		t.Fatalf("expected 1 sub project, got %d", len(saved.SubProjects))
	}
	sub := saved.SubProjects[0]
	if sub.XPercent != 25.5 || sub.YPercent != 40 || sub.HeightPercent != 12 {
		t.Fatalf("unexpected coordinates: %+v", sub)
	}
	if sub.AnimationName != "fadeIn" || sub.AnimationTrigger != "once" {
		t.Fatalf("unexpected animation: %+v", sub)
	}
	if len(store.uploaded) != 2 {
		t.Fatalf("expected 2 uploads, got %d", len(store.uploaded))
	}
}

func TestSaveContainer_UpdateReturnsOK(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newContainerTestDB(t)
	store := newFakeObjectStore()
	h := newContainerHandler(t, db, store)

	createReq := newSaveForm(t).
		field("title", "First Pass").
		field("aspect_ratio", "1.5").
		file("background_image", "bg.png", []byte("\x89PNG\r\n\x1a\nv1")).
		request(t)
	w, resp := performSave(t, h, createReq, true)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: expected 201 got %d", w.Code)
	}

	updateReq := newSaveForm(t).
		field("container_id", fmt.Sprintf("%d", resp.ContainerID)).
		field("title", "Second Pass").
		request(t)
	w2, resp2 := performSave(t, h, updateReq, true)
	if w2.Code != http.StatusOK {
		t.Fatalf("update: expected 200 got %d body=%s", w2.Code, w2.Body.String())
	}
	if resp2.ContainerID != resp.ContainerID {
		t.Fatalf("expected same container id, got %d then %d", resp.ContainerID, resp2.ContainerID)
	}

	var saved database.ProjectContainer
	if err := db.First(&saved, resp.ContainerID).Error; err != nil {
		t.Fatalf("load container: %v", err)
	}
	if saved.Title != "Second Pass" {
		t.Fatalf("title not updated: %q", saved.Title)
	}
	if saved.BackgroundKey == "" {
		t.Fatalf("background should survive an update without a new file")
	}
}

func TestSaveContainer_RequiresAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newContainerTestDB(t)
	h := newContainerHandler(t, db, newFakeObjectStore())

	req := newSaveForm(t).
		field("title", "No Auth").
		request(t)
	w, _ := performSave(t, h, req, false)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", w.Code)
	}
}

func TestSaveContainer_UnknownContainerReturns404(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newContainerTestDB(t)
	h := newContainerHandler(t, db, newFakeObjectStore())

	req := newSaveForm(t).
		field("container_id", "999").
		field("title", "Ghost").
		request(t)
	w, resp := performSave(t, h, req, true)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d body=%s", w.Code, w.Body.String())
	}
	if resp.Success {
		t.Fatalf("expected success=false")
	}
}

func TestSaveContainer_ValidationFailures(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newContainerTestDB(t)
	h := newContainerHandler(t, db, newFakeObjectStore())

	cases := []struct {
		name string
		form *saveFormBuilder
	}{
		{
			name: "title too short",
			form: newSaveForm(t).field("title", "a"),
		},
		{
			name: "existing item without id",
			form: newSaveForm(t).
				field("title", "Valid Title").
				field("Projects[0].kind", "existing").
				field("Projects[0].x_percent", "10"),
		},
		{
			name: "new item with id",
			form: newSaveForm(t).
				field("title", "Valid Title").
				field("Projects[0].kind", "new").
				field("Projects[0].id", "3"),
		},
		{
			name: "percent out of range",
			form: newSaveForm(t).
				field("title", "Valid Title").
				field("Projects[0].x_percent", "120"),
		},
		{
			name: "unknown animation",
			form: newSaveForm(t).
				field("title", "Valid Title").
				field("Projects[0].animation_name", "wobble"),
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w, resp := performSave(t, h, tc.form.request(t), true)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400 got %d body=%s", w.Code, w.Body.String())
			}
			if resp.Success {
				t.Fatalf("expected success=false")
			}
		})
	}
}

func TestSaveContainer_KindDefaultsToNew(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newContainerTestDB(t)
	store := newFakeObjectStore()
	h := newContainerHandler(t, db, store)

	req := newSaveForm(t).
		field("title", "Implicit Kind").
		field("aspect_ratio", "1.0").
		file("background_image", "bg.png", []byte("\x89PNG\r\n\x1a\n")).
		field("Projects[0].x_percent", "5").
		file("Projects[0].image", "item.png", []byte("\x89PNG\r\n\x1a\n")).
		request(t)

	w, resp := performSave(t, h, req, true)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d body=%s", w.Code, w.Body.String())
	}

	var count int64
	if err := db.Model(&database.SubProject{}).Where("project_container_id = ?", resp.ContainerID).Count(&count).Error; err != nil {
		t.Fatalf("count sub projects: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 sub project, got %d", count)
	}
}

func TestSaveContainer_RejectsOversizedUpload(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newContainerTestDB(t)
	store := newFakeObjectStore()
	service := container.NewService(db, store, nil, slog.Default())
	h := NewContainerHandler(service, &uploadScanner{MaxBytes: 8, MIMEWhitelist: []string{"image/png"}}, slog.Default())

	req := newSaveForm(t).
		field("title", "Too Big").
		field("aspect_ratio", "1.0").
		file("background_image", "bg.png", bytes.Repeat([]byte("x"), 64)).
		request(t)

	w, resp := performSave(t, h, req, true)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d body=%s", w.Code, w.Body.String())
	}
	if resp.Success {
		t.Fatalf("expected success=false")
	}
	if len(store.uploaded) != 0 {
		t.Fatalf("oversized upload must not reach storage")
	}
}
