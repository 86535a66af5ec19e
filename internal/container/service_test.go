package container

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/minio/minio-go/v7"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/nikzz125000/portfolio-website-sub000/internal/database"
	"github.com/nikzz125000/portfolio-website-sub000/internal/layout"
)

type fakeStore struct {
	uploaded    map[string][]byte
	deleted     []string
	failUploads int // 第 N 次上传开始失败；0 表示不失败
	uploads     int
}

func newFakeStore() *fakeStore {
	return &fakeStore{uploaded: map[string][]byte{}}
}

func (s *fakeStore) UploadFile(_ context.Context, objectName string, reader io.Reader, _ int64, _ string) (*minio.UploadInfo, error) {
	s.uploads++
	if s.failUploads > 0 && s.uploads >= s.failUploads {
		return nil, errors.New("storage unavailable")
	}
	b, _ := io.ReadAll(reader)
	s.uploaded[objectName] = b
	return &minio.UploadInfo{Key: objectName}, nil
}

func (s *fakeStore) DeleteObject(_ context.Context, objectKey string) error {
	s.deleted = append(s.deleted, objectKey)
	delete(s.uploaded, objectKey)
	return nil
}

func (s *fakeStore) DeletePrefix(_ context.Context, prefix string) error {
	for key := range s.uploaded {
		if strings.HasPrefix(key, prefix) {
			s.deleted = append(s.deleted, key)
			delete(s.uploaded, key)
		}
	}
	return nil
}

func (s *fakeStore) PublicURL(objectKey string) string {
	if objectKey == "" {
		return ""
	}
	return "https://cdn.example.invalid/" + objectKey
}

func (s *fakeStore) hasDeleted(key string) bool {
	for _, k := range s.deleted {
		if k == key {
			return true
		}
	}
	return false
}

type fakeEnqueuer struct {
	types []string
}

func (e *fakeEnqueuer) Enqueue(task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	e.types = append(e.types, task.Type())
	return &asynq.TaskInfo{}, nil
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&database.ProjectContainer{},
		&database.SubProject{},
		&database.FileCleanup{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newUpload(content string) *FileUpload {
	return &FileUpload{
		Reader:      bytes.NewReader([]byte(content)),
		Size:        int64(len(content)),
		ContentType: "image/png",
		FileName:    "upload.png",
	}
}

func fadeInOnce() layout.Animation {
	return layout.Animation{
		Name:    layout.AnimationFadeIn,
		Speed:   layout.SpeedNormal,
		Trigger: layout.TriggerOnce,
	}
}

func TestSaveContainer_CreateWithSubItem(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	store := newFakeStore()
	enq := &fakeEnqueuer{}
	svc := NewService(db, store, enq, nil)

	result, err := svc.SaveContainer(ctx, SaveContainerRequest{
		Title: "Hero",
		SubItems: []SubItemInput{
			{
				Kind:          KindNew,
				XPercent:      50,
				YPercent:      50,
				HeightPercent: 20,
				Animation:     fadeInOnce(),
			},
		},
	}, "corr-1")
	if err != nil {
		t.Fatalf("save container: %v", err)
	}
	if result.ContainerID == 0 {
		t.Fatal("expected a new container identity")
	}

	detail, err := svc.GetContainer(ctx, result.ContainerID)
	if err != nil {
		t.Fatalf("get container: %v", err)
	}
	if detail.Title != "Hero" {
		t.Errorf("title = %q, want Hero", detail.Title)
	}
	if detail.BackgroundURL != "" {
		t.Errorf("image-less container must have empty background url, got %q", detail.BackgroundURL)
	}
	if len(detail.SubProjects) != 1 {
		t.Fatalf("sub project count = %d, want 1", len(detail.SubProjects))
	}
	sub := detail.SubProjects[0]
	if sub.XPercent != 50 || sub.YPercent != 50 || sub.HeightPercent != 20 {
		t.Errorf("percentages changed: %+v", sub)
	}
	if sub.Animation != fadeInOnce() {
		t.Errorf("animation changed: %+v", sub.Animation)
	}

	// 快照任务必须在成功保存后入队。
	found := false
	for _, taskType := range enq.types {
		if taskType == "snapshot:render" {
			found = true
		}
	}
	if !found {
		t.Errorf("snapshot task not enqueued, got %v", enq.types)
	}
}

func TestSaveContainer_IdempotentResave(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	store := newFakeStore()
	svc := NewService(db, store, nil, nil)

	created, err := svc.SaveContainer(ctx, SaveContainerRequest{
		Title:       "Work",
		AspectRatio: 1.78,
		Background:  newUpload("bg-bytes"),
		SubItems: []SubItemInput{
			{Kind: KindNew, File: newUpload("img-a"), XPercent: 10, YPercent: 10, HeightPercent: 15, Animation: fadeInOnce()},
		},
	}, "corr-1")
	if err != nil {
		t.Fatalf("initial save: %v", err)
	}

	before, err := svc.GetContainer(ctx, created.ContainerID)
	if err != nil {
		t.Fatalf("get container: %v", err)
	}
	subID := before.SubProjects[0].ID

	// 重新保存：标题、宽高比不变，不带任何新文件。
	_, err = svc.SaveContainer(ctx, SaveContainerRequest{
		ContainerID: created.ContainerID,
		Title:       "Work",
		SubItems: []SubItemInput{
			{Kind: KindExisting, ID: subID, XPercent: 10, YPercent: 10, HeightPercent: 15, Animation: fadeInOnce()},
		},
	}, "corr-2")
	if err != nil {
		t.Fatalf("re-save: %v", err)
	}

	after, err := svc.GetContainer(ctx, created.ContainerID)
	if err != nil {
		t.Fatalf("get container after re-save: %v", err)
	}
	if after.BackgroundURL != before.BackgroundURL {
		t.Errorf("background reference changed on file-less re-save: %q -> %q", before.BackgroundURL, after.BackgroundURL)
	}
	if after.AspectRatio != 1.78 {
		t.Errorf("aspect ratio not carried over: %v", after.AspectRatio)
	}
	if len(after.SubProjects) != 1 {
		t.Fatalf("duplicate sub project rows after re-save: %d", len(after.SubProjects))
	}
	if after.SubProjects[0].ID != subID {
		t.Errorf("sub project identity changed: %d -> %d", subID, after.SubProjects[0].ID)
	}
	if after.SubProjects[0].ImageURL != before.SubProjects[0].ImageURL {
		t.Errorf("sub project image reference changed on file-less re-save")
	}
	if len(store.deleted) != 0 {
		t.Errorf("no files may be deleted on idempotent re-save, deleted: %v", store.deleted)
	}
}

func TestSaveContainer_AtomicRollbackOnSubItemFailure(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	store := newFakeStore()
	svc := NewService(db, store, nil, nil)

	created, err := svc.SaveContainer(ctx, SaveContainerRequest{
		Title: "Before",
		SubItems: []SubItemInput{
			{Kind: KindNew, File: newUpload("img-a"), XPercent: 1, YPercent: 2, HeightPercent: 3, Animation: fadeInOnce()},
		},
	}, "corr-1")
	if err != nil {
		t.Fatalf("initial save: %v", err)
	}

	// 第二次保存：两个新子图片，第二个的文件上传失败。
	store.uploads = 0
	store.failUploads = 2
	_, err = svc.SaveContainer(ctx, SaveContainerRequest{
		ContainerID: created.ContainerID,
		Title:       "After",
		SubItems: []SubItemInput{
			{Kind: KindNew, File: newUpload("img-b"), Animation: fadeInOnce()},
			{Kind: KindNew, File: newUpload("img-c"), Animation: fadeInOnce()},
		},
	}, "corr-2")
	if err == nil {
		t.Fatal("expected save to fail")
	}

	detail, err := svc.GetContainer(ctx, created.ContainerID)
	if err != nil {
		t.Fatalf("get container: %v", err)
	}
	if detail.Title != "Before" {
		t.Errorf("container field change visible after rollback: title = %q", detail.Title)
	}
	if len(detail.SubProjects) != 1 {
		t.Errorf("sub project rows from failed call visible: %d", len(detail.SubProjects))
	}

	// 失败尝试期间上传成功的文件必须被回收。
	for key := range store.uploaded {
		if string(store.uploaded[key]) == "img-b" {
			t.Errorf("uncommitted upload %q not cleaned up", key)
		}
	}

	var cleanupCount int64
	if err := db.Model(&database.FileCleanup{}).Count(&cleanupCount).Error; err != nil {
		t.Fatalf("count cleanup rows: %v", err)
	}
	if cleanupCount != 0 {
		t.Errorf("cleanup rows survived a rolled back transaction: %d", cleanupCount)
	}
}

func TestSaveContainer_OrphanCleanupOnlyAfterCommit(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	store := newFakeStore()
	svc := NewService(db, store, nil, nil)

	created, err := svc.SaveContainer(ctx, SaveContainerRequest{
		Title:       "Hero",
		AspectRatio: 2.0,
		Background:  newUpload("old-bg"),
	}, "corr-1")
	if err != nil {
		t.Fatalf("initial save: %v", err)
	}

	var row database.ProjectContainer
	if err := db.First(&row, created.ContainerID).Error; err != nil {
		t.Fatalf("load container: %v", err)
	}
	oldKey := row.BackgroundKey

	// 失败的替换：新背景上传成功，但子图片处理让事务回滚。旧背景必须保留。
	store.uploads = 0
	store.failUploads = 2
	_, err = svc.SaveContainer(ctx, SaveContainerRequest{
		ContainerID: created.ContainerID,
		Title:       "Hero",
		AspectRatio: 1.78,
		Background:  newUpload("new-bg-failed"),
		SubItems: []SubItemInput{
			{Kind: KindNew, File: newUpload("img"), Animation: fadeInOnce()},
		},
	}, "corr-2")
	if err == nil {
		t.Fatal("expected save to fail")
	}
	if store.hasDeleted(oldKey) {
		t.Fatalf("previous background %q deleted although transaction rolled back", oldKey)
	}
	if _, ok := store.uploaded[oldKey]; !ok {
		t.Fatalf("previous background %q missing from store", oldKey)
	}

	// 成功的替换：旧背景只在提交之后删除。
	store.uploads = 0
	store.failUploads = 0
	_, err = svc.SaveContainer(ctx, SaveContainerRequest{
		ContainerID: created.ContainerID,
		Title:       "Hero",
		AspectRatio: 1.78,
		Background:  newUpload("new-bg"),
	}, "corr-3")
	if err != nil {
		t.Fatalf("replacement save: %v", err)
	}
	if !store.hasDeleted(oldKey) {
		t.Errorf("superseded background %q not deleted after commit", oldKey)
	}

	var cleanupCount int64
	if err := db.Model(&database.FileCleanup{}).Count(&cleanupCount).Error; err != nil {
		t.Fatalf("count cleanup rows: %v", err)
	}
	if cleanupCount != 0 {
		t.Errorf("cleanup rows not cleared after successful delete: %d", cleanupCount)
	}
}

func TestSaveContainer_OmittedSubItemsUntouched(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	store := newFakeStore()
	svc := NewService(db, store, nil, nil)

	created, err := svc.SaveContainer(ctx, SaveContainerRequest{
		Title: "Hero",
		SubItems: []SubItemInput{
			{Kind: KindNew, File: newUpload("keep-me"), XPercent: 5, YPercent: 5, HeightPercent: 5, Animation: fadeInOnce()},
		},
	}, "corr-1")
	if err != nil {
		t.Fatalf("initial save: %v", err)
	}

	// 更新时不再提交任何子图片：已有子图片保持原样。
	_, err = svc.SaveContainer(ctx, SaveContainerRequest{
		ContainerID: created.ContainerID,
		Title:       "Hero v2",
	}, "corr-2")
	if err != nil {
		t.Fatalf("update save: %v", err)
	}

	detail, err := svc.GetContainer(ctx, created.ContainerID)
	if err != nil {
		t.Fatalf("get container: %v", err)
	}
	if len(detail.SubProjects) != 1 {
		t.Fatalf("omitted sub project was removed: count = %d", len(detail.SubProjects))
	}
	if detail.Title != "Hero v2" {
		t.Errorf("title not updated: %q", detail.Title)
	}
}

func TestDeleteSubProject_ScopedToContainer(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	store := newFakeStore()
	svc := NewService(db, store, nil, nil)

	first, err := svc.SaveContainer(ctx, SaveContainerRequest{
		Title: "A",
		SubItems: []SubItemInput{
			{Kind: KindNew, File: newUpload("a-img"), Animation: fadeInOnce()},
		},
	}, "corr-1")
	if err != nil {
		t.Fatalf("save container A: %v", err)
	}
	second, err := svc.SaveContainer(ctx, SaveContainerRequest{Title: "B"}, "corr-2")
	if err != nil {
		t.Fatalf("save container B: %v", err)
	}

	detail, err := svc.GetContainer(ctx, first.ContainerID)
	if err != nil {
		t.Fatalf("get container A: %v", err)
	}
	subID := detail.SubProjects[0].ID

	// 错误的父区块：必须拒绝。
	if err := svc.DeleteSubProject(ctx, second.ContainerID, subID); !errors.Is(err, ErrSubProjectNotFound) {
		t.Fatalf("cross-container delete: err = %v, want ErrSubProjectNotFound", err)
	}

	if err := svc.DeleteSubProject(ctx, first.ContainerID, subID); err != nil {
		t.Fatalf("delete sub project: %v", err)
	}

	detail, err = svc.GetContainer(ctx, first.ContainerID)
	if err != nil {
		t.Fatalf("reload container A: %v", err)
	}
	if len(detail.SubProjects) != 0 {
		t.Errorf("sub project still present after delete")
	}
	if len(store.deleted) == 0 {
		t.Errorf("sub project image file not queued for deletion")
	}
}

func TestDeleteContainer_RemovesChildrenAndFiles(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	store := newFakeStore()
	svc := NewService(db, store, nil, nil)

	created, err := svc.SaveContainer(ctx, SaveContainerRequest{
		Title:       "Gone",
		AspectRatio: 1.5,
		Background:  newUpload("bg"),
		SubItems: []SubItemInput{
			{Kind: KindNew, File: newUpload("img-1"), Animation: fadeInOnce()},
			{Kind: KindNew, File: newUpload("img-2"), Animation: fadeInOnce()},
		},
	}, "corr-1")
	if err != nil {
		t.Fatalf("save container: %v", err)
	}

	if err := svc.DeleteContainer(ctx, created.ContainerID); err != nil {
		t.Fatalf("delete container: %v", err)
	}

	if _, err := svc.GetContainer(ctx, created.ContainerID); !errors.Is(err, ErrContainerNotFound) {
		t.Fatalf("container still loadable after delete: err = %v", err)
	}
	var subCount int64
	if err := db.Model(&database.SubProject{}).Count(&subCount).Error; err != nil {
		t.Fatalf("count sub projects: %v", err)
	}
	if subCount != 0 {
		t.Errorf("sub project rows survived container delete: %d", subCount)
	}
	if len(store.uploaded) != 0 {
		t.Errorf("object store not emptied after container delete: %v", store.uploaded)
	}
}

func TestSaveContainer_RequiresAspectRatioWithNewBackground(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	svc := NewService(db, newFakeStore(), nil, nil)

	_, err := svc.SaveContainer(ctx, SaveContainerRequest{
		Title:      "Hero",
		Background: newUpload("bg"),
	}, "corr-1")
	if err == nil {
		t.Fatal("expected validation error for missing aspect ratio")
	}
}

func TestSaveContainer_RejectsUnknownAnimation(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	svc := NewService(db, newFakeStore(), nil, nil)

	_, err := svc.SaveContainer(ctx, SaveContainerRequest{
		Title: "Hero",
		SubItems: []SubItemInput{
			{Kind: KindNew, Animation: layout.Animation{Name: "sparkle", Speed: "normal", Trigger: "once"}},
		},
	}, "corr-1")
	if err == nil {
		t.Fatal("expected validation error for unknown animation")
	}
}
