package container

import (
	"io"
	"time"

	"github.com/nikzz125000/portfolio-website-sub000/internal/layout"
)

// SubItemKind 显式标记子图片是新建还是已存在。
// 取代前端旧有的“时间戳大于阈值即未保存”的脆弱约定。
type SubItemKind string

const (
	KindNew      SubItemKind = "new"
	KindExisting SubItemKind = "existing"
)

// FileUpload 描述一个待写入存储的上传文件。
type FileUpload struct {
	Reader      io.Reader
	Size        int64
	ContentType string
	FileName    string
}

// SaveContainerRequest 描述一次完整的区块保存：区块本身加上全量子图片列表。
// ContainerID 为 0 表示新建。
type SaveContainerRequest struct {
	ContainerID uint
	Title       string
	// AspectRatio 在携带新背景图时必填；未携带时沿用已存行的值。
	AspectRatio float64
	SortOrder   int
	Background  *FileUpload
	SubItems    []SubItemInput
}

// SubItemInput 描述列表中的一个子图片（新建或已存在混排）。
type SubItemInput struct {
	Kind SubItemKind
	// ID 仅在 Kind 为 existing 时有效。
	ID            uint
	File          *FileUpload
	XPercent      float64
	YPercent      float64
	HeightPercent float64
	Animation     layout.Animation
	IsExterior    bool
	SortOrder     int
}

// SaveContainerResult 是保存操作的成功结果。
type SaveContainerResult struct {
	ContainerID uint
	Message     string
}

// ContainerView 是区块的渲染就绪视图模型（URL 已解析）。
type ContainerView struct {
	ID            uint      `json:"id"`
	Title         string    `json:"title"`
	BackgroundURL string    `json:"background_url,omitempty"`
	SnapshotURL   string    `json:"snapshot_url,omitempty"`
	AspectRatio   float64   `json:"aspect_ratio"`
	SortOrder     int       `json:"sort_order"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// SubProjectView 是子图片的渲染就绪视图模型。
type SubProjectView struct {
	ID            uint             `json:"id"`
	ImageURL      string           `json:"image_url,omitempty"`
	ThumbnailURL  string           `json:"thumbnail_url,omitempty"`
	XPercent      float64          `json:"x_percent"`
	YPercent      float64          `json:"y_percent"`
	HeightPercent float64          `json:"height_percent"`
	Animation     layout.Animation `json:"animation"`
	IsExterior    bool             `json:"is_exterior"`
	SortOrder     int              `json:"sort_order"`
}

// ContainerDetailView 在区块视图上附带全部子图片。
type ContainerDetailView struct {
	ContainerView
	SubProjects []SubProjectView `json:"sub_projects"`
}
