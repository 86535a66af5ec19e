package database

import (
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// User 表示后台管理账号。
type User struct {
	gorm.Model
	Username           string `gorm:"uniqueIndex;size:64"`
	PasswordHash       string `gorm:"size:255"`
	MustChangePassword bool   `gorm:"default:false"`
}

// ProjectContainer 表示首页中的一个全屏背景区块。
// 背景图可以为空；AspectRatio（宽/高）在有背景图时锁定区块的渲染高度。
type ProjectContainer struct {
	gorm.Model
	Title         string  `gorm:"size:255"`
	BackgroundKey string  `gorm:"size:512"`
	AspectRatio   float64 `gorm:"default:0"`
	SortOrder     int     `gorm:"default:0;index"`
	// SnapshotKey 由 Worker 渲染生成，供后台编辑器展示区块缩略预览。
	SnapshotKey string       `gorm:"size:512"`
	SubProjects []SubProject `gorm:"constraint:OnDelete:CASCADE"`
}

// SubProject 表示放置在区块背景之上的一张可拖拽图片。
// 位置与高度只以百分比存储，像素换算永远发生在展示层。
type SubProject struct {
	gorm.Model
	ProjectContainerID uint    `gorm:"index"`
	ImageKey           string  `gorm:"size:512"`
	ThumbnailKey       string  `gorm:"size:512"`
	XPercent           float64 `gorm:"default:0"`
	YPercent           float64 `gorm:"default:0"`
	HeightPercent      float64 `gorm:"default:0"`
	AnimationName      string  `gorm:"size:32"`
	AnimationSpeed     string  `gorm:"size:32"`
	AnimationTrigger   string  `gorm:"size:32"`
	IsExterior         bool    `gorm:"default:false"`
	SortOrder          int     `gorm:"default:0"`
}

// SiteSettings 表示站点全局设置，只保留一行（ID=1）。
type SiteSettings struct {
	gorm.Model
	ScrollBehavior  string         `gorm:"size:32;default:smooth"`
	ScrollSpeed     int            `gorm:"default:50"`
	SectionPadding  int            `gorm:"default:0"`
	BackgroundColor string         `gorm:"size:32;default:#ffffff"`
	AccentColor     string         `gorm:"size:32;default:#3388ff"`
	Extra           datatypes.JSON `gorm:"type:jsonb"` // 社交链接、SEO 等零散扩展字段
}

// Resume 表示站点展示的简历文档（单文件上传）。
type Resume struct {
	gorm.Model
	ObjectKey   string `gorm:"size:512"`
	FileName    string `gorm:"size:255"`
	ContentType string `gorm:"size:128"`
	Size        int64  `gorm:"default:0"`
}

// FileCleanup 记录待删除的存储对象（补偿日志）。
// 行在保存事务内写入：事务回滚时随之消失，保证不会误删仍被引用的文件；
// 提交后立即执行删除并清行，残留行由 Worker 的清理任务兜底。
type FileCleanup struct {
	gorm.Model
	ObjectKey string `gorm:"size:512;index"`
	Reason    string `gorm:"size:64"`
}

// SiteSettingsID 固定的设置行主键。
const SiteSettingsID uint = 1
