package tasks

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

// 任务类型常量，确保队列生产者与消费者一致。
const (
	TypeThumbnailGenerate = "thumbnail:generate"
	TypeSnapshotRender    = "snapshot:render"
	TypeCleanupSweep      = "cleanup:sweep"
)

// ThumbnailGeneratePayload 描述为子图片生成预览缩略图所需的最小信息。
type ThumbnailGeneratePayload struct {
	SubProjectID  uint   `json:"sub_project_id"`
	CorrelationID string `json:"correlation_id"`
}

// NewThumbnailGenerateTask 构造缩略图生成任务。
func NewThumbnailGenerateTask(id uint, correlationID string) (*asynq.Task, error) {
	payload, err := json.Marshal(ThumbnailGeneratePayload{
		SubProjectID:  id,
		CorrelationID: correlationID,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeThumbnailGenerate, payload), nil
}

// SnapshotRenderPayload 描述渲染区块快照所需的最小信息。
type SnapshotRenderPayload struct {
	ContainerID   uint   `json:"container_id"`
	CorrelationID string `json:"correlation_id"`
}

// NewSnapshotRenderTask 构造区块快照渲染任务。
func NewSnapshotRenderTask(id uint, correlationID string) (*asynq.Task, error) {
	payload, err := json.Marshal(SnapshotRenderPayload{
		ContainerID:   id,
		CorrelationID: correlationID,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeSnapshotRender, payload), nil
}

// CleanupSweepPayload 描述一次孤儿文件清扫。
// OlderThanMinutes 限定只处理已滞留一段时间的记录，避免与正在收尾的保存请求竞争。
type CleanupSweepPayload struct {
	OlderThanMinutes int `json:"older_than_minutes"`
}

// NewCleanupSweepTask 构造孤儿文件清扫任务。
func NewCleanupSweepTask(olderThanMinutes int) (*asynq.Task, error) {
	payload, err := json.Marshal(CleanupSweepPayload{OlderThanMinutes: olderThanMinutes})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeCleanupSweep, payload), nil
}
