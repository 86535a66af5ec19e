package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// editorNotifyChannel 与 API 侧的 WebSocket 订阅保持一致。
const editorNotifyChannel = "editor_notify"

// 统一的 WebSocket 消息协议（通过 Redis Pub/Sub 转发给编辑器前端）。
// 注意：这里的字段名与前端解析保持一致。
type RenderNotifyMessage struct {
	// Kind 为 "thumbnail" 或 "snapshot"。
	Kind          string `json:"kind"`
	Status        string `json:"status"`
	ContainerID   uint   `json:"container_id,omitempty"`
	SubProjectID  uint   `json:"sub_project_id,omitempty"`
	ObjectKey     string `json:"object_key,omitempty"`
	CorrelationID string `json:"correlation_id"`
	ErrorCode     int    `json:"error_code"`
	ErrorMessage  string `json:"error_message,omitempty"`
}

func publishRenderNotify(ctx context.Context, client *redis.Client, notify RenderNotifyMessage) error {
	data, err := json.Marshal(notify)
	if err != nil {
		return fmt.Errorf("marshal notification payload: %w", err)
	}
	if err := client.Publish(ctx, editorNotifyChannel, data).Err(); err != nil {
		return fmt.Errorf("publish redis notification to %q: %w", editorNotifyChannel, err)
	}
	return nil
}
