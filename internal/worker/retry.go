package worker

import (
	"context"

	"github.com/hibiken/asynq"
)

// isFinalAsynqAttempt 判断当前是否为任务的最后一次重试。
// 只有最终失败才向前端推送错误，避免中间重试刷屏。
func isFinalAsynqAttempt(ctx context.Context) bool {
	retryCount, ok1 := asynq.GetRetryCount(ctx)
	maxRetry, ok2 := asynq.GetMaxRetry(ctx)
	if !ok1 || !ok2 {
		return false
	}
	return retryCount >= maxRetry
}
