package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// SaveResponse 是写操作的统一响应信封。
// 失败时 Success 为 false 且不携带实体 ID，调用方无法（也不需要）得知
// 批量保存里具体哪一条失败——数据层是全有或全无的。
type SaveResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	ContainerID uint   `json:"container_id,omitempty"`
}

func Saved(c *gin.Context, status int, message string, containerID uint) {
	c.JSON(status, SaveResponse{
		Success:     true,
		Message:     message,
		ContainerID: containerID,
	})
}

func SaveFailed(c *gin.Context, status int, message string) {
	c.JSON(status, SaveResponse{
		Success: false,
		Message: message,
	})
}

func Error(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"error": msg})
}

func AbortUnauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
}

func Unauthorized(c *gin.Context)           { Error(c, http.StatusUnauthorized, "unauthorized") }
func BadRequest(c *gin.Context, msg string) { Error(c, http.StatusBadRequest, msg) }
func Forbidden(c *gin.Context, msg string)  { Error(c, http.StatusForbidden, msg) }
func NotFound(c *gin.Context, msg string)   { Error(c, http.StatusNotFound, msg) }
func Conflict(c *gin.Context, msg string)   { Error(c, http.StatusConflict, msg) }
func Internal(c *gin.Context, msg string)   { Error(c, http.StatusInternalServerError, msg) }
