package handlers

import (
	"net/http"
	"strconv"

	"pipeflow/internal/metrics"
	"pipeflow/internal/services"

	"github.com/gin-gonic/gin"
)

// NotificationHandler 通知查询与 WebSocket 推送
type NotificationHandler struct {
	service *services.NotificationService
	hub     *services.WebSocketHub
}

func NewNotificationHandler(service *services.NotificationService, hub *services.WebSocketHub) *NotificationHandler {
	return &NotificationHandler{service: service, hub: hub}
}

// ListNotifications 获取通知列表
func (h *NotificationHandler) ListNotifications(c *gin.Context) {
	var userID *uint
	if raw := c.Query("user_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid user_id", Message: err.Error()})
			return
		}
		uid := uint(id)
		userID = &uid
	}
	unreadOnly := c.Query("unread") == "true"

	notifications, err := h.service.ListNotifications(c.Request.Context(), userID, unreadOnly)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list notifications", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, notifications)
}

// MarkRead 标记通知已读
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.service.MarkRead(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Failed to mark read", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "read"})
}

// HandleWebSocket 升级 WebSocket 连接
func (h *NotificationHandler) HandleWebSocket(c *gin.Context) {
	h.hub.HandleWebSocket(c)
}

// GetStats 运行时统计：引擎计数器与连接数
func (h *NotificationHandler) GetStats(c *gin.Context) {
	recurringTotal, recurringBy := metrics.RecurringSnapshot()
	automationTotal, automationBy := metrics.AutomationSnapshot()
	dropTotal, dropBy := metrics.RateLimitSnapshot()

	c.JSON(http.StatusOK, gin.H{
		"recurring_executions": gin.H{"total": recurringTotal, "by_status": recurringBy},
		"automation_runs":      gin.H{"total": automationTotal, "by_status": automationBy},
		"rate_limit_drops":     gin.H{"total": dropTotal, "by_prefix": dropBy},
		"connected_clients":    h.hub.ClientCount(),
	})
}

// RegisterNotificationRoutes 注册路由
func RegisterNotificationRoutes(r *gin.RouterGroup, handler *NotificationHandler) {
	notifications := r.Group("/notifications")
	{
		notifications.GET("", handler.ListNotifications)
		notifications.POST("/:id/read", handler.MarkRead)
	}
	r.GET("/stats", handler.GetStats)
}
