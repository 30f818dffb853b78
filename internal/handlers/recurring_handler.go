package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"pipeflow/internal/services"

	"github.com/gin-gonic/gin"
)

// RecurringHandler 周期工单规则管理与执行
type RecurringHandler struct {
	service *services.RecurringService
}

func NewRecurringHandler(service *services.RecurringService) *RecurringHandler {
	return &RecurringHandler{service: service}
}

// CreateRule 创建周期规则
func (h *RecurringHandler) CreateRule(c *gin.Context) {
	var req services.RecurringRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	rule, err := h.service.CreateRule(c.Request.Context(), &req, time.Now().UTC())
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Failed to create rule", Message: err.Error()})
		return
	}
	c.JSON(http.StatusCreated, rule)
}

// ListRules 获取周期规则列表
func (h *RecurringHandler) ListRules(c *gin.Context) {
	var processID *uint
	if raw := c.Query("process_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid process_id", Message: err.Error()})
			return
		}
		pid := uint(id)
		processID = &pid
	}

	rules, err := h.service.ListRules(c.Request.Context(), processID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list rules", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, rules)
}

// GetRule 获取单条规则
func (h *RecurringHandler) GetRule(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	rule, err := h.service.GetRule(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Rule not found", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, rule)
}

// UpdateRule 更新规则
func (h *RecurringHandler) UpdateRule(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req services.RecurringRuleUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	rule, err := h.service.UpdateRule(c.Request.Context(), id, &req)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Failed to update rule", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, rule)
}

// DeleteRule 删除规则
func (h *RecurringHandler) DeleteRule(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.service.DeleteRule(c.Request.Context(), id); err != nil {
		status := http.StatusInternalServerError
		if err.Error() == "recurring rule not found" {
			status = http.StatusNotFound
		}
		c.JSON(status, ErrorResponse{Error: "Failed to delete rule", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "deleted"})
}

// ListDue 查询当前到期的规则（只读，不执行）
func (h *RecurringHandler) ListDue(c *gin.Context) {
	rules, err := h.service.ListDueRules(c.Request.Context(), time.Now().UTC())
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list due rules", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, rules)
}

// ExecuteDue 批量执行所有到期规则，返回聚合结果
func (h *RecurringHandler) ExecuteDue(c *gin.Context) {
	batch, err := h.service.ExecuteDueRules(c.Request.Context(), time.Now().UTC())
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to execute due rules", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, batch)
}

// ExecuteRule 手动执行单条规则。手动执行同样消耗执行配额。
func (h *RecurringHandler) ExecuteRule(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var triggeredBy *uint
	if raw := c.Query("user_id"); raw != "" {
		if uid, err := strconv.ParseUint(raw, 10, 32); err == nil {
			u := uint(uid)
			triggeredBy = &u
		}
	}

	res, err := h.service.ExecuteRule(c.Request.Context(), id, time.Now().UTC(), triggeredBy)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrRuleInactive):
			c.JSON(http.StatusConflict, ErrorResponse{Error: "Rule inactive", Message: err.Error()})
		case errors.Is(err, services.ErrExecutionLimitReached):
			c.JSON(http.StatusConflict, ErrorResponse{Error: "Execution limit reached", Message: err.Error()})
		case errors.Is(err, services.ErrConcurrentExecution):
			c.JSON(http.StatusConflict, ErrorResponse{Error: "Concurrent execution", Message: err.Error()})
		case err.Error() == "recurring rule not found":
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "Rule not found", Message: err.Error()})
		default:
			c.JSON(http.StatusBadGateway, ErrorResponse{Error: "Execution failed", Message: err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, res)
}

func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid id", Message: err.Error()})
		return 0, false
	}
	return uint(id), true
}

// RegisterRecurringRoutes 注册路由
func RegisterRecurringRoutes(r *gin.RouterGroup, handler *RecurringHandler) {
	recurring := r.Group("/recurring/rules")
	{
		recurring.GET("", handler.ListRules)
		recurring.POST("", handler.CreateRule)
		recurring.GET("/due", handler.ListDue)
		recurring.POST("/due/execute", handler.ExecuteDue)
		recurring.GET("/:id", handler.GetRule)
		recurring.PUT("/:id", handler.UpdateRule)
		recurring.DELETE("/:id", handler.DeleteRule)
		recurring.POST("/:id/execute", handler.ExecuteRule)
	}
}
