package handlers

import (
	"net/http"
	"strconv"

	"pipeflow/internal/services"

	"github.com/gin-gonic/gin"
)

// AutomationHandler 自动化规则管理、手动执行与统计
type AutomationHandler struct {
	service *services.AutomationService
}

func NewAutomationHandler(service *services.AutomationService) *AutomationHandler {
	return &AutomationHandler{service: service}
}

// CreateRule 创建自动化规则
func (h *AutomationHandler) CreateRule(c *gin.Context) {
	var req services.AutomationRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	rule, err := h.service.CreateRule(c.Request.Context(), &req)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Failed to create rule", Message: err.Error()})
		return
	}
	c.JSON(http.StatusCreated, rule)
}

// ListRules 获取规则列表
func (h *AutomationHandler) ListRules(c *gin.Context) {
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
func (h *AutomationHandler) GetRule(c *gin.Context) {
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
func (h *AutomationHandler) UpdateRule(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req services.AutomationRuleUpdateRequest
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
func (h *AutomationHandler) DeleteRule(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.service.DeleteRule(c.Request.Context(), id); err != nil {
		status := http.StatusInternalServerError
		if err.Error() == "automation rule not found" {
			status = http.StatusNotFound
		}
		c.JSON(status, ErrorResponse{Error: "Failed to delete rule", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "deleted"})
}

// ExecuteRequest 手动执行请求体
type ExecuteRequest struct {
	TicketID uint  `json:"ticket_id" binding:"required"`
	UserID   *uint `json:"user_id"`
}

// ExecuteRule 对指定工单手动执行规则（跳过触发条件）
func (h *AutomationHandler) ExecuteRule(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req ExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	execution, err := h.service.ExecuteManual(c.Request.Context(), id, req.TicketID, req.UserID)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Execution failed", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, execution)
}

// ListExecutions 获取执行记录列表
func (h *AutomationHandler) ListExecutions(c *gin.Context) {
	var req services.ExecutionListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid query", Message: err.Error()})
		return
	}
	executions, total, err := h.service.ListExecutions(c.Request.Context(), &req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list executions", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, PaginatedResponse{
		Data:     executions,
		Total:    total,
		Page:     req.Page,
		PageSize: req.PageSize,
		Pages:    pages(total, req.PageSize),
	})
}

// GetRuleStats 获取规则统计（执行次数、成功率）
func (h *AutomationHandler) GetRuleStats(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	stats, err := h.service.GetRuleStats(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Rule not found", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// RegisterAutomationRoutes 注册路由
func RegisterAutomationRoutes(r *gin.RouterGroup, handler *AutomationHandler) {
	auto := r.Group("/automation")
	{
		auto.GET("/rules", handler.ListRules)
		auto.POST("/rules", handler.CreateRule)
		auto.GET("/rules/:id", handler.GetRule)
		auto.PUT("/rules/:id", handler.UpdateRule)
		auto.DELETE("/rules/:id", handler.DeleteRule)
		auto.POST("/rules/:id/execute", handler.ExecuteRule)
		auto.GET("/rules/:id/stats", handler.GetRuleStats)
		auto.GET("/executions", handler.ListExecutions)
	}
}
