package handlers

import (
	"net/http"

	"pipeflow/internal/services"

	"github.com/gin-gonic/gin"
)

// TicketHandler 工单操作
type TicketHandler struct {
	service *services.TicketService
}

func NewTicketHandler(service *services.TicketService) *TicketHandler {
	return &TicketHandler{service: service}
}

// CreateTicket 创建工单
func (h *TicketHandler) CreateTicket(c *gin.Context) {
	var req services.TicketCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	ticket, err := h.service.CreateTicket(c.Request.Context(), &req)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Failed to create ticket", Message: err.Error()})
		return
	}
	c.JSON(http.StatusCreated, ticket)
}

// GetTicket 获取工单详情
func (h *TicketHandler) GetTicket(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	ticket, err := h.service.GetTicketByID(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Ticket not found", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, ticket)
}

// ListTickets 获取工单列表
func (h *TicketHandler) ListTickets(c *gin.Context) {
	var req services.TicketListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid query", Message: err.Error()})
		return
	}
	tickets, total, err := h.service.ListTickets(c.Request.Context(), &req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list tickets", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, PaginatedResponse{
		Data:     tickets,
		Total:    total,
		Page:     req.Page,
		PageSize: req.PageSize,
		Pages:    pages(total, req.PageSize),
	})
}

// MoveStageRequest 阶段移动请求
type MoveStageRequest struct {
	StageID uint   `json:"stage_id" binding:"required"`
	Comment string `json:"comment"`
	UserID  *uint  `json:"user_id"`
}

// MoveStage 移动工单到目标阶段
func (h *TicketHandler) MoveStage(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req MoveStageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	if err := h.service.MoveStage(c.Request.Context(), id, req.StageID, req.Comment, req.UserID); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Failed to move ticket", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "moved"})
}

// AssignRequest 分配请求
type AssignRequest struct {
	UserID  uint  `json:"user_id" binding:"required"`
	ActorID *uint `json:"actor_id"`
}

// Assign 分配工单
func (h *TicketHandler) Assign(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req AssignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	if err := h.service.Assign(c.Request.Context(), id, req.UserID, req.ActorID); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Failed to assign ticket", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "assigned"})
}

// UpdateFieldRequest 字段更新请求
type UpdateFieldRequest struct {
	FieldID string      `json:"field_id" binding:"required"`
	Value   interface{} `json:"value"`
	ActorID *uint       `json:"actor_id"`
}

// UpdateField 更新工单自定义字段
func (h *TicketHandler) UpdateField(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req UpdateFieldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	if err := h.service.UpdateField(c.Request.Context(), id, req.FieldID, req.Value, req.ActorID); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Failed to update field", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "updated"})
}

// CommentRequest 评论请求
type CommentRequest struct {
	Content string `json:"content" binding:"required"`
	UserID  *uint  `json:"user_id"`
}

// AddComment 添加评论
func (h *TicketHandler) AddComment(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req CommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	comment, err := h.service.AddComment(c.Request.Context(), id, req.UserID, req.Content, "comment")
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Failed to add comment", Message: err.Error()})
		return
	}
	c.JSON(http.StatusCreated, comment)
}

// RegisterTicketRoutes 注册路由
func RegisterTicketRoutes(r *gin.RouterGroup, handler *TicketHandler) {
	tickets := r.Group("/tickets")
	{
		tickets.GET("", handler.ListTickets)
		tickets.POST("", handler.CreateTicket)
		tickets.GET("/:id", handler.GetTicket)
		tickets.POST("/:id/move", handler.MoveStage)
		tickets.POST("/:id/assign", handler.Assign)
		tickets.POST("/:id/fields", handler.UpdateField)
		tickets.POST("/:id/comments", handler.AddComment)
	}
}
