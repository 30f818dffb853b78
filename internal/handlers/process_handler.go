package handlers

import (
	"net/http"

	"pipeflow/internal/services"

	"github.com/gin-gonic/gin"
)

// ProcessHandler 流程目录管理
type ProcessHandler struct {
	service *services.ProcessService
}

func NewProcessHandler(service *services.ProcessService) *ProcessHandler {
	return &ProcessHandler{service: service}
}

// CreateProcess 创建流程
func (h *ProcessHandler) CreateProcess(c *gin.Context) {
	var req services.ProcessCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	process, err := h.service.CreateProcess(c.Request.Context(), &req)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Failed to create process", Message: err.Error()})
		return
	}
	c.JSON(http.StatusCreated, process)
}

// GetProcess 获取流程详情
func (h *ProcessHandler) GetProcess(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	process, err := h.service.GetProcess(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Process not found", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, process)
}

// ListProcesses 获取流程列表
func (h *ProcessHandler) ListProcesses(c *gin.Context) {
	processes, err := h.service.ListProcesses(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list processes", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, processes)
}

// DeleteProcess 删除流程
func (h *ProcessHandler) DeleteProcess(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.service.DeleteProcess(c.Request.Context(), id); err != nil {
		status := http.StatusInternalServerError
		if err.Error() == "process not found" {
			status = http.StatusNotFound
		}
		c.JSON(status, ErrorResponse{Error: "Failed to delete process", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "deleted"})
}

// RegisterProcessRoutes 注册路由
func RegisterProcessRoutes(r *gin.RouterGroup, handler *ProcessHandler) {
	processes := r.Group("/processes")
	{
		processes.GET("", handler.ListProcesses)
		processes.POST("", handler.CreateProcess)
		processes.GET("/:id", handler.GetProcess)
		processes.DELETE("/:id", handler.DeleteProcess)
	}
}
