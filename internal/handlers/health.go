package handlers

import (
	"net/http"
	"runtime"
	"time"

	"pipeflow/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// HealthHandler 健康检查处理器
type HealthHandler struct {
	config *config.Config
	db     *gorm.DB
	logger *logrus.Logger
}

func NewHealthHandler(cfg *config.Config, db *gorm.DB) *HealthHandler {
	return &HealthHandler{config: cfg, db: db, logger: logrus.StandardLogger()}
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Services  map[string]ServiceInfo `json:"services"`
	System    SystemInfo             `json:"system"`
}

// ServiceInfo 服务信息
type ServiceInfo struct {
	Status  string      `json:"status"`
	Latency string      `json:"latency,omitempty"`
	Error   string      `json:"error,omitempty"`
	Details interface{} `json:"details,omitempty"`
}

// SystemInfo 系统信息
type SystemInfo struct {
	Uptime    string `json:"uptime"`
	GoVersion string `json:"go_version"`
}

var startTime = time.Now()

// Health 健康检查端点
func (h *HealthHandler) Health(c *gin.Context) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Services:  make(map[string]ServiceInfo),
		System: SystemInfo{
			Uptime:    time.Since(startTime).String(),
			GoVersion: runtime.Version(),
		},
	}

	allHealthy := true
	h.checkDatabase(&response, &allHealthy)

	if !allHealthy {
		response.Status = "unhealthy"
		c.JSON(http.StatusServiceUnavailable, response)
		return
	}
	c.JSON(http.StatusOK, response)
}

// Ready 就绪检查端点
func (h *HealthHandler) Ready(c *gin.Context) {
	ready := true
	if h.db == nil {
		ready = false
	} else if sqlDB, err := h.db.DB(); err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
		ready = false
	}

	statusCode := http.StatusOK
	if !ready {
		statusCode = http.StatusServiceUnavailable
	}
	c.JSON(statusCode, gin.H{"ready": ready, "timestamp": time.Now()})
}

func (h *HealthHandler) checkDatabase(response *HealthResponse, allHealthy *bool) {
	start := time.Now()
	info := ServiceInfo{
		Details: map[string]interface{}{
			"driver": h.config.Database.Driver,
			"host":   h.config.Database.Host,
			"port":   h.config.Database.Port,
		},
	}

	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.Ping()
	}
	info.Latency = time.Since(start).String()
	if err != nil {
		info.Status = "unhealthy"
		info.Error = err.Error()
		*allHealthy = false
		h.logger.Errorf("Database health check failed: %v", err)
	} else {
		info.Status = "healthy"
	}
	response.Services["database"] = info
}
