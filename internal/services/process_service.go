package services

import (
	"context"
	"fmt"

	"pipeflow/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ProcessService 流程/阶段目录服务
type ProcessService struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewProcessService(db *gorm.DB, logger *logrus.Logger) *ProcessService {
	if logger == nil {
		logger = logrus.New()
	}
	return &ProcessService{db: db, logger: logger}
}

// ProcessCreateRequest 创建流程请求
type ProcessCreateRequest struct {
	Name        string   `json:"name" binding:"required"`
	Description string   `json:"description"`
	Color       string   `json:"color"`
	Stages      []string `json:"stages"` // ordered stage names; last one is final
}

// CreateProcess 创建流程及其阶段
func (s *ProcessService) CreateProcess(ctx context.Context, req *ProcessCreateRequest) (*models.Process, error) {
	if req == nil {
		return nil, fmt.Errorf("request required")
	}
	process := &models.Process{
		Name:        req.Name,
		Description: req.Description,
		Color:       req.Color,
		IsActive:    true,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(process).Error; err != nil {
			return err
		}
		for i, name := range req.Stages {
			stage := &models.Stage{
				ProcessID: process.ID,
				Name:      name,
				Position:  i,
				IsFinal:   i == len(req.Stages)-1 && len(req.Stages) > 1,
			}
			if err := tx.Create(stage).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create process: %w", err)
	}
	s.logger.Infof("Created process %d (%s) with %d stages", process.ID, process.Name, len(req.Stages))
	return s.GetProcess(ctx, process.ID)
}

// GetProcess 获取流程（含阶段）
func (s *ProcessService) GetProcess(ctx context.Context, id uint) (*models.Process, error) {
	var process models.Process
	err := s.db.WithContext(ctx).
		Preload("Stages", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		First(&process, id).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("process not found")
		}
		return nil, fmt.Errorf("failed to get process: %w", err)
	}
	return &process, nil
}

// ListProcesses 获取流程列表
func (s *ProcessService) ListProcesses(ctx context.Context) ([]models.Process, error) {
	var processes []models.Process
	if err := s.db.WithContext(ctx).
		Preload("Stages", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Order("id ASC").Find(&processes).Error; err != nil {
		return nil, fmt.Errorf("failed to list processes: %w", err)
	}
	return processes, nil
}

// DeleteProcess 删除流程
func (s *ProcessService) DeleteProcess(ctx context.Context, id uint) error {
	result := s.db.WithContext(ctx).Delete(&models.Process{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("process not found")
	}
	return nil
}

// ValidateStage 校验阶段是否属于流程
func (s *ProcessService) ValidateStage(ctx context.Context, processID, stageID uint) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Stage{}).
		Where("id = ? AND process_id = ?", stageID, processID).
		Count(&count).Error; err != nil {
		return fmt.Errorf("failed to validate stage: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("stage %d does not belong to process %d", stageID, processID)
	}
	return nil
}
