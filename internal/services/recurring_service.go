package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"pipeflow/internal/metrics"
	"pipeflow/internal/models"
	"pipeflow/internal/schedule"
	"pipeflow/internal/template"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

var (
	// ErrRuleInactive 手动执行停用规则时返回
	ErrRuleInactive = errors.New("recurring rule is not active")
	// ErrExecutionLimitReached 规则已达到最大执行次数
	ErrExecutionLimitReached = errors.New("recurring rule reached its execution limit")
	// ErrConcurrentExecution 同一规则的并发执行被拒绝
	ErrConcurrentExecution = errors.New("recurring rule is being executed concurrently")
)

// TicketCreationError 工单创建协作方失败；规则状态保持不变，
// 下个轮询周期会自动重试。
type TicketCreationError struct {
	RuleID uint
	Err    error
}

func (e *TicketCreationError) Error() string {
	return fmt.Sprintf("ticket creation for rule %d failed: %v", e.RuleID, e.Err)
}

func (e *TicketCreationError) Unwrap() error { return e.Err }

// RecurringService 周期工单规则的存储与执行引擎。
// 引擎本身无时钟：所有入口都显式接收 now。
type RecurringService struct {
	db              *gorm.DB
	logger          *logrus.Logger
	tracer          trace.Tracer
	tickets         *TicketService
	defaultInterval int // minutes, applied when a rule omits interval_minutes

	mu    sync.Mutex
	locks map[uint]*sync.Mutex
}

func NewRecurringService(db *gorm.DB, logger *logrus.Logger, tickets *TicketService, defaultIntervalMinutes int) *RecurringService {
	if logger == nil {
		logger = logrus.New()
	}
	if defaultIntervalMinutes <= 0 {
		defaultIntervalMinutes = 60
	}
	return &RecurringService{
		db:              db,
		logger:          logger,
		tracer:          otel.Tracer("pipeflow.recurring"),
		tickets:         tickets,
		defaultInterval: defaultIntervalMinutes,
		locks:           make(map[uint]*sync.Mutex),
	}
}

// ruleLock 返回规则级互斥锁：同一规则同时最多一次执行。
func (s *RecurringService) ruleLock(id uint) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.locks[id]; ok {
		return l
	}
	l := &sync.Mutex{}
	s.locks[id] = l
	return l
}

// RecurringRuleRequest 创建/更新周期规则请求
type RecurringRuleRequest struct {
	Name           string                 `json:"name" binding:"required"`
	Description    string                 `json:"description"`
	ProcessID      uint                   `json:"process_id" binding:"required"`
	TemplateData   *template.TemplateData `json:"template_data"`
	ScheduleType   string                 `json:"schedule_type" binding:"required"`
	ScheduleConfig schedule.Config        `json:"schedule_config"`
	Timezone       string                 `json:"timezone"`
	MaxExecutions  *int                   `json:"max_executions"`
	StartDate      *time.Time             `json:"start_date"`
	NextExecution  *time.Time             `json:"next_execution"`
	IsActive       *bool                  `json:"is_active"`
}

// RecurringRuleUpdateRequest 更新请求（指针字段表示可选）
type RecurringRuleUpdateRequest struct {
	Name           *string                `json:"name"`
	Description    *string                `json:"description"`
	TemplateData   *template.TemplateData `json:"template_data"`
	ScheduleConfig *schedule.Config       `json:"schedule_config"`
	Timezone       *string                `json:"timezone"`
	MaxExecutions  *int                   `json:"max_executions"`
	NextExecution  *time.Time             `json:"next_execution"`
	IsActive       *bool                  `json:"is_active"`
}

func isValidScheduleType(t string) bool {
	switch t {
	case "daily", "weekly", "monthly", "yearly", "custom":
		return true
	default:
		return false
	}
}

// CreateRule 创建规则。调度配置在持久化之前校验。
// next_execution 优先级：start_date > 显式 next_execution > now+interval。
func (s *RecurringService) CreateRule(ctx context.Context, req *RecurringRuleRequest, now time.Time) (*models.RecurringRule, error) {
	if req == nil {
		return nil, fmt.Errorf("request required")
	}
	if !isValidScheduleType(req.ScheduleType) {
		return nil, fmt.Errorf("%w: unsupported schedule_type %q", schedule.ErrInvalidSchedule, req.ScheduleType)
	}

	cfg := req.ScheduleConfig
	if cfg.IntervalMinutes == 0 {
		cfg.IntervalMinutes = s.defaultInterval
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if _, err := schedule.LoadLocation(req.Timezone); err != nil {
		return nil, err
	}

	next := now.Add(time.Duration(cfg.IntervalMinutes) * time.Minute)
	if req.NextExecution != nil {
		next = *req.NextExecution
	}
	if req.StartDate != nil {
		next = *req.StartDate
	}

	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal schedule config: %w", err)
	}
	tplJSON := ""
	if req.TemplateData != nil {
		b, err := json.Marshal(req.TemplateData)
		if err != nil {
			return nil, fmt.Errorf("marshal template data: %w", err)
		}
		tplJSON = string(b)
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	timezone := req.Timezone
	if timezone == "" {
		timezone = schedule.DefaultTimezone
	}

	rule := &models.RecurringRule{
		Name:           req.Name,
		Description:    req.Description,
		ProcessID:      req.ProcessID,
		TemplateData:   tplJSON,
		ScheduleType:   req.ScheduleType,
		ScheduleConfig: string(cfgJSON),
		Timezone:       timezone,
		IsActive:       active,
		NextExecution:  next,
		MaxExecutions:  req.MaxExecutions,
	}
	if err := s.db.WithContext(ctx).Create(rule).Error; err != nil {
		return nil, fmt.Errorf("failed to create recurring rule: %w", err)
	}

	s.logger.Infof("Created recurring rule %d (%s), next execution %s", rule.ID, rule.Name, next.Format(time.RFC3339))
	return rule, nil
}

// GetRule 获取规则
func (s *RecurringService) GetRule(ctx context.Context, id uint) (*models.RecurringRule, error) {
	var rule models.RecurringRule
	if err := s.db.WithContext(ctx).First(&rule, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("recurring rule not found")
		}
		return nil, fmt.Errorf("failed to get recurring rule: %w", err)
	}
	return &rule, nil
}

// ListRules 获取规则列表
func (s *RecurringService) ListRules(ctx context.Context, processID *uint) ([]models.RecurringRule, error) {
	query := s.db.WithContext(ctx).Model(&models.RecurringRule{}).Order("id DESC")
	if processID != nil {
		query = query.Where("process_id = ?", *processID)
	}
	var rules []models.RecurringRule
	if err := query.Find(&rules).Error; err != nil {
		return nil, fmt.Errorf("failed to list recurring rules: %w", err)
	}
	return rules, nil
}

// UpdateRule 更新规则；调度配置变更同样先校验。
func (s *RecurringService) UpdateRule(ctx context.Context, id uint, req *RecurringRuleUpdateRequest) (*models.RecurringRule, error) {
	rule, err := s.GetRule(ctx, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if req.TemplateData != nil {
		b, err := json.Marshal(req.TemplateData)
		if err != nil {
			return nil, fmt.Errorf("marshal template data: %w", err)
		}
		updates["template_data"] = string(b)
	}
	if req.ScheduleConfig != nil {
		cfg := *req.ScheduleConfig
		if cfg.IntervalMinutes == 0 {
			cfg.IntervalMinutes = s.defaultInterval
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		b, err := json.Marshal(cfg)
		if err != nil {
			return nil, fmt.Errorf("marshal schedule config: %w", err)
		}
		updates["schedule_config"] = string(b)
	}
	if req.Timezone != nil {
		if _, err := schedule.LoadLocation(*req.Timezone); err != nil {
			return nil, err
		}
		updates["timezone"] = *req.Timezone
	}
	if req.MaxExecutions != nil {
		updates["max_executions"] = *req.MaxExecutions
	}
	if req.NextExecution != nil {
		updates["next_execution"] = *req.NextExecution
	}
	if req.IsActive != nil {
		updates["is_active"] = *req.IsActive
	}

	if len(updates) > 0 {
		if err := s.db.WithContext(ctx).Model(&models.RecurringRule{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("failed to update recurring rule: %w", err)
		}
	}
	return s.GetRule(ctx, rule.ID)
}

// DeleteRule 删除规则
func (s *RecurringService) DeleteRule(ctx context.Context, id uint) error {
	result := s.db.WithContext(ctx).Delete(&models.RecurringRule{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("recurring rule not found")
	}
	return nil
}

// ListDueRules 只读到期选择：is_active 且 next_execution <= now，
// 按 next_execution 升序保证公平。
func (s *RecurringService) ListDueRules(ctx context.Context, now time.Time) ([]models.RecurringRule, error) {
	var rules []models.RecurringRule
	if err := s.db.WithContext(ctx).
		Where("is_active = ? AND next_execution <= ?", true, now).
		Order("next_execution ASC").
		Find(&rules).Error; err != nil {
		return nil, fmt.Errorf("failed to list due rules: %w", err)
	}
	return rules, nil
}

// ExecutionResult 单条规则的执行结果
type ExecutionResult struct {
	Rule          *models.RecurringRule `json:"rule"`
	Ticket        *models.Ticket        `json:"ticket"`
	NextExecution time.Time             `json:"next_execution"`
}

// ExecuteRule 执行单条规则（手动或轮询路径共用同一状态机）。
// 工单创建失败时不修改任何调度状态，规则保持到期、下轮重试。
func (s *RecurringService) ExecuteRule(ctx context.Context, ruleID uint, now time.Time, triggeredBy *uint) (*ExecutionResult, error) {
	ctx, span := s.tracer.Start(ctx, "recurring.execute_rule")
	defer span.End()
	span.SetAttributes(attribute.Int64("recurring.rule.id", int64(ruleID)))

	lock := s.ruleLock(ruleID)
	lock.Lock()
	defer lock.Unlock()

	rule, err := s.GetRule(ctx, ruleID)
	if err != nil {
		return nil, err
	}

	if !rule.IsActive {
		return nil, ErrRuleInactive
	}
	if rule.MaxExecutions != nil && rule.ExecutionCount >= *rule.MaxExecutions {
		// 防止继续被选为到期规则
		if err := s.db.WithContext(ctx).Model(&models.RecurringRule{}).
			Where("id = ?", rule.ID).Update("is_active", false).Error; err != nil {
			s.logger.Errorf("Failed to deactivate exhausted rule %d: %v", rule.ID, err)
		}
		metrics.IncRecurringExecution("rejected")
		return nil, ErrExecutionLimitReached
	}

	cfg, err := schedule.ParseConfig(rule.ScheduleConfig)
	if err != nil {
		return nil, err
	}
	loc, err := schedule.LoadLocation(rule.Timezone)
	if err != nil {
		return nil, err
	}

	tpl, err := template.ParseTemplateData(rule.TemplateData)
	if err != nil {
		s.logger.Warnf("Rule %d has unreadable template, falling back to rule name: %v", rule.ID, err)
		tpl = nil
	}
	input := template.RenderTicket(tpl, rule.Name, template.Context{Now: now, Location: loc})

	next, err := schedule.NextExecution(cfg, rule.Timezone, now)
	if err != nil {
		// 配置在创建时已校验，这里只可能是存量坏数据
		return nil, err
	}

	ticket, err := s.commitExecution(ctx, rule, input, next, now, triggeredBy)
	if err != nil {
		var tce *TicketCreationError
		switch {
		case errors.As(err, &tce):
			metrics.IncRecurringExecution("failed")
			span.RecordError(err)
		case errors.Is(err, ErrConcurrentExecution):
			// 另一进程抢先完成了同一次执行，本次工单已随事务回滚
			s.logger.Warnf("Rule %d version conflict, execution rolled back", rule.ID)
		}
		return nil, err
	}

	metrics.IncRecurringExecution("success")
	span.SetAttributes(attribute.Int64("recurring.ticket.id", int64(ticket.ID)))
	s.logger.Infof("Executed recurring rule %d, created ticket %d, next execution %s",
		rule.ID, ticket.ID, next.Format(time.RFC3339))

	updated, err := s.GetRule(ctx, rule.ID)
	if err != nil {
		return nil, err
	}
	return &ExecutionResult{Rule: updated, Ticket: ticket, NextExecution: next}, nil
}

// commitExecution 在同一事务内创建工单并推进调度状态。
// 版本检查落空时整体回滚，不会留下没有记账的孤儿工单。
func (s *RecurringService) commitExecution(ctx context.Context, rule *models.RecurringRule, input template.TicketInput, next, now time.Time, triggeredBy *uint) (*models.Ticket, error) {
	var ticket *models.Ticket
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		created, err := s.tickets.WithTx(tx).CreateTicket(ctx, &TicketCreateRequest{
			Title:       input.Title,
			Description: input.Description,
			ProcessID:   rule.ProcessID,
			Priority:    input.Priority,
			Fields:      input.Data,
			CreatedBy:   triggeredBy,
		})
		if err != nil {
			return &TicketCreationError{RuleID: rule.ID, Err: err}
		}
		ticket = created

		updates := map[string]interface{}{
			"last_executed":   now,
			"execution_count": rule.ExecutionCount + 1,
			"next_execution":  next,
			"version":         rule.Version + 1,
		}
		if rule.MaxExecutions != nil && rule.ExecutionCount+1 >= *rule.MaxExecutions {
			updates["is_active"] = false
		}

		result := tx.Model(&models.RecurringRule{}).
			Where("id = ? AND version = ?", rule.ID, rule.Version).
			Updates(updates)
		if result.Error != nil {
			return fmt.Errorf("failed to update rule state: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrConcurrentExecution
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ticket, nil
}

// RuleOutcome 批量执行中单条规则的结果
type RuleOutcome struct {
	RuleID        uint       `json:"rule_id"`
	RuleName      string     `json:"rule_name"`
	Status        string     `json:"status"` // executed, failed
	TicketID      *uint      `json:"ticket_id,omitempty"`
	NextExecution *time.Time `json:"next_execution,omitempty"`
	Error         string     `json:"error,omitempty"`
}

// BatchResult 批量执行聚合结果
type BatchResult struct {
	BatchID       string        `json:"batch_id"`
	ExecutedCount int           `json:"executed_count"`
	ErrorCount    int           `json:"error_count"`
	TotalCount    int           `json:"total_count"`
	Results       []RuleOutcome `json:"results"`
}

// ExecuteDueRules 批量执行所有到期规则。单条失败不会中断其余规则，
// 调用方永远收到聚合结果而不是裸异常。
func (s *RecurringService) ExecuteDueRules(ctx context.Context, now time.Time) (*BatchResult, error) {
	ctx, span := s.tracer.Start(ctx, "recurring.execute_due_rules")
	defer span.End()

	due, err := s.ListDueRules(ctx, now)
	if err != nil {
		return nil, err
	}

	batch := &BatchResult{
		BatchID:    uuid.NewString(),
		TotalCount: len(due),
		Results:    make([]RuleOutcome, 0, len(due)),
	}

	for _, rule := range due {
		outcome := RuleOutcome{RuleID: rule.ID, RuleName: rule.Name}
		res, err := s.ExecuteRule(ctx, rule.ID, now, nil)
		if err != nil {
			outcome.Status = "failed"
			outcome.Error = err.Error()
			batch.ErrorCount++
			s.logger.Warnf("Batch %s: rule %d failed: %v", batch.BatchID, rule.ID, err)
		} else {
			outcome.Status = "executed"
			outcome.TicketID = &res.Ticket.ID
			next := res.NextExecution
			outcome.NextExecution = &next
			batch.ExecutedCount++
		}
		batch.Results = append(batch.Results, outcome)
	}

	span.SetAttributes(
		attribute.Int("recurring.batch.total", batch.TotalCount),
		attribute.Int("recurring.batch.executed", batch.ExecutedCount),
		attribute.Int("recurring.batch.failed", batch.ErrorCount),
	)
	if batch.TotalCount > 0 {
		s.logger.Infof("Batch %s: executed %d/%d due rules (%d failed)",
			batch.BatchID, batch.ExecutedCount, batch.TotalCount, batch.ErrorCount)
	}
	return batch, nil
}
