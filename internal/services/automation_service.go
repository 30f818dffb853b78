package services

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"pipeflow/internal/metrics"
	"pipeflow/internal/models"
	"pipeflow/internal/template"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

// 触发条件操作符
const (
	OpEquals      = "equals"
	OpNotEquals   = "not_equals"
	OpContains    = "contains"
	OpGreaterThan = "greater_than"
	OpLessThan    = "less_than"
	OpIsEmpty     = "is_empty"
	OpIsNotEmpty  = "is_not_empty"
)

// 动作类型
const (
	ActionSendNotification = "send_notification"
	ActionMoveToStage      = "move_to_stage"
	ActionAssignUser       = "assign_user"
	ActionUpdateField      = "update_field"
	ActionCreateTicket     = "create_ticket"
	ActionSendEmail        = "send_email"
	ActionAddComment       = "add_comment"
)

// TriggerCondition 单条触发条件
type TriggerCondition struct {
	FieldID  string      `json:"field_id"`
	Operator string      `json:"operator"`
	Value    interface{} `json:"value"`
}

// RuleAction 规则动作；Parameters 的含义由 Type 决定
type RuleAction struct {
	Type       string                 `json:"type"`
	Parameters map[string]interface{} `json:"parameters"`
}

// AutomationService 自动化规则的触发匹配与动作执行引擎
type AutomationService struct {
	db            *gorm.DB
	logger        *logrus.Logger
	tracer        trace.Tracer
	tickets       *TicketService
	notifications *NotificationService
	email         EmailSender
}

func NewAutomationService(db *gorm.DB, logger *logrus.Logger, tickets *TicketService, notifications *NotificationService, email EmailSender) *AutomationService {
	if logger == nil {
		logger = logrus.New()
	}
	if email == nil {
		email = NewLogEmailSender(logger)
	}
	return &AutomationService{
		db:            db,
		logger:        logger,
		tracer:        otel.Tracer("pipeflow.automation"),
		tickets:       tickets,
		notifications: notifications,
		email:         email,
	}
}

// AutomationRuleRequest 创建自动化规则请求
type AutomationRuleRequest struct {
	Name           string             `json:"name" binding:"required"`
	Description    string             `json:"description"`
	ProcessID      uint               `json:"process_id" binding:"required"`
	TriggerEvent   string             `json:"trigger_event" binding:"required"`
	TriggerStageID *uint              `json:"trigger_stage_id"`
	TriggerFieldID string             `json:"trigger_field_id"`
	Conditions     []TriggerCondition `json:"conditions"`
	Actions        []RuleAction       `json:"actions"`
	IsActive       *bool              `json:"is_active"`
}

// CreateRule 创建规则
func (s *AutomationService) CreateRule(ctx context.Context, req *AutomationRuleRequest) (*models.AutomationRule, error) {
	if req == nil {
		return nil, fmt.Errorf("request required")
	}
	if !IsSupportedEvent(req.TriggerEvent) {
		return nil, fmt.Errorf("unsupported trigger event: %s", req.TriggerEvent)
	}
	for _, act := range req.Actions {
		if !isSupportedAction(act.Type) {
			return nil, fmt.Errorf("unsupported action type: %s", act.Type)
		}
	}

	condJSON, err := json.Marshal(req.Conditions)
	if err != nil {
		return nil, fmt.Errorf("invalid conditions: %w", err)
	}
	actJSON, err := json.Marshal(req.Actions)
	if err != nil {
		return nil, fmt.Errorf("invalid actions: %w", err)
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	rule := &models.AutomationRule{
		Name:           req.Name,
		Description:    req.Description,
		ProcessID:      req.ProcessID,
		TriggerEvent:   req.TriggerEvent,
		TriggerStageID: req.TriggerStageID,
		TriggerFieldID: req.TriggerFieldID,
		Conditions:     string(condJSON),
		Actions:        string(actJSON),
		IsActive:       active,
	}
	if err := s.db.WithContext(ctx).Create(rule).Error; err != nil {
		return nil, fmt.Errorf("failed to create automation rule: %w", err)
	}
	s.logger.Infof("Created automation rule %d (%s) on event %s", rule.ID, rule.Name, rule.TriggerEvent)
	return rule, nil
}

// GetRule 获取规则
func (s *AutomationService) GetRule(ctx context.Context, id uint) (*models.AutomationRule, error) {
	var rule models.AutomationRule
	if err := s.db.WithContext(ctx).First(&rule, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("automation rule not found")
		}
		return nil, fmt.Errorf("failed to get automation rule: %w", err)
	}
	return &rule, nil
}

// ListRules 获取规则列表
func (s *AutomationService) ListRules(ctx context.Context, processID *uint) ([]models.AutomationRule, error) {
	query := s.db.WithContext(ctx).Model(&models.AutomationRule{}).Order("id DESC")
	if processID != nil {
		query = query.Where("process_id = ?", *processID)
	}
	var rules []models.AutomationRule
	if err := query.Find(&rules).Error; err != nil {
		return nil, fmt.Errorf("failed to list automation rules: %w", err)
	}
	return rules, nil
}

// AutomationRuleUpdateRequest 更新请求（指针字段表示可选）
type AutomationRuleUpdateRequest struct {
	Name           *string             `json:"name"`
	Description    *string             `json:"description"`
	TriggerEvent   *string             `json:"trigger_event"`
	TriggerStageID *uint               `json:"trigger_stage_id"`
	TriggerFieldID *string             `json:"trigger_field_id"`
	Conditions     *[]TriggerCondition `json:"conditions"`
	Actions        *[]RuleAction       `json:"actions"`
	IsActive       *bool               `json:"is_active"`
}

// UpdateRule 更新规则
func (s *AutomationService) UpdateRule(ctx context.Context, id uint, req *AutomationRuleUpdateRequest) (*models.AutomationRule, error) {
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
	if req.TriggerEvent != nil {
		if !IsSupportedEvent(*req.TriggerEvent) {
			return nil, fmt.Errorf("unsupported trigger event: %s", *req.TriggerEvent)
		}
		updates["trigger_event"] = *req.TriggerEvent
	}
	if req.TriggerStageID != nil {
		updates["trigger_stage_id"] = *req.TriggerStageID
	}
	if req.TriggerFieldID != nil {
		updates["trigger_field_id"] = *req.TriggerFieldID
	}
	if req.Conditions != nil {
		b, err := json.Marshal(*req.Conditions)
		if err != nil {
			return nil, fmt.Errorf("invalid conditions: %w", err)
		}
		updates["conditions"] = string(b)
	}
	if req.Actions != nil {
		for _, act := range *req.Actions {
			if !isSupportedAction(act.Type) {
				return nil, fmt.Errorf("unsupported action type: %s", act.Type)
			}
		}
		b, err := json.Marshal(*req.Actions)
		if err != nil {
			return nil, fmt.Errorf("invalid actions: %w", err)
		}
		updates["actions"] = string(b)
	}
	if req.IsActive != nil {
		updates["is_active"] = *req.IsActive
	}

	if len(updates) > 0 {
		if err := s.db.WithContext(ctx).Model(&models.AutomationRule{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("failed to update automation rule: %w", err)
		}
	}
	return s.GetRule(ctx, rule.ID)
}

// DeleteRule 删除规则
func (s *AutomationService) DeleteRule(ctx context.Context, id uint) error {
	result := s.db.WithContext(ctx).Delete(&models.AutomationRule{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("automation rule not found")
	}
	return nil
}

func isSupportedAction(actionType string) bool {
	switch actionType {
	case ActionSendNotification, ActionMoveToStage, ActionAssignUser,
		ActionUpdateField, ActionCreateTicket, ActionSendEmail, ActionAddComment:
		return true
	default:
		return false
	}
}

// HandleEvent 对一个领域事件评估该流程下的所有活跃规则，
// 匹配的规则依次执行。实现 EventHandler。
func (s *AutomationService) HandleEvent(ctx context.Context, evt Event) {
	ctx, span := s.tracer.Start(ctx, "automation.handle_event")
	defer span.End()
	span.SetAttributes(
		attribute.String("automation.event.type", evt.Type),
		attribute.Int64("automation.event.ticket_id", int64(evt.TicketID)),
	)

	var rules []models.AutomationRule
	if err := s.db.WithContext(ctx).
		Where("trigger_event = ? AND process_id = ? AND is_active = ?", evt.Type, evt.ProcessID, true).
		Order("id ASC").
		Find(&rules).Error; err != nil {
		s.logger.Warnf("automation: load rules for event %s failed: %v", evt.Type, err)
		return
	}
	if len(rules) == 0 {
		return
	}

	ticket, err := s.tickets.GetTicketByID(ctx, evt.TicketID)
	if err != nil {
		s.logger.Warnf("automation: ticket %d not found for event %s: %v", evt.TicketID, evt.Type, err)
		return
	}

	for i := range rules {
		rule := rules[i]
		if !MatchesTrigger(&rule, evt, TicketAttributes(ticket)) {
			continue
		}
		s.logger.Infof("automation: rule %d (%s) matched event %s on ticket %d", rule.ID, rule.Name, evt.Type, ticket.ID)
		s.Execute(ctx, &rule, ticket, nil)
	}
}

// MatchesTrigger 纯函数触发匹配：事件类型短路比较，之后条件按 AND 评估。
// 条件列表为空时仅凭事件类型触发。
func MatchesTrigger(rule *models.AutomationRule, evt Event, attrs map[string]interface{}) bool {
	if rule.TriggerEvent != evt.Type {
		return false
	}
	if rule.TriggerStageID != nil {
		if v, ok := evt.Payload["stage_id"]; !ok || fmt.Sprintf("%v", v) != fmt.Sprintf("%v", *rule.TriggerStageID) {
			return false
		}
	}
	if rule.TriggerFieldID != "" && evt.Type == EventFieldUpdated {
		if v, ok := evt.Payload["field_id"]; !ok || fmt.Sprintf("%v", v) != rule.TriggerFieldID {
			return false
		}
	}

	conds := []TriggerCondition{}
	if rule.Conditions != "" {
		if err := json.Unmarshal([]byte(rule.Conditions), &conds); err != nil {
			logrus.Warnf("automation: invalid conditions for rule %d: %v", rule.ID, err)
			return false
		}
	}
	for _, cond := range conds {
		if !evaluateCondition(cond, attrs) {
			return false
		}
	}
	return true
}

// evaluateCondition 按操作符评估单条条件。
// 工单上不存在的字段按空值处理；数值比较解析失败时条件为假而非错误。
func evaluateCondition(cond TriggerCondition, attrs map[string]interface{}) bool {
	val, ok := attrs[cond.FieldID]
	if !ok {
		val = nil
	}

	empty := val == nil || fmt.Sprintf("%v", val) == ""
	actual := ""
	if !empty {
		actual = fmt.Sprintf("%v", val)
	}
	expected := fmt.Sprintf("%v", cond.Value)

	switch cond.Operator {
	case OpEquals:
		return actual == expected
	case OpNotEquals:
		return actual != expected
	case OpContains:
		return !empty && strings.Contains(actual, expected)
	case OpGreaterThan:
		a, errA := strconv.ParseFloat(actual, 64)
		b, errB := strconv.ParseFloat(expected, 64)
		return errA == nil && errB == nil && a > b
	case OpLessThan:
		a, errA := strconv.ParseFloat(actual, 64)
		b, errB := strconv.ParseFloat(expected, 64)
		return errA == nil && errB == nil && a < b
	case OpIsEmpty:
		return empty
	case OpIsNotEmpty:
		return !empty
	default:
		return false
	}
}

// ActionOutcome 单个动作的执行结果，序列化进 execution_data。
type ActionOutcome struct {
	Index  int    `json:"index"`
	Type   string `json:"type"`
	Status string `json:"status"` // success, failed
	Error  string `json:"error,omitempty"`
}

// Execute 按数组顺序执行规则动作。单个动作失败不阻断后续动作，
// 整体状态记为 failed；每次调用恰好产生一条 AutomationExecution。
func (s *AutomationService) Execute(ctx context.Context, rule *models.AutomationRule, ticket *models.Ticket, triggeredBy *uint) *models.AutomationExecution {
	ctx, span := s.tracer.Start(ctx, "automation.execute")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("automation.rule.id", int64(rule.ID)),
		attribute.Int64("automation.ticket.id", int64(ticket.ID)),
	)

	// 动作产生的工单变更不得再次触发引擎
	actionCtx := SuppressEvents(ctx)

	actions := []RuleAction{}
	outcomes := []ActionOutcome{}
	failed := false

	if rule.Actions != "" {
		if err := json.Unmarshal([]byte(rule.Actions), &actions); err != nil {
			failed = true
			outcomes = append(outcomes, ActionOutcome{Index: 0, Type: "parse", Status: "failed", Error: err.Error()})
		}
	}

	attrs := TicketAttributes(ticket)
	tplCtx := template.Context{Now: time.Now()}

	for i, act := range actions {
		outcome := ActionOutcome{Index: i, Type: act.Type, Status: "success"}
		if err := s.executeAction(actionCtx, act, rule, ticket, attrs, tplCtx); err != nil {
			outcome.Status = "failed"
			outcome.Error = err.Error()
			failed = true
			s.logger.Warnf("automation: rule %d action %d (%s) failed: %v", rule.ID, i, act.Type, err)
		}
		outcomes = append(outcomes, outcome)
	}

	status := "success"
	if failed {
		status = "failed"
	}

	dataJSON, err := json.Marshal(map[string]interface{}{"actions": outcomes})
	if err != nil {
		dataJSON = []byte("{}")
	}
	execution := &models.AutomationExecution{
		RuleID:        rule.ID,
		TicketID:      ticket.ID,
		Status:        status,
		ExecutedBy:    triggeredBy,
		ExecutionData: string(dataJSON),
		ExecutedAt:    time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(execution).Error; err != nil {
		s.logger.Errorf("automation: record execution for rule %d failed: %v", rule.ID, err)
	}

	metrics.IncAutomationRun(status)
	span.SetAttributes(attribute.String("automation.execution.status", status))
	return execution
}

func (s *AutomationService) executeAction(ctx context.Context, act RuleAction, rule *models.AutomationRule, ticket *models.Ticket, attrs map[string]interface{}, tplCtx template.Context) error {
	switch act.Type {
	case ActionSendNotification:
		title := template.RenderFields(paramString(act.Parameters, "title"), attrs, tplCtx)
		message := template.RenderFields(paramString(act.Parameters, "message"), attrs, tplCtx)
		if title == "" && message == "" {
			return fmt.Errorf("notification requires title or message")
		}
		userID := paramUint(act.Parameters, "user_id")
		return s.notifications.Notify(ctx, &models.Notification{
			UserID:   userID,
			TicketID: &ticket.ID,
			Type:     "automation",
			Title:    title,
			Message:  message,
		})

	case ActionMoveToStage:
		stageID := paramUint(act.Parameters, "stage_id")
		if stageID == nil {
			return fmt.Errorf("stage_id param required")
		}
		comment := paramString(act.Parameters, "comment")
		return s.tickets.MoveStage(ctx, ticket.ID, *stageID, comment, nil)

	case ActionAssignUser:
		userID := paramUint(act.Parameters, "user_id")
		if userID == nil {
			return fmt.Errorf("user_id param required")
		}
		return s.tickets.Assign(ctx, ticket.ID, *userID, nil)

	case ActionUpdateField:
		fieldID := paramString(act.Parameters, "field_id")
		if fieldID == "" {
			return fmt.Errorf("field_id param required")
		}
		return s.tickets.UpdateField(ctx, ticket.ID, fieldID, act.Parameters["value"], nil)

	case ActionCreateTicket:
		tpl, _ := act.Parameters["template"].(map[string]interface{})
		title := template.RenderFields(paramString(tpl, "title"), attrs, tplCtx)
		if title == "" {
			return fmt.Errorf("create_ticket requires template.title")
		}
		processID := rule.ProcessID
		if pid := paramUint(tpl, "process_id"); pid != nil {
			processID = *pid
		}
		priority := paramString(tpl, "priority")
		if priority == "" {
			priority = "medium"
		}
		_, err := s.tickets.CreateTicket(ctx, &TicketCreateRequest{
			Title:       title,
			Description: template.RenderFields(paramString(tpl, "description"), attrs, tplCtx),
			ProcessID:   processID,
			Priority:    priority,
		})
		return err

	case ActionSendEmail:
		to := paramStrings(act.Parameters, "to")
		if len(to) == 0 {
			return fmt.Errorf("email requires recipients")
		}
		subject := template.RenderFields(paramString(act.Parameters, "subject"), attrs, tplCtx)
		body := template.RenderFields(paramString(act.Parameters, "body"), attrs, tplCtx)
		return s.email.SendEmail(ctx, to, subject, body)

	case ActionAddComment:
		content := template.RenderFields(paramString(act.Parameters, "content"), attrs, tplCtx)
		if content == "" {
			return fmt.Errorf("content required")
		}
		_, err := s.tickets.AddComment(ctx, ticket.ID, nil, content, "automation")
		return err

	default:
		return fmt.Errorf("unsupported action type: %s", act.Type)
	}
}

// ExecuteManual 手动执行指定规则：跳过触发匹配，属于显式覆盖。
func (s *AutomationService) ExecuteManual(ctx context.Context, ruleID, ticketID uint, triggeredBy *uint) (*models.AutomationExecution, error) {
	rule, err := s.GetRule(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	ticket, err := s.tickets.GetTicketByID(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	return s.Execute(ctx, rule, ticket, triggeredBy), nil
}

// ExecutionListRequest 执行记录列表请求
type ExecutionListRequest struct {
	Page     int    `form:"page,default=1"`
	PageSize int    `form:"page_size,default=20"`
	RuleID   uint   `form:"rule_id"`
	TicketID uint   `form:"ticket_id"`
	Status   string `form:"status"`
}

// ListExecutions 获取执行记录
func (s *AutomationService) ListExecutions(ctx context.Context, req *ExecutionListRequest) ([]models.AutomationExecution, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.AutomationExecution{})
	if req.RuleID != 0 {
		query = query.Where("rule_id = ?", req.RuleID)
	}
	if req.TicketID != 0 {
		query = query.Where("ticket_id = ?", req.TicketID)
	}
	if req.Status != "" {
		query = query.Where("status = ?", req.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count executions: %w", err)
	}

	if req.PageSize > 0 {
		offset := (req.Page - 1) * req.PageSize
		query = query.Offset(offset).Limit(req.PageSize)
	}

	var executions []models.AutomationExecution
	if err := query.Order("id DESC").Find(&executions).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list executions: %w", err)
	}
	return executions, total, nil
}

// RuleStats 规则统计：执行次数与成功率（由执行记录推导，不落库）
type RuleStats struct {
	RuleID         uint    `json:"rule_id"`
	ExecutionCount int64   `json:"execution_count"`
	SuccessCount   int64   `json:"success_count"`
	SuccessRate    float64 `json:"success_rate"` // 百分比，两位小数
}

// GetRuleStats 计算规则统计
func (s *AutomationService) GetRuleStats(ctx context.Context, ruleID uint) (*RuleStats, error) {
	if _, err := s.GetRule(ctx, ruleID); err != nil {
		return nil, err
	}

	stats := &RuleStats{RuleID: ruleID}
	if err := s.db.WithContext(ctx).Model(&models.AutomationExecution{}).
		Where("rule_id = ?", ruleID).Count(&stats.ExecutionCount).Error; err != nil {
		return nil, fmt.Errorf("failed to count executions: %w", err)
	}
	if err := s.db.WithContext(ctx).Model(&models.AutomationExecution{}).
		Where("rule_id = ? AND status = ?", ruleID, "success").Count(&stats.SuccessCount).Error; err != nil {
		return nil, fmt.Errorf("failed to count successes: %w", err)
	}
	if stats.ExecutionCount > 0 {
		rate := float64(stats.SuccessCount) / float64(stats.ExecutionCount) * 100
		stats.SuccessRate = math.Round(rate*100) / 100
	}
	return stats, nil
}

func paramString(params map[string]interface{}, key string) string {
	if params == nil {
		return ""
	}
	if v, ok := params[key].(string); ok {
		return v
	}
	return ""
}

func paramUint(params map[string]interface{}, key string) *uint {
	if params == nil {
		return nil
	}
	switch v := params[key].(type) {
	case float64:
		if v > 0 {
			u := uint(v)
			return &u
		}
	case int:
		if v > 0 {
			u := uint(v)
			return &u
		}
	case uint:
		u := v
		return &u
	case string:
		if n, err := strconv.ParseUint(v, 10, 32); err == nil && n > 0 {
			u := uint(n)
			return &u
		}
	}
	return nil
}

func paramStrings(params map[string]interface{}, key string) []string {
	if params == nil {
		return nil
	}
	switch v := params[key].(type) {
	case string:
		if v == "" {
			return nil
		}
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
