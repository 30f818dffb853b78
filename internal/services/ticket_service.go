package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"pipeflow/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// StoreError 存储约束类错误（流程/阶段不存在等）
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("ticket store: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// TicketService 工单存储服务
type TicketService struct {
	db     *gorm.DB
	logger *logrus.Logger
	events EventHandler
}

// NewTicketService 创建工单服务
func NewTicketService(db *gorm.DB, logger *logrus.Logger) *TicketService {
	if logger == nil {
		logger = logrus.New()
	}
	return &TicketService{db: db, logger: logger}
}

// SetEventHandler wires the automation engine in after construction;
// the engine itself mutates tickets through this service.
func (s *TicketService) SetEventHandler(h EventHandler) {
	s.events = h
}

// WithTx 返回绑定到 tx 的副本，调用方可以把工单写入
// 和自己的状态更新放进同一个事务。
func (s *TicketService) WithTx(tx *gorm.DB) *TicketService {
	clone := *s
	clone.db = tx
	return &clone
}

// TicketCreateRequest 创建工单请求
type TicketCreateRequest struct {
	Title       string                 `json:"title" binding:"required"`
	Description string                 `json:"description"`
	ProcessID   uint                   `json:"process_id" binding:"required"`
	StageID     *uint                  `json:"stage_id"`
	AssigneeID  *uint                  `json:"assignee_id"`
	CreatedBy   *uint                  `json:"created_by"`
	Priority    string                 `json:"priority"`
	Fields      map[string]interface{} `json:"fields"`
	Tags        string                 `json:"tags"`
	DueDate     *time.Time             `json:"due_date"`
}

// TicketListRequest 工单列表请求
type TicketListRequest struct {
	Page       int      `form:"page,default=1"`
	PageSize   int      `form:"page_size,default=20"`
	ProcessID  *uint    `form:"process_id"`
	StageID    *uint    `form:"stage_id"`
	AssigneeID *uint    `form:"assignee_id"`
	Status     []string `form:"status"`
	Priority   []string `form:"priority"`
	SortBy     string   `form:"sort_by,default=created_at"`
	SortOrder  string   `form:"sort_order,default=desc"`
}

// CreateTicket 创建工单
func (s *TicketService) CreateTicket(ctx context.Context, req *TicketCreateRequest) (*models.Ticket, error) {
	var process models.Process
	if err := s.db.WithContext(ctx).First(&process, req.ProcessID).Error; err != nil {
		return nil, &StoreError{Op: "create", Err: fmt.Errorf("process %d not found: %w", req.ProcessID, err)}
	}

	stageID := req.StageID
	if stageID == nil {
		// 默认进入流程的第一个阶段
		var first models.Stage
		if err := s.db.WithContext(ctx).
			Where("process_id = ?", req.ProcessID).
			Order("position ASC").First(&first).Error; err == nil {
			stageID = &first.ID
		}
	} else {
		if err := s.validateStage(ctx, req.ProcessID, *stageID); err != nil {
			return nil, err
		}
	}

	if req.Priority == "" {
		req.Priority = "medium"
	}

	fieldsJSON := "{}"
	if len(req.Fields) > 0 {
		b, err := json.Marshal(req.Fields)
		if err != nil {
			return nil, &StoreError{Op: "create", Err: fmt.Errorf("invalid fields: %w", err)}
		}
		fieldsJSON = string(b)
	}

	ticket := &models.Ticket{
		Title:       req.Title,
		Description: req.Description,
		ProcessID:   req.ProcessID,
		StageID:     stageID,
		AssigneeID:  req.AssigneeID,
		CreatedBy:   req.CreatedBy,
		Priority:    req.Priority,
		Status:      "open",
		Fields:      fieldsJSON,
		Tags:        req.Tags,
		DueDate:     req.DueDate,
	}

	if err := s.db.WithContext(ctx).Create(ticket).Error; err != nil {
		return nil, &StoreError{Op: "create", Err: err}
	}

	s.recordHistory(ctx, ticket.ID, req.CreatedBy, "status", "", "open", nil, stageID, "ticket created")
	s.logger.Infof("Created ticket %d in process %d", ticket.ID, req.ProcessID)

	s.publish(ctx, Event{Type: EventTicketCreated, TicketID: ticket.ID, ProcessID: ticket.ProcessID})

	return ticket, nil
}

// GetTicketByID 根据ID获取工单
func (s *TicketService) GetTicketByID(ctx context.Context, ticketID uint) (*models.Ticket, error) {
	var ticket models.Ticket
	err := s.db.WithContext(ctx).
		Preload("Stage").
		Preload("Assignee").
		Preload("Comments", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC")
		}).
		First(&ticket, ticketID).Error
	if err != nil {
		return nil, &StoreError{Op: "get", Err: fmt.Errorf("ticket %d not found: %w", ticketID, err)}
	}
	return &ticket, nil
}

// ListTickets 获取工单列表
func (s *TicketService) ListTickets(ctx context.Context, req *TicketListRequest) ([]models.Ticket, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.Ticket{})

	if req.ProcessID != nil {
		query = query.Where("process_id = ?", *req.ProcessID)
	}
	if req.StageID != nil {
		query = query.Where("stage_id = ?", *req.StageID)
	}
	if req.AssigneeID != nil {
		query = query.Where("assignee_id = ?", *req.AssigneeID)
	}
	if len(req.Status) > 0 {
		query = query.Where("status IN ?", req.Status)
	}
	if len(req.Priority) > 0 {
		query = query.Where("priority IN ?", req.Priority)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count tickets: %w", err)
	}

	sortBy := req.SortBy
	if sortBy == "" {
		sortBy = "created_at"
	}
	sortOrder := req.SortOrder
	if sortOrder != "asc" && sortOrder != "desc" {
		sortOrder = "desc"
	}
	query = query.Order(fmt.Sprintf("%s %s", sortBy, sortOrder))

	if req.PageSize > 0 {
		offset := (req.Page - 1) * req.PageSize
		query = query.Offset(offset).Limit(req.PageSize)
	}

	var tickets []models.Ticket
	if err := query.Find(&tickets).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list tickets: %w", err)
	}
	return tickets, total, nil
}

// MoveStage 将工单移动到目标阶段
func (s *TicketService) MoveStage(ctx context.Context, ticketID, stageID uint, comment string, userID *uint) error {
	ticket, err := s.GetTicketByID(ctx, ticketID)
	if err != nil {
		return err
	}
	if err := s.validateStage(ctx, ticket.ProcessID, stageID); err != nil {
		return err
	}

	var stage models.Stage
	if err := s.db.WithContext(ctx).First(&stage, stageID).Error; err != nil {
		return &StoreError{Op: "move_stage", Err: err}
	}

	updates := map[string]interface{}{"stage_id": stageID}
	if stage.IsFinal {
		now := time.Now()
		updates["status"] = "completed"
		updates["completed_at"] = &now
	}
	if err := s.db.WithContext(ctx).Model(&models.Ticket{}).Where("id = ?", ticketID).Updates(updates).Error; err != nil {
		return &StoreError{Op: "move_stage", Err: err}
	}

	s.recordHistory(ctx, ticketID, userID, "stage", "", "", ticket.StageID, &stageID, comment)
	if comment != "" {
		s.addCommentRow(ctx, ticketID, userID, comment, "system")
	}
	s.logger.Infof("Moved ticket %d to stage %d", ticketID, stageID)

	payload := map[string]interface{}{"stage_id": stageID}
	if ticket.StageID != nil {
		payload["from_stage_id"] = *ticket.StageID
	}
	s.publish(ctx, Event{Type: EventStageChanged, TicketID: ticketID, ProcessID: ticket.ProcessID, Payload: payload})
	if stage.IsFinal {
		s.publish(ctx, Event{Type: EventCompleted, TicketID: ticketID, ProcessID: ticket.ProcessID})
	}
	return nil
}

// Assign 分配工单
func (s *TicketService) Assign(ctx context.Context, ticketID, userID uint, actorID *uint) error {
	ticket, err := s.GetTicketByID(ctx, ticketID)
	if err != nil {
		return err
	}

	var user models.User
	if err := s.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		return &StoreError{Op: "assign", Err: fmt.Errorf("user %d not found: %w", userID, err)}
	}

	if err := s.db.WithContext(ctx).Model(&models.Ticket{}).
		Where("id = ?", ticketID).Update("assignee_id", userID).Error; err != nil {
		return &StoreError{Op: "assign", Err: err}
	}

	s.recordHistory(ctx, ticketID, actorID, "assignee", "", fmt.Sprintf("%d", userID), nil, nil, "")
	s.logger.Infof("Assigned ticket %d to user %d", ticketID, userID)

	s.publish(ctx, Event{
		Type: EventTicketAssigned, TicketID: ticketID, ProcessID: ticket.ProcessID,
		Payload: map[string]interface{}{"assignee_id": userID},
	})
	return nil
}

// UpdateField 更新工单自定义字段
func (s *TicketService) UpdateField(ctx context.Context, ticketID uint, fieldID string, value interface{}, actorID *uint) error {
	if fieldID == "" {
		return &StoreError{Op: "update_field", Err: fmt.Errorf("field id required")}
	}
	ticket, err := s.GetTicketByID(ctx, ticketID)
	if err != nil {
		return err
	}

	fields := map[string]interface{}{}
	if ticket.Fields != "" {
		if err := json.Unmarshal([]byte(ticket.Fields), &fields); err != nil {
			s.logger.Warnf("ticket %d has unreadable fields payload, resetting: %v", ticketID, err)
			fields = map[string]interface{}{}
		}
	}
	old := fields[fieldID]
	fields[fieldID] = value

	b, err := json.Marshal(fields)
	if err != nil {
		return &StoreError{Op: "update_field", Err: err}
	}
	if err := s.db.WithContext(ctx).Model(&models.Ticket{}).
		Where("id = ?", ticketID).Update("fields", string(b)).Error; err != nil {
		return &StoreError{Op: "update_field", Err: err}
	}

	s.recordHistory(ctx, ticketID, actorID, "field", fmt.Sprintf("%v", old), fmt.Sprintf("%v", value), nil, nil, fieldID)

	s.publish(ctx, Event{
		Type: EventFieldUpdated, TicketID: ticketID, ProcessID: ticket.ProcessID,
		Payload: map[string]interface{}{"field_id": fieldID, "value": value},
	})
	return nil
}

// AddComment 添加评论
func (s *TicketService) AddComment(ctx context.Context, ticketID uint, userID *uint, content, commentType string) (*models.TicketComment, error) {
	ticket, err := s.GetTicketByID(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	comment, err := s.addCommentRow(ctx, ticketID, userID, content, commentType)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, Event{Type: EventCommentAdded, TicketID: ticketID, ProcessID: ticket.ProcessID})
	return comment, nil
}

func (s *TicketService) addCommentRow(ctx context.Context, ticketID uint, userID *uint, content, commentType string) (*models.TicketComment, error) {
	if commentType == "" {
		commentType = "comment"
	}
	comment := &models.TicketComment{
		TicketID: ticketID,
		UserID:   userID,
		Content:  content,
		Type:     commentType,
	}
	if err := s.db.WithContext(ctx).Create(comment).Error; err != nil {
		return nil, &StoreError{Op: "add_comment", Err: err}
	}
	return comment, nil
}

// TicketAttributes 返回匹配器可见的工单字段快照。
// 自定义字段按 field_id 直接暴露，内置字段带 ticket. 前缀。
func TicketAttributes(t *models.Ticket) map[string]interface{} {
	attrs := map[string]interface{}{
		"ticket.title":    t.Title,
		"ticket.priority": t.Priority,
		"ticket.status":   t.Status,
		"ticket.tags":     t.Tags,
		"priority":        t.Priority,
		"status":          t.Status,
		"title":           t.Title,
	}
	if t.StageID != nil {
		attrs["ticket.stage_id"] = *t.StageID
		attrs["stage_id"] = *t.StageID
	}
	if t.AssigneeID != nil {
		attrs["ticket.assignee_id"] = *t.AssigneeID
		attrs["assignee_id"] = *t.AssigneeID
	}
	if t.Fields != "" {
		custom := map[string]interface{}{}
		if err := json.Unmarshal([]byte(t.Fields), &custom); err == nil {
			for k, v := range custom {
				attrs[k] = v
			}
		}
	}
	return attrs
}

func (s *TicketService) validateStage(ctx context.Context, processID, stageID uint) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Stage{}).
		Where("id = ? AND process_id = ?", stageID, processID).
		Count(&count).Error; err != nil {
		return &StoreError{Op: "validate_stage", Err: err}
	}
	if count == 0 {
		return &StoreError{Op: "validate_stage", Err: fmt.Errorf("stage %d does not belong to process %d", stageID, processID)}
	}
	return nil
}

func (s *TicketService) recordHistory(ctx context.Context, ticketID uint, userID *uint, kind, fromValue, toValue string, fromStage, toStage *uint, reason string) {
	entry := &models.TicketHistory{
		TicketID:  ticketID,
		UserID:    userID,
		Kind:      kind,
		FromValue: fromValue,
		ToValue:   toValue,
		FromStage: fromStage,
		ToStage:   toStage,
		Reason:    reason,
	}
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		s.logger.Errorf("Failed to record history for ticket %d: %v", ticketID, err)
	}
}

func (s *TicketService) publish(ctx context.Context, evt Event) {
	if s.events == nil || eventsSuppressed(ctx) {
		return
	}
	s.events.HandleEvent(ctx, evt)
}
