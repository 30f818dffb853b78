package models

import "time"

// AutomationRule 自动化规则：触发器 + 有序动作列表
type AutomationRule struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	Name           string    `gorm:"not null" json:"name"`
	Description    string    `gorm:"type:text" json:"description"`
	ProcessID      uint      `gorm:"index" json:"process_id"`
	TriggerEvent   string    `gorm:"not null;index" json:"trigger_event"` // stage_changed, field_updated, ticket_created, ticket_assigned, overdue, comment_added, due_date_approaching, completed
	TriggerStageID *uint     `json:"trigger_stage_id"`
	TriggerFieldID string    `json:"trigger_field_id"`
	Conditions     string    `gorm:"type:text" json:"conditions"` // JSON: [{field_id,operator,value}]
	Actions        string    `gorm:"type:text" json:"actions"`    // JSON: [{type,parameters}]
	IsActive       bool      `gorm:"default:true" json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`

	Process Process `gorm:"foreignKey:ProcessID" json:"process,omitempty"`
}

// AutomationExecution 执行记录，只追加不修改
type AutomationExecution struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	RuleID        uint      `gorm:"index" json:"rule_id"`
	TicketID      uint      `gorm:"index" json:"ticket_id"`
	Status        string    `gorm:"index" json:"status"` // success, failed, pending
	ExecutedBy    *uint     `json:"executed_by"`         // nil = 自动触发
	ExecutionData string    `gorm:"type:text" json:"execution_data"` // JSON: per-action outcomes
	ExecutedAt    time.Time `json:"executed_at"`
	CreatedAt     time.Time `json:"created_at"`

	Rule   AutomationRule `gorm:"foreignKey:RuleID" json:"rule,omitempty"`
	Ticket Ticket         `gorm:"foreignKey:TicketID" json:"ticket,omitempty"`
}
