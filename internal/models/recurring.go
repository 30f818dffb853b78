package models

import "time"

// RecurringRule 周期性工单规则
// TemplateData 与 ScheduleConfig 以 JSON 文本存储，执行时解析。
type RecurringRule struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	Name           string     `gorm:"not null" json:"name"`
	Description    string     `gorm:"type:text" json:"description"`
	ProcessID      uint       `gorm:"index" json:"process_id"`
	TemplateData   string     `gorm:"type:text" json:"template_data"`  // JSON: {title, description, priority, data}
	ScheduleType   string     `gorm:"not null" json:"schedule_type"`   // daily, weekly, monthly, yearly, custom
	ScheduleConfig string     `gorm:"type:text" json:"schedule_config"` // JSON: {interval_minutes, time_of_day, day_of_month, days_of_week}
	Timezone       string     `gorm:"default:'Asia/Riyadh'" json:"timezone"`
	IsActive       bool       `gorm:"default:true" json:"is_active"`
	NextExecution  time.Time  `gorm:"index" json:"next_execution"`
	LastExecuted   *time.Time `json:"last_executed"`
	ExecutionCount int        `gorm:"default:0" json:"execution_count"`
	MaxExecutions  *int       `json:"max_executions"` // nil = unlimited
	Version        int        `gorm:"default:0" json:"-"` // optimistic concurrency guard
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`

	Process Process `gorm:"foreignKey:ProcessID" json:"process,omitempty"`
}
