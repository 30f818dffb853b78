package models

import (
	"time"

	"gorm.io/gorm"
)

// 用户模型
type User struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	Username  string         `gorm:"unique;not null" json:"username"`
	Email     string         `gorm:"unique;not null" json:"email"`
	Name      string         `json:"name"`
	Role      string         `gorm:"default:'member'" json:"role"`   // member, manager, admin
	Status    string         `gorm:"default:'active'" json:"status"` // active, inactive
	LastLogin *time.Time     `json:"last_login"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// 流程模型：工单在其阶段之间流转
type Process struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	Name        string         `gorm:"not null" json:"name"`
	Description string         `gorm:"type:text" json:"description"`
	Color       string         `json:"color"`
	IsActive    bool           `gorm:"default:true" json:"is_active"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`

	Stages  []Stage  `gorm:"foreignKey:ProcessID" json:"stages,omitempty"`
	Tickets []Ticket `gorm:"foreignKey:ProcessID" json:"tickets,omitempty"`
}

// 阶段模型
type Stage struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	ProcessID uint      `gorm:"index" json:"process_id"`
	Name      string    `gorm:"not null" json:"name"`
	Position  int       `gorm:"default:0" json:"position"`
	IsFinal   bool      `gorm:"default:false" json:"is_final"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Process Process `gorm:"foreignKey:ProcessID" json:"process,omitempty"`
}

// 工单模型
type Ticket struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	Title       string         `gorm:"not null" json:"title"`
	Description string         `gorm:"type:text" json:"description"`
	ProcessID   uint           `gorm:"index" json:"process_id"`
	StageID     *uint          `gorm:"index" json:"stage_id"`
	AssigneeID  *uint          `gorm:"index" json:"assignee_id"`
	CreatedBy   *uint          `json:"created_by"`
	Priority    string         `gorm:"default:'medium'" json:"priority"` // low, medium, high, urgent
	Status      string         `gorm:"default:'open'" json:"status"`     // open, in_progress, completed, cancelled
	Fields      string         `gorm:"type:text" json:"fields"`          // JSON: map<field_id, value>
	Tags        string         `json:"tags"`
	DueDate     *time.Time     `json:"due_date"`
	CompletedAt *time.Time     `json:"completed_at"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`

	Process       Process         `gorm:"foreignKey:ProcessID" json:"process,omitempty"`
	Stage         *Stage          `gorm:"foreignKey:StageID" json:"stage,omitempty"`
	Assignee      *User           `gorm:"foreignKey:AssigneeID" json:"assignee,omitempty"`
	Comments      []TicketComment `gorm:"foreignKey:TicketID" json:"comments,omitempty"`
	StatusHistory []TicketHistory `gorm:"foreignKey:TicketID" json:"status_history,omitempty"`
}

// 工单评论
type TicketComment struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	TicketID  uint      `gorm:"index" json:"ticket_id"`
	UserID    *uint     `gorm:"index" json:"user_id"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	Type      string    `gorm:"default:'comment'" json:"type"` // comment, system, automation
	CreatedAt time.Time `json:"created_at"`

	Ticket Ticket `gorm:"foreignKey:TicketID" json:"ticket,omitempty"`
	User   *User  `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

// 工单流转历史
type TicketHistory struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	TicketID  uint      `gorm:"index" json:"ticket_id"`
	UserID    *uint     `gorm:"index" json:"user_id"`
	FromStage *uint     `json:"from_stage"`
	ToStage   *uint     `json:"to_stage"`
	FromValue string    `json:"from_value"`
	ToValue   string    `json:"to_value"`
	Kind      string    `json:"kind"` // stage, status, assignee, field
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`

	Ticket Ticket `gorm:"foreignKey:TicketID" json:"ticket,omitempty"`
	User   *User  `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

// 站内通知
type Notification struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    *uint     `gorm:"index" json:"user_id"`
	TicketID  *uint     `gorm:"index" json:"ticket_id"`
	Type      string    `gorm:"default:'info'" json:"type"` // info, warning, automation
	Title     string    `json:"title"`
	Message   string    `gorm:"type:text" json:"message"`
	Read      bool      `gorm:"default:false" json:"read"`
	CreatedAt time.Time `json:"created_at"`
}
