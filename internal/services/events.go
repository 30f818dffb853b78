package services

import "context"

// 工单领域事件类型
const (
	EventTicketCreated      = "ticket_created"
	EventStageChanged       = "stage_changed"
	EventFieldUpdated       = "field_updated"
	EventTicketAssigned     = "ticket_assigned"
	EventOverdue            = "overdue"
	EventCommentAdded       = "comment_added"
	EventDueDateApproaching = "due_date_approaching"
	EventCompleted          = "completed"
)

// Event 工单生命周期事件
type Event struct {
	Type      string                 `json:"type"`
	TicketID  uint                   `json:"ticket_id"`
	ProcessID uint                   `json:"process_id"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// EventHandler receives ticket domain events. The automation engine
// implements it; the ticket store publishes to it.
type EventHandler interface {
	HandleEvent(ctx context.Context, evt Event)
}

// IsSupportedEvent reports whether an event type can be bound to an
// automation trigger.
func IsSupportedEvent(event string) bool {
	switch event {
	case EventTicketCreated, EventStageChanged, EventFieldUpdated,
		EventTicketAssigned, EventOverdue, EventCommentAdded,
		EventDueDateApproaching, EventCompleted:
		return true
	default:
		return false
	}
}

type suppressEventsKey struct{}

// SuppressEvents marks the context so ticket mutations do not publish
// domain events. Automation actions run under this to keep one rule's
// side effects from re-triggering the engine.
func SuppressEvents(ctx context.Context) context.Context {
	return context.WithValue(ctx, suppressEventsKey{}, true)
}

func eventsSuppressed(ctx context.Context) bool {
	v, _ := ctx.Value(suppressEventsKey{}).(bool)
	return v
}
