package template

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// TemplateData 周期规则的工单模板
type TemplateData struct {
	Title       string                 `json:"title"`
	Description string                 `json:"description"`
	Priority    string                 `json:"priority"`
	Data        map[string]interface{} `json:"data,omitempty"`
}

// TicketInput is the rendered ticket-creation payload.
type TicketInput struct {
	Title       string
	Description string
	Priority    string
	Data        map[string]interface{}
}

// Context carries the reference instant used for date tokens.
type Context struct {
	Now      time.Time
	Location *time.Location
}

var tokenPattern = regexp.MustCompile(`\{\{([a-zA-Z0-9_.]+)\}\}`)

// Render substitutes the supported {{token}} placeholders into s.
// Unknown tokens are left verbatim so a template author's typo never
// breaks ticket generation.
func Render(s string, ctx Context) string {
	if s == "" {
		return s
	}
	now := ctx.Now
	if ctx.Location != nil {
		now = now.In(ctx.Location)
	}
	return tokenPattern.ReplaceAllStringFunc(s, func(m string) string {
		token := strings.Trim(m, "{}")
		switch token {
		case "current_month":
			return now.Month().String()
		case "current_year":
			return fmt.Sprintf("%04d", now.Year())
		case "current_date":
			return now.Format("2006-01-02")
		case "week_number":
			_, week := now.ISOWeek()
			return fmt.Sprintf("%d", week)
		default:
			return m
		}
	})
}

// RenderFields substitutes dotted-path values ({{ticket.title}} style)
// from the given attribute map, then date tokens. Used for automation
// notification/email parameters.
func RenderFields(s string, attrs map[string]interface{}, ctx Context) string {
	if s == "" {
		return s
	}
	s = tokenPattern.ReplaceAllStringFunc(s, func(m string) string {
		token := strings.Trim(m, "{}")
		if v, ok := attrs[token]; ok {
			return fmt.Sprintf("%v", v)
		}
		return m
	})
	return Render(s, ctx)
}

// ParseTemplateData decodes a stored JSON template. Empty input yields
// nil without error; the caller falls back to the rule name.
func ParseTemplateData(raw string) (*TemplateData, error) {
	if raw == "" || raw == "null" {
		return nil, nil
	}
	var tpl TemplateData
	if err := json.Unmarshal([]byte(raw), &tpl); err != nil {
		return nil, fmt.Errorf("parse template data: %w", err)
	}
	return &tpl, nil
}

// RenderTicket produces the ticket-creation input for a recurring rule.
// A missing template falls back to the rule name as title so a rule can
// never fail to produce a creatable payload.
func RenderTicket(tpl *TemplateData, ruleName string, ctx Context) TicketInput {
	if tpl == nil {
		return TicketInput{Title: ruleName, Priority: "medium"}
	}
	title := Render(tpl.Title, ctx)
	if title == "" {
		title = ruleName
	}
	priority := tpl.Priority
	if priority == "" {
		priority = "medium"
	}
	return TicketInput{
		Title:       title,
		Description: Render(tpl.Description, ctx),
		Priority:    priority,
		Data:        tpl.Data,
	}
}
