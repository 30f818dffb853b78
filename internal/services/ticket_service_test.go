package services

import (
	"context"
	"errors"
	"testing"

	"pipeflow/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

func newTicketFixture(t *testing.T) (*gorm.DB, *TicketService, *models.Process) {
	t.Helper()
	db := newTestDB(t)
	svc := NewTicketService(db, logrus.New())
	process := seedProcess(t, db)
	return db, svc, process
}

func TestTicketService_CreateTicket(t *testing.T) {
	db, svc, process := newTicketFixture(t)
	ctx := context.Background()

	ticket, err := svc.CreateTicket(ctx, &TicketCreateRequest{
		Title:     "登录异常",
		ProcessID: process.ID,
		Fields:    map[string]interface{}{"customer": "acme"},
	})
	if err != nil {
		t.Fatalf("CreateTicket failed: %v", err)
	}
	if ticket.Status != "open" {
		t.Errorf("status = %s, want open", ticket.Status)
	}
	if ticket.Priority != "medium" {
		t.Errorf("priority = %s, want medium default", ticket.Priority)
	}
	// 默认进入第一个阶段
	if ticket.StageID == nil {
		t.Fatal("ticket should land in the first stage")
	}
	var stage models.Stage
	if err := db.First(&stage, *ticket.StageID).Error; err != nil {
		t.Fatalf("load stage: %v", err)
	}
	if stage.Position != 0 {
		t.Errorf("stage position = %d, want 0", stage.Position)
	}

	// 历史记录
	var history int64
	db.Model(&models.TicketHistory{}).Where("ticket_id = ?", ticket.ID).Count(&history)
	if history != 1 {
		t.Errorf("history entries = %d, want 1", history)
	}
}

func TestTicketService_CreateTicket_UnknownProcess(t *testing.T) {
	_, svc, _ := newTicketFixture(t)

	_, err := svc.CreateTicket(context.Background(), &TicketCreateRequest{
		Title:     "孤儿工单",
		ProcessID: 9999,
	})
	if err == nil {
		t.Fatal("expected error for unknown process")
	}
	var se *StoreError
	if !errors.As(err, &se) {
		t.Fatalf("expected StoreError, got %T", err)
	}
}

func TestTicketService_MoveStage_FinalCompletes(t *testing.T) {
	db, svc, process := newTicketFixture(t)
	ctx := context.Background()

	ticket, err := svc.CreateTicket(ctx, &TicketCreateRequest{
		Title: "流转", ProcessID: process.ID,
	})
	if err != nil {
		t.Fatalf("CreateTicket failed: %v", err)
	}

	var finalStage models.Stage
	if err := db.Where("process_id = ? AND is_final = ?", process.ID, true).First(&finalStage).Error; err != nil {
		t.Fatalf("load final stage: %v", err)
	}

	if err := svc.MoveStage(ctx, ticket.ID, finalStage.ID, "done", nil); err != nil {
		t.Fatalf("MoveStage failed: %v", err)
	}

	reloaded, err := svc.GetTicketByID(ctx, ticket.ID)
	if err != nil {
		t.Fatalf("GetTicketByID failed: %v", err)
	}
	if reloaded.Status != "completed" {
		t.Errorf("status = %s, want completed", reloaded.Status)
	}
	if reloaded.CompletedAt == nil {
		t.Error("completed_at should be set")
	}
	// 带注释的移动生成系统评论
	var comments int64
	db.Model(&models.TicketComment{}).Where("ticket_id = ? AND type = ?", ticket.ID, "system").Count(&comments)
	if comments != 1 {
		t.Errorf("system comments = %d, want 1", comments)
	}
}

func TestTicketService_MoveStage_RejectsForeignStage(t *testing.T) {
	db, svc, process := newTicketFixture(t)
	ctx := context.Background()

	other := seedProcess(t, db)
	var foreign models.Stage
	if err := db.Where("process_id = ?", other.ID).First(&foreign).Error; err != nil {
		t.Fatalf("load foreign stage: %v", err)
	}

	ticket, _ := svc.CreateTicket(ctx, &TicketCreateRequest{Title: "a", ProcessID: process.ID})
	if err := svc.MoveStage(ctx, ticket.ID, foreign.ID, "", nil); err == nil {
		t.Fatal("moving to a stage of another process should fail")
	}
}

func TestTicketService_UpdateField_MergesJSON(t *testing.T) {
	_, svc, process := newTicketFixture(t)
	ctx := context.Background()

	ticket, _ := svc.CreateTicket(ctx, &TicketCreateRequest{
		Title: "字段", ProcessID: process.ID,
		Fields: map[string]interface{}{"a": "1"},
	})

	if err := svc.UpdateField(ctx, ticket.ID, "b", "2", nil); err != nil {
		t.Fatalf("UpdateField failed: %v", err)
	}

	reloaded, _ := svc.GetTicketByID(ctx, ticket.ID)
	attrs := TicketAttributes(reloaded)
	if attrs["a"] != "1" || attrs["b"] != "2" {
		t.Errorf("attrs = %v, want both a and b", attrs)
	}
}

func TestTicketService_Assign_UnknownUser(t *testing.T) {
	_, svc, process := newTicketFixture(t)
	ctx := context.Background()

	ticket, _ := svc.CreateTicket(ctx, &TicketCreateRequest{Title: "a", ProcessID: process.ID})
	if err := svc.Assign(ctx, ticket.ID, 42, nil); err == nil {
		t.Fatal("assigning to unknown user should fail")
	}
}

func TestTicketAttributes(t *testing.T) {
	stage := uint(2)
	ticket := &models.Ticket{
		Title:    "标题",
		Priority: "high",
		Status:   "open",
		StageID:  &stage,
		Fields:   `{"amount": 12.5}`,
	}
	attrs := TicketAttributes(ticket)

	if attrs["ticket.priority"] != "high" || attrs["priority"] != "high" {
		t.Errorf("priority missing: %v", attrs)
	}
	if attrs["ticket.stage_id"] != stage {
		t.Errorf("stage_id = %v, want %d", attrs["ticket.stage_id"], stage)
	}
	if attrs["amount"] != 12.5 {
		t.Errorf("custom field amount = %v, want 12.5", attrs["amount"])
	}
}

type recordingHandler struct {
	events []Event
}

func (h *recordingHandler) HandleEvent(ctx context.Context, evt Event) {
	h.events = append(h.events, evt)
}

func TestTicketService_SuppressedContextPublishesNothing(t *testing.T) {
	_, svc, process := newTicketFixture(t)
	handler := &recordingHandler{}
	svc.SetEventHandler(handler)

	if _, err := svc.CreateTicket(SuppressEvents(context.Background()), &TicketCreateRequest{
		Title: "静默", ProcessID: process.ID,
	}); err != nil {
		t.Fatalf("CreateTicket failed: %v", err)
	}
	if len(handler.events) != 0 {
		t.Errorf("suppressed context published %d events", len(handler.events))
	}

	if _, err := svc.CreateTicket(context.Background(), &TicketCreateRequest{
		Title: "正常", ProcessID: process.ID,
	}); err != nil {
		t.Fatalf("CreateTicket failed: %v", err)
	}
	if len(handler.events) != 1 || handler.events[0].Type != EventTicketCreated {
		t.Errorf("events = %+v, want one ticket_created", handler.events)
	}
}
