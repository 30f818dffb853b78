package services

import (
	"context"
	"testing"

	"pipeflow/internal/models"

	"github.com/sirupsen/logrus"
)

func TestNotificationService_Notify(t *testing.T) {
	db := newTestDB(t)
	svc := NewNotificationService(db, logrus.New(), nil)
	ctx := context.Background()

	userID := uint(3)
	n := &models.Notification{
		UserID:  &userID,
		Title:   "工单升级",
		Message: "ticket 12 moved to escalation",
	}
	if err := svc.Notify(ctx, n); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}
	if n.ID == 0 {
		t.Error("notification should be persisted with an ID")
	}
	if n.Type != "info" {
		t.Errorf("type = %s, want info default", n.Type)
	}

	if err := svc.Notify(ctx, &models.Notification{}); err == nil {
		t.Error("empty notification should be rejected")
	}
}

func TestNotificationService_ListFilters(t *testing.T) {
	db := newTestDB(t)
	svc := NewNotificationService(db, logrus.New(), nil)
	ctx := context.Background()

	userA, userB := uint(1), uint(2)
	svc.Notify(ctx, &models.Notification{UserID: &userA, Title: "a1"})
	svc.Notify(ctx, &models.Notification{UserID: &userB, Title: "b1"})
	svc.Notify(ctx, &models.Notification{Title: "broadcast"}) // 无用户，所有人可见

	forA, err := svc.ListNotifications(ctx, &userA, false)
	if err != nil {
		t.Fatalf("ListNotifications failed: %v", err)
	}
	if len(forA) != 2 {
		t.Errorf("user A sees %d notifications, want 2 (own + broadcast)", len(forA))
	}

	all, _ := svc.ListNotifications(ctx, nil, false)
	if len(all) != 3 {
		t.Errorf("unfiltered list = %d, want 3", len(all))
	}
}

func TestNotificationService_MarkRead(t *testing.T) {
	db := newTestDB(t)
	svc := NewNotificationService(db, logrus.New(), nil)
	ctx := context.Background()

	n := &models.Notification{Title: "to read"}
	svc.Notify(ctx, n)

	if err := svc.MarkRead(ctx, n.ID); err != nil {
		t.Fatalf("MarkRead failed: %v", err)
	}
	unread, _ := svc.ListNotifications(ctx, nil, true)
	if len(unread) != 0 {
		t.Errorf("unread = %d, want 0", len(unread))
	}

	if err := svc.MarkRead(ctx, 9999); err == nil {
		t.Error("marking a missing notification should fail")
	}
}

func TestLogEmailSender(t *testing.T) {
	sender := NewLogEmailSender(logrus.New())
	if err := sender.SendEmail(context.Background(), []string{"ops@example.com"}, "subject", "body"); err != nil {
		t.Errorf("log sender should never fail: %v", err)
	}
}
