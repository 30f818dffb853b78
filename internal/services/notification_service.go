package services

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"pipeflow/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// NotificationService 通知接收端：入库 + WebSocket 广播。
// 发送失败不会传播到引擎之外，由调用方按动作级失败记录。
type NotificationService struct {
	db     *gorm.DB
	logger *logrus.Logger
	hub    *WebSocketHub
}

func NewNotificationService(db *gorm.DB, logger *logrus.Logger, hub *WebSocketHub) *NotificationService {
	if logger == nil {
		logger = logrus.New()
	}
	return &NotificationService{db: db, logger: logger, hub: hub}
}

// Notify persists an in-app notification and pushes it to connected
// console clients.
func (s *NotificationService) Notify(ctx context.Context, n *models.Notification) error {
	if n.Title == "" && n.Message == "" {
		return fmt.Errorf("notification requires a title or message")
	}
	if n.Type == "" {
		n.Type = "info"
	}
	if err := s.db.WithContext(ctx).Create(n).Error; err != nil {
		return fmt.Errorf("failed to store notification: %w", err)
	}
	if s.hub != nil {
		s.hub.Broadcast(WebSocketMessage{Type: "notification", Data: n})
	}
	s.logger.Infof("Notification %d dispatched: %s", n.ID, n.Title)
	return nil
}

// ListNotifications 按用户列出通知
func (s *NotificationService) ListNotifications(ctx context.Context, userID *uint, unreadOnly bool) ([]models.Notification, error) {
	query := s.db.WithContext(ctx).Model(&models.Notification{}).Order("id DESC").Limit(200)
	if userID != nil {
		query = query.Where("user_id = ? OR user_id IS NULL", *userID)
	}
	if unreadOnly {
		query = query.Where("read = ?", false)
	}
	var notifications []models.Notification
	if err := query.Find(&notifications).Error; err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	return notifications, nil
}

// MarkRead 标记已读
func (s *NotificationService) MarkRead(ctx context.Context, id uint) error {
	result := s.db.WithContext(ctx).Model(&models.Notification{}).Where("id = ?", id).Update("read", true)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("notification not found")
	}
	return nil
}

// EmailSender 邮件发送端
type EmailSender interface {
	SendEmail(ctx context.Context, to []string, subject, body string) error
}

// SMTPConfig SMTP 发送配置
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type smtpSender struct {
	cfg    SMTPConfig
	logger *logrus.Logger
}

// NewSMTPSender 基于 net/smtp 的发送端
func NewSMTPSender(cfg SMTPConfig, logger *logrus.Logger) EmailSender {
	if logger == nil {
		logger = logrus.New()
	}
	return &smtpSender{cfg: cfg, logger: logger}
}

func (s *smtpSender) SendEmail(ctx context.Context, to []string, subject, body string) error {
	if len(to) == 0 {
		return fmt.Errorf("email requires at least one recipient")
	}
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	msg := strings.Join([]string{
		"From: " + s.cfg.From,
		"To: " + strings.Join(to, ", "),
		"Subject: " + subject,
		"",
		body,
	}, "\r\n")

	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	if err := smtp.SendMail(addr, auth, s.cfg.From, to, []byte(msg)); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	s.logger.Infof("Email sent to %s: %s", strings.Join(to, ","), subject)
	return nil
}

type logEmailSender struct {
	logger *logrus.Logger
}

// NewLogEmailSender 未配置 SMTP 时的降级发送端，只记日志。
func NewLogEmailSender(logger *logrus.Logger) EmailSender {
	if logger == nil {
		logger = logrus.New()
	}
	return &logEmailSender{logger: logger}
}

func (s *logEmailSender) SendEmail(ctx context.Context, to []string, subject, body string) error {
	s.logger.Infof("email (log only) to=%s subject=%s", strings.Join(to, ","), subject)
	return nil
}
