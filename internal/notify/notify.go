package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"github.com/google/uuid"
	"swarmd/internal/config"
	"swarmd/internal/store"
)

// Notifier fans task-driven notifications out to their channels and records
// every delivery attempt as a notification row.
type Notifier struct {
	store    *store.Store
	telegram *TelegramSender
	cfg      config.NotifyConfig
	http     *http.Client
}

func New(st *store.Store, cfg config.NotifyConfig) (*Notifier, error) {
	n := &Notifier{
		store: st,
		cfg:   cfg,
		http:  &http.Client{Timeout: 30 * time.Second},
	}

	if cfg.TelegramToken != "" {
		tg, err := NewTelegramSender(cfg.TelegramToken, cfg.AllowFrom)
		if err != nil {
			return nil, err
		}
		n.telegram = tg
	}

	return n, nil
}

// Push sends via Telegram and records the notification.
func (n *Notifier) Push(ctx context.Context, userID string, chatID int64, title, body string) error {
	if n.telegram == nil {
		return fmt.Errorf("telegram is not configured")
	}

	text := body
	if title != "" {
		text = title + "\n\n" + body
	}
	if err := n.telegram.Send(ctx, chatID, text); err != nil {
		return err
	}
	return n.record(userID, "push", title, body, true)
}

// Email delivers through the configured SMTP relay.
func (n *Notifier) Email(ctx context.Context, userID string, to []string, subject, body string) error {
	if n.cfg.SMTPAddr == "" {
		return fmt.Errorf("smtp is not configured")
	}

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n",
		n.cfg.SMTPFrom, strings.Join(to, ", "), subject, body)
	if err := smtp.SendMail(n.cfg.SMTPAddr, nil, n.cfg.SMTPFrom, to, []byte(msg)); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return n.record(userID, "email", subject, body, true)
}

// SMS posts to the configured delivery webhook.
func (n *Notifier) SMS(ctx context.Context, userID, to, body string) error {
	if n.cfg.SMSWebhookURL == "" {
		return fmt.Errorf("sms webhook is not configured")
	}

	payload, err := json.Marshal(map[string]string{"to": to, "body": body})
	if err != nil {
		return fmt.Errorf("marshal sms payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.SMSWebhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.http.Do(req)
	if err != nil {
		return fmt.Errorf("post sms webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("sms webhook returned %d", resp.StatusCode)
	}
	return n.record(userID, "sms", "", body, true)
}

// Create persists an in-app notification without delivering anywhere.
func (n *Notifier) Create(userID, channel, title, body string) error {
	return n.record(userID, channel, title, body, false)
}

func (n *Notifier) record(userID, channel, title, body string, delivered bool) error {
	return n.store.SaveNotification(&store.Notification{
		ID:        uuid.New().String(),
		UserID:    userID,
		Channel:   channel,
		Title:     title,
		Body:      body,
		Delivered: delivered,
	})
}
