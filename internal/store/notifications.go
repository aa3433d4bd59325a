package store

import (
	"fmt"
	"time"
)

type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Channel   string    `json:"channel"`
	Title     string    `json:"title,omitempty"`
	Body      string    `json:"body"`
	Delivered bool      `json:"delivered"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Store) SaveNotification(n *Notification) error {
	_, err := s.db.Exec(`
		INSERT INTO notifications (id, user_id, channel, title, body, delivered)
		VALUES (?, ?, ?, ?, ?, ?)`,
		n.ID, n.UserID, n.Channel, n.Title, n.Body, n.Delivered)
	if err != nil {
		return fmt.Errorf("save notification: %w", err)
	}
	return nil
}

func (s *Store) MarkNotificationDelivered(id string) error {
	_, err := s.db.Exec(`UPDATE notifications SET delivered = TRUE WHERE id = ?`, id)
	return err
}

func (s *Store) ListNotifications(userID string, limit int) ([]Notification, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, channel, title, body, delivered, created_at
		FROM notifications WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		var n Notification
		var title *string
		if err := rows.Scan(&n.ID, &n.UserID, &n.Channel, &title, &n.Body, &n.Delivered, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		if title != nil {
			n.Title = *title
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
