package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"swarmd/internal/config"
	"swarmd/internal/store"
)

func newTestNotifier(t *testing.T, cfg config.NotifyConfig) (*Notifier, *store.Store) {
	t.Helper()
	st, err := store.New(config.StoreConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	n, err := New(st, cfg)
	if err != nil {
		t.Fatalf("notifier: %v", err)
	}
	return n, st
}

func TestSMSDeliversAndRecords(t *testing.T) {
	var received map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n, st := newTestNotifier(t, config.NotifyConfig{SMSWebhookURL: srv.URL})

	if err := n.SMS(context.Background(), "u1", "+15550001111", "your run finished"); err != nil {
		t.Fatalf("sms: %v", err)
	}
	if received["to"] != "+15550001111" || received["body"] != "your run finished" {
		t.Errorf("unexpected webhook payload: %v", received)
	}

	list, _ := st.ListNotifications("u1", 10)
	if len(list) != 1 || list[0].Channel != "sms" || !list[0].Delivered {
		t.Errorf("unexpected notification record: %+v", list)
	}
}

func TestSMSWebhookFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n, st := newTestNotifier(t, config.NotifyConfig{SMSWebhookURL: srv.URL})

	if err := n.SMS(context.Background(), "u1", "+15550001111", "x"); err == nil {
		t.Fatal("expected error on webhook failure")
	}

	// Failed deliveries leave no record
	list, _ := st.ListNotifications("u1", 10)
	if len(list) != 0 {
		t.Errorf("expected no notification records, got %d", len(list))
	}
}

func TestUnconfiguredChannels(t *testing.T) {
	n, _ := newTestNotifier(t, config.NotifyConfig{})

	if err := n.SMS(context.Background(), "u1", "+1", "x"); err == nil {
		t.Error("expected error without sms webhook")
	}
	if err := n.Email(context.Background(), "u1", []string{"a@b"}, "s", "b"); err == nil {
		t.Error("expected error without smtp")
	}
	if err := n.Push(context.Background(), "u1", 1, "t", "b"); err == nil {
		t.Error("expected error without telegram")
	}
}

func TestCreateInAppNotification(t *testing.T) {
	n, st := newTestNotifier(t, config.NotifyConfig{})

	if err := n.Create("u1", "inapp", "heads up", "swarm paused"); err != nil {
		t.Fatalf("create: %v", err)
	}

	list, _ := st.ListNotifications("u1", 10)
	if len(list) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(list))
	}
	if list[0].Delivered {
		t.Error("in-app notifications start undelivered")
	}
	if list[0].Title != "heads up" {
		t.Errorf("unexpected title %q", list[0].Title)
	}
}
