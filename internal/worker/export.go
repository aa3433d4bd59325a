package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
	"swarmd/internal/event"
	"swarmd/internal/store"
	"swarmd/internal/task"
)

// userExport is the portable snapshot of one user's data.
type userExport struct {
	UserID        string               `json:"user_id"`
	ExportedAt    time.Time            `json:"exported_at"`
	Swarms        []store.Swarm        `json:"swarms,omitempty"`
	Runs          []store.Run          `json:"runs,omitempty"`
	Notifications []store.Notification `json:"notifications,omitempty"`
}

// handleExport snapshots the user's swarms, runs, and notifications into a
// zstd-compressed JSON file under the export directory.
func (h *Handlers) handleExport(_ context.Context, userID string, p *task.ExportUserDataPayload) error {
	swarms, err := h.store.GetSwarmsByUser(userID)
	if err != nil {
		return fmt.Errorf("load swarms: %w", err)
	}

	exp := userExport{
		UserID:     userID,
		ExportedAt: time.Now().UTC(),
		Swarms:     swarms,
	}
	for _, sw := range swarms {
		runs, err := h.store.ListRunsForSwarm(sw.ID)
		if err != nil {
			return fmt.Errorf("load runs for swarm %s: %w", sw.ID, err)
		}
		exp.Runs = append(exp.Runs, runs...)
	}

	notifications, err := h.store.ListNotifications(userID, 1000)
	if err != nil {
		return fmt.Errorf("load notifications: %w", err)
	}
	exp.Notifications = notifications

	if err := os.MkdirAll(h.exportDir, 0o755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}

	path := filepath.Join(h.exportDir, p.RequestID+".json.zst")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create export file: %w", err)
	}
	defer f.Close()

	zw, err := zstd.NewWriter(f)
	if err != nil {
		return fmt.Errorf("create zstd writer: %w", err)
	}
	if err := json.NewEncoder(zw).Encode(exp); err != nil {
		zw.Close()
		return fmt.Errorf("write export: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finish export: %w", err)
	}

	h.emit(event.New("export.completed", "worker", p.RequestID, map[string]any{
		"request_id": p.RequestID,
		"user_id":    userID,
		"path":       path,
	}))
	slog.Info("user data exported", "user", userID, "path", path)
	return nil
}

// handleImport restores a previously exported snapshot. Existing rows win:
// swarm and run inserts are skipped when the id is already present.
func (h *Handlers) handleImport(_ context.Context, userID string, p *task.ImportUserDataPayload) error {
	f, err := os.Open(p.Source)
	if err != nil {
		return fmt.Errorf("open import file: %w", err)
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return fmt.Errorf("create zstd reader: %w", err)
	}
	defer zr.Close()

	var exp userExport
	if err := json.NewDecoder(zr).Decode(&exp); err != nil {
		return fmt.Errorf("decode import: %w", err)
	}

	imported := 0
	for i := range exp.Swarms {
		sw := exp.Swarms[i]
		existing, err := h.store.GetSwarm(sw.ID)
		if err != nil {
			return fmt.Errorf("check swarm %s: %w", sw.ID, err)
		}
		if existing != nil {
			continue
		}
		sw.UserID = userID
		if err := h.store.CreateSwarm(&sw); err != nil {
			return fmt.Errorf("import swarm %s: %w", sw.ID, err)
		}
		imported++
	}

	for i := range exp.Runs {
		r := exp.Runs[i]
		existing, err := h.store.GetRun(r.ID)
		if err != nil {
			return fmt.Errorf("check run %s: %w", r.ID, err)
		}
		if existing != nil {
			continue
		}
		r.UserID = userID
		if err := h.store.SaveRun(&r); err != nil {
			return fmt.Errorf("import run %s: %w", r.ID, err)
		}
		imported++
	}

	h.emit(event.New("import.completed", "worker", p.RequestID, map[string]any{
		"request_id": p.RequestID,
		"user_id":    userID,
		"rows":       imported,
	}))
	slog.Info("user data imported", "user", userID, "rows", imported)
	return nil
}
