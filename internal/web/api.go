package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"swarmd/internal/run"
	"swarmd/internal/store"
	"swarmd/internal/swarm"
	"swarmd/internal/task"
)

func (s *Server) registerAPI(mux *http.ServeMux) {
	// Swarms
	mux.HandleFunc("GET /api/swarms", s.listSwarms)
	mux.HandleFunc("POST /api/swarms", s.createSwarm)
	mux.HandleFunc("GET /api/swarms/{id}", s.getSwarm)
	mux.HandleFunc("DELETE /api/swarms/{id}", s.deleteSwarm)
	mux.HandleFunc("GET /api/swarms/{id}/status", s.getSwarmStatus)
	mux.HandleFunc("GET /api/swarms/{id}/runs", s.listSwarmRuns)
	mux.HandleFunc("POST /api/swarms/{id}/start", s.startSwarm)
	mux.HandleFunc("POST /api/swarms/{id}/pause", s.pauseSwarm)
	mux.HandleFunc("POST /api/swarms/{id}/resume", s.resumeSwarm)
	mux.HandleFunc("POST /api/swarms/{id}/cancel", s.cancelSwarm)

	// Routines and runs
	mux.HandleFunc("POST /api/routines", s.createRoutineVersion)
	mux.HandleFunc("GET /api/routines/{id}", s.getRoutineVersion)
	mux.HandleFunc("POST /api/runs", s.createRun)
	mux.HandleFunc("GET /api/runs/{id}", s.getRun)
	mux.HandleFunc("GET /api/runs/{id}/status", s.getRunStatus)

	// Task queue
	mux.HandleFunc("POST /api/tasks", s.enqueueTask)
	mux.HandleFunc("GET /api/tasks/{id}", s.getTask)
	mux.HandleFunc("POST /api/tasks/check", s.checkTasks)
	mux.HandleFunc("POST /api/tasks/{id}/cancel", s.cancelTask)

	// Circuit breakers
	mux.HandleFunc("GET /api/breakers", s.listBreakers)
	mux.HandleFunc("DELETE /api/breakers/{service}/{operation}", s.removeBreaker)

	// Secrets
	mux.HandleFunc("POST /api/secrets", s.createSecret)
	mux.HandleFunc("DELETE /api/secrets/{name}", s.deleteSecret)

	// Notifications
	mux.HandleFunc("GET /api/notifications", s.listNotifications)

	// System
	mux.HandleFunc("GET /api/status", s.getStatus)
}

func (s *Server) listSwarms(w http.ResponseWriter, r *http.Request) {
	var (
		swarms []store.Swarm
		err    error
	)
	switch {
	case r.URL.Query().Get("state") != "":
		swarms, err = s.store.GetSwarmsByState(r.URL.Query().Get("state"))
	case r.URL.Query().Get("user") != "":
		swarms, err = s.store.GetSwarmsByUser(r.URL.Query().Get("user"))
	default:
		swarms, err = s.store.ListActiveSwarms()
	}
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, swarms)
}

func (s *Server) createSwarm(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name   string            `json:"name"`
		UserID string            `json:"user_id"`
		Config store.SwarmConfig `json:"config"`
		Tags   []string          `json:"tags,omitempty"`
		Start  bool              `json:"start,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Name == "" || body.Config.Goal == "" {
		jsonError(w, "name and config.goal are required", http.StatusBadRequest)
		return
	}

	sw := &store.Swarm{
		ID:     uuid.New().String(),
		Name:   body.Name,
		UserID: body.UserID,
		Config: body.Config,
		Metadata: store.SwarmMetadata{
			UserID:        body.UserID,
			SchemaVersion: 1,
			Tags:          body.Tags,
		},
	}
	if err := s.store.CreateSwarm(sw); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	// Optionally kick off execution through the queue so startup survives a
	// process restart.
	if body.Start {
		if err := s.enqueueSwarmExecution(sw.ID, body.UserID); err != nil {
			jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}

	jsonResponse(w, sw)
}

func (s *Server) enqueueSwarmExecution(swarmID, userID string) error {
	payload, err := json.Marshal(task.SwarmExecutionPayload{SwarmID: swarmID})
	if err != nil {
		return err
	}
	_, err = s.queue.Enqueue(task.Envelope{
		Kind:    task.KindSwarmExecution,
		UserID:  userID,
		Payload: payload,
	})
	return err
}

func (s *Server) getSwarm(w http.ResponseWriter, r *http.Request) {
	sw, err := s.store.GetSwarm(r.PathValue("id"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if sw == nil {
		jsonError(w, "swarm not found", http.StatusNotFound)
		return
	}
	jsonResponse(w, sw)
}

func (s *Server) deleteSwarm(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	state, err := s.store.GetSwarmState(id)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if state != "" && !swarm.Terminal(state) {
		jsonError(w, fmt.Sprintf("swarm is %s, cancel it first", state), http.StatusConflict)
		return
	}
	if err := s.store.DeleteSwarm(id); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]string{"status": "deleted"})
}

func (s *Server) getSwarmStatus(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, s.machine.GetStatus(r.PathValue("id")))
}

func (s *Server) listSwarmRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.ListRunsForSwarm(r.PathValue("id"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, runs)
}

func (s *Server) startSwarm(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sw, err := s.store.GetSwarm(id)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if sw == nil {
		jsonError(w, "swarm not found", http.StatusNotFound)
		return
	}
	if err := s.enqueueSwarmExecution(id, sw.UserID); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]string{"status": "scheduled"})
}

func (s *Server) pauseSwarm(w http.ResponseWriter, r *http.Request) {
	s.lifecycleResponse(w, s.machine.Pause(r.Context(), r.PathValue("id")), "paused")
}

func (s *Server) resumeSwarm(w http.ResponseWriter, r *http.Request) {
	s.lifecycleResponse(w, s.machine.Resume(r.Context(), r.PathValue("id")), "resumed")
}

func (s *Server) lifecycleResponse(w http.ResponseWriter, err error, status string) {
	switch {
	case err == nil:
		jsonResponse(w, map[string]string{"status": status})
	case errors.Is(err, swarm.ErrNotFound):
		jsonError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, swarm.ErrInvalidState):
		jsonError(w, err.Error(), http.StatusConflict)
	default:
		jsonError(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) cancelSwarm(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RequestedBy string `json:"requested_by"`
		Reason      string `json:"reason"`
	}
	// Body is optional for cancels
	_ = json.NewDecoder(r.Body).Decode(&body)

	result, err := s.machine.Cancel(r.Context(), r.PathValue("id"), body.RequestedBy, body.Reason)
	if err != nil {
		if errors.Is(err, swarm.ErrNotFound) {
			jsonError(w, err.Error(), http.StatusNotFound)
			return
		}
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, result)
}

func (s *Server) createRoutineVersion(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ID         string          `json:"id"`
		RoutineID  string          `json:"routine_id"`
		Version    string          `json:"version"`
		Definition json.RawMessage `json:"definition"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.RoutineID == "" || body.Version == "" {
		jsonError(w, "routine_id and version are required", http.StatusBadRequest)
		return
	}
	if body.ID == "" {
		body.ID = uuid.New().String()
	}

	rv := &store.RoutineVersion{
		ID:         body.ID,
		RoutineID:  body.RoutineID,
		Version:    body.Version,
		Definition: body.Definition,
	}
	if err := s.store.SaveRoutineVersion(rv); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, rv)
}

func (s *Server) getRoutineVersion(w http.ResponseWriter, r *http.Request) {
	rv, err := s.store.GetRoutineVersion(r.PathValue("id"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if rv == nil {
		jsonError(w, "routine version not found", http.StatusNotFound)
		return
	}
	jsonResponse(w, rv)
}

func (s *Server) createRun(w http.ResponseWriter, r *http.Request) {
	var req run.StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.RoutineVersionID == "" {
		jsonError(w, "routine_version_id is required", http.StatusBadRequest)
		return
	}

	runID, err := s.runs.Start(r.Context(), req)
	if err != nil {
		if errors.Is(err, swarm.ErrNotFound) {
			jsonError(w, err.Error(), http.StatusNotFound)
			return
		}
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]string{"run_id": runID, "status": task.StatusScheduled})
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.GetRun(r.PathValue("id"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if rec == nil {
		jsonError(w, "run not found", http.StatusNotFound)
		return
	}
	jsonResponse(w, rec)
}

func (s *Server) getRunStatus(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, s.runs.Status(r.PathValue("id")))
}

func (s *Server) enqueueTask(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Kind    task.Kind       `json:"kind"`
		UserID  string          `json:"user_id"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !body.Kind.Valid() {
		jsonError(w, fmt.Sprintf("unknown task kind %q", body.Kind), http.StatusBadRequest)
		return
	}

	id, err := s.queue.Enqueue(task.Envelope{
		Kind:    body.Kind,
		UserID:  body.UserID,
		Payload: body.Payload,
	})
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]string{"id": id, "status": task.StatusScheduled})
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.GetTask(r.PathValue("id"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if rec == nil {
		jsonError(w, "task not found", http.StatusNotFound)
		return
	}
	jsonResponse(w, rec)
}

func (s *Server) checkTasks(w http.ResponseWriter, r *http.Request) {
	var body struct {
		IDs  []string  `json:"ids"`
		Kind task.Kind `json:"kind"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	statuses, err := s.queue.CheckStatuses(body.IDs, body.Kind)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	jsonResponse(w, statuses)
}

func (s *Server) cancelTask(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Kind task.Kind `json:"kind"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ok, err := s.queue.Cancel(r.PathValue("id"), body.Kind)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	jsonResponse(w, map[string]bool{"canceled": ok})
}

func (s *Server) listBreakers(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, s.breakers.List())
}

func (s *Server) removeBreaker(w http.ResponseWriter, r *http.Request) {
	removed := s.breakers.Remove(r.PathValue("service"), r.PathValue("operation"))
	if !removed {
		jsonError(w, "breaker not found", http.StatusNotFound)
		return
	}
	jsonResponse(w, map[string]string{"status": "removed"})
}

func (s *Server) createSecret(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Name == "" || body.Value == "" {
		jsonError(w, "name and value are required", http.StatusBadRequest)
		return
	}

	ciphertext, nonce, err := s.vault.Encrypt([]byte(body.Value))
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := s.store.SaveSecret(&store.Secret{Name: body.Name, Value: ciphertext, Nonce: nonce}); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]string{"status": "saved"})
}

func (s *Server) deleteSecret(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteSecret(r.PathValue("name")); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]string{"status": "deleted"})
}

func (s *Server) listNotifications(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user")
	if userID == "" {
		jsonError(w, "user query parameter is required", http.StatusBadRequest)
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	notifications, err := s.store.ListNotifications(userID, limit)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, notifications)
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	active, _ := s.store.ListActiveSwarms()

	status := map[string]any{
		"status":        "ok",
		"active_swarms": len(active),
		"breakers":      len(s.breakers.List()),
		"uptime":        formatUptime(time.Since(s.startedAt)),
		"timestamp":     time.Now().UTC(),
		"version":       s.version,
	}
	jsonResponse(w, status)
}

func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, mins)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	return fmt.Sprintf("%dm", mins)
}

func jsonResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
