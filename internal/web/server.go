// Package web exposes the JSON HTTP surface: subscription registration,
// reminder CRUD, manual broadcast, and a small status page.
package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hydrated/hydrated/internal/model"
	"github.com/hydrated/hydrated/internal/push"
	"github.com/hydrated/hydrated/internal/schedule"
	"github.com/hydrated/hydrated/internal/storage"
	"github.com/hydrated/hydrated/internal/worker"
)

//go:embed static
var staticFS embed.FS

// KeySource exposes the VAPID configuration handlers need.
type KeySource interface {
	VAPIDPublicKey() string
	Configured() bool
}

// Scheduler is the slice of the worker the handlers need: manual broadcast
// and an early wake-up after reminder mutations.
type Scheduler interface {
	Broadcast(ctx context.Context, p push.Payload) []worker.BroadcastResult
	Refresh()
}

type Server struct {
	store     *storage.Store
	keys      KeySource
	scheduler Scheduler
	router    *http.ServeMux
}

func NewServer(store *storage.Store, keys KeySource, scheduler Scheduler) *Server {
	s := &Server{
		store:     store,
		keys:      keys,
		scheduler: scheduler,
		router:    http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("GET /vapidPublicKey", s.handleVAPIDPublicKey)
	s.router.HandleFunc("POST /subscribe", s.handleSubscribe)
	s.router.HandleFunc("POST /addReminder", s.handleAddReminder)
	s.router.HandleFunc("POST /deleteReminder", s.handleDeleteReminder)
	s.router.HandleFunc("GET /user/{id}/reminders", s.handleUserReminders)
	s.router.HandleFunc("POST /sendNotification", s.handleSendNotification)
	s.router.HandleFunc("GET /subs", s.handleSubs)
	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.HandleFunc("GET /{$}", s.handleIndex)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handlers

func (s *Server) handleVAPIDPublicKey(w http.ResponseWriter, r *http.Request) {
	if !s.keys.Configured() {
		writeError(w, http.StatusInternalServerError, "VAPID keys not configured")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(s.keys.VAPIDPublicKey()))
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var sub model.Subscription
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if sub.Endpoint == "" {
		writeError(w, http.StatusBadRequest, "missing endpoint")
		return
	}

	u, created, err := s.store.Upsert(sub)
	if err != nil {
		slog.Error("Failed to persist subscription", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save subscription")
		return
	}
	slog.Info("Subscription upserted", "userId", u.ID, "created", created)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "userId": u.ID})
}

type addReminderRequest struct {
	Subscription          *model.Subscription `json:"subscription"`
	Time                  string              `json:"time"`
	TimezoneOffsetMinutes int                 `json:"timezoneOffsetMinutes"`
	RepeatEveryMinutes    int                 `json:"repeatEveryMinutes"`
	RepeatUntil           string              `json:"repeatUntil"`
}

func (s *Server) handleAddReminder(w http.ResponseWriter, r *http.Request) {
	var req addReminderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Subscription == nil || req.Subscription.Endpoint == "" {
		writeError(w, http.StatusBadRequest, "missing subscription")
		return
	}
	if req.Time == "" {
		writeError(w, http.StatusBadRequest, "missing time")
		return
	}
	if _, _, err := schedule.ParseClock(req.Time); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.RepeatUntil != "" {
		if _, _, err := schedule.ParseClock(req.RepeatUntil); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if req.RepeatEveryMinutes < 0 {
		writeError(w, http.StatusBadRequest, "repeatEveryMinutes must be >= 0")
		return
	}

	u, reminder, err := s.store.AddReminder(*req.Subscription, storage.ReminderSpec{
		Time:                  req.Time,
		TimezoneOffsetMinutes: req.TimezoneOffsetMinutes,
		RepeatEveryMinutes:    req.RepeatEveryMinutes,
		RepeatUntil:           req.RepeatUntil,
	})
	if err != nil {
		slog.Error("Failed to persist reminder", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save reminder")
		return
	}
	slog.Info("Reminder added", "userId", u.ID, "reminderId", reminder.ID, "time", reminder.Time)
	// A reminder added during its own minute should not wait for the next tick.
	s.scheduler.Refresh()
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "reminders": u.Reminders})
}

func (s *Server) handleDeleteReminder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		writeError(w, http.StatusBadRequest, "missing id")
		return
	}

	ok, err := s.store.DeleteReminder(req.ID)
	if err != nil {
		slog.Error("Failed to persist reminder deletion", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete reminder")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "reminder not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleUserReminders(w http.ResponseWriter, r *http.Request) {
	reminders, err := s.store.GetReminders(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load reminders")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "reminders": reminders})
}

func (s *Server) handleSendNotification(w http.ResponseWriter, r *http.Request) {
	if !s.keys.Configured() {
		writeError(w, http.StatusInternalServerError, "VAPID keys not configured")
		return
	}

	var req struct {
		Payload *push.Payload `json:"payload"`
	}
	// An empty body means "broadcast the default payload".
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	payload := push.Payload{}
	if req.Payload != nil {
		payload = *req.Payload
	}

	results := s.scheduler.Broadcast(r.Context(), payload)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "results": results})
}

func (s *Server) handleSubs(w http.ResponseWriter, r *http.Request) {
	users := s.store.ListSummary()
	writeJSON(w, http.StatusOK, map[string]any{"count": len(users), "users": users})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "time": time.Now().UTC().Format(time.RFC3339)})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	page, err := staticFS.ReadFile("static/index.html")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "status page unavailable")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(page)
}

// Helpers

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
