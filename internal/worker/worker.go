// Package worker runs the reminder scheduler: a one-minute loop that
// evaluates every stored reminder against the current instant and dispatches
// the matches.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hydrated/hydrated/internal/model"
	"github.com/hydrated/hydrated/internal/push"
	"github.com/hydrated/hydrated/internal/schedule"
	"github.com/hydrated/hydrated/internal/storage"
)

// Sender is the delivery backend the worker dispatches through.
type Sender interface {
	Send(ctx context.Context, sub model.Subscription, p push.Payload) (push.Outcome, error)
	Configured() bool
}

// BroadcastResult reports the outcome of one manual-broadcast delivery.
type BroadcastResult struct {
	UserID  string `json:"userId"`
	Outcome string `json:"outcome"`
	Error   string `json:"error,omitempty"`
}

type Worker struct {
	store       *storage.Store
	sender      Sender
	frontendURL string

	interval   time.Duration
	tickBudget time.Duration
	updateChan chan struct{}
	now        func() time.Time
}

func NewWorker(store *storage.Store, sender Sender, frontendURL string) *Worker {
	return &Worker{
		store:       store,
		sender:      sender,
		frontendURL: frontendURL,
		interval:    time.Minute,
		// Well under the cadence so a slow pass cannot overlap the next tick.
		tickBudget: 50 * time.Second,
		updateChan: make(chan struct{}, 1),
		now:        time.Now,
	}
}

// Refresh nudges the worker to run a pass immediately.
func (w *Worker) Refresh() {
	select {
	case w.updateChan <- struct{}{}:
	default:
		// A nudge is already pending.
	}
}

// Start runs the scheduler loop until ctx is canceled.
func (w *Worker) Start(ctx context.Context) {
	slog.Info("Scheduler started", "interval", w.interval)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Scheduler stopped")
			return
		case <-ticker.C:
			w.Tick(ctx)
		case <-w.updateChan:
			w.Tick(ctx)
		}
	}
}

// Tick performs one scheduling pass: snapshot the store, evaluate every
// reminder, dispatch matches, then fold all results back into the store with
// a single persist. Any single failure is logged and skipped; a panic is
// contained to this pass.
func (w *Worker) Tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Scheduler tick panicked", "panic", r)
		}
	}()

	if !w.sender.Configured() {
		slog.Warn("VAPID keys not configured, skipping scheduler pass")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, w.tickBudget)
	defer cancel()

	now := w.now().UTC()
	users := w.store.Snapshot()

	sent := make(map[string]time.Time)
	var gone []string

userLoop:
	for _, u := range users {
		if ctx.Err() != nil {
			slog.Warn("Tick budget exceeded, deferring remaining users to next pass")
			break
		}
		for _, r := range u.Reminders {
			if !schedule.ShouldFire(r, now) {
				continue
			}

			payload := push.Payload{
				Title: "Hydrate — Reminder",
				Body:  fmt.Sprintf("Time to drink water! Scheduled for %s.", r.Time),
				URL:   w.frontendURL,
			}
			outcome, err := w.sender.Send(ctx, u.Subscription, payload)
			switch outcome {
			case push.Delivered:
				sent[r.ID] = now
				slog.Info("Reminder sent", "userId", u.ID, "reminderId", r.ID, "time", r.Time)
			case push.PermanentFailure:
				slog.Info("Subscription gone, removing user", "userId", u.ID, "error", err)
				gone = append(gone, u.Subscription.Endpoint)
				continue userLoop
			default:
				// Retried on the next pass; LastSent must not advance.
				slog.Error("Reminder delivery failed", "userId", u.ID, "reminderId", r.ID, "error", err)
			}
		}
	}

	if err := w.store.ApplyTickResults(sent, gone); err != nil {
		slog.Error("Failed to persist scheduler results", "error", err)
	}
}

// Broadcast sends p to every user regardless of schedule, removing users
// whose endpoints are gone. Empty payload fields fall back to defaults.
func (w *Worker) Broadcast(ctx context.Context, p push.Payload) []BroadcastResult {
	if p.Title == "" {
		p.Title = "Hydrate"
	}
	if p.Body == "" {
		p.Body = "Time to drink water!"
	}
	if p.URL == "" {
		p.URL = w.frontendURL
	}

	users := w.store.Snapshot()
	results := make([]BroadcastResult, 0, len(users))
	var gone []string

	for _, u := range users {
		outcome, err := w.sender.Send(ctx, u.Subscription, p)
		res := BroadcastResult{UserID: u.ID, Outcome: outcome.String()}
		if err != nil {
			res.Error = err.Error()
		}
		if outcome == push.PermanentFailure {
			gone = append(gone, u.Subscription.Endpoint)
		}
		results = append(results, res)
	}

	if err := w.store.ApplyTickResults(nil, gone); err != nil {
		slog.Error("Failed to persist broadcast results", "error", err)
	}
	return results
}
