// Package storage owns the persisted set of users and their reminders.
// One mutex serializes every read-modify-write, whether it comes from a
// request handler or the scheduler; durability is a whole-file JSON write
// with an atomic rename so a crash mid-write never leaves a torn file.
// A mutation whose write fails is rolled back in memory, so callers never
// observe state that was not persisted.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hydrated/hydrated/internal/model"
)

// ErrNotFound is returned when a user or reminder id is unknown.
var ErrNotFound = errors.New("not found")

// ReminderSpec is the caller-supplied part of a new reminder.
type ReminderSpec struct {
	Time                  string
	TimezoneOffsetMinutes int
	RepeatEveryMinutes    int
	RepeatUntil           string
}

type Store struct {
	mu       sync.Mutex
	filePath string
	data     *model.Schema
}

func NewStore(filePath string) *Store {
	return &Store{
		filePath: filePath,
		data:     &model.Schema{Users: []*model.User{}},
	}
}

// Load reads the backing file. A missing or unreadable file yields an empty
// store; that fallback is lossy on corruption, which we accept and log.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("Store file unreadable, starting empty", "path", s.filePath, "error", err)
		}
		s.data = &model.Schema{Users: []*model.User{}}
		return nil
	}
	if len(data) == 0 {
		s.data = &model.Schema{Users: []*model.User{}}
		return nil
	}

	var schema model.Schema
	if err := json.Unmarshal(data, &schema); err != nil {
		slog.Warn("Store file corrupt, starting empty", "path", s.filePath, "error", err)
		s.data = &model.Schema{Users: []*model.User{}}
		return nil
	}
	if schema.Users == nil {
		schema.Users = []*model.User{}
	}
	s.data = &schema
	return nil
}

// save persists the full schema. Caller must hold s.mu.
func (s *Store) save() error {
	data, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal store: %w", err)
	}

	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}

	// Write-then-rename keeps the file whole under a crash mid-write.
	tmp, err := os.CreateTemp(dir, filepath.Base(s.filePath)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.filePath); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace store file: %w", err)
	}
	return nil
}

// FindByEndpoint returns a copy of the user owning endpoint.
func (s *Store) FindByEndpoint(endpoint string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.findByEndpoint(endpoint)
	if u == nil {
		return nil, ErrNotFound
	}
	return u.Clone(), nil
}

func (s *Store) findByEndpoint(endpoint string) *model.User {
	for _, u := range s.data.Users {
		if u.Subscription.Endpoint == endpoint {
			return u
		}
	}
	return nil
}

// Upsert creates a user for an unseen endpoint or overwrites the stored
// subscription on a known one. The user id and existing reminders are
// preserved on update. Returns a copy of the user and whether it was created.
func (s *Store) Upsert(sub model.Subscription) (*model.User, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u := s.findByEndpoint(sub.Endpoint); u != nil {
		prev := u.Subscription
		u.Subscription = sub
		if err := s.save(); err != nil {
			u.Subscription = prev
			return nil, false, err
		}
		return u.Clone(), false, nil
	}

	u := &model.User{
		ID:           uuid.New().String(),
		Subscription: sub,
		Reminders:    []*model.Reminder{},
	}
	s.data.Users = append(s.data.Users, u)
	if err := s.save(); err != nil {
		s.data.Users = s.data.Users[:len(s.data.Users)-1]
		return nil, false, err
	}
	return u.Clone(), true, nil
}

// AddReminder attaches a reminder to the user owning sub's endpoint, creating
// the user first if the endpoint is unseen. Returns a copy of the user after
// the append.
func (s *Store) AddReminder(sub model.Subscription, spec ReminderSpec) (*model.User, *model.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.findByEndpoint(sub.Endpoint)
	created := u == nil
	if created {
		u = &model.User{
			ID:           uuid.New().String(),
			Subscription: sub,
			Reminders:    []*model.Reminder{},
		}
		s.data.Users = append(s.data.Users, u)
	}

	r := &model.Reminder{
		ID:                    uuid.New().String(),
		Time:                  spec.Time,
		TimezoneOffsetMinutes: spec.TimezoneOffsetMinutes,
		RepeatEveryMinutes:    spec.RepeatEveryMinutes,
		RepeatUntil:           spec.RepeatUntil,
	}
	u.Reminders = append(u.Reminders, r)

	if err := s.save(); err != nil {
		u.Reminders = u.Reminders[:len(u.Reminders)-1]
		if created {
			s.data.Users = s.data.Users[:len(s.data.Users)-1]
		}
		return nil, nil, err
	}
	rc := *r
	return u.Clone(), &rc, nil
}

// DeleteReminder removes the reminder with the given id, wherever it lives.
func (s *Store) DeleteReminder(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.data.Users {
		for i, r := range u.Reminders {
			if r.ID == id {
				prev := u.Reminders
				u.Reminders = append(slices.Clone(u.Reminders[:i]), u.Reminders[i+1:]...)
				if err := s.save(); err != nil {
					u.Reminders = prev
					return false, err
				}
				return true, nil
			}
		}
	}
	return false, nil
}

// RemoveUser drops the user owning endpoint together with all its reminders.
func (s *Store) RemoveUser(endpoint string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, u := range s.data.Users {
		if u.Subscription.Endpoint == endpoint {
			prev := s.data.Users
			s.data.Users = append(slices.Clone(s.data.Users[:i]), s.data.Users[i+1:]...)
			if err := s.save(); err != nil {
				s.data.Users = prev
				return false, err
			}
			return true, nil
		}
	}
	return false, nil
}

// GetReminders returns copies of the reminders of the user with the given id.
func (s *Store) GetReminders(userID string) ([]*model.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.data.Users {
		if u.ID == userID {
			return u.Clone().Reminders, nil
		}
	}
	return nil, ErrNotFound
}

// ListSummary returns id and reminder count per user.
func (s *Store) ListSummary() []model.UserSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.UserSummary, 0, len(s.data.Users))
	for _, u := range s.data.Users {
		out = append(out, model.UserSummary{ID: u.ID, Reminders: len(u.Reminders)})
	}
	return out
}

// Snapshot returns a deep copy of all users, safe to iterate while handlers
// keep mutating the store.
func (s *Store) Snapshot() []*model.User {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*model.User, 0, len(s.data.Users))
	for _, u := range s.data.Users {
		out = append(out, u.Clone())
	}
	return out
}

// ApplyTickResults folds one scheduler pass back into the store: advance
// LastSent for delivered reminders, drop users whose endpoints are gone, then
// persist once. LastSent never moves backwards.
func (s *Store) ApplyTickResults(sent map[string]time.Time, gone []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dirty := false
	for _, u := range s.data.Users {
		for _, r := range u.Reminders {
			at, ok := sent[r.ID]
			if ok && at.After(r.LastSent) {
				r.LastSent = at
				dirty = true
			}
		}
	}
	for _, endpoint := range gone {
		for i, u := range s.data.Users {
			if u.Subscription.Endpoint == endpoint {
				s.data.Users = append(s.data.Users[:i], s.data.Users[i+1:]...)
				dirty = true
				break
			}
		}
	}

	if !dirty {
		return nil
	}
	return s.save()
}
