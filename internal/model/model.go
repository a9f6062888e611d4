package model

import "time"

// Keys carries the encryption material of a browser push subscription.
// Opaque to this service; forwarded verbatim to the push library.
type Keys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// Subscription identifies a registered push destination. Endpoint is the
// identity key; two subscriptions with the same endpoint are the same
// destination.
type Subscription struct {
	Endpoint       string   `json:"endpoint"`
	ExpirationTime *float64 `json:"expirationTime,omitempty"`
	Keys           Keys     `json:"keys"`
}

// Reminder is a recurring local-time trigger attached to a user.
//
// Time and RepeatUntil are "HH:MM" in the subscriber's local time.
// TimezoneOffsetMinutes follows the browser convention: subtract it from UTC
// to get local time (positive west of UTC, negative east).
type Reminder struct {
	ID                    string    `json:"id"`
	Time                  string    `json:"time"`
	TimezoneOffsetMinutes int       `json:"timezoneOffsetMinutes"`
	RepeatEveryMinutes    int       `json:"repeatEveryMinutes"`
	RepeatUntil           string    `json:"repeatUntil,omitempty"`
	LastSent              time.Time `json:"lastSentISO,omitzero"`
}

// User owns one subscription and its reminders. ID is assigned once and
// survives subscription updates.
type User struct {
	ID           string       `json:"id"`
	Subscription Subscription `json:"subscription"`
	Reminders    []*Reminder  `json:"reminders"`
}

// UserSummary is the reduced shape returned by listing endpoints.
type UserSummary struct {
	ID        string `json:"id"`
	Reminders int    `json:"reminders"`
}

// Schema is the whole persisted state.
type Schema struct {
	Users []*User `json:"users"`
}

// Clone returns a deep copy of the user, safe to read while the original is
// being mutated.
func (u *User) Clone() *User {
	cp := *u
	cp.Reminders = make([]*Reminder, len(u.Reminders))
	for i, r := range u.Reminders {
		rc := *r
		cp.Reminders[i] = &rc
	}
	if u.Subscription.ExpirationTime != nil {
		exp := *u.Subscription.ExpirationTime
		cp.Subscription.ExpirationTime = &exp
	}
	return &cp
}
