// Package schedule decides whether a reminder is due at a given instant.
// All functions are pure; timezone math is fixed-offset only (no DST).
package schedule

import (
	"fmt"
	"time"

	"github.com/hydrated/hydrated/internal/model"
)

// Debounce is the minimum interval between two fires of the same reminder.
// The scheduler runs on a one-minute cadence; 70s guarantees a reminder
// cannot double-fire if the loop runs twice within a matching minute.
const Debounce = 70 * time.Second

// ParseClock parses a "HH:MM" wall-clock string. The shape is strict:
// time.Parse alone would accept "8:30", so require zero-padded five-char form.
func ParseClock(s string) (hour, minute int, err error) {
	if len(s) != 5 || s[2] != ':' {
		return 0, 0, fmt.Errorf("invalid time %q: want HH:MM", s)
	}
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time %q: want HH:MM", s)
	}
	return t.Hour(), t.Minute(), nil
}

// ShouldFire reports whether r is due at nowUTC.
//
// The subscriber's local time is nowUTC minus TimezoneOffsetMinutes (the
// browser's getTimezoneOffset convention). Non-repeating reminders fire when
// local hour and minute match exactly. Repeating reminders fire at the
// scheduled start and every RepeatEveryMinutes after it, up to and including
// the last millisecond of RepeatUntil's minute on the same local day. A
// RepeatUntil earlier than Time never matches; there is no overnight wrap.
// Both cases are suppressed within Debounce of LastSent.
func ShouldFire(r *model.Reminder, nowUTC time.Time) bool {
	hh, mm, err := ParseClock(r.Time)
	if err != nil {
		return false
	}

	offset := time.Duration(r.TimezoneOffsetMinutes) * time.Minute
	local := nowUTC.UTC().Add(-offset)

	if r.RepeatEveryMinutes <= 0 {
		if local.Hour() != hh || local.Minute() != mm {
			return false
		}
		return pastDebounce(r.LastSent, nowUTC)
	}

	// "Today" is the subscriber's local calendar day.
	y, mo, d := local.Date()
	startUTC := time.Date(y, mo, d, hh, mm, 0, 0, time.UTC).Add(offset)
	if nowUTC.Before(startUTC) {
		return false
	}

	if r.RepeatUntil != "" {
		uh, um, err := ParseClock(r.RepeatUntil)
		if err != nil {
			return false
		}
		endUTC := time.Date(y, mo, d, uh, um, 59, 999_000_000, time.UTC).Add(offset)
		if nowUTC.After(endUTC) {
			return false
		}
	}

	elapsedMin := int(nowUTC.Sub(startUTC) / time.Minute)
	if elapsedMin%r.RepeatEveryMinutes != 0 {
		return false
	}
	return pastDebounce(r.LastSent, nowUTC)
}

func pastDebounce(lastSent, nowUTC time.Time) bool {
	return lastSent.IsZero() || nowUTC.Sub(lastSent) >= Debounce
}
