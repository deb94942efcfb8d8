// Package provider holds the tenant-scoped configuration consumed by the
// availability calculator, the booking lifecycle and the reminder sweep.
package provider

import (
	"errors"
	"fmt"
	"time"

	"slotbook/internal/timegrid"
)

// ErrInvalidSettings marks malformed provider configuration (for example
// overlapping working-hour ranges). Slot generation treats it as "no
// availability" rather than a request failure.
var ErrInvalidSettings = errors.New("invalid provider settings")

const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
)

// Range is a [StartMinute,EndMinute) span within a day, minutes since
// midnight.
type Range struct {
	StartMinute int `json:"start_minute"`
	EndMinute   int `json:"end_minute"`
}

type ReminderConfig struct {
	Enabled     bool     `json:"enabled"`
	HoursBefore int      `json:"hours_before"`
	Channels    []string `json:"channels"`
}

// Settings is the bookable-time configuration of one tenant. Weekday keys
// follow time.Weekday (0 = Sunday).
type Settings struct {
	SlotDurationMinutes       int                       `json:"slot_duration_minutes"`
	BufferMinutes             int                       `json:"buffer_minutes"`
	WorkingHours              map[time.Weekday][]Range  `json:"working_hours"`
	Breaks                    map[time.Weekday][]Range  `json:"breaks,omitempty"`
	CancellationDeadlineHours int                       `json:"cancellation_deadline_hours"`
	Reminders                 ReminderConfig            `json:"reminders"`
}

type Provider struct {
	ID        string
	Name      string
	Settings  Settings
	CreatedAt time.Time
}

// DefaultSettings is the configuration a fresh tenant starts with:
// half-hour slots on weekday office hours, email reminders a day ahead,
// 12-hour cancellation notice.
func DefaultSettings() Settings {
	weekday := []Range{{StartMinute: 9 * 60, EndMinute: 12 * 60}, {StartMinute: 13 * 60, EndMinute: 17 * 60}}
	return Settings{
		SlotDurationMinutes: 30,
		BufferMinutes:       0,
		WorkingHours: map[time.Weekday][]Range{
			time.Monday:    weekday,
			time.Tuesday:   weekday,
			time.Wednesday: weekday,
			time.Thursday:  weekday,
			time.Friday:    {{StartMinute: 9 * 60, EndMinute: 12 * 60}},
		},
		CancellationDeadlineHours: 12,
		Reminders: ReminderConfig{
			Enabled:     true,
			HoursBefore: 24,
			Channels:    []string{ChannelEmail},
		},
	}
}

// Validate checks the structural invariants of the settings. Working-hour
// and break ranges must be well-formed and, per weekday, pairwise
// non-overlapping.
func (s Settings) Validate() error {
	if s.SlotDurationMinutes <= 0 {
		return fmt.Errorf("%w: slot duration must be positive", ErrInvalidSettings)
	}
	if s.BufferMinutes < 0 {
		return fmt.Errorf("%w: buffer must not be negative", ErrInvalidSettings)
	}
	if s.CancellationDeadlineHours < 0 {
		return fmt.Errorf("%w: cancellation deadline must not be negative", ErrInvalidSettings)
	}
	for wd, ranges := range s.WorkingHours {
		if wd < time.Sunday || wd > time.Saturday {
			return fmt.Errorf("%w: weekday %d out of range", ErrInvalidSettings, wd)
		}
		if err := validateRanges(ranges); err != nil {
			return fmt.Errorf("%w: working hours for %s: %v", ErrInvalidSettings, wd, err)
		}
	}
	for wd, ranges := range s.Breaks {
		if wd < time.Sunday || wd > time.Saturday {
			return fmt.Errorf("%w: weekday %d out of range", ErrInvalidSettings, wd)
		}
		if err := validateRanges(ranges); err != nil {
			return fmt.Errorf("%w: breaks for %s: %v", ErrInvalidSettings, wd, err)
		}
	}
	if s.Reminders.Enabled {
		if s.Reminders.HoursBefore <= 0 {
			return fmt.Errorf("%w: reminder lead time must be positive", ErrInvalidSettings)
		}
		for _, ch := range s.Reminders.Channels {
			if ch != ChannelEmail && ch != ChannelSMS {
				return fmt.Errorf("%w: unknown reminder channel %q", ErrInvalidSettings, ch)
			}
		}
	}
	return nil
}

func validateRanges(ranges []Range) error {
	for i, r := range ranges {
		if r.StartMinute < 0 || r.EndMinute > timegrid.MinutesPerDay {
			return fmt.Errorf("range %d outside the day", i)
		}
		if r.StartMinute >= r.EndMinute {
			return fmt.Errorf("range %d start must precede end", i)
		}
		for j := 0; j < i; j++ {
			if timegrid.MinutesOverlap(ranges[j].StartMinute, ranges[j].EndMinute, r.StartMinute, r.EndMinute) {
				return fmt.Errorf("ranges %d and %d overlap", j, i)
			}
		}
	}
	return nil
}
