package provider

import (
	"errors"
	"testing"
	"time"
)

func TestDefaultSettingsValid(t *testing.T) {
	if err := DefaultSettings().Validate(); err != nil {
		t.Fatalf("default settings must validate: %v", err)
	}
}

func TestValidateRejectsBadRanges(t *testing.T) {
	cases := []struct {
		name string
		mut  func(*Settings)
	}{
		{"zero slot duration", func(s *Settings) { s.SlotDurationMinutes = 0 }},
		{"negative buffer", func(s *Settings) { s.BufferMinutes = -1 }},
		{"negative deadline", func(s *Settings) { s.CancellationDeadlineHours = -1 }},
		{"inverted range", func(s *Settings) {
			s.WorkingHours[time.Monday] = []Range{{StartMinute: 600, EndMinute: 540}}
		}},
		{"range past midnight", func(s *Settings) {
			s.WorkingHours[time.Monday] = []Range{{StartMinute: 1400, EndMinute: 1500}}
		}},
		{"overlapping ranges", func(s *Settings) {
			s.WorkingHours[time.Monday] = []Range{
				{StartMinute: 540, EndMinute: 720},
				{StartMinute: 700, EndMinute: 800},
			}
		}},
		{"overlapping breaks", func(s *Settings) {
			s.Breaks = map[time.Weekday][]Range{
				time.Monday: {
					{StartMinute: 600, EndMinute: 660},
					{StartMinute: 630, EndMinute: 690},
				},
			}
		}},
		{"reminder without lead time", func(s *Settings) {
			s.Reminders = ReminderConfig{Enabled: true, HoursBefore: 0}
		}},
		{"unknown channel", func(s *Settings) {
			s.Reminders = ReminderConfig{Enabled: true, HoursBefore: 24, Channels: []string{"pigeon"}}
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			set := DefaultSettings()
			tc.mut(&set)
			err := set.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !errors.Is(err, ErrInvalidSettings) {
				t.Fatalf("expected ErrInvalidSettings, got %v", err)
			}
		})
	}
}

func TestValidateAllowsTouchingRanges(t *testing.T) {
	set := DefaultSettings()
	set.WorkingHours[time.Monday] = []Range{
		{StartMinute: 540, EndMinute: 720},
		{StartMinute: 720, EndMinute: 1020},
	}
	if err := set.Validate(); err != nil {
		t.Fatalf("back-to-back ranges must validate: %v", err)
	}
}

func TestValidateDisabledRemindersSkipChecks(t *testing.T) {
	set := DefaultSettings()
	set.Reminders = ReminderConfig{Enabled: false, HoursBefore: 0, Channels: []string{"pigeon"}}
	if err := set.Validate(); err != nil {
		t.Fatalf("disabled reminders must not be validated: %v", err)
	}
}
