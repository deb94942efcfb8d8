// Package reminder runs the periodic sweep that notifies customers ahead
// of confirmed appointments. The sweep is an explicit handle owned by the
// process lifecycle: Run blocks until the context is canceled.
package reminder

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"slotbook/internal/booking"
	"slotbook/internal/provider"
)

// Due pairs a reminder-eligible booking with its provider's settings.
type Due struct {
	Booking  booking.Booking
	Provider provider.Provider
}

// Store selects and claims reminder work. FindDueReminders returns
// confirmed, not-yet-reminded bookings of reminder-enabled providers
// whose start lies within the configured lead window but still in the
// future. MarkReminderSent must only succeed while reminder_sent_at is
// still null; false means another sweep got there first.
type Store interface {
	FindDueReminders(ctx context.Context, now time.Time) ([]Due, error)
	MarkReminderSent(ctx context.Context, bookingID string, at time.Time) (bool, error)
}

type Notifier interface {
	SendReminder(ctx context.Context, b booking.Booking, p provider.Provider, channel string) error
}

type Sweeper struct {
	store           Store
	notifier        Notifier
	logger          *slog.Logger
	interval        time.Duration
	dispatchTimeout time.Duration
	now             func() time.Time
}

type Config struct {
	Interval        time.Duration
	DispatchTimeout time.Duration
}

func NewSweeper(store Store, notifier Notifier, logger *slog.Logger, cfg Config) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Minute
	}
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = 10 * time.Second
	}
	return &Sweeper{
		store:           store,
		notifier:        notifier,
		logger:          logger,
		interval:        cfg.Interval,
		dispatchTimeout: cfg.DispatchTimeout,
		now:             time.Now,
	}
}

func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.logger.Error("reminder sweep failed", "err", err)
			}
		}
	}
}

// Sweep processes one tick. A store failure aborts the tick (everything
// is retried next time); a notifier failure only affects its booking.
func (s *Sweeper) Sweep(ctx context.Context) error {
	ctx, span := otel.Tracer("reminder").Start(ctx, "reminder.sweep",
		trace.WithAttributes(attribute.String("component", "sweeper")),
	)
	defer span.End()

	now := s.now().UTC()
	due, err := s.store.FindDueReminders(ctx, now)
	if err != nil {
		span.RecordError(err)
		return err
	}
	span.SetAttributes(attribute.Int("reminders.due", len(due)))

	for _, d := range due {
		s.process(ctx, d, now)
	}
	return nil
}

func (s *Sweeper) process(ctx context.Context, d Due, now time.Time) {
	// Claim before dispatching: the conditional write is the idempotency
	// unit, so overlapping sweeps never double-send. Delivery after the
	// claim is best-effort across channels; a partial failure does not
	// un-claim, which trades a possibly lost reminder for never sending
	// duplicates.
	ok, err := s.store.MarkReminderSent(ctx, d.Booking.ID, now)
	if err != nil {
		s.logger.Error("reminder claim failed", "booking_id", d.Booking.ID, "err", err)
		return
	}
	if !ok {
		return
	}

	channels := d.Provider.Settings.Reminders.Channels
	if len(channels) == 0 {
		channels = []string{provider.ChannelEmail}
	}
	for _, channel := range channels {
		dispatchCtx, cancel := context.WithTimeout(ctx, s.dispatchTimeout)
		err := s.notifier.SendReminder(dispatchCtx, d.Booking, d.Provider, channel)
		cancel()
		if err != nil {
			s.logger.Warn("reminder dispatch failed",
				"booking_id", d.Booking.ID,
				"channel", channel,
				"err", err,
			)
			continue
		}
		s.logger.Info("reminder sent",
			"booking_id", d.Booking.ID,
			"provider_id", d.Provider.ID,
			"channel", channel,
		)
	}
}
