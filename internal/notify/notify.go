// Package notify composes and delivers the customer-facing messages the
// engine decides to send: the double-opt-in confirmation request, the
// cancellation notice, and timed reminders. Delivery transport is
// deliberately thin (SMTP relay, SMS webhook); anything heavier lives
// behind those endpoints.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"slotbook/internal/booking"
	"slotbook/internal/provider"
)

type EmailSender interface {
	Send(to string, subject string, body string) error
}

type SMSSender interface {
	Send(ctx context.Context, to string, body string) error
}

type Service struct {
	email   EmailSender
	sms     SMSSender
	baseURL string
	logger  *slog.Logger
}

func NewService(email EmailSender, sms SMSSender, baseURL string, logger *slog.Logger) *Service {
	return &Service{
		email:   email,
		sms:     sms,
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		logger:  logger,
	}
}

// SendConfirmationRequest mails the confirm/cancel links for a freshly
// created pending booking.
func (s *Service) SendConfirmationRequest(_ context.Context, b booking.Booking, p provider.Provider) error {
	confirmLink := fmt.Sprintf("%s/confirm?booking=%s&token=%s", s.baseURL, b.ID, b.ConfirmationToken)
	cancelLink := fmt.Sprintf("%s/cancel?booking=%s&token=%s", s.baseURL, b.ID, b.CancellationToken)

	subject := fmt.Sprintf("Please confirm your appointment with %s", p.Name)
	body := fmt.Sprintf(
		"Hello %s,\n\nyour appointment with %s on %s has been reserved.\n\nConfirm: %s\nCancel: %s\n",
		b.CustomerName,
		p.Name,
		b.StartTime.Format(time.RFC1123),
		confirmLink,
		cancelLink,
	)
	return s.email.Send(b.CustomerEmail, subject, body)
}

// SendCancellationNotice mails a short notice after a booking was
// canceled.
func (s *Service) SendCancellationNotice(_ context.Context, b booking.Booking, p provider.Provider) error {
	subject := fmt.Sprintf("Appointment with %s canceled", p.Name)
	body := fmt.Sprintf(
		"Hello %s,\n\nyour appointment with %s on %s has been canceled.\n",
		b.CustomerName,
		p.Name,
		b.StartTime.Format(time.RFC1123),
	)
	return s.email.Send(b.CustomerEmail, subject, body)
}

// SendReminder dispatches one reminder on the given channel.
func (s *Service) SendReminder(ctx context.Context, b booking.Booking, p provider.Provider, channel string) error {
	switch channel {
	case provider.ChannelEmail:
		subject := fmt.Sprintf("Appointment reminder: %s", p.Name)
		body := fmt.Sprintf(
			"Hello %s,\n\nthis is a reminder of your appointment with %s on %s.\n",
			b.CustomerName,
			p.Name,
			b.StartTime.Format(time.RFC1123),
		)
		return s.email.Send(b.CustomerEmail, subject, body)
	case provider.ChannelSMS:
		if strings.TrimSpace(b.CustomerPhone) == "" {
			s.logger.Debug("sms reminder skipped, no phone on booking", "booking_id", b.ID)
			return nil
		}
		body := fmt.Sprintf("Reminder: appointment with %s on %s.", p.Name, b.StartTime.Format("Mon 15:04"))
		return s.sms.Send(ctx, b.CustomerPhone, body)
	default:
		return fmt.Errorf("unsupported channel: %s", channel)
	}
}
