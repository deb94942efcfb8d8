package booking

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"slotbook/internal/provider"
)

// Store is the persistence collaborator. Insert must perform the overlap
// check and the write as one atomic unit with respect to concurrent
// inserts for the same provider; implementations serialize per provider
// (advisory lock) and keep a uniqueness constraint on
// (provider_id, start_time) as defense in depth.
type Store interface {
	GetBooking(ctx context.Context, id string) (Booking, error)
	FindOverlapping(ctx context.Context, providerID string, start, end time.Time) ([]Booking, error)
	Insert(ctx context.Context, b *Booking) error
	// UpdateStatus transitions id to next only while its current status is
	// one of expected, recording the transition timestamp. Returns false
	// when the guard did not match.
	UpdateStatus(ctx context.Context, id string, expected []Status, next Status, at time.Time) (bool, error)
}

type Providers interface {
	GetProvider(ctx context.Context, id string) (provider.Provider, error)
}

// Notifier delivers outbound messages. Calls are fire-and-forget: a
// notifier failure is logged and never rolls back a state change.
type Notifier interface {
	SendConfirmationRequest(ctx context.Context, b Booking, p provider.Provider) error
	SendCancellationNotice(ctx context.Context, b Booking, p provider.Provider) error
}

type Service struct {
	store     Store
	providers Providers
	notifier  Notifier
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(store Store, providers Providers, notifier Notifier, logger *slog.Logger) *Service {
	return &Service{
		store:     store,
		providers: providers,
		notifier:  notifier,
		logger:    logger,
		now:       time.Now,
	}
}

type CreateRequest struct {
	ProviderID    string
	CustomerName  string
	CustomerEmail string
	CustomerPhone string
	Comment       string
	StartTime     time.Time
}

// Create books a pending appointment. The end time derives from the
// provider's current slot duration and is frozen on the booking. The
// store's atomic insert arbitrates concurrent requests: exactly one
// winner per conflicting window, everyone else gets ErrSlotConflict.
func (s *Service) Create(ctx context.Context, req CreateRequest) (Booking, error) {
	p, err := s.providers.GetProvider(ctx, req.ProviderID)
	if err != nil {
		return Booking{}, err
	}
	if err := p.Settings.Validate(); err != nil {
		return Booking{}, err
	}

	now := s.now().UTC()
	start := req.StartTime.UTC()
	if !start.After(now) {
		return Booking{}, ErrInvalidTime
	}

	b := Booking{
		ID:                uuid.NewString(),
		ProviderID:        p.ID,
		CustomerName:      req.CustomerName,
		CustomerEmail:     req.CustomerEmail,
		CustomerPhone:     req.CustomerPhone,
		Comment:           req.Comment,
		StartTime:         start,
		EndTime:           start.Add(time.Duration(p.Settings.SlotDurationMinutes) * time.Minute),
		Status:            StatusPending,
		ConfirmationToken: uuid.NewString(),
		CancellationToken: uuid.NewString(),
		CreatedAt:         now,
	}
	if err := s.store.Insert(ctx, &b); err != nil {
		return Booking{}, err
	}

	if s.notifier != nil {
		if err := s.notifier.SendConfirmationRequest(ctx, b, p); err != nil {
			s.logger.Warn("confirmation request dispatch failed", "booking_id", b.ID, "err", err)
		}
	}
	return b, nil
}

// AdminCreate writes a booking directly in confirmed state, bypassing the
// token flow. The overlap arbitration is identical to Create.
func (s *Service) AdminCreate(ctx context.Context, req CreateRequest) (Booking, error) {
	p, err := s.providers.GetProvider(ctx, req.ProviderID)
	if err != nil {
		return Booking{}, err
	}
	if err := p.Settings.Validate(); err != nil {
		return Booking{}, err
	}

	now := s.now().UTC()
	start := req.StartTime.UTC()
	if !start.After(now) {
		return Booking{}, ErrInvalidTime
	}

	confirmedAt := now
	b := Booking{
		ID:                uuid.NewString(),
		ProviderID:        p.ID,
		CustomerName:      req.CustomerName,
		CustomerEmail:     req.CustomerEmail,
		CustomerPhone:     req.CustomerPhone,
		Comment:           req.Comment,
		StartTime:         start,
		EndTime:           start.Add(time.Duration(p.Settings.SlotDurationMinutes) * time.Minute),
		Status:            StatusConfirmed,
		ConfirmationToken: uuid.NewString(),
		CancellationToken: uuid.NewString(),
		ConfirmedAt:       &confirmedAt,
		CreatedAt:         now,
	}
	if err := s.store.Insert(ctx, &b); err != nil {
		return Booking{}, err
	}
	return b, nil
}

// Confirm transitions pending to confirmed. Re-confirming an already
// confirmed booking succeeds without error: the same link may be opened
// twice.
func (s *Service) Confirm(ctx context.Context, bookingID, token string) (Booking, error) {
	b, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return Booking{}, err
	}
	if b.Status == StatusCanceled {
		return Booking{}, ErrNotFound
	}
	if token != b.ConfirmationToken {
		return Booking{}, ErrInvalidToken
	}
	if b.Status == StatusConfirmed {
		return b, nil
	}

	at := s.now().UTC()
	ok, err := s.store.UpdateStatus(ctx, b.ID, []Status{StatusPending}, StatusConfirmed, at)
	if err != nil {
		return Booking{}, err
	}
	if !ok {
		// Lost a race with another confirm or a cancel; re-read to decide.
		return s.reload(ctx, b.ID, StatusConfirmed)
	}
	b.Status = StatusConfirmed
	b.ConfirmedAt = &at
	return b, nil
}

// Cancel transitions pending or confirmed to canceled. Customers must
// present the cancellation token and respect the provider's deadline;
// admins are exempt from both. Canceling an already canceled booking is
// an idempotent success.
func (s *Service) Cancel(ctx context.Context, bookingID, token string, actor Actor) (Booking, error) {
	b, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return Booking{}, err
	}
	if actor != ActorAdmin && token != b.CancellationToken {
		return Booking{}, ErrInvalidToken
	}
	if b.Status == StatusCanceled {
		return b, nil
	}

	p, err := s.providers.GetProvider(ctx, b.ProviderID)
	if err != nil {
		return Booking{}, err
	}

	now := s.now().UTC()
	if actor != ActorAdmin {
		deadline := time.Duration(p.Settings.CancellationDeadlineHours) * time.Hour
		if b.StartTime.Sub(now) < deadline {
			return Booking{}, ErrDeadlineExceeded
		}
	}

	ok, err := s.store.UpdateStatus(ctx, b.ID, []Status{StatusPending, StatusConfirmed}, StatusCanceled, now)
	if err != nil {
		return Booking{}, err
	}
	if !ok {
		return s.reload(ctx, b.ID, StatusCanceled)
	}
	b.Status = StatusCanceled
	b.CanceledAt = &now

	if s.notifier != nil {
		if err := s.notifier.SendCancellationNotice(ctx, b, p); err != nil {
			s.logger.Warn("cancellation notice dispatch failed", "booking_id", b.ID, "err", err)
		}
	}
	return b, nil
}

// reload resolves a failed conditional update: if someone else already
// put the booking into the desired state, that is a success.
func (s *Service) reload(ctx context.Context, id string, want Status) (Booking, error) {
	b, err := s.store.GetBooking(ctx, id)
	if err != nil {
		return Booking{}, err
	}
	if b.Status == want {
		return b, nil
	}
	return Booking{}, ErrNotFound
}
