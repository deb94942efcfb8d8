package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"slotbook/internal/booking"
	"slotbook/internal/provider"
)

// memBackend implements every store interface the handlers and the
// booking service consume, mirroring the conditional semantics of the
// real repositories.
type memBackend struct {
	mu        sync.Mutex
	bookings  map[string]booking.Booking
	providers map[string]provider.Provider
}

func newMemBackend() *memBackend {
	return &memBackend{
		bookings:  map[string]booking.Booking{},
		providers: map[string]provider.Provider{},
	}
}

func (m *memBackend) GetBooking(_ context.Context, id string) (booking.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return booking.Booking{}, booking.ErrNotFound
	}
	return b, nil
}

func (m *memBackend) FindOverlapping(_ context.Context, providerID string, start, end time.Time) ([]booking.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []booking.Booking
	for _, b := range m.bookings {
		if b.ProviderID == providerID && b.Blocks() && b.StartTime.Before(end) && start.Before(b.EndTime) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *memBackend) Insert(_ context.Context, b *booking.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.bookings {
		if existing.ProviderID != b.ProviderID || !existing.Blocks() {
			continue
		}
		if existing.StartTime.Before(b.EndTime) && b.StartTime.Before(existing.EndTime) {
			return booking.ErrSlotConflict
		}
	}
	m.bookings[b.ID] = *b
	return nil
}

func (m *memBackend) UpdateStatus(_ context.Context, id string, expected []booking.Status, next booking.Status, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return false, nil
	}
	matched := false
	for _, want := range expected {
		if b.Status == want {
			matched = true
			break
		}
	}
	if !matched {
		return false, nil
	}
	b.Status = next
	switch next {
	case booking.StatusConfirmed:
		b.ConfirmedAt = &at
	case booking.StatusCanceled:
		b.CanceledAt = &at
	}
	m.bookings[id] = b
	return true, nil
}

func (m *memBackend) ListByProvider(_ context.Context, providerID string, from, to time.Time, _ int) ([]booking.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []booking.Booking
	for _, b := range m.bookings {
		if b.ProviderID != providerID {
			continue
		}
		if !from.IsZero() && b.StartTime.Before(from) {
			continue
		}
		if !to.IsZero() && b.StartTime.After(to) {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

func (m *memBackend) GetProvider(_ context.Context, id string) (provider.Provider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.providers[id]
	if !ok {
		return provider.Provider{}, booking.ErrNotFound
	}
	return p, nil
}

func (m *memBackend) Create(_ context.Context, name string, set provider.Settings) (provider.Provider, error) {
	if err := set.Validate(); err != nil {
		return provider.Provider{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p := provider.Provider{
		ID:        uuid.NewString(),
		Name:      name,
		Settings:  set,
		CreatedAt: time.Now().UTC(),
	}
	m.providers[p.ID] = p
	return p, nil
}

func (m *memBackend) UpdateSettings(_ context.Context, id string, set provider.Settings) error {
	if err := set.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.providers[id]
	if !ok {
		return booking.ErrNotFound
	}
	p.Settings = set
	m.providers[id] = p
	return nil
}

type noopNotifier struct{}

func (noopNotifier) SendConfirmationRequest(context.Context, booking.Booking, provider.Provider) error {
	return nil
}

func (noopNotifier) SendCancellationNotice(context.Context, booking.Booking, provider.Provider) error {
	return nil
}

const testAdminToken = "test-admin-token"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestMux wires handlers against the in-memory backend with one
// seeded provider.
func newTestMux(t *testing.T) (*http.ServeMux, *memBackend, provider.Provider) {
	t.Helper()
	backend := newMemBackend()
	p, err := backend.Create(context.Background(), "Dr. Probe", provider.DefaultSettings())
	if err != nil {
		t.Fatalf("seed provider: %v", err)
	}

	logger := discardLogger()
	svc := booking.NewService(backend, backend, noopNotifier{}, logger)

	mux := http.NewServeMux()
	NewPublicHandler(svc, backend, backend, logger).Register(mux)
	NewAdminHandler(svc, backend, backend, testAdminToken, logger).Register(mux)
	return mux, backend, p
}

// nextMonday returns the start of the first Monday at least 48 hours
// out, keeping bookings safely in the future and on a working day.
func nextMonday() time.Time {
	d := time.Now().UTC().AddDate(0, 0, 2)
	for d.Weekday() != time.Monday {
		d = d.AddDate(0, 0, 1)
	}
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
}
