package booking

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"slotbook/internal/provider"
)

// memStore mirrors the transactional guarantees of the real store: a
// single mutex serializes Insert's check-and-write and makes
// UpdateStatus conditional.
type memStore struct {
	mu       sync.Mutex
	bookings map[string]Booking
}

func newMemStore() *memStore {
	return &memStore{bookings: map[string]Booking{}}
}

func (s *memStore) GetBooking(_ context.Context, id string) (Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return Booking{}, ErrNotFound
	}
	return b, nil
}

func (s *memStore) FindOverlapping(_ context.Context, providerID string, start, end time.Time) ([]Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Booking
	for _, b := range s.bookings {
		if b.ProviderID == providerID && b.Blocks() && b.StartTime.Before(end) && start.Before(b.EndTime) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *memStore) Insert(_ context.Context, b *Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.bookings {
		if existing.ProviderID != b.ProviderID || !existing.Blocks() {
			continue
		}
		if existing.StartTime.Before(b.EndTime) && b.StartTime.Before(existing.EndTime) {
			return ErrSlotConflict
		}
	}
	s.bookings[b.ID] = *b
	return nil
}

func (s *memStore) UpdateStatus(_ context.Context, id string, expected []Status, next Status, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
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
	case StatusConfirmed:
		b.ConfirmedAt = &at
	case StatusCanceled:
		b.CanceledAt = &at
	}
	s.bookings[id] = b
	return true, nil
}

type memProviders struct {
	providers map[string]provider.Provider
}

func (p *memProviders) GetProvider(_ context.Context, id string) (provider.Provider, error) {
	pr, ok := p.providers[id]
	if !ok {
		return provider.Provider{}, ErrNotFound
	}
	return pr, nil
}

type countingNotifier struct {
	mu            sync.Mutex
	confirmations int
	cancellations int
	err           error
}

func (n *countingNotifier) SendConfirmationRequest(context.Context, Booking, provider.Provider) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.confirmations++
	return n.err
}

func (n *countingNotifier) SendCancellationNotice(context.Context, Booking, provider.Provider) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cancellations++
	return n.err
}

var testNow = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *memStore, *countingNotifier) {
	t.Helper()
	store := newMemStore()
	notifier := &countingNotifier{}
	providers := &memProviders{providers: map[string]provider.Provider{
		"prov-1": {ID: "prov-1", Name: "Dr. Probe", Settings: provider.DefaultSettings()},
	}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(store, providers, notifier, logger)
	svc.now = func() time.Time { return testNow }
	return svc, store, notifier
}

func createReq(start time.Time) CreateRequest {
	return CreateRequest{
		ProviderID:    "prov-1",
		CustomerName:  "Ada",
		CustomerEmail: "ada@example.com",
		StartTime:     start,
	}
}

func TestCreatePendingBooking(t *testing.T) {
	svc, _, notifier := newTestService(t)

	start := testNow.Add(26 * time.Hour)
	b, err := svc.Create(context.Background(), createReq(start))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if b.Status != StatusPending {
		t.Fatalf("expected pending, got %s", b.Status)
	}
	if !b.EndTime.Equal(start.Add(30 * time.Minute)) {
		t.Fatalf("end time should derive from slot duration, got %s", b.EndTime)
	}
	if b.ConfirmationToken == "" || b.CancellationToken == "" {
		t.Fatal("tokens must be minted at creation")
	}
	if b.ConfirmationToken == b.CancellationToken {
		t.Fatal("confirm and cancel tokens must differ")
	}
	if notifier.confirmations != 1 {
		t.Fatalf("expected 1 confirmation request, got %d", notifier.confirmations)
	}
}

func TestCreateRejectsPastStart(t *testing.T) {
	svc, _, _ := newTestService(t)

	for _, start := range []time.Time{testNow.Add(-time.Hour), testNow} {
		if _, err := svc.Create(context.Background(), createReq(start)); !errors.Is(err, ErrInvalidTime) {
			t.Fatalf("start %s: expected ErrInvalidTime, got %v", start, err)
		}
	}
}

func TestCreateUnknownProvider(t *testing.T) {
	svc, _, _ := newTestService(t)

	req := createReq(testNow.Add(time.Hour))
	req.ProviderID = "missing"
	if _, err := svc.Create(context.Background(), req); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateInvalidProviderSettings(t *testing.T) {
	svc, _, _ := newTestService(t)
	broken := provider.DefaultSettings()
	broken.SlotDurationMinutes = 0
	svc.providers.(*memProviders).providers["prov-broken"] = provider.Provider{ID: "prov-broken", Settings: broken}

	req := createReq(testNow.Add(time.Hour))
	req.ProviderID = "prov-broken"
	if _, err := svc.Create(context.Background(), req); !errors.Is(err, provider.ErrInvalidSettings) {
		t.Fatalf("expected ErrInvalidSettings, got %v", err)
	}
}

func TestCreateConflict(t *testing.T) {
	svc, _, _ := newTestService(t)
	start := testNow.Add(26 * time.Hour)

	if _, err := svc.Create(context.Background(), createReq(start)); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := svc.Create(context.Background(), createReq(start)); !errors.Is(err, ErrSlotConflict) {
		t.Fatalf("expected ErrSlotConflict, got %v", err)
	}
	// Overlapping but not identical start loses as well.
	if _, err := svc.Create(context.Background(), createReq(start.Add(15*time.Minute))); !errors.Is(err, ErrSlotConflict) {
		t.Fatalf("expected ErrSlotConflict for overlapping start, got %v", err)
	}
}

func TestCreateConcurrentSingleWinner(t *testing.T) {
	svc, _, _ := newTestService(t)
	start := testNow.Add(26 * time.Hour)

	const attempts = 16
	errs := make([]error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Create(context.Background(), createReq(start))
		}(i)
	}
	wg.Wait()

	winners := 0
	for i, err := range errs {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, ErrSlotConflict):
		default:
			t.Fatalf("attempt %d: unexpected error %v", i, err)
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly 1 winner, got %d", winners)
	}
}

func TestConfirmLifecycle(t *testing.T) {
	svc, _, _ := newTestService(t)
	b, err := svc.Create(context.Background(), createReq(testNow.Add(26*time.Hour)))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := svc.Confirm(context.Background(), b.ID, "wrong"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}

	confirmed, err := svc.Confirm(context.Background(), b.ID, b.ConfirmationToken)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if confirmed.Status != StatusConfirmed || confirmed.ConfirmedAt == nil {
		t.Fatalf("expected confirmed with timestamp, got %+v", confirmed)
	}

	// Opening the link again is a no-op success.
	again, err := svc.Confirm(context.Background(), b.ID, b.ConfirmationToken)
	if err != nil {
		t.Fatalf("re-confirm: %v", err)
	}
	if again.Status != StatusConfirmed {
		t.Fatalf("expected confirmed, got %s", again.Status)
	}
}

func TestConfirmCanceledBooking(t *testing.T) {
	svc, _, _ := newTestService(t)
	b, err := svc.Create(context.Background(), createReq(testNow.Add(26*time.Hour)))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Cancel(context.Background(), b.ID, b.CancellationToken, ActorCustomer); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	if _, err := svc.Confirm(context.Background(), b.ID, b.ConfirmationToken); !errors.Is(err, ErrNotFound) {
		t.Fatalf("confirming a canceled booking: expected ErrNotFound, got %v", err)
	}
}

func TestCancelDeadline(t *testing.T) {
	svc, _, notifier := newTestService(t)

	// Default deadline is 12h: a booking 6h out is too close for the
	// customer, but not for the admin.
	b, err := svc.Create(context.Background(), createReq(testNow.Add(6*time.Hour)))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := svc.Cancel(context.Background(), b.ID, b.CancellationToken, ActorCustomer); !errors.Is(err, ErrDeadlineExceeded) {
		t.Fatalf("expected ErrDeadlineExceeded, got %v", err)
	}

	canceled, err := svc.Cancel(context.Background(), b.ID, "", ActorAdmin)
	if err != nil {
		t.Fatalf("admin cancel: %v", err)
	}
	if canceled.Status != StatusCanceled || canceled.CanceledAt == nil {
		t.Fatalf("expected canceled with timestamp, got %+v", canceled)
	}
	if notifier.cancellations != 1 {
		t.Fatalf("expected 1 cancellation notice, got %d", notifier.cancellations)
	}
}

func TestCancelExactlyAtDeadline(t *testing.T) {
	svc, _, _ := newTestService(t)

	b, err := svc.Create(context.Background(), createReq(testNow.Add(12*time.Hour)))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	// Lead time equal to the deadline still passes; only strictly less fails.
	if _, err := svc.Cancel(context.Background(), b.ID, b.CancellationToken, ActorCustomer); err != nil {
		t.Fatalf("cancel at exact deadline: %v", err)
	}
}

func TestCancelWrongToken(t *testing.T) {
	svc, _, _ := newTestService(t)
	b, err := svc.Create(context.Background(), createReq(testNow.Add(26*time.Hour)))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Cancel(context.Background(), b.ID, b.ConfirmationToken, ActorCustomer); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("confirmation token must not cancel, got %v", err)
	}
}

func TestCancelIdempotent(t *testing.T) {
	svc, _, notifier := newTestService(t)
	b, err := svc.Create(context.Background(), createReq(testNow.Add(26*time.Hour)))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := svc.Cancel(context.Background(), b.ID, b.CancellationToken, ActorCustomer); err != nil {
		t.Fatalf("first cancel: %v", err)
	}
	again, err := svc.Cancel(context.Background(), b.ID, b.CancellationToken, ActorCustomer)
	if err != nil {
		t.Fatalf("second cancel: %v", err)
	}
	if again.Status != StatusCanceled {
		t.Fatalf("expected canceled, got %s", again.Status)
	}
	if notifier.cancellations != 1 {
		t.Fatalf("repeat cancel must not re-notify, got %d notices", notifier.cancellations)
	}
}

func TestCancelFreesSlot(t *testing.T) {
	svc, _, _ := newTestService(t)
	start := testNow.Add(26 * time.Hour)

	b, err := svc.Create(context.Background(), createReq(start))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Cancel(context.Background(), b.ID, b.CancellationToken, ActorCustomer); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := svc.Create(context.Background(), createReq(start)); err != nil {
		t.Fatalf("slot should be free after cancellation: %v", err)
	}
}

func TestAdminCreateConfirmed(t *testing.T) {
	svc, _, notifier := newTestService(t)

	b, err := svc.AdminCreate(context.Background(), createReq(testNow.Add(26*time.Hour)))
	if err != nil {
		t.Fatalf("admin create: %v", err)
	}
	if b.Status != StatusConfirmed || b.ConfirmedAt == nil {
		t.Fatalf("expected confirmed booking, got %+v", b)
	}
	if notifier.confirmations != 0 {
		t.Fatalf("admin create must not send a confirmation request, got %d", notifier.confirmations)
	}
}

func TestNotifierFailureDoesNotFailCreate(t *testing.T) {
	svc, _, notifier := newTestService(t)
	notifier.err = errors.New("smtp down")

	if _, err := svc.Create(context.Background(), createReq(testNow.Add(26*time.Hour))); err != nil {
		t.Fatalf("create must succeed despite notifier failure: %v", err)
	}
}
