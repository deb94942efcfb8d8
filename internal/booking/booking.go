// Package booking owns the appointment lifecycle: creation against the
// no-overlap invariant, token-gated confirmation and cancellation, and
// the deadline rule for customer-initiated cancellation.
package booking

import "time"

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCanceled  Status = "canceled"
)

// Actor distinguishes customer self-service calls from admin calls.
type Actor string

const (
	ActorCustomer Actor = "customer"
	ActorAdmin    Actor = "admin"
)

// Booking is one requested or realized appointment. StartTime/EndTime are
// frozen at creation; later provider setting changes never move them.
type Booking struct {
	ID            string
	ProviderID    string
	CustomerName  string
	CustomerEmail string
	CustomerPhone string
	Comment       string
	StartTime     time.Time
	EndTime       time.Time
	Status        Status
	// Single-purpose secrets minted at creation and returned to the
	// caller for delivery via the notifier. Never listed on admin reads.
	ConfirmationToken string
	CancellationToken string
	ConfirmedAt       *time.Time
	CanceledAt        *time.Time
	// ReminderSentAt is the reminder sweep's idempotency guard: set at
	// most once, via a conditional write.
	ReminderSentAt *time.Time
	CreatedAt      time.Time
}

// Blocks reports whether the booking still occupies its time window.
func (b Booking) Blocks() bool {
	return b.Status != StatusCanceled
}
