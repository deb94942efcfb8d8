package booking

import "errors"

// Business outcomes surfaced directly to callers; never retried.
var (
	// ErrInvalidTime rejects bookings whose start is not strictly in the
	// future, or malformed date/time input.
	ErrInvalidTime = errors.New("requested time is not bookable")
	// ErrSlotConflict is returned to the loser(s) of a create race.
	ErrSlotConflict = errors.New("slot already booked")
	ErrNotFound     = errors.New("booking not found")
	ErrInvalidToken = errors.New("invalid token")
	// ErrDeadlineExceeded rejects customer cancellations inside the
	// provider's cancellation deadline. Admin cancellation is exempt.
	ErrDeadlineExceeded = errors.New("cancellation deadline exceeded")
)

// ErrStoreUnavailable wraps transient store failures (unreachable,
// timeout). Callers surface it; the reminder sweep retries on its next
// tick instead.
var ErrStoreUnavailable = errors.New("booking store unavailable")
