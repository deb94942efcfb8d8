package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"slotbook/internal/booking"
	"slotbook/internal/outbox"
	"slotbook/internal/reminder"
	"slotbook/libs/db"
)

// BookingRepository persists bookings and writes the matching outbox
// events inside the same transaction as each state change.
type BookingRepository struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewBookingRepository(pool *db.Pool, outboxRepo *outbox.Repository) *BookingRepository {
	return &BookingRepository{pool: pool, outbox: outboxRepo}
}

const bookingColumns = `
	id::text, provider_id::text, customer_name, customer_email, COALESCE(customer_phone, ''),
	COALESCE(comment, ''), start_time, end_time, status,
	confirmation_token, cancellation_token,
	confirmed_at, canceled_at, reminder_sent_at, created_at`

// Insert is the single correctness-critical section: the overlap check
// and the write happen in one transaction, serialized per provider via
// an advisory lock. The partial unique index on (provider_id,
// start_time) backstops the check.
func (r *BookingRepository) Insert(ctx context.Context, b *booking.Booking) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return storeErr(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, b.ProviderID); err != nil {
		return storeErr(err)
	}

	var conflict bool
	err = tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM bookings
			WHERE provider_id = $1
				AND status <> 'canceled'
				AND start_time < $3
				AND end_time > $2
		)
	`, b.ProviderID, b.StartTime, b.EndTime).Scan(&conflict)
	if err != nil {
		return storeErr(err)
	}
	if conflict {
		return booking.ErrSlotConflict
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO bookings
			(id, provider_id, customer_name, customer_email, customer_phone, comment,
			 start_time, end_time, status, confirmation_token, cancellation_token, confirmed_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7, $8, $9, $10, $11, $12)
		RETURNING created_at
	`, b.ID, b.ProviderID, b.CustomerName, b.CustomerEmail, b.CustomerPhone, b.Comment,
		b.StartTime, b.EndTime, b.Status, b.ConfirmationToken, b.CancellationToken, b.ConfirmedAt).Scan(&b.CreatedAt)
	if err != nil {
		if isUniqueOrExclusionViolation(err) {
			return booking.ErrSlotConflict
		}
		return storeErr(err)
	}

	if err := r.insertEvent(ctx, tx, outbox.EventBookingCreated, b.ID, map[string]any{
		"booking_id":  b.ID,
		"provider_id": b.ProviderID,
		"start_time":  b.StartTime.UTC().Format(time.RFC3339),
		"end_time":    b.EndTime.UTC().Format(time.RFC3339),
		"status":      string(b.Status),
	}); err != nil {
		return storeErr(err)
	}

	return storeErr(tx.Commit(ctx))
}

func (r *BookingRepository) GetBooking(ctx context.Context, id string) (booking.Booking, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id)
	b, err := scanBooking(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return booking.Booking{}, booking.ErrNotFound
		}
		return booking.Booking{}, storeErr(err)
	}
	return b, nil
}

// FindOverlapping returns non-canceled bookings intersecting
// [start,end), ordered by start time.
func (r *BookingRepository) FindOverlapping(ctx context.Context, providerID string, start, end time.Time) ([]booking.Booking, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE provider_id = $1
			AND status <> 'canceled'
			AND start_time < $3
			AND end_time > $2
		ORDER BY start_time ASC
	`, providerID, start, end)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()
	return collectBookings(rows)
}

// UpdateStatus applies the conditional status transition and records the
// transition timestamp on the matching column.
func (r *BookingRepository) UpdateStatus(ctx context.Context, id string, expected []booking.Status, next booking.Status, at time.Time) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, storeErr(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var providerID string
	err = tx.QueryRow(ctx, `
		UPDATE bookings
		SET status = $2,
			confirmed_at = CASE WHEN $2 = 'confirmed' THEN $3 ELSE confirmed_at END,
			canceled_at  = CASE WHEN $2 = 'canceled'  THEN $3 ELSE canceled_at  END
		WHERE id = $1 AND status = ANY($4)
		RETURNING provider_id::text
	`, id, next, at, statusStrings(expected)).Scan(&providerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, storeErr(err)
	}

	eventType := outbox.EventBookingConfirmed
	if next == booking.StatusCanceled {
		eventType = outbox.EventBookingCanceled
	}
	if err := r.insertEvent(ctx, tx, eventType, id, map[string]any{
		"booking_id":  id,
		"provider_id": providerID,
		"status":      string(next),
		"at":          at.UTC().Format(time.RFC3339),
	}); err != nil {
		return false, storeErr(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, storeErr(err)
	}
	return true, nil
}

// ListByProvider returns bookings for the admin dashboard, newest-first
// unless a window is given.
func (r *BookingRepository) ListByProvider(ctx context.Context, providerID string, from, to time.Time, limit int) ([]booking.Booking, error) {
	if limit <= 0 || limit > 500 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE provider_id = $1
			AND ($2::timestamptz IS NULL OR start_time >= $2)
			AND ($3::timestamptz IS NULL OR start_time <= $3)
		ORDER BY start_time ASC
		LIMIT $4
	`, providerID, nullableTime(from), nullableTime(to), limit)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()
	return collectBookings(rows)
}

// FindDueReminders selects confirmed, not-yet-reminded bookings whose
// start falls inside the provider's reminder window but is still ahead
// of now.
func (r *BookingRepository) FindDueReminders(ctx context.Context, now time.Time) ([]reminder.Due, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT b.id::text, b.provider_id::text, b.customer_name, b.customer_email,
			COALESCE(b.customer_phone, ''), b.start_time, b.end_time,
			p.name, p.reminder_hours_before, p.reminder_channels, p.cancellation_deadline_hours
		FROM bookings b
		JOIN providers p ON p.id = b.provider_id
		WHERE b.status = 'confirmed'
			AND b.reminder_sent_at IS NULL
			AND p.reminder_enabled
			AND b.start_time > $1
			AND b.start_time <= $1 + make_interval(hours => p.reminder_hours_before)
		ORDER BY b.start_time ASC
		LIMIT 500
	`, now)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()

	var due []reminder.Due
	for rows.Next() {
		var d reminder.Due
		if err := rows.Scan(
			&d.Booking.ID,
			&d.Booking.ProviderID,
			&d.Booking.CustomerName,
			&d.Booking.CustomerEmail,
			&d.Booking.CustomerPhone,
			&d.Booking.StartTime,
			&d.Booking.EndTime,
			&d.Provider.Name,
			&d.Provider.Settings.Reminders.HoursBefore,
			&d.Provider.Settings.Reminders.Channels,
			&d.Provider.Settings.CancellationDeadlineHours,
		); err != nil {
			return nil, storeErr(err)
		}
		d.Booking.Status = booking.StatusConfirmed
		d.Provider.ID = d.Booking.ProviderID
		d.Provider.Settings.Reminders.Enabled = true
		due = append(due, d)
	}
	if rows.Err() != nil {
		return nil, storeErr(rows.Err())
	}
	return due, nil
}

// MarkReminderSent claims the reminder. The null guard makes the claim
// exclusive across overlapping sweeps.
func (r *BookingRepository) MarkReminderSent(ctx context.Context, bookingID string, at time.Time) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, storeErr(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE bookings
		SET reminder_sent_at = $2
		WHERE id = $1 AND reminder_sent_at IS NULL
	`, bookingID, at)
	if err != nil {
		return false, storeErr(err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	if err := r.insertEvent(ctx, tx, outbox.EventReminderSent, bookingID, map[string]any{
		"booking_id": bookingID,
		"sent_at":    at.UTC().Format(time.RFC3339),
	}); err != nil {
		return false, storeErr(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, storeErr(err)
	}
	return true, nil
}

func (r *BookingRepository) insertEvent(ctx context.Context, tx pgx.Tx, eventType, bookingID string, payload map[string]any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return r.outbox.Insert(ctx, tx, outbox.Event{
		AggregateType: "booking",
		AggregateID:   bookingID,
		EventType:     eventType,
		Payload:       raw,
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (booking.Booking, error) {
	var b booking.Booking
	err := row.Scan(
		&b.ID,
		&b.ProviderID,
		&b.CustomerName,
		&b.CustomerEmail,
		&b.CustomerPhone,
		&b.Comment,
		&b.StartTime,
		&b.EndTime,
		&b.Status,
		&b.ConfirmationToken,
		&b.CancellationToken,
		&b.ConfirmedAt,
		&b.CanceledAt,
		&b.ReminderSentAt,
		&b.CreatedAt,
	)
	return b, err
}

func collectBookings(rows pgx.Rows) ([]booking.Booking, error) {
	var out []booking.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, storeErr(err)
		}
		out = append(out, b)
	}
	if rows.Err() != nil {
		return nil, storeErr(rows.Err())
	}
	return out, nil
}

func statusStrings(statuses []booking.Status) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s))
	}
	return out
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func isUniqueOrExclusionViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && (pgErr.Code == "23505" || pgErr.Code == "23P01")
}
