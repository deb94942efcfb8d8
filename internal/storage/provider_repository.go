package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"slotbook/internal/booking"
	"slotbook/internal/provider"
	"slotbook/libs/db"
)

type ProviderRepository struct {
	pool *db.Pool
}

func NewProviderRepository(pool *db.Pool) *ProviderRepository {
	return &ProviderRepository{pool: pool}
}

func (r *ProviderRepository) Create(ctx context.Context, name string, set provider.Settings) (provider.Provider, error) {
	if err := set.Validate(); err != nil {
		return provider.Provider{}, err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return provider.Provider{}, storeErr(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	p := provider.Provider{
		ID:       uuid.NewString(),
		Name:     name,
		Settings: set,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO providers
			(id, name, slot_duration_minutes, buffer_minutes, cancellation_deadline_hours,
			 reminder_enabled, reminder_hours_before, reminder_channels)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`, p.ID, p.Name, set.SlotDurationMinutes, set.BufferMinutes, set.CancellationDeadlineHours,
		set.Reminders.Enabled, set.Reminders.HoursBefore, set.Reminders.Channels).Scan(&p.CreatedAt)
	if err != nil {
		return provider.Provider{}, storeErr(err)
	}

	if err := insertRanges(ctx, tx, p.ID, set); err != nil {
		return provider.Provider{}, storeErr(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return provider.Provider{}, storeErr(err)
	}
	return p, nil
}

func (r *ProviderRepository) GetProvider(ctx context.Context, id string) (provider.Provider, error) {
	var p provider.Provider
	var set provider.Settings
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, name, slot_duration_minutes, buffer_minutes, cancellation_deadline_hours,
			reminder_enabled, reminder_hours_before, reminder_channels, created_at
		FROM providers
		WHERE id = $1
	`, id).Scan(
		&p.ID,
		&p.Name,
		&set.SlotDurationMinutes,
		&set.BufferMinutes,
		&set.CancellationDeadlineHours,
		&set.Reminders.Enabled,
		&set.Reminders.HoursBefore,
		&set.Reminders.Channels,
		&p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return provider.Provider{}, booking.ErrNotFound
		}
		return provider.Provider{}, storeErr(err)
	}

	set.WorkingHours = map[time.Weekday][]provider.Range{}
	set.Breaks = map[time.Weekday][]provider.Range{}
	rows, err := r.pool.Query(ctx, `
		SELECT weekday, start_minute, end_minute, is_break
		FROM provider_hours
		WHERE provider_id = $1
		ORDER BY weekday, start_minute
	`, id)
	if err != nil {
		return provider.Provider{}, storeErr(err)
	}
	defer rows.Close()

	for rows.Next() {
		var weekday int
		var rg provider.Range
		var isBreak bool
		if err := rows.Scan(&weekday, &rg.StartMinute, &rg.EndMinute, &isBreak); err != nil {
			return provider.Provider{}, storeErr(err)
		}
		wd := time.Weekday(weekday)
		if isBreak {
			set.Breaks[wd] = append(set.Breaks[wd], rg)
		} else {
			set.WorkingHours[wd] = append(set.WorkingHours[wd], rg)
		}
	}
	if rows.Err() != nil {
		return provider.Provider{}, storeErr(rows.Err())
	}

	p.Settings = set
	return p, nil
}

func (r *ProviderRepository) UpdateSettings(ctx context.Context, id string, set provider.Settings) error {
	if err := set.Validate(); err != nil {
		return err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return storeErr(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE providers
		SET slot_duration_minutes = $2,
			buffer_minutes = $3,
			cancellation_deadline_hours = $4,
			reminder_enabled = $5,
			reminder_hours_before = $6,
			reminder_channels = $7,
			updated_at = now()
		WHERE id = $1
	`, id, set.SlotDurationMinutes, set.BufferMinutes, set.CancellationDeadlineHours,
		set.Reminders.Enabled, set.Reminders.HoursBefore, set.Reminders.Channels)
	if err != nil {
		return storeErr(err)
	}
	if tag.RowsAffected() == 0 {
		return booking.ErrNotFound
	}

	if _, err := tx.Exec(ctx, `DELETE FROM provider_hours WHERE provider_id = $1`, id); err != nil {
		return storeErr(err)
	}
	if err := insertRanges(ctx, tx, id, set); err != nil {
		return storeErr(err)
	}
	return storeErr(tx.Commit(ctx))
}

func insertRanges(ctx context.Context, tx pgx.Tx, providerID string, set provider.Settings) error {
	insert := func(weekday time.Weekday, rg provider.Range, isBreak bool) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO provider_hours (provider_id, weekday, start_minute, end_minute, is_break)
			VALUES ($1, $2, $3, $4, $5)
		`, providerID, int(weekday), rg.StartMinute, rg.EndMinute, isBreak)
		return err
	}
	for wd, ranges := range set.WorkingHours {
		for _, rg := range ranges {
			if err := insert(wd, rg, false); err != nil {
				return err
			}
		}
	}
	for wd, ranges := range set.Breaks {
		for _, rg := range ranges {
			if err := insert(wd, rg, true); err != nil {
				return err
			}
		}
	}
	return nil
}

func storeErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", booking.ErrStoreUnavailable, err)
}
