// Package handlers exposes the booking engine over HTTP: a public
// surface for customers (slots, book, confirm, cancel) and a
// token-protected admin surface for tenants.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"slotbook/internal/booking"
	"slotbook/internal/provider"
)

type bookingItem struct {
	BookingID     string `json:"booking_id"`
	ProviderID    string `json:"provider_id"`
	CustomerName  string `json:"customer_name,omitempty"`
	CustomerEmail string `json:"customer_email,omitempty"`
	CustomerPhone string `json:"customer_phone,omitempty"`
	Comment       string `json:"comment,omitempty"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
	Status        string `json:"status"`
	ConfirmedAt   string `json:"confirmed_at,omitempty"`
	CanceledAt    string `json:"canceled_at,omitempty"`
	CreatedAt     string `json:"created_at"`
}

// Tokens never appear in responses; they reach the customer through the
// notifier only.
func toBookingItem(b booking.Booking, includeCustomer bool) bookingItem {
	item := bookingItem{
		BookingID:  b.ID,
		ProviderID: b.ProviderID,
		StartTime:  b.StartTime.UTC().Format(time.RFC3339),
		EndTime:    b.EndTime.UTC().Format(time.RFC3339),
		Status:     string(b.Status),
		CreatedAt:  b.CreatedAt.UTC().Format(time.RFC3339),
	}
	if includeCustomer {
		item.CustomerName = b.CustomerName
		item.CustomerEmail = b.CustomerEmail
		item.CustomerPhone = b.CustomerPhone
		item.Comment = b.Comment
	}
	if b.ConfirmedAt != nil {
		item.ConfirmedAt = b.ConfirmedAt.UTC().Format(time.RFC3339)
	}
	if b.CanceledAt != nil {
		item.CanceledAt = b.CanceledAt.UTC().Format(time.RFC3339)
	}
	return item
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// writeDomainError translates the service error taxonomy into HTTP
// statuses. Unknown errors fall through to 500 without leaking details.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, booking.ErrNotFound):
		http.Error(w, "booking or provider not found", http.StatusNotFound)
	case errors.Is(err, booking.ErrInvalidToken):
		http.Error(w, "invalid token", http.StatusForbidden)
	case errors.Is(err, booking.ErrSlotConflict):
		http.Error(w, "time slot already booked", http.StatusConflict)
	case errors.Is(err, booking.ErrInvalidTime):
		http.Error(w, "start time must be in the future", http.StatusUnprocessableEntity)
	case errors.Is(err, booking.ErrDeadlineExceeded):
		http.Error(w, "cancellation deadline has passed", http.StatusUnprocessableEntity)
	case errors.Is(err, provider.ErrInvalidSettings):
		http.Error(w, "invalid provider settings", http.StatusUnprocessableEntity)
	case errors.Is(err, booking.ErrStoreUnavailable):
		http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
