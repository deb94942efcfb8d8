package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"slotbook/internal/availability"
	"slotbook/internal/booking"
	"slotbook/internal/provider"
	"slotbook/internal/timegrid"
)

// ProviderDirectory resolves tenant configuration for slot computation.
type ProviderDirectory interface {
	GetProvider(ctx context.Context, id string) (provider.Provider, error)
}

// BookingReader supplies the booked intervals of a day.
type BookingReader interface {
	FindOverlapping(ctx context.Context, providerID string, start, end time.Time) ([]booking.Booking, error)
}

type PublicHandler struct {
	bookings  *booking.Service
	providers ProviderDirectory
	reader    BookingReader
	logger    *slog.Logger
}

func NewPublicHandler(bookings *booking.Service, providers ProviderDirectory, reader BookingReader, logger *slog.Logger) *PublicHandler {
	return &PublicHandler{
		bookings:  bookings,
		providers: providers,
		reader:    reader,
		logger:    logger,
	}
}

func (h *PublicHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/public/slots", h.Slots)
	mux.HandleFunc("/api/v1/public/book", h.Book)
	mux.HandleFunc("/api/v1/public/booking/confirm", h.Confirm)
	mux.HandleFunc("/api/v1/public/booking/cancel", h.Cancel)
}

type slotItem struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Available bool   `json:"available"`
}

// Slots renders the full day grid for a provider, booked candidates
// included. A provider with broken settings or no hours that day gets an
// empty list, not an error.
func (h *PublicHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	providerID := strings.TrimSpace(r.URL.Query().Get("provider_id"))
	dateStr := strings.TrimSpace(r.URL.Query().Get("date"))
	if providerID == "" || dateStr == "" {
		http.Error(w, "provider_id and date are required", http.StatusBadRequest)
		return
	}
	date, err := time.ParseInLocation("2006-01-02", dateStr, time.UTC)
	if err != nil {
		http.Error(w, "invalid date (want YYYY-MM-DD)", http.StatusBadRequest)
		return
	}

	p, err := h.providers.GetProvider(r.Context(), providerID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	items := []slotItem{}
	if p.Settings.Validate() == nil {
		dayStart := timegrid.OnDay(date, 0)
		dayEnd := timegrid.OnDay(date, timegrid.MinutesPerDay)
		booked, err := h.reader.FindOverlapping(r.Context(), p.ID, dayStart, dayEnd)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		busy := make([]availability.Interval, 0, len(booked))
		for _, b := range booked {
			busy = append(busy, availability.Interval{Start: b.StartTime, End: b.EndTime})
		}
		for _, s := range availability.ComputeSlots(p.Settings, date, busy) {
			items = append(items, slotItem{
				StartTime: s.Start.UTC().Format(time.RFC3339),
				EndTime:   s.End.UTC().Format(time.RFC3339),
				Available: s.Available,
			})
		}
	} else {
		h.logger.Warn("provider settings invalid, serving empty slot list", "provider_id", p.ID)
	}

	writeJSON(w, http.StatusOK, items)
}

type bookRequest struct {
	ProviderID    string `json:"provider_id"`
	CustomerName  string `json:"customer_name"`
	CustomerEmail string `json:"customer_email"`
	CustomerPhone string `json:"customer_phone"`
	Comment       string `json:"comment"`
	StartTime     string `json:"start_time"`
}

func (h *PublicHandler) Book(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req bookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.ProviderID = strings.TrimSpace(req.ProviderID)
	req.CustomerName = strings.TrimSpace(req.CustomerName)
	req.CustomerEmail = strings.TrimSpace(req.CustomerEmail)
	if req.ProviderID == "" || req.CustomerName == "" || req.CustomerEmail == "" {
		http.Error(w, "provider_id, customer_name and customer_email are required", http.StatusBadRequest)
		return
	}
	start, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		http.Error(w, "invalid start_time", http.StatusBadRequest)
		return
	}

	b, err := h.bookings.Create(r.Context(), booking.CreateRequest{
		ProviderID:    req.ProviderID,
		CustomerName:  req.CustomerName,
		CustomerEmail: req.CustomerEmail,
		CustomerPhone: strings.TrimSpace(req.CustomerPhone),
		Comment:       strings.TrimSpace(req.Comment),
		StartTime:     start,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBookingItem(b, false))
}

type tokenRequest struct {
	BookingID string `json:"booking_id"`
	Token     string `json:"token"`
}

func (r *tokenRequest) validate() error {
	r.BookingID = strings.TrimSpace(r.BookingID)
	r.Token = strings.TrimSpace(r.Token)
	if r.BookingID == "" || r.Token == "" {
		return errors.New("booking_id and token are required")
	}
	return nil
}

func (h *PublicHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if err := req.validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	b, err := h.bookings.Confirm(r.Context(), req.BookingID, req.Token)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingItem(b, false))
}

func (h *PublicHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if err := req.validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	b, err := h.bookings.Cancel(r.Context(), req.BookingID, req.Token, booking.ActorCustomer)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingItem(b, false))
}
