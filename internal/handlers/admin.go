package handlers

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"slotbook/internal/booking"
	"slotbook/internal/provider"
	"slotbook/internal/timegrid"
)

// ProviderStore is the settings administration surface.
type ProviderStore interface {
	GetProvider(ctx context.Context, id string) (provider.Provider, error)
	Create(ctx context.Context, name string, set provider.Settings) (provider.Provider, error)
	UpdateSettings(ctx context.Context, id string, set provider.Settings) error
}

type BookingLister interface {
	ListByProvider(ctx context.Context, providerID string, from, to time.Time, limit int) ([]booking.Booking, error)
}

// AdminHandler guards every route with a shared-secret header. With no
// secret configured the admin surface stays closed.
type AdminHandler struct {
	bookings  *booking.Service
	providers ProviderStore
	lister    BookingLister
	token     string
	logger    *slog.Logger
}

func NewAdminHandler(bookings *booking.Service, providers ProviderStore, lister BookingLister, token string, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		bookings:  bookings,
		providers: providers,
		lister:    lister,
		token:     strings.TrimSpace(token),
		logger:    logger,
	}
}

func (h *AdminHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/admin/bookings", h.Bookings)
	mux.HandleFunc("/api/v1/admin/bookings/cancel", h.CancelBooking)
	mux.HandleFunc("/api/v1/admin/provider", h.Provider)
	mux.HandleFunc("/api/v1/admin/providers", h.CreateProvider)
}

func (h *AdminHandler) authorized(w http.ResponseWriter, r *http.Request) bool {
	if h.token == "" {
		http.Error(w, "admin api disabled", http.StatusServiceUnavailable)
		return false
	}
	got := strings.TrimSpace(r.Header.Get("X-Admin-Token"))
	if subtle.ConstantTimeCompare([]byte(got), []byte(h.token)) != 1 {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return false
	}
	return true
}

// Bookings serves GET (list) and POST (direct-create confirmed) on the
// same route.
func (h *AdminHandler) Bookings(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(w, r) {
		return
	}
	switch r.Method {
	case http.MethodGet:
		h.listBookings(w, r)
	case http.MethodPost:
		h.createBooking(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *AdminHandler) listBookings(w http.ResponseWriter, r *http.Request) {
	providerID := strings.TrimSpace(r.URL.Query().Get("provider_id"))
	if providerID == "" {
		http.Error(w, "provider_id required", http.StatusBadRequest)
		return
	}

	var from, to time.Time
	if raw := strings.TrimSpace(r.URL.Query().Get("from")); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "invalid from", http.StatusBadRequest)
			return
		}
		from = t
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("to")); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "invalid to", http.StatusBadRequest)
			return
		}
		to = t
	}
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	bookings, err := h.lister.ListByProvider(r.Context(), providerID, from, to, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	items := make([]bookingItem, 0, len(bookings))
	for _, b := range bookings {
		items = append(items, toBookingItem(b, true))
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *AdminHandler) createBooking(w http.ResponseWriter, r *http.Request) {
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

	b, err := h.bookings.AdminCreate(r.Context(), booking.CreateRequest{
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
	writeJSON(w, http.StatusCreated, toBookingItem(b, true))
}

type adminCancelRequest struct {
	BookingID string `json:"booking_id"`
}

// CancelBooking cancels on behalf of the tenant: no token, no deadline.
func (h *AdminHandler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(w, r) {
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req adminCancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.BookingID = strings.TrimSpace(req.BookingID)
	if req.BookingID == "" {
		http.Error(w, "booking_id required", http.StatusBadRequest)
		return
	}

	b, err := h.bookings.Cancel(r.Context(), req.BookingID, "", booking.ActorAdmin)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingItem(b, true))
}

func (h *AdminHandler) Provider(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(w, r) {
		return
	}
	switch r.Method {
	case http.MethodGet:
		h.getProvider(w, r)
	case http.MethodPut:
		h.updateProvider(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

type providerResponse struct {
	ProviderID string          `json:"provider_id"`
	Name       string          `json:"name"`
	Settings   settingsPayload `json:"settings"`
	CreatedAt  string          `json:"created_at"`
}

func (h *AdminHandler) getProvider(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("provider_id"))
	if id == "" {
		http.Error(w, "provider_id required", http.StatusBadRequest)
		return
	}
	p, err := h.providers.GetProvider(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, providerResponse{
		ProviderID: p.ID,
		Name:       p.Name,
		Settings:   payloadFromSettings(p.Settings),
		CreatedAt:  p.CreatedAt.UTC().Format(time.RFC3339),
	})
}

type updateProviderRequest struct {
	ProviderID string          `json:"provider_id"`
	Settings   settingsPayload `json:"settings"`
}

func (h *AdminHandler) updateProvider(w http.ResponseWriter, r *http.Request) {
	var req updateProviderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.ProviderID = strings.TrimSpace(req.ProviderID)
	if req.ProviderID == "" {
		http.Error(w, "provider_id required", http.StatusBadRequest)
		return
	}
	set, err := settingsFromPayload(req.Settings)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	if err := h.providers.UpdateSettings(r.Context(), req.ProviderID, set); err != nil {
		writeDomainError(w, err)
		return
	}
	h.logger.Info("provider settings updated", "provider_id", req.ProviderID)
	writeJSON(w, http.StatusOK, map[string]string{"provider_id": req.ProviderID, "status": "updated"})
}

type createProviderRequest struct {
	Name     string           `json:"name"`
	Settings *settingsPayload `json:"settings"`
}

// CreateProvider registers a new tenant. Omitted settings fall back to
// the stock configuration.
func (h *AdminHandler) CreateProvider(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(w, r) {
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req createProviderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		http.Error(w, "name required", http.StatusBadRequest)
		return
	}

	set := provider.DefaultSettings()
	if req.Settings != nil {
		parsed, err := settingsFromPayload(*req.Settings)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		set = parsed
	}

	p, err := h.providers.Create(r.Context(), req.Name, set)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	h.logger.Info("provider created", "provider_id", p.ID, "name", p.Name)
	writeJSON(w, http.StatusCreated, providerResponse{
		ProviderID: p.ID,
		Name:       p.Name,
		Settings:   payloadFromSettings(p.Settings),
		CreatedAt:  p.CreatedAt.UTC().Format(time.RFC3339),
	})
}

// Wire format for working hours: weekday number (0 = Sunday) plus HH:MM
// clock strings, easier on API clients than minute offsets.
type hoursItem struct {
	Weekday int    `json:"weekday"`
	Start   string `json:"start"`
	End     string `json:"end"`
}

type reminderPayload struct {
	Enabled     bool     `json:"enabled"`
	HoursBefore int      `json:"hours_before"`
	Channels    []string `json:"channels"`
}

type settingsPayload struct {
	SlotDurationMinutes       int             `json:"slot_duration_minutes"`
	BufferMinutes             int             `json:"buffer_minutes"`
	CancellationDeadlineHours int             `json:"cancellation_deadline_hours"`
	WorkingHours              []hoursItem     `json:"working_hours"`
	Breaks                    []hoursItem     `json:"breaks,omitempty"`
	Reminders                 reminderPayload `json:"reminders"`
}

func settingsFromPayload(p settingsPayload) (provider.Settings, error) {
	set := provider.Settings{
		SlotDurationMinutes:       p.SlotDurationMinutes,
		BufferMinutes:             p.BufferMinutes,
		CancellationDeadlineHours: p.CancellationDeadlineHours,
		WorkingHours:              map[time.Weekday][]provider.Range{},
		Breaks:                    map[time.Weekday][]provider.Range{},
		Reminders: provider.ReminderConfig{
			Enabled:     p.Reminders.Enabled,
			HoursBefore: p.Reminders.HoursBefore,
			Channels:    p.Reminders.Channels,
		},
	}
	appendRanges := func(dst map[time.Weekday][]provider.Range, items []hoursItem) error {
		for _, item := range items {
			start, err := timegrid.ParseClock(item.Start)
			if err != nil {
				return err
			}
			end, err := timegrid.ParseClock(item.End)
			if err != nil {
				return err
			}
			wd := time.Weekday(item.Weekday)
			dst[wd] = append(dst[wd], provider.Range{StartMinute: start, EndMinute: end})
		}
		return nil
	}
	if err := appendRanges(set.WorkingHours, p.WorkingHours); err != nil {
		return provider.Settings{}, err
	}
	if err := appendRanges(set.Breaks, p.Breaks); err != nil {
		return provider.Settings{}, err
	}
	return set, nil
}

func payloadFromSettings(set provider.Settings) settingsPayload {
	out := settingsPayload{
		SlotDurationMinutes:       set.SlotDurationMinutes,
		BufferMinutes:             set.BufferMinutes,
		CancellationDeadlineHours: set.CancellationDeadlineHours,
		WorkingHours:              []hoursItem{},
		Reminders: reminderPayload{
			Enabled:     set.Reminders.Enabled,
			HoursBefore: set.Reminders.HoursBefore,
			Channels:    set.Reminders.Channels,
		},
	}
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		for _, rg := range set.WorkingHours[wd] {
			out.WorkingHours = append(out.WorkingHours, hoursItem{
				Weekday: int(wd),
				Start:   timegrid.FormatClock(rg.StartMinute),
				End:     timegrid.FormatClock(rg.EndMinute),
			})
		}
		for _, rg := range set.Breaks[wd] {
			out.Breaks = append(out.Breaks, hoursItem{
				Weekday: int(wd),
				Start:   timegrid.FormatClock(rg.StartMinute),
				End:     timegrid.FormatClock(rg.EndMinute),
			})
		}
	}
	return out
}
