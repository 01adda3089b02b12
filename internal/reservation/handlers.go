package reservation

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/noah-isme/slot-reservations/internal/common"
	"github.com/noah-isme/slot-reservations/internal/inventory"
)

const (
	defaultPerPage = 20
	maxPerPage     = 100
)

// Handler exposes booking endpoints.
type Handler struct {
	Svc    *Service
	Logger zerolog.Logger
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service, logger zerolog.Logger) *Handler {
	return &Handler{Svc: svc, Logger: logger}
}

// Reserve handles POST /bookings. A first confirmation answers 201; a replay
// of a known refId answers 200 with the stored booking.
func (h *Handler) Reserve(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	if strings.TrimSpace(req.RefID) == "" {
		req.RefID = strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	}
	conf, err := h.Svc.Reserve(r.Context(), req)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	status := http.StatusCreated
	if conf.Replayed {
		status = http.StatusOK
		w.Header().Set("Idempotent-Replayed", "true")
	}
	w.Header().Set("Location", "/api/v1/bookings/"+conf.Booking.RefID)
	common.JSON(w, status, map[string]any{"data": conf.Booking})
}

// Quote handles POST /bookings/quote.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	var req QuoteRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	q, err := h.Svc.Quote(r.Context(), req)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": q})
}

// Get handles GET /bookings/{refId}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	b, err := h.Svc.Get(r.Context(), chi.URLParam(r, "refId"))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": b})
}

// List handles GET /admin/bookings for operators. Supports experienceId, email,
// page and limit query parameters.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	page, perPage := common.ParsePagination(r, defaultPerPage, maxPerPage)
	q := r.URL.Query()
	res, err := h.Svc.List(r.Context(), inventory.BookingFilter{
		ExperienceID: strings.TrimSpace(q.Get("experienceId")),
		Email:        q.Get("email"),
		Limit:        perPage,
		Offset:       common.Offset(page, perPage),
	})
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"data": res.Items,
		"pagination": common.Pagination{
			Page:       page,
			PerPage:    perPage,
			TotalItems: res.Total,
		},
	})
}
