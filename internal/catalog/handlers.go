package catalog

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/slot-reservations/internal/common"
	"github.com/noah-isme/slot-reservations/internal/inventory"
)

// Handler serves the experience catalog and live slot availability.
type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Experiences handles GET /api/v1/experiences. Slots are not included; clients
// open an experience to see availability.
func (h *Handler) Experiences(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.List(r.Context())
	if err != nil {
		common.WriteError(w, err)
		return
	}
	w.Header().Set("X-Total-Count", strconv.Itoa(len(items)))
	common.JSON(w, http.StatusOK, map[string]any{"data": items})
}

// Experience handles GET /api/v1/experiences/{id}?date=YYYY-MM-DD&open=true.
func (h *Handler) Experience(w http.ResponseWriter, r *http.Request) {
	filter, err := slotFilterFrom(r)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	id := chi.URLParam(r, "id")
	detail, err := h.service.Detail(r.Context(), id)
	if errors.Is(err, ErrNotFound) {
		common.WriteError(w, common.NotFound("experience "+id+" not found", err))
		return
	}
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": filter.Apply(detail)})
}

func slotFilterFrom(r *http.Request) (SlotFilter, error) {
	q := r.URL.Query()
	f := SlotFilter{Date: strings.TrimSpace(q.Get("date"))}
	if f.Date != "" {
		if _, err := time.Parse(inventory.DateLayout, f.Date); err != nil {
			return SlotFilter{}, common.BadRequest("date", "date must be YYYY-MM-DD", err)
		}
	}
	if raw := q.Get("open"); raw != "" {
		open, err := strconv.ParseBool(raw)
		if err != nil {
			return SlotFilter{}, common.BadRequest("open", "open must be true or false", err)
		}
		f.OpenOnly = open
	}
	return f, nil
}
