package promo

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/noah-isme/slot-reservations/internal/common"
	"github.com/noah-isme/slot-reservations/internal/obs"
	"github.com/noah-isme/slot-reservations/internal/pricing"
)

// Handler exposes promo code previews over HTTP.
type Handler struct {
	Calc   *Calculator
	Logger zerolog.Logger
}

type validateRequest struct {
	Code     string        `json:"code"`
	Subtotal pricing.Money `json:"subtotal"`
}

// Validate answers POST /promo/validate. Unknown codes yield {"valid":false}
// with a 200 status; a missing code or malformed payload is rejected.
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		common.WriteError(w, common.BadRequest("code", "code is required", nil))
		return
	}
	if req.Subtotal < 0 {
		common.WriteError(w, common.BadRequest("subtotal", "subtotal must not be negative", nil))
		return
	}
	res := h.Calc.Validate(req.Code, req.Subtotal)
	obs.CountPromoValidation(res.Valid)
	h.Logger.Debug().Str("code", req.Code).Bool("valid", res.Valid).Msg("promo_validate")
	common.JSON(w, http.StatusOK, res)
}
