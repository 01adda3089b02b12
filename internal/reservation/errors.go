package reservation

import (
	"context"
	"errors"
	"net/http"

	"github.com/noah-isme/slot-reservations/internal/common"
	"github.com/noah-isme/slot-reservations/internal/inventory"
)

// Rejection codes surfaced to callers.
const (
	CodeValidation             = common.CodeValidation
	CodeSlotNotFound           = "SLOT_NOT_FOUND"
	CodeSlotFull               = "SLOT_FULL"
	CodeAlreadyBooked          = "ALREADY_BOOKED"
	CodeConflictRetryExhausted = "CONFLICT_RETRY_EXHAUSTED"
	CodeUnavailable            = common.CodeUnavailable
)

func slotNotFound(err error) *common.AppError {
	return common.NewAppError(CodeSlotNotFound, "slot not found", http.StatusNotFound, err)
}

func slotFull(err error) *common.AppError {
	return common.NewAppError(CodeSlotFull, "not enough seats left in this slot", http.StatusConflict, err)
}

// translate maps store errors onto the rejection taxonomy. Unknown errors
// become INTERNAL without leaking their text.
func translate(err error) *common.AppError {
	var appErr *common.AppError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, inventory.ErrSlotNotFound):
		return slotNotFound(err)
	case errors.Is(err, inventory.ErrSlotFull):
		return slotFull(err)
	case errors.Is(err, inventory.ErrAlreadyBooked):
		return common.NewAppError(CodeAlreadyBooked, "you already have a booking for this slot", http.StatusConflict, err)
	case errors.Is(err, inventory.ErrConflictRetryExhausted):
		return common.NewAppError(CodeConflictRetryExhausted, "the slot is busy, please retry", http.StatusConflict, err)
	case errors.Is(err, inventory.ErrPersistenceUnavailable):
		return common.NewAppError(CodeUnavailable, "booking store unavailable", http.StatusServiceUnavailable, err)
	case errors.Is(err, inventory.ErrInvalidQuantity):
		return common.BadRequest("qty", "qty must be at least 1", err)
	case errors.Is(err, inventory.ErrBookingNotFound):
		return common.NotFound("booking not found", err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return common.NewAppError(CodeUnavailable, "request timed out", http.StatusServiceUnavailable, err)
	default:
		return common.NewAppError(common.CodeInternal, "internal error", http.StatusInternalServerError, err)
	}
}
