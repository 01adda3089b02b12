package reservation

import (
	"errors"
	"reflect"
	"strings"
	"time"

	validator "github.com/go-playground/validator/v10"

	"github.com/noah-isme/slot-reservations/internal/common"
	"github.com/noah-isme/slot-reservations/internal/inventory"
)

// Request is a reservation as submitted by a caller.
type Request struct {
	RefID        string `json:"refId" validate:"omitempty,max=64,printascii"`
	Name         string `json:"name" validate:"required,max=120"`
	Email        string `json:"email" validate:"required,email"`
	ExperienceID string `json:"experienceId" validate:"required"`
	Date         string `json:"date" validate:"required,slotdate"`
	Time         string `json:"time" validate:"required"`
	Qty          int    `json:"qty" validate:"min=1"`
	PromoCode    string `json:"promoCode" validate:"omitempty,max=32"`
}

func (r Request) normalized() Request {
	r.RefID = strings.TrimSpace(r.RefID)
	r.Name = strings.TrimSpace(r.Name)
	r.Email = inventory.NormalizeEmail(r.Email)
	r.ExperienceID = strings.TrimSpace(r.ExperienceID)
	r.Date = strings.TrimSpace(r.Date)
	r.Time = strings.TrimSpace(r.Time)
	r.PromoCode = strings.TrimSpace(r.PromoCode)
	return r
}

func (r Request) slotKey() inventory.SlotKey {
	return inventory.SlotKey{ExperienceID: r.ExperienceID, Date: r.Date, Time: r.Time}
}

// QuoteRequest asks for a price breakdown without reserving.
type QuoteRequest struct {
	ExperienceID string `json:"experienceId" validate:"required"`
	Qty          int    `json:"qty" validate:"min=1"`
	PromoCode    string `json:"promoCode" validate:"omitempty,max=32"`
}

// FieldError describes one rejected field.
type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

// newValidator builds a validator that reports json field names and knows
// the slot date format.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("slotdate", func(fl validator.FieldLevel) bool {
		_, err := time.Parse(inventory.DateLayout, fl.Field().String())
		return err == nil
	})
	return v
}

func validationError(v *validator.Validate, s any) *common.AppError {
	err := v.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return common.BadRequest("body", "invalid request", err)
	}
	fields := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, FieldError{Field: fe.Field(), Rule: fe.Tag()})
	}
	appErr := common.BadRequest(fields[0].Field, "request validation failed", err)
	return appErr.WithDetails(map[string]any{"fields": fields})
}
