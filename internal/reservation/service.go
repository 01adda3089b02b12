package reservation

import (
	"context"
	"errors"
	"strings"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/slot-reservations/internal/auth"
	"github.com/noah-isme/slot-reservations/internal/catalog"
	"github.com/noah-isme/slot-reservations/internal/common"
	"github.com/noah-isme/slot-reservations/internal/events"
	"github.com/noah-isme/slot-reservations/internal/inventory"
	"github.com/noah-isme/slot-reservations/internal/obs"
	"github.com/noah-isme/slot-reservations/internal/pricing"
	"github.com/noah-isme/slot-reservations/internal/promo"
)

// Experiences resolves unit prices. catalog.Service satisfies it.
type Experiences interface {
	Get(ctx context.Context, id string) (catalog.Experience, error)
}

// Invalidator drops cached availability after a commit.
type Invalidator interface {
	Invalidate(ctx context.Context, experienceID string)
}

// Emitter publishes domain events. *events.Bus satisfies it.
type Emitter interface {
	Emit(ctx context.Context, topic, aggregateID string, payload any) (events.Event, error)
}

// Config groups Service dependencies.
type Config struct {
	Store       inventory.Store
	Experiences Experiences
	Promo       *promo.Calculator
	TaxBps      pricing.BasisPoints
	Events      Emitter
	Invalidator Invalidator
	Logger      zerolog.Logger
	NewRefID    func() string
	Now         func() time.Time
}

// Service runs the reservation workflow.
type Service struct {
	cfg      Config
	validate *validator.Validate
}

// Confirmation is the result of a successful Reserve.
type Confirmation struct {
	Booking  inventory.Booking
	Replayed bool
}

// Quote is a price preview.
type Quote struct {
	ExperienceID string        `json:"experienceId"`
	UnitPrice    pricing.Money `json:"unitPrice"`
	Qty          int           `json:"qty"`
	PromoCode    string        `json:"promoCode,omitempty"`
	pricing.Breakdown
}

// NewService validates cfg and builds a Service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("reservation: store is required")
	}
	if cfg.Experiences == nil {
		return nil, errors.New("reservation: experience source is required")
	}
	if cfg.Promo == nil {
		cfg.Promo = promo.MustNewCalculator(promo.DefaultRules())
	}
	if cfg.TaxBps < 0 {
		return nil, errors.New("reservation: tax rate must not be negative")
	}
	if cfg.NewRefID == nil {
		cfg.NewRefID = uuid.NewString
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{cfg: cfg, validate: newValidator()}, nil
}

// Reserve runs one attempt through REQUESTED, VALIDATING, RESERVING and
// CONFIRMED, or rejects it. A rejected attempt leaves no state behind.
func (s *Service) Reserve(ctx context.Context, req Request) (Confirmation, error) {
	at := newAttempt()
	if req.Email == "" {
		if id, ok := auth.FromContext(ctx); ok {
			req.Email = id.Email
		}
	}
	req = req.normalized()
	log := s.cfg.Logger.With().
		Str("ref_id", req.RefID).
		Str("experience_id", req.ExperienceID).
		Str("date", req.Date).
		Str("time", req.Time).
		Logger()

	conf, err := s.reserve(ctx, at, req)
	if err != nil {
		appErr := translate(err)
		at.reject(appErr.Code)
		obs.CountReservation(appErr.Code)
		ev := log.Info()
		if appErr.HTTPStatus >= 500 {
			ev = log.Error().Err(err)
		}
		ev.Str("state", string(at.state)).Str("reason", appErr.Code).Msg("reservation_rejected")
		return Confirmation{}, appErr
	}
	result := "confirmed"
	if conf.Replayed {
		result = "replayed"
	}
	obs.CountReservation(result)
	log.Info().
		Str("ref_id", conf.Booking.RefID).
		Int("qty", conf.Booking.Qty).
		Bool("replayed", conf.Replayed).
		Msg("reservation_confirmed")
	return conf, nil
}

func (s *Service) reserve(ctx context.Context, at *attempt, req Request) (Confirmation, error) {
	if err := at.advance(StateValidating); err != nil {
		return Confirmation{}, err
	}
	if appErr := validationError(s.validate, req); appErr != nil {
		return Confirmation{}, appErr
	}

	if req.RefID != "" {
		existing, err := s.cfg.Store.FindBooking(ctx, req.RefID)
		switch {
		case err == nil:
			if err := at.advance(StateConfirmed); err != nil {
				return Confirmation{}, err
			}
			return Confirmation{Booking: existing, Replayed: true}, nil
		case !errors.Is(err, inventory.ErrBookingNotFound):
			return Confirmation{}, err
		}
	}

	exp, err := s.cfg.Experiences.Get(ctx, req.ExperienceID)
	if errors.Is(err, catalog.ErrNotFound) {
		return Confirmation{}, slotNotFound(err)
	}
	if err != nil {
		return Confirmation{}, err
	}
	slot, err := s.cfg.Store.GetSlot(ctx, req.slotKey())
	if err != nil {
		return Confirmation{}, err
	}
	rule, hasPromo, appErr := s.resolvePromo(req.PromoCode)
	if appErr != nil {
		return Confirmation{}, appErr
	}
	if slot.Available() < req.Qty {
		if b, ok := s.committedMeanwhile(ctx, req.RefID); ok {
			if err := at.advance(StateConfirmed); err != nil {
				return Confirmation{}, err
			}
			return Confirmation{Booking: b, Replayed: true}, nil
		}
		return Confirmation{}, slotFull(inventory.ErrSlotFull)
	}

	if err := at.advance(StateReserving); err != nil {
		return Confirmation{}, err
	}
	breakdown := s.price(exp.Price, req.Qty, rule, hasPromo)
	refID := req.RefID
	if refID == "" {
		refID = s.cfg.NewRefID()
	}
	promoCode := ""
	if hasPromo {
		promoCode = rule.Code
	}
	booking, replayed, err := s.cfg.Store.Commit(ctx, inventory.Booking{
		RefID:        refID,
		Name:         req.Name,
		Email:        req.Email,
		ExperienceID: req.ExperienceID,
		Date:         req.Date,
		Time:         req.Time,
		Qty:          req.Qty,
		PromoCode:    promoCode,
		Subtotal:     breakdown.Subtotal,
		Taxes:        breakdown.Taxes,
		Discount:     breakdown.Discount,
		Total:        breakdown.Total,
		CreatedAt:    s.cfg.Now().UTC(),
	})
	if errors.Is(err, inventory.ErrSlotFull) || errors.Is(err, inventory.ErrAlreadyBooked) {
		if b, ok := s.committedMeanwhile(ctx, req.RefID); ok {
			booking, replayed, err = b, true, nil
		}
	}
	if err != nil {
		return Confirmation{}, err
	}
	if err := at.advance(StateConfirmed); err != nil {
		return Confirmation{}, err
	}
	if !replayed {
		s.afterCommit(ctx, booking)
	}
	return Confirmation{Booking: booking, Replayed: replayed}, nil
}

// committedMeanwhile looks refID up again after a capacity or duplicate
// rejection. An earlier attempt with the same refID may have committed after
// the first lookup, and its booking is the answer to this one.
func (s *Service) committedMeanwhile(ctx context.Context, refID string) (inventory.Booking, bool) {
	if refID == "" {
		return inventory.Booking{}, false
	}
	b, err := s.cfg.Store.FindBooking(ctx, refID)
	if err != nil {
		return inventory.Booking{}, false
	}
	return b, true
}

// afterCommit runs best-effort side effects; failures are logged only.
func (s *Service) afterCommit(ctx context.Context, b inventory.Booking) {
	if s.cfg.Invalidator != nil {
		s.cfg.Invalidator.Invalidate(ctx, b.ExperienceID)
	}
	if s.cfg.Events == nil {
		return
	}
	if _, err := s.cfg.Events.Emit(ctx, events.TopicBookingConfirmed, b.RefID, b); err != nil {
		s.cfg.Logger.Warn().Err(err).Str("ref_id", b.RefID).Msg("booking_event_failed")
	}
}

func (s *Service) resolvePromo(code string) (promo.Rule, bool, *common.AppError) {
	if code == "" {
		return promo.Rule{}, false, nil
	}
	rule, err := s.cfg.Promo.Resolve(code)
	if err != nil {
		return promo.Rule{}, false, common.BadRequest("promoCode", "unknown promo code", err)
	}
	return rule, true, nil
}

func (s *Service) price(unit pricing.Money, qty int, rule promo.Rule, hasPromo bool) pricing.Breakdown {
	subtotal := unit * pricing.Money(qty)
	var discount pricing.Money
	if hasPromo {
		discount = promo.ComputeDiscount(rule, subtotal)
	}
	return pricing.Compute(unit, qty, s.cfg.TaxBps, discount)
}

// Quote prices a reservation without touching inventory.
func (s *Service) Quote(ctx context.Context, req QuoteRequest) (Quote, error) {
	req.ExperienceID = strings.TrimSpace(req.ExperienceID)
	req.PromoCode = strings.TrimSpace(req.PromoCode)
	if appErr := validationError(s.validate, req); appErr != nil {
		return Quote{}, appErr
	}
	exp, err := s.cfg.Experiences.Get(ctx, req.ExperienceID)
	if errors.Is(err, catalog.ErrNotFound) {
		return Quote{}, common.NotFound("experience not found", err)
	}
	if err != nil {
		return Quote{}, translate(err)
	}
	rule, hasPromo, appErr := s.resolvePromo(req.PromoCode)
	if appErr != nil {
		return Quote{}, appErr
	}
	q := Quote{
		ExperienceID: exp.ID,
		UnitPrice:    exp.Price,
		Qty:          req.Qty,
		Breakdown:    s.price(exp.Price, req.Qty, rule, hasPromo),
	}
	if hasPromo {
		q.PromoCode = rule.Code
	}
	return q, nil
}

// Get returns the booking with refID.
func (s *Service) Get(ctx context.Context, refID string) (inventory.Booking, error) {
	refID = strings.TrimSpace(refID)
	if refID == "" {
		return inventory.Booking{}, common.BadRequest("refId", "refId is required", nil)
	}
	b, err := s.cfg.Store.FindBooking(ctx, refID)
	if err != nil {
		return inventory.Booking{}, translate(err)
	}
	return b, nil
}

// Page is a slice of bookings with the unpaged total.
type Page struct {
	Items []inventory.Booking `json:"items"`
	Total int                 `json:"total"`
}

// List returns bookings matching filter, newest first.
func (s *Service) List(ctx context.Context, filter inventory.BookingFilter) (Page, error) {
	filter.Email = inventory.NormalizeEmail(filter.Email)
	items, total, err := s.cfg.Store.ListBookings(ctx, filter)
	if err != nil {
		return Page{}, translate(err)
	}
	return Page{Items: items, Total: total}, nil
}
