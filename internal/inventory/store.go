// Package inventory owns slot capacity and the booking records that consume it.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/noah-isme/slot-reservations/internal/pricing"
)

var (
	// ErrSlotNotFound is returned when no slot matches the composite key.
	ErrSlotNotFound = errors.New("slot not found")
	// ErrSlotFull is returned when the requested quantity exceeds remaining capacity.
	ErrSlotFull = errors.New("slot full")
	// ErrAlreadyBooked is returned when the customer already holds a booking for the slot.
	ErrAlreadyBooked = errors.New("customer already booked this slot")
	// ErrConflictRetryExhausted is returned when concurrent writers kept invalidating the commit.
	ErrConflictRetryExhausted = errors.New("reservation conflict retries exhausted")
	// ErrPersistenceUnavailable is returned when the backing store cannot be reached.
	ErrPersistenceUnavailable = errors.New("persistence unavailable")
	// ErrBookingNotFound is returned when no booking carries the reference id.
	ErrBookingNotFound = errors.New("booking not found")
	// ErrInvalidQuantity is returned for non-positive quantities.
	ErrInvalidQuantity = errors.New("quantity must be positive")
)

// DateLayout is the calendar date format used for slot dates.
const DateLayout = "2006-01-02"

// SlotKey identifies a slot. Slots are never addressed by list position.
type SlotKey struct {
	ExperienceID string `json:"experienceId"`
	Date         string `json:"date"`
	Time         string `json:"time"`
}

func (k SlotKey) String() string {
	return k.ExperienceID + "|" + k.Date + "|" + k.Time
}

// Slot is a bookable time window with fixed capacity.
type Slot struct {
	ExperienceID string `json:"experienceId"`
	Date         string `json:"date"`
	Time         string `json:"time"`
	Capacity     int    `json:"capacity"`
	Booked       int    `json:"booked"`
}

// Key returns the composite key of s.
func (s Slot) Key() SlotKey {
	return SlotKey{ExperienceID: s.ExperienceID, Date: s.Date, Time: s.Time}
}

// Available reports the remaining capacity.
func (s Slot) Available() int {
	if s.Booked >= s.Capacity {
		return 0
	}
	return s.Capacity - s.Booked
}

// Validate checks the slot invariants.
func (s Slot) Validate() error {
	if strings.TrimSpace(s.ExperienceID) == "" || strings.TrimSpace(s.Time) == "" {
		return fmt.Errorf("slot %s: experience id and time are required", s.Key())
	}
	if _, err := time.Parse(DateLayout, s.Date); err != nil {
		return fmt.Errorf("slot %s: date must be YYYY-MM-DD", s.Key())
	}
	if s.Capacity <= 0 {
		return fmt.Errorf("slot %s: capacity must be positive", s.Key())
	}
	if s.Booked < 0 || s.Booked > s.Capacity {
		return fmt.Errorf("slot %s: booked must be within [0, capacity]", s.Key())
	}
	return nil
}

// Status of a booking. Bookings are created confirmed and never change.
type Status string

// StatusConfirmed marks a committed booking.
const StatusConfirmed Status = "CONFIRMED"

// Booking is an immutable record of consumed capacity.
type Booking struct {
	RefID        string        `json:"refId"`
	Name         string        `json:"name"`
	Email        string        `json:"email"`
	ExperienceID string        `json:"experienceId"`
	Date         string        `json:"date"`
	Time         string        `json:"time"`
	Qty          int           `json:"qty"`
	PromoCode    string        `json:"promoCode,omitempty"`
	Subtotal     pricing.Money `json:"subtotal"`
	Taxes        pricing.Money `json:"taxes"`
	Discount     pricing.Money `json:"discount"`
	Total        pricing.Money `json:"total"`
	Status       Status        `json:"status"`
	CreatedAt    time.Time     `json:"createdAt"`
}

// SlotKey returns the slot the booking consumes.
func (b Booking) SlotKey() SlotKey {
	return SlotKey{ExperienceID: b.ExperienceID, Date: b.Date, Time: b.Time}
}

// ClaimKey returns the duplicate-guard key of the booking.
func (b Booking) ClaimKey() ClaimKey {
	return ClaimKey{Email: NormalizeEmail(b.Email), Slot: b.SlotKey()}
}

// ClaimKey identifies a (customer, slot) pair; at most one booking may hold it.
type ClaimKey struct {
	Email string
	Slot  SlotKey
}

func (c ClaimKey) String() string {
	return c.Email + "|" + c.Slot.String()
}

// NormalizeEmail lower-cases and trims an address for claim comparison.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// BookingFilter narrows ListBookings. Zero values mean "any".
type BookingFilter struct {
	ExperienceID string
	Email        string
	Limit        int
	Offset       int
}

func (f BookingFilter) matches(b Booking) bool {
	if f.ExperienceID != "" && b.ExperienceID != f.ExperienceID {
		return false
	}
	if f.Email != "" && b.Email != NormalizeEmail(f.Email) {
		return false
	}
	return true
}

func (f BookingFilter) window(total int) (int, int) {
	start := f.Offset
	if start < 0 {
		start = 0
	}
	if start > total {
		start = total
	}
	end := total
	if f.Limit > 0 && start+f.Limit < end {
		end = start + f.Limit
	}
	return start, end
}

// Store is the authoritative slot inventory. Commit is the only write the
// reservation workflow performs: the idempotency lookup, the duplicate guard,
// the capacity check and the booking insert take effect together or not at all.
type Store interface {
	GetSlot(ctx context.Context, key SlotKey) (Slot, error)
	ListSlots(ctx context.Context, experienceID string) ([]Slot, error)
	TryReserve(ctx context.Context, key SlotKey, qty int) (int, error)
	Release(ctx context.Context, key SlotKey, qty int) (int, error)
	Commit(ctx context.Context, booking Booking) (Booking, bool, error)
	FindBooking(ctx context.Context, refID string) (Booking, error)
	ListBookings(ctx context.Context, filter BookingFilter) ([]Booking, int, error)
}

// Seeder loads slots into a store. Existing slots keep their booked count.
type Seeder interface {
	SeedSlots(ctx context.Context, slots []Slot) error
}

// prepare normalises a booking before commit.
func prepare(b Booking) (Booking, error) {
	if b.Qty <= 0 {
		return Booking{}, ErrInvalidQuantity
	}
	if strings.TrimSpace(b.RefID) == "" {
		return Booking{}, errors.New("booking ref id is required")
	}
	b.Email = NormalizeEmail(b.Email)
	b.Status = StatusConfirmed
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	return b, nil
}

// RetryConfig bounds internal retries of conflicting commits.
type RetryConfig struct {
	MaxAttempts int
	Base        time.Duration
	Jitter      float64
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.Base <= 0 {
		c.Base = 25 * time.Millisecond
	}
	if c.Jitter < 0 {
		c.Jitter = 0
	}
	return c
}

// isDomainError reports errors that describe the request rather than the store.
func isDomainError(err error) bool {
	return errors.Is(err, ErrSlotNotFound) ||
		errors.Is(err, ErrSlotFull) ||
		errors.Is(err, ErrAlreadyBooked) ||
		errors.Is(err, ErrBookingNotFound) ||
		errors.Is(err, ErrInvalidQuantity) ||
		errors.Is(err, ErrConflictRetryExhausted)
}
