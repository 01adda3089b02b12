package inventory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/noah-isme/slot-reservations/internal/obs"
)

type slotCell struct {
	mu   sync.Mutex
	slot Slot
}

// MemoryStore keeps inventory in process. Each slot has its own mutex, so
// commits against different slots never contend.
type MemoryStore struct {
	slots sync.Map // SlotKey -> *slotCell
	guard *Guard

	mu       sync.RWMutex
	bookings map[string]Booking
	byExp    map[string][]SlotKey
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		guard:    NewGuard(),
		bookings: make(map[string]Booking),
		byExp:    make(map[string][]SlotKey),
	}
}

// SeedSlots inserts slots that are not yet known.
func (s *MemoryStore) SeedSlots(_ context.Context, slots []Slot) error {
	for _, slot := range slots {
		if err := slot.Validate(); err != nil {
			return err
		}
		if _, loaded := s.slots.LoadOrStore(slot.Key(), &slotCell{slot: slot}); loaded {
			continue
		}
		s.mu.Lock()
		s.byExp[slot.ExperienceID] = append(s.byExp[slot.ExperienceID], slot.Key())
		s.mu.Unlock()
	}
	return nil
}

func (s *MemoryStore) cell(key SlotKey) (*slotCell, error) {
	v, ok := s.slots.Load(key)
	if !ok {
		return nil, ErrSlotNotFound
	}
	return v.(*slotCell), nil
}

// GetSlot returns a snapshot of the slot.
func (s *MemoryStore) GetSlot(_ context.Context, key SlotKey) (Slot, error) {
	c, err := s.cell(key)
	if err != nil {
		return Slot{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slot, nil
}

// ListSlots returns snapshots of every slot of the experience ordered by date
// then insertion order within a date.
func (s *MemoryStore) ListSlots(_ context.Context, experienceID string) ([]Slot, error) {
	s.mu.RLock()
	keys := append([]SlotKey(nil), s.byExp[experienceID]...)
	s.mu.RUnlock()

	out := make([]Slot, 0, len(keys))
	for _, key := range keys {
		c, err := s.cell(key)
		if err != nil {
			continue
		}
		c.mu.Lock()
		out = append(out, c.slot)
		c.mu.Unlock()
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

// TryReserve increments booked by qty when capacity allows.
func (s *MemoryStore) TryReserve(_ context.Context, key SlotKey, qty int) (int, error) {
	if qty <= 0 {
		return 0, ErrInvalidQuantity
	}
	c, err := s.cell(key)
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reserveLocked(qty)
}

func (c *slotCell) reserveLocked(qty int) (int, error) {
	if c.slot.Booked+qty > c.slot.Capacity {
		return c.slot.Booked, ErrSlotFull
	}
	c.slot.Booked += qty
	return c.slot.Booked, nil
}

// Release decrements booked by qty, never below zero.
func (s *MemoryStore) Release(_ context.Context, key SlotKey, qty int) (int, error) {
	if qty <= 0 {
		return 0, ErrInvalidQuantity
	}
	c, err := s.cell(key)
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slot.Booked -= qty
	if c.slot.Booked < 0 {
		c.slot.Booked = 0
	}
	return c.slot.Booked, nil
}

// Commit records booking under the slot's lock.
func (s *MemoryStore) Commit(_ context.Context, booking Booking) (Booking, bool, error) {
	start := time.Now()
	defer func() { obs.ObserveCommit("memory", obs.DurationMillis(time.Since(start))) }()

	b, err := prepare(booking)
	if err != nil {
		return Booking{}, false, err
	}
	if existing, ok := s.lookup(b.RefID); ok {
		return existing, true, nil
	}
	c, err := s.cell(b.SlotKey())
	if err != nil {
		return Booking{}, false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// A concurrent commit with the same refId on this slot may have landed
	// while we waited for the lock.
	if existing, ok := s.lookup(b.RefID); ok {
		return existing, true, nil
	}
	claim := b.ClaimKey()
	if err := s.guard.CheckAndReserve(claim, b.RefID); err != nil {
		return Booking{}, false, err
	}
	if _, err := c.reserveLocked(b.Qty); err != nil {
		s.guard.Release(claim, b.RefID)
		return Booking{}, false, err
	}

	s.mu.Lock()
	if existing, ok := s.bookings[b.RefID]; ok {
		s.mu.Unlock()
		c.slot.Booked -= b.Qty
		s.guard.Release(claim, b.RefID)
		return existing, true, nil
	}
	s.bookings[b.RefID] = b
	s.mu.Unlock()
	return b, false, nil
}

func (s *MemoryStore) lookup(refID string) (Booking, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bookings[refID]
	return b, ok
}

// FindBooking returns the booking carrying refID.
func (s *MemoryStore) FindBooking(_ context.Context, refID string) (Booking, error) {
	if b, ok := s.lookup(refID); ok {
		return b, nil
	}
	return Booking{}, ErrBookingNotFound
}

// ListBookings returns matching bookings newest first and the total match count.
func (s *MemoryStore) ListBookings(_ context.Context, filter BookingFilter) ([]Booking, int, error) {
	s.mu.RLock()
	matched := make([]Booking, 0, len(s.bookings))
	for _, b := range s.bookings {
		if filter.matches(b) {
			matched = append(matched, b)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].RefID < matched[j].RefID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	start, end := filter.window(len(matched))
	return matched[start:end], len(matched), nil
}

var (
	_ Store  = (*MemoryStore)(nil)
	_ Seeder = (*MemoryStore)(nil)
)
