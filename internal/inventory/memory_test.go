package inventory_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/slot-reservations/internal/inventory"
)

var morning = inventory.SlotKey{ExperienceID: "1", Date: "2025-11-03", Time: "09:00 am"}

func seededMemory(t *testing.T, capacity, booked int) *inventory.MemoryStore {
	t.Helper()
	store := inventory.NewMemoryStore()
	require.NoError(t, store.SeedSlots(context.Background(), []inventory.Slot{
		{ExperienceID: morning.ExperienceID, Date: morning.Date, Time: morning.Time, Capacity: capacity, Booked: booked},
		{ExperienceID: "1", Date: "2025-11-02", Time: "11:00 am", Capacity: 4},
	}))
	return store
}

func booking(ref, email string, qty int) inventory.Booking {
	return inventory.Booking{
		RefID:        ref,
		Name:         "Asha",
		Email:        email,
		ExperienceID: morning.ExperienceID,
		Date:         morning.Date,
		Time:         morning.Time,
		Qty:          qty,
		Subtotal:     999 * int64(qty),
	}
}

func TestMemoryTryReserveAndRelease(t *testing.T) {
	store := seededMemory(t, 3, 0)
	ctx := context.Background()

	booked, err := store.TryReserve(ctx, morning, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, booked)

	_, err = store.TryReserve(ctx, morning, 2)
	require.ErrorIs(t, err, inventory.ErrSlotFull)

	booked, err = store.Release(ctx, morning, 5)
	require.NoError(t, err)
	assert.Equal(t, 0, booked)

	_, err = store.TryReserve(ctx, inventory.SlotKey{ExperienceID: "9", Date: "2025-11-03", Time: "x"}, 1)
	require.ErrorIs(t, err, inventory.ErrSlotNotFound)
	_, err = store.TryReserve(ctx, morning, 0)
	require.ErrorIs(t, err, inventory.ErrInvalidQuantity)
}

func TestMemoryListSlotsOrderedByDate(t *testing.T) {
	store := seededMemory(t, 10, 0)
	slots, err := store.ListSlots(context.Background(), "1")
	require.NoError(t, err)
	require.Len(t, slots, 2)
	assert.Equal(t, "2025-11-02", slots[0].Date)
	assert.Equal(t, 4, slots[0].Available())

	none, err := store.ListSlots(context.Background(), "missing")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemoryCommitLastSeatRace(t *testing.T) {
	store := seededMemory(t, 10, 9)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = store.Commit(ctx, booking(fmt.Sprintf("ref-%d", i), fmt.Sprintf("u%d@example.com", i), 1))
		}(i)
	}
	wg.Wait()

	var ok, full int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case assert.ErrorIs(t, err, inventory.ErrSlotFull):
			full++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, full)

	slot, err := store.GetSlot(ctx, morning)
	require.NoError(t, err)
	assert.Equal(t, 10, slot.Booked)
}

func TestMemoryCommitNeverOverbooks(t *testing.T) {
	const capacity = 25
	store := seededMemory(t, capacity, 0)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	confirmed := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, err := store.Commit(ctx, booking(fmt.Sprintf("ref-%d", i), fmt.Sprintf("u%d@example.com", i), 1+i%3))
			if err == nil {
				mu.Lock()
				confirmed++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	slot, err := store.GetSlot(ctx, morning)
	require.NoError(t, err)
	assert.LessOrEqual(t, slot.Booked, capacity)

	bookings, total, err := store.ListBookings(ctx, inventory.BookingFilter{ExperienceID: "1"})
	require.NoError(t, err)
	assert.Equal(t, confirmed, total)
	sum := 0
	for _, b := range bookings {
		sum += b.Qty
	}
	assert.Equal(t, slot.Booked, sum)
}

func TestMemoryCommitDuplicateCustomer(t *testing.T) {
	store := seededMemory(t, 10, 0)
	ctx := context.Background()

	_, _, err := store.Commit(ctx, booking("ref-a", "asha@example.com", 1))
	require.NoError(t, err)

	_, _, err = store.Commit(ctx, booking("ref-b", "  ASHA@example.com ", 2))
	require.ErrorIs(t, err, inventory.ErrAlreadyBooked)

	slot, err := store.GetSlot(ctx, morning)
	require.NoError(t, err)
	assert.Equal(t, 1, slot.Booked)
}

func TestMemoryCommitIdempotentReplay(t *testing.T) {
	store := seededMemory(t, 10, 0)
	ctx := context.Background()

	first, replayed, err := store.Commit(ctx, booking("ref-a", "asha@example.com", 2))
	require.NoError(t, err)
	require.False(t, replayed)
	assert.Equal(t, inventory.StatusConfirmed, first.Status)

	again := booking("ref-a", "asha@example.com", 5)
	again.CreatedAt = time.Now().Add(time.Hour)
	second, replayed, err := store.Commit(ctx, again)
	require.NoError(t, err)
	require.True(t, replayed)
	assert.Equal(t, first, second)

	slot, err := store.GetSlot(ctx, morning)
	require.NoError(t, err)
	assert.Equal(t, 2, slot.Booked)
}

func TestMemoryCommitFailureLeavesNoClaim(t *testing.T) {
	store := seededMemory(t, 2, 0)
	ctx := context.Background()

	_, _, err := store.Commit(ctx, booking("ref-a", "asha@example.com", 3))
	require.ErrorIs(t, err, inventory.ErrSlotFull)

	_, _, err = store.Commit(ctx, booking("ref-b", "asha@example.com", 2))
	require.NoError(t, err)

	_, err = store.FindBooking(ctx, "ref-a")
	require.ErrorIs(t, err, inventory.ErrBookingNotFound)
}

func TestMemoryListBookingsPaginates(t *testing.T) {
	store := seededMemory(t, 10, 0)
	ctx := context.Background()
	base := time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		b := booking(fmt.Sprintf("ref-%d", i), fmt.Sprintf("u%d@example.com", i), 1)
		b.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		_, _, err := store.Commit(ctx, b)
		require.NoError(t, err)
	}

	page, total, err := store.ListBookings(ctx, inventory.BookingFilter{Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, page, 2)
	assert.Equal(t, "ref-3", page[0].RefID)
	assert.Equal(t, "ref-2", page[1].RefID)

	byEmail, total, err := store.ListBookings(ctx, inventory.BookingFilter{Email: "U4@example.com"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "ref-4", byEmail[0].RefID)
}

func TestGuard(t *testing.T) {
	g := inventory.NewGuard()
	key := inventory.ClaimKey{Email: "a@example.com", Slot: morning}
	require.NoError(t, g.CheckAndReserve(key, "r1"))
	require.NoError(t, g.CheckAndReserve(key, "r1"))
	require.ErrorIs(t, g.CheckAndReserve(key, "r2"), inventory.ErrAlreadyBooked)

	g.Release(key, "r2")
	holder, ok := g.Holder(key)
	require.True(t, ok)
	assert.Equal(t, "r1", holder)

	g.Release(key, "r1")
	require.NoError(t, g.CheckAndReserve(key, "r2"))
}

func TestSlotValidate(t *testing.T) {
	valid := inventory.Slot{ExperienceID: "1", Date: "2025-11-03", Time: "09:00 am", Capacity: 5}
	require.NoError(t, valid.Validate())

	bad := valid
	bad.Date = "03/11/2025"
	require.Error(t, bad.Validate())
	bad = valid
	bad.Capacity = 0
	require.Error(t, bad.Validate())
	bad = valid
	bad.Booked = 6
	require.Error(t, bad.Validate())
}

// requireSingleClaim commits the same customer on morning from many
// goroutines with distinct refIds and expects exactly one to win.
func requireSingleClaim(t *testing.T, store inventory.Store) {
	t.Helper()
	const callers = 8
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = store.Commit(ctx, booking(fmt.Sprintf("same-%d", i), "Same@Example.com", 2))
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		require.ErrorIs(t, err, inventory.ErrAlreadyBooked)
	}
	assert.Equal(t, 1, ok)

	slot, err := store.GetSlot(ctx, morning)
	require.NoError(t, err)
	assert.Equal(t, 2, slot.Booked)
	_, total, err := store.ListBookings(ctx, inventory.BookingFilter{Email: "same@example.com"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestMemoryCommitDuplicateCustomerConcurrently(t *testing.T) {
	requireSingleClaim(t, seededMemory(t, 20, 0))
}
