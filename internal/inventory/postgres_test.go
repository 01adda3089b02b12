package inventory_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/slot-reservations/internal/inventory"
	"github.com/noah-isme/slot-reservations/internal/pgtest"
	"github.com/noah-isme/slot-reservations/internal/resilience"
)

// failingDB fails every transaction with err.
type failingDB struct {
	mu    sync.Mutex
	err   error
	begin int
}

func (f *failingDB) BeginTx(context.Context, pgx.TxOptions) (pgx.Tx, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.begin++
	return nil, f.err
}

func (f *failingDB) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, f.err }

func (f *failingDB) QueryRow(context.Context, string, ...any) pgx.Row { return errRow{f.err} }

func (f *failingDB) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, f.err
}

func (f *failingDB) attempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.begin
}

type errRow struct{ err error }

func (r errRow) Scan(...any) error { return r.err }

func TestPostgresSerializationFailureExhaustsRetries(t *testing.T) {
	db := &failingDB{err: &pgconn.PgError{Code: "40001", Message: "could not serialize access"}}
	store := inventory.NewPostgresStore(db, nil, inventory.RetryConfig{MaxAttempts: 3, Base: time.Millisecond})

	_, _, err := store.Commit(context.Background(), booking("ref-a", "asha@example.com", 1))
	require.ErrorIs(t, err, inventory.ErrConflictRetryExhausted)
	assert.Equal(t, 3, db.attempts())
}

func TestPostgresConnectionFailureIsUnavailable(t *testing.T) {
	db := &failingDB{err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}}
	breaker := resilience.NewBreaker(resilience.BreakerConfig{Target: "postgres", MinRequests: 2, FailureRatio: 0.5, OpenFor: time.Minute})
	store := inventory.NewPostgresStore(db, breaker, inventory.RetryConfig{MaxAttempts: 3, Base: time.Millisecond})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, _, err := store.Commit(ctx, booking(fmt.Sprintf("ref-%d", i), "asha@example.com", 1))
		require.ErrorIs(t, err, inventory.ErrPersistenceUnavailable)
	}
	require.Equal(t, resilience.Open, breaker.State())
	before := db.attempts()

	_, _, err := store.Commit(ctx, booking("ref-x", "asha@example.com", 1))
	require.ErrorIs(t, err, inventory.ErrPersistenceUnavailable)
	assert.Equal(t, before, db.attempts(), "open breaker must not reach the database")

	_, err = store.GetSlot(ctx, morning)
	require.ErrorIs(t, err, inventory.ErrPersistenceUnavailable)
}

func newPostgresStore(t *testing.T, capacity, booked int) *inventory.PostgresStore {
	t.Helper()
	pool := pgtest.Start(t)
	pgtest.InsertExperience(t, pool, morning.ExperienceID, 999)
	store := inventory.NewPostgresStore(pool, nil, inventory.RetryConfig{MaxAttempts: 10, Base: 5 * time.Millisecond, Jitter: 0.5})
	require.NoError(t, store.SeedSlots(context.Background(), []inventory.Slot{
		{ExperienceID: morning.ExperienceID, Date: morning.Date, Time: morning.Time, Capacity: capacity, Booked: booked},
		{ExperienceID: "1", Date: "2025-11-02", Time: "11:00 am", Capacity: 4},
	}))
	return store
}

func TestPostgresStoreIntegration(t *testing.T) {
	store := newPostgresStore(t, 10, 9)
	ctx := context.Background()

	t.Run("list slots", func(t *testing.T) {
		slots, err := store.ListSlots(ctx, "1")
		require.NoError(t, err)
		require.Len(t, slots, 2)
		assert.Equal(t, "2025-11-02", slots[0].Date)
	})

	t.Run("last seat race", func(t *testing.T) {
		var wg sync.WaitGroup
		errs := make([]error, 2)
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, _, errs[i] = store.Commit(ctx, booking(fmt.Sprintf("race-%d", i), fmt.Sprintf("race%d@example.com", i), 1))
			}(i)
		}
		wg.Wait()
		ok := 0
		for _, err := range errs {
			if err == nil {
				ok++
				continue
			}
			require.ErrorIs(t, err, inventory.ErrSlotFull)
		}
		assert.Equal(t, 1, ok)
		slot, err := store.GetSlot(ctx, morning)
		require.NoError(t, err)
		assert.Equal(t, 10, slot.Booked)
	})

	t.Run("replay and duplicate", func(t *testing.T) {
		second := inventory.SlotKey{ExperienceID: "1", Date: "2025-11-02", Time: "11:00 am"}
		b := booking("ref-dup", "Dup@Example.com", 1)
		b.Date, b.Time = second.Date, second.Time
		b.PromoCode = "SAVE10"

		first, replayed, err := store.Commit(ctx, b)
		require.NoError(t, err)
		require.False(t, replayed)

		again, replayed, err := store.Commit(ctx, b)
		require.NoError(t, err)
		require.True(t, replayed)
		assert.Equal(t, first.RefID, again.RefID)
		assert.Equal(t, "SAVE10", again.PromoCode)
		assert.Equal(t, "dup@example.com", again.Email)

		other := b
		other.RefID = "ref-dup-2"
		_, _, err = store.Commit(ctx, other)
		require.ErrorIs(t, err, inventory.ErrAlreadyBooked)

		slot, err := store.GetSlot(ctx, second)
		require.NoError(t, err)
		assert.Equal(t, 1, slot.Booked)
	})

	t.Run("list bookings", func(t *testing.T) {
		all, total, err := store.ListBookings(ctx, inventory.BookingFilter{ExperienceID: "1"})
		require.NoError(t, err)
		assert.Equal(t, 2, total)
		assert.Len(t, all, 2)

		byEmail, total, err := store.ListBookings(ctx, inventory.BookingFilter{Email: "DUP@example.com"})
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		assert.Equal(t, "ref-dup", byEmail[0].RefID)
	})

	t.Run("try reserve and release", func(t *testing.T) {
		_, err := store.TryReserve(ctx, morning, 1)
		require.ErrorIs(t, err, inventory.ErrSlotFull)
		booked, err := store.Release(ctx, morning, 1)
		require.NoError(t, err)
		assert.Equal(t, 9, booked)
		_, err = store.TryReserve(ctx, inventory.SlotKey{ExperienceID: "1", Date: "2030-01-01", Time: "x"}, 1)
		require.ErrorIs(t, err, inventory.ErrSlotNotFound)
	})
}

func TestPostgresCommitDuplicateCustomerConcurrently(t *testing.T) {
	requireSingleClaim(t, newPostgresStore(t, 20, 0))
}
