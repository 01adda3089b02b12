package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/slot-reservations/internal/obs"
	"github.com/noah-isme/slot-reservations/internal/resilience"
)

// RedisStore keeps inventory in Redis. Writes use optimistic WATCH/MULTI
// transactions over the slot hash, the claim key and the booking key.
type RedisStore struct {
	R      *redis.Client
	Prefix string
	Retry  RetryConfig
}

// NewRedisStore constructs a RedisStore with the default key prefix.
func NewRedisStore(client *redis.Client, retry RetryConfig) *RedisStore {
	return &RedisStore{R: client, Prefix: "slots:", Retry: retry.withDefaults()}
}

func (s *RedisStore) key(parts ...string) string {
	k := s.Prefix
	for i, p := range parts {
		if i > 0 {
			k += ":"
		}
		k += p
	}
	return k
}

func (s *RedisStore) slotKey(k SlotKey) string { return s.key("slot", k.String()) }

func (s *RedisStore) indexKey(experienceID string) string { return s.key("exp", experienceID) }

func (s *RedisStore) claimKey(c ClaimKey) string { return s.key("claim", c.String()) }

func (s *RedisStore) bookingKey(refID string) string { return s.key("booking", refID) }

func (s *RedisStore) bookingsKey() string { return s.key("bookings") }

// SeedSlots creates slots that do not exist yet.
func (s *RedisStore) SeedSlots(ctx context.Context, slots []Slot) error {
	for _, slot := range slots {
		if err := slot.Validate(); err != nil {
			return err
		}
		key := s.slotKey(slot.Key())
		created, err := s.R.HSetNX(ctx, key, "capacity", slot.Capacity).Result()
		if err != nil {
			return s.translate(err)
		}
		if !created {
			continue
		}
		encoded, err := json.Marshal(slot.Key())
		if err != nil {
			return err
		}
		_, err = s.R.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, key, "booked", slot.Booked)
			p.RPush(ctx, s.indexKey(slot.ExperienceID), encoded)
			return nil
		})
		if err != nil {
			return s.translate(err)
		}
	}
	return nil
}

type slotReader interface {
	HMGet(ctx context.Context, key string, fields ...string) *redis.SliceCmd
}

func readSlot(ctx context.Context, r slotReader, redisKey string, key SlotKey) (Slot, error) {
	vals, err := r.HMGet(ctx, redisKey, "capacity", "booked").Result()
	if err != nil {
		return Slot{}, err
	}
	if len(vals) != 2 || vals[0] == nil {
		return Slot{}, ErrSlotNotFound
	}
	capacity, err := toInt(vals[0])
	if err != nil {
		return Slot{}, err
	}
	booked, err := toInt(vals[1])
	if err != nil {
		return Slot{}, err
	}
	return Slot{ExperienceID: key.ExperienceID, Date: key.Date, Time: key.Time, Capacity: capacity, Booked: booked}, nil
}

func toInt(v any) (int, error) {
	switch t := v.(type) {
	case nil:
		return 0, nil
	case string:
		return strconv.Atoi(t)
	case int64:
		return int(t), nil
	default:
		return 0, fmt.Errorf("inventory: unexpected redis value %T", v)
	}
}

// GetSlot reads the slot hash.
func (s *RedisStore) GetSlot(ctx context.Context, key SlotKey) (Slot, error) {
	slot, err := readSlot(ctx, s.R, s.slotKey(key), key)
	return slot, s.translate(err)
}

// ListSlots returns the experience's slots ordered by date.
func (s *RedisStore) ListSlots(ctx context.Context, experienceID string) ([]Slot, error) {
	members, err := s.R.LRange(ctx, s.indexKey(experienceID), 0, -1).Result()
	if err != nil {
		return nil, s.translate(err)
	}
	out := make([]Slot, 0, len(members))
	for _, m := range members {
		var key SlotKey
		if err := json.Unmarshal([]byte(m), &key); err != nil {
			return nil, fmt.Errorf("inventory: decode slot index: %w", err)
		}
		slot, err := readSlot(ctx, s.R, s.slotKey(key), key)
		if errors.Is(err, ErrSlotNotFound) {
			continue
		}
		if err != nil {
			return nil, s.translate(err)
		}
		out = append(out, slot)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

// TryReserve increments booked when capacity allows.
func (s *RedisStore) TryReserve(ctx context.Context, key SlotKey, qty int) (int, error) {
	if qty <= 0 {
		return 0, ErrInvalidQuantity
	}
	return s.adjust(ctx, key, qty)
}

// Release decrements booked, never below zero.
func (s *RedisStore) Release(ctx context.Context, key SlotKey, qty int) (int, error) {
	if qty <= 0 {
		return 0, ErrInvalidQuantity
	}
	return s.adjust(ctx, key, -qty)
}

func (s *RedisStore) adjust(ctx context.Context, key SlotKey, delta int) (int, error) {
	redisKey := s.slotKey(key)
	var booked int
	err := s.withRetry(ctx, func(ctx context.Context) error {
		return s.R.Watch(ctx, func(tx *redis.Tx) error {
			slot, err := readSlot(ctx, tx, redisKey, key)
			if err != nil {
				return err
			}
			next := slot.Booked + delta
			if next > slot.Capacity {
				booked = slot.Booked
				return ErrSlotFull
			}
			if next < 0 {
				next = 0
			}
			_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
				p.HSet(ctx, redisKey, "booked", next)
				return nil
			})
			if err == nil {
				booked = next
			}
			return err
		}, redisKey)
	})
	return booked, s.translate(err)
}

// Commit applies the booking in one optimistic transaction.
func (s *RedisStore) Commit(ctx context.Context, booking Booking) (Booking, bool, error) {
	start := time.Now()
	defer func() { obs.ObserveCommit("redis", obs.DurationMillis(time.Since(start))) }()

	b, err := prepare(booking)
	if err != nil {
		return Booking{}, false, err
	}
	slotKey := s.slotKey(b.SlotKey())
	claimKey := s.claimKey(b.ClaimKey())
	bookingKey := s.bookingKey(b.RefID)
	encoded, err := json.Marshal(b)
	if err != nil {
		return Booking{}, false, err
	}

	var (
		out      Booking
		replayed bool
	)
	err = s.withRetry(ctx, func(ctx context.Context) error {
		return s.R.Watch(ctx, func(tx *redis.Tx) error {
			raw, err := tx.Get(ctx, bookingKey).Bytes()
			switch {
			case err == nil:
				replayed = true
				return json.Unmarshal(raw, &out)
			case !errors.Is(err, redis.Nil):
				return err
			}
			holder, err := tx.Get(ctx, claimKey).Result()
			switch {
			case err == nil && holder != b.RefID:
				return ErrAlreadyBooked
			case err != nil && !errors.Is(err, redis.Nil):
				return err
			}
			slot, err := readSlot(ctx, tx, slotKey, b.SlotKey())
			if err != nil {
				return err
			}
			if slot.Booked+b.Qty > slot.Capacity {
				return ErrSlotFull
			}
			_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
				p.HIncrBy(ctx, slotKey, "booked", int64(b.Qty))
				p.Set(ctx, claimKey, b.RefID, 0)
				p.Set(ctx, bookingKey, encoded, 0)
				p.ZAdd(ctx, s.bookingsKey(), redis.Z{Score: float64(b.CreatedAt.UnixMilli()), Member: b.RefID})
				return nil
			})
			if err == nil {
				out = b
			}
			return err
		}, slotKey, claimKey, bookingKey)
	})
	if err != nil {
		return Booking{}, false, s.translate(err)
	}
	return out, replayed, nil
}

// FindBooking loads the booking stored under refID.
func (s *RedisStore) FindBooking(ctx context.Context, refID string) (Booking, error) {
	raw, err := s.R.Get(ctx, s.bookingKey(refID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Booking{}, ErrBookingNotFound
	}
	if err != nil {
		return Booking{}, s.translate(err)
	}
	var b Booking
	if err := json.Unmarshal(raw, &b); err != nil {
		return Booking{}, fmt.Errorf("inventory: decode booking %s: %w", refID, err)
	}
	return b, nil
}

// ListBookings scans the booking index newest first.
func (s *RedisStore) ListBookings(ctx context.Context, filter BookingFilter) ([]Booking, int, error) {
	refs, err := s.R.ZRevRange(ctx, s.bookingsKey(), 0, -1).Result()
	if err != nil {
		return nil, 0, s.translate(err)
	}
	if len(refs) == 0 {
		return []Booking{}, 0, nil
	}
	keys := make([]string, len(refs))
	for i, ref := range refs {
		keys[i] = s.bookingKey(ref)
	}
	raws, err := s.R.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, 0, s.translate(err)
	}
	matched := make([]Booking, 0, len(raws))
	for _, raw := range raws {
		str, ok := raw.(string)
		if !ok {
			continue
		}
		var b Booking
		if err := json.Unmarshal([]byte(str), &b); err != nil {
			continue
		}
		if filter.matches(b) {
			matched = append(matched, b)
		}
	}
	start, end := filter.window(len(matched))
	return matched[start:end], len(matched), nil
}

func (s *RedisStore) withRetry(ctx context.Context, fn func(context.Context) error) error {
	cfg := s.Retry.withDefaults()
	return resilience.Retry(ctx, resilience.RetryPolicy{
		MaxAttempts: cfg.MaxAttempts,
		Base:        cfg.Base,
		Jitter:      cfg.Jitter,
		Retryable:   func(err error) bool { return errors.Is(err, redis.TxFailedErr) },
		OnRetry:     func(int, error) { obs.CountConflictRetry("redis") },
	}, func(ctx context.Context, _ int) error { return fn(ctx) })
}

func (s *RedisStore) translate(err error) error {
	switch {
	case err == nil:
		return nil
	case isDomainError(err):
		return err
	case errors.Is(err, resilience.ErrRetryExhausted):
		return fmt.Errorf("%w: %v", ErrConflictRetryExhausted, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
	}
}

var (
	_ Store  = (*RedisStore)(nil)
	_ Seeder = (*RedisStore)(nil)
)
