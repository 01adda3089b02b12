package inventory

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/noah-isme/slot-reservations/internal/obs"
	"github.com/noah-isme/slot-reservations/internal/resilience"
)

const (
	constraintBookingPK   = "bookings_pkey"
	constraintClaimUnique = "bookings_customer_slot_key"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var bookingColumns = []string{
	"ref_id", "name", "customer_email", "experience_id", "slot_date", "slot_time",
	"qty", "promo_code", "subtotal", "taxes", "discount", "total", "status", "created_at",
}

// errReplayRace marks a primary-key collision with a concurrent commit of the
// same refId; the committed booking is returned as a replay.
var errReplayRace = errors.New("inventory: concurrent commit of the same ref id")

// DB is the subset of pgxpool.Pool the store needs.
type DB interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore keeps inventory in Postgres. Commits run in serializable
// transactions that lock the slot row.
type PostgresStore struct {
	DB      DB
	Breaker *resilience.Breaker
	Retry   RetryConfig
}

// NewPostgresStore constructs a PostgresStore. breaker may be nil.
func NewPostgresStore(db DB, breaker *resilience.Breaker, retry RetryConfig) *PostgresStore {
	return &PostgresStore{DB: db, Breaker: breaker, Retry: retry.withDefaults()}
}

func slotWhere(key SlotKey) sq.Eq {
	return sq.Eq{"experience_id": key.ExperienceID, "slot_date": key.Date, "slot_time": key.Time}
}

// SeedSlots inserts slots, leaving existing rows untouched.
func (s *PostgresStore) SeedSlots(ctx context.Context, slots []Slot) error {
	if len(slots) == 0 {
		return nil
	}
	ins := psql.Insert("slots").Columns("experience_id", "slot_date", "slot_time", "capacity", "booked")
	for _, slot := range slots {
		if err := slot.Validate(); err != nil {
			return err
		}
		ins = ins.Values(slot.ExperienceID, slot.Date, slot.Time, slot.Capacity, slot.Booked)
	}
	query, args, err := ins.Suffix("ON CONFLICT (experience_id, slot_date, slot_time) DO NOTHING").ToSql()
	if err != nil {
		return fmt.Errorf("inventory: build seed: %w", err)
	}
	return s.translate(s.do(ctx, func(ctx context.Context) error {
		_, err := s.DB.Exec(ctx, query, args...)
		return err
	}))
}

// GetSlot reads the slot row.
func (s *PostgresStore) GetSlot(ctx context.Context, key SlotKey) (Slot, error) {
	var slot Slot
	err := s.do(ctx, func(ctx context.Context) error {
		var err error
		slot, err = selectSlot(ctx, s.DB, key, false)
		return err
	})
	return slot, s.translate(err)
}

func selectSlot(ctx context.Context, q queryRower, key SlotKey, forUpdate bool) (Slot, error) {
	b := psql.Select("capacity", "booked").From("slots").Where(slotWhere(key))
	if forUpdate {
		b = b.Suffix("FOR UPDATE")
	}
	query, args, err := b.ToSql()
	if err != nil {
		return Slot{}, fmt.Errorf("inventory: build slot select: %w", err)
	}
	slot := Slot{ExperienceID: key.ExperienceID, Date: key.Date, Time: key.Time}
	if err := q.QueryRow(ctx, query, args...).Scan(&slot.Capacity, &slot.Booked); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Slot{}, ErrSlotNotFound
		}
		return Slot{}, err
	}
	return slot, nil
}

// ListSlots returns the experience's slots ordered by date then seed order.
func (s *PostgresStore) ListSlots(ctx context.Context, experienceID string) ([]Slot, error) {
	query, args, err := psql.Select("slot_date", "slot_time", "capacity", "booked").
		From("slots").
		Where(sq.Eq{"experience_id": experienceID}).
		OrderBy("slot_date", "seq").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("inventory: build slot list: %w", err)
	}
	var out []Slot
	err = s.do(ctx, func(ctx context.Context) error {
		rows, err := s.DB.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		out = make([]Slot, 0)
		for rows.Next() {
			slot := Slot{ExperienceID: experienceID}
			if err := rows.Scan(&slot.Date, &slot.Time, &slot.Capacity, &slot.Booked); err != nil {
				return err
			}
			out = append(out, slot)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, s.translate(err)
	}
	return out, nil
}

// TryReserve increments booked in a single conditional update.
func (s *PostgresStore) TryReserve(ctx context.Context, key SlotKey, qty int) (int, error) {
	if qty <= 0 {
		return 0, ErrInvalidQuantity
	}
	query, args, err := psql.Update("slots").
		Set("booked", sq.Expr("booked + ?", qty)).
		Where(slotWhere(key)).
		Where(sq.Expr("booked + ? <= capacity", qty)).
		Suffix("RETURNING booked").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("inventory: build reserve: %w", err)
	}
	return s.adjust(ctx, key, query, args, ErrSlotFull)
}

// Release decrements booked, never below zero.
func (s *PostgresStore) Release(ctx context.Context, key SlotKey, qty int) (int, error) {
	if qty <= 0 {
		return 0, ErrInvalidQuantity
	}
	query, args, err := psql.Update("slots").
		Set("booked", sq.Expr("GREATEST(booked - ?, 0)", qty)).
		Where(slotWhere(key)).
		Suffix("RETURNING booked").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("inventory: build release: %w", err)
	}
	return s.adjust(ctx, key, query, args, ErrSlotNotFound)
}

func (s *PostgresStore) adjust(ctx context.Context, key SlotKey, query string, args []any, noRows error) (int, error) {
	var booked int
	err := s.do(ctx, func(ctx context.Context) error {
		err := s.DB.QueryRow(ctx, query, args...).Scan(&booked)
		if !errors.Is(err, pgx.ErrNoRows) {
			return err
		}
		if _, err := selectSlot(ctx, s.DB, key, false); err != nil {
			return err
		}
		return noRows
	})
	return booked, s.translate(err)
}

// Commit applies the booking in a serializable transaction, retrying
// serialization failures.
func (s *PostgresStore) Commit(ctx context.Context, booking Booking) (Booking, bool, error) {
	start := time.Now()
	defer func() { obs.ObserveCommit("postgres", obs.DurationMillis(time.Since(start))) }()

	b, err := prepare(booking)
	if err != nil {
		return Booking{}, false, err
	}
	cfg := s.Retry.withDefaults()

	var (
		out      Booking
		replayed bool
	)
	err = resilience.Retry(ctx, resilience.RetryPolicy{
		MaxAttempts: cfg.MaxAttempts,
		Base:        cfg.Base,
		Jitter:      cfg.Jitter,
		Retryable:   isSerializationFailure,
		OnRetry:     func(int, error) { obs.CountConflictRetry("postgres") },
	}, func(ctx context.Context, _ int) error {
		return s.do(ctx, func(ctx context.Context) error {
			var err error
			out, replayed, err = s.commitOnce(ctx, b)
			return err
		})
	})
	if errors.Is(err, errReplayRace) {
		existing, findErr := s.FindBooking(ctx, b.RefID)
		if findErr != nil {
			return Booking{}, false, findErr
		}
		return existing, true, nil
	}
	if err != nil {
		return Booking{}, false, s.translate(err)
	}
	return out, replayed, nil
}

func (s *PostgresStore) commitOnce(ctx context.Context, b Booking) (Booking, bool, error) {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return Booking{}, false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	existing, err := selectBooking(ctx, tx, b.RefID)
	if err == nil {
		return existing, true, tx.Commit(ctx)
	}
	if !errors.Is(err, ErrBookingNotFound) {
		return Booking{}, false, err
	}

	slot, err := selectSlot(ctx, tx, b.SlotKey(), true)
	if err != nil {
		return Booking{}, false, err
	}
	if err := checkClaim(ctx, tx, b.ClaimKey()); err != nil {
		return Booking{}, false, err
	}
	if slot.Booked+b.Qty > slot.Capacity {
		return Booking{}, false, ErrSlotFull
	}

	query, args, err := psql.Update("slots").
		Set("booked", sq.Expr("booked + ?", b.Qty)).
		Where(slotWhere(b.SlotKey())).
		ToSql()
	if err != nil {
		return Booking{}, false, fmt.Errorf("inventory: build slot update: %w", err)
	}
	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return Booking{}, false, err
	}

	query, args, err = psql.Insert("bookings").
		Columns(bookingColumns...).
		Values(b.RefID, b.Name, b.Email, b.ExperienceID, b.Date, b.Time,
			b.Qty, nullIfEmpty(b.PromoCode), b.Subtotal, b.Taxes, b.Discount, b.Total, string(b.Status), b.CreatedAt).
		ToSql()
	if err != nil {
		return Booking{}, false, fmt.Errorf("inventory: build booking insert: %w", err)
	}
	if _, err := tx.Exec(ctx, query, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			switch pgErr.ConstraintName {
			case constraintBookingPK:
				return Booking{}, false, errReplayRace
			case constraintClaimUnique:
				return Booking{}, false, ErrAlreadyBooked
			}
		}
		return Booking{}, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Booking{}, false, err
	}
	return b, false, nil
}

func checkClaim(ctx context.Context, q queryRower, claim ClaimKey) error {
	query, args, err := psql.Select("ref_id").From("bookings").
		Where(sq.Eq{"customer_email": claim.Email}).
		Where(slotWhere(claim.Slot)).
		Limit(1).
		ToSql()
	if err != nil {
		return fmt.Errorf("inventory: build claim check: %w", err)
	}
	var holder string
	err = q.QueryRow(ctx, query, args...).Scan(&holder)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil
	case err != nil:
		return err
	default:
		return ErrAlreadyBooked
	}
}

// FindBooking loads the booking with refID.
func (s *PostgresStore) FindBooking(ctx context.Context, refID string) (Booking, error) {
	var b Booking
	err := s.do(ctx, func(ctx context.Context) error {
		var err error
		b, err = selectBooking(ctx, s.DB, refID)
		return err
	})
	return b, s.translate(err)
}

func selectBooking(ctx context.Context, q queryRower, refID string) (Booking, error) {
	query, args, err := psql.Select(bookingColumns...).From("bookings").Where(sq.Eq{"ref_id": refID}).ToSql()
	if err != nil {
		return Booking{}, fmt.Errorf("inventory: build booking select: %w", err)
	}
	b, err := scanBooking(q.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return Booking{}, ErrBookingNotFound
	}
	return b, err
}

func scanBooking(row pgx.Row) (Booking, error) {
	var (
		b      Booking
		promo  *string
		status string
	)
	err := row.Scan(&b.RefID, &b.Name, &b.Email, &b.ExperienceID, &b.Date, &b.Time,
		&b.Qty, &promo, &b.Subtotal, &b.Taxes, &b.Discount, &b.Total, &status, &b.CreatedAt)
	if err != nil {
		return Booking{}, err
	}
	if promo != nil {
		b.PromoCode = *promo
	}
	b.Status = Status(status)
	b.CreatedAt = b.CreatedAt.UTC()
	return b, nil
}

// ListBookings pages bookings newest first.
func (s *PostgresStore) ListBookings(ctx context.Context, filter BookingFilter) ([]Booking, int, error) {
	where := sq.And{}
	if filter.ExperienceID != "" {
		where = append(where, sq.Eq{"experience_id": filter.ExperienceID})
	}
	if filter.Email != "" {
		where = append(where, sq.Eq{"customer_email": NormalizeEmail(filter.Email)})
	}
	countQuery, countArgs, err := psql.Select("count(*)").From("bookings").Where(where).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("inventory: build booking count: %w", err)
	}
	list := psql.Select(bookingColumns...).From("bookings").Where(where).OrderBy("created_at DESC", "ref_id")
	if filter.Limit > 0 {
		list = list.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		list = list.Offset(uint64(filter.Offset))
	}
	listQuery, listArgs, err := list.ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("inventory: build booking list: %w", err)
	}

	var (
		out   []Booking
		total int
	)
	err = s.do(ctx, func(ctx context.Context) error {
		if err := s.DB.QueryRow(ctx, countQuery, countArgs...).Scan(&total); err != nil {
			return err
		}
		rows, err := s.DB.Query(ctx, listQuery, listArgs...)
		if err != nil {
			return err
		}
		defer rows.Close()
		out = make([]Booking, 0)
		for rows.Next() {
			b, err := scanBooking(rows)
			if err != nil {
				return err
			}
			out = append(out, b)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, 0, s.translate(err)
	}
	return out, total, nil
}

func (s *PostgresStore) do(ctx context.Context, fn func(context.Context) error) error {
	return s.Breaker.Do(ctx, fn, isUnavailable)
}

func (s *PostgresStore) translate(err error) error {
	switch {
	case err == nil:
		return nil
	case isDomainError(err):
		return err
	case errors.Is(err, resilience.ErrRetryExhausted):
		return fmt.Errorf("%w: %v", ErrConflictRetryExhausted, err)
	case errors.Is(err, resilience.ErrOpenCircuit), isUnavailable(err):
		return fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("inventory: postgres: %w", err)
	}
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

// isUnavailable reports errors caused by the database being unreachable
// rather than by the statement.
func isUnavailable(err error) bool {
	if err == nil || isDomainError(err) {
		return false
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "57P01", "57P02", "57P03":
			return true
		}
		return len(pgErr.Code) >= 2 && pgErr.Code[:2] == "08"
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return pgconn.SafeToRetry(err)
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

var (
	_ Store  = (*PostgresStore)(nil)
	_ Seeder = (*PostgresStore)(nil)
)
