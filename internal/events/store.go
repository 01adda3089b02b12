package events

import (
	"context"
	"fmt"
	"sort"
	"sync"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// MemoryStore keeps events in process. It backs the memory and redis
// inventory backends.
type MemoryStore struct {
	mu     sync.RWMutex
	events []Event
}

// Append stores ev.
func (m *MemoryStore) Append(_ context.Context, ev Event) (Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev.Payload = append([]byte(nil), ev.Payload...)
	m.events = append(m.events, ev)
	return ev, nil
}

// ByAggregate returns the events recorded for aggregateID, oldest first.
func (m *MemoryStore) ByAggregate(_ context.Context, aggregateID string) ([]Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Event, 0)
	for _, ev := range m.events {
		if ev.AggregateID == aggregateID {
			out = append(out, ev)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OccurredAt.Before(out[j].OccurredAt) })
	return out, nil
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Execer is the subset of pgxpool.Pool used by PostgresStore.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresStore appends events to the domain_events table.
type PostgresStore struct {
	DB Execer
}

// Append inserts ev.
func (p *PostgresStore) Append(ctx context.Context, ev Event) (Event, error) {
	query, args, err := psql.Insert("domain_events").
		Columns("id", "topic", "aggregate_id", "payload", "created_at").
		Values(ev.ID, ev.Topic, ev.AggregateID, []byte(ev.Payload), ev.OccurredAt).
		ToSql()
	if err != nil {
		return Event{}, fmt.Errorf("build insert: %w", err)
	}
	if _, err := p.DB.Exec(ctx, query, args...); err != nil {
		return Event{}, err
	}
	return ev, nil
}

// ByAggregate returns the events recorded for aggregateID, oldest first.
func (p *PostgresStore) ByAggregate(ctx context.Context, aggregateID string) ([]Event, error) {
	query, args, err := psql.Select("id", "topic", "aggregate_id", "payload", "created_at").
		From("domain_events").
		Where(sq.Eq{"aggregate_id": aggregateID}).
		OrderBy("created_at").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}
	rows, err := p.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]Event, 0)
	for rows.Next() {
		var ev Event
		var payload []byte
		if err := rows.Scan(&ev.ID, &ev.Topic, &ev.AggregateID, &payload, &ev.OccurredAt); err != nil {
			return nil, err
		}
		ev.Payload = payload
		ev.OccurredAt = ev.OccurredAt.UTC()
		out = append(out, ev)
	}
	return out, rows.Err()
}

var (
	_ EventStore = (*MemoryStore)(nil)
	_ EventStore = (*PostgresStore)(nil)
)
