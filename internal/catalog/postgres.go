package catalog

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var experienceColumns = []string{"id", "title", "description", "location", "price", "images"}

// Querier is the subset of pgxpool.Pool used by PostgresSource.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresSource reads experiences from the experiences table.
type PostgresSource struct {
	DB Querier
}

// ListExperiences returns every experience ordered by id.
func (p *PostgresSource) ListExperiences(ctx context.Context) ([]Experience, error) {
	query, args, err := psql.Select(experienceColumns...).From("experiences").
		OrderBy("length(id)", "id").ToSql()
	if err != nil {
		return nil, fmt.Errorf("catalog: build list: %w", err)
	}
	rows, err := p.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("catalog: list experiences: %w", err)
	}
	defer rows.Close()
	out := make([]Experience, 0)
	for rows.Next() {
		e, err := scanExperience(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetExperience returns the experience with id.
func (p *PostgresSource) GetExperience(ctx context.Context, id string) (Experience, error) {
	query, args, err := psql.Select(experienceColumns...).From("experiences").
		Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return Experience{}, fmt.Errorf("catalog: build get: %w", err)
	}
	e, err := scanExperience(p.DB.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return Experience{}, ErrNotFound
	}
	return e, err
}

// UpsertExperiences inserts or refreshes experience metadata.
func (p *PostgresSource) UpsertExperiences(ctx context.Context, experiences []Experience) error {
	if len(experiences) == 0 {
		return nil
	}
	ins := psql.Insert("experiences").Columns(experienceColumns...)
	for _, e := range experiences {
		images := e.Images
		if images == nil {
			images = []string{}
		}
		ins = ins.Values(e.ID, e.Title, e.Description, e.Location, e.Price, images)
	}
	query, args, err := ins.Suffix(`ON CONFLICT (id) DO UPDATE SET
		title = EXCLUDED.title,
		description = EXCLUDED.description,
		location = EXCLUDED.location,
		price = EXCLUDED.price,
		images = EXCLUDED.images`).ToSql()
	if err != nil {
		return fmt.Errorf("catalog: build upsert: %w", err)
	}
	if _, err := p.DB.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("catalog: upsert experiences: %w", err)
	}
	return nil
}

func scanExperience(row pgx.Row) (Experience, error) {
	var e Experience
	if err := row.Scan(&e.ID, &e.Title, &e.Description, &e.Location, &e.Price, &e.Images); err != nil {
		return Experience{}, err
	}
	if e.Images == nil {
		e.Images = []string{}
	}
	return e, nil
}

var (
	_ Source = (*PostgresSource)(nil)
	_ Source = (*MemorySource)(nil)
)
