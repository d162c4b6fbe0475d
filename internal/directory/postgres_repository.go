package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository reads profiles from the doctors and patients tables.
type PostgresRepository struct {
	pool queryer
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	if pool == nil {
		panic("directory: pgx pool required")
	}
	return &PostgresRepository{pool: pool}
}

func newPostgresRepositoryWithPool(pool queryer) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) Doctor(ctx context.Context, id uuid.UUID) (Person, error) {
	return r.get(ctx, `SELECT id, username, name, email FROM doctors WHERE id = $1`, id)
}

func (r *PostgresRepository) Patient(ctx context.Context, id uuid.UUID) (Person, error) {
	return r.get(ctx, `SELECT id, username, name, email FROM patients WHERE id = $1`, id)
}

func (r *PostgresRepository) get(ctx context.Context, query string, id uuid.UUID) (Person, error) {
	var p Person
	err := r.pool.QueryRow(ctx, query, id).Scan(&p.ID, &p.Username, &p.Name, &p.Email)
	if errors.Is(err, pgx.ErrNoRows) {
		return Person{}, ErrNotFound
	}
	if err != nil {
		return Person{}, fmt.Errorf("directory: lookup %s: %w", id, err)
	}
	return p, nil
}

func (r *PostgresRepository) ListDoctors(ctx context.Context) ([]Person, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, username, name, email FROM doctors ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("directory: list doctors: %w", err)
	}
	defer rows.Close()

	var out []Person
	for rows.Next() {
		var p Person
		if err := rows.Scan(&p.ID, &p.Username, &p.Name, &p.Email); err != nil {
			return nil, fmt.Errorf("directory: scan doctor: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
