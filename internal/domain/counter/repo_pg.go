package counter

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/patholab/lis/internal/platform/db"
)

type counterRepoPG struct{ pool *pgxpool.Pool }

func NewCounterRepoPG(pool *pgxpool.Pool) Repository {
	return &counterRepoPG{pool: pool}
}

func (r *counterRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Resolve(ctx, r.pool)
}

// Next is a single find-and-modify round trip; the row lock taken by the upsert
// serializes concurrent callers on the same (key, year).
func (r *counterRepoPG) Next(ctx context.Context, key string, year int) (int64, error) {
	var n int64
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO consecutive_counters (counter_key, year, last_number, updated_at)
		VALUES ($1, $2, 1, NOW())
		ON CONFLICT (counter_key, year) DO UPDATE
			SET last_number = consecutive_counters.last_number + 1, updated_at = NOW()
		RETURNING last_number`, key, year).Scan(&n)
	return n, err
}

func (r *counterRepoPG) Current(ctx context.Context, key string, year int) (int64, error) {
	var n int64
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT last_number FROM consecutive_counters WHERE counter_key = $1 AND year = $2`,
		key, year).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return n, err
}
