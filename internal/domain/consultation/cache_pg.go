package consultation

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// cachePG is the durable SessionCache, one row per (doctor, key). An
// upsert per write keeps the mid-edit mirroring path a single statement.
type cachePG struct {
	pool     *pgxpool.Pool
	doctorID string
}

// NewCachePG returns a postgres-backed SessionCache scoped to one doctor.
func NewCachePG(pool *pgxpool.Pool, doctorID string) SessionCache {
	return &cachePG{pool: pool, doctorID: doctorID}
}

func (c *cachePG) GetItem(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := c.pool.QueryRow(ctx, `
		SELECT value FROM session_cache
		WHERE doctor_id = $1 AND key = $2`,
		c.doctorID, key,
	).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (c *cachePG) SetItem(ctx context.Context, key, value string) error {
	_, err := c.pool.Exec(ctx, `
		INSERT INTO session_cache (doctor_id, key, value, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (doctor_id, key)
		DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		c.doctorID, key, value,
	)
	return err
}

func (c *cachePG) RemoveItem(ctx context.Context, key string) error {
	_, err := c.pool.Exec(ctx, `
		DELETE FROM session_cache
		WHERE doctor_id = $1 AND key = $2`,
		c.doctorID, key,
	)
	return err
}
