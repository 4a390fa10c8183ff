package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/nandanugg/nxt-bus/module/core/domain"
	"github.com/nandanugg/nxt-bus/module/core/internal/repository/database"
)

var _ database.CacheRepository = (*ETACacheRepo)(nil)

type ETACacheRepo struct {
	db *sql.DB
}

func NewETACacheRepo(db *sql.DB) *ETACacheRepo {
	return &ETACacheRepo{db: db}
}

func (r *ETACacheRepo) Get(ctx context.Context, key string) ([]byte, time.Time, error) {
	var (
		payload   []byte
		expiresAt time.Time
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT payload, expires_at FROM eta_cache WHERE key = $1`,
		key,
	).Scan(&payload, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, time.Time{}, domain.ErrNotFound
	}
	if err != nil {
		return nil, time.Time{}, err
	}
	return payload, expiresAt, nil
}

func (r *ETACacheRepo) Put(ctx context.Context, key string, payload []byte, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO eta_cache (key, payload, expires_at) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET payload = EXCLUDED.payload, expires_at = EXCLUDED.expires_at`,
		key, payload, expiresAt,
	)
	return err
}

func (r *ETACacheRepo) Delete(ctx context.Context, key string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM eta_cache WHERE key = $1`, key)
	return err
}

func (r *ETACacheRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM eta_cache WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *ETACacheRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
