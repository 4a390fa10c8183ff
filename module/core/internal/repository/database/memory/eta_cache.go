package memory

import (
	"context"
	"sync"
	"time"

	"github.com/nandanugg/nxt-bus/module/core/domain"
	"github.com/nandanugg/nxt-bus/module/core/internal/repository/database"
)

var _ database.CacheRepository = (*ETACacheRepo)(nil)

type cacheRow struct {
	payload   []byte
	expiresAt time.Time
}

// ETACacheRepo mirrors the eta_cache table shape. Used where the durable
// cache path needs exercising without Postgres.
type ETACacheRepo struct {
	mu   sync.Mutex
	rows map[string]cacheRow
	// pingErr, when set, is returned by every call.
	pingErr error
}

func NewETACacheRepo() *ETACacheRepo {
	return &ETACacheRepo{rows: make(map[string]cacheRow)}
}

func (r *ETACacheRepo) Get(_ context.Context, key string) ([]byte, time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pingErr != nil {
		return nil, time.Time{}, r.pingErr
	}
	row, ok := r.rows[key]
	if !ok {
		return nil, time.Time{}, domain.ErrNotFound
	}
	return row.payload, row.expiresAt, nil
}

func (r *ETACacheRepo) Put(_ context.Context, key string, payload []byte, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pingErr != nil {
		return r.pingErr
	}
	r.rows[key] = cacheRow{payload: append([]byte(nil), payload...), expiresAt: expiresAt}
	return nil
}

func (r *ETACacheRepo) Delete(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pingErr != nil {
		return r.pingErr
	}
	delete(r.rows, key)
	return nil
}

func (r *ETACacheRepo) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pingErr != nil {
		return 0, r.pingErr
	}
	var n int64
	for k, row := range r.rows {
		if !row.expiresAt.After(now) {
			delete(r.rows, k)
			n++
		}
	}
	return n, nil
}

func (r *ETACacheRepo) Ping(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pingErr
}

// SetPingErr toggles simulated unavailability.
func (r *ETACacheRepo) SetPingErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pingErr = err
}
