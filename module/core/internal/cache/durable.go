package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nandanugg/nxt-bus/module/core/domain"
	"github.com/nandanugg/nxt-bus/module/core/internal/clock"
	"github.com/nandanugg/nxt-bus/module/core/internal/repository/database"
)

// Durable keeps entries in a shared store so every instance behind the load
// balancer sees the same results.
type Durable struct {
	repo   database.CacheRepository
	clock  clock.Clock
	logger *slog.Logger
}

func NewDurable(repo database.CacheRepository, clk clock.Clock, logger *slog.Logger) *Durable {
	if logger == nil {
		logger = slog.Default()
	}
	return &Durable{repo: repo, clock: clk, logger: logger}
}

// Lookup is Get with store errors surfaced.
func (d *Durable) Lookup(ctx context.Context, key string) ([]byte, bool, error) {
	payload, expiresAt, err := d.repo.Get(ctx, key)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get: %w", err)
	}
	if !expiresAt.After(d.clock.Now()) {
		if err := d.repo.Delete(ctx, key); err != nil {
			return nil, false, fmt.Errorf("cache delete expired: %w", err)
		}
		return nil, false, nil
	}
	return payload, true, nil
}

func (d *Durable) Store(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	if err := d.repo.Put(ctx, key, payload, d.clock.Now().Add(ttl)); err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}

func (d *Durable) Get(ctx context.Context, vehicleID string, lat, lon float64) ([]byte, bool) {
	payload, ok, err := d.Lookup(ctx, Key(vehicleID, lat, lon))
	if err != nil {
		d.logger.Warn("durable cache read", slog.Any("error", err))
		return nil, false
	}
	return payload, ok
}

func (d *Durable) Set(ctx context.Context, vehicleID string, lat, lon float64, payload []byte, ttl time.Duration) {
	if err := d.Store(ctx, Key(vehicleID, lat, lon), payload, ttl); err != nil {
		d.logger.Warn("durable cache write", slog.Any("error", err))
	}
}

func (d *Durable) Sweep(ctx context.Context) (int64, error) {
	return d.repo.DeleteExpired(ctx, d.clock.Now())
}

func (d *Durable) Ping(ctx context.Context) error {
	return d.repo.Ping(ctx)
}
