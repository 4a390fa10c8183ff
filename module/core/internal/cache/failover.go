package cache

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nandanugg/nxt-bus/module/core/internal/metrics"
)

// Failover serves from the durable store while it is healthy and from the
// in-memory map otherwise. A failed durable call flips the health flag;
// each sweep pings the durable store and flips it back once it answers.
type Failover struct {
	durable *Durable
	memory  *Memory
	healthy atomic.Bool
	logger  *slog.Logger
	metrics *metrics.Collector
}

func NewFailover(durable *Durable, memory *Memory, logger *slog.Logger, m *metrics.Collector) *Failover {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Failover{durable: durable, memory: memory, logger: logger, metrics: m}
	f.healthy.Store(true)
	m.CacheDurable(true)
	return f
}

func (f *Failover) Healthy() bool { return f.healthy.Load() }

func (f *Failover) Get(ctx context.Context, vehicleID string, lat, lon float64) ([]byte, bool) {
	if f.healthy.Load() {
		payload, ok, err := f.durable.Lookup(ctx, Key(vehicleID, lat, lon))
		if err == nil {
			return payload, ok
		}
		f.markDown(err)
	}
	return f.memory.Get(ctx, vehicleID, lat, lon)
}

func (f *Failover) Set(ctx context.Context, vehicleID string, lat, lon float64, payload []byte, ttl time.Duration) {
	if f.healthy.Load() {
		err := f.durable.Store(ctx, Key(vehicleID, lat, lon), payload, ttl)
		if err == nil {
			return
		}
		f.markDown(err)
	}
	f.memory.Set(ctx, vehicleID, lat, lon, payload, ttl)
}

// Sweep expires entries in whichever store is live and re-probes the
// durable store when it is down.
func (f *Failover) Sweep(ctx context.Context) (int64, error) {
	n, _ := f.memory.Sweep(ctx)

	if !f.healthy.Load() {
		if err := f.durable.Ping(ctx); err != nil {
			return n, nil
		}
		f.healthy.Store(true)
		f.metrics.CacheDurable(true)
		f.logger.Info("durable eta cache recovered")
	}

	dn, err := f.durable.Sweep(ctx)
	if err != nil {
		f.markDown(err)
		return n, nil
	}
	return n + dn, nil
}

func (f *Failover) markDown(err error) {
	if f.healthy.CompareAndSwap(true, false) {
		f.metrics.CacheDurable(false)
		f.logger.Warn("durable eta cache unavailable, using in-memory fallback", slog.Any("error", err))
	}
}
