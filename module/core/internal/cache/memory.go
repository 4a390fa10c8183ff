// Package cache memoizes encoded ETA results under a key derived from the
// vehicle and the user's position rounded to 5 decimal places.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nandanugg/nxt-bus/module/core/internal/clock"
)

const DefaultSweepInterval = 30 * time.Second

// Key rounds lat/lon to 5 decimals (about 1.1 m) to absorb GPS jitter.
func Key(vehicleID string, lat, lon float64) string {
	return fmt.Sprintf("%s:%.5f:%.5f", vehicleID, lat, lon)
}

type entry struct {
	payload   []byte
	expiresAt time.Time
}

type Memory struct {
	clock clock.Clock

	mu      sync.Mutex
	entries map[string]entry
}

func NewMemory(clk clock.Clock) *Memory {
	return &Memory{clock: clk, entries: make(map[string]entry)}
}

func (m *Memory) Get(_ context.Context, vehicleID string, lat, lon float64) ([]byte, bool) {
	key := Key(vehicleID, lat, lon)

	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	if !e.expiresAt.After(m.clock.Now()) {
		delete(m.entries, key)
		return nil, false
	}
	return e.payload, true
}

func (m *Memory) Set(_ context.Context, vehicleID string, lat, lon float64, payload []byte, ttl time.Duration) {
	key := Key(vehicleID, lat, lon)
	e := entry{payload: append([]byte(nil), payload...), expiresAt: m.clock.Now().Add(ttl)}

	m.mu.Lock()
	m.entries[key] = e
	m.mu.Unlock()
}

// Sweep removes every expired entry and reports how many it dropped.
func (m *Memory) Sweep(_ context.Context) (int64, error) {
	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, e := range m.entries {
		if !e.expiresAt.After(now) {
			delete(m.entries, k)
			n++
		}
	}
	return n, nil
}

func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

type Sweeper interface {
	Sweep(ctx context.Context) (int64, error)
}

// Run sweeps s every interval until ctx is done.
func Run(ctx context.Context, s Sweeper, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Sweep(ctx)
			if err != nil {
				logger.Warn("cache sweep failed", slog.Any("error", err))
				continue
			}
			if n > 0 {
				logger.Debug("cache sweep", slog.Int64("expired", n))
			}
		}
	}
}
