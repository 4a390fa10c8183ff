package memory

import (
	"context"
	"sync"
	"time"

	"github.com/nandanugg/nxt-bus/module/core/domain"
	"github.com/nandanugg/nxt-bus/module/core/internal/repository/database"
)

var _ database.SegmentSpeedRepository = (*SegmentSpeedRepo)(nil)

type SegmentSpeedRepo struct {
	mu      sync.Mutex
	samples map[domain.SegmentKey]domain.SegmentSpeedSample
}

func NewSegmentSpeedRepo() *SegmentSpeedRepo {
	return &SegmentSpeedRepo{samples: make(map[domain.SegmentKey]domain.SegmentSpeedSample)}
}

func (r *SegmentSpeedRepo) Find(_ context.Context, routeID, toStopID string, bucket domain.TimeBucket, dayOfWeek int) (*domain.SegmentSpeedSample, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var best *domain.SegmentSpeedSample
	for k, s := range r.samples {
		if k.RouteID != routeID || k.ToStopID != toStopID || k.TimeBucket != bucket || k.DayOfWeek != dayOfWeek {
			continue
		}
		if best == nil || s.SampleCount > best.SampleCount {
			s := s
			best = &s
		}
	}
	if best == nil {
		return nil, domain.ErrNotFound
	}
	return best, nil
}

func (r *SegmentSpeedRepo) Fold(_ context.Context, key domain.SegmentKey, speedKmh, durationSec float64, at time.Time) (*domain.SegmentSpeedSample, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.samples[key]
	if !ok {
		s = domain.SegmentSpeedSample{
			RouteID:    key.RouteID,
			FromStopID: key.FromStopID,
			ToStopID:   key.ToStopID,
			TimeBucket: key.TimeBucket,
			DayOfWeek:  key.DayOfWeek,
		}
	}
	n := float64(s.SampleCount)
	s.AvgSpeedKmh = (s.AvgSpeedKmh*n + speedKmh) / (n + 1)
	s.AvgDurationSec = (s.AvgDurationSec*n + durationSec) / (n + 1)
	s.SampleCount++
	s.UpdatedAt = at
	r.samples[key] = s

	out := s
	return &out, nil
}
