package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/nandanugg/nxt-bus/module/core/domain"
	"github.com/nandanugg/nxt-bus/module/core/internal/repository/database"
)

var _ database.SegmentSpeedRepository = (*SegmentSpeedRepo)(nil)

type SegmentSpeedRepo struct {
	db *sql.DB
}

func NewSegmentSpeedRepo(db *sql.DB) *SegmentSpeedRepo {
	return &SegmentSpeedRepo{db: db}
}

func (r *SegmentSpeedRepo) Find(ctx context.Context, routeID, toStopID string, bucket domain.TimeBucket, dayOfWeek int) (*domain.SegmentSpeedSample, error) {
	s := domain.SegmentSpeedSample{RouteID: routeID, ToStopID: toStopID, TimeBucket: bucket, DayOfWeek: dayOfWeek}
	err := r.db.QueryRowContext(ctx,
		`SELECT from_stop_id, avg_speed_kmh, avg_duration_sec, sample_count, updated_at
		FROM segment_speeds
		WHERE route_id = $1 AND to_stop_id = $2 AND time_bucket = $3 AND day_of_week = $4
		ORDER BY sample_count DESC LIMIT 1`,
		routeID, toStopID, string(bucket), dayOfWeek,
	).Scan(&s.FromStopID, &s.AvgSpeedKmh, &s.AvgDurationSec, &s.SampleCount, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Fold runs the running-average update inside the upsert so concurrent
// observations for the same segment never lose a sample.
func (r *SegmentSpeedRepo) Fold(ctx context.Context, key domain.SegmentKey, speedKmh, durationSec float64, at time.Time) (*domain.SegmentSpeedSample, error) {
	s := domain.SegmentSpeedSample{
		RouteID:    key.RouteID,
		FromStopID: key.FromStopID,
		ToStopID:   key.ToStopID,
		TimeBucket: key.TimeBucket,
		DayOfWeek:  key.DayOfWeek,
	}
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO segment_speeds
			(route_id, from_stop_id, to_stop_id, time_bucket, day_of_week, avg_speed_kmh, avg_duration_sec, sample_count, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 1, $8)
		ON CONFLICT (route_id, from_stop_id, to_stop_id, time_bucket, day_of_week) DO UPDATE SET
			avg_speed_kmh = (segment_speeds.avg_speed_kmh * segment_speeds.sample_count + EXCLUDED.avg_speed_kmh) / (segment_speeds.sample_count + 1),
			avg_duration_sec = (segment_speeds.avg_duration_sec * segment_speeds.sample_count + EXCLUDED.avg_duration_sec) / (segment_speeds.sample_count + 1),
			sample_count = segment_speeds.sample_count + 1,
			updated_at = EXCLUDED.updated_at
		RETURNING avg_speed_kmh, avg_duration_sec, sample_count, updated_at`,
		key.RouteID, key.FromStopID, key.ToStopID, string(key.TimeBucket), key.DayOfWeek, speedKmh, durationSec, at,
	).Scan(&s.AvgSpeedKmh, &s.AvgDurationSec, &s.SampleCount, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
