package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nandanugg/nxt-bus/module/core/domain"
	"github.com/nandanugg/nxt-bus/module/core/geo"
	"github.com/nandanugg/nxt-bus/module/core/internal/clock"
	"github.com/nandanugg/nxt-bus/module/core/internal/repository/database"
)

// TimeBucketFor buckets t by its wall-clock hour in t's own location.
func TimeBucketFor(t time.Time) domain.TimeBucket {
	h := t.Hour()
	switch {
	case h >= 6 && h < 10:
		return domain.BucketMorningPeak
	case h >= 17 && h < 20:
		return domain.BucketEveningPeak
	case h >= 22 || h < 6:
		return domain.BucketNight
	default:
		return domain.BucketAfternoon
	}
}

type stopSource interface {
	Stops(ctx context.Context, routeID string) ([]domain.Stop, error)
}

// HistoryService owns the per-segment speed model and the stop-by-stop
// projections built on it.
type HistoryService struct {
	repo   database.SegmentSpeedRepository
	stops  stopSource
	clock  clock.Clock
	loc    *time.Location
	logger *slog.Logger
}

func NewHistoryService(repo database.SegmentSpeedRepository, stops stopSource, clk clock.Clock, loc *time.Location, logger *slog.Logger) *HistoryService {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HistoryService{repo: repo, stops: stops, clock: clk, loc: loc, logger: logger}
}

// GetHistoricalSpeed looks up the sample for the current bucket and weekday.
// ok is false when no sample exists yet.
func (s *HistoryService) GetHistoricalSpeed(ctx context.Context, routeID, toStopID string) (*domain.SegmentSpeedSample, bool, error) {
	now := s.clock.Now().In(s.loc)
	sample, err := s.repo.Find(ctx, routeID, toStopID, TimeBucketFor(now), int(now.Weekday()))
	if errors.Is(err, domain.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("find segment speed: %w", err)
	}
	return sample, true, nil
}

// UpdateHistoricalSpeed folds one observed transit into the bucket of at.
func (s *HistoryService) UpdateHistoricalSpeed(ctx context.Context, routeID, fromStopID, toStopID string, speedKmh, durationSec float64, at time.Time) (*domain.SegmentSpeedSample, error) {
	local := at.In(s.loc)
	key := domain.SegmentKey{
		RouteID:    routeID,
		FromStopID: fromStopID,
		ToStopID:   toStopID,
		TimeBucket: TimeBucketFor(local),
		DayOfWeek:  int(local.Weekday()),
	}
	sample, err := s.repo.Fold(ctx, key, speedKmh, durationSec, at)
	if err != nil {
		return nil, fmt.Errorf("fold segment speed: %w", err)
	}
	s.logger.Debug("segment speed updated",
		slog.String("route_id", routeID),
		slog.String("from_stop_id", fromStopID),
		slog.String("to_stop_id", toStopID),
		slog.Float64("avg_speed_kmh", sample.AvgSpeedKmh),
		slog.Int("samples", sample.SampleCount))
	return sample, nil
}

// ProjectStops walks the route's stops from the one nearest to pos and
// returns cumulative arrival estimates for each remaining stop.
func (s *HistoryService) ProjectStops(ctx context.Context, routeID string, pos domain.VehiclePosition) ([]domain.StopETA, error) {
	stops, err := s.stops.Stops(ctx, routeID)
	if err != nil {
		return nil, fmt.Errorf("load stops: %w", err)
	}
	if len(stops) == 0 {
		return nil, nil
	}

	start := nearestStop(stops, pos.Location.Lat, pos.Location.Lon)
	now := s.clock.Now()

	vehicleSpeed := geo.DefaultSpeedKmh
	if pos.Speed != nil && *pos.Speed > 0 {
		vehicleSpeed = *pos.Speed
	}

	var (
		out         = make([]domain.StopETA, 0, len(stops)-start)
		prevLat     = pos.Location.Lat
		prevLon     = pos.Location.Lon
		totalKm     float64
		totalSecond float64
	)
	for _, stop := range stops[start:] {
		segKm := geo.HaversineKm(prevLat, prevLon, stop.Lat, stop.Lon)

		speed := vehicleSpeed
		sample, historical, err := s.GetHistoricalSpeed(ctx, routeID, stop.ID)
		if err != nil {
			return nil, err
		}
		if historical && sample.AvgSpeedKmh > 0 {
			speed = sample.AvgSpeedKmh
		} else {
			historical = false
		}

		totalKm += segKm
		totalSecond += geo.EstimateSeconds(segKm, speed)

		out = append(out, domain.StopETA{
			StopID:        stop.ID,
			StopName:      stop.Name,
			Sequence:      stop.Sequence,
			DistanceKm:    geo.Round(totalKm, 3),
			TravelSeconds: geo.Round(totalSecond, 1),
			ArrivalAt:     now.Add(time.Duration(totalSecond * float64(time.Second))).UTC(),
			Confidence:    Confidence(pos.Accuracy, historical, totalKm),
			Historical:    historical,
		})
		prevLat, prevLon = stop.Lat, stop.Lon
	}
	return out, nil
}

func nearestStop(stops []domain.Stop, lat, lon float64) int {
	best, bestKm := 0, -1.0
	for i, st := range stops {
		d := geo.HaversineKm(lat, lon, st.Lat, st.Lon)
		if bestKm < 0 || d < bestKm {
			best, bestKm = i, d
		}
	}
	return best
}

// Confidence scores a stop projection in [0, 1]. A nil accuracy adds nothing.
func Confidence(accuracy *float64, historical bool, distanceKm float64) float64 {
	c := 0.5
	if accuracy != nil {
		switch {
		case *accuracy < 10:
			c += 0.3
		case *accuracy < 50:
			c += 0.2
		default:
			c += 0.1
		}
	}
	if historical {
		c += 0.15
	}
	switch {
	case distanceKm < 1:
		c += 0.05
	case distanceKm > 10:
		c -= 0.1
	}
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return geo.Round(c, 2)
}
