package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/tidwall/rtree"

	"github.com/nandanugg/nxt-bus/module/core/domain"
	"github.com/nandanugg/nxt-bus/module/core/geo"
	"github.com/nandanugg/nxt-bus/module/core/internal/metrics"
	"github.com/nandanugg/nxt-bus/module/core/internal/repository/publisher"
)

const (
	DefaultArrivalRadiusMeters = 50.0
	metersPerDegreeLat         = 111320.0

	delayThreshold  = 2 * time.Minute
	minDelaySamples = 3
)

type speedRecorder interface {
	GetHistoricalSpeed(ctx context.Context, routeID, toStopID string) (*domain.SegmentSpeedSample, bool, error)
	UpdateHistoricalSpeed(ctx context.Context, routeID, fromStopID, toStopID string, speedKmh, durationSec float64, at time.Time) (*domain.SegmentSpeedSample, error)
}

type lastArrival struct {
	routeID string
	stop    domain.Stop
	at      time.Time
}

// ArrivalService detects when a tracked vehicle reaches one of its route's
// stops and feeds consecutive-stop transits into the segment speed model.
type ArrivalService struct {
	publisher publisher.EventPublisher
	stops     stopSource
	speeds    speedRecorder
	radius    float64
	logger    *slog.Logger
	metrics   *metrics.Collector

	mu      sync.Mutex
	indexes map[string]*rtree.RTreeG[domain.Stop]
	last    map[string]lastArrival
}

func NewArrivalService(pub publisher.EventPublisher, stops stopSource, speeds speedRecorder, radiusMeters float64, logger *slog.Logger, m *metrics.Collector) *ArrivalService {
	if radiusMeters <= 0 {
		radiusMeters = DefaultArrivalRadiusMeters
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ArrivalService{
		publisher: pub,
		stops:     stops,
		speeds:    speeds,
		radius:    radiusMeters,
		logger:    logger,
		metrics:   m,
		indexes:   make(map[string]*rtree.RTreeG[domain.Stop]),
		last:      make(map[string]lastArrival),
	}
}

// CheckArrival returns the stops pos has just arrived at. A vehicle dwelling
// at a stop produces a single arrival.
func (s *ArrivalService) CheckArrival(ctx context.Context, routeID string, pos *domain.VehiclePosition) ([]domain.ArrivalEvent, error) {
	idx, err := s.index(ctx, routeID)
	if err != nil {
		return nil, err
	}

	lat, lon := pos.Location.Lat, pos.Location.Lon
	dLat := s.radius / metersPerDegreeLat
	dLon := s.radius / (metersPerDegreeLat * math.Max(math.Cos(geo.ToRad(lat)), 1e-6))

	var hits []domain.Stop
	idx.Search([2]float64{lon - dLon, lat - dLat}, [2]float64{lon + dLon, lat + dLat},
		func(_, _ [2]float64, stop domain.Stop) bool {
			if geo.HaversineMeters(lat, lon, stop.Lat, stop.Lon) <= s.radius {
				hits = append(hits, stop)
			}
			return true
		})
	if len(hits) == 0 {
		return nil, nil
	}
	stop := closest(hits, lat, lon)

	s.mu.Lock()
	prev, seen := s.last[pos.VehicleID]
	if seen && prev.routeID == routeID && prev.stop.ID == stop.ID {
		s.mu.Unlock()
		return nil, nil
	}
	s.last[pos.VehicleID] = lastArrival{routeID: routeID, stop: stop, at: pos.Location.Timestamp}
	s.mu.Unlock()

	var delay *domain.SegmentDelay
	if seen && prev.routeID == routeID && prev.stop.Sequence+1 == stop.Sequence {
		delay = s.foldTransit(ctx, routeID, pos.VehicleID, prev, stop, pos.Location.Timestamp)
	}

	s.metrics.Arrival()
	evt := domain.ArrivalEvent{
		VehicleID: pos.VehicleID,
		RouteID:   routeID,
		StopID:    stop.ID,
		StopName:  stop.Name,
		Location:  pos.Location,
		ArrivedAt: pos.Location.Timestamp,
		Delay:     delay,
	}

	if s.publisher != nil {
		loc := pos.Location
		err := s.publisher.PublishEvent(ctx, &domain.FleetEvent{
			Type:      domain.EventStopArrival,
			RouteID:   routeID,
			VehicleID: pos.VehicleID,
			StopID:    stop.ID,
			Location:  &loc,
			Timestamp: pos.Location.Timestamp.Unix(),
		})
		if err != nil {
			s.metrics.PublishFailed()
			return []domain.ArrivalEvent{evt}, fmt.Errorf("publish arrival: %w", err)
		}
	}
	return []domain.ArrivalEvent{evt}, nil
}

// foldTransit adds the observed transit to the segment speed model. The
// returned delay is compared against the average from before the fold.
func (s *ArrivalService) foldTransit(ctx context.Context, routeID, vehicleID string, prev lastArrival, stop domain.Stop, at time.Time) *domain.SegmentDelay {
	elapsed := at.Sub(prev.at)
	distKm := geo.HaversineKm(prev.stop.Lat, prev.stop.Lon, stop.Lat, stop.Lon)
	speed := geo.ImpliedSpeedKmh(distKm, elapsed)
	if elapsed <= 0 || math.IsInf(speed, 0) || speed <= 0 {
		return nil
	}

	var delay *domain.SegmentDelay
	sample, ok, err := s.speeds.GetHistoricalSpeed(ctx, routeID, stop.ID)
	switch {
	case err != nil:
		s.logger.Warn("segment speed lookup failed", slog.String("route_id", routeID), slog.Any("error", err))
	case ok && sample.FromStopID == prev.stop.ID && sample.SampleCount >= minDelaySamples:
		late := elapsed.Seconds() - sample.AvgDurationSec
		if late >= delayThreshold.Seconds() {
			delay = &domain.SegmentDelay{
				VehicleID:       vehicleID,
				RouteID:         routeID,
				FromStopID:      prev.stop.ID,
				ToStopID:        stop.ID,
				ObservedSeconds: elapsed.Seconds(),
				ExpectedSeconds: geo.Round(sample.AvgDurationSec, 1),
				DelaySeconds:    geo.Round(late, 1),
			}
		}
	}

	if _, err := s.speeds.UpdateHistoricalSpeed(ctx, routeID, prev.stop.ID, stop.ID, speed, elapsed.Seconds(), at); err != nil {
		s.logger.Warn("segment speed fold failed", slog.String("route_id", routeID), slog.Any("error", err))
	}
	return delay
}

// Reset forgets the vehicle's last arrival.
func (s *ArrivalService) Reset(vehicleID string) {
	s.mu.Lock()
	delete(s.last, vehicleID)
	s.mu.Unlock()
}

func (s *ArrivalService) index(ctx context.Context, routeID string) (*rtree.RTreeG[domain.Stop], error) {
	s.mu.Lock()
	idx, ok := s.indexes[routeID]
	s.mu.Unlock()
	if ok {
		return idx, nil
	}

	stops, err := s.stops.Stops(ctx, routeID)
	if err != nil {
		return nil, fmt.Errorf("load stops: %w", err)
	}
	idx = &rtree.RTreeG[domain.Stop]{}
	for _, st := range stops {
		p := [2]float64{st.Lon, st.Lat}
		idx.Insert(p, p, st)
	}

	s.mu.Lock()
	s.indexes[routeID] = idx
	s.mu.Unlock()
	return idx, nil
}

func closest(stops []domain.Stop, lat, lon float64) domain.Stop {
	return stops[nearestStop(stops, lat, lon)]
}
