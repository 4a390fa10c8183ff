package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/nandanugg/nxt-bus/module/core/domain"
	"github.com/nandanugg/nxt-bus/module/core/geo"
	"github.com/nandanugg/nxt-bus/module/core/internal/clock"
	"github.com/nandanugg/nxt-bus/module/core/internal/metrics"
	"github.com/nandanugg/nxt-bus/module/core/internal/repository/database"
)

const DefaultMaxSpeedKmh = 150.0

// LocationService validates and stores vehicle fixes. It never broadcasts.
type LocationService struct {
	repo        database.LocationRepository
	clock       clock.Clock
	maxSpeedKmh float64
	logger      *slog.Logger
	metrics     *metrics.Collector

	// serializes check-then-save per vehicle
	locks sync.Map
}

func NewLocationService(repo database.LocationRepository, clk clock.Clock, maxSpeedKmh float64, logger *slog.Logger, m *metrics.Collector) *LocationService {
	if maxSpeedKmh <= 0 {
		maxSpeedKmh = DefaultMaxSpeedKmh
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LocationService{
		repo:        repo,
		clock:       clk,
		maxSpeedKmh: maxSpeedKmh,
		logger:      logger,
		metrics:     m,
	}
}

// Record validates upd against the vehicle's last stored fix and persists it.
// A rejected update leaves stored state untouched.
func (s *LocationService) Record(ctx context.Context, upd domain.PositionUpdate) (*domain.VehiclePosition, error) {
	pos, err := s.record(ctx, upd)
	if err != nil {
		s.metrics.Ingest(ingestResult(err))
		return nil, err
	}
	s.metrics.Ingest("accepted")
	return pos, nil
}

func (s *LocationService) record(ctx context.Context, upd domain.PositionUpdate) (*domain.VehiclePosition, error) {
	if upd.VehicleID == "" {
		return nil, domain.ErrInvalidVehicle
	}
	if !validCoordinates(upd.Lat, upd.Lon) {
		return nil, fmt.Errorf("%w: lat=%v lon=%v", domain.ErrInvalidCoordinates, upd.Lat, upd.Lon)
	}

	ts := s.clock.Now()
	if upd.Timestamp != nil {
		ts = *upd.Timestamp
	}

	mu := s.lockFor(upd.VehicleID)
	mu.Lock()
	defer mu.Unlock()

	last, err := s.repo.GetLatest(ctx, upd.VehicleID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		// cold start: nothing to compare against
	case err != nil:
		return nil, fmt.Errorf("load last position: %w", err)
	default:
		if !ts.After(last.Location.Timestamp) {
			return nil, fmt.Errorf("%w: %s <= %s", domain.ErrNonMonotonicTimestamp,
				ts.UTC().Format("2006-01-02T15:04:05.000Z"), last.Location.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z"))
		}
		dist := geo.HaversineKm(last.Location.Lat, last.Location.Lon, upd.Lat, upd.Lon)
		if v := geo.ImpliedSpeedKmh(dist, ts.Sub(last.Location.Timestamp)); v > s.maxSpeedKmh {
			s.logger.Warn("rejected implausible movement",
				slog.String("vehicle_id", upd.VehicleID),
				slog.Float64("distance_km", dist),
				slog.Float64("implied_kmh", v))
			return nil, fmt.Errorf("%w: %.1f km/h over %.3f km", domain.ErrImplausibleMovement, v, dist)
		}
	}

	pos := &domain.VehiclePosition{
		VehicleID: upd.VehicleID,
		Location:  domain.Location{Lat: upd.Lat, Lon: upd.Lon, Timestamp: ts},
		Heading:   upd.Heading,
		Speed:     upd.Speed,
		Accuracy:  upd.Accuracy,
		Altitude:  upd.Altitude,
	}
	if err := s.repo.Save(ctx, pos); err != nil {
		return nil, fmt.Errorf("save position: %w", err)
	}
	return pos, nil
}

func (s *LocationService) lockFor(vehicleID string) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(vehicleID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func (s *LocationService) GetLatest(ctx context.Context, vehicleID string) (*domain.VehiclePosition, error) {
	return s.repo.GetLatest(ctx, vehicleID)
}

func (s *LocationService) GetHistory(ctx context.Context, query *domain.HistoryQuery) ([]domain.VehiclePosition, error) {
	return s.repo.GetHistory(ctx, query)
}

func (s *LocationService) GetAllVehicles(ctx context.Context) ([]domain.Vehicle, error) {
	return s.repo.GetAllVehicles(ctx)
}

func (s *LocationService) ListCurrent(ctx context.Context) ([]domain.VehiclePosition, error) {
	return s.repo.ListCurrent(ctx)
}

func validCoordinates(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// ErrorCode maps ingestion and query failures onto their wire codes.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidCoordinates):
		return "invalid_coordinates"
	case errors.Is(err, domain.ErrInvalidVehicle):
		return "invalid_vehicle"
	case errors.Is(err, domain.ErrNonMonotonicTimestamp):
		return "non_monotonic_timestamp"
	case errors.Is(err, domain.ErrImplausibleMovement):
		return "implausible_movement"
	case errors.Is(err, domain.ErrNoActiveVehicles):
		return "no_active_buses"
	case errors.Is(err, domain.ErrNoValidVehicle):
		return "no_valid_bus_found"
	case errors.Is(err, domain.ErrNoAssignment):
		return "no_active_assignment"
	case errors.Is(err, domain.ErrAuthenticationFailed):
		return "authentication_failed"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	default:
		return "internal_error"
	}
}

func ingestResult(err error) string {
	code := ErrorCode(err)
	if code == "internal_error" || code == "not_found" {
		return "error"
	}
	return code
}
