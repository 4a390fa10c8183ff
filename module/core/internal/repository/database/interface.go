package database

import (
	"context"
	"time"

	"github.com/nandanugg/nxt-bus/module/core/domain"
)

// LocationRepository stores one current row per vehicle plus an append-only history.
type LocationRepository interface {
	Save(ctx context.Context, pos *domain.VehiclePosition) error
	GetLatest(ctx context.Context, vehicleID string) (*domain.VehiclePosition, error)
	GetHistory(ctx context.Context, query *domain.HistoryQuery) ([]domain.VehiclePosition, error)
	GetAllVehicles(ctx context.Context) ([]domain.Vehicle, error)
	ListCurrent(ctx context.Context) ([]domain.VehiclePosition, error)
}

// RouteRepository is the read side of route administration.
type RouteRepository interface {
	GetRoute(ctx context.Context, routeID string) (*domain.Route, error)
	GetStops(ctx context.Context, routeID string) ([]domain.Stop, error)
	ListActiveVehicles(ctx context.Context, routeID string, since time.Time) ([]domain.ActiveVehicle, error)
	GetActiveAssignment(ctx context.Context, vehicleID string) (*domain.RouteAssignment, error)
	GetDriver(ctx context.Context, vehicleID string) (*domain.Driver, error)
}

type SegmentSpeedRepository interface {
	Find(ctx context.Context, routeID, toStopID string, bucket domain.TimeBucket, dayOfWeek int) (*domain.SegmentSpeedSample, error)
	// Fold merges one observation into the running average for key.
	Fold(ctx context.Context, key domain.SegmentKey, speedKmh, durationSec float64, at time.Time) (*domain.SegmentSpeedSample, error)
}

type CacheRepository interface {
	Get(ctx context.Context, key string) ([]byte, time.Time, error)
	Put(ctx context.Context, key string, payload []byte, expiresAt time.Time) error
	Delete(ctx context.Context, key string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	Ping(ctx context.Context) error
}
