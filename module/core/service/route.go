package service

import (
	"context"
	"time"

	"github.com/nandanugg/nxt-bus/module/core/domain"
	"github.com/nandanugg/nxt-bus/module/core/internal/clock"
	"github.com/nandanugg/nxt-bus/module/core/internal/repository/database"
)

const DefaultFreshnessWindow = 120 * time.Second

// RouteService is the read side of routes: ordered stops, assignments and the
// set of vehicles currently reporting on a route.
type RouteService struct {
	repo      database.RouteRepository
	clock     clock.Clock
	freshness time.Duration
}

func NewRouteService(repo database.RouteRepository, clk clock.Clock, freshness time.Duration) *RouteService {
	if freshness <= 0 {
		freshness = DefaultFreshnessWindow
	}
	return &RouteService{repo: repo, clock: clk, freshness: freshness}
}

// ActiveVehicles returns vehicles assigned to routeID whose last fix falls
// inside the freshness window.
func (s *RouteService) ActiveVehicles(ctx context.Context, routeID string) ([]domain.ActiveVehicle, error) {
	return s.repo.ListActiveVehicles(ctx, routeID, s.clock.Now().Add(-s.freshness))
}

func (s *RouteService) Stops(ctx context.Context, routeID string) ([]domain.Stop, error) {
	return s.repo.GetStops(ctx, routeID)
}

func (s *RouteService) Route(ctx context.Context, routeID string) (*domain.Route, error) {
	return s.repo.GetRoute(ctx, routeID)
}

func (s *RouteService) ActiveAssignment(ctx context.Context, vehicleID string) (*domain.RouteAssignment, error) {
	return s.repo.GetActiveAssignment(ctx, vehicleID)
}

func (s *RouteService) Driver(ctx context.Context, vehicleID string) (*domain.Driver, error) {
	return s.repo.GetDriver(ctx, vehicleID)
}
