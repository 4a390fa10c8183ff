package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nandanugg/nxt-bus/module/core/domain"
	"github.com/nandanugg/nxt-bus/module/core/internal/repository/database"
)

var _ database.RouteRepository = (*RouteRepo)(nil)

// RouteRepo holds routes, stops, drivers and assignments seeded by the caller.
// Active vehicles are resolved against the positions held by locations.
type RouteRepo struct {
	locations *LocationRepo

	mu          sync.RWMutex
	routes      map[string]domain.Route
	stops       map[string][]domain.Stop
	drivers     map[string]domain.Driver
	numbers     map[string]string
	assignments map[string]domain.RouteAssignment
}

func NewRouteRepo(locations *LocationRepo) *RouteRepo {
	return &RouteRepo{
		locations:   locations,
		routes:      make(map[string]domain.Route),
		stops:       make(map[string][]domain.Stop),
		drivers:     make(map[string]domain.Driver),
		numbers:     make(map[string]string),
		assignments: make(map[string]domain.RouteAssignment),
	}
}

func (r *RouteRepo) AddRoute(route domain.Route, stops ...domain.Stop) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sorted := append([]domain.Stop(nil), stops...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Sequence < sorted[j].Sequence })
	r.routes[route.ID] = route
	r.stops[route.ID] = sorted
}

func (r *RouteRepo) AddDriver(d domain.Driver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drivers[d.ID] = d
}

func (r *RouteRepo) AddVehicle(vehicleID, number string) {
	r.mu.Lock()
	r.numbers[vehicleID] = number
	r.mu.Unlock()
	if r.locations != nil {
		r.locations.SetVehicleNumber(vehicleID, number)
	}
}

// Assign replaces the vehicle's assignment.
func (r *RouteRepo) Assign(a domain.RouteAssignment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assignments[a.VehicleID] = a
}

func (r *RouteRepo) GetRoute(_ context.Context, routeID string) (*domain.Route, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	route, ok := r.routes[routeID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &route, nil
}

func (r *RouteRepo) GetStops(_ context.Context, routeID string) ([]domain.Stop, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]domain.Stop(nil), r.stops[routeID]...), nil
}

func (r *RouteRepo) ListActiveVehicles(ctx context.Context, routeID string, since time.Time) ([]domain.ActiveVehicle, error) {
	r.mu.RLock()
	var candidates []domain.RouteAssignment
	for _, a := range r.assignments {
		if a.RouteID == routeID && a.Status == domain.AssignmentActive {
			candidates = append(candidates, a)
		}
	}
	route := r.routes[routeID]
	numbers := make(map[string]string, len(candidates))
	driverNames := make(map[string]string, len(candidates))
	for _, a := range candidates {
		numbers[a.VehicleID] = r.numbers[a.VehicleID]
		driverNames[a.VehicleID] = r.drivers[a.DriverID].Name
	}
	r.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].VehicleID < candidates[j].VehicleID })

	var results []domain.ActiveVehicle
	for _, a := range candidates {
		pos, err := r.locations.GetLatest(ctx, a.VehicleID)
		if err != nil {
			continue
		}
		if pos.Location.Timestamp.Before(since) {
			continue
		}
		results = append(results, domain.ActiveVehicle{
			Assignment:    a,
			RouteName:     route.Name,
			VehicleNumber: numbers[a.VehicleID],
			DriverName:    driverNames[a.VehicleID],
			Position:      *pos,
		})
	}
	return results, nil
}

func (r *RouteRepo) GetActiveAssignment(_ context.Context, vehicleID string) (*domain.RouteAssignment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.assignments[vehicleID]
	if !ok || a.Status != domain.AssignmentActive {
		return nil, domain.ErrNoAssignment
	}
	return &a, nil
}

func (r *RouteRepo) GetDriver(_ context.Context, vehicleID string) (*domain.Driver, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.assignments[vehicleID]
	if !ok || a.Status != domain.AssignmentActive {
		return nil, domain.ErrNotFound
	}
	d, ok := r.drivers[a.DriverID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &d, nil
}
