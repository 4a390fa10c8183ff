// Package memory keeps the repositories in process. It backs STORE=memory and
// the module-level tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/nandanugg/nxt-bus/module/core/domain"
	"github.com/nandanugg/nxt-bus/module/core/internal/repository/database"
)

var _ database.LocationRepository = (*LocationRepo)(nil)

type LocationRepo struct {
	mu      sync.RWMutex
	current map[string]domain.VehiclePosition
	history map[string][]domain.VehiclePosition
	numbers map[string]string
}

func NewLocationRepo() *LocationRepo {
	return &LocationRepo{
		current: make(map[string]domain.VehiclePosition),
		history: make(map[string][]domain.VehiclePosition),
		numbers: make(map[string]string),
	}
}

// SetVehicleNumber registers the display number returned by GetAllVehicles.
func (r *LocationRepo) SetVehicleNumber(vehicleID, number string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.numbers[vehicleID] = number
}

func (r *LocationRepo) Save(_ context.Context, pos *domain.VehiclePosition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.history[pos.VehicleID] = append(r.history[pos.VehicleID], *pos)
	if cur, ok := r.current[pos.VehicleID]; !ok || cur.Location.Timestamp.Before(pos.Location.Timestamp) {
		r.current[pos.VehicleID] = *pos
	}
	return nil
}

func (r *LocationRepo) GetLatest(_ context.Context, vehicleID string) (*domain.VehiclePosition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pos, ok := r.current[vehicleID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &pos, nil
}

func (r *LocationRepo) GetHistory(_ context.Context, query *domain.HistoryQuery) ([]domain.VehiclePosition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []domain.VehiclePosition
	for _, pos := range r.history[query.VehicleID] {
		ts := pos.Location.Timestamp
		if ts.Before(query.Start) || ts.After(query.End) {
			continue
		}
		results = append(results, pos)
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Location.Timestamp.Before(results[j].Location.Timestamp)
	})
	return results, nil
}

func (r *LocationRepo) GetAllVehicles(_ context.Context) ([]domain.Vehicle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	results := make([]domain.Vehicle, 0, len(r.current))
	for id := range r.current {
		results = append(results, domain.Vehicle{VehicleID: id, Number: r.numbers[id]})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].VehicleID < results[j].VehicleID })
	return results, nil
}

func (r *LocationRepo) ListCurrent(_ context.Context) ([]domain.VehiclePosition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	results := make([]domain.VehiclePosition, 0, len(r.current))
	for _, pos := range r.current {
		results = append(results, pos)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].VehicleID < results[j].VehicleID })
	return results, nil
}
