package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/nandanugg/nxt-bus/module/core/domain"
	"github.com/nandanugg/nxt-bus/module/core/internal/repository/database"
)

var _ database.RouteRepository = (*RouteRepo)(nil)

// RouteRepo reads the tables owned by route administration. It never writes.
type RouteRepo struct {
	db *sql.DB
}

func NewRouteRepo(db *sql.DB) *RouteRepo {
	return &RouteRepo{db: db}
}

func (r *RouteRepo) GetRoute(ctx context.Context, routeID string) (*domain.Route, error) {
	var route domain.Route
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name FROM routes WHERE id = $1`,
		routeID,
	).Scan(&route.ID, &route.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &route, nil
}

func (r *RouteRepo) GetStops(ctx context.Context, routeID string) ([]domain.Stop, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT s.id, s.name, s.latitude, s.longitude, rs.sequence
		FROM route_stops rs JOIN stops s ON s.id = rs.stop_id
		WHERE rs.route_id = $1 ORDER BY rs.sequence ASC`,
		routeID,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var stops []domain.Stop
	for rows.Next() {
		var s domain.Stop
		if err := rows.Scan(&s.ID, &s.Name, &s.Lat, &s.Lon, &s.Sequence); err != nil {
			return nil, err
		}
		stops = append(stops, s)
	}
	return stops, rows.Err()
}

func (r *RouteRepo) ListActiveVehicles(ctx context.Context, routeID string, since time.Time) ([]domain.ActiveVehicle, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT a.vehicle_id, a.route_id, a.driver_id, a.status, r.name,
			COALESCE(v.number, ''), COALESCE(d.name, ''),
			c.latitude, c.longitude, c.heading, c.speed, c.accuracy, c.altitude, c.recorded_at
		FROM route_assignments a
		JOIN routes r ON r.id = a.route_id
		JOIN vehicle_positions_current c ON c.vehicle_id = a.vehicle_id
		LEFT JOIN vehicles v ON v.id = a.vehicle_id
		LEFT JOIN drivers d ON d.id = a.driver_id
		WHERE a.route_id = $1 AND a.status = 'active' AND c.recorded_at >= $2
		ORDER BY a.vehicle_id ASC`,
		routeID, since,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []domain.ActiveVehicle
	for rows.Next() {
		var (
			av                                 domain.ActiveVehicle
			heading, speed, accuracy, altitude sql.NullFloat64
		)
		if err := rows.Scan(
			&av.Assignment.VehicleID, &av.Assignment.RouteID, &av.Assignment.DriverID, &av.Assignment.Status,
			&av.RouteName, &av.VehicleNumber, &av.DriverName,
			&av.Position.Location.Lat, &av.Position.Location.Lon,
			&heading, &speed, &accuracy, &altitude, &av.Position.Location.Timestamp,
		); err != nil {
			return nil, err
		}
		av.Position.VehicleID = av.Assignment.VehicleID
		av.Position.Heading = nullableFloat(heading)
		av.Position.Speed = nullableFloat(speed)
		av.Position.Accuracy = nullableFloat(accuracy)
		av.Position.Altitude = nullableFloat(altitude)
		results = append(results, av)
	}
	return results, rows.Err()
}

func (r *RouteRepo) GetActiveAssignment(ctx context.Context, vehicleID string) (*domain.RouteAssignment, error) {
	var a domain.RouteAssignment
	err := r.db.QueryRowContext(ctx,
		`SELECT vehicle_id, route_id, driver_id, status FROM route_assignments WHERE vehicle_id = $1 AND status = 'active' LIMIT 1`,
		vehicleID,
	).Scan(&a.VehicleID, &a.RouteID, &a.DriverID, &a.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNoAssignment
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *RouteRepo) GetDriver(ctx context.Context, vehicleID string) (*domain.Driver, error) {
	var d domain.Driver
	err := r.db.QueryRowContext(ctx,
		`SELECT d.id, d.name FROM drivers d JOIN route_assignments a ON a.driver_id = d.id
		WHERE a.vehicle_id = $1 AND a.status = 'active' LIMIT 1`,
		vehicleID,
	).Scan(&d.ID, &d.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}
