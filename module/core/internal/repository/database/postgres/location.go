package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nandanugg/nxt-bus/module/core/domain"
	"github.com/nandanugg/nxt-bus/module/core/internal/repository/database"
)

var _ database.LocationRepository = (*LocationRepo)(nil)

const positionColumns = `vehicle_id, latitude, longitude, heading, speed, accuracy, altitude, recorded_at`

type LocationRepo struct {
	db *sql.DB
}

func NewLocationRepo(db *sql.DB) *LocationRepo {
	return &LocationRepo{db: db}
}

// Save appends to history and moves the current row forward. The current row
// only changes when the new fix is strictly newer, so concurrent writers
// resolve to last-write-wins by timestamp.
func (r *LocationRepo) Save(ctx context.Context, pos *domain.VehiclePosition) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	args := []any{
		pos.VehicleID, pos.Location.Lat, pos.Location.Lon,
		pos.Heading, pos.Speed, pos.Accuracy, pos.Altitude, pos.Location.Timestamp,
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO vehicle_locations (`+positionColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		args...,
	); err != nil {
		return fmt.Errorf("insert history: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO vehicle_positions_current (`+positionColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (vehicle_id) DO UPDATE SET
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			heading = EXCLUDED.heading,
			speed = EXCLUDED.speed,
			accuracy = EXCLUDED.accuracy,
			altitude = EXCLUDED.altitude,
			recorded_at = EXCLUDED.recorded_at
		WHERE vehicle_positions_current.recorded_at < EXCLUDED.recorded_at`,
		args...,
	); err != nil {
		return fmt.Errorf("upsert current: %w", err)
	}

	return tx.Commit()
}

func (r *LocationRepo) GetLatest(ctx context.Context, vehicleID string) (*domain.VehiclePosition, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+positionColumns+` FROM vehicle_positions_current WHERE vehicle_id = $1`,
		vehicleID,
	)

	pos, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return pos, nil
}

func (r *LocationRepo) GetHistory(ctx context.Context, query *domain.HistoryQuery) ([]domain.VehiclePosition, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+positionColumns+` FROM vehicle_locations WHERE vehicle_id = $1 AND recorded_at >= $2 AND recorded_at <= $3 ORDER BY recorded_at ASC`,
		query.VehicleID, query.Start, query.End,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanPositions(rows)
}

func (r *LocationRepo) ListCurrent(ctx context.Context) ([]domain.VehiclePosition, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+positionColumns+` FROM vehicle_positions_current ORDER BY vehicle_id`,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanPositions(rows)
}

func (r *LocationRepo) GetAllVehicles(ctx context.Context) ([]domain.Vehicle, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT c.vehicle_id, COALESCE(v.number, '') FROM vehicle_positions_current c LEFT JOIN vehicles v ON v.id = c.vehicle_id ORDER BY c.vehicle_id`,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []domain.Vehicle
	for rows.Next() {
		var v domain.Vehicle
		if err := rows.Scan(&v.VehicleID, &v.Number); err != nil {
			return nil, err
		}
		results = append(results, v)
	}
	return results, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPosition(s scanner) (*domain.VehiclePosition, error) {
	var (
		pos                                domain.VehiclePosition
		heading, speed, accuracy, altitude sql.NullFloat64
	)
	if err := s.Scan(
		&pos.VehicleID, &pos.Location.Lat, &pos.Location.Lon,
		&heading, &speed, &accuracy, &altitude, &pos.Location.Timestamp,
	); err != nil {
		return nil, err
	}
	pos.Heading = nullableFloat(heading)
	pos.Speed = nullableFloat(speed)
	pos.Accuracy = nullableFloat(accuracy)
	pos.Altitude = nullableFloat(altitude)
	return &pos, nil
}

func scanPositions(rows *sql.Rows) ([]domain.VehiclePosition, error) {
	var results []domain.VehiclePosition
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *pos)
	}
	return results, rows.Err()
}

func nullableFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
