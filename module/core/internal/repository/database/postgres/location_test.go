package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/nandanugg/nxt-bus/module/core/domain"
)

var positionCols = []string{"vehicle_id", "latitude", "longitude", "heading", "speed", "accuracy", "altitude", "recorded_at"}

func floatPtr(f float64) *float64 { return &f }

func TestSave_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	ts := time.Unix(1715003456, 0)
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO vehicle_locations`).
		WithArgs("B1234XYZ", -6.2088, 106.8456, 90.0, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), ts).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO vehicle_positions_current (.+) ON CONFLICT \(vehicle_id\) DO UPDATE`).
		WithArgs("B1234XYZ", -6.2088, 106.8456, 90.0, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), ts).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	repo := NewLocationRepo(db)
	err = repo.Save(context.Background(), &domain.VehiclePosition{
		VehicleID: "B1234XYZ",
		Location:  domain.Location{Lat: -6.2088, Lon: 106.8456, Timestamp: ts},
		Heading:   floatPtr(90),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestSave_HistoryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO vehicle_locations`).WillReturnError(sqlmock.ErrCancelled)
	mock.ExpectRollback()

	repo := NewLocationRepo(db)
	err = repo.Save(context.Background(), &domain.VehiclePosition{
		VehicleID: "B1234XYZ",
		Location:  domain.Location{Lat: -6.2088, Lon: 106.8456, Timestamp: time.Unix(1715003456, 0)},
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestGetLatest_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	ts := time.Unix(1715003456, 0)
	rows := sqlmock.NewRows(positionCols).
		AddRow("B1234XYZ", -6.2088, 106.8456, 180.0, 32.5, nil, nil, ts)

	mock.ExpectQuery(`SELECT (.+) FROM vehicle_positions_current WHERE vehicle_id = (.+)`).
		WithArgs("B1234XYZ").
		WillReturnRows(rows)

	repo := NewLocationRepo(db)
	pos, err := repo.GetLatest(context.Background(), "B1234XYZ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pos.VehicleID != "B1234XYZ" {
		t.Errorf("expected B1234XYZ, got %s", pos.VehicleID)
	}
	if pos.Location.Lat != -6.2088 {
		t.Errorf("expected -6.2088, got %f", pos.Location.Lat)
	}
	if !pos.Location.Timestamp.Equal(ts) {
		t.Errorf("expected %v, got %v", ts, pos.Location.Timestamp)
	}
	if pos.Speed == nil || *pos.Speed != 32.5 {
		t.Errorf("expected speed 32.5, got %v", pos.Speed)
	}
	if pos.Accuracy != nil {
		t.Errorf("expected nil accuracy, got %v", *pos.Accuracy)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestGetLatest_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	mock.ExpectQuery(`SELECT (.+) FROM vehicle_positions_current`).
		WithArgs("UNKNOWN").
		WillReturnRows(sqlmock.NewRows(positionCols))

	repo := NewLocationRepo(db)
	_, err = repo.GetLatest(context.Background(), "UNKNOWN")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetHistory_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	ts1 := time.Unix(1715000000, 0)
	ts2 := time.Unix(1715005000, 0)
	start := time.Unix(1715000000, 0)
	end := time.Unix(1715009999, 0)

	rows := sqlmock.NewRows(positionCols).
		AddRow("B1234XYZ", -6.2, 106.8, nil, nil, nil, nil, ts1).
		AddRow("B1234XYZ", -6.3, 106.9, nil, nil, nil, nil, ts2)

	mock.ExpectQuery(`SELECT (.+) FROM vehicle_locations WHERE vehicle_id = (.+) AND recorded_at >= (.+) AND recorded_at <= (.+) ORDER BY recorded_at ASC`).
		WithArgs("B1234XYZ", start, end).
		WillReturnRows(rows)

	repo := NewLocationRepo(db)
	results, err := repo.GetHistory(context.Background(), &domain.HistoryQuery{
		VehicleID: "B1234XYZ",
		Start:     start,
		End:       end,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[1].Location.Lat != -6.3 {
		t.Errorf("expected -6.3, got %f", results[1].Location.Lat)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestGetHistory_QueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	mock.ExpectQuery(`SELECT (.+) FROM vehicle_locations`).
		WillReturnError(sqlmock.ErrCancelled)

	repo := NewLocationRepo(db)
	_, err = repo.GetHistory(context.Background(), &domain.HistoryQuery{VehicleID: "B1234XYZ"})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestListCurrent_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	ts := time.Unix(1715003456, 0)
	mock.ExpectQuery(`SELECT (.+) FROM vehicle_positions_current ORDER BY vehicle_id`).
		WillReturnRows(sqlmock.NewRows(positionCols).
			AddRow("B1", 12.92, 74.82, nil, nil, nil, nil, ts).
			AddRow("B2", 12.93, 74.83, 45.0, 20.0, 5.0, 12.0, ts))

	repo := NewLocationRepo(db)
	results, err := repo.ListCurrent(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[1].Altitude == nil || *results[1].Altitude != 12 {
		t.Errorf("expected altitude 12, got %v", results[1].Altitude)
	}
}

func TestGetAllVehicles_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	rows := sqlmock.NewRows([]string{"vehicle_id", "number"}).
		AddRow("B1234XYZ", "KA-19-1234").
		AddRow("B5678ABC", "")

	mock.ExpectQuery(`SELECT c.vehicle_id, COALESCE\(v.number, ''\) FROM vehicle_positions_current`).
		WillReturnRows(rows)

	repo := NewLocationRepo(db)
	results, err := repo.GetAllVehicles(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 vehicles, got %d", len(results))
	}
	if results[0].Number != "KA-19-1234" {
		t.Errorf("expected KA-19-1234, got %s", results[0].Number)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
