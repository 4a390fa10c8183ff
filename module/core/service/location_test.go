package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nandanugg/nxt-bus/module/core/domain"
	"github.com/nandanugg/nxt-bus/module/core/internal/clock"
	"github.com/nandanugg/nxt-bus/module/core/internal/repository/database/memory"
)

type mockLocationRepo struct {
	saveFn           func(ctx context.Context, pos *domain.VehiclePosition) error
	getLatestFn      func(ctx context.Context, vehicleID string) (*domain.VehiclePosition, error)
	getHistoryFn     func(ctx context.Context, query *domain.HistoryQuery) ([]domain.VehiclePosition, error)
	getAllVehiclesFn func(ctx context.Context) ([]domain.Vehicle, error)
	listCurrentFn    func(ctx context.Context) ([]domain.VehiclePosition, error)
}

func (m *mockLocationRepo) Save(ctx context.Context, pos *domain.VehiclePosition) error {
	return m.saveFn(ctx, pos)
}

func (m *mockLocationRepo) GetLatest(ctx context.Context, vehicleID string) (*domain.VehiclePosition, error) {
	return m.getLatestFn(ctx, vehicleID)
}

func (m *mockLocationRepo) GetHistory(ctx context.Context, query *domain.HistoryQuery) ([]domain.VehiclePosition, error) {
	return m.getHistoryFn(ctx, query)
}

func (m *mockLocationRepo) GetAllVehicles(ctx context.Context) ([]domain.Vehicle, error) {
	return m.getAllVehiclesFn(ctx)
}

func (m *mockLocationRepo) ListCurrent(ctx context.Context) ([]domain.VehiclePosition, error) {
	return m.listCurrentFn(ctx)
}

func tsPtr(t time.Time) *time.Time { return &t }

func newTestLocationService(repo *memory.LocationRepo, now time.Time) (*LocationService, *clock.Mock) {
	clk := clock.NewMock(now)
	return NewLocationService(repo, clk, 150, nil, nil), clk
}

func TestRecord_ColdStartAccepted(t *testing.T) {
	repo := memory.NewLocationRepo()
	now := time.Unix(1715003456, 0)
	svc, _ := newTestLocationService(repo, now)

	pos, err := svc.Record(context.Background(), domain.PositionUpdate{VehicleID: "B1", Lat: 12.920, Lon: 74.820})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !pos.Location.Timestamp.Equal(now) {
		t.Errorf("expected missing timestamp to default to now, got %v", pos.Location.Timestamp)
	}
}

func TestRecord_ThenReadReturnsSameFix(t *testing.T) {
	repo := memory.NewLocationRepo()
	svc, _ := newTestLocationService(repo, time.Unix(1715003456, 0))
	ts := time.Unix(1715003400, 0)

	fixes := [][2]float64{{-90, -180}, {90, 180}, {0, 0}, {-6.2088, 106.8456}}
	for i, f := range fixes {
		id := "V" + string(rune('A'+i))
		if _, err := svc.Record(context.Background(), domain.PositionUpdate{VehicleID: id, Lat: f[0], Lon: f[1], Timestamp: tsPtr(ts)}); err != nil {
			t.Fatalf("record %v: %v", f, err)
		}
		got, err := svc.GetLatest(context.Background(), id)
		if err != nil {
			t.Fatalf("get latest: %v", err)
		}
		if got.Location.Lat != f[0] || got.Location.Lon != f[1] || !got.Location.Timestamp.Equal(ts) {
			t.Errorf("expected %v@%v, got %+v", f, ts, got.Location)
		}
	}
}

func TestRecord_InvalidCoordinates(t *testing.T) {
	cases := []struct {
		name     string
		lat, lon float64
	}{
		{"lat too high", 90.0001, 0},
		{"lat too low", -91, 0},
		{"lon too high", 0, 180.5},
		{"lon too low", 0, -181},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			saved := false
			repo := &mockLocationRepo{
				saveFn: func(_ context.Context, _ *domain.VehiclePosition) error {
					saved = true
					return nil
				},
				getLatestFn: func(_ context.Context, _ string) (*domain.VehiclePosition, error) {
					return nil, domain.ErrNotFound
				},
			}
			svc := NewLocationService(repo, clock.NewMock(time.Unix(1715003456, 0)), 150, nil, nil)

			_, err := svc.Record(context.Background(), domain.PositionUpdate{VehicleID: "B1", Lat: tc.lat, Lon: tc.lon})
			if !errors.Is(err, domain.ErrInvalidCoordinates) {
				t.Fatalf("expected ErrInvalidCoordinates, got %v", err)
			}
			if saved {
				t.Fatal("expected no write on invalid coordinates")
			}
		})
	}
}

func TestRecord_MissingVehicleID(t *testing.T) {
	svc, _ := newTestLocationService(memory.NewLocationRepo(), time.Unix(1715003456, 0))
	_, err := svc.Record(context.Background(), domain.PositionUpdate{Lat: 1, Lon: 1})
	if !errors.Is(err, domain.ErrInvalidVehicle) {
		t.Fatalf("expected ErrInvalidVehicle, got %v", err)
	}
}

func TestRecord_NonMonotonicTimestamp(t *testing.T) {
	repo := memory.NewLocationRepo()
	svc, _ := newTestLocationService(repo, time.Unix(1715003456, 0))
	t1 := time.Unix(1715003400, 0)
	ctx := context.Background()

	if _, err := svc.Record(ctx, domain.PositionUpdate{VehicleID: "B1", Lat: 12.92, Lon: 74.82, Timestamp: tsPtr(t1)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := svc.Record(ctx, domain.PositionUpdate{VehicleID: "B1", Lat: 12.92, Lon: 74.82, Timestamp: tsPtr(t1)})
	if !errors.Is(err, domain.ErrNonMonotonicTimestamp) {
		t.Fatalf("expected ErrNonMonotonicTimestamp for equal timestamp, got %v", err)
	}
	_, err = svc.Record(ctx, domain.PositionUpdate{VehicleID: "B1", Lat: 12.92, Lon: 74.82, Timestamp: tsPtr(t1.Add(-time.Second))})
	if !errors.Is(err, domain.ErrNonMonotonicTimestamp) {
		t.Fatalf("expected ErrNonMonotonicTimestamp for older timestamp, got %v", err)
	}
}

func TestRecord_ImplausibleMovementKeepsPriorState(t *testing.T) {
	repo := memory.NewLocationRepo()
	svc, _ := newTestLocationService(repo, time.Unix(1715003456, 0))
	t1 := time.Unix(1715003000, 0)
	ctx := context.Background()

	if _, err := svc.Record(ctx, domain.PositionUpdate{VehicleID: "B1", Lat: 12.920, Lon: 74.820, Timestamp: tsPtr(t1)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// ~11 km in 60 s is ~660 km/h.
	_, err := svc.Record(ctx, domain.PositionUpdate{VehicleID: "B1", Lat: 13.020, Lon: 74.820, Timestamp: tsPtr(t1.Add(time.Minute))})
	if !errors.Is(err, domain.ErrImplausibleMovement) {
		t.Fatalf("expected ErrImplausibleMovement, got %v", err)
	}

	cur, _ := repo.GetLatest(ctx, "B1")
	if cur.Location.Lat != 12.920 || !cur.Location.Timestamp.Equal(t1) {
		t.Errorf("expected stored state to remain P1, got %+v", cur.Location)
	}
}

func TestRecord_PlausibleMovementAccepted(t *testing.T) {
	repo := memory.NewLocationRepo()
	svc, _ := newTestLocationService(repo, time.Unix(1715003456, 0))
	t1 := time.Unix(1715003000, 0)
	ctx := context.Background()

	_, _ = svc.Record(ctx, domain.PositionUpdate{VehicleID: "B1", Lat: 12.920, Lon: 74.820, Timestamp: tsPtr(t1)})

	// ~1.1 km in 60 s is ~67 km/h.
	pos, err := svc.Record(ctx, domain.PositionUpdate{VehicleID: "B1", Lat: 12.930, Lon: 74.820, Timestamp: tsPtr(t1.Add(time.Minute))})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pos.Location.Lat != 12.930 {
		t.Errorf("expected 12.930, got %f", pos.Location.Lat)
	}
}

func TestRecord_RepoError(t *testing.T) {
	repo := &mockLocationRepo{
		getLatestFn: func(_ context.Context, _ string) (*domain.VehiclePosition, error) {
			return nil, errors.New("db error")
		},
	}
	svc := NewLocationService(repo, clock.NewMock(time.Unix(1715003456, 0)), 150, nil, nil)

	_, err := svc.Record(context.Background(), domain.PositionUpdate{VehicleID: "X", Lat: 1, Lon: 1})
	if err == nil {
		t.Fatal("expected error")
	}
	if ErrorCode(err) != "internal_error" {
		t.Errorf("expected internal_error, got %s", ErrorCode(err))
	}
}

func TestGetHistory_Success(t *testing.T) {
	ts1 := time.Unix(1715000000, 0)
	ts2 := time.Unix(1715005000, 0)
	repo := &mockLocationRepo{
		getHistoryFn: func(_ context.Context, query *domain.HistoryQuery) ([]domain.VehiclePosition, error) {
			return []domain.VehiclePosition{
				{VehicleID: query.VehicleID, Location: domain.Location{Lat: -6.2, Lon: 106.8, Timestamp: ts1}},
				{VehicleID: query.VehicleID, Location: domain.Location{Lat: -6.3, Lon: 106.9, Timestamp: ts2}},
			}, nil
		},
	}

	svc := NewLocationService(repo, clock.Real{}, 0, nil, nil)
	results, err := svc.GetHistory(context.Background(), &domain.HistoryQuery{VehicleID: "B1234XYZ"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
}

func TestErrorCode(t *testing.T) {
	cases := map[error]string{
		domain.ErrInvalidCoordinates:    "invalid_coordinates",
		domain.ErrNonMonotonicTimestamp: "non_monotonic_timestamp",
		domain.ErrImplausibleMovement:   "implausible_movement",
		domain.ErrNoActiveVehicles:      "no_active_buses",
		domain.ErrNoValidVehicle:        "no_valid_bus_found",
		errors.New("boom"):              "internal_error",
	}
	for err, want := range cases {
		if got := ErrorCode(err); got != want {
			t.Errorf("%v: expected %s, got %s", err, want, got)
		}
	}
}
