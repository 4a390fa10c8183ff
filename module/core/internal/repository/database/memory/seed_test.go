package memory

import (
	"context"
	"strings"
	"testing"
)

const testSeed = `
routes:
  - id: R1
    name: Route 1
    stops:
      - {id: S2, name: Hampankatta, lat: 12.8862, lon: 74.8376, sequence: 2}
      - {id: S1, name: State Bank, lat: 12.8698, lon: 74.8430, sequence: 1}
drivers:
  - {id: D1, name: Ravi}
vehicles:
  - {id: B1, number: KA-19-F-1234}
assignments:
  - {vehicle_id: B1, route_id: R1, driver_id: D1}
`

func TestLoadSeed(t *testing.T) {
	repo := NewRouteRepo(NewLocationRepo())
	if err := LoadSeed(strings.NewReader(testSeed), repo); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx := context.Background()

	stops, err := repo.GetStops(ctx, "R1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(stops) != 2 || stops[0].ID != "S1" {
		t.Fatalf("expected stops ordered by sequence, got %+v", stops)
	}

	a, err := repo.GetActiveAssignment(ctx, "B1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.DriverID != "D1" || a.RouteID != "R1" {
		t.Errorf("unexpected assignment %+v", a)
	}

	d, err := repo.GetDriver(ctx, "B1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Name != "Ravi" {
		t.Errorf("expected Ravi, got %s", d.Name)
	}
}

func TestLoadSeed_Rejects(t *testing.T) {
	repo := NewRouteRepo(nil)
	for name, doc := range map[string]string{
		"bad yaml":   "routes: [",
		"bad status": "assignments:\n  - {vehicle_id: B1, route_id: R1, status: parked}\n",
	} {
		if err := LoadSeed(strings.NewReader(doc), repo); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}
