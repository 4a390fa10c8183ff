package core

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nandanugg/nxt-bus/module/core/domain"
	"github.com/nandanugg/nxt-bus/module/core/geo"
	"github.com/nandanugg/nxt-bus/module/core/internal/clock"
)

const fixture = `
routes:
  - id: R1
    name: Route 1
    stops:
      - {id: S1, name: State Bank, lat: 12.8698, lon: 74.8430, sequence: 1}
      - {id: S2, name: Hampankatta, lat: 12.8862, lon: 74.8376, sequence: 2}
      - {id: S3, name: Lalbagh, lat: 12.9120, lon: 74.8300, sequence: 3}
  - id: R2
    name: Route 2
drivers:
  - {id: D1, name: Ravi}
  - {id: D2, name: Suresh}
vehicles:
  - {id: B1, number: KA-19-F-1234}
  - {id: B2, number: KA-19-F-5678}
assignments:
  - {vehicle_id: B1, route_id: R1, driver_id: D1, status: active}
  - {vehicle_id: B2, route_id: R2, driver_id: D2, status: active}
`

type unreachableRouter struct{ calls atomic.Int32 }

func (r *unreachableRouter) Duration(context.Context, float64, float64, float64, float64) (float64, error) {
	r.calls.Add(1)
	return 0, domain.ErrRoutingUnavailable
}

func newTestModule(t *testing.T) (*gin.Engine, *clock.Mock, *unreachableRouter) {
	t.Helper()
	seed := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(seed, []byte(fixture), 0o600))

	clk := clock.NewMock(time.Date(2024, 5, 6, 6, 30, 0, 0, time.UTC))
	router := &unreachableRouter{}
	mod, err := Build(Options{
		Store:        StoreMemory,
		SeedFile:     seed,
		CacheBackend: CacheMemory,
		EventBackend: EventsNone,
	}, Deps{Clock: clk, Router: router})
	require.NoError(t, err)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	mod.RegisterRoutes(r.Group("/api/v1"))
	return r, clk, router
}

func post(t *testing.T, r http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func TestScanFallsBackToEstimateAndCaches(t *testing.T) {
	r, clk, router := newTestModule(t)

	w := post(t, r, "/api/v1/locations", map[string]any{"vehicleId": "B2", "lat": 12.95, "lon": 74.85})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	clk.Advance(150 * time.Second)
	w = post(t, r, "/api/v1/locations", map[string]any{"vehicleId": "B1", "lat": 12.920, "lon": 74.820})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	scan := map[string]any{"routeId": "R1", "userLat": 12.91234, "userLon": 74.83567}
	w = post(t, r, "/api/v1/eta/scan", scan)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	first := w.Body.Bytes()

	var res domain.ETAResult
	require.NoError(t, json.Unmarshal(first, &res))
	assert.Equal(t, "B1", res.BusID)
	assert.Equal(t, "KA-19-F-1234", res.BusNumber)
	assert.Equal(t, "Ravi", res.DriverName)
	assert.Equal(t, domain.SourceEstimated, res.Source)
	want := geo.HaversineKm(12.920, 74.820, 12.91234, 74.83567) / 30 * 3600
	assert.InDelta(t, want, res.TravelSeconds, 1e-6)
	assert.Equal(t, int(math.Round(want/60)), res.InMinutes)

	w = post(t, r, "/api/v1/eta/scan", scan)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, first, w.Body.Bytes())
	assert.Equal(t, int32(1), router.calls.Load())

	// B2 reported 150 s ago, outside the freshness window.
	w = post(t, r, "/api/v1/eta/scan", map[string]any{"routeId": "R2", "userLat": 12.95, "userLon": 74.85})
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"no_active_buses"}`, w.Body.String())
}

func TestIngestRejectionsOverHTTP(t *testing.T) {
	r, clk, _ := newTestModule(t)

	w := post(t, r, "/api/v1/locations", map[string]any{"vehicleId": "B1", "lat": 12.920, "lon": 74.820})
	require.Equal(t, http.StatusOK, w.Code)

	clk.Advance(10 * time.Second)
	w = post(t, r, "/api/v1/locations", map[string]any{"vehicleId": "B1", "lat": 13.5, "lon": 74.820})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "implausible_movement")

	w = post(t, r, "/api/v1/locations", map[string]any{"vehicleId": "B1", "lat": 12.921, "lon": 74.820, "timestamp": "2024-05-06T06:29:00Z"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "non_monotonic_timestamp")

	w = post(t, r, "/api/v1/locations", map[string]any{"vehicleId": "B1", "lat": 95, "lon": 74.820})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_coordinates")

	w = httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/api/v1/vehicles/B1/location", nil)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"latitude":12.92`)
}

func TestBuildRejectsMissingConnections(t *testing.T) {
	_, err := Build(Options{Store: StorePostgres, EventBackend: EventsNone}, Deps{})
	assert.Error(t, err)

	_, err = Build(Options{Store: StoreMemory, EventBackend: EventsRabbitMQ}, Deps{})
	assert.Error(t, err)

	_, err = Build(Options{Store: StoreMemory, EventBackend: "kafka"}, Deps{})
	assert.Error(t, err)
}
