package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nandanugg/nxt-bus/module/core/domain"
	"github.com/nandanugg/nxt-bus/module/core/geo"
	"github.com/nandanugg/nxt-bus/module/core/internal/clock"
	"github.com/nandanugg/nxt-bus/module/core/internal/metrics"
)

const DefaultETACacheTTL = 10 * time.Second

// Router returns driving seconds between two points. Any error means the
// routing collaborator is unavailable and the caller should fall back.
type Router interface {
	Duration(ctx context.Context, fromLat, fromLon, toLat, toLon float64) (float64, error)
}

// ResultCache memoizes encoded ETA results per vehicle and rounded user position.
type ResultCache interface {
	Get(ctx context.Context, vehicleID string, lat, lon float64) ([]byte, bool)
	Set(ctx context.Context, vehicleID string, lat, lon float64, payload []byte, ttl time.Duration)
}

type activeVehicleSource interface {
	ActiveVehicles(ctx context.Context, routeID string) ([]domain.ActiveVehicle, error)
}

type ETAConfig struct {
	AverageSpeedKmh float64
	CacheTTL        time.Duration
	Location        *time.Location
}

type ETAService struct {
	vehicles activeVehicleSource
	cache    ResultCache
	router   Router
	clock    clock.Clock
	cfg      ETAConfig
	logger   *slog.Logger
	metrics  *metrics.Collector
}

func NewETAService(vehicles activeVehicleSource, cache ResultCache, router Router, clk clock.Clock, cfg ETAConfig, logger *slog.Logger, m *metrics.Collector) *ETAService {
	if cfg.AverageSpeedKmh <= 0 {
		cfg.AverageSpeedKmh = geo.DefaultSpeedKmh
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultETACacheTTL
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ETAService{
		vehicles: vehicles,
		cache:    cache,
		router:   router,
		clock:    clk,
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
	}
}

type candidate struct {
	vehicle domain.ActiveVehicle
	seconds float64
	source  domain.ETASource
	ok      bool
}

// PredictForScan picks the active vehicle with the smallest travel time to the
// user. A cached result for any active vehicle is returned as is, even if
// another vehicle would now be closer.
func (s *ETAService) PredictForScan(ctx context.Context, q domain.ScanQuery) (*domain.ETAResult, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveScan(time.Since(start).Seconds()) }()

	active, err := s.vehicles.ActiveVehicles(ctx, q.RouteID)
	if err != nil {
		return nil, fmt.Errorf("active vehicles: %w", err)
	}
	if len(active) == 0 {
		return nil, domain.ErrNoActiveVehicles
	}

	for _, v := range active {
		payload, ok := s.cache.Get(ctx, v.Assignment.VehicleID, q.UserLat, q.UserLon)
		if !ok {
			continue
		}
		var cached domain.ETAResult
		if err := json.Unmarshal(payload, &cached); err != nil {
			s.logger.Warn("discarding undecodable cached eta", slog.String("vehicle_id", v.Assignment.VehicleID), slog.Any("error", err))
			continue
		}
		s.metrics.CacheLookup(true)
		return &cached, nil
	}
	s.metrics.CacheLookup(false)

	// Routing calls outlive a cancelled caller; their results are dropped below.
	routeCtx := context.WithoutCancel(ctx)
	candidates := make([]candidate, len(active))
	var g errgroup.Group
	for i, v := range active {
		i, v := i, v
		g.Go(func() error {
			candidates[i] = s.evaluate(routeCtx, v, q.UserLat, q.UserLon)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	best := -1
	for i, c := range candidates {
		if !c.ok {
			continue
		}
		if best < 0 || c.seconds < candidates[best].seconds {
			best = i
		}
	}
	if best < 0 {
		return nil, domain.ErrNoValidVehicle
	}

	result := s.buildResult(q, candidates[best])

	payload, err := json.Marshal(result)
	if err == nil {
		s.cache.Set(ctx, result.BusID, q.UserLat, q.UserLon, payload, s.cfg.CacheTTL)
	}

	s.logger.Info("eta computed",
		slog.String("route_id", result.RouteID),
		slog.String("vehicle_id", result.BusID),
		slog.Float64("travel_seconds", result.TravelSeconds),
		slog.String("source", string(result.Source)),
		slog.Int("candidates", len(active)))

	return result, nil
}

func (s *ETAService) evaluate(ctx context.Context, v domain.ActiveVehicle, userLat, userLon float64) candidate {
	c := candidate{vehicle: v}
	from := v.Position.Location
	if !validCoordinates(from.Lat, from.Lon) {
		return c
	}

	if s.router != nil {
		secs, err := s.router.Duration(ctx, from.Lat, from.Lon, userLat, userLon)
		if err == nil && usable(secs) {
			s.metrics.Candidate(string(domain.SourceRouted))
			c.seconds, c.source, c.ok = secs, domain.SourceRouted, true
			return c
		}
		if err != nil && !errors.Is(err, domain.ErrRoutingUnavailable) {
			s.logger.Debug("routing failed", slog.String("vehicle_id", v.Assignment.VehicleID), slog.Any("error", err))
		}
	}

	secs := geo.EstimateSeconds(geo.HaversineKm(from.Lat, from.Lon, userLat, userLon), s.cfg.AverageSpeedKmh)
	if !usable(secs) {
		return c
	}
	s.metrics.Candidate(string(domain.SourceEstimated))
	c.seconds, c.source, c.ok = secs, domain.SourceEstimated, true
	return c
}

func usable(secs float64) bool {
	return secs >= 0 && !math.IsNaN(secs) && !math.IsInf(secs, 0)
}

func (s *ETAService) buildResult(q domain.ScanQuery, c candidate) *domain.ETAResult {
	loc := s.location(q.TimeZone)
	now := s.clock.Now().In(loc)
	arrival := now.Add(time.Duration(c.seconds * float64(time.Second)))
	inMinutes := int(math.Round(c.seconds / 60))

	busNumber := c.vehicle.VehicleNumber
	if busNumber == "" {
		busNumber = c.vehicle.Assignment.VehicleID
	}
	routeName := c.vehicle.RouteName
	if routeName == "" {
		routeName = c.vehicle.Assignment.RouteID
	}
	etaLocal := arrival.Format("03:04 PM")

	return &domain.ETAResult{
		RouteID:       c.vehicle.Assignment.RouteID,
		RouteName:     routeName,
		BusID:         c.vehicle.Assignment.VehicleID,
		BusNumber:     busNumber,
		DriverName:    c.vehicle.DriverName,
		UserLat:       q.UserLat,
		UserLon:       q.UserLon,
		ETAIso:        arrival.UTC().Format(time.RFC3339),
		ETALocal:      etaLocal,
		InMinutes:     inMinutes,
		TravelSeconds: c.seconds,
		Source:        c.source,
		Message:       scanMessage(busNumber, routeName, q.ScheduledFrom, q.ScheduledTo, etaLocal, inMinutes),
	}
}

func (s *ETAService) location(name string) *time.Location {
	if name == "" {
		return s.cfg.Location
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		s.logger.Debug("unknown time zone, using default", slog.String("tz", name))
		return s.cfg.Location
	}
	return loc
}

func scanMessage(busNumber, routeName, from, to, etaLocal string, inMinutes int) string {
	window := ""
	switch {
	case from != "" && to != "":
		window = fmt.Sprintf(" (scheduled %s - %s)", from, to)
	case from != "":
		window = fmt.Sprintf(" (scheduled from %s)", from)
	case to != "":
		window = fmt.Sprintf(" (scheduled until %s)", to)
	}
	when := fmt.Sprintf("in %d minutes", inMinutes)
	switch inMinutes {
	case 0:
		when = "now"
	case 1:
		when = "in 1 minute"
	}
	return fmt.Sprintf("Bus %s on %s%s arrives at %s, %s", busNumber, routeName, window, etaLocal, when)
}
