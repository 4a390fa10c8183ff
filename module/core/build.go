package core

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/nandanugg/nxt-bus/module/core/internal/auth"
	"github.com/nandanugg/nxt-bus/module/core/internal/cache"
	"github.com/nandanugg/nxt-bus/module/core/internal/clock"
	handler "github.com/nandanugg/nxt-bus/module/core/internal/handler/http"
	"github.com/nandanugg/nxt-bus/module/core/internal/handler/subscriber"
	"github.com/nandanugg/nxt-bus/module/core/internal/handler/ws"
	"github.com/nandanugg/nxt-bus/module/core/internal/metrics"
	"github.com/nandanugg/nxt-bus/module/core/internal/realtime"
	"github.com/nandanugg/nxt-bus/module/core/internal/repository/database"
	"github.com/nandanugg/nxt-bus/module/core/internal/repository/database/memory"
	"github.com/nandanugg/nxt-bus/module/core/internal/repository/database/postgres"
	"github.com/nandanugg/nxt-bus/module/core/internal/repository/publisher"
	natspub "github.com/nandanugg/nxt-bus/module/core/internal/repository/publisher/nats"
	"github.com/nandanugg/nxt-bus/module/core/internal/repository/publisher/rabbitmq"
	"github.com/nandanugg/nxt-bus/module/core/internal/routing"
	"github.com/nandanugg/nxt-bus/module/core/service"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"

	CacheDurable = "durable"
	CacheMemory  = "memory"

	EventsRabbitMQ = "rabbitmq"
	EventsNATS     = "nats"
	EventsNone     = "none"
)

const limiterEvictInterval = 5 * time.Minute

// Options are the tunables of the core. Zero values fall back to the
// component defaults.
type Options struct {
	Store        string
	SeedFile     string
	CacheBackend string
	EventBackend string

	RoutingURL     string
	RoutingTimeout time.Duration
	JWTSecret      string
	Location       *time.Location

	FreshnessWindow     time.Duration
	MaxSpeedKmh         float64
	AverageSpeedKmh     float64
	ETACacheTTL         time.Duration
	CacheSweepInterval  time.Duration
	BroadcastInterval   time.Duration
	ArrivalRadiusMeters float64

	ScanRatePerSecond float64
	ScanBurst         int
	WSEventRate       float64
	WSEventBurst      int
	WSSendBuffer      int
}

// Deps are the connections opened by the caller. Only the ones the options
// select need to be set.
type Deps struct {
	DB      *sql.DB
	AMQP    *amqp.Connection
	NATS    *nats.Conn
	MQTT    mqtt.Client
	Logger  *slog.Logger
	Metrics *metrics.Collector
	Clock   clock.Clock
	Router  service.Router
	Events  publisher.EventPublisher
}

type Module struct {
	LocationSvc *service.LocationService
	RouteSvc    *service.RouteService
	HistorySvc  *service.HistoryService
	ArrivalSvc  *service.ArrivalService
	ETASvc      *service.ETAService
	TrackingSvc *service.TrackingService

	hub        *realtime.Hub
	sweeper    cache.Sweeper
	limiter    *handler.RateLimiter
	vehicles   *handler.VehicleHandler
	etas       *handler.ETAHandler
	feed       *handler.FeedHandler
	gateway    *ws.Gateway
	subscriber *subscriber.LocationSubscriber
	metrics    *metrics.Collector
	logger     *slog.Logger
	opts       Options
}

type stores struct {
	locations database.LocationRepository
	routes    database.RouteRepository
	speeds    database.SegmentSpeedRepository
	cache     database.CacheRepository
}

func Build(opts Options, deps Deps) (*Module, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clk := deps.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	m := deps.Metrics
	if m == nil {
		m = metrics.New()
	}

	st, err := buildStores(opts, deps)
	if err != nil {
		return nil, err
	}

	events := deps.Events
	if events == nil {
		events, err = buildEvents(opts, deps)
		if err != nil {
			return nil, err
		}
	}

	router := deps.Router
	if router == nil {
		router = routing.NewOSRM(opts.RoutingURL, opts.RoutingTimeout)
	}

	resultCache, sweeper := buildCache(opts, st.cache, clk, logger, m)

	locationSvc := service.NewLocationService(st.locations, clk, opts.MaxSpeedKmh, logger, m)
	routeSvc := service.NewRouteService(st.routes, clk, opts.FreshnessWindow)
	historySvc := service.NewHistoryService(st.speeds, routeSvc, clk, loc, logger)
	arrivalSvc := service.NewArrivalService(events, routeSvc, historySvc, opts.ArrivalRadiusMeters, logger, m)
	etaSvc := service.NewETAService(routeSvc, resultCache, router, clk, service.ETAConfig{
		AverageSpeedKmh: opts.AverageSpeedKmh,
		CacheTTL:        opts.ETACacheTTL,
		Location:        loc,
	}, logger, m)

	hub := realtime.NewHub(realtime.NewDeltaEncoder(m), opts.BroadcastInterval, logger, m)
	trackingSvc := service.NewTrackingService(locationSvc, routeSvc, hub, arrivalSvc, historySvc, events, clk, logger, m)

	gateway := ws.NewGateway(auth.NewVerifier(opts.JWTSecret), trackingSvc, routeSvc, hub, ws.Config{
		EventRate:  rate.Limit(opts.WSEventRate),
		EventBurst: opts.WSEventBurst,
		SendBuffer: opts.WSSendBuffer,
	}, logger, m)

	mod := &Module{
		LocationSvc: locationSvc,
		RouteSvc:    routeSvc,
		HistorySvc:  historySvc,
		ArrivalSvc:  arrivalSvc,
		ETASvc:      etaSvc,
		TrackingSvc: trackingSvc,
		hub:         hub,
		sweeper:     sweeper,
		limiter:     handler.NewRateLimiter(opts.ScanRatePerSecond, opts.ScanBurst, clk),
		vehicles:    handler.NewVehicleHandler(trackingSvc, locationSvc, logger),
		etas:        handler.NewETAHandler(etaSvc, historySvc, routeSvc, locationSvc, logger),
		feed:        handler.NewFeedHandler(locationSvc, routeSvc, clk, logger),
		gateway:     gateway,
		metrics:     m,
		logger:      logger,
		opts:        opts,
	}
	if deps.MQTT != nil {
		mod.subscriber = subscriber.NewLocationSubscriber(deps.MQTT, trackingSvc, logger)
	}
	return mod, nil
}

func buildStores(opts Options, deps Deps) (stores, error) {
	switch opts.Store {
	case StorePostgres, "":
		if deps.DB == nil {
			return stores{}, fmt.Errorf("store %q: no database connection", StorePostgres)
		}
		return stores{
			locations: postgres.NewLocationRepo(deps.DB),
			routes:    postgres.NewRouteRepo(deps.DB),
			speeds:    postgres.NewSegmentSpeedRepo(deps.DB),
			cache:     postgres.NewETACacheRepo(deps.DB),
		}, nil
	case StoreMemory:
		locations := memory.NewLocationRepo()
		routes := memory.NewRouteRepo(locations)
		if opts.SeedFile != "" {
			if err := loadSeedFile(opts.SeedFile, routes); err != nil {
				return stores{}, err
			}
		}
		return stores{
			locations: locations,
			routes:    routes,
			speeds:    memory.NewSegmentSpeedRepo(),
			cache:     memory.NewETACacheRepo(),
		}, nil
	default:
		return stores{}, fmt.Errorf("unknown store %q", opts.Store)
	}
}

func loadSeedFile(path string, routes *memory.RouteRepo) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open seed: %w", err)
	}
	defer func() { _ = f.Close() }()
	return memory.LoadSeed(f, routes)
}

func buildEvents(opts Options, deps Deps) (publisher.EventPublisher, error) {
	switch opts.EventBackend {
	case EventsRabbitMQ, "":
		if deps.AMQP == nil {
			return nil, fmt.Errorf("event backend %q: no connection", EventsRabbitMQ)
		}
		pub, err := rabbitmq.NewEventPublisher(deps.AMQP)
		if err != nil {
			return nil, fmt.Errorf("event publisher: %w", err)
		}
		return pub, nil
	case EventsNATS:
		if deps.NATS == nil {
			return nil, fmt.Errorf("event backend %q: no connection", EventsNATS)
		}
		return natspub.NewEventPublisher(deps.NATS), nil
	case EventsNone:
		return publisher.Noop{}, nil
	default:
		return nil, fmt.Errorf("unknown event backend %q", opts.EventBackend)
	}
}

// buildCache layers the in-memory cache under the durable one unless the
// memory backend is selected outright.
func buildCache(opts Options, repo database.CacheRepository, clk clock.Clock, logger *slog.Logger, m *metrics.Collector) (service.ResultCache, cache.Sweeper) {
	mem := cache.NewMemory(clk)
	if opts.CacheBackend == CacheMemory {
		return mem, mem
	}
	f := cache.NewFailover(cache.NewDurable(repo, clk, logger), mem, logger, m)
	return f, f
}

func (m *Module) RegisterRoutes(r *gin.RouterGroup) {
	m.vehicles.Register(r)
	m.etas.Register(r, m.limiter.Middleware())
	m.feed.Register(r)
}

func (m *Module) RegisterGateway(r gin.IRouter) {
	m.gateway.Register(r)
}

func (m *Module) MetricsHandler() http.Handler {
	return m.metrics.Handler()
}

func (m *Module) StartSubscribers() error {
	if m.subscriber == nil {
		return nil
	}
	return m.subscriber.Start()
}

func (m *Module) StopSubscribers() error {
	if m.subscriber == nil {
		return nil
	}
	return m.subscriber.Stop()
}

// Run drives the background loops (broadcast flush, cache sweep, limiter
// eviction) until ctx is done.
func (m *Module) Run(ctx context.Context) error {
	sweep := m.opts.CacheSweepInterval
	if sweep <= 0 {
		sweep = cache.DefaultSweepInterval
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		m.hub.Run(ctx)
		return nil
	})
	g.Go(func() error {
		cache.Run(ctx, m.sweeper, sweep, m.logger)
		return nil
	})
	g.Go(func() error {
		m.limiter.Run(ctx, limiterEvictInterval)
		return nil
	})
	return g.Wait()
}
