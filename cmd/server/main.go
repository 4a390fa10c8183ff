package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/nandanugg/nxt-bus/config"
	"github.com/nandanugg/nxt-bus/module/core"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := config.NewLogger(cfg)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	var (
		db         *sql.DB
		amqpConn   *amqp.Connection
		nc         *nats.Conn
		mqttClient mqtt.Client
	)

	if cfg.Store == core.StorePostgres {
		db, err = config.NewPostgres(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()
	}

	switch cfg.EventBackend {
	case core.EventsRabbitMQ:
		amqpConn, err = config.NewRabbitMQ(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = amqpConn.Close() }()
	case core.EventsNATS:
		nc, err = config.NewNATS(cfg, logger)
		if err != nil {
			return err
		}
		defer func() { _ = nc.Drain() }()
	}

	if cfg.MQTTBroker != "" {
		mqttClient, err = config.NewMQTT(cfg)
		if err != nil {
			return err
		}
		defer mqttClient.Disconnect(250)
	}

	coreModule, err := core.Build(core.Options{
		Store:               cfg.Store,
		SeedFile:            cfg.SeedFile,
		CacheBackend:        cfg.CacheBackend,
		EventBackend:        cfg.EventBackend,
		RoutingURL:          cfg.RoutingURL,
		RoutingTimeout:      cfg.RoutingTimeout,
		JWTSecret:           cfg.JWTSecret,
		Location:            loc,
		FreshnessWindow:     cfg.FreshnessWindow,
		MaxSpeedKmh:         cfg.MaxSpeedKmh,
		AverageSpeedKmh:     cfg.AverageSpeedKmh,
		ETACacheTTL:         cfg.ETACacheTTL,
		CacheSweepInterval:  cfg.CacheSweepInterval,
		BroadcastInterval:   cfg.BroadcastInterval,
		ArrivalRadiusMeters: cfg.ArrivalRadiusMeters,
		ScanRatePerSecond:   cfg.ScanRatePerSecond,
		ScanBurst:           cfg.ScanBurst,
		WSEventRate:         cfg.WSEventRate,
		WSEventBurst:        cfg.WSEventBurst,
	}, core.Deps{
		DB:     db,
		AMQP:   amqpConn,
		NATS:   nc,
		MQTT:   mqttClient,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := coreModule.StartSubscribers(); err != nil {
		return err
	}
	defer func() { _ = coreModule.StopSubscribers() }()

	go func() { _ = coreModule.Run(ctx) }()

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	config.NewHealthChecker(db, amqpConn, nc, mqttClient).Register(r)
	r.GET("/metrics", gin.WrapH(coreModule.MetricsHandler()))
	coreModule.RegisterGateway(r)
	coreModule.RegisterRoutes(r.Group("/api/v1"))

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", slog.String("addr", srv.Addr), slog.String("store", cfg.Store), slog.String("events", cfg.EventBackend))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
