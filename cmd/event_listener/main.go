package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"

	"github.com/nandanugg/nxt-bus/config"
	"github.com/nandanugg/nxt-bus/module/core/domain"
)

const (
	exchangeName = "fleet.events"
	queueName    = "fleet_events"
	natsSubject  = "fleet.>"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("config", slog.Any("error", err))
		os.Exit(1)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	switch cfg.EventBackend {
	case "nats":
		err = listenNATS(cfg, logger, sig)
	default:
		err = listenRabbitMQ(cfg, logger, sig)
	}
	if err != nil {
		logger.Error("listener stopped", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("shutting down")
}

func listenRabbitMQ(cfg *config.Config, logger *slog.Logger, sig <-chan os.Signal) error {
	conn, err := config.NewRabbitMQ(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("rabbitmq channel: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.ExchangeDeclare(exchangeName, "fanout", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(queueName, "", exchangeName, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}

	msgs, err := ch.Consume(queueName, "", true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	logger.Info("consuming fleet events", slog.String("queue", queueName))

	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			printEvent(logger, msg.Body)
		case <-sig:
			return nil
		}
	}
}

func listenNATS(cfg *config.Config, logger *slog.Logger, sig <-chan os.Signal) error {
	nc, err := config.NewNATS(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = nc.Drain() }()

	sub, err := nc.Subscribe(natsSubject, func(msg *nats.Msg) {
		printEvent(logger, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	logger.Info("consuming fleet events", slog.String("subject", natsSubject))
	<-sig
	return nil
}

func printEvent(logger *slog.Logger, body []byte) {
	var event domain.FleetEvent
	if err := json.Unmarshal(body, &event); err != nil {
		logger.Warn("undecodable event", slog.Any("error", err))
		return
	}
	switch event.Type {
	case domain.EventStopArrival:
		fmt.Printf("[%s] vehicle %s reached stop %s on route %s\n", event.Type, event.VehicleID, event.StopID, event.RouteID)
	default:
		fmt.Printf("[%s] vehicle %s on route %s\n", event.Type, event.VehicleID, event.RouteID)
	}
}
