package subscriber

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-playground/validator/v10"

	"github.com/nandanugg/nxt-bus/module/core/domain"
	"github.com/nandanugg/nxt-bus/module/core/service"
)

const topicPattern = "/fleet/vehicle/+/location"

const ingestTimeout = 5 * time.Second

type ingestor interface {
	Ingest(ctx context.Context, upd domain.PositionUpdate) (*domain.VehiclePosition, error)
}

// locationMessage is the telemetry payload. vehicle_id may be omitted, in
// which case the topic segment is used. timestamp is unix seconds; zero
// means "now".
type locationMessage struct {
	VehicleID string   `json:"vehicle_id" validate:"max=64"`
	Latitude  float64  `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64  `json:"longitude" validate:"gte=-180,lte=180"`
	Heading   *float64 `json:"heading" validate:"omitempty,gte=0,lte=360"`
	Speed     *float64 `json:"speed" validate:"omitempty,gte=0"`
	Accuracy  *float64 `json:"accuracy" validate:"omitempty,gte=0"`
	Altitude  *float64 `json:"altitude"`
	Timestamp int64    `json:"timestamp" validate:"gte=0"`
}

type LocationSubscriber struct {
	client   mqtt.Client
	ingestor ingestor
	validate *validator.Validate
	logger   *slog.Logger
}

func NewLocationSubscriber(client mqtt.Client, ing ingestor, logger *slog.Logger) *LocationSubscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocationSubscriber{
		client:   client,
		ingestor: ing,
		validate: validator.New(),
		logger:   logger,
	}
}

func (s *LocationSubscriber) Start() error {
	token := s.client.Subscribe(topicPattern, 1, s.handleMessage)
	token.Wait()
	return token.Error()
}

func (s *LocationSubscriber) Stop() error {
	token := s.client.Unsubscribe(topicPattern)
	token.Wait()
	return token.Error()
}

func (s *LocationSubscriber) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	upd, err := s.decode(msg.Topic(), msg.Payload())
	if err != nil {
		s.logger.Warn("invalid location message", slog.String("topic", msg.Topic()), slog.Any("error", err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), ingestTimeout)
	defer cancel()

	if _, err := s.ingestor.Ingest(ctx, upd); err != nil {
		code := service.ErrorCode(err)
		if code == "internal_error" {
			s.logger.Error("ingest location", slog.String("vehicle_id", upd.VehicleID), slog.Any("error", err))
			return
		}
		s.logger.Debug("location rejected", slog.String("vehicle_id", upd.VehicleID), slog.String("code", code))
	}
}

func (s *LocationSubscriber) decode(topic string, payload []byte) (domain.PositionUpdate, error) {
	var raw locationMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		return domain.PositionUpdate{}, fmt.Errorf("decode: %w", err)
	}
	if err := s.validate.Struct(&raw); err != nil {
		return domain.PositionUpdate{}, fmt.Errorf("validate: %w", err)
	}

	vehicleID := raw.VehicleID
	if vehicleID == "" {
		vehicleID = vehicleFromTopic(topic)
	}
	if vehicleID == "" {
		return domain.PositionUpdate{}, fmt.Errorf("vehicle_id: required")
	}

	upd := domain.PositionUpdate{
		VehicleID: vehicleID,
		Lat:       raw.Latitude,
		Lon:       raw.Longitude,
		Heading:   raw.Heading,
		Speed:     raw.Speed,
		Accuracy:  raw.Accuracy,
		Altitude:  raw.Altitude,
	}
	if raw.Timestamp > 0 {
		ts := time.Unix(raw.Timestamp, 0)
		upd.Timestamp = &ts
	}
	return upd, nil
}

// vehicleFromTopic extracts <id> from /fleet/vehicle/<id>/location.
func vehicleFromTopic(topic string) string {
	parts := strings.Split(strings.Trim(topic, "/"), "/")
	if len(parts) != 4 || parts[0] != "fleet" || parts[1] != "vehicle" || parts[3] != "location" {
		return ""
	}
	return parts[2]
}
