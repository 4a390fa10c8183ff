package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nandanugg/nxt-bus/module/core/domain"
	"github.com/nandanugg/nxt-bus/module/core/internal/clock"
	"github.com/nandanugg/nxt-bus/module/core/internal/metrics"
	"github.com/nandanugg/nxt-bus/module/core/internal/repository/publisher"
)

// Broadcaster is the real-time fan-out used after a position is accepted.
type Broadcaster interface {
	Publish(routeID, vehicleID string, loc domain.Location, heading, speed *float64) bool
	PublishETA(stopID string, payload any)
	PublishArrival(stopID string, payload any)
	PublishDelay(routeID string, payload any)
	PublishStatus(routeID, vehicleID string, online bool)
}

type positionRecorder interface {
	Record(ctx context.Context, upd domain.PositionUpdate) (*domain.VehiclePosition, error)
}

type assignmentSource interface {
	ActiveAssignment(ctx context.Context, vehicleID string) (*domain.RouteAssignment, error)
}

type arrivalDetector interface {
	CheckArrival(ctx context.Context, routeID string, pos *domain.VehiclePosition) ([]domain.ArrivalEvent, error)
	Reset(vehicleID string)
}

type stopProjector interface {
	ProjectStops(ctx context.Context, routeID string, pos domain.VehiclePosition) ([]domain.StopETA, error)
}

// StopETAUpdate is pushed to a stop topic after each accepted position.
type StopETAUpdate struct {
	VehicleID string `json:"vehicleId"`
	RouteID   string `json:"routeId"`
	domain.StopETA
}

// TrackingService runs an update through validation and then fans it out:
// broadcast, arrival detection and stop projections. Only Record can fail
// an update; fan-out problems are logged.
type TrackingService struct {
	recorder    positionRecorder
	assignments assignmentSource
	hub         Broadcaster
	arrivals    arrivalDetector
	projector   stopProjector
	events      publisher.EventPublisher
	clock       clock.Clock
	logger      *slog.Logger
	metrics     *metrics.Collector
}

func NewTrackingService(
	recorder positionRecorder,
	assignments assignmentSource,
	hub Broadcaster,
	arrivals arrivalDetector,
	projector stopProjector,
	events publisher.EventPublisher,
	clk clock.Clock,
	logger *slog.Logger,
	m *metrics.Collector,
) *TrackingService {
	if logger == nil {
		logger = slog.Default()
	}
	return &TrackingService{
		recorder:    recorder,
		assignments: assignments,
		hub:         hub,
		arrivals:    arrivals,
		projector:   projector,
		events:      events,
		clock:       clk,
		logger:      logger,
		metrics:     m,
	}
}

// Ingest records an update from a source that does not know the route, such
// as HTTP or MQTT. Vehicles without an active assignment are stored but not
// broadcast.
func (s *TrackingService) Ingest(ctx context.Context, upd domain.PositionUpdate) (*domain.VehiclePosition, error) {
	pos, err := s.recorder.Record(ctx, upd)
	if err != nil {
		return nil, err
	}

	a, err := s.assignments.ActiveAssignment(ctx, pos.VehicleID)
	switch {
	case errors.Is(err, domain.ErrNoAssignment):
		return pos, nil
	case err != nil:
		s.logger.Warn("assignment lookup failed", slog.String("vehicle_id", pos.VehicleID), slog.Any("error", err))
		return pos, nil
	}

	s.fanOut(ctx, a.RouteID, pos)
	return pos, nil
}

// IngestForRoute records an update from a connection already bound to routeID.
func (s *TrackingService) IngestForRoute(ctx context.Context, routeID string, upd domain.PositionUpdate) (*domain.VehiclePosition, error) {
	pos, err := s.recorder.Record(ctx, upd)
	if err != nil {
		return nil, err
	}
	s.fanOut(ctx, routeID, pos)
	return pos, nil
}

func (s *TrackingService) fanOut(ctx context.Context, routeID string, pos *domain.VehiclePosition) {
	s.hub.Publish(routeID, pos.VehicleID, pos.Location, pos.Heading, pos.Speed)

	if s.arrivals != nil {
		arrivals, err := s.arrivals.CheckArrival(ctx, routeID, pos)
		if err != nil {
			s.logger.Warn("arrival check", slog.String("vehicle_id", pos.VehicleID), slog.Any("error", err))
		}
		for _, a := range arrivals {
			s.hub.PublishArrival(a.StopID, a)
			if a.Delay != nil {
				s.hub.PublishDelay(routeID, a.Delay)
			}
		}
	}

	if s.projector != nil {
		etas, err := s.projector.ProjectStops(ctx, routeID, *pos)
		if err != nil {
			s.logger.Warn("stop projection", slog.String("route_id", routeID), slog.Any("error", err))
			return
		}
		for _, eta := range etas {
			s.hub.PublishETA(eta.StopID, StopETAUpdate{VehicleID: pos.VehicleID, RouteID: routeID, StopETA: eta})
		}
	}
}

// Online announces that vehicleID started tracking on routeID.
func (s *TrackingService) Online(ctx context.Context, routeID, vehicleID string) {
	s.hub.PublishStatus(routeID, vehicleID, true)
	s.publish(ctx, domain.EventVehicleOnline, routeID, vehicleID)
}

// Offline announces that vehicleID stopped tracking and drops its per-vehicle state.
func (s *TrackingService) Offline(ctx context.Context, routeID, vehicleID string) {
	s.hub.PublishStatus(routeID, vehicleID, false)
	if s.arrivals != nil {
		s.arrivals.Reset(vehicleID)
	}
	s.publish(ctx, domain.EventVehicleOffline, routeID, vehicleID)
}

func (s *TrackingService) publish(ctx context.Context, typ domain.FleetEventType, routeID, vehicleID string) {
	if s.events == nil {
		return
	}
	err := s.events.PublishEvent(ctx, &domain.FleetEvent{
		Type:      typ,
		RouteID:   routeID,
		VehicleID: vehicleID,
		Timestamp: s.clock.Now().Unix(),
	})
	if err != nil {
		s.metrics.PublishFailed()
		s.logger.Warn("publish fleet event", slog.String("type", string(typ)), slog.Any("error", fmt.Errorf("vehicle %s: %w", vehicleID, err)))
	}
}
