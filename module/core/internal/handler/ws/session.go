// Package ws is the persistent-connection gateway: vehicles stream positions
// in, passengers subscribe to route and stop topics.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/time/rate"

	"github.com/nandanugg/nxt-bus/module/core/domain"
	"github.com/nandanugg/nxt-bus/module/core/internal/realtime"
	"github.com/nandanugg/nxt-bus/module/core/service"
)

type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticated
	StateIdle
	StateTracking
	StateSubscribed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	case StateIdle:
		return "idle"
	case StateTracking:
		return "tracking"
	case StateSubscribed:
		return "subscribed"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Inbound event types.
const (
	EventConnect     = "connect"
	EventLocation    = "location"
	EventDisconnect  = "disconnect"
	EventSubscribe   = "subscribe"
	EventUnsubscribe = "unsubscribe"
)

type tracker interface {
	IngestForRoute(ctx context.Context, routeID string, upd domain.PositionUpdate) (*domain.VehiclePosition, error)
	Online(ctx context.Context, routeID, vehicleID string)
	Offline(ctx context.Context, routeID, vehicleID string)
}

type assignmentSource interface {
	ActiveAssignment(ctx context.Context, vehicleID string) (*domain.RouteAssignment, error)
}

type topicHub interface {
	Join(sub realtime.Subscriber, topic string)
	Leave(sub realtime.Subscriber, topic string)
	LeaveAll(sub realtime.Subscriber) []string
}

type inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type outbound struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

type errorData struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

type connectEvent struct {
	VehicleID string `json:"vehicleId" validate:"required,max=64"`
}

type locationEvent struct {
	Lat       *float64   `json:"lat" validate:"required"`
	Lon       *float64   `json:"lon" validate:"required"`
	Heading   *float64   `json:"heading" validate:"omitempty,gte=0,lte=360"`
	Speed     *float64   `json:"speed" validate:"omitempty,gte=0"`
	Accuracy  *float64   `json:"accuracy" validate:"omitempty,gte=0"`
	Altitude  *float64   `json:"altitude"`
	Timestamp *time.Time `json:"timestamp"`
}

type topicEvent struct {
	RouteID string `json:"routeId" validate:"required_without=StopID,max=64"`
	StopID  string `json:"stopId" validate:"required_without=RouteID,max=64"`
}

// Session is one connection's state machine. Inbound events are applied in
// the order Handle is called; outbound messages go through a bounded buffer
// drained by the connection's writer.
type Session struct {
	id          string
	principal   domain.Principal
	tracker     tracker
	assignments assignmentSource
	hub         topicHub
	validate    *validator.Validate
	limiter     *rate.Limiter
	logger      *slog.Logger

	out  chan []byte
	done chan struct{}

	mu        sync.Mutex
	state     State
	vehicleID string
	routeID   string
	topics    map[string]struct{}
	closeOnce sync.Once
}

func newSession(id string, p domain.Principal, g *Gateway) *Session {
	s := &Session{
		id:          id,
		principal:   p,
		tracker:     g.tracker,
		assignments: g.assignments,
		hub:         g.hub,
		validate:    g.validate,
		limiter:     rate.NewLimiter(g.cfg.EventRate, g.cfg.EventBurst),
		logger:      g.logger.With(slog.String("conn_id", id), slog.String("principal", p.ID)),
		out:         make(chan []byte, g.cfg.SendBuffer),
		done:        make(chan struct{}),
		state:       StateAuthenticated,
		topics:      make(map[string]struct{}),
	}
	if p.Role == domain.RoleVehicle {
		s.state = StateIdle
	}
	return s
}

func (s *Session) ID() string { return s.id }

// Send queues msg without blocking. It reports false when the buffer is full
// or the session is closed.
func (s *Session) Send(msg []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.out <- msg:
		return true
	default:
		return false
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Handle applies one inbound frame. Failures are answered to this connection
// only.
func (s *Session) Handle(ctx context.Context, raw []byte) {
	if s.State() == StateClosed {
		return
	}
	if !s.limiter.Allow() {
		s.sendError("rate_limited", "too many events")
		return
	}

	var in inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		s.sendError("invalid_request", "malformed event")
		return
	}

	switch in.Type {
	case EventConnect:
		var evt connectEvent
		if s.decode(in.Data, &evt) {
			s.connect(ctx, evt)
		}
	case EventLocation:
		var evt locationEvent
		if s.decode(in.Data, &evt) {
			s.location(ctx, evt)
		}
	case EventDisconnect:
		s.disconnect(ctx)
	case EventSubscribe:
		var evt topicEvent
		if s.decode(in.Data, &evt) {
			s.subscribe(evt)
		}
	case EventUnsubscribe:
		var evt topicEvent
		if s.decode(in.Data, &evt) {
			s.unsubscribe(evt)
		}
	default:
		s.sendError("unknown_event", in.Type)
	}
}

func (s *Session) decode(data json.RawMessage, v any) bool {
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	if err := json.Unmarshal(data, v); err != nil {
		s.sendError("invalid_request", "malformed event data")
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		s.sendError("invalid_request", err.Error())
		return false
	}
	return true
}

func (s *Session) connect(ctx context.Context, evt connectEvent) {
	if s.principal.Role != domain.RoleVehicle {
		s.sendError("forbidden", "only vehicle connections can connect")
		return
	}
	if s.State() != StateIdle {
		s.sendError("invalid_state", "already tracking")
		return
	}

	a, err := s.assignments.ActiveAssignment(ctx, evt.VehicleID)
	if err != nil {
		if !errors.Is(err, domain.ErrNoAssignment) {
			s.logger.Error("assignment lookup", slog.Any("error", err))
		}
		s.sendError(service.ErrorCode(err), "")
		return
	}
	if a.DriverID != s.principal.ID {
		s.sendError(service.ErrorCode(domain.ErrNoAssignment), "vehicle not assigned to this driver")
		return
	}

	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return
	}
	s.state = StateTracking
	s.vehicleID, s.routeID = a.VehicleID, a.RouteID
	topic := realtime.RouteTopic(a.RouteID)
	s.topics[topic] = struct{}{}
	s.mu.Unlock()

	s.hub.Join(s, topic)
	s.tracker.Online(ctx, a.RouteID, a.VehicleID)
	s.logger.Info("vehicle tracking", slog.String("vehicle_id", a.VehicleID), slog.String("route_id", a.RouteID))
	s.sendJSON(outbound{Type: "connected", Data: map[string]string{"vehicleId": a.VehicleID, "routeId": a.RouteID}})
}

func (s *Session) location(ctx context.Context, evt locationEvent) {
	s.mu.Lock()
	state, vehicleID, routeID := s.state, s.vehicleID, s.routeID
	s.mu.Unlock()
	if state != StateTracking {
		s.sendError("invalid_state", "connect before sending locations")
		return
	}

	pos, err := s.tracker.IngestForRoute(ctx, routeID, domain.PositionUpdate{
		VehicleID: vehicleID,
		Lat:       *evt.Lat,
		Lon:       *evt.Lon,
		Heading:   evt.Heading,
		Speed:     evt.Speed,
		Accuracy:  evt.Accuracy,
		Altitude:  evt.Altitude,
		Timestamp: evt.Timestamp,
	})
	if err != nil {
		code := service.ErrorCode(err)
		if code == "internal_error" {
			s.logger.Error("ingest failed", slog.Any("error", err))
			s.sendError(code, "")
			return
		}
		s.sendError(code, err.Error())
		return
	}
	s.sendJSON(outbound{Type: "ack", Data: map[string]any{
		"event":     EventLocation,
		"timestamp": pos.Location.Timestamp.UnixMilli(),
	}})
}

func (s *Session) disconnect(ctx context.Context) {
	if s.State() != StateTracking {
		s.sendError("invalid_state", "not tracking")
		return
	}
	s.stopTracking(ctx, StateIdle)
	s.sendJSON(outbound{Type: "disconnected"})
}

// stopTracking announces the vehicle offline and moves to next.
func (s *Session) stopTracking(ctx context.Context, next State) {
	s.mu.Lock()
	if s.state != StateTracking {
		s.state = next
		s.mu.Unlock()
		return
	}
	vehicleID, routeID := s.vehicleID, s.routeID
	topic := realtime.RouteTopic(routeID)
	delete(s.topics, topic)
	s.vehicleID, s.routeID = "", ""
	s.state = next
	s.mu.Unlock()

	s.hub.Leave(s, topic)
	s.tracker.Offline(ctx, routeID, vehicleID)
}

func (s *Session) subscribe(evt topicEvent) {
	if s.principal.Role != domain.RolePassenger {
		s.sendError("forbidden", "only passenger connections can subscribe")
		return
	}

	topics := eventTopics(evt)
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	for _, t := range topics {
		s.topics[t] = struct{}{}
	}
	s.state = StateSubscribed
	s.mu.Unlock()

	for _, t := range topics {
		s.hub.Join(s, t)
	}
	s.sendJSON(outbound{Type: "subscribed", Data: topics})
}

func (s *Session) unsubscribe(evt topicEvent) {
	if s.principal.Role != domain.RolePassenger {
		s.sendError("forbidden", "only passenger connections can unsubscribe")
		return
	}

	topics := eventTopics(evt)
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	for _, t := range topics {
		delete(s.topics, t)
	}
	if len(s.topics) == 0 {
		s.state = StateAuthenticated
	}
	s.mu.Unlock()

	for _, t := range topics {
		s.hub.Leave(s, t)
	}
	s.sendJSON(outbound{Type: "unsubscribed", Data: topics})
}

// Close tears the session down once: a tracking vehicle goes offline and
// every topic membership is released. Later events are ignored.
func (s *Session) Close(ctx context.Context) {
	s.closeOnce.Do(func() {
		s.stopTracking(ctx, StateClosed)
		s.hub.LeaveAll(s)

		s.mu.Lock()
		s.topics = make(map[string]struct{})
		s.mu.Unlock()
		close(s.done)
	})
}

func (s *Session) sendError(code, msg string) {
	s.sendJSON(outbound{Type: "error", Data: errorData{Code: code, Message: msg}})
}

func (s *Session) sendJSON(msg outbound) {
	body, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error("encode outbound", slog.Any("error", err))
		return
	}
	if !s.Send(body) {
		s.logger.Debug("dropped outbound message", slog.String("type", msg.Type))
	}
}

func eventTopics(evt topicEvent) []string {
	var topics []string
	if evt.RouteID != "" {
		topics = append(topics, realtime.RouteTopic(evt.RouteID))
	}
	if evt.StopID != "" {
		topics = append(topics, realtime.StopTopic(evt.StopID))
	}
	return topics
}
