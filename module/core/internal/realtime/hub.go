package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nandanugg/nxt-bus/module/core/domain"
	"github.com/nandanugg/nxt-bus/module/core/internal/metrics"
)

const DefaultFlushInterval = 100 * time.Millisecond

const (
	routePrefix = "route:"
	stopPrefix  = "stop:"
)

// Message types carried inside a batch envelope.
const (
	TypeLocation = "location"
	TypeETA      = "eta"
	TypeArrival  = "arrival"
	TypeDelay    = "delay"
	TypeOnline   = "online"
	TypeOffline  = "offline"
)

func RouteTopic(routeID string) string { return routePrefix + routeID }
func StopTopic(stopID string) string   { return stopPrefix + stopID }

// Subscriber receives encoded envelopes. Send must not block; it returns
// false when the subscriber cannot take the message right now.
type Subscriber interface {
	ID() string
	Send(msg []byte) bool
}

// Envelope is one flush worth of messages for a topic, grouped by type.
type Envelope struct {
	Type     string                       `json:"type"`
	Topic    string                       `json:"topic"`
	Messages map[string][]json.RawMessage `json:"messages"`
}

type StatusMessage struct {
	ID        string `json:"id"`
	RouteID   string `json:"routeId"`
	Status    string `json:"status"`
	Timestamp int64  `json:"ts"`
}

type queued struct {
	msgType string
	payload json.RawMessage
}

type Hub struct {
	delta    *DeltaEncoder
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger
	metrics  *metrics.Collector

	mu            sync.Mutex
	topics        map[string]map[string]Subscriber
	memberships   map[string]map[string]struct{}
	queue         map[string][]queued
	routeVehicles map[string]map[string]struct{}
}

func NewHub(delta *DeltaEncoder, interval time.Duration, logger *slog.Logger, m *metrics.Collector) *Hub {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	if delta == nil {
		delta = NewDeltaEncoder(m)
	}
	return &Hub{
		delta:         delta,
		interval:      interval,
		now:           time.Now,
		logger:        logger,
		metrics:       m,
		topics:        make(map[string]map[string]Subscriber),
		memberships:   make(map[string]map[string]struct{}),
		queue:         make(map[string][]queued),
		routeVehicles: make(map[string]map[string]struct{}),
	}
}

// Publish runs a location observation through the delta encoder and queues
// the result on the route topic. It reports whether anything was queued.
func (h *Hub) Publish(routeID, vehicleID string, loc domain.Location, heading, speed *float64) bool {
	msg, ok := h.delta.Encode(vehicleID, loc.Lat, loc.Lon, heading, speed, loc.Timestamp)

	h.mu.Lock()
	defer h.mu.Unlock()
	seen, exists := h.routeVehicles[routeID]
	if !exists {
		seen = make(map[string]struct{})
		h.routeVehicles[routeID] = seen
	}
	seen[vehicleID] = struct{}{}

	if !ok {
		return false
	}
	h.enqueueLocked(RouteTopic(routeID), TypeLocation, msg)
	return true
}

func (h *Hub) PublishETA(stopID string, payload any) {
	h.enqueue(StopTopic(stopID), TypeETA, payload)
}

func (h *Hub) PublishArrival(stopID string, payload any) {
	h.enqueue(StopTopic(stopID), TypeArrival, payload)
}

func (h *Hub) PublishDelay(routeID string, payload any) {
	h.enqueue(RouteTopic(routeID), TypeDelay, payload)
}

// PublishStatus announces a vehicle going online or offline on its route.
// Going offline clears the vehicle's delta state.
func (h *Hub) PublishStatus(routeID, vehicleID string, online bool) {
	status := TypeOffline
	if online {
		status = TypeOnline
	} else {
		h.delta.Reset(vehicleID)
	}
	h.enqueue(RouteTopic(routeID), status, StatusMessage{
		ID:        vehicleID,
		RouteID:   routeID,
		Status:    status,
		Timestamp: h.now().UnixMilli(),
	})
}

// Join subscribes sub to topic. Joining a route topic resets delta state for
// the vehicles seen on that route so the new member gets full positions.
func (h *Hub) Join(sub Subscriber, topic string) {
	h.mu.Lock()
	members, ok := h.topics[topic]
	if !ok {
		members = make(map[string]Subscriber)
		h.topics[topic] = members
	}
	members[sub.ID()] = sub

	joined, ok := h.memberships[sub.ID()]
	if !ok {
		joined = make(map[string]struct{})
		h.memberships[sub.ID()] = joined
	}
	joined[topic] = struct{}{}
	h.mu.Unlock()

	h.resetRoute(topic)
}

func (h *Hub) Leave(sub Subscriber, topic string) {
	h.mu.Lock()
	h.leaveLocked(sub.ID(), topic)
	h.mu.Unlock()

	h.resetRoute(topic)
}

// LeaveAll drops every membership of sub and returns the topics it held.
func (h *Hub) LeaveAll(sub Subscriber) []string {
	h.mu.Lock()
	var topics []string
	for topic := range h.memberships[sub.ID()] {
		topics = append(topics, topic)
	}
	for _, topic := range topics {
		h.leaveLocked(sub.ID(), topic)
	}
	delete(h.memberships, sub.ID())
	h.mu.Unlock()

	for _, topic := range topics {
		h.resetRoute(topic)
	}
	return topics
}

func (h *Hub) Members(topic string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.topics[topic])
}

// Run flushes queued messages every interval until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Flush()
		}
	}
}

// Flush sends one envelope per topic holding everything queued since the
// previous flush, then clears the queue.
func (h *Hub) Flush() {
	h.mu.Lock()
	pending := h.queue
	h.queue = make(map[string][]queued)

	type delivery struct {
		topic string
		msgs  []queued
		subs  []Subscriber
	}
	deliveries := make([]delivery, 0, len(pending))
	for topic, msgs := range pending {
		members := h.topics[topic]
		if len(members) == 0 {
			continue
		}
		subs := make([]Subscriber, 0, len(members))
		for _, s := range members {
			subs = append(subs, s)
		}
		deliveries = append(deliveries, delivery{topic: topic, msgs: msgs, subs: subs})
	}
	h.mu.Unlock()

	for _, d := range deliveries {
		env := Envelope{Type: "batch", Topic: d.topic, Messages: make(map[string][]json.RawMessage)}
		for _, m := range d.msgs {
			env.Messages[m.msgType] = append(env.Messages[m.msgType], m.payload)
		}
		body, err := json.Marshal(env)
		if err != nil {
			h.logger.Error("encode batch", slog.String("topic", d.topic), slog.Any("error", err))
			continue
		}
		for _, s := range d.subs {
			if !s.Send(body) {
				h.metrics.Dropped()
				h.logger.Debug("subscriber buffer full", slog.String("subscriber", s.ID()), slog.String("topic", d.topic))
			}
		}
		h.metrics.Flushed()
	}
}

func (h *Hub) enqueue(topic, msgType string, payload any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.enqueueLocked(topic, msgType, payload)
}

func (h *Hub) enqueueLocked(topic, msgType string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("encode message", slog.String("type", msgType), slog.Any("error", err))
		return
	}
	h.queue[topic] = append(h.queue[topic], queued{msgType: msgType, payload: raw})
	h.metrics.Queued(msgType)
}

func (h *Hub) leaveLocked(subID, topic string) {
	if members, ok := h.topics[topic]; ok {
		delete(members, subID)
		if len(members) == 0 {
			delete(h.topics, topic)
		}
	}
	if joined, ok := h.memberships[subID]; ok {
		delete(joined, topic)
	}
}

func (h *Hub) resetRoute(topic string) {
	routeID, ok := strings.CutPrefix(topic, routePrefix)
	if !ok {
		return
	}
	h.mu.Lock()
	vehicles := make([]string, 0, len(h.routeVehicles[routeID]))
	for id := range h.routeVehicles[routeID] {
		vehicles = append(vehicles, id)
	}
	h.mu.Unlock()

	for _, id := range vehicles {
		h.delta.Reset(id)
	}
}
