// Package realtime fans vehicle movement and stop events out to connected
// clients. Location updates pass through a per-vehicle delta encoder and
// everything is batched per topic on a fixed tick.
package realtime

import (
	"math"
	"sync"
	"time"

	"github.com/nandanugg/nxt-bus/module/core/geo"
	"github.com/nandanugg/nxt-bus/module/core/internal/metrics"
)

const (
	MinDistanceMeters = 10.0
	MaxHeadingDelta   = 10.0
	MaxSpeedDeltaKmh  = 2.0
)

// LocationDelta is the wire form of one location update. Nil fields did not
// move past their threshold since the last message for the vehicle.
type LocationDelta struct {
	ID      string   `json:"id"`
	Lat     *float64 `json:"lat,omitempty"`
	Lng     *float64 `json:"lng,omitempty"`
	Heading *float64 `json:"heading,omitempty"`
	Speed   *float64 `json:"speed,omitempty"`
	TS      int64    `json:"ts"`
}

type deltaState struct {
	lat, lon float64
	heading  *float64
	speed    *float64
	ts       time.Time // last sent
	seen     time.Time // newest observed
}

type DeltaEncoder struct {
	mu      sync.Mutex
	state   map[string]deltaState
	metrics *metrics.Collector
}

func NewDeltaEncoder(m *metrics.Collector) *DeltaEncoder {
	return &DeltaEncoder{state: make(map[string]deltaState), metrics: m}
}

// Encode returns the message to send for this observation, or false when the
// vehicle has not moved enough to be worth sending or the fix is older than
// one already seen. Stored state holds the values last sent to clients.
func (e *DeltaEncoder) Encode(vehicleID string, lat, lon float64, heading, speed *float64, ts time.Time) (LocationDelta, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	prev, ok := e.state[vehicleID]
	if !ok {
		next := deltaState{lat: lat, lon: lon, heading: heading, speed: speed, ts: ts, seen: ts}
		e.state[vehicleID] = next
		return full(vehicleID, next), true
	}
	if !ts.After(prev.seen) {
		e.metrics.Suppressed()
		return LocationDelta{}, false
	}

	moved := geo.HaversineMeters(prev.lat, prev.lon, lat, lon) >= MinDistanceMeters
	turned := changed(prev.heading, heading, MaxHeadingDelta, geo.HeadingDelta)
	sped := changed(prev.speed, speed, MaxSpeedDeltaKmh, func(a, b float64) float64 { return math.Abs(a - b) })

	next := prev
	next.seen = ts
	if !moved && !turned && !sped {
		e.state[vehicleID] = next
		e.metrics.Suppressed()
		return LocationDelta{}, false
	}

	msg := LocationDelta{ID: vehicleID, TS: ts.UnixMilli()}
	next.ts = ts
	if moved {
		msg.Lat = ptr(geo.Round(lat, 6))
		msg.Lng = ptr(geo.Round(lon, 6))
		next.lat, next.lon = lat, lon
	}
	if turned {
		msg.Heading = ptr(math.Round(*heading))
		next.heading = heading
	}
	if sped {
		msg.Speed = ptr(geo.Round(*speed, 1))
		next.speed = speed
	}
	e.state[vehicleID] = next
	return msg, true
}

// Reset drops the vehicle's state so its next observation is sent in full.
func (e *DeltaEncoder) Reset(vehicleID string) {
	e.mu.Lock()
	delete(e.state, vehicleID)
	e.mu.Unlock()
}

func (e *DeltaEncoder) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.state)
}

func full(vehicleID string, s deltaState) LocationDelta {
	msg := LocationDelta{
		ID:  vehicleID,
		Lat: ptr(geo.Round(s.lat, 6)),
		Lng: ptr(geo.Round(s.lon, 6)),
		TS:  s.ts.UnixMilli(),
	}
	if s.heading != nil {
		msg.Heading = ptr(math.Round(*s.heading))
	}
	if s.speed != nil {
		msg.Speed = ptr(geo.Round(*s.speed, 1))
	}
	return msg
}

// changed reports whether next differs from prev by more than limit. A missing
// new value never counts as a change.
func changed(prev, next *float64, limit float64, diff func(a, b float64) float64) bool {
	if next == nil {
		return false
	}
	if prev == nil {
		return true
	}
	return diff(*prev, *next) > limit
}

func ptr(v float64) *float64 { return &v }
