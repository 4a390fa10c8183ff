package domain

import "time"

type FleetEventType string

const (
	EventVehicleOnline  FleetEventType = "vehicle_online"
	EventVehicleOffline FleetEventType = "vehicle_offline"
	EventStopArrival    FleetEventType = "stop_arrival"
)

// FleetEvent is what leaves the core on the external publish channel.
type FleetEvent struct {
	Type      FleetEventType `json:"type"`
	RouteID   string         `json:"route_id"`
	VehicleID string         `json:"vehicle_id"`
	StopID    string         `json:"stop_id,omitempty"`
	Location  *Location      `json:"location,omitempty"`
	Timestamp int64          `json:"timestamp"`
}

type ArrivalEvent struct {
	VehicleID string        `json:"vehicle_id"`
	RouteID   string        `json:"route_id"`
	StopID    string        `json:"stop_id"`
	StopName  string        `json:"stop_name"`
	Location  Location      `json:"location"`
	ArrivedAt time.Time     `json:"arrived_at"`
	Delay     *SegmentDelay `json:"delay,omitempty"`
}

// SegmentDelay is reported when a transit between consecutive stops ran
// longer than the segment's historical average.
type SegmentDelay struct {
	VehicleID       string  `json:"vehicle_id"`
	RouteID         string  `json:"route_id"`
	FromStopID      string  `json:"from_stop_id"`
	ToStopID        string  `json:"to_stop_id"`
	ObservedSeconds float64 `json:"observed_seconds"`
	ExpectedSeconds float64 `json:"expected_seconds"`
	DelaySeconds    float64 `json:"delay_seconds"`
}
