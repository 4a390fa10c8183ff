package domain

import "time"

type Location struct {
	Lat       float64   `json:"latitude"`
	Lon       float64   `json:"longitude"`
	Timestamp time.Time `json:"timestamp"`
}

// VehiclePosition is a validated fix. Speed is km/h, accuracy and altitude are meters.
type VehiclePosition struct {
	VehicleID string   `json:"vehicle_id"`
	Location  Location `json:"location"`
	Heading   *float64 `json:"heading,omitempty"`
	Speed     *float64 `json:"speed,omitempty"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
	Altitude  *float64 `json:"altitude,omitempty"`
}

// PositionUpdate is a raw fix as reported by a vehicle, before validation.
// A nil Timestamp means "now".
type PositionUpdate struct {
	VehicleID string
	Lat       float64
	Lon       float64
	Heading   *float64
	Speed     *float64
	Accuracy  *float64
	Altitude  *float64
	Timestamp *time.Time
}

type Vehicle struct {
	VehicleID string `json:"vehicle_id"`
	Number    string `json:"number,omitempty"`
}

type HistoryQuery struct {
	VehicleID string
	Start     time.Time
	End       time.Time
}
