package domain

import "time"

type ETASource string

const (
	SourceRouted    ETASource = "routed"
	SourceEstimated ETASource = "estimated"
)

type ScanQuery struct {
	RouteID       string
	UserLat       float64
	UserLon       float64
	ScheduledFrom string
	ScheduledTo   string
	TimeZone      string
}

// ETAResult is built per scan and only ever cached, never stored.
type ETAResult struct {
	RouteID       string    `json:"routeId"`
	RouteName     string    `json:"routeName"`
	BusID         string    `json:"busId"`
	BusNumber     string    `json:"busNumber"`
	DriverName    string    `json:"driverName"`
	UserLat       float64   `json:"userLat"`
	UserLon       float64   `json:"userLon"`
	ETAIso        string    `json:"etaIso"`
	ETALocal      string    `json:"etaLocal"`
	InMinutes     int       `json:"inMinutes"`
	TravelSeconds float64   `json:"travelSeconds"`
	Source        ETASource `json:"source"`
	Message       string    `json:"message"`
}

type TimeBucket string

const (
	BucketMorningPeak TimeBucket = "morning_peak"
	BucketEveningPeak TimeBucket = "evening_peak"
	BucketNight       TimeBucket = "night"
	BucketAfternoon   TimeBucket = "afternoon"
)

// SegmentSpeedSample is the running average of observed transit between two
// consecutive stops for one time bucket and weekday.
type SegmentSpeedSample struct {
	RouteID        string     `json:"route_id"`
	FromStopID     string     `json:"from_stop_id"`
	ToStopID       string     `json:"to_stop_id"`
	TimeBucket     TimeBucket `json:"time_bucket"`
	DayOfWeek      int        `json:"day_of_week"`
	AvgSpeedKmh    float64    `json:"avg_speed_kmh"`
	AvgDurationSec float64    `json:"avg_duration_sec"`
	SampleCount    int        `json:"sample_count"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

type SegmentKey struct {
	RouteID    string
	FromStopID string
	ToStopID   string
	TimeBucket TimeBucket
	DayOfWeek  int
}

type StopETA struct {
	StopID        string    `json:"stop_id"`
	StopName      string    `json:"stop_name"`
	Sequence      int       `json:"sequence"`
	DistanceKm    float64   `json:"distance_km"`
	TravelSeconds float64   `json:"travel_seconds"`
	ArrivalAt     time.Time `json:"arrival_at"`
	Confidence    float64   `json:"confidence"`
	Historical    bool      `json:"historical"`
}
