// Package geo holds the great-circle helpers shared by ingestion, prediction
// and delta encoding.
package geo

import (
	"math"
	"time"
)

const (
	EarthRadiusKm = 6371.0

	// DefaultSpeedKmh is the assumed average speed when nothing better is known.
	DefaultSpeedKmh = 30.0
)

func ToRad(deg float64) float64 {
	return deg * math.Pi / 180
}

func ToDeg(rad float64) float64 {
	return rad * 180 / math.Pi
}

// HaversineKm returns the great-circle distance between two points in kilometers.
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := ToRad(lat2 - lat1)
	dLon := ToRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(ToRad(lat1))*math.Cos(ToRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return EarthRadiusKm * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

func HaversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	return HaversineKm(lat1, lon1, lat2, lon2) * 1000
}

// Bearing returns the initial bearing from the first point to the second, in [0, 360).
func Bearing(lat1, lon1, lat2, lon2 float64) float64 {
	phi1, phi2 := ToRad(lat1), ToRad(lat2)
	dLon := ToRad(lon2 - lon1)
	y := math.Sin(dLon) * math.Cos(phi2)
	x := math.Cos(phi1)*math.Sin(phi2) - math.Sin(phi1)*math.Cos(phi2)*math.Cos(dLon)
	return math.Mod(ToDeg(math.Atan2(y, x))+360, 360)
}

// HeadingDelta is the smallest angle between two headings, in [0, 180].
func HeadingDelta(a, b float64) float64 {
	d := math.Mod(math.Abs(a-b), 360)
	if d > 180 {
		d = 360 - d
	}
	return d
}

// EstimateSeconds converts a distance into travel seconds at the given speed.
// Non-positive speeds use DefaultSpeedKmh.
func EstimateSeconds(distanceKm, speedKmh float64) float64 {
	if speedKmh <= 0 {
		speedKmh = DefaultSpeedKmh
	}
	return distanceKm / speedKmh * 3600
}

// ImpliedSpeedKmh is the speed needed to cover distanceKm in elapsed.
// Zero or negative elapsed yields +Inf.
func ImpliedSpeedKmh(distanceKm float64, elapsed time.Duration) float64 {
	hours := elapsed.Hours()
	if hours <= 0 {
		return math.Inf(1)
	}
	return distanceKm / hours
}

func Round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
