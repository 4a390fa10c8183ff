package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nandanugg/nxt-bus/config"
	"github.com/nandanugg/nxt-bus/module/core/geo"
)

type locationMessage struct {
	VehicleID string  `json:"vehicle_id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Heading   float64 `json:"heading"`
	Speed     float64 `json:"speed"`
	Timestamp int64   `json:"timestamp"`
}

type point struct{ lat, lon float64 }

// defaultPath runs State Bank to Lalbagh, Mangalore.
var defaultPath = []point{
	{12.8698, 74.8430},
	{12.8862, 74.8376},
	{12.9120, 74.8300},
	{12.9200, 74.8200},
}

// vehicle walks a polyline back and forth at a roughly constant speed.
type vehicle struct {
	path     []point
	leg      int
	progress float64
	forward  bool
}

// step advances by km along the path and returns the new position and
// heading.
func (v *vehicle) step(km float64) (point, float64) {
	for {
		from, to := v.endpoints()
		legKm := geo.HaversineKm(from.lat, from.lon, to.lat, to.lon)
		remaining := legKm * (1 - v.progress)
		if km < remaining || legKm == 0 {
			if legKm > 0 {
				v.progress += km / legKm
			}
			return interpolate(from, to, v.progress), geo.Bearing(from.lat, from.lon, to.lat, to.lon)
		}
		km -= remaining
		v.progress = 0
		v.leg++
		if v.leg == len(v.path)-1 {
			v.leg = 0
			v.forward = !v.forward
		}
	}
}

func (v *vehicle) endpoints() (point, point) {
	if v.forward {
		return v.path[v.leg], v.path[v.leg+1]
	}
	n := len(v.path) - 1
	return v.path[n-v.leg], v.path[n-v.leg-1]
}

func interpolate(a, b point, f float64) point {
	return point{lat: a.lat + (b.lat-a.lat)*f, lon: a.lon + (b.lon-a.lon)*f}
}

func main() {
	vehicleID := flag.String("vehicle", "B1", "vehicle id to report as")
	interval := flag.Duration("interval", 2*time.Second, "time between fixes")
	speed := flag.Float64("speed", 30, "average speed in km/h")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	// timestamps are whole seconds, so faster fixes would collide
	if *interval < time.Second || *speed <= 0 || *speed > 120 {
		fmt.Fprintln(os.Stderr, "error: interval must be at least 1s and speed within (0, 120] km/h")
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Error("config", slog.Any("error", err))
		os.Exit(1)
	}

	client, err := config.NewMQTTWithClientID(cfg, "fleet-mock-publisher-"+*vehicleID)
	if err != nil {
		logger.Error("mqtt", slog.Any("error", err))
		os.Exit(1)
	}
	defer client.Disconnect(250)

	v := &vehicle{path: defaultPath, forward: true}
	topic := fmt.Sprintf("/fleet/vehicle/%s/location", *vehicleID)
	logger.Info("publishing", slog.String("broker", cfg.MQTTBroker), slog.String("topic", topic), slog.Duration("interval", *interval))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	for {
		select {
		case <-sig:
			logger.Info("shutting down")
			return
		case now := <-ticker.C:
			// +-20% jitter keeps the implied speed plausible
			kmh := *speed * (0.8 + rand.Float64()*0.4)
			pos, heading := v.step(kmh * interval.Hours())

			payload, _ := json.Marshal(locationMessage{
				VehicleID: *vehicleID,
				Latitude:  geo.Round(pos.lat, 6),
				Longitude: geo.Round(pos.lon, 6),
				Heading:   geo.Round(heading, 0),
				Speed:     geo.Round(kmh, 1),
				Timestamp: now.Unix(),
			})

			token := client.Publish(topic, 1, false, payload)
			token.Wait()
			if err := token.Error(); err != nil {
				logger.Warn("publish failed", slog.Any("error", err))
				continue
			}
			logger.Debug("published", slog.String("payload", string(payload)))
		}
	}
}
