package main

import (
	"math"
	"testing"

	"github.com/nandanugg/nxt-bus/module/core/geo"
)

func TestVehicleStep_StaysOnPathAndTurnsAround(t *testing.T) {
	v := &vehicle{path: defaultPath, forward: true}

	var total float64
	for i := 0; i < len(defaultPath)-1; i++ {
		a, b := defaultPath[i], defaultPath[i+1]
		total += geo.HaversineKm(a.lat, a.lon, b.lat, b.lon)
	}

	prev := defaultPath[0]
	steps := int(math.Ceil(total/0.1)) + 5
	for i := 0; i < steps; i++ {
		pos, _ := v.step(0.1)
		if d := geo.HaversineKm(prev.lat, prev.lon, pos.lat, pos.lon); d > 0.1001 {
			t.Fatalf("step %d jumped %.4f km", i, d)
		}
		prev = pos
	}
	if v.forward {
		t.Fatal("expected the vehicle to turn around at the end of the path")
	}
}
