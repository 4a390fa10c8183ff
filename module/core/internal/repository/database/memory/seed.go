package memory

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/nandanugg/nxt-bus/module/core/domain"
)

// Seed is the fixture format for the in-memory store:
//
//	routes:
//	  - id: R1
//	    name: Route 1
//	    stops:
//	      - {id: S1, name: State Bank, lat: 12.8698, lon: 74.8430, sequence: 1}
//	drivers:
//	  - {id: D1, name: Ravi}
//	vehicles:
//	  - {id: B1, number: KA-19-F-1234}
//	assignments:
//	  - {vehicle_id: B1, route_id: R1, driver_id: D1, status: active}
type Seed struct {
	Routes []struct {
		ID    string `yaml:"id"`
		Name  string `yaml:"name"`
		Stops []struct {
			ID       string  `yaml:"id"`
			Name     string  `yaml:"name"`
			Lat      float64 `yaml:"lat"`
			Lon      float64 `yaml:"lon"`
			Sequence int     `yaml:"sequence"`
		} `yaml:"stops"`
	} `yaml:"routes"`
	Drivers []struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"drivers"`
	Vehicles []struct {
		ID     string `yaml:"id"`
		Number string `yaml:"number"`
	} `yaml:"vehicles"`
	Assignments []struct {
		VehicleID string `yaml:"vehicle_id"`
		RouteID   string `yaml:"route_id"`
		DriverID  string `yaml:"driver_id"`
		Status    string `yaml:"status"`
	} `yaml:"assignments"`
}

// LoadSeed decodes a YAML fixture from r into repo.
func LoadSeed(r io.Reader, repo *RouteRepo) error {
	var s Seed
	if err := yaml.NewDecoder(r).Decode(&s); err != nil {
		return fmt.Errorf("decode seed: %w", err)
	}

	for _, rt := range s.Routes {
		stops := make([]domain.Stop, len(rt.Stops))
		for i, st := range rt.Stops {
			stops[i] = domain.Stop{ID: st.ID, Name: st.Name, Lat: st.Lat, Lon: st.Lon, Sequence: st.Sequence}
		}
		repo.AddRoute(domain.Route{ID: rt.ID, Name: rt.Name}, stops...)
	}
	for _, d := range s.Drivers {
		repo.AddDriver(domain.Driver{ID: d.ID, Name: d.Name})
	}
	for _, v := range s.Vehicles {
		repo.AddVehicle(v.ID, v.Number)
	}
	for _, a := range s.Assignments {
		status := domain.AssignmentStatus(a.Status)
		switch status {
		case domain.AssignmentScheduled, domain.AssignmentActive, domain.AssignmentInactive:
		case "":
			status = domain.AssignmentActive
		default:
			return fmt.Errorf("assignment %s: unknown status %q", a.VehicleID, a.Status)
		}
		repo.Assign(domain.RouteAssignment{VehicleID: a.VehicleID, RouteID: a.RouteID, DriverID: a.DriverID, Status: status})
	}
	return nil
}
