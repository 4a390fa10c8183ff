package domain

type AssignmentStatus string

const (
	AssignmentScheduled AssignmentStatus = "scheduled"
	AssignmentActive    AssignmentStatus = "active"
	AssignmentInactive  AssignmentStatus = "inactive"
)

// RouteAssignment binds a vehicle and its driver to a route. It is owned by the
// administrative side and only read here.
type RouteAssignment struct {
	VehicleID string           `json:"vehicle_id"`
	RouteID   string           `json:"route_id"`
	DriverID  string           `json:"driver_id"`
	Status    AssignmentStatus `json:"status"`
}

type Route struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Stop struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Lat      float64 `json:"latitude"`
	Lon      float64 `json:"longitude"`
	Sequence int     `json:"sequence"`
}

type Driver struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ActiveVehicle is an assigned vehicle together with its freshest position.
type ActiveVehicle struct {
	Assignment    RouteAssignment
	RouteName     string
	VehicleNumber string
	DriverName    string
	Position      VehiclePosition
}
