package domain

type Role string

const (
	RoleVehicle   Role = "vehicle"
	RolePassenger Role = "passenger"
)

// Principal is the authenticated identity behind a connection, resolved once
// at handshake. For vehicle-role principals ID is the driver id.
type Principal struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
	Name string `json:"name,omitempty"`
}
