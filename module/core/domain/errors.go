package domain

import "errors"

var (
	ErrInvalidCoordinates    = errors.New("invalid coordinates")
	ErrInvalidVehicle        = errors.New("vehicle id required")
	ErrNonMonotonicTimestamp = errors.New("timestamp not after last recorded position")
	ErrImplausibleMovement   = errors.New("implied speed exceeds ceiling")

	ErrNoActiveVehicles = errors.New("no active vehicles on route")
	ErrNoValidVehicle   = errors.New("no vehicle produced a usable estimate")

	// ErrRoutingUnavailable never leaves the predictor; it selects the fallback.
	ErrRoutingUnavailable = errors.New("routing unavailable")

	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrNoAssignment         = errors.New("vehicle has no active assignment")
	ErrNotFound             = errors.New("not found")
)
