package model

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidVehicle indicates a vehicle definition failed validation.
var ErrInvalidVehicle = errors.New("invalid vehicle")

// VehicleDefinition describes a simulated vehicle as configured at startup.
type VehicleDefinition struct {
	ID     string
	Name   string
	Driver string

	// SpeedFactor is the fraction of a segment covered per tick.
	SpeedFactor float64

	// StartDelay is how long after simulation start the vehicle stays parked
	// on the first waypoint.
	StartDelay time.Duration
}

// Validate checks the definition. SpeedFactor must lie in (0, 1) so that a
// single tick crosses at most one waypoint.
func (d VehicleDefinition) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidVehicle)
	}
	if !(d.SpeedFactor > 0 && d.SpeedFactor < 1) {
		return fmt.Errorf("%w: %q speed factor %v outside (0, 1)", ErrInvalidVehicle, d.ID, d.SpeedFactor)
	}
	if d.StartDelay < 0 {
		return fmt.Errorf("%w: %q negative start delay %s", ErrInvalidVehicle, d.ID, d.StartDelay)
	}
	return nil
}
