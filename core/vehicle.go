package core

import (
	"encoding/json"
	"time"

	"github.com/signalsfoundry/vehicle-feed-simulator/model"
)

// Vehicle is the mutable motion state of one simulated vehicle.
//
// Position, PreviousPosition, Heading and SpeedMps are derived fields and
// are written only by a MotionModel. SegmentIndex and Progress always map to
// a point on the path: Progress stays in [0, 1) and SegmentIndex in
// [0, path.Len()).
type Vehicle struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Driver string `json:"driver"`

	SegmentIndex int     `json:"pathIndex"`
	Progress     float64 `json:"progress"`
	SpeedFactor  float64 `json:"speedFactor"`

	StartDelay time.Duration `json:"startDelay"`
	ActivateAt time.Time     `json:"activateAt"`
	Active     bool          `json:"started"`

	Position         model.GeoPoint `json:"position"`
	PreviousPosition model.GeoPoint `json:"previousPosition"`

	// Heading is nil until the first tick after activation.
	Heading *float64 `json:"heading,omitempty"`
	// SpeedMps is nil until a speed has been measured.
	SpeedMps *float64 `json:"velocity,omitempty"`

	LastUpdate time.Time `json:"lastUpdate"`
}

// NewVehicle places a vehicle parked on the first waypoint of path. It
// becomes active StartDelay after start.
func NewVehicle(def model.VehicleDefinition, path *model.Path, start time.Time) *Vehicle {
	origin := path.At(0)
	return &Vehicle{
		ID:               def.ID,
		Name:             def.Name,
		Driver:           def.Driver,
		SpeedFactor:      def.SpeedFactor,
		StartDelay:       def.StartDelay,
		ActivateAt:       start.Add(def.StartDelay),
		Position:         origin,
		PreviousPosition: origin,
		LastUpdate:       start,
	}
}

// ActivateIfDue flips Active to true once now has reached ActivateAt. It
// reports whether this call performed the transition. An active vehicle is
// never deactivated.
func (v *Vehicle) ActivateIfDue(now time.Time) bool {
	if v.Active || now.Before(v.ActivateAt) {
		return false
	}
	v.Active = true
	return true
}

// Clone returns a deep copy safe to hand to readers.
func (v *Vehicle) Clone() Vehicle {
	out := *v
	if v.Heading != nil {
		h := *v.Heading
		out.Heading = &h
	}
	if v.SpeedMps != nil {
		s := *v.SpeedMps
		out.SpeedMps = &s
	}
	return out
}

// MarshalJSON always emits velocity, as 0 until a speed has been measured.
func (v Vehicle) MarshalJSON() ([]byte, error) {
	type plain Vehicle
	velocity := 0.0
	if v.SpeedMps != nil {
		velocity = *v.SpeedMps
	}
	return json.Marshal(struct {
		plain
		Velocity float64 `json:"velocity"`
	}{plain: plain(v), Velocity: velocity})
}
