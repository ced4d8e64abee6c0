package core

import (
	"errors"
	"fmt"
	"time"

	"github.com/signalsfoundry/vehicle-feed-simulator/model"
)

// ErrDuplicateVehicle indicates two definitions share an ID.
var ErrDuplicateVehicle = errors.New("duplicate vehicle id")

// SimulationEngine owns the fleet and advances it one tick at a time. It is
// not safe for concurrent use; callers serialise access (see sim/state).
type SimulationEngine struct {
	path     *model.Path
	motion   MotionModel
	vehicles []*Vehicle
	start    time.Time

	tickListeners []func(Snapshot)
	activated     []func(*Vehicle)
}

// EngineOption customises SimulationEngine construction.
type EngineOption func(*SimulationEngine)

// WithMotionModel replaces the default PathMotionModel.
func WithMotionModel(m MotionModel) EngineOption {
	return func(se *SimulationEngine) {
		if m != nil {
			se.motion = m
		}
	}
}

// NewSimulationEngine builds one vehicle per definition, in order, parked on
// the first waypoint of path. Activation deadlines are measured from start.
func NewSimulationEngine(path *model.Path, defs []model.VehicleDefinition, start time.Time, opts ...EngineOption) (*SimulationEngine, error) {
	if path == nil {
		return nil, fmt.Errorf("%w: nil path", model.ErrDegeneratePath)
	}
	if path.Len() < 2 {
		return nil, fmt.Errorf("%w: got %d", model.ErrDegeneratePath, path.Len())
	}

	seen := make(map[string]struct{}, len(defs))
	vehicles := make([]*Vehicle, 0, len(defs))
	for _, def := range defs {
		if err := def.Validate(); err != nil {
			return nil, err
		}
		if _, dup := seen[def.ID]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateVehicle, def.ID)
		}
		seen[def.ID] = struct{}{}
		vehicles = append(vehicles, NewVehicle(def, path, start))
	}

	se := &SimulationEngine{
		path:     path,
		motion:   NewPathMotionModel(path),
		vehicles: vehicles,
		start:    start,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(se)
		}
	}
	return se, nil
}

// RegisterTickListener adds a callback invoked with each tick's snapshot.
func (se *SimulationEngine) RegisterTickListener(fn func(Snapshot)) {
	se.tickListeners = append(se.tickListeners, fn)
}

// OnActivate adds a callback invoked when a vehicle starts moving.
func (se *SimulationEngine) OnActivate(fn func(*Vehicle)) {
	se.activated = append(se.activated, fn)
}

// Path returns the shared path.
func (se *SimulationEngine) Path() *model.Path {
	return se.path
}

// StartTime returns the simulation start used for activation deadlines.
func (se *SimulationEngine) StartTime() time.Time {
	return se.start
}

// Step runs one tick at time now: due vehicles are activated, every vehicle
// is advanced, and the resulting snapshot is returned and handed to the
// tick listeners. Vehicles are independent, so order does not matter.
func (se *SimulationEngine) Step(now time.Time) Snapshot {
	for _, v := range se.vehicles {
		if v.ActivateIfDue(now) {
			for _, fn := range se.activated {
				fn(v)
			}
		}
		se.motion.Advance(now, v)
	}

	snap := se.Snapshot(now)
	for _, fn := range se.tickListeners {
		fn(snap)
	}
	return snap
}

// Snapshot serializes the current state without advancing it.
func (se *SimulationEngine) Snapshot(ts time.Time) Snapshot {
	return Serialize(ts, se.Vehicles())
}

// Vehicles returns deep copies of the fleet in definition order.
func (se *SimulationEngine) Vehicles() []Vehicle {
	out := make([]Vehicle, 0, len(se.vehicles))
	for _, v := range se.vehicles {
		out = append(out, v.Clone())
	}
	return out
}

// Vehicle returns a deep copy of the vehicle with the given ID.
func (se *SimulationEngine) Vehicle(id string) (Vehicle, bool) {
	for _, v := range se.vehicles {
		if v.ID == id {
			return v.Clone(), true
		}
	}
	return Vehicle{}, false
}

// ActiveCount returns how many vehicles are moving.
func (se *SimulationEngine) ActiveCount() int {
	n := 0
	for _, v := range se.vehicles {
		if v.Active {
			n++
		}
	}
	return n
}
