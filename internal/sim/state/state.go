// internal/sim/state/state.go
package state

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/signalsfoundry/vehicle-feed-simulator/core"
	"github.com/signalsfoundry/vehicle-feed-simulator/internal/logging"
	"github.com/signalsfoundry/vehicle-feed-simulator/kb"
	"github.com/signalsfoundry/vehicle-feed-simulator/model"
)

// FleetState is the single owner of the simulated fleet. RunTick is the only
// mutation path; every other accessor hands out copies.
type FleetState struct {
	// mu serialises ticks against readers. Ticks take the write lock.
	mu sync.RWMutex

	engine   *core.SimulationEngine
	store    *kb.KnowledgeBase
	lastTick time.Time
	ticks    uint64

	log     logging.Logger
	metrics SimMetricsRecorder
}

// SimMetricsRecorder receives per-tick measurements.
type SimMetricsRecorder interface {
	ObserveTick(d time.Duration, activeVehicles int)
	SetVehicleSpeed(vehicleID string, kmh float64)
}

// FleetStateOption customises FleetState construction.
type FleetStateOption func(*FleetState)

// WithMetricsRecorder attaches an optional metrics recorder.
func WithMetricsRecorder(m SimMetricsRecorder) FleetStateOption {
	return func(s *FleetState) {
		s.metrics = m
	}
}

// NewFleetState builds the engine from the definitions registered in store.
// Activation deadlines are measured from start.
func NewFleetState(path *model.Path, store *kb.KnowledgeBase, start time.Time, log logging.Logger, opts ...FleetStateOption) (*FleetState, error) {
	if log == nil {
		log = logging.Noop()
	}
	if store == nil {
		store = kb.NewKnowledgeBase()
	}

	engine, err := core.NewSimulationEngine(path, store.ListVehicles(), start)
	if err != nil {
		return nil, fmt.Errorf("building simulation engine: %w", err)
	}

	s := &FleetState{
		engine:   engine,
		store:    store,
		lastTick: start,
		log:      log,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	engine.OnActivate(func(v *core.Vehicle) {
		s.log.Info(context.Background(), "vehicle started",
			logging.String("vehicle_id", v.ID),
			logging.Duration("start_delay", v.StartDelay),
		)
	})
	return s, nil
}

// RunTick advances the fleet to now and returns the resulting snapshot.
func (s *FleetState) RunTick(now time.Time) core.Snapshot {
	began := time.Now()

	s.mu.Lock()
	snap := s.engine.Step(now)
	s.lastTick = now
	s.ticks++
	active := s.engine.ActiveCount()
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.ObserveTick(time.Since(began), active)
		for _, car := range snap.Cars {
			s.metrics.SetVehicleSpeed(car.ID, car.Speed)
		}
	}
	return snap
}

// Snapshot serializes the current state stamped with the last tick time.
func (s *FleetState) Snapshot() core.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine.Snapshot(s.lastTick)
}

// InitFrame returns the per-vehicle projection sent to a subscriber when it
// first connects.
func (s *FleetState) InitFrame() []core.VehicleView {
	return s.Snapshot().Cars
}

// Vehicles returns copies of the raw, unrounded vehicle state.
func (s *FleetState) Vehicles() []core.Vehicle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine.Vehicles()
}

// Vehicle returns a copy of the raw state of the vehicle registered as id.
// Unknown IDs, and IDs registered after the fleet was built, yield
// kb.ErrVehicleNotFound.
func (s *FleetState) Vehicle(id string) (core.Vehicle, error) {
	if id == "" {
		return core.Vehicle{}, fmt.Errorf("%w: empty vehicle id", model.ErrInvalidVehicle)
	}
	if _, err := s.store.GetVehicle(id); err != nil {
		return core.Vehicle{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.engine.Vehicle(id)
	if !ok {
		return core.Vehicle{}, fmt.Errorf("%w: %q is not simulated", kb.ErrVehicleNotFound, id)
	}
	return v, nil
}

// LastTick returns the time passed to the most recent RunTick, or the
// simulation start when no tick has run.
func (s *FleetState) LastTick() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastTick
}

// TickCount returns how many ticks have been applied.
func (s *FleetState) TickCount() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ticks
}

// Path returns the shared, immutable path.
func (s *FleetState) Path() *model.Path {
	return s.engine.Path()
}

// StartTime returns the simulation start.
func (s *FleetState) StartTime() time.Time {
	return s.engine.StartTime()
}
