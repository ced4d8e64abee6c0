package core

import (
	"errors"
	"testing"
	"time"

	"github.com/signalsfoundry/vehicle-feed-simulator/model"
)

func loopPath(t *testing.T) *model.Path {
	return mustPath(t,
		model.GeoPoint{Lon: 101.119146, Lat: 12.688903},
		model.GeoPoint{Lon: 101.118602, Lat: 12.689261},
		model.GeoPoint{Lon: 101.1177763, Lat: 12.6895659},
	)
}

func TestNewSimulationEngine_RejectsBadInput(t *testing.T) {
	path := loopPath(t)

	if _, err := NewSimulationEngine(nil, nil, testStart); !errors.Is(err, model.ErrDegeneratePath) {
		t.Fatalf("nil path error = %v, want ErrDegeneratePath", err)
	}

	defs := []model.VehicleDefinition{
		{ID: "car-1", SpeedFactor: 0.005},
		{ID: "car-1", SpeedFactor: 0.003},
	}
	if _, err := NewSimulationEngine(path, defs, testStart); !errors.Is(err, ErrDuplicateVehicle) {
		t.Fatalf("duplicate error = %v, want ErrDuplicateVehicle", err)
	}

	bad := []model.VehicleDefinition{{ID: "fast", SpeedFactor: 1.5}}
	if _, err := NewSimulationEngine(path, bad, testStart); !errors.Is(err, model.ErrInvalidVehicle) {
		t.Fatalf("invalid error = %v, want ErrInvalidVehicle", err)
	}
}

func TestSimulationEngine_DelayedActivation(t *testing.T) {
	path := loopPath(t)
	defs := []model.VehicleDefinition{
		{ID: "car-1", SpeedFactor: 0.005},
		{ID: "car-2", SpeedFactor: 0.003, StartDelay: 4 * time.Second},
	}
	se, err := NewSimulationEngine(path, defs, testStart)
	if err != nil {
		t.Fatalf("NewSimulationEngine: %v", err)
	}

	var activated []string
	se.OnActivate(func(v *Vehicle) { activated = append(activated, v.ID) })

	stateAt := func(id string) Vehicle {
		for _, v := range se.Vehicles() {
			if v.ID == id {
				return v
			}
		}
		t.Fatalf("vehicle %q not found", id)
		return Vehicle{}
	}

	// Tick every 100 ms up to t=2000 ms.
	for ms := 100; ms <= 2000; ms += 100 {
		se.Step(testStart.Add(time.Duration(ms) * time.Millisecond))
		if v := stateAt("car-2"); v.Active || v.Position != path.At(0) {
			t.Fatalf("t=%dms: car-2 active=%v pos=%+v, want parked on first waypoint", ms, v.Active, v.Position)
		}
	}
	if v := stateAt("car-1"); !v.Active || v.Position == path.At(0) {
		t.Fatalf("car-1 should be moving at t=2000ms, got %+v", v)
	}

	for ms := 2100; ms <= 4100; ms += 100 {
		se.Step(testStart.Add(time.Duration(ms) * time.Millisecond))
	}
	if v := stateAt("car-2"); !v.Active {
		t.Fatalf("t=4100ms: car-2 still inactive")
	}
	if len(activated) != 2 || activated[0] != "car-1" || activated[1] != "car-2" {
		t.Fatalf("activation callbacks = %v, want [car-1 car-2] once each", activated)
	}
	if se.ActiveCount() != 2 {
		t.Fatalf("ActiveCount = %d, want 2", se.ActiveCount())
	}
}

func TestSimulationEngine_StepNotifiesListeners(t *testing.T) {
	se, err := NewSimulationEngine(loopPath(t), []model.VehicleDefinition{{ID: "car-1", Name: "Tesla Model Y", Driver: "Fang", SpeedFactor: 0.005}}, testStart)
	if err != nil {
		t.Fatalf("NewSimulationEngine: %v", err)
	}

	var got []Snapshot
	se.RegisterTickListener(func(s Snapshot) { got = append(got, s) })

	now := testStart.Add(100 * time.Millisecond)
	returned := se.Step(now)
	if len(got) != 1 {
		t.Fatalf("listener calls = %d, want 1", len(got))
	}
	if got[0].Timestamp != now.UnixMilli() || returned.Timestamp != now.UnixMilli() {
		t.Fatalf("snapshot timestamp = %d, want %d", got[0].Timestamp, now.UnixMilli())
	}
	if c := got[0].Cars[0]; c.ID != "car-1" || c.Name != "Tesla Model Y" || c.Driver != "Fang" || c.Speed <= 0 {
		t.Fatalf("unexpected projection %+v", c)
	}
}

func TestSimulationEngine_VehiclesAreCopies(t *testing.T) {
	se, err := NewSimulationEngine(loopPath(t), []model.VehicleDefinition{{ID: "car-1", SpeedFactor: 0.25}}, testStart)
	if err != nil {
		t.Fatalf("NewSimulationEngine: %v", err)
	}
	se.Step(testStart.Add(time.Second))

	out := se.Vehicles()
	*out[0].Heading = 1
	out[0].Progress = 0.9

	again := se.Vehicles()
	if *again[0].Heading == 1 || again[0].Progress != 0.25 {
		t.Fatalf("engine state leaked through Vehicles(): %+v", again[0])
	}
}

func TestSimulationEngine_VehicleByID(t *testing.T) {
	se, err := NewSimulationEngine(loopPath(t), []model.VehicleDefinition{{ID: "car-1", SpeedFactor: 0.25}}, testStart)
	if err != nil {
		t.Fatalf("NewSimulationEngine: %v", err)
	}
	se.Step(testStart.Add(time.Second))

	v, ok := se.Vehicle("car-1")
	if !ok || v.Progress != 0.25 {
		t.Fatalf("Vehicle(car-1) = %+v, %v; want progress 0.25", v, ok)
	}
	v.Progress = 0.9
	if again, _ := se.Vehicle("car-1"); again.Progress != 0.25 {
		t.Fatalf("engine state leaked through Vehicle(): %+v", again)
	}
	if _, ok := se.Vehicle("car-2"); ok {
		t.Fatalf("Vehicle(car-2) found, want missing")
	}
}
