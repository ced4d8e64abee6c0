package state

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/signalsfoundry/vehicle-feed-simulator/core"
	"github.com/signalsfoundry/vehicle-feed-simulator/internal/fleet"
	"github.com/signalsfoundry/vehicle-feed-simulator/internal/logging"
	"github.com/signalsfoundry/vehicle-feed-simulator/kb"
	"github.com/signalsfoundry/vehicle-feed-simulator/model"
)

var testStart = time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)

type tickRecord struct {
	d      time.Duration
	active int
}

type stubMetricsRecorder struct {
	mu     sync.Mutex
	ticks  []tickRecord
	speeds map[string]float64
}

func (r *stubMetricsRecorder) ObserveTick(d time.Duration, active int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ticks = append(r.ticks, tickRecord{d: d, active: active})
}

func (r *stubMetricsRecorder) SetVehicleSpeed(id string, kmh float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.speeds == nil {
		r.speeds = make(map[string]float64)
	}
	r.speeds[id] = kmh
}

func newFleetStateForTest(t *testing.T, opts ...FleetStateOption) *FleetState {
	t.Helper()
	path, err := fleet.DefaultPath()
	if err != nil {
		t.Fatalf("DefaultPath: %v", err)
	}
	store := kb.NewKnowledgeBase()
	if err := fleet.LoadDefaults(store); err != nil {
		t.Fatalf("LoadDefaults: %v", err)
	}
	s, err := NewFleetState(path, store, testStart, logging.Noop(), opts...)
	if err != nil {
		t.Fatalf("NewFleetState: %v", err)
	}
	return s
}

func vehicleByID(t *testing.T, vs []core.Vehicle, id string) core.Vehicle {
	t.Helper()
	for _, v := range vs {
		if v.ID == id {
			return v
		}
	}
	t.Fatalf("vehicle %q not found", id)
	return core.Vehicle{}
}

func TestNewFleetStateRejectsDegeneratePath(t *testing.T) {
	if _, err := NewFleetState(nil, kb.NewKnowledgeBase(), testStart, nil); !errors.Is(err, model.ErrDegeneratePath) {
		t.Fatalf("error = %v, want ErrDegeneratePath", err)
	}
}

func TestFleetStateInitialSnapshot(t *testing.T) {
	s := newFleetStateForTest(t)
	origin := s.Path().At(0)

	snap := s.Snapshot()
	if snap.Timestamp != testStart.UnixMilli() {
		t.Fatalf("Timestamp = %d, want start", snap.Timestamp)
	}
	if len(snap.Cars) != 2 {
		t.Fatalf("Cars = %d, want 2", len(snap.Cars))
	}
	for _, c := range snap.Cars {
		if c.Lat != origin.Lat || c.Lon != origin.Lon || c.Heading != 0 || c.Speed != 0 {
			t.Fatalf("initial projection %+v, want parked on first waypoint", c)
		}
	}

	init := s.InitFrame()
	if len(init) != 2 || init[0] != snap.Cars[0] {
		t.Fatalf("InitFrame = %+v, want snapshot cars", init)
	}
}

func TestFleetStateActivationScenario(t *testing.T) {
	s := newFleetStateForTest(t)
	origin := s.Path().At(0)

	for ms := 100; ms <= 2000; ms += 100 {
		s.RunTick(testStart.Add(time.Duration(ms) * time.Millisecond))
	}
	car2 := vehicleByID(t, s.Vehicles(), "car-2")
	if car2.Active || car2.Position != origin {
		t.Fatalf("t=2000ms: car-2 = %+v, want inactive at first waypoint", car2)
	}
	if car1 := vehicleByID(t, s.Vehicles(), "car-1"); !car1.Active || car1.SegmentIndex != 0 {
		t.Fatalf("t=2000ms: car-1 = %+v, want active on segment 0", car1)
	}

	for ms := 2100; ms <= 4100; ms += 100 {
		s.RunTick(testStart.Add(time.Duration(ms) * time.Millisecond))
	}
	if car2 := vehicleByID(t, s.Vehicles(), "car-2"); !car2.Active {
		t.Fatalf("t=4100ms: car-2 still inactive")
	}
	if s.TickCount() != 41 {
		t.Fatalf("TickCount = %d, want 41", s.TickCount())
	}
	if !s.LastTick().Equal(testStart.Add(4100 * time.Millisecond)) {
		t.Fatalf("LastTick = %v", s.LastTick())
	}
}

func TestFleetStateVehicleLookup(t *testing.T) {
	path, err := fleet.DefaultPath()
	if err != nil {
		t.Fatalf("DefaultPath: %v", err)
	}
	store := kb.NewKnowledgeBase()
	if err := fleet.LoadDefaults(store); err != nil {
		t.Fatalf("LoadDefaults: %v", err)
	}
	s, err := NewFleetState(path, store, testStart, logging.Noop())
	if err != nil {
		t.Fatalf("NewFleetState: %v", err)
	}
	s.RunTick(testStart.Add(100 * time.Millisecond))

	car1, err := s.Vehicle("car-1")
	if err != nil {
		t.Fatalf("Vehicle(car-1): %v", err)
	}
	if car1.ID != "car-1" || !car1.Active || car1.Progress != 0.005 {
		t.Fatalf("Vehicle(car-1) = %+v, want active car-1 at progress 0.005", car1)
	}

	if _, err := s.Vehicle(""); !errors.Is(err, model.ErrInvalidVehicle) {
		t.Fatalf("Vehicle(\"\") error = %v, want ErrInvalidVehicle", err)
	}
	if _, err := s.Vehicle("car-9"); !errors.Is(err, kb.ErrVehicleNotFound) {
		t.Fatalf("Vehicle(car-9) error = %v, want ErrVehicleNotFound", err)
	}

	late := model.VehicleDefinition{ID: "car-3", Name: "Late", Driver: "Nobody", SpeedFactor: 0.004}
	if err := store.AddVehicle(late); err != nil {
		t.Fatalf("AddVehicle: %v", err)
	}
	if _, err := s.Vehicle("car-3"); !errors.Is(err, kb.ErrVehicleNotFound) {
		t.Fatalf("Vehicle(car-3) error = %v, want ErrVehicleNotFound for a vehicle added after start", err)
	}
}

func TestFleetStateRecordsMetrics(t *testing.T) {
	rec := &stubMetricsRecorder{}
	s := newFleetStateForTest(t, WithMetricsRecorder(rec))

	s.RunTick(testStart.Add(100 * time.Millisecond))
	s.RunTick(testStart.Add(200 * time.Millisecond))

	if len(rec.ticks) != 2 {
		t.Fatalf("ObserveTick calls = %d, want 2", len(rec.ticks))
	}
	if rec.ticks[1].active != 1 || rec.ticks[1].d < 0 {
		t.Fatalf("tick record = %+v, want 1 active vehicle, non-negative duration", rec.ticks[1])
	}
	if rec.speeds["car-1"] <= 0 {
		t.Fatalf("car-1 speed = %v, want > 0", rec.speeds["car-1"])
	}
	if v, ok := rec.speeds["car-2"]; !ok || v != 0 {
		t.Fatalf("car-2 speed = %v (present %v), want 0", v, ok)
	}
}

func TestFleetStateConcurrentReadersDuringTicks(t *testing.T) {
	s := newFleetStateForTest(t)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				for _, v := range s.Vehicles() {
					if v.Progress < 0 || v.Progress >= 1 || v.SegmentIndex < 0 || v.SegmentIndex >= s.Path().Len() {
						t.Errorf("invariant broken: %+v", v)
						return
					}
				}
				_ = s.Snapshot()
			}
		}()
	}

	for i := 1; i <= 500; i++ {
		s.RunTick(testStart.Add(time.Duration(i) * 100 * time.Millisecond))
	}
	close(stop)
	wg.Wait()
}
