package core

import (
	"math"
	"testing"
	"time"

	"github.com/signalsfoundry/vehicle-feed-simulator/model"
)

var testStart = time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)

func mustPath(t *testing.T, pts ...model.GeoPoint) *model.Path {
	t.Helper()
	p, err := model.NewPath(pts)
	if err != nil {
		t.Fatalf("NewPath: %v", err)
	}
	return p
}

func activeVehicle(path *model.Path, speed float64) *Vehicle {
	v := NewVehicle(model.VehicleDefinition{ID: "v", SpeedFactor: speed}, path, testStart)
	v.Active = true
	return v
}

func closeTo(a, b model.GeoPoint, tol float64) bool {
	return math.Abs(a.Lat-b.Lat) <= tol && math.Abs(a.Lon-b.Lon) <= tol
}

func TestPathMotionModel_TwoWaypointLoop(t *testing.T) {
	path := mustPath(t, model.GeoPoint{Lon: 0, Lat: 0}, model.GeoPoint{Lon: 0, Lat: 1})
	m := NewPathMotionModel(path)
	v := activeVehicle(path, 0.5)

	now := testStart
	tick := func() {
		now = now.Add(100 * time.Millisecond)
		m.Advance(now, v)
	}

	tick()
	if v.SegmentIndex != 0 || !closeTo(v.Position, model.GeoPoint{Lon: 0, Lat: 0.5}, 1e-9) {
		t.Fatalf("after 1 tick: segment=%d pos=%+v", v.SegmentIndex, v.Position)
	}

	// Two ticks cross the first waypoint: the vehicle sits at the start of
	// the return segment.
	tick()
	if v.SegmentIndex != 1 || v.Progress != 0 || !closeTo(v.Position, model.GeoPoint{Lon: 0, Lat: 1}, 1e-9) {
		t.Fatalf("after 2 ticks: segment=%d progress=%v pos=%+v", v.SegmentIndex, v.Progress, v.Position)
	}
	if v.Heading == nil || math.Abs(*v.Heading-180) > 1e-9 {
		t.Fatalf("heading on return segment = %v, want 180", v.Heading)
	}

	tick()
	tick()
	if v.SegmentIndex != 0 || !closeTo(v.Position, model.GeoPoint{Lon: 0, Lat: 0}, 1e-9) {
		t.Fatalf("after full loop: segment=%d pos=%+v, want origin", v.SegmentIndex, v.Position)
	}
}

func TestPathMotionModel_ClosedLoopReturn(t *testing.T) {
	path := mustPath(t,
		model.GeoPoint{Lon: 101.119146, Lat: 12.688903},
		model.GeoPoint{Lon: 101.118602, Lat: 12.689261},
		model.GeoPoint{Lon: 101.1177763, Lat: 12.6895659},
	)
	m := NewPathMotionModel(path)

	for _, speed := range []float64{0.5, 0.25, 0.125, 0.0625} {
		v := activeVehicle(path, speed)
		v.Progress = 0.0625
		startSeg, startProgress := v.SegmentIndex, v.Progress

		ticksPerSegment := int(math.Round(1 / speed))
		now := testStart
		for i := 0; i < ticksPerSegment*path.Len(); i++ {
			now = now.Add(100 * time.Millisecond)
			m.Advance(now, v)
		}
		if v.SegmentIndex != startSeg || math.Abs(v.Progress-startProgress) > 1e-9 {
			t.Fatalf("speed %v: segment=%d progress=%v, want %d/%v", speed, v.SegmentIndex, v.Progress, startSeg, startProgress)
		}

		// 1/s ticks always moves exactly one segment forward.
		for i := 0; i < ticksPerSegment; i++ {
			now = now.Add(100 * time.Millisecond)
			m.Advance(now, v)
		}
		if v.SegmentIndex != (startSeg+1)%path.Len() || math.Abs(v.Progress-startProgress) > 1e-9 {
			t.Fatalf("speed %v: one segment later segment=%d progress=%v", speed, v.SegmentIndex, v.Progress)
		}
	}
}

func TestPathMotionModel_InvariantsHoldEveryTick(t *testing.T) {
	path := mustPath(t,
		model.GeoPoint{Lon: 101.119146, Lat: 12.688903},
		model.GeoPoint{Lon: 101.118602, Lat: 12.689261},
		model.GeoPoint{Lon: 101.1177763, Lat: 12.6895659},
		model.GeoPoint{Lon: 101.1182391, Lat: 12.690386515},
	)
	m := NewPathMotionModel(path)
	v := activeVehicle(path, 0.037)

	now := testStart
	for i := 0; i < 2000; i++ {
		now = now.Add(100 * time.Millisecond)
		m.Advance(now, v)
		if v.Progress < 0 || v.Progress >= 1 {
			t.Fatalf("tick %d: progress %v outside [0, 1)", i, v.Progress)
		}
		if v.SegmentIndex < 0 || v.SegmentIndex >= path.Len() {
			t.Fatalf("tick %d: segment %d outside [0, %d)", i, v.SegmentIndex, path.Len())
		}
		if *v.Heading < 0 || *v.Heading >= 360 {
			t.Fatalf("tick %d: heading %v outside [0, 360)", i, *v.Heading)
		}
		if v.SpeedMps == nil || *v.SpeedMps < 0 || math.IsInf(*v.SpeedMps, 0) {
			t.Fatalf("tick %d: bad speed %v", i, v.SpeedMps)
		}
	}
}

func TestPathMotionModel_InactiveVehicleFrozen(t *testing.T) {
	path := mustPath(t, model.GeoPoint{Lon: 1, Lat: 2}, model.GeoPoint{Lon: 1, Lat: 3})
	m := NewPathMotionModel(path)
	v := NewVehicle(model.VehicleDefinition{ID: "parked", SpeedFactor: 0.1}, path, testStart)
	before := v.Clone()

	for i := 1; i <= 10; i++ {
		m.Advance(testStart.Add(time.Duration(i)*time.Second), v)
	}
	if v.Position != path.At(0) {
		t.Fatalf("inactive vehicle moved to %+v", v.Position)
	}
	if v.Progress != 0 || v.SegmentIndex != 0 || v.Heading != nil || v.SpeedMps != nil || !v.LastUpdate.Equal(before.LastUpdate) {
		t.Fatalf("inactive vehicle state changed: %+v", v)
	}
}

func TestPathMotionModel_NonPositiveIntervalKeepsSpeed(t *testing.T) {
	path := mustPath(t, model.GeoPoint{Lon: 0, Lat: 0}, model.GeoPoint{Lon: 0, Lat: 0.01})
	m := NewPathMotionModel(path)
	v := activeVehicle(path, 0.1)

	now := testStart.Add(time.Second)
	m.Advance(now, v)
	if v.SpeedMps == nil {
		t.Fatalf("expected speed after first tick")
	}
	want := *v.SpeedMps
	// 10% of ~1112 m in one second.
	if math.Abs(want-111.19) > 1.2 {
		t.Fatalf("speed = %v m/s, want ~111.19", want)
	}

	m.Advance(now, v)
	if *v.SpeedMps != want {
		t.Fatalf("zero interval changed speed to %v", *v.SpeedMps)
	}
	m.Advance(now.Add(-time.Second), v)
	if *v.SpeedMps != want {
		t.Fatalf("negative interval changed speed to %v", *v.SpeedMps)
	}
	if v.Progress < 0.3-1e-9 || v.Progress > 0.3+1e-9 {
		t.Fatalf("position must still advance on clock anomalies, progress=%v", v.Progress)
	}
}

func TestPathMotionModel_OvershootCarried(t *testing.T) {
	path := mustPath(t, model.GeoPoint{Lon: 0, Lat: 0}, model.GeoPoint{Lon: 1, Lat: 0}, model.GeoPoint{Lon: 1, Lat: 1})
	m := NewPathMotionModel(path)
	v := activeVehicle(path, 0.75)

	m.Advance(testStart.Add(time.Second), v)
	m.Advance(testStart.Add(2*time.Second), v)
	if v.SegmentIndex != 1 || math.Abs(v.Progress-0.5) > 1e-12 {
		t.Fatalf("segment=%d progress=%v, want 1/0.5", v.SegmentIndex, v.Progress)
	}
	if !closeTo(v.Position, model.GeoPoint{Lon: 1, Lat: 0.5}, 1e-12) {
		t.Fatalf("position = %+v", v.Position)
	}
	if !closeTo(v.PreviousPosition, model.GeoPoint{Lon: 0.75, Lat: 0}, 1e-12) {
		t.Fatalf("previous position = %+v", v.PreviousPosition)
	}
}
