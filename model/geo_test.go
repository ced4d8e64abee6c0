package model

import (
	"errors"
	"testing"
	"time"
)

func TestNewPathRejectsDegenerateInput(t *testing.T) {
	for _, pts := range [][]GeoPoint{nil, {}, {{Lon: 1, Lat: 2}}} {
		if _, err := NewPath(pts); !errors.Is(err, ErrDegeneratePath) {
			t.Fatalf("NewPath(%v) error = %v, want ErrDegeneratePath", pts, err)
		}
	}
}

func TestPathIsCyclicAndImmutable(t *testing.T) {
	pts := []GeoPoint{{Lon: 0, Lat: 0}, {Lon: 0, Lat: 1}, {Lon: 1, Lat: 1}}
	p, err := NewPath(pts)
	if err != nil {
		t.Fatalf("NewPath: %v", err)
	}

	pts[0] = GeoPoint{Lon: 99, Lat: 99}
	if got := p.At(0); got != (GeoPoint{}) {
		t.Fatalf("At(0) = %+v after caller mutation, want origin", got)
	}

	if got := p.At(3); got != p.At(0) {
		t.Fatalf("At(3) = %+v, want wrap to At(0)", got)
	}
	if got := p.At(-1); got != p.At(2) {
		t.Fatalf("At(-1) = %+v, want At(2)", got)
	}

	from, to := p.Segment(2)
	if from != p.At(2) || to != p.At(0) {
		t.Fatalf("Segment(2) = %+v -> %+v, want last -> first", from, to)
	}

	out := p.Points()
	out[1] = GeoPoint{Lon: 5, Lat: 5}
	if p.At(1) == out[1] {
		t.Fatalf("Points() must return a copy")
	}
}

func TestZeroPathHasNoWaypoints(t *testing.T) {
	var p Path
	if p.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", p.Len())
	}
	if got := p.At(3); got != (GeoPoint{}) {
		t.Fatalf("At(3) = %+v, want zero GeoPoint", got)
	}
	if from, to := p.Segment(0); from != (GeoPoint{}) || to != (GeoPoint{}) {
		t.Fatalf("Segment(0) = %+v, %+v; want zero points", from, to)
	}
	if pts := p.Points(); len(pts) != 0 {
		t.Fatalf("Points() = %v, want empty", pts)
	}
}

func TestVehicleDefinitionValidate(t *testing.T) {
	cases := []struct {
		name string
		def  VehicleDefinition
		ok   bool
	}{
		{"valid", VehicleDefinition{ID: "car-1", SpeedFactor: 0.005}, true},
		{"delayed", VehicleDefinition{ID: "car-2", SpeedFactor: 0.003, StartDelay: 4 * time.Second}, true},
		{"empty id", VehicleDefinition{SpeedFactor: 0.1}, false},
		{"zero speed", VehicleDefinition{ID: "x"}, false},
		{"speed one", VehicleDefinition{ID: "x", SpeedFactor: 1}, false},
		{"negative delay", VehicleDefinition{ID: "x", SpeedFactor: 0.1, StartDelay: -time.Second}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.def.Validate()
			if tc.ok && err != nil {
				t.Fatalf("Validate() = %v, want nil", err)
			}
			if !tc.ok && !errors.Is(err, ErrInvalidVehicle) {
				t.Fatalf("Validate() = %v, want ErrInvalidVehicle", err)
			}
		})
	}
}
