package core

import (
	"math"
	"time"
)

const mpsToKmh = 3.6

// VehicleView is the rounded, externally visible projection of a Vehicle.
type VehicleView struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Driver  string  `json:"driver"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	Heading int     `json:"heading"`
	Speed   float64 `json:"speed"` // km/h
}

// Snapshot is the payload broadcast to subscribers on every tick.
type Snapshot struct {
	Timestamp int64         `json:"timestamp"` // epoch milliseconds
	Cars      []VehicleView `json:"cars"`
}

// Serialize projects vehicles into a Snapshot stamped with ts.
func Serialize(ts time.Time, vehicles []Vehicle) Snapshot {
	return Snapshot{
		Timestamp: ts.UnixMilli(),
		Cars:      Views(vehicles),
	}
}

// Views projects each vehicle into its wire representation. The result is
// never nil so it encodes as an empty JSON array.
func Views(vehicles []Vehicle) []VehicleView {
	out := make([]VehicleView, 0, len(vehicles))
	for i := range vehicles {
		out = append(out, View(&vehicles[i]))
	}
	return out
}

// View projects a single vehicle: coordinates to 6 decimals, heading to whole
// degrees, speed to km/h with 1 decimal. Missing heading or speed become 0.
func View(v *Vehicle) VehicleView {
	heading := 0
	if v.Heading != nil {
		heading = int(math.Round(*v.Heading)) % 360
	}
	speed := 0.0
	if v.SpeedMps != nil {
		speed = roundTo(*v.SpeedMps*mpsToKmh, 1)
	}
	return VehicleView{
		ID:      v.ID,
		Name:    v.Name,
		Driver:  v.Driver,
		Lat:     roundTo(v.Position.Lat, 6),
		Lon:     roundTo(v.Position.Lon, 6),
		Heading: heading,
		Speed:   speed,
	}
}

func roundTo(x float64, digits int) float64 {
	scale := math.Pow(10, float64(digits))
	return math.Round(x*scale) / scale
}
