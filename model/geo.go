package model

import (
	"errors"
	"fmt"
)

// ErrDegeneratePath is returned when a path has too few waypoints to form a
// segment.
var ErrDegeneratePath = errors.New("path needs at least 2 waypoints")

// GeoPoint is a geographic position in decimal degrees.
type GeoPoint struct {
	Lon float64 `json:"lon"`
	Lat float64 `json:"lat"`
}

// Path is an ordered, cyclic sequence of waypoints shared by every vehicle.
// The last waypoint connects back to the first. A Path is never mutated
// after NewPath returns. Construct one with NewPath; the zero Path has no
// waypoints.
type Path struct {
	points []GeoPoint
}

// NewPath copies points into a new Path.
func NewPath(points []GeoPoint) (*Path, error) {
	if len(points) < 2 {
		return nil, fmt.Errorf("%w: got %d", ErrDegeneratePath, len(points))
	}
	cp := make([]GeoPoint, len(points))
	copy(cp, points)
	return &Path{points: cp}, nil
}

// Len returns the number of waypoints (and therefore segments).
func (p *Path) Len() int {
	return len(p.points)
}

// At returns waypoint i, wrapping around in both directions. A Path without
// waypoints yields the zero GeoPoint.
func (p *Path) At(i int) GeoPoint {
	n := len(p.points)
	if n == 0 {
		return GeoPoint{}
	}
	i %= n
	if i < 0 {
		i += n
	}
	return p.points[i]
}

// Segment returns the endpoints of segment i: waypoint i and waypoint i+1.
func (p *Path) Segment(i int) (from, to GeoPoint) {
	return p.At(i), p.At(i + 1)
}

// Points returns a copy of the waypoints.
func (p *Path) Points() []GeoPoint {
	cp := make([]GeoPoint, len(p.points))
	copy(cp, p.points)
	return cp
}
