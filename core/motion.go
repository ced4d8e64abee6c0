package core

import (
	"time"

	"github.com/signalsfoundry/vehicle-feed-simulator/model"
)

// MotionModel advances a vehicle's state for a given tick time.
type MotionModel interface {
	Advance(now time.Time, v *Vehicle)
}

// PathMotionModel moves vehicles along a shared cyclic path, covering
// SpeedFactor of a segment per tick.
type PathMotionModel struct {
	path *model.Path
}

// NewPathMotionModel constructs a motion model bound to path.
func NewPathMotionModel(path *model.Path) *PathMotionModel {
	return &PathMotionModel{path: path}
}

// Path returns the path the model follows.
func (m *PathMotionModel) Path() *model.Path {
	return m.path
}

// Advance moves an active vehicle one tick along the path and recomputes
// its position, heading and speed. Inactive vehicles are left untouched.
//
// SpeedFactor is assumed to be below 1, so at most one waypoint is crossed
// per tick. The overshoot past a waypoint is carried into the next segment.
func (m *PathMotionModel) Advance(now time.Time, v *Vehicle) {
	if !v.Active {
		return
	}

	v.Progress += v.SpeedFactor
	if v.Progress >= 1 {
		v.Progress--
		v.SegmentIndex = (v.SegmentIndex + 1) % m.path.Len()
	}

	p1, p2 := m.path.Segment(v.SegmentIndex)

	v.PreviousPosition = v.Position
	v.Position = InterpolatePoint(p1, p2, v.Progress)

	// Heading follows the segment, not the sub-step vector.
	heading := BearingDegrees(p1, p2)
	v.Heading = &heading

	// A non-positive interval (clock step, duplicate tick) keeps the last speed.
	if dt := now.Sub(v.LastUpdate).Seconds(); dt > 0 {
		speed := DistanceMeters(v.PreviousPosition, v.Position) / dt
		v.SpeedMps = &speed
	}

	v.LastUpdate = now
}
