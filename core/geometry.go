package core

import (
	"math"

	"github.com/signalsfoundry/vehicle-feed-simulator/model"
)

// EarthRadiusMeters is the mean Earth radius used for haversine distances.
const EarthRadiusMeters = 6371000.0

// BearingDegrees returns the compass bearing from one point toward another,
// clockwise from north, in [0, 360).
//
// The bearing is taken on the planar lon/lat delta, which is close enough
// for the short segments of a road loop. Identical points yield 0.
func BearingDegrees(from, to model.GeoPoint) float64 {
	dx := to.Lon - from.Lon
	dy := to.Lat - from.Lat

	// atan2(dx, dy) measures from north rather than from east.
	deg := math.Atan2(dx, dy) * 180.0 / math.Pi
	if deg < 0 {
		deg += 360
	}
	if deg >= 360 {
		deg = 0
	}
	return deg
}

// DistanceMeters returns the great-circle distance between two points using
// the haversine formula.
func DistanceMeters(p1, p2 model.GeoPoint) float64 {
	dLat := toRad(p2.Lat - p1.Lat)
	dLon := toRad(p2.Lon - p1.Lon)
	lat1 := toRad(p1.Lat)
	lat2 := toRad(p2.Lat)

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)
	a := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLon*sinLon
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusMeters * c
}

// Lerp linearly interpolates between a and b.
func Lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

// InterpolatePoint returns the point a fraction t of the way from p1 to p2.
func InterpolatePoint(p1, p2 model.GeoPoint, t float64) model.GeoPoint {
	return model.GeoPoint{
		Lon: Lerp(p1.Lon, p2.Lon, t),
		Lat: Lerp(p1.Lat, p2.Lat, t),
	}
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180.0
}
