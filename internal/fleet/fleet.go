// Package fleet holds the static loop path and vehicle roster the simulator
// starts with.
package fleet

import (
	"time"

	"github.com/signalsfoundry/vehicle-feed-simulator/kb"
	"github.com/signalsfoundry/vehicle-feed-simulator/model"
)

// loopWaypoints is a short closed circuit; the last point leads back to the
// first.
var loopWaypoints = []model.GeoPoint{
	{Lon: 101.119146, Lat: 12.688903},
	{Lon: 101.118602, Lat: 12.689261},
	{Lon: 101.1177763, Lat: 12.6895659},
	{Lon: 101.1182391, Lat: 12.690386515},
	{Lon: 101.119258, Lat: 12.689816},
	{Lon: 101.118836, Lat: 12.68912555},
	{Lon: 101.1191712, Lat: 12.688914},
}

var defaultVehicles = []model.VehicleDefinition{
	{
		ID:          "car-1",
		Name:        "Tesla Model Y",
		Driver:      "Fang",
		SpeedFactor: 0.005,
	},
	{
		ID:          "car-2",
		Name:        "Toyota Corolla",
		Driver:      "Pang",
		SpeedFactor: 0.003,
		StartDelay:  4 * time.Second,
	},
}

// DefaultPath returns the shared loop.
func DefaultPath() (*model.Path, error) {
	return model.NewPath(loopWaypoints)
}

// LoadDefaults registers the default roster in store.
func LoadDefaults(store *kb.KnowledgeBase) error {
	for _, def := range defaultVehicles {
		if err := store.AddVehicle(def); err != nil {
			return err
		}
	}
	return nil
}
