package kb

import (
	"errors"
	"fmt"
	"sync"

	"github.com/signalsfoundry/vehicle-feed-simulator/model"
)

var (
	// ErrVehicleExists indicates a vehicle with the same ID is already registered.
	ErrVehicleExists = errors.New("vehicle already exists")
	// ErrVehicleNotFound indicates a requested vehicle is not registered.
	ErrVehicleNotFound = errors.New("vehicle not found")
)

// EventType indicates what kind of change happened in the KB.
type EventType int

const (
	EventVehicleAdded EventType = iota
)

// Event is emitted to subscribers when something interesting happens.
type Event struct {
	Type    EventType
	Vehicle model.VehicleDefinition
}

// KnowledgeBase is an in-memory, thread-safe catalog of vehicle definitions.
// It keeps registration order so the fleet is built deterministically.
type KnowledgeBase struct {
	mu sync.RWMutex

	vehicles map[string]model.VehicleDefinition
	order    []string

	nextSub int
	subs    map[int]func(Event)
}

// NewKnowledgeBase constructs an empty KB.
func NewKnowledgeBase() *KnowledgeBase {
	return &KnowledgeBase{
		vehicles: make(map[string]model.VehicleDefinition),
		subs:     make(map[int]func(Event)),
	}
}

// AddVehicle validates and registers a definition.
func (kb *KnowledgeBase) AddVehicle(def model.VehicleDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}

	kb.mu.Lock()
	if _, exists := kb.vehicles[def.ID]; exists {
		kb.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrVehicleExists, def.ID)
	}
	kb.vehicles[def.ID] = def
	kb.order = append(kb.order, def.ID)
	subs := kb.subscribersLocked()
	kb.mu.Unlock()

	// Notify subscribers outside the lock to avoid deadlocks.
	event := Event{Type: EventVehicleAdded, Vehicle: def}
	for _, sub := range subs {
		sub(event)
	}
	return nil
}

// GetVehicle returns the definition registered under id.
func (kb *KnowledgeBase) GetVehicle(id string) (model.VehicleDefinition, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	def, ok := kb.vehicles[id]
	if !ok {
		return model.VehicleDefinition{}, fmt.Errorf("%w: %q", ErrVehicleNotFound, id)
	}
	return def, nil
}

// ListVehicles returns all definitions in registration order.
func (kb *KnowledgeBase) ListVehicles() []model.VehicleDefinition {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	res := make([]model.VehicleDefinition, 0, len(kb.order))
	for _, id := range kb.order {
		res = append(res, kb.vehicles[id])
	}
	return res
}

// Len returns the number of registered vehicles.
func (kb *KnowledgeBase) Len() int {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return len(kb.order)
}

// Subscribe registers a callback for KB events. It returns an unsubscribe function.
func (kb *KnowledgeBase) Subscribe(fn func(Event)) (unsubscribe func()) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	id := kb.nextSub
	kb.nextSub++
	kb.subs[id] = fn

	return func() {
		kb.mu.Lock()
		defer kb.mu.Unlock()
		delete(kb.subs, id)
	}
}

func (kb *KnowledgeBase) subscribersLocked() []func(Event) {
	subs := make([]func(Event), 0, len(kb.subs))
	for i := 0; i < kb.nextSub; i++ {
		if fn, ok := kb.subs[i]; ok {
			subs = append(subs, fn)
		}
	}
	return subs
}
