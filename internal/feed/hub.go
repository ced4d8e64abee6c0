// Package feed exposes the simulated fleet to clients over HTTP, WebSocket
// and gRPC. All transports read from the owned fleet state and fan out tick
// events through a Hub.
package feed

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/signalsfoundry/vehicle-feed-simulator/core"
	"github.com/signalsfoundry/vehicle-feed-simulator/internal/logging"
)

const (
	// EventUpdate carries a core.Snapshot for one tick.
	EventUpdate = "location:update"
	// EventInit carries the []core.VehicleView a new subscriber starts from.
	EventInit = "location:init"

	// DefaultSubscriberBuffer is the per-subscriber event backlog.
	DefaultSubscriberBuffer = 16
)

// ErrHubClosed is returned by Subscribe after Close.
var ErrHubClosed = errors.New("feed hub closed")

// Event is one named message delivered to subscribers.
type Event struct {
	Name    string `json:"event"`
	Payload any    `json:"data"`
}

// UpdateEvent wraps a tick snapshot.
func UpdateEvent(s core.Snapshot) Event {
	return Event{Name: EventUpdate, Payload: s}
}

// InitEvent wraps the late-joiner frame.
func InitEvent(views []core.VehicleView) Event {
	if views == nil {
		views = []core.VehicleView{}
	}
	return Event{Name: EventInit, Payload: views}
}

// HubMetrics receives fan-out accounting. *observability.FeedCollector
// satisfies it.
type HubMetrics interface {
	SetSubscribers(n int)
	EventPublished(event string)
	EventDropped(event string)
}

// Subscription is a single consumer's view of the hub. Events arrive on C
// until the subscription is closed, after which C is closed.
type Subscription struct {
	ID string
	C  <-chan Event

	ch   chan Event
	done chan struct{}
	hub  *Hub
	once sync.Once
}

// release closes the event channel and signals done. Callers hold the hub lock.
func (s *Subscription) release() {
	s.once.Do(func() {
		close(s.ch)
		close(s.done)
	})
}

// Close detaches the subscription from its hub. Safe to call repeatedly.
func (s *Subscription) Close() {
	if s == nil || s.hub == nil {
		return
	}
	s.hub.Unsubscribe(s.ID)
}

// Hub fans events out to any number of subscribers. Publish never blocks:
// a subscriber whose buffer is full misses that event.
type Hub struct {
	mu      sync.RWMutex
	subs    map[string]*Subscription
	closed  bool
	buffer  int
	metrics HubMetrics
	log     logging.Logger
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithSubscriberBuffer sets the per-subscriber channel capacity.
func WithSubscriberBuffer(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// WithHubMetrics attaches fan-out accounting.
func WithHubMetrics(m HubMetrics) HubOption {
	return func(h *Hub) {
		h.metrics = m
	}
}

// NewHub constructs an empty Hub.
func NewHub(log logging.Logger, opts ...HubOption) *Hub {
	if log == nil {
		log = logging.Noop()
	}
	h := &Hub{
		subs:   make(map[string]*Subscription),
		buffer: DefaultSubscriberBuffer,
		log:    log,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscribe registers a new subscriber. The initial events are queued ahead
// of any published event, so a late joiner always sees them first. The
// subscription is closed automatically when ctx is done; the watcher for ctx
// exits as soon as the subscription ends by any path.
func (h *Hub) Subscribe(ctx context.Context, initial ...Event) (*Subscription, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	size := h.buffer
	if len(initial) > size {
		size = len(initial)
	}
	ch := make(chan Event, size)
	for _, ev := range initial {
		ch <- ev
	}
	sub := &Subscription{
		ID:  uuid.NewString(),
		C:    ch,
		ch:   ch,
		done: make(chan struct{}),
		hub:  h,
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrHubClosed
	}
	h.subs[sub.ID] = sub
	n := len(h.subs)
	h.mu.Unlock()

	h.reportSubscribers(n)
	h.log.Debug(ctx, "feed subscriber added",
		logging.String("subscriber_id", sub.ID),
		logging.Int("subscribers", n),
	)

	if ctxDone := ctx.Done(); ctxDone != nil {
		go func() {
			select {
			case <-ctxDone:
				sub.Close()
			case <-sub.done:
			}
		}()
	}
	return sub, nil
}

// Unsubscribe removes the subscriber with id and closes its channel.
// Unknown ids are ignored.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	sub, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
		sub.release()
	}
	n := len(h.subs)
	h.mu.Unlock()

	if ok {
		h.reportSubscribers(n)
		h.log.Debug(context.Background(), "feed subscriber removed",
			logging.String("subscriber_id", id),
			logging.Int("subscribers", n),
		)
	}
}

// Publish offers ev to every subscriber and returns how many accepted it.
func (h *Hub) Publish(ev Event) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for _, sub := range h.subs {
		select {
		case sub.ch <- ev:
			delivered++
			if h.metrics != nil {
				h.metrics.EventPublished(ev.Name)
			}
		default:
			if h.metrics != nil {
				h.metrics.EventDropped(ev.Name)
			}
		}
	}
	return delivered
}

// PublishSnapshot is a tick listener that broadcasts s as an update event.
func (h *Hub) PublishSnapshot(s core.Snapshot) {
	h.Publish(UpdateEvent(s))
}

// Count returns the number of live subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close detaches every subscriber and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	for id, sub := range h.subs {
		delete(h.subs, id)
		sub.release()
	}
	h.mu.Unlock()
	h.reportSubscribers(0)
}

func (h *Hub) reportSubscribers(n int) {
	if h.metrics != nil {
		h.metrics.SetSubscribers(n)
	}
}
