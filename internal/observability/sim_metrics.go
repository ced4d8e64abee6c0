package observability

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SimCollector exposes simulation-loop Prometheus metrics. It satisfies
// state.SimMetricsRecorder.
type SimCollector struct {
	gatherer prometheus.Gatherer

	TicksTotal     prometheus.Counter
	TickDuration   prometheus.Histogram
	ActiveVehicles prometheus.Gauge
	VehicleSpeed   *prometheus.GaugeVec
}

// NewSimCollector registers simulation metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewSimCollector(reg prometheus.Registerer) (*SimCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	ticks, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sim_ticks_total",
		Help: "Number of simulation ticks applied to the fleet.",
	}), "sim_ticks_total")
	if err != nil {
		return nil, err
	}

	tickHistogram, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sim_tick_duration_seconds",
		Help:    "Time spent advancing and serializing the fleet per tick.",
		Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
	}), "sim_tick_duration_seconds")
	if err != nil {
		return nil, err
	}

	active, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sim_active_vehicles",
		Help: "Number of vehicles that have passed their start delay.",
	}), "sim_active_vehicles")
	if err != nil {
		return nil, err
	}

	speed, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sim_vehicle_speed_kmh",
		Help: "Last published speed per vehicle in km/h.",
	}, []string{"vehicle_id"}), "sim_vehicle_speed_kmh")
	if err != nil {
		return nil, err
	}

	return &SimCollector{
		gatherer:       gatherer,
		TicksTotal:     ticks,
		TickDuration:   tickHistogram,
		ActiveVehicles: active,
		VehicleSpeed:   speed,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *SimCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// ObserveTick records one tick's duration and the active vehicle count.
func (c *SimCollector) ObserveTick(d time.Duration, activeVehicles int) {
	if c == nil {
		return
	}
	if c.TicksTotal != nil {
		c.TicksTotal.Inc()
	}
	if c.TickDuration != nil {
		c.TickDuration.Observe(d.Seconds())
	}
	if c.ActiveVehicles != nil {
		c.ActiveVehicles.Set(float64(activeVehicles))
	}
}

// SetVehicleSpeed updates the per-vehicle speed gauge.
func (c *SimCollector) SetVehicleSpeed(vehicleID string, kmh float64) {
	if c == nil || c.VehicleSpeed == nil {
		return
	}
	c.VehicleSpeed.WithLabelValues(vehicleID).Set(kmh)
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}
