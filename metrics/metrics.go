package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "roleplay"

// Vehicles holds the vehicle subsystem's Prometheus collectors.
// A nil *Vehicles is valid and records nothing.
type Vehicles struct {
	created          prometheus.Counter
	spawns           prometheus.Counter
	parks            prometheus.Counter
	parkingPurchases prometheus.Counter
	lockToggles      prometheus.Counter
	rejections       *prometheus.CounterVec
	spawned          prometheus.Gauge
}

// NewVehicles registers the vehicle collectors on reg.
func NewVehicles(reg prometheus.Registerer) *Vehicles {
	f := promauto.With(reg)
	return &Vehicles{
		created: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "vehicle",
			Name: "created_total", Help: "Vehicles created.",
		}),
		spawns: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "vehicle",
			Name: "spawns_total", Help: "Vehicles spawned on request.",
		}),
		parks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "vehicle",
			Name: "parks_total", Help: "Vehicles parked.",
		}),
		parkingPurchases: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "vehicle",
			Name: "parking_purchases_total", Help: "Parking spots bought.",
		}),
		lockToggles: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "vehicle",
			Name: "lock_toggles_total", Help: "Door lock toggles.",
		}),
		rejections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "vehicle",
			Name: "rejections_total", Help: "Rejected vehicle requests by operation.",
		}, []string{"op"}),
		spawned: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "vehicle",
			Name: "spawned", Help: "Vehicles currently spawned.",
		}),
	}
}

func (m *Vehicles) Created() {
	if m != nil {
		m.created.Inc()
	}
}

// Spawned records a spawn. loaded is true for startup materialization.
func (m *Vehicles) Spawned(loaded bool) {
	if m == nil {
		return
	}
	if !loaded {
		m.spawns.Inc()
	}
	m.spawned.Inc()
}

// Despawned records a vehicle leaving the world. parked is false for destruction.
func (m *Vehicles) Despawned(parked bool) {
	if m == nil {
		return
	}
	if parked {
		m.parks.Inc()
	}
	m.spawned.Dec()
}

func (m *Vehicles) ParkingPurchased() {
	if m != nil {
		m.parkingPurchases.Inc()
	}
}

func (m *Vehicles) LockToggled() {
	if m != nil {
		m.lockToggles.Inc()
	}
}

func (m *Vehicles) Rejected(op string) {
	if m != nil {
		m.rejections.WithLabelValues(op).Inc()
	}
}

// RegisterServer exposes server-wide gauges read on every scrape.
func RegisterServer(reg prometheus.Registerer, online, weather func() int) {
	f := promauto.With(reg)
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace, Name: "sessions_online", Help: "Connected clients.",
	}, func() float64 { return float64(online()) })
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace, Name: "weather", Help: "Current weather id.",
	}, func() float64 { return float64(weather()) })
}
