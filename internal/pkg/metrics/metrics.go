package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "transitlive"

// Registry is the project registry served on /metrics.
var Registry = prometheus.NewRegistry()

var (
	// UplinkSamplesTotal counts capture outcomes.
	// result: captured/skipped/malformed/clear
	UplinkSamplesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uplink_samples_total",
			Help:      "Position captures by outcome.",
		},
		[]string{"result"},
	)

	// UplinkWritesTotal counts write outcomes.
	// result: delivered/queued/dropped/rejected/fatal/refreshed
	UplinkWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uplink_writes_total",
			Help:      "Vehicle location writes by outcome.",
		},
		[]string{"result"},
	)

	// QueueDepth is the number of tasks waiting in the offline queue.
	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uplink_queue_depth",
			Help:      "Tasks waiting in the offline queue.",
		},
	)

	// ConnectionPhase is 1 for the current phase of the live-update connection and 0 for the others.
	ConnectionPhase = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_phase",
			Help:      "Current phase of the live-update connection (1=current).",
		},
		[]string{"phase"},
	)

	// ConnectionTransitionsTotal counts lifecycle transitions by event.
	ConnectionTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_transitions_total",
			Help:      "Live-update connection transitions by event.",
		},
		[]string{"event"},
	)

	// ReconnectAttempts mirrors the attempt counter of the lifecycle manager.
	ReconnectAttempts = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_reconnect_attempts",
			Help:      "Reconnect attempts since the last successful connect.",
		},
	)

	// HeartbeatFailuresTotal counts failed heartbeats.
	HeartbeatFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_heartbeat_failures_total",
			Help:      "Failed liveness heartbeats.",
		},
	)

	// BackendConnectivityStatus records the gRPC channel state to the backend.
	// 1 = Ready, 0 = Not Ready (Idle, Connecting, TransientFailure)
	BackendConnectivityStatus = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backend_connectivity_status",
			Help:      "The connectivity status to the backend (1=Ready, 0=NotReady).",
		},
	)

	// BackendLatency records unary call latency by method.
	BackendLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_call_latency_seconds",
			Help:      "Latency of backend calls via gRPC.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "code"},
	)

	// FleetVehicles is the size of the canonical vehicle map.
	FleetVehicles = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "fleet_vehicles",
			Help:      "Vehicles in the canonical view.",
		},
	)

	// FleetEventsTotal counts applied change events.
	// result: synthesized/merged/removed/ignored/malformed
	FleetEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fleet_events_total",
			Help:      "Change events applied to the canonical view.",
		},
		[]string{"result"},
	)

	// FleetPollsTotal counts polling passes.
	// result: success/failed
	FleetPollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fleet_polls_total",
			Help:      "Full-state polling passes.",
		},
		[]string{"result"},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		UplinkSamplesTotal,
		UplinkWritesTotal,
		QueueDepth,
		ConnectionPhase,
		ConnectionTransitionsTotal,
		ReconnectAttempts,
		HeartbeatFailuresTotal,
		BackendConnectivityStatus,
		BackendLatency,
		FleetVehicles,
		FleetEventsTotal,
		FleetPollsTotal,
	)
}

// SetPhase marks phase as the current connection phase.
func SetPhase(phase string, all []string) {
	for _, p := range all {
		v := 0.0
		if p == phase {
			v = 1
		}
		ConnectionPhase.WithLabelValues(p).Set(v)
	}
}
