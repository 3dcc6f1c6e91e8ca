// Package metrics exposes the controller's Prometheus instrumentation,
// namespaced flowcontroller the way the teacher's scheduler metrics
// package namespaces its own counters and gauges per subsystem.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const (
	ControllerTag = "controller"
	ConnectionTag = "connection"
	ComponentTag  = "component"
	PoolTag       = "pool"
	StrategyTag   = "strategy"
)

var QueueObjectCountGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "flowcontroller",
	Subsystem: "queue",
	Name:      "object_count",
	Help:      "Current number of flow-files queued on a connection.",
}, []string{ControllerTag, ConnectionTag})

var QueueByteCountGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "flowcontroller",
	Subsystem: "queue",
	Name:      "byte_count",
	Help:      "Current bytes queued on a connection.",
}, []string{ControllerTag, ConnectionTag})

var QueueBackPressureCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "flowcontroller",
	Subsystem: "queue",
	Name:      "backpressure_events_total",
	Help:      "Number of times a connection's queue was observed full, suppressing a trigger.",
}, []string{ControllerTag, ConnectionTag})

var PoolWorkerCountGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "flowcontroller",
	Subsystem: "pool",
	Name:      "worker_count",
	Help:      "Configured worker count of a scheduling pool.",
}, []string{ControllerTag, PoolTag})

var PoolActiveJobsGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "flowcontroller",
	Subsystem: "pool",
	Name:      "active_jobs",
	Help:      "Number of component triggers currently executing in a pool.",
}, []string{ControllerTag, PoolTag})

var AgentTriggerCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "flowcontroller",
	Subsystem: "agent",
	Name:      "triggers_total",
	Help:      "Number of component triggers dispatched by a scheduling agent.",
}, []string{ControllerTag, ComponentTag, StrategyTag})

var AgentTriggerLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "flowcontroller",
	Subsystem: "agent",
	Name:      "trigger_latency_seconds",
	Help:      "Latency of a single component trigger.",
	Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 18),
}, []string{ControllerTag, ComponentTag})

var AgentPenalizedGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "flowcontroller",
	Subsystem: "agent",
	Name:      "penalized",
	Help:      "1 if the component is currently serving its penalisation period, else 0.",
}, []string{ControllerTag, ComponentTag})

var HeartbeatGeneratedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "flowcontroller",
	Subsystem: "heartbeat",
	Name:      "generated_total",
	Help:      "Number of heartbeat snapshots generated.",
}, []string{ControllerTag})

var HeartbeatSentCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "flowcontroller",
	Subsystem: "heartbeat",
	Name:      "sent_total",
	Help:      "Number of heartbeat snapshots successfully transmitted.",
}, []string{ControllerTag})

var HeartbeatDroppedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "flowcontroller",
	Subsystem: "heartbeat",
	Name:      "dropped_total",
	Help:      "Number of generated snapshots overwritten before being sent.",
}, []string{ControllerTag})

var HeartbeatSendLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "flowcontroller",
	Subsystem: "heartbeat",
	Name:      "send_latency_seconds",
	Help:      "Latency of transmitting a heartbeat through the node protocol sender.",
	Buckets:   prometheus.DefBuckets,
}, []string{ControllerTag})

func init() {
	prometheus.MustRegister(
		QueueObjectCountGauge,
		QueueByteCountGauge,
		QueueBackPressureCounter,
		PoolWorkerCountGauge,
		PoolActiveJobsGauge,
		AgentTriggerCounter,
		AgentTriggerLatency,
		AgentPenalizedGauge,
		HeartbeatGeneratedCounter,
		HeartbeatSentCounter,
		HeartbeatDroppedCounter,
		HeartbeatSendLatency,
	)
}
