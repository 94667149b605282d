package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains every metric the control plane, transport and event
// loop packages emit.
type Metrics struct {
	// Manager / state machine
	ServiceStatus     *prometheus.GaugeVec
	StateTransitions  *prometheus.CounterVec
	EntitiesByState   *prometheus.GaugeVec
	HealthCheckStatus *prometheus.GaugeVec

	// Receive pipeline
	FramesReceived    *prometheus.CounterVec
	FramesDecoded     *prometheus.CounterVec
	FramesDropped     *prometheus.CounterVec
	DataSetsDelivered *prometheus.CounterVec
	PipelineDuration  *prometheus.HistogramVec
	ErrorsTotal       *prometheus.CounterVec

	// Security
	DecryptFailures   *prometheus.CounterVec
	KeyRolloversTotal *prometheus.CounterVec

	// Event loop
	EventLoopCallbacks prometheus.Gauge
	EventLoopLatency   prometheus.Histogram
}

// NewMetrics creates a new Metrics instance with every control-plane metric.
func NewMetrics() *Metrics {
	return &Metrics{
		ServiceStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "pubsub",
				Subsystem: "manager",
				Name:      "status",
				Help:      "Manager status (0=stopped, 1=running)",
			},
			[]string{"manager"},
		),

		StateTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pubsub",
				Subsystem: "state",
				Name:      "transitions_total",
				Help:      "Total state transitions by entity kind, from-state and to-state",
			},
			[]string{"entity", "from", "to"},
		),

		EntitiesByState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "pubsub",
				Subsystem: "state",
				Name:      "entities",
				Help:      "Current number of entities in each state, by entity kind",
			},
			[]string{"entity", "state"},
		),

		HealthCheckStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "pubsub",
				Subsystem: "health",
				Name:      "status",
				Help:      "Health check status (0=unhealthy, 1=healthy)",
			},
			[]string{"service"},
		),

		FramesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pubsub",
				Subsystem: "pipeline",
				Name:      "frames_received_total",
				Help:      "Total raw datagrams/frames received per connection",
			},
			[]string{"connection"},
		),

		FramesDecoded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pubsub",
				Subsystem: "pipeline",
				Name:      "frames_decoded_total",
				Help:      "Total NetworkMessage headers decoded successfully",
			},
			[]string{"connection"},
		),

		FramesDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pubsub",
				Subsystem: "pipeline",
				Name:      "frames_dropped_total",
				Help:      "Total frames dropped, by reason",
			},
			[]string{"connection", "reason"},
		),

		DataSetsDelivered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pubsub",
				Subsystem: "pipeline",
				Name:      "datasets_delivered_total",
				Help:      "Total DataSetMessages delivered to a DataSetReader callback",
			},
			[]string{"reader", "path"},
		),

		PipelineDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "pubsub",
				Subsystem: "pipeline",
				Name:      "stage_duration_seconds",
				Help:      "Receive pipeline stage duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"stage"},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pubsub",
				Subsystem: "errors",
				Name:      "total",
				Help:      "Total errors by component and kind",
			},
			[]string{"component", "kind"},
		),

		DecryptFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pubsub",
				Subsystem: "security",
				Name:      "decrypt_failures_total",
				Help:      "Total message decrypt/verify failures by reader group",
			},
			[]string{"readergroup"},
		),

		KeyRolloversTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pubsub",
				Subsystem: "security",
				Name:      "key_rollovers_total",
				Help:      "Total security key rollovers applied, by security group",
			},
			[]string{"securitygroup"},
		),

		EventLoopCallbacks: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "pubsub",
				Subsystem: "eventloop",
				Name:      "registered_callbacks",
				Help:      "Number of cyclic callbacks currently registered",
			},
		),

		EventLoopLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "pubsub",
				Subsystem: "eventloop",
				Name:      "iteration_latency_seconds",
				Help:      "Time a dispatched callback took to run",
				Buckets:   prometheus.DefBuckets,
			},
		),
	}
}

// RecordServiceStatus updates the manager status gauge.
func (c *Metrics) RecordServiceStatus(manager string, running bool) {
	value := 0.0
	if running {
		value = 1.0
	}
	c.ServiceStatus.WithLabelValues(manager).Set(value)
}

// RecordStateTransition records one state transition for an entity kind.
func (c *Metrics) RecordStateTransition(entity, from, to string) {
	c.StateTransitions.WithLabelValues(entity, from, to).Inc()
}

// SetEntitiesInState sets the current gauge for entities of a kind sitting in a state.
func (c *Metrics) SetEntitiesInState(entity, state string, count int) {
	c.EntitiesByState.WithLabelValues(entity, state).Set(float64(count))
}

// RecordHealthStatus updates health check status.
func (c *Metrics) RecordHealthStatus(service string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	c.HealthCheckStatus.WithLabelValues(service).Set(value)
}

// RecordFrameReceived increments the raw frame counter for a connection.
func (c *Metrics) RecordFrameReceived(connection string) {
	c.FramesReceived.WithLabelValues(connection).Inc()
}

// RecordFrameDecoded increments the decoded frame counter for a connection.
func (c *Metrics) RecordFrameDecoded(connection string) {
	c.FramesDecoded.WithLabelValues(connection).Inc()
}

// RecordFrameDropped increments the dropped frame counter with a reason.
func (c *Metrics) RecordFrameDropped(connection, reason string) {
	c.FramesDropped.WithLabelValues(connection, reason).Inc()
}

// RecordDataSetDelivered increments the delivered DataSetMessage counter for a reader.
func (c *Metrics) RecordDataSetDelivered(reader, path string) {
	c.DataSetsDelivered.WithLabelValues(reader, path).Inc()
}

// RecordPipelineStage records how long a pipeline stage took.
func (c *Metrics) RecordPipelineStage(stage string, duration time.Duration) {
	c.PipelineDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordError increments the error counter for a component/kind pair.
func (c *Metrics) RecordError(component, kind string) {
	c.ErrorsTotal.WithLabelValues(component, kind).Inc()
}

// RecordDecryptFailure increments the decrypt-failure counter for a reader group.
func (c *Metrics) RecordDecryptFailure(readerGroup string) {
	c.DecryptFailures.WithLabelValues(readerGroup).Inc()
}

// RecordKeyRollover increments the key-rollover counter for a security group.
func (c *Metrics) RecordKeyRollover(securityGroup string) {
	c.KeyRolloversTotal.WithLabelValues(securityGroup).Inc()
}

// SetEventLoopCallbacks sets the currently-registered callback count.
func (c *Metrics) SetEventLoopCallbacks(count int) {
	c.EventLoopCallbacks.Set(float64(count))
}

// RecordEventLoopLatency records how long one dispatched callback ran.
func (c *Metrics) RecordEventLoopLatency(d time.Duration) {
	c.EventLoopLatency.Observe(d.Seconds())
}
