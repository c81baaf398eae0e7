package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector aggregates the orchestrator's Prometheus metrics.
type Collector struct {
	// Execution metrics
	executionsTotal   *prometheus.CounterVec
	executionDuration *prometheus.HistogramVec
	executionsActive  prometheus.Gauge

	// Turn metrics
	turnsTotal   *prometheus.CounterVec
	turnDuration *prometheus.HistogramVec

	// Handoff metrics
	handoffsTotal  *prometheus.CounterVec
	loopGuardTrips *prometheus.CounterVec

	// Human-in-the-loop metrics
	interruptsTotal *prometheus.CounterVec

	// Capability metrics
	capabilityCalls    *prometheus.CounterVec
	capabilityDuration *prometheus.HistogramVec
	sandboxViolations  prometheus.Counter

	logger *zap.Logger
}

// NewCollector creates a Collector registering its metrics with the given
// registerer. A nil registerer uses the Prometheus default.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// Execution metrics
	c.executionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Total number of finished executions by terminal status",
		},
		[]string{"status"},
	)

	c.executionDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_seconds",
			Help:      "Wall-clock execution duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		},
		[]string{"status"},
	)

	c.executionsActive = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "executions_active",
			Help:      "Number of executions currently running",
		},
	)

	// Turn metrics
	c.turnsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Total number of worker turns by result",
		},
		[]string{"worker", "result"},
	)

	c.turnDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Worker turn duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"worker"},
	)

	// Handoff metrics
	c.handoffsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handoffs_total",
			Help:      "Total number of handoffs between workers",
		},
		[]string{"from", "to"},
	)

	c.loopGuardTrips = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loop_guard_trips_total",
			Help:      "Executions aborted by the loop guard, by trip kind",
		},
		[]string{"kind"},
	)

	// Human-in-the-loop metrics
	c.interruptsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interrupts_total",
			Help:      "Suspension and resumption events",
		},
		[]string{"event"},
	)

	// Capability metrics
	c.capabilityCalls = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capability_calls_total",
			Help:      "Capability invocations by name and status",
		},
		[]string{"capability", "status"},
	)

	c.capabilityDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "capability_duration_seconds",
			Help:      "Capability invocation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"capability"},
	)

	c.sandboxViolations = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sandbox_violations_total",
			Help:      "Dynamic capabilities discarded for sandbox violations",
		},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// RecordExecutionStarted increments the active-execution gauge. Call it on
// submit and on resume.
func (c *Collector) RecordExecutionStarted() {
	c.executionsActive.Inc()
}

// RecordExecutionStopped decrements the active-execution gauge. Call it
// whenever the coordinator loop exits, including on suspension.
func (c *Collector) RecordExecutionStopped() {
	c.executionsActive.Dec()
}

// RecordExecutionFinished records a terminal execution outcome.
func (c *Collector) RecordExecutionFinished(status string, duration time.Duration) {
	c.executionsTotal.WithLabelValues(status).Inc()
	c.executionDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordTurn records one worker turn.
func (c *Collector) RecordTurn(worker, result string, duration time.Duration) {
	c.turnsTotal.WithLabelValues(worker, result).Inc()
	c.turnDuration.WithLabelValues(worker).Observe(duration.Seconds())
}

// RecordHandoff records a handoff from one worker to another.
func (c *Collector) RecordHandoff(from, to string) {
	c.handoffsTotal.WithLabelValues(from, to).Inc()
}

// RecordLoopGuardTrip records an execution aborted by the loop guard.
func (c *Collector) RecordLoopGuardTrip(kind string) {
	c.loopGuardTrips.WithLabelValues(kind).Inc()
}

// RecordInterrupt records a suspension or resumption event.
func (c *Collector) RecordInterrupt(event string) {
	c.interruptsTotal.WithLabelValues(event).Inc()
}

// RecordCapabilityCall records a capability invocation.
func (c *Collector) RecordCapabilityCall(capability, status string, duration time.Duration) {
	c.capabilityCalls.WithLabelValues(capability, status).Inc()
	c.capabilityDuration.WithLabelValues(capability).Observe(duration.Seconds())
}

// RecordSandboxViolation records a dynamic capability discarded for
// violating the sandbox.
func (c *Collector) RecordSandboxViolation() {
	c.sandboxViolations.Inc()
}
