// Package metrics provides internal Prometheus metrics collection for the
// orchestrator: execution outcomes, handoffs, worker turns, loop-guard
// trips, interrupts, and capability invocations.
// This package is internal and should not be imported by external projects.
package metrics
