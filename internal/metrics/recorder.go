// Package metrics defines the observability hooks of the scheduler and its
// engines. Components receive a Recorder by injection and default to
// NoopRecorder, so no call site needs a nil check.
package metrics

import "time"

// Outcome labels the terminal result of a step or an execution.
type Outcome string

const (
	OutcomeReturn   Outcome = "return"
	OutcomeThrow    Outcome = "throw"
	OutcomeNoop     Outcome = "noop"
	OutcomeWait     Outcome = "wait"
	OutcomeCanceled Outcome = "canceled"
)

// Recorder receives scheduler and engine measurements.
type Recorder interface {
	ObserveStep(outcome Outcome, d time.Duration)
	ObserveWavefront(engine string, size int)
	ObserveExecution(engine string, outcome Outcome, d time.Duration)
	IncCacheLookup(hit bool)
	SetGraphNodes(n int)
}

// NoopRecorder is a Recorder that does nothing (default when metrics are not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveStep(Outcome, time.Duration)              {}
func (NoopRecorder) ObserveWavefront(string, int)                    {}
func (NoopRecorder) ObserveExecution(string, Outcome, time.Duration) {}
func (NoopRecorder) IncCacheLookup(bool)                             {}
func (NoopRecorder) SetGraphNodes(int)                               {}
