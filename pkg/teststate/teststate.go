// Package teststate holds the lifecycle vocabulary shared by the dispatcher,
// the supervisor, and the control-plane surface.
package teststate

import (
	"time"

	"github.com/eventstack/maestro/pkg/fault"
)

// State is the position of one test in its lifecycle.
type State string

const (
	Setup     State = "Setup"
	Loading   State = "Loading"
	Loaded    State = "Loaded"
	Executing State = "Executing"
	Completed State = "Completed"
	Failed    State = "Failed"
	Cancelled State = "Cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == Completed || s == Failed || s == Cancelled
}

// Live reports whether the test still has a running supervisor.
func (s State) Live() bool {
	return s == Loading || s == Loaded || s == Executing
}

// Outcome summarizes a terminal test.
type Outcome string

const (
	OutcomePassed    Outcome = "passed"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

// Status is the externally visible snapshot of one test.
type Status struct {
	TestID    string     `json:"testId"`
	State     State      `json:"state"`
	BucketRef string     `json:"bucketRef,omitempty"`
	TestType  string     `json:"testType,omitempty"`
	StartedAt *time.Time `json:"startedAt,omitempty"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`
	Outcome   Outcome    `json:"outcome,omitempty"`

	ErrorKind    fault.Kind `json:"errorKind,omitempty"`
	ErrorMessage string     `json:"errorMessage,omitempty"`

	ScenarioCount int `json:"scenarioCount,omitempty"`
	PassedCount   int `json:"passedCount,omitempty"`
	FailedCount   int `json:"failedCount,omitempty"`
}

// QueueStatus is the dispatcher-wide snapshot.
type QueueStatus struct {
	Counts    map[State]int `json:"counts"`
	Executing string        `json:"executing,omitempty"`
}
