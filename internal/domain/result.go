package domain

import (
	"fmt"
	"time"
)

// Status is the verdict of one device execution.
type Status string

const (
	StatusPassed    Status = "passed"
	StatusFailed    Status = "failed"
	StatusTimedOut  Status = "timed_out"
	StatusAbandoned Status = "abandoned"
)

// Succeeded reports whether the status counts as a success.
func (s Status) Succeeded() bool { return s == StatusPassed }

// FailureKind classifies why a device execution did not pass.
type FailureKind string

const (
	FailureExecution FailureKind = "execution_failed"
	FailureTimeout   FailureKind = "timed_out"
	FailureAbandoned FailureKind = "abandoned"
)

// Failure is the typed cause attached to a failed ExecutionResult.
type Failure struct {
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

// Unwrap maps the failure onto the error taxonomy so errors.Is works.
func (f *Failure) Unwrap() error {
	switch f.Kind {
	case FailureTimeout:
		return ErrDeviceExecutionTimedOut
	case FailureAbandoned:
		return ErrDeviceExecutionAbandoned
	default:
		return ErrDeviceExecutionFailed
	}
}

// TestStatus is the verdict of a single test method.
type TestStatus string

const (
	TestPassed            TestStatus = "passed"
	TestFailed            TestStatus = "failed"
	TestErrored           TestStatus = "error"
	TestIgnored           TestStatus = "ignored"
	TestAssumptionFailure TestStatus = "assumption_failure"
)

// TestCase is one instrumented test reported by a device.
type TestCase struct {
	Class  string     `json:"class"`
	Method string     `json:"method"`
	Status TestStatus `json:"status"`
	Trace  string     `json:"trace,omitempty"`
}

// Failed reports whether the test counts against the device verdict.
func (t TestCase) Failed() bool {
	return t.Status == TestFailed || t.Status == TestErrored
}

// ExecutionResult is the outcome of running the suite on one device.
type ExecutionResult struct {
	Device     Device        `json:"device"`
	Status     Status        `json:"status"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   time.Duration `json:"duration"`
	Tests      []TestCase    `json:"tests,omitempty"`
	Artifacts  []string      `json:"artifacts,omitempty"`
	Logs       []string      `json:"logs,omitempty"`
	Failure    *Failure      `json:"failure,omitempty"`
}

// Err returns the failure as an error, or nil for a passing result.
func (r ExecutionResult) Err() error {
	if r.Failure == nil {
		return nil
	}
	return r.Failure
}

// FailedResult builds a result for a device that did not pass.
func FailedResult(d Device, kind FailureKind, msg string) ExecutionResult {
	status := StatusFailed
	switch kind {
	case FailureTimeout:
		status = StatusTimedOut
	case FailureAbandoned:
		status = StatusAbandoned
	}
	return ExecutionResult{
		Device:  d,
		Status:  status,
		Failure: &Failure{Kind: kind, Message: msg},
	}
}
