package domain

import "errors"

var (
	// ErrDiscoveryUnavailable is returned when a discovery service cannot be
	// reached. Callers may continue with the explicit devices.
	ErrDiscoveryUnavailable = errors.New("discovery unavailable")

	// ErrWorkspacePrepFailed aborts a run before anything is dispatched.
	ErrWorkspacePrepFailed = errors.New("workspace preparation failed")

	ErrDeviceExecutionFailed    = errors.New("device execution failed")
	ErrDeviceExecutionTimedOut  = errors.New("device execution timed out")
	ErrDeviceExecutionAbandoned = errors.New("device execution abandoned")

	// ErrOutcomeSealed is returned when recording into a sealed outcome.
	ErrOutcomeSealed = errors.New("aggregate outcome is sealed")
)
