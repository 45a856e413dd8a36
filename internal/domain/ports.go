package domain

import "context"

// Executor runs the suite on one device. Implementations must honour ctx
// cancellation; the orchestrator stops waiting on expiry either way.
type Executor interface {
	Execute(ctx context.Context, cfg RunConfig, d Device) (ExecutionResult, error)
}

// DiscoveryService enumerates reachable devices through a scoped connection.
type DiscoveryService interface {
	Name() string
	Connect(ctx context.Context) (DiscoveryConn, error)
}

// DiscoveryConn is an open handle to a discovery service. It must be closed
// by whoever called Connect.
type DiscoveryConn interface {
	Devices(ctx context.Context) ([]Device, error)
	Close() error
}

// ResultSink consumes each device result as soon as it is recorded.
type ResultSink interface {
	Save(ctx context.Context, runID string, res ExecutionResult) error
}

// ReportWriter consumes a sealed outcome.
type ReportWriter interface {
	Aggregate(outcome *AggregateOutcome) (string, error)
}

// RunListener is implemented by sinks that also track whole runs. The runner
// calls RunStarted before dispatch and RunFinished after sealing.
type RunListener interface {
	RunStarted(ctx context.Context, runID string, devices []Device) error
	RunFinished(ctx context.Context, outcome *AggregateOutcome) error
}
