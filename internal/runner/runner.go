// Package runner fans a test run out across devices and joins the results.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"bytemomo/armada/internal/domain"
	"bytemomo/armada/internal/metrics"
	"bytemomo/armada/internal/workspace"

	"github.com/sirupsen/logrus"
)

// Runner runs one execution per device in parallel. Every device ends up
// with exactly one result in the returned outcome, whatever its executor did.
type Runner struct {
	Log      *logrus.Entry
	Executor domain.Executor
	Sinks    []domain.ResultSink
	Metrics  *metrics.Collector
}

type execution struct {
	res domain.ExecutionResult
	err error
}

// Run resets cfg.Output, dispatches every device and waits for all of them.
// The returned outcome is sealed. An error is returned only when nothing could
// be dispatched; failing devices are results, not errors.
func (r *Runner) Run(ctx context.Context, devices domain.DeviceSet, cfg domain.RunConfig) (*domain.AggregateOutcome, error) {
	outcome := domain.NewAggregateOutcome(domain.NewRunID())
	l := r.log().WithField("run", outcome.RunID)

	if devices.Len() == 0 {
		l.Warn("No devices")
		outcome.Seal()
		r.Metrics.RunFinished(outcome)
		return outcome, nil
	}
	if r.Executor == nil {
		return nil, errors.New("runner: no executor configured")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid run config: %w", err)
	}

	if err := workspace.Reset(cfg.Output); err != nil {
		l.WithError(err).Error("Workspace reset failed")
		return nil, err
	}

	list := devices.Devices()
	l.WithFields(logrus.Fields{
		"devices":            len(list),
		"output":             cfg.Output,
		"MaxParallelDevices": cfg.MaxParallelDevices,
		"DeviceTimeout":      cfg.DeviceTimeout,
	}).Info("Starting run execution")

	r.notifyStarted(ctx, outcome.RunID, list)

	var sem chan struct{}
	if cfg.MaxParallelDevices > 0 {
		sem = make(chan struct{}, cfg.MaxParallelDevices)
	}

	var wg sync.WaitGroup
	for _, d := range list {
		wg.Go(func() {
			var res domain.ExecutionResult
			if sem == nil {
				res = r.runForDevice(ctx, cfg, d)
			} else {
				select {
				case sem <- struct{}{}:
					res = r.runForDevice(ctx, cfg, d)
					<-sem
				case <-ctx.Done():
					now := time.Now()
					res = domain.FailedResult(d, domain.FailureAbandoned, "run cancelled before the device was admitted")
					res.StartedAt, res.FinishedAt = now, now
				}
			}
			r.record(ctx, outcome, res)
		})
	}
	wg.Wait()

	if outcome.Len() != len(list) {
		l.WithFields(logrus.Fields{
			"expected": len(list),
			"recorded": outcome.Len(),
		}).Error("Outcome is missing device results")
	}
	outcome.Seal()
	r.Metrics.RunFinished(outcome)
	r.notifyFinished(ctx, outcome)

	counts := outcome.Counts()
	l.WithFields(logrus.Fields{
		"total":     counts.Total,
		"passed":    counts.Passed,
		"failed":    counts.Failed,
		"timed_out": counts.TimedOut,
		"abandoned": counts.Abandoned,
	}).Info("Run execution finished")
	return outcome, nil
}

func (r *Runner) runForDevice(ctx context.Context, cfg domain.RunConfig, d domain.Device) domain.ExecutionResult {
	started := time.Now()
	l := r.log().WithField("device", d.Serial)

	finish := func(res domain.ExecutionResult) domain.ExecutionResult {
		res.Device = d
		res.StartedAt = started
		res.FinishedAt = time.Now()
		res.Duration = res.FinishedAt.Sub(started)
		return res
	}

	if ctx.Err() != nil {
		return finish(domain.FailedResult(d, domain.FailureAbandoned, "run cancelled before the device started"))
	}

	dir, err := workspace.PrepareDevice(cfg.Output, d)
	if err != nil {
		l.WithError(err).Error("Device workspace preparation failed")
		return finish(domain.FailedResult(d, domain.FailureExecution, err.Error()))
	}

	var execCtx context.Context
	var cancel context.CancelFunc
	if cfg.DeviceTimeout > 0 {
		execCtx, cancel = context.WithTimeout(ctx, cfg.DeviceTimeout)
	} else {
		execCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	l.WithField("dir", dir).Info("Running for device")
	r.Metrics.DeviceStarted()
	defer r.Metrics.DeviceStopped()

	// Buffered so an executor that outlives its deadline never blocks.
	done := make(chan execution, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- execution{err: fmt.Errorf("executor panicked: %v", p)}
			}
		}()
		res, err := r.Executor.Execute(execCtx, cfg, d)
		done <- execution{res: res, err: err}
	}()

	select {
	case e := <-done:
		return finish(normalize(ctx, execCtx, d, e))
	case <-execCtx.Done():
		res := interrupted(ctx, d, cfg.DeviceTimeout)
		l.WithField("status", res.Status).Warn("Device execution interrupted")
		return finish(res)
	}
}

// interrupted builds the result of a unit whose context ended first.
func interrupted(runCtx context.Context, d domain.Device, timeout time.Duration) domain.ExecutionResult {
	if runCtx.Err() != nil {
		return domain.FailedResult(d, domain.FailureAbandoned, "run cancelled during execution")
	}
	return domain.FailedResult(d, domain.FailureTimeout, fmt.Sprintf("no result within %s", timeout))
}

// normalize turns whatever the executor returned into a well formed result
// for d.
func normalize(runCtx, execCtx context.Context, d domain.Device, e execution) domain.ExecutionResult {
	res := e.res
	res.Device = d

	if e.err != nil {
		failed := domain.FailedResult(d, domain.FailureExecution, e.err.Error())
		if execCtx.Err() != nil {
			failed = interrupted(runCtx, d, 0)
			failed.Failure.Message = e.err.Error()
		}
		failed.Tests, failed.Artifacts, failed.Logs = res.Tests, res.Artifacts, res.Logs
		return failed
	}

	switch res.Status {
	case "":
		res.Status = domain.StatusPassed
		if res.Failure != nil {
			res.Status = domain.StatusFailed
		}
	case domain.StatusPassed, domain.StatusFailed, domain.StatusTimedOut, domain.StatusAbandoned:
	default:
		msg := fmt.Sprintf("executor reported unknown status %q", res.Status)
		res.Status = domain.StatusFailed
		res.Failure = &domain.Failure{Kind: domain.FailureExecution, Message: msg}
	}

	if res.Status == domain.StatusPassed && res.Failure != nil {
		res.Status = domain.StatusFailed
	}
	if res.Status != domain.StatusPassed && res.Failure == nil {
		kind := domain.FailureExecution
		switch res.Status {
		case domain.StatusTimedOut:
			kind = domain.FailureTimeout
		case domain.StatusAbandoned:
			kind = domain.FailureAbandoned
		}
		res.Failure = &domain.Failure{Kind: kind, Message: fmt.Sprintf("device reported %s", res.Status)}
	}
	return res
}

func (r *Runner) record(ctx context.Context, outcome *domain.AggregateOutcome, res domain.ExecutionResult) {
	l := r.log().WithFields(logrus.Fields{
		"run":      outcome.RunID,
		"device":   res.Device.Serial,
		"status":   res.Status,
		"duration": res.Duration,
	})
	if err := outcome.Record(res); err != nil {
		l.WithError(err).Error("Failed to record result")
	}
	r.Metrics.DeviceFinished(res.Status, res.Duration)

	if res.Failure != nil {
		l.WithField("failure", res.Failure.Message).Warn("Device execution failed")
	} else {
		l.WithField("tests", len(res.Tests)).Info("Device execution complete")
	}

	sinkCtx := context.WithoutCancel(ctx)
	for _, sink := range r.Sinks {
		if err := sink.Save(sinkCtx, outcome.RunID, res); err != nil {
			l.WithError(err).Error("Failed to save result")
		}
	}
}

func (r *Runner) notifyStarted(ctx context.Context, runID string, devices []domain.Device) {
	for _, sink := range r.Sinks {
		if rl, ok := sink.(domain.RunListener); ok {
			if err := rl.RunStarted(context.WithoutCancel(ctx), runID, devices); err != nil {
				r.log().WithError(err).Error("Failed to announce run start")
			}
		}
	}
}

func (r *Runner) notifyFinished(ctx context.Context, outcome *domain.AggregateOutcome) {
	for _, sink := range r.Sinks {
		if rl, ok := sink.(domain.RunListener); ok {
			if err := rl.RunFinished(context.WithoutCancel(ctx), outcome); err != nil {
				r.log().WithError(err).Error("Failed to announce run completion")
			}
		}
	}
}

func (r *Runner) log() *logrus.Entry {
	if r.Log == nil {
		return logrus.NewEntry(logrus.StandardLogger())
	}
	return r.Log
}
