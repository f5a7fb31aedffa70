// Package ramp finds the largest number of concurrent transcodes a machine
// can sustain in real time.
//
// A ramp starts with one worker and adds one worker per step. Each step
// blocks until the Worker returns a single aggregate Sample. The ramp stops
// at the first step that fails or that runs slower than real time; that
// step's sample is never recorded.
package ramp

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"

	"github.com/jellyfin/hwbench/internal/metrics"
	"github.com/jellyfin/hwbench/pkg/ramp/model"
)

const (
	// ReasonPerformance is recorded when a step runs slower than real time.
	ReasonPerformance = "performance"
	// ReasonMaxWorkers is recorded when the ramp reaches Controller.MaxWorkers.
	ReasonMaxWorkers = "max_workers"

	// realTime is the minimum speed a step needs to be accepted.
	realTime = 1.0
)

// Worker runs a single ramp step: workers concurrent copies of command.
// Invoke must block until all of them are done.
type Worker interface {
	Invoke(ctx context.Context, workers int, command string) (model.Sample, error)
}

// WorkerFunc adapts a function to the Worker interface.
type WorkerFunc func(ctx context.Context, workers int, command string) (model.Sample, error)

// Invoke calls f.
func (f WorkerFunc) Invoke(ctx context.Context, workers int, command string) (model.Sample, error) {
	return f(ctx, workers, command)
}

// Emitter is notified after every attempted step.
type Emitter interface {
	// OnStep is called with the step's worker count, the last observed speed
	// and the step error, if any.
	OnStep(workers int, lastSpeed float64, err error)
}

// Reason returns the failure reason recorded for a step error. Errors
// implementing Reason() string provide their own; any other error is
// recorded by its message.
func Reason(err error) string {
	var r interface{ Reason() string }
	if errors.As(err, &r) {
		return r.Reason()
	}
	return err.Error()
}

// Controller drives a Worker through increasing concurrency.
type Controller struct {
	// Worker runs each step.
	Worker Worker
	// Emitter, if not nil, receives progress for every attempted step.
	Emitter Emitter
	// MaxWorkers stops the ramp after the step with this many workers has
	// been accepted. Zero means no limit: the ramp only ends when a step
	// fails or falls below real time.
	MaxWorkers int
}

// New returns a Controller for w with no worker limit.
func New(w Worker, e Emitter) *Controller {
	return &Controller{
		Worker:  w,
		Emitter: e,
	}
}

// Run ramps command until a stop condition fires and returns the accepted
// samples along with their summary.
func (c *Controller) Run(ctx context.Context, command string) model.Result {
	var (
		runs      []model.Sample
		reasons   []string
		lastSpeed float64
	)
	for n := 1; ; n++ {
		start := time.Now()
		sample, err := c.Worker.Invoke(ctx, n, command)
		metrics.WorkerStepDuration.Observe(time.Since(start).Seconds())

		stop := true
		switch {
		case err != nil:
			reasons = append(reasons, Reason(err))
			metrics.RampSteps.WithLabelValues("error").Inc()
			log.Debug("ramp step failed", "workers", n, "error", err)
		case !(sample.Speed >= realTime):
			lastSpeed = sample.Speed
			reasons = append(reasons, ReasonPerformance)
			metrics.RampSteps.WithLabelValues("performance").Inc()
			log.Debug("ramp step below real time", "workers", n, "speed", sample.Speed)
		default:
			// The step number is authoritative, whatever the worker reported.
			sample.Workers = n
			runs = append(runs, sample)
			lastSpeed = sample.Speed
			stop = false
			metrics.RampSteps.WithLabelValues("accepted").Inc()
		}
		if c.Emitter != nil {
			c.Emitter.OnStep(n, lastSpeed, err)
		}
		if stop {
			break
		}
		if c.MaxWorkers > 0 && n >= c.MaxWorkers {
			reasons = append(reasons, ReasonMaxWorkers)
			break
		}
	}

	if len(runs) == 0 {
		return model.Result{Runs: []model.Sample{}}
	}
	metrics.RampMaxStreams.Observe(float64(len(runs)))
	return model.Result{
		Valid:   true,
		Runs:    runs,
		Summary: model.Summarize(runs, reasons),
	}
}
