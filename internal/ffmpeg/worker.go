// Package ffmpeg implements the ramp worker that runs concurrent ffmpeg
// transcodes and measures their speed and memory usage.
package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/shlex"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/jellyfin/hwbench/pkg/ramp"
	"github.com/jellyfin/hwbench/pkg/ramp/model"
)

// Failure reasons recorded by the ramp when a step fails.
const (
	ReasonTimeout = "failed_timeout"
	ReasonFailure = "generic_ffmpeg_failure"
	ReasonParse   = "parse_failure"
)

// waitDelay bounds how long Run waits for stderr to be closed after the
// process was killed.
const waitDelay = 2 * time.Second

// maxStderrTail is how much of ffmpeg's stderr is kept in error messages.
const maxStderrTail = 512

var (
	speedRe  = regexp.MustCompile(`speed=\s*([0-9]+(?:\.[0-9]+)?)x`)
	maxRSSRe = regexp.MustCompile(`bench:\s*maxrss=\s*([0-9]+)\s*(?:kB|KiB)`)

	// ErrNoSpeed is returned when ffmpeg's output does not report a speed.
	ErrNoSpeed = errors.New("no speed in ffmpeg output")
)

// StepError is a failed ffmpeg run, tagged with the reason the ramp records.
type StepError struct {
	reason string
	Err    error
}

func (e *StepError) Error() string { return e.reason + ": " + e.Err.Error() }

// Reason returns the failure reason for this error.
func (e *StepError) Reason() string { return e.reason }

func (e *StepError) Unwrap() error { return e.Err }

// Worker runs ffmpeg command lines. The zero value is ready to use.
type Worker struct {
	// Timeout bounds every single ffmpeg process. Zero means no timeout.
	Timeout time.Duration
}

type processResult struct {
	speed float64
	rssKB int64
}

// Invoke runs workers copies of command concurrently and waits for all of
// them. The returned Sample holds the mean speed and mean peak RSS of the
// processes. If any process fails, the others are killed and the error of
// the first failure determines the StepError reason.
func (w *Worker) Invoke(ctx context.Context, workers int, command string) (model.Sample, error) {
	argv, err := shlex.Split(command)
	if err != nil {
		return model.Sample{}, &StepError{reason: ReasonFailure, Err: err}
	}
	if len(argv) == 0 {
		return model.Sample{}, &StepError{reason: ReasonFailure, Err: errors.New("empty command")}
	}
	if workers < 1 {
		return model.Sample{}, fmt.Errorf("invalid worker count %d", workers)
	}

	var (
		results = make([]processResult, workers)
		merr    *multierror.Error
		mu      sync.Mutex
	)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		i := i
		g.Go(func() error {
			r, err := w.run(gctx, argv)
			if err != nil {
				mu.Lock()
				merr = multierror.Append(merr, err)
				mu.Unlock()
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		first := merr.Errors[0]
		return model.Sample{}, &StepError{reason: ramp.Reason(first), Err: merr.ErrorOrNil()}
	}

	var (
		speed float64
		rss   int64
	)
	for _, r := range results {
		speed += r.speed
		rss += r.rssKB
	}
	sample := model.Sample{
		Workers: workers,
		Speed:   speed / float64(workers),
		RSSKB:   rss / int64(workers),
	}
	log.Debug("ffmpeg step complete", "workers", workers, "speed", sample.Speed,
		"rss_kb", sample.RSSKB)
	return sample, nil
}

func (w *Worker) run(ctx context.Context, argv []string) (processResult, error) {
	if w.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.Timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return processResult{}, &StepError{reason: ReasonTimeout, Err: err}
		}
		return processResult{}, &StepError{
			reason: ReasonFailure,
			Err:    fmt.Errorf("ffmpeg error: %w - %s", err, tail(stderr.Bytes())),
		}
	}
	speed, rss, err := Parse(stderr.String())
	if err != nil {
		return processResult{}, &StepError{reason: ReasonParse, Err: err}
	}
	return processResult{speed: speed, rssKB: rss}, nil
}

// Parse extracts the final speed factor and the peak RSS (in KB) from the
// stderr of an ffmpeg run started with -benchmark. A missing maxrss line
// yields zero RSS; a missing speed is an error.
func Parse(output string) (float64, int64, error) {
	speeds := speedRe.FindAllStringSubmatch(output, -1)
	if len(speeds) == 0 {
		return 0, 0, ErrNoSpeed
	}
	speed, err := strconv.ParseFloat(speeds[len(speeds)-1][1], 64)
	if err != nil {
		return 0, 0, err
	}
	var rss int64
	if m := maxRSSRe.FindAllStringSubmatch(output, -1); len(m) > 0 {
		rss, err = strconv.ParseInt(m[len(m)-1][1], 10, 64)
		if err != nil {
			return 0, 0, err
		}
	}
	return speed, rss, nil
}

func tail(b []byte) string {
	b = bytes.TrimSpace(b)
	if len(b) > maxStderrTail {
		b = b[len(b)-maxStderrTail:]
	}
	return string(b)
}

// Checks that Worker implements ramp.Worker.
var _ ramp.Worker = &Worker{}
