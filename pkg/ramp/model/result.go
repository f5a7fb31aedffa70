// Package model contains the data produced by a concurrency ramp.
package model

import "encoding/json"

// Sample is the aggregate outcome of running Workers concurrent transcodes.
type Sample struct {
	// Workers is the number of concurrent transcodes in this step.
	Workers int `json:"workers"`
	// Speed is the transcode speed relative to real time (1.0 = real time).
	Speed float64 `json:"speed"`
	// RSSKB is the resident memory of a single transcode, in KB.
	RSSKB int64 `json:"rss_kb"`
}

// Summary is derived from the last accepted Sample of a ramp. The zero
// value is used when no sample was accepted and serializes as {}. Any other
// Summary serializes with all of its keys, zero values included.
type Summary struct {
	// MaxStreams is the largest number of concurrent transcodes that still
	// ran at least in real time.
	MaxStreams int `json:"max_streams"`
	// FailureReasons lists why the ramp stopped.
	FailureReasons []string `json:"failure_reasons"`
	// SingleWorkerSpeed is the Speed of the last accepted Sample.
	SingleWorkerSpeed float64 `json:"single_worker_speed"`
	// SingleWorkerRSSKB is the RSSKB of the last accepted Sample.
	SingleWorkerRSSKB int64 `json:"single_worker_rss_kb"`
}

// MarshalJSON implements json.Marshaler.
func (s Summary) MarshalJSON() ([]byte, error) {
	if s.MaxStreams == 0 && s.FailureReasons == nil {
		return []byte("{}"), nil
	}
	type summary Summary
	return json.Marshal(summary(s))
}

// Result is the outcome of a ramp.
type Result struct {
	// Valid is false if the very first step failed.
	Valid bool
	// Runs contains the accepted samples. Their Workers fields are exactly
	// 1, 2, ..., len(Runs).
	Runs []Sample
	// Summary is empty unless Valid is true.
	Summary Summary
}

// Summarize builds the Summary for a ramp that accepted runs and stopped
// for the given reasons. It returns the zero Summary if runs is empty.
func Summarize(runs []Sample, reasons []string) Summary {
	if len(runs) == 0 {
		return Summary{}
	}
	last := runs[len(runs)-1]
	return Summary{
		MaxStreams:        last.Workers,
		FailureReasons:    reasons,
		SingleWorkerSpeed: last.Speed,
		SingleWorkerRSSKB: last.RSSKB,
	}
}
