// Package model contains the benchmark report submitted to the test server.
package model

import (
	rampmodel "github.com/jellyfin/hwbench/pkg/ramp/model"
)

// DefaultToken is used when the server did not hand out a session token.
const DefaultToken = "not_provided_yet"

// Report is the final output of a benchmark session.
type Report struct {
	// Token is the session token handed out by the server.
	Token string `json:"token"`
	// RunID uniquely identifies this benchmark run.
	RunID  string    `json:"run_id"`
	HWInfo HWInfo    `json:"hwinfo"`
	Tests  []TestRun `json:"tests"`
}

// HWInfo describes the machine the benchmark ran on.
type HWInfo struct {
	OS           string   `json:"os"`
	Architecture string   `json:"architecture"`
	CPUCount     int      `json:"cpu_count"`
	CPUModels    []string `json:"cpu_models,omitempty"`
	MemoryKB     int64    `json:"memory_kb,omitempty"`
	GPUs         []string `json:"gpus,omitempty"`
}

// TestRun is the result of ramping a single test on a single device.
type TestRun struct {
	ID          string             `json:"id"`
	Type        string             `json:"type"`
	SelectedGPU int                `json:"selected_gpu"`
	SelectedCPU int                `json:"selected_cpu"`
	Runs        []rampmodel.Sample `json:"runs"`
	Results     rampmodel.Summary  `json:"results"`
}
