// Package domain contains core business entities and interfaces.
// This is the innermost layer - no external dependencies.
package domain

import "time"

// ProcessSample is one process as seen in a snapshot.
type ProcessSample struct {
	PID         int32
	Name        string
	MemoryBytes uint64
	CPUPercent  float64
}

// Snapshot is a point-in-time view of system load. Produced fresh each
// cycle and never mutated; Processes is ordered by descending memory.
type Snapshot struct {
	CPUPercent    float64
	MemoryPercent float64
	MemoryTotal   uint64
	MemoryUsed    uint64
	Temperature   float64
	Processes     []ProcessSample
	TakenAt       time.Time
}

// Limits are the per-profile resource ceilings.
type Limits struct {
	MaxCPUPercent float64 `yaml:"max_cpu_percent" mapstructure:"max_cpu_percent"`
	MaxRAMPercent float64 `yaml:"max_ram_percent" mapstructure:"max_ram_percent"`
	MaxTempC      float64 `yaml:"max_temp" mapstructure:"max_temp"`
}

// Profile is a named policy bundle. Immutable while active.
type Profile struct {
	Name           string   `yaml:"name"`
	Description    string   `yaml:"description"`
	Protected      []string `yaml:"protected"`
	KillOnActivate []string `yaml:"kill_on_activate"`
	Limits         Limits   `yaml:"limits"`
}

// TerminationMode distinguishes graceful from forced kills.
type TerminationMode string

const (
	ModeGraceful TerminationMode = "graceful"
	ModeForced   TerminationMode = "forced"
)

// TerminationOutcome records one termination attempt for the kill log
// and notifications. Discarded after the cycle.
type TerminationOutcome struct {
	PID     int32
	Name    string
	Mode    TerminationMode
	Success bool
	Err     error
	At      time.Time
}

// EngineStatus is a read-only view of the engine state, safe to hand to
// concurrent status queries.
type EngineStatus struct {
	Profile        string
	Emergency      bool
	EmergencySince time.Time
	LastRun        time.Time
}
