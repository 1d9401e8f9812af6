// Package usecase contains application business logic.
package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kernwatch/kernd/internal/config"
	"github.com/kernwatch/kernd/internal/domain"
	"github.com/kernwatch/kernd/internal/killer"
)

// Engine is the enforcement engine: it consumes a fresh snapshot plus
// the active profile once per cycle, runs the decision state machine,
// and issues zero or more termination requests. It owns the
// emergency-mode state.
//
// The mutex serializes the polling loop (writer) against concurrent
// status queries from the control surface (readers), per the
// single-writer discipline.
type Engine struct {
	mu sync.RWMutex

	cfg      *config.Config
	profiles domain.PolicyStore
	sampler  domain.SnapshotProvider
	killer   domain.Terminator
	killLog  domain.KillRecorder
	gate     domain.Notifier
	logger   *zap.Logger

	emergency      bool
	emergencySince time.Time
	lastRun        time.Time

	now func() time.Time
}

// NewEngine creates an enforcement engine in the Normal state.
func NewEngine(
	cfg *config.Config,
	profiles domain.PolicyStore,
	sampler domain.SnapshotProvider,
	term domain.Terminator,
	killLog domain.KillRecorder,
	gate domain.Notifier,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		cfg:      cfg,
		profiles: profiles,
		sampler:  sampler,
		killer:   term,
		killLog:  killLog,
		gate:     gate,
		logger:   logger,
		now:      time.Now,
	}
}

// Cycle runs one evaluation: fetch a snapshot, evaluate state
// transitions, issue kills. A failed snapshot fetch skips the cycle
// with no state change; the engine never crashes the host loop.
func (e *Engine) Cycle(ctx context.Context) error {
	snap, err := e.sampler.Snapshot(ctx)
	if err != nil {
		e.logger.Warn("snapshot unavailable, skipping cycle", zap.Error(err))
		return fmt.Errorf("snapshot unavailable: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.evaluate(snap)
	e.lastRun = e.now()
	return nil
}

// evaluate runs the state machine against one snapshot. Caller holds
// the write lock.
func (e *Engine) evaluate(snap *domain.Snapshot) {
	profile := e.profiles.Current()
	temps := e.cfg.Temperature

	// Emergency exit check comes first: temperature cooled below the
	// warning threshold.
	if e.emergency && snap.Temperature < temps.Warning {
		e.logger.Info("emergency mode cleared",
			zap.Float64("temperature", snap.Temperature),
			zap.Float64("warning", temps.Warning))
		e.emergency = false
		e.emergencySince = time.Time{}
		e.gate.Notify(domain.NotifyEmergency, "Emergency Mode Resolved",
			fmt.Sprintf("Temperature cooled to %.1f°C - system back to normal", snap.Temperature))
		return
	}

	// Emergency entry.
	if !e.emergency && snap.Temperature > temps.Critical {
		e.logger.Error("emergency mode activated",
			zap.Float64("temperature", snap.Temperature),
			zap.Float64("critical", temps.Critical))
		e.emergency = true
		e.emergencySince = e.now()
		e.gate.Notify(domain.NotifyEmergency, "Emergency Mode Activated",
			fmt.Sprintf("Temperature %.1f°C exceeds critical threshold %.1f°C",
				snap.Temperature, temps.Critical))
	}

	if e.emergency {
		// Continue killing every eligible process until cooled below
		// the warning threshold.
		e.killAllEligible(snap, profile)
		return
	}

	e.enforceLimits(snap, profile)
}

// eligible reports whether a process may be targeted: not in the
// profile's protected list, not in the global protected list, and not
// in the fixed critical set.
func (e *Engine) eligible(name string, profile domain.Profile) bool {
	return !killer.IsProtected(name, profile.Protected) &&
		!killer.IsProtected(name, e.cfg.ProtectedProcesses) &&
		!killer.IsCritical(name)
}

// killAllEligible terminates every eligible process in the snapshot.
// A failed attempt is logged and does not block the next candidate.
func (e *Engine) killAllEligible(snap *domain.Snapshot, profile domain.Profile) {
	killed := 0
	for _, proc := range snap.Processes {
		if !e.eligible(proc.Name, profile) {
			continue
		}
		if e.kill(proc, "emergency") {
			killed++
		}
	}
	if killed > 0 {
		e.gate.Notify(domain.NotifyKill, "Processes Killed",
			fmt.Sprintf("Killed %d process(es) in emergency mode", killed))
	}
}

// enforceLimits runs the Normal-state checks in order CPU, RAM,
// temperature warning. Each breach independently kills one heaviest
// eligible process.
func (e *Engine) enforceLimits(snap *domain.Snapshot, profile domain.Profile) {
	temps := e.cfg.Temperature

	if snap.CPUPercent > profile.Limits.MaxCPUPercent {
		e.logger.Warn("cpu limit exceeded",
			zap.Float64("usage", snap.CPUPercent),
			zap.Float64("limit", profile.Limits.MaxCPUPercent))
		e.gate.Notify(domain.NotifyWarning, "Resource Limit Exceeded",
			fmt.Sprintf("CPU usage %.1f%% exceeds limit %.1f%%",
				snap.CPUPercent, profile.Limits.MaxCPUPercent))
		e.killHeaviest(snap, profile, "cpu limit")
	}

	if snap.MemoryPercent > profile.Limits.MaxRAMPercent {
		e.logger.Warn("ram limit exceeded",
			zap.Float64("usage", snap.MemoryPercent),
			zap.Float64("limit", profile.Limits.MaxRAMPercent))
		e.gate.Notify(domain.NotifyWarning, "Resource Limit Exceeded",
			fmt.Sprintf("RAM usage %.1f%% exceeds limit %.1f%%",
				snap.MemoryPercent, profile.Limits.MaxRAMPercent))
		e.killHeaviest(snap, profile, "ram limit")
	}

	if snap.Temperature > temps.Warning && snap.Temperature <= temps.Critical {
		e.logger.Warn("temperature warning",
			zap.Float64("temperature", snap.Temperature),
			zap.Float64("warning", temps.Warning))
		e.gate.Notify(domain.NotifyWarning, "Temperature Warning",
			fmt.Sprintf("Temperature %.1f°C exceeds warning threshold %.1f°C",
				snap.Temperature, temps.Warning))
		e.killHeaviest(snap, profile, "temperature warning")
	}
}

// killHeaviest scans the snapshot's descending-memory order and kills
// the first eligible process. When a kill fails the next candidate is
// tried. With no eligible candidate the breach stays unresolved this
// cycle.
func (e *Engine) killHeaviest(snap *domain.Snapshot, profile domain.Profile, reason string) bool {
	for _, proc := range snap.Processes {
		if !e.eligible(proc.Name, profile) {
			continue
		}
		if e.kill(proc, reason) {
			e.gate.Notify(domain.NotifyKill, "Process Killed",
				fmt.Sprintf("Killed process %q (PID: %d)", proc.Name, proc.PID))
			return true
		}
	}
	e.logger.Warn("no eligible process to kill", zap.String("reason", reason))
	return false
}

// kill runs one termination attempt, recording the outcome.
func (e *Engine) kill(proc domain.ProcessSample, reason string) bool {
	graceful := e.cfg.KillGraceful
	err := e.killer.Terminate(proc.PID, graceful)

	mode := domain.ModeForced
	if graceful {
		mode = domain.ModeGraceful
	}
	e.killLog.Record(domain.TerminationOutcome{
		PID:     proc.PID,
		Name:    proc.Name,
		Mode:    mode,
		Success: err == nil,
		Err:     err,
		At:      e.now(),
	})

	if err != nil {
		e.logger.Warn("failed to kill process",
			zap.Int32("pid", proc.PID),
			zap.String("name", proc.Name),
			zap.String("reason", reason),
			zap.Error(err))
		return false
	}

	e.logger.Info("killed process",
		zap.Int32("pid", proc.PID),
		zap.String("name", proc.Name),
		zap.String("reason", reason))
	return true
}

// SwitchProfile activates a different profile, resets emergency mode,
// and terminates every live process named in the new profile's
// kill_on_activate list, skipping only critical processes. This is an
// intentional activation side effect, not limit enforcement.
func (e *Engine) SwitchProfile(name string) (domain.Profile, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	old := e.profiles.CurrentName()
	profile, err := e.profiles.Switch(name)
	if err != nil {
		return domain.Profile{}, err
	}

	e.logger.Info("switching profile",
		zap.String("from", old),
		zap.String("to", profile.Name))

	e.emergency = false
	e.emergencySince = time.Time{}

	for _, procName := range profile.KillOnActivate {
		if killer.IsCritical(procName) {
			e.logger.Info("skipping kill of critical process",
				zap.String("name", procName))
			continue
		}

		pids, err := e.killer.FindByName(procName)
		if err != nil {
			e.logger.Warn("failed to resolve process name",
				zap.String("name", procName),
				zap.Error(err))
			continue
		}

		for _, pid := range pids {
			e.kill(domain.ProcessSample{PID: pid, Name: procName}, "profile activation")
		}
	}

	e.gate.Notify(domain.NotifyProfile, "Profile Changed",
		fmt.Sprintf("Profile switched from %q to %q", old, profile.Name))

	return profile, nil
}

// Status returns a read-only view of the engine state.
func (e *Engine) Status() domain.EngineStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return domain.EngineStatus{
		Profile:        e.profiles.CurrentName(),
		Emergency:      e.emergency,
		EmergencySince: e.emergencySince,
		LastRun:        e.lastRun,
	}
}

// EmergencyDuration returns how long emergency mode has been active,
// or zero when inactive.
func (e *Engine) EmergencyDuration() time.Duration {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.emergency {
		return 0
	}
	return e.now().Sub(e.emergencySince)
}
