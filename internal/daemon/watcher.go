// Package daemon implements the watchdog's polling loop.
package daemon

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kernwatch/kernd/internal/usecase"
)

// Watcher drives the enforcement engine once per interval. One cycle
// runs to completion before the next tick is considered; cycles never
// overlap. A cycle that errors is simply retried at the next tick.
type Watcher struct {
	engine   *usecase.Engine
	interval time.Duration
	logger   *zap.Logger
}

// NewWatcher creates the polling loop around the engine.
func NewWatcher(engine *usecase.Engine, interval time.Duration, logger *zap.Logger) *Watcher {
	return &Watcher{
		engine:   engine,
		interval: interval,
		logger:   logger,
	}
}

// Run blocks until the context is canceled. The first cycle runs
// immediately on startup.
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info("watchdog started", zap.Duration("interval", w.interval))

	w.runCycle(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("watchdog stopping")
			return ctx.Err()
		case <-ticker.C:
			w.runCycle(ctx)
		}
	}
}

func (w *Watcher) runCycle(ctx context.Context) {
	if err := w.engine.Cycle(ctx); err != nil {
		// Already logged inside the engine; the loop continues.
		return
	}

	if d := w.engine.EmergencyDuration(); d > 0 {
		w.logger.Warn("emergency mode active", zap.Duration("for", d.Round(time.Second)))
	}
}
