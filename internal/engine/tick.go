package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Engine drives a Model forward in real time.
type Engine struct {
	Model       *Model
	Interval    time.Duration // Base tick interval; zero runs flat out
	ReportEvery uint64        // Ticks between OnReport calls; zero disables

	// Callbacks, populated during setup.
	OnTick   func(rec *TickRecord) // Every tick
	OnReport func(rec *TickRecord) // Every ReportEvery ticks

	mu      sync.Mutex
	speed   float64 // Multiplier: 1.0 = one tick per Interval, 0 = paused
	running atomic.Bool
}

// NewEngine creates an engine with default settings.
func NewEngine(m *Model) *Engine {
	return &Engine{
		Model:       m,
		Interval:    time.Second,
		ReportEvery: 100,
		speed:       1.0,
	}
}

// Speed returns the current speed multiplier.
func (e *Engine) Speed() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.speed
}

// SetSpeed changes the speed multiplier. Zero pauses the loop.
func (e *Engine) SetSpeed(speed float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.speed = speed
}

// Running reports whether Run is active.
func (e *Engine) Running() bool {
	return e.running.Load()
}

// Run starts the model if needed and steps it until it halts, ctx is
// cancelled, or a tick fails. A model that halts by reaching its iteration
// bound returns nil; cancellation returns ctx.Err().
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Model.Start(); err != nil {
		return err
	}

	e.running.Store(true)
	defer e.running.Store(false)
	slog.Info("simulation engine started", "tick", e.Model.Tick(), "speed", e.Speed())

	for e.Model.Running() {
		if err := ctx.Err(); err != nil {
			slog.Info("simulation engine stopped", "tick", e.Model.Tick(), "reason", err)
			return err
		}

		speed := e.Speed()
		if speed <= 0 {
			// Paused.
			if err := sleep(ctx, 100*time.Millisecond); err != nil {
				return err
			}
			continue
		}

		start := time.Now()
		rec, err := e.Model.Step()
		if err != nil {
			slog.Error("tick failed", "tick", e.Model.Tick(), "error", err)
			return err
		}
		e.dispatch(rec)

		// Sleep for the remainder of the tick interval, adjusted for speed.
		if e.Interval > 0 {
			elapsed := time.Since(start)
			target := time.Duration(float64(e.Interval) / speed)
			if elapsed < target {
				if err := sleep(ctx, target-elapsed); err != nil {
					return err
				}
			}
		}
	}

	slog.Info("simulation engine stopped", "tick", e.Model.Tick())
	return nil
}

func (e *Engine) dispatch(rec *TickRecord) {
	if e.OnTick != nil {
		e.OnTick(rec)
	}
	if e.ReportEvery > 0 && rec.Tick%e.ReportEvery == 0 && e.OnReport != nil {
		e.OnReport(rec)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// LogReport logs a periodic summary of rec.
func LogReport(rec *TickRecord) {
	slog.Info("periodic report",
		"tick", rec.Tick,
		"quiescent", rec.Counts.Quiescent,
		"active", rec.Counts.Active,
		"deviant", rec.Counts.Deviant,
		"detained", rec.Counts.Detained,
		"admitted", rec.Admitted,
		"avg_aggression", rec.AvgAggression,
	)
}
