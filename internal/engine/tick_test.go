package engine

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRunToCompletion(t *testing.T) {
	p := testParams()
	p.MaxIters = 25
	m := newTestModel(t, p)
	populate(t, m, 0.6, 0.06)

	e := NewEngine(m)
	e.Interval = 0
	e.ReportEvery = 10
	ticks, reports := 0, 0
	e.OnTick = func(*TickRecord) { ticks++ }
	e.OnReport = func(*TickRecord) { reports++ }

	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if ticks != 26 {
		t.Errorf("expected 26 ticks, got %d", ticks)
	}
	if reports != 2 {
		t.Errorf("expected reports at ticks 10 and 20, got %d", reports)
	}
	if e.Running() {
		t.Error("expected engine to report not running after Run returns")
	}
}

func TestRunStopsOnCancelWhilePaused(t *testing.T) {
	m := newTestModel(t, testParams())
	populate(t, m, 0.5, 0.05)

	e := NewEngine(m)
	e.SetSpeed(0)
	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()

	err := e.Run(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if m.Tick() != 0 {
		t.Errorf("expected no ticks while paused, got %d", m.Tick())
	}
}

func TestRunReturnsStepError(t *testing.T) {
	boom := errors.New("sink closed")
	m, err := NewModel(testParams(), CollectorFunc(func(rec *TickRecord) error {
		if rec.Tick == 3 {
			return boom
		}
		return nil
	}))
	if err != nil {
		t.Fatal(err)
	}
	populate(t, m, 0.5, 0.05)

	e := NewEngine(m)
	e.Interval = 0
	if err := e.Run(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected collector error, got %v", err)
	}
	if m.Running() {
		t.Error("expected model halted after failed tick")
	}
}
