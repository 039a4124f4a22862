// Package engine provides the tick loop that animates autonomous generation:
// one cell collapses per tick until the map is full, a contradiction stops
// it, or it is cancelled.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/talgya/tilecity/internal/grid"
)

var ErrRunning = errors.New("engine: already running")

// Stepper advances generation by one collapse.
type Stepper interface {
	GenerateStep() (grid.StepResult, error)
}

// Engine drives a Stepper forward on a timer.
type Engine struct {
	mu       sync.Mutex
	tick     uint64        // Collapses made by the current run
	speed    float64       // Multiplier: 1.0 = one step per Interval, 0 = paused
	interval time.Duration // Base tick interval
	running  bool
	cancel   context.CancelFunc
	done     chan struct{} // closed when the current run's loop has exited

	stepper Stepper

	// Callbacks, populated during setup.
	OnTick func(tick uint64, res grid.StepResult) // After every collapse
	OnDone func(tick uint64, err error)           // When a run ends for any reason
}

// NewEngine creates an engine stepping s every interval.
func NewEngine(s Stepper, interval time.Duration) *Engine {
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	return &Engine{
		speed:    1.0,
		interval: interval,
		stepper:  s,
	}
}

// Run steps until the map is full, a contradiction occurs, ctx is cancelled
// or Stop is called. A contradiction is returned; cancellation is not.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return ErrRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	e.running = true
	e.cancel = cancel
	e.done = done
	e.tick = 0
	e.mu.Unlock()

	slog.Info("generation engine started", "interval", e.interval)
	err := e.loop(ctx)
	cancel()

	e.mu.Lock()
	e.running = false
	e.cancel = nil
	e.done = nil
	tick := e.tick
	e.mu.Unlock()
	close(done)

	slog.Info("generation engine stopped", "ticks", tick, "error", err)
	if e.OnDone != nil {
		e.OnDone(tick, err)
	}
	return err
}

func (e *Engine) loop(ctx context.Context) error {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}
		if ctx.Err() != nil {
			return nil
		}

		speed := e.Speed()
		if speed <= 0 {
			// Paused; check again shortly.
			timer.Reset(100 * time.Millisecond)
			continue
		}

		start := time.Now()
		res, err := e.stepper.GenerateStep()
		if res.Done {
			return nil
		}

		e.mu.Lock()
		e.tick++
		tick := e.tick
		e.mu.Unlock()

		if e.OnTick != nil {
			e.OnTick(tick, res)
		}
		if err != nil {
			return err
		}

		// Sleep for the remainder of the tick interval, adjusted for speed.
		target := time.Duration(float64(e.interval) / speed)
		wait := target - time.Since(start)
		if wait < 0 {
			wait = 0
		}
		timer.Reset(wait)
	}
}

// Stop ends the current run, if any, and waits until it makes no further
// steps. It must not be called from OnTick.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel, done := e.cancel, e.done
	e.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether a run is in progress.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Tick returns the number of collapses made by the current or last run.
func (e *Engine) Tick() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tick
}

// Speed returns the speed multiplier.
func (e *Engine) Speed() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.speed
}

// SetSpeed changes the speed multiplier; 0 pauses.
func (e *Engine) SetSpeed(speed float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if speed < 0 {
		speed = 0
	}
	e.speed = speed
}
