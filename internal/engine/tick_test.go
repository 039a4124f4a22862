package engine_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/tilecity/internal/engine"
	"github.com/talgya/tilecity/internal/entropy"
	"github.com/talgya/tilecity/internal/grid"
	"github.com/talgya/tilecity/internal/placement"
	"github.com/talgya/tilecity/internal/rules"
	"github.com/talgya/tilecity/internal/tiles"
)

func newCoordinator(t *testing.T, w, h int, rs *rules.RuleSet) *placement.Coordinator {
	t.Helper()
	g, err := grid.New(w, h, rs, grid.WithRand(entropy.New(3)))
	require.NoError(t, err)
	return placement.New(g, placement.Options{ReplayOnUndo: true})
}

func TestRunFillsMap(t *testing.T) {
	c := newCoordinator(t, 4, 4, rules.Default())
	e := engine.NewEngine(c, time.Millisecond)

	var ticks []uint64
	var done bool
	e.OnTick = func(tick uint64, _ grid.StepResult) { ticks = append(ticks, tick) }
	e.OnDone = func(uint64, error) { done = true }

	require.NoError(t, e.Run(context.Background()))
	assert.True(t, c.Stats().Complete)
	assert.Len(t, ticks, 16)
	assert.Equal(t, uint64(16), e.Tick())
	assert.True(t, done)
	assert.False(t, e.Running())
}

// stuck never finishes.
type stuck struct {
	mu sync.Mutex
	n  int
}

func (s *stuck) GenerateStep() (grid.StepResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return grid.StepResult{Category: tiles.Road}, nil
}

func TestStopAndCancel(t *testing.T) {
	e := engine.NewEngine(&stuck{}, time.Millisecond)
	errc := make(chan error, 1)
	go func() { errc <- e.Run(context.Background()) }()

	require.Eventually(t, func() bool { return e.Tick() > 3 }, time.Second, time.Millisecond)
	assert.True(t, e.Running())
	assert.ErrorIs(t, e.Run(context.Background()), engine.ErrRunning)

	e.Stop()
	require.NoError(t, <-errc)
	assert.False(t, e.Running())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.NoError(t, e.Run(ctx))
}

// gated blocks every step until release is closed.
type gated struct {
	entered chan struct{}
	release chan struct{}
	steps   atomic.Int32
}

func (g *gated) GenerateStep() (grid.StepResult, error) {
	select {
	case g.entered <- struct{}{}:
	default:
	}
	<-g.release
	g.steps.Add(1)
	return grid.StepResult{Category: tiles.Park}, nil
}

func TestStopWaitsForStep(t *testing.T) {
	g := &gated{entered: make(chan struct{}, 1), release: make(chan struct{})}
	e := engine.NewEngine(g, time.Millisecond)
	errc := make(chan error, 1)
	go func() { errc <- e.Run(context.Background()) }()
	<-g.entered

	stopped := make(chan struct{})
	go func() {
		e.Stop()
		close(stopped)
	}()
	assert.Never(t, func() bool {
		select {
		case <-stopped:
			return true
		default:
			return false
		}
	}, 30*time.Millisecond, time.Millisecond, "Stop returned while a step was in flight")

	close(g.release)
	<-stopped
	require.NoError(t, <-errc)
	assert.False(t, e.Running())

	steps := g.steps.Load()
	assert.Equal(t, int32(1), steps)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, steps, g.steps.Load(), "no steps after Stop returns")

	e.Stop() // no run in progress
}

func TestPause(t *testing.T) {
	s := &stuck{}
	e := engine.NewEngine(s, time.Millisecond)
	e.SetSpeed(0)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, e.Run(ctx))
	assert.Equal(t, uint64(0), e.Tick())

	e.SetSpeed(-3)
	assert.Equal(t, 0.0, e.Speed())
}

func TestRunStopsOnContradiction(t *testing.T) {
	var ex []rules.Exclusion
	for _, a := range tiles.Placeable {
		for _, b := range tiles.Placeable {
			ex = append(ex, rules.Exclusion{A: a, B: b})
		}
	}
	rs, err := rules.New(ex...)
	require.NoError(t, err)

	c := newCoordinator(t, 3, 1, rs)
	e := engine.NewEngine(c, time.Millisecond)
	var doneErr error
	e.OnDone = func(_ uint64, err error) { doneErr = err }

	err = e.Run(context.Background())
	assert.ErrorIs(t, err, grid.ErrContradiction)
	assert.ErrorIs(t, doneErr, grid.ErrContradiction)
	assert.False(t, c.Stats().Complete)
}
