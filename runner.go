package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"worldbuilder/config"
	"worldbuilder/core"
	"worldbuilder/simulation"
	"worldbuilder/world"
)

// Runner drives one simulation instance. An instance that fails a timestep
// is aborted; starting over with a fresh seed is up to the operator.
type Runner struct {
	id       uuid.UUID
	settings config.SimulationSettings
	log      *zap.Logger

	mu     sync.RWMutex
	world  *world.World
	steps  int
	paused bool
	resume chan struct{}

	onStep []func(world.UpdateTask)
}

// NewRunner builds the grid and world and runs the generator.
func NewRunner(id uuid.UUID, settings config.Settings, logger *zap.Logger) (*Runner, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	seed := settings.Simulation.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}

	start := time.Now()
	logger.Debug("building grid",
		zap.Int("level", settings.Simulation.IcosphereLevel),
		zap.Int("approxVertices", core.ApproximateVertexCount(settings.Simulation.IcosphereLevel)),
	)
	grid, err := core.NewIcosphere(settings.Simulation.IcosphereLevel)
	if err != nil {
		return nil, fmt.Errorf("build grid: %w", err)
	}
	w, err := world.New(grid, settings.World, simulation.NewRandom(seed), logger)
	if err != nil {
		return nil, err
	}
	if err := w.Generate(world.NewBasicGenerator(w.Random())); err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}
	logger.Info("world created",
		zap.Uint64("seed", w.Random().Seed()),
		zap.Int("vertices", grid.Len()),
		zap.Float64("sealevel", w.Attributes().Sealevel),
		zap.Duration("elapsed", time.Since(start)),
	)

	return &Runner{
		id:       id,
		settings: settings.Simulation,
		log:      logger,
		world:    w,
		resume:   make(chan struct{}),
	}, nil
}

// ID identifies the instance in logs and snapshots.
func (r *Runner) ID() uuid.UUID {
	return r.id
}

// OnStep registers fn to run after every timestep, outside the world lock.
func (r *Runner) OnStep(fn func(world.UpdateTask)) {
	r.onStep = append(r.onStep, fn)
}

// View calls fn with the world while no timestep is running.
func (r *Runner) View(fn func(w *world.World)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn(r.world)
}

// Age returns the simulated age in million years.
func (r *Runner) Age() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.world.Age()
}

// Steps returns the number of completed timesteps.
func (r *Runner) Steps() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.steps
}

// SetPaused stops or restarts the timestep loop.
func (r *Runner) SetPaused(paused bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.paused == paused {
		return
	}
	r.paused = paused
	if !paused {
		close(r.resume)
		r.resume = make(chan struct{})
	}
	r.log.Info("pause changed", zap.Bool("paused", paused))
}

// Paused reports whether the loop is paused.
func (r *Runner) Paused() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.paused
}

func (r *Runner) done() bool {
	if r.settings.TargetAge > 0 && r.world.Age() >= r.settings.TargetAge {
		return true
	}
	return r.settings.MaxSteps > 0 && r.steps >= r.settings.MaxSteps
}

// Run advances the world until the target age or step count is reached or
// ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	for {
		r.mu.RLock()
		finished, paused, resume := r.done(), r.paused, r.resume
		r.mu.RUnlock()
		if finished {
			return nil
		}
		if paused {
			select {
			case <-ctx.Done():
				return nil
			case <-resume:
			}
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		task, err := r.step()
		if err != nil {
			return err
		}
		for _, fn := range r.onStep {
			fn(task)
		}
	}
}

func (r *Runner) step() (world.UpdateTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, err := r.world.ProgressByTimestep(r.settings.MinTimestep)
	if err != nil {
		return task, fmt.Errorf("step %d: %w", r.steps, err)
	}
	r.steps++
	r.log.Info("timestep",
		zap.Int("step", r.steps),
		zap.Float64("age", r.world.Age()),
		zap.Float64("timestep", task.Timestep),
		zap.Int("plates", r.world.PlateCount()),
		zap.Float64("sealevel", r.world.Attributes().Sealevel),
		zap.Duration("movement", task.Movement),
		zap.Duration("transition", task.Transition),
		zap.Duration("modification", task.Modification),
	)
	return task, nil
}
