package world

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"worldbuilder/core"
)

// Timestep picks the step for the next update: the time the fastest pair of
// plates needs to slide one cell past each other, clamped to
// [minTimestep, MaxTimestep].
func (w *World) Timestep(minTimestep float64) float64 {
	plates := w.sortedPlates()
	fastest := 0.0
	for i, a := range plates {
		va := a.LocalToWorld(a.Pole).Mul(a.AngularSpeed)
		for _, b := range plates[i+1:] {
			vb := b.LocalToWorld(b.Pole).Mul(b.AngularSpeed)
			if rel := va.Sub(vb).Len(); rel > fastest {
				fastest = rel
			}
		}
	}
	if fastest <= 0 {
		return w.settings.MaxTimestep
	}
	return core.Clamp(w.cellSmallAngle/fastest, minTimestep, w.settings.MaxTimestep)
}

// ProgressByTimestep advances the world by one adaptive timestep. An error
// leaves the world in an undefined state; callers should discard it.
func (w *World) ProgressByTimestep(minTimestep float64) (UpdateTask, error) {
	var task UpdateTask
	if len(w.plates) == 0 {
		return task, nil
	}
	if err := w.Validate(); err != nil {
		return task, fmt.Errorf("before timestep at age %.2f: %w", w.age, err)
	}

	dt := w.Timestep(minTimestep)
	task.Timestep = dt
	w.age += dt

	start := time.Now()
	if err := w.movementPhase(dt); err != nil {
		return task, fmt.Errorf("movement at age %.2f: %w", w.age, err)
	}
	task.Movement = time.Since(start)

	start = time.Now()
	if err := w.transitionPhase(dt); err != nil {
		return task, fmt.Errorf("transition at age %.2f: %w", w.age, err)
	}
	task.Transition = time.Since(start)

	start = time.Now()
	if err := w.modificationPhase(dt); err != nil {
		return task, fmt.Errorf("modification at age %.2f: %w", w.age, err)
	}
	task.Modification = time.Since(start)

	w.log.Debug("timestep",
		zap.Float64("age", w.age),
		zap.Float64("timestep", dt),
		zap.Int("plates", len(w.plates)),
		zap.Float64("sealevel", w.attributes.Sealevel),
	)
	return task, nil
}
