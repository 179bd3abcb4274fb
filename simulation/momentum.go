package simulation

import (
	"cmp"
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"

	"github.com/go-gl/mathgl/mgl64"
	"go.uber.org/zap"

	"worldbuilder/core"
)

// ErrMissingPlate is returned when a plate id is used after the plate was removed.
var ErrMissingPlate = errors.New("missing plate")

const (
	// degenerateSpeed replaces the speed of a plate whose momentum vanished.
	degenerateSpeed = 1e-5
	// invalidSpeed replaces a non-finite speed.
	invalidSpeed = 1e-9
)

type platePair struct {
	src, dst uint32
}

func comparePairs(a, b platePair) int {
	if c := cmp.Compare(a.src, b.src); c != 0 {
		return c
	}
	return cmp.Compare(a.dst, b.dst)
}

type startState struct {
	momentum float64
	cells    int
}

// AngularMomentumTracker collects momentum exchanges for one timestep and
// applies them to the plates in a single commit.
type AngularMomentumTracker struct {
	plates     map[uint32]*Plate
	grid       *core.Grid
	friction   float64
	start      map[uint32]startState
	transfers  map[platePair]float64
	collisions map[platePair]int
	lost       float64
	logger     *zap.Logger
}

// NewAngularMomentumTracker snapshots the starting momentum and surface size
// of every plate.
func NewAngularMomentumTracker(plates map[uint32]*Plate, grid *core.Grid, friction float64, logger *zap.Logger) *AngularMomentumTracker {
	t := &AngularMomentumTracker{
		plates:     plates,
		grid:       grid,
		friction:   friction,
		start:      make(map[uint32]startState, len(plates)),
		transfers:  make(map[platePair]float64),
		collisions: make(map[platePair]int),
		logger:     logger,
	}
	for id, p := range plates {
		p.UpdateCellRadii(grid)
		t.start[id] = startState{momentum: p.Momentum(), cells: p.SurfaceSize()}
	}
	return t
}

// TransferMomentumOfCell records that cell's mass moves from src to dst,
// carrying the momentum it had on src.
func (t *AngularMomentumTracker) TransferMomentumOfCell(src, dst uint32, cell *PlateCell) error {
	from, ok := t.plates[src]
	if !ok {
		return fmt.Errorf("transfer from plate %d: %w", src, ErrMissingPlate)
	}
	if _, ok := t.plates[dst]; !ok {
		return fmt.Errorf("transfer to plate %d: %w", dst, ErrMissingPlate)
	}
	t.transfers[platePair{src, dst}] += cell.Rock.Mass() * cell.PoleRadius * from.AngularSpeed
	return nil
}

// AddCollision records one boundary contact between two plates.
func (t *AngularMomentumTracker) AddCollision(src, dst uint32) {
	if src == dst {
		return
	}
	t.collisions[platePair{src, dst}]++
}

// Collisions returns the number of contacts recorded from src against dst.
func (t *AngularMomentumTracker) Collisions(src, dst uint32) int {
	return t.collisions[platePair{src, dst}]
}

// FrictionLoss returns the momentum magnitude removed by friction in the
// last commit.
func (t *AngularMomentumTracker) FrictionLoss() float64 {
	return t.lost
}

// CommitTransfer applies every recorded transfer and the friction loss,
// then sets each plate's pole and speed from its new momentum vector.
func (t *AngularMomentumTracker) CommitTransfer() error {
	ids := slices.Sorted(maps.Keys(t.start))
	vectors := make(map[uint32]mgl64.Vec3, len(ids))
	for _, id := range ids {
		p, ok := t.plates[id]
		if !ok {
			return fmt.Errorf("commit plate %d: %w", id, ErrMissingPlate)
		}
		vectors[id] = p.Pole.Mul(t.start[id].momentum)
	}

	pairs := slices.SortedFunc(maps.Keys(t.transfers), comparePairs)
	for _, pair := range pairs {
		src, ok := t.plates[pair.src]
		if !ok {
			return fmt.Errorf("commit transfer from plate %d: %w", pair.src, ErrMissingPlate)
		}
		if _, ok := vectors[pair.dst]; !ok {
			return fmt.Errorf("commit transfer to plate %d: %w", pair.dst, ErrMissingPlate)
		}
		delta := src.Pole.Mul(t.transfers[pair])
		vectors[pair.src] = vectors[pair.src].Sub(delta)
		vectors[pair.dst] = vectors[pair.dst].Add(delta)
	}

	t.lost = 0
	for _, id := range ids {
		t.lost += t.applyFriction(id, vectors)
	}

	for _, id := range ids {
		p := t.plates[id]
		if len(p.Cells) == 0 {
			continue
		}
		t.settle(p, vectors[id])
	}
	return nil
}

// applyFriction removes the frictional share of a plate's starting momentum
// along its current momentum direction.
func (t *AngularMomentumTracker) applyFriction(id uint32, vectors map[uint32]mgl64.Vec3) float64 {
	s := t.start[id]
	if t.friction == 0 || s.cells == 0 {
		return 0
	}
	loss := 0.0
	for other := range t.start {
		if other == id {
			continue
		}
		combined := t.collisions[platePair{id, other}] + t.collisions[platePair{other, id}]
		if combined == 0 {
			continue
		}
		fraction := math.Min(1, float64(combined)/float64(2*s.cells))
		loss += t.friction * fraction * math.Abs(s.momentum)
	}
	v := vectors[id]
	mag := v.Len()
	if mag == 0 || loss == 0 {
		return 0
	}
	loss = math.Min(loss, mag)
	vectors[id] = v.Mul((mag - loss) / mag)
	return loss
}

func (t *AngularMomentumTracker) settle(p *Plate, v mgl64.Vec3) {
	mag := v.Len()
	if mag == 0 || math.IsNaN(mag) || math.IsInf(mag, 0) {
		t.logger.Warn("degenerate plate momentum, resetting rotation",
			zap.Uint32("plate", p.ID),
			zap.Float64("magnitude", mag))
		p.Pole = core.NorthPole
		p.AngularSpeed = degenerateSpeed
		return
	}
	p.Pole = v.Mul(1 / mag)
	p.UpdateCellRadii(t.grid)
	speed := mag / p.MassRadius()
	if math.IsNaN(speed) || math.IsInf(speed, 0) {
		t.logger.Warn("non-finite plate speed",
			zap.Uint32("plate", p.ID),
			zap.Float64("magnitude", mag),
			zap.Float64("speed", speed))
		speed = invalidSpeed
	}
	p.AngularSpeed = speed
}
