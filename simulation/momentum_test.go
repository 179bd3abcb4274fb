package simulation

import (
	"errors"
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"go.uber.org/zap"

	"worldbuilder/core"
)

// twoPlates splits a small icosphere into a northern and a southern plate
// spinning about the same pole.
func twoPlates(t *testing.T) (*core.Grid, map[uint32]*Plate) {
	t.Helper()
	grid, err := core.NewIcosphere(2)
	if err != nil {
		t.Fatalf("NewIcosphere: %v", err)
	}
	north := NewPlate(0, grid.Len())
	south := NewPlate(1, grid.Len())
	for _, p := range []*Plate{north, south} {
		p.Pole = mgl64.Vec3{0, 0, 1}
		p.AngularSpeed = 0.01
	}
	for i := 0; i < grid.Len(); i++ {
		v := uint32(i)
		cell := NewPlateCell(v)
		cell.Rock.Oceanic = core.RockSegment{Thickness: 6000, Density: 2890}
		cell.Rock.Root = core.RockSegment{Thickness: 84000, Density: 3200}
		if grid.Position(v).Z() >= 0 {
			north.Cells[v] = cell
		} else {
			south.Cells[v] = cell
		}
	}
	return grid, map[uint32]*Plate{0: north, 1: south}
}

func totalMomentum(grid *core.Grid, plates map[uint32]*Plate) float64 {
	total := 0.0
	for _, p := range plates {
		p.UpdateCellRadii(grid)
		total += p.Momentum()
	}
	return total
}

// equatorCell returns a northern cell far from the pole.
func equatorCell(grid *core.Grid, p *Plate) *PlateCell {
	var best *PlateCell
	for _, v := range p.Vertices() {
		if best == nil || math.Abs(grid.Position(v).Z()) < math.Abs(grid.Position(best.Vertex).Z()) {
			best = p.Cells[v]
		}
	}
	return best
}

func TestMomentumConservation(t *testing.T) {
	tests := []struct {
		name       string
		friction   float64
		collisions int
	}{
		{"transfer only", 0, 0},
		{"transfer with friction", 0.01, 3},
		{"strong friction", 0.5, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			grid, plates := twoPlates(t)
			tracker := NewAngularMomentumTracker(plates, grid, tt.friction, zap.NewNop())
			before := totalMomentum(grid, plates)

			cell := equatorCell(grid, plates[0])
			if err := tracker.TransferMomentumOfCell(0, 1, cell); err != nil {
				t.Fatalf("TransferMomentumOfCell: %v", err)
			}
			for i := 0; i < tt.collisions; i++ {
				tracker.AddCollision(0, 1)
			}
			if err := tracker.CommitTransfer(); err != nil {
				t.Fatalf("CommitTransfer: %v", err)
			}

			after := totalMomentum(grid, plates)
			want := before - tracker.FrictionLoss()
			if math.Abs(after-want) > 1e-9*math.Abs(before) {
				t.Errorf("momentum: got %g, want %g (loss %g)", after, want, tracker.FrictionLoss())
			}
			if tt.collisions > 0 && tracker.FrictionLoss() <= 0 {
				t.Errorf("friction loss: got %g, want > 0", tracker.FrictionLoss())
			}
			if tt.collisions == 0 && tracker.FrictionLoss() != 0 {
				t.Errorf("friction loss: got %g, want 0", tracker.FrictionLoss())
			}
		})
	}
}

func TestTransferChangesSpeeds(t *testing.T) {
	grid, plates := twoPlates(t)
	tracker := NewAngularMomentumTracker(plates, grid, 0, zap.NewNop())
	if err := tracker.TransferMomentumOfCell(0, 1, equatorCell(grid, plates[0])); err != nil {
		t.Fatalf("TransferMomentumOfCell: %v", err)
	}
	if err := tracker.CommitTransfer(); err != nil {
		t.Fatalf("CommitTransfer: %v", err)
	}
	if plates[0].AngularSpeed >= 0.01 {
		t.Errorf("source speed: got %f, want < 0.01", plates[0].AngularSpeed)
	}
	if plates[1].AngularSpeed <= 0.01 {
		t.Errorf("destination speed: got %f, want > 0.01", plates[1].AngularSpeed)
	}
	if !plates[1].Pole.ApproxEqualThreshold(mgl64.Vec3{0, 0, 1}, 1e-12) {
		t.Errorf("pole: got %v, want %v", plates[1].Pole, mgl64.Vec3{0, 0, 1})
	}
}

func TestDegenerateMomentumIsRecovered(t *testing.T) {
	grid, plates := twoPlates(t)
	plates[0].AngularSpeed = 0
	plates[0].Pole = mgl64.Vec3{1, 0, 0}

	tracker := NewAngularMomentumTracker(plates, grid, 0, zap.NewNop())
	if err := tracker.CommitTransfer(); err != nil {
		t.Fatalf("CommitTransfer: %v", err)
	}
	if plates[0].Pole != core.NorthPole {
		t.Errorf("pole: got %v, want %v", plates[0].Pole, core.NorthPole)
	}
	if plates[0].AngularSpeed != degenerateSpeed {
		t.Errorf("speed: got %g, want %g", plates[0].AngularSpeed, degenerateSpeed)
	}
}

func TestMissingPlate(t *testing.T) {
	grid, plates := twoPlates(t)
	tracker := NewAngularMomentumTracker(plates, grid, 0, zap.NewNop())
	cell := equatorCell(grid, plates[0])

	if err := tracker.TransferMomentumOfCell(0, 7, cell); !errors.Is(err, ErrMissingPlate) {
		t.Errorf("unknown destination: got %v, want ErrMissingPlate", err)
	}
	if err := tracker.TransferMomentumOfCell(7, 0, cell); !errors.Is(err, ErrMissingPlate) {
		t.Errorf("unknown source: got %v, want ErrMissingPlate", err)
	}

	delete(plates, 1)
	if err := tracker.CommitTransfer(); !errors.Is(err, ErrMissingPlate) {
		t.Errorf("commit after delete: got %v, want ErrMissingPlate", err)
	}
}

func TestSelfCollisionIgnored(t *testing.T) {
	grid, plates := twoPlates(t)
	tracker := NewAngularMomentumTracker(plates, grid, 0.01, zap.NewNop())
	tracker.AddCollision(0, 0)
	if got := tracker.Collisions(0, 0); got != 0 {
		t.Errorf("self collisions: got %d, want 0", got)
	}
}
