package world

import (
	"errors"
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"go.uber.org/zap"

	"worldbuilder/config"
	"worldbuilder/core"
	"worldbuilder/simulation"
)

// newTestWorld builds a world over an icosphere of the given level. edit may
// adjust the settings before construction.
func newTestWorld(t *testing.T, level int, seed uint64, edit func(*config.WorldSettings)) *World {
	t.Helper()
	grid, err := core.NewIcosphere(level)
	if err != nil {
		t.Fatalf("NewIcosphere: %v", err)
	}
	settings := config.DefaultWorld()
	settings.Workers = 2
	if edit != nil {
		edit(&settings)
	}
	w, err := New(grid, settings, simulation.NewRandom(seed), zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return w
}

// oceanColumn is a plain oceanic column with some loose sediment.
func oceanColumn(sediment float64) core.RockColumn {
	c := core.NewRockColumn()
	c.Sediment = core.RockSegment{Thickness: sediment, Density: 2700}
	c.Oceanic = core.RockSegment{Thickness: 6000, Density: 2890}
	c.Root = core.RockSegment{Thickness: 84000, Density: 3200}
	return c
}

func TestNew(t *testing.T) {
	w := newTestWorld(t, 2, 1, nil)
	n := w.Grid().Len()

	if w.PlateCount() != 1 {
		t.Fatalf("plates: got %d, want 1", w.PlateCount())
	}
	p, err := w.Plate(w.PlateIDs()[0])
	if err != nil {
		t.Fatalf("Plate: %v", err)
	}
	if len(p.Cells) != n {
		t.Errorf("cells: got %d, want %d", len(p.Cells), n)
	}

	attrs := w.Attributes()
	wantArea := 4 * math.Pi * 6367 * 6367 / float64(n)
	if math.Abs(attrs.CellArea-wantArea) > 1e-6 {
		t.Errorf("cell area: got %f, want %f", attrs.CellArea, wantArea)
	}
	if attrs.TotalSeaDepth != float64(n)*2510 {
		t.Errorf("total sea depth: got %f, want %f", attrs.TotalSeaDepth, float64(n)*2510)
	}
	if attrs.Sealevel != 9620 {
		t.Errorf("initial sealevel: got %f, want 9620", attrs.Sealevel)
	}
	if err := w.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestNewRejectsInvalidSettings(t *testing.T) {
	grid, err := core.NewIcosphere(1)
	if err != nil {
		t.Fatalf("NewIcosphere: %v", err)
	}
	settings := config.DefaultWorld()
	settings.Radius = -1
	if _, err := New(grid, settings, simulation.NewRandom(1), zap.NewNop()); err == nil {
		t.Error("New: got nil error for negative radius")
	}
}

func TestPlateLookup(t *testing.T) {
	w := newTestWorld(t, 1, 1, nil)
	if _, err := w.Plate(12345); !errors.Is(err, ErrMissingPlate) {
		t.Errorf("Plate: got %v, want ErrMissingPlate", err)
	}
	if _, _, err := w.cell(simulation.CellRef{Plate: 12345}); !errors.Is(err, ErrMissingPlate) {
		t.Errorf("cell: got %v, want ErrMissingPlate", err)
	}
}

func TestUniformGeneratorSettles(t *testing.T) {
	w := newTestWorld(t, 2, 3, nil)
	column := oceanColumn(100)
	if err := w.Generate(UniformGenerator{Column: column}); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	p, _ := w.Plate(w.PlateIDs()[0])
	c := p.Cells[0]
	if c.BaseOffset >= 0 {
		t.Errorf("base offset: got %f, want negative", c.BaseOffset)
	}
	// every column is equal, so the ocean stands at the same depth everywhere
	depth := w.Attributes().Sealevel - c.Elevation()
	if math.Abs(depth-2510) > 1e-6 {
		t.Errorf("ocean depth: got %f, want 2510", depth)
	}
	if c.Precipitation <= 0 {
		t.Errorf("precipitation: got %f, want > 0", c.Precipitation)
	}
}

func TestBasicGenerator(t *testing.T) {
	w := newTestWorld(t, 3, 11, nil)
	if err := w.Generate(NewBasicGenerator(w.Random())); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	p, _ := w.Plate(w.PlateIDs()[0])
	continental, oceanic := 0, 0
	for _, c := range p.Cells {
		if c.IsContinental() {
			continental++
		} else if c.Rock.Oceanic.Thickness == 6000 {
			oceanic++
		}
	}
	if continental == 0 || oceanic == 0 {
		t.Errorf("got %d continental and %d oceanic cells, want both", continental, oceanic)
	}
	if continental+oceanic != len(p.Cells) {
		t.Errorf("classified %d cells, want %d", continental+oceanic, len(p.Cells))
	}
}

func TestGeneratorNeedsSinglePlate(t *testing.T) {
	w := newTestWorld(t, 2, 5, nil)
	if err := w.Generate(UniformGenerator{Column: oceanColumn(0)}); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	w.splitPlate(w.plates[w.PlateIDs()[0]])
	if err := w.Generate(UniformGenerator{Column: oceanColumn(0)}); err == nil {
		t.Error("Generate on split world: got nil error")
	}
}

func TestTimestep(t *testing.T) {
	tests := []struct {
		name  string
		speed float64
		min   float64
		want  func(w *World) float64
	}{
		{"single plate uses the maximum", 0, 0.25, func(w *World) float64 { return 10 }},
		{"fast plates clamp to the minimum", 100, 0.25, func(w *World) float64 { return 0.25 }},
		{"slow plates cross one cell", 0.1, 0.01, func(w *World) float64 {
			// opposite poles double the relative speed
			return w.cellSmallAngle / 0.2
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newTestWorld(t, 2, 7, nil)
			if tt.speed > 0 {
				if err := w.Generate(UniformGenerator{Column: oceanColumn(0)}); err != nil {
					t.Fatalf("Generate: %v", err)
				}
				w.splitPlate(w.plates[w.PlateIDs()[0]])
				for i, p := range w.sortedPlates() {
					p.Pole = core.NorthPole
					if i%2 == 1 {
						p.Pole = core.NorthPole.Mul(-1)
					}
					p.AngularSpeed = tt.speed
				}
			}
			want := core.Clamp(tt.want(w), tt.min, 10)
			if got := w.Timestep(tt.min); math.Abs(got-want) > 1e-9 {
				t.Errorf("Timestep: got %f, want %f", got, want)
			}
		})
	}
}

func TestLocationInfo(t *testing.T) {
	w := newTestWorld(t, 2, 9, nil)
	if err := w.Generate(UniformGenerator{Column: oceanColumn(42)}); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	id := w.PlateIDs()[0]

	tests := []struct {
		name      string
		dir       mgl64.Vec3
		wantPlate uint32
	}{
		{"north pole", core.NorthPole, id},
		{"unnormalized direction", mgl64.Vec3{3, -2, 1}, id},
		{"zero direction", mgl64.Vec3{}, NoPlate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := w.LocationInfo(tt.dir)
			if info.Plate != tt.wantPlate {
				t.Errorf("plate: got %d, want %d", info.Plate, tt.wantPlate)
			}
			if tt.wantPlate != NoPlate && info.Sediment != 42 {
				t.Errorf("sediment: got %f, want 42", info.Sediment)
			}
		})
	}

	clear(w.plates)
	if info := w.LocationInfo(core.NorthPole); info.Plate != NoPlate {
		t.Errorf("empty world: got plate %d, want NoPlate", info.Plate)
	}
}

func TestValidateDetectsSharedVertex(t *testing.T) {
	w := newTestWorld(t, 2, 13, nil)
	if err := w.Generate(UniformGenerator{Column: oceanColumn(0)}); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	w.splitPlate(w.plates[w.PlateIDs()[0]])
	if err := w.Validate(); err != nil {
		t.Fatalf("Validate after split: %v", err)
	}

	ids := w.PlateIDs()
	a, b := w.plates[ids[0]], w.plates[ids[1]]
	for v := range a.Cells {
		b.Cells[v] = simulation.NewPlateCell(v)
		break
	}
	if err := w.Validate(); !errors.Is(err, core.ErrInvariant) {
		t.Errorf("Validate: got %v, want ErrInvariant", err)
	}
}

func TestValidateDetectsOverlapAcrossFrames(t *testing.T) {
	tests := []struct {
		name    string
		knit    bool
		wantErr bool
	}{
		{name: "no contact", knit: false, wantErr: true},
		{name: "knitted contact", knit: true, wantErr: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newTestWorld(t, 2, 19, nil)
			if err := w.Generate(UniformGenerator{Column: oceanColumn(0)}); err != nil {
				t.Fatalf("Generate: %v", err)
			}

			// a small plate turned against the whole-sphere one, stacked on top of it
			b := w.newPlate(4)
			b.Rotation = core.RotationAbout(core.NorthPole, 0.3)
			start := uint32(0)
			for _, v := range append([]uint32{start}, w.grid.Neighbors(start)...) {
				c := simulation.NewPlateCell(v)
				c.Rock = oceanColumn(10)
				b.Cells[v] = c
			}
			b.UpdateEdges(w.grid, w.cellSmallAngle)
			w.plates[b.ID] = b
			if tt.knit {
				w.knitPlates()
			}

			err := w.Validate()
			if got := errors.Is(err, core.ErrInvariant); got != tt.wantErr {
				t.Errorf("Validate: got %v, want invariant error %v", err, tt.wantErr)
			}
		})
	}
}

func TestSplitPlatePartitionsCells(t *testing.T) {
	w := newTestWorld(t, 3, 17, nil)
	if err := w.Generate(NewBasicGenerator(w.Random())); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	original := w.plates[w.PlateIDs()[0]]
	total := len(original.Cells)
	before := w.NetRock()

	if !w.splitPlate(original) {
		t.Fatal("splitPlate: got false")
	}
	if _, err := w.Plate(original.ID); !errors.Is(err, ErrMissingPlate) {
		t.Errorf("old plate: got %v, want ErrMissingPlate", err)
	}
	seen := 0
	for _, p := range w.sortedPlates() {
		seen += len(p.Cells)
		if p.Rotation != original.Rotation {
			t.Errorf("plate %d: rotation not inherited", p.ID)
		}
	}
	if seen != total {
		t.Errorf("cells after split: got %d, want %d", seen, total)
	}
	if after := w.NetRock(); math.Abs(after.Mass()-before.Mass()) > 1e-9*before.Mass() {
		t.Errorf("mass: got %g, want %g", after.Mass(), before.Mass())
	}
}

func TestSupercontinentCycleReachesDesiredCount(t *testing.T) {
	w := newTestWorld(t, 3, 19, func(s *config.WorldSettings) { s.DesiredPlateCount = 6 })
	if err := w.Generate(NewBasicGenerator(w.Random())); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	w.supercontinentCycle()
	if w.PlateCount() != 6 {
		t.Errorf("plates: got %d, want 6", w.PlateCount())
	}
	if w.cycleDuration < 0 {
		t.Errorf("cycle duration: got %f, want >= 0", w.cycleDuration)
	}
	if err := w.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestClimate(t *testing.T) {
	tests := []struct {
		name  string
		lat   float64
		above float64
		want  float64
	}{
		{"equator at sea level", 0, 0, 35},
		{"pole", math.Pi / 2, 0, -15},
		{"equator at 2 km", 0, 2000, 25},
		{"no lapse below the sea", 0, -500, 35},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Temperature(tt.lat, tt.above); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Temperature: got %f, want %f", got, tt.want)
			}
		})
	}

	if got := Precipitation(0); math.Abs(got-4.321876) > 1e-5 {
		t.Errorf("Precipitation(0): got %f, want 4.321876", got)
	}
	if Precipitation(0.872665) <= Precipitation(0.6) {
		t.Error("Precipitation: want a mid-latitude peak")
	}
}

func TestProgressByTimestep(t *testing.T) {
	w := newTestWorld(t, 2, 23, nil)
	if err := w.Generate(NewBasicGenerator(w.Random())); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	age := 0.0
	for step := 0; step < 4; step++ {
		task, err := w.ProgressByTimestep(0.25)
		if err != nil {
			t.Fatalf("step %d: %v", step, err)
		}
		if task.Timestep < 0.25 || task.Timestep > 10 {
			t.Errorf("step %d: timestep %f outside [0.25, 10]", step, task.Timestep)
		}
		age += task.Timestep
		if math.Abs(w.Age()-age) > 1e-9 {
			t.Errorf("step %d: age %f, want %f", step, w.Age(), age)
		}
		if err := w.Validate(); err != nil {
			t.Errorf("step %d: Validate: %v", step, err)
		}
		if w.PlateCount() == 0 {
			t.Fatalf("step %d: no plates left", step)
		}
		if s := w.Attributes().Sealevel; math.IsNaN(s) || math.IsInf(s, 0) {
			t.Errorf("step %d: sealevel %f", step, s)
		}
	}
}

func TestProgressOnFinerGrid(t *testing.T) {
	tests := []struct {
		name string
		seed uint64
	}{
		{"first world", 3},
		{"second world", 31},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newTestWorld(t, 4, tt.seed, nil)
			if err := w.Generate(NewBasicGenerator(w.Random())); err != nil {
				t.Fatalf("Generate: %v", err)
			}
			for step := 0; step < 10; step++ {
				if _, err := w.ProgressByTimestep(0.1); err != nil {
					t.Fatalf("step %d: %v", step, err)
				}
				if m := w.NetRock().Mass(); math.IsNaN(m) || math.IsInf(m, 0) || m <= 0 {
					t.Fatalf("step %d: net mass %v", step, m)
				}
			}
			if err := w.Validate(); err != nil {
				t.Errorf("Validate: %v", err)
			}
			if w.PlateCount() == 0 {
				t.Error("no plates left")
			}
		})
	}
}

func TestProgressIsDeterministic(t *testing.T) {
	run := func() []float64 {
		w := newTestWorld(t, 2, 29, nil)
		if err := w.Generate(NewBasicGenerator(w.Random())); err != nil {
			t.Fatalf("Generate: %v", err)
		}
		var out []float64
		for step := 0; step < 3; step++ {
			if _, err := w.ProgressByTimestep(0.25); err != nil {
				t.Fatalf("step %d: %v", step, err)
			}
			out = append(out, w.Attributes().Sealevel, w.NetRock().Mass())
		}
		return out
	}
	a, b := run(), run()
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("value %d: got %v and %v from equal seeds", i, a[i], b[i])
		}
	}
}
