// Package world runs the tectonic simulation: plates move, collide, rift and
// erode on a fixed spherical grid, one timestep at a time.
package world

import (
	"fmt"
	"maps"
	"math"
	"slices"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"go.uber.org/zap"

	"worldbuilder/config"
	"worldbuilder/core"
	"worldbuilder/physics"
	"worldbuilder/simulation"
)

// NoPlate is reported by LocationInfo when no plate covers a direction.
const NoPlate = math.MaxUint32

// ErrMissingPlate is returned when a plate id outlives the plate.
var ErrMissingPlate = simulation.ErrMissingPlate

// UpdateTask reports one call of ProgressByTimestep.
type UpdateTask struct {
	Timestep     float64
	Movement     time.Duration
	Transition   time.Duration
	Modification time.Duration
}

// Location is the surface state at one direction.
type Location struct {
	Elevation     float64 `json:"elevation"`
	Sediment      float64 `json:"sediment"`
	Temperature   float64 `json:"temperature"`
	Precipitation float64 `json:"precipitation"`
	Plate         uint32  `json:"plate"`
}

// World owns every plate and drives the three phases of a timestep. A World
// is not safe for concurrent use; read queries may run in parallel only
// between timesteps.
type World struct {
	settings config.WorldSettings
	grid     *core.Grid
	random   *simulation.Random
	pool     *physics.WorkerPool
	log      *zap.Logger

	attributes  simulation.Attributes
	plates      map[uint32]*simulation.Plate
	nextPlateID uint32
	age         float64

	cellSmallAngle     float64
	cellDistanceMeters float64
	divergentOceanic   core.RockColumn

	cycleStart    float64
	cycleDuration float64

	hotspots        []*hotspot
	hotspotBudget   float64
	momentumTracker *simulation.AngularMomentumTracker
}

// New creates a world with a single plate covering the grid. The plate's
// rock is empty until a Generator fills it.
func New(grid *core.Grid, settings config.WorldSettings, random *simulation.Random, logger *zap.Logger) (*World, error) {
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("world settings: %w", err)
	}
	if grid.Len() == 0 {
		return nil, core.Invariantf("world grid has no vertices")
	}

	n := float64(grid.Len())
	v0 := grid.Vertex(0)
	w := &World{
		settings: settings,
		grid:     grid,
		random:   random,
		pool:     physics.NewWorkerPool(settings.Workers),
		log:      logger,
		attributes: simulation.Attributes{
			MantleDensity: settings.MantleDensity,
			WaterDensity:  settings.WaterDensity,
			Radius:        settings.Radius,
			Sealevel:      settings.InitialSealevel,
			TotalSeaDepth: n * settings.WaterDepth,
			CellArea:      4 * math.Pi * settings.Radius * settings.Radius / n,
		},
		plates:         make(map[uint32]*simulation.Plate),
		cellSmallAngle: grid.SmallestAngle(),
		divergentOceanic: core.RockColumn{
			Sediment:    core.EmptySegment,
			Continental: core.EmptySegment,
			Oceanic:     core.RockSegment{Thickness: settings.Oceanic.OceanicThickness, Density: settings.Oceanic.OceanicDensity},
			Root:        core.RockSegment{Thickness: settings.Oceanic.RootThickness, Density: settings.Oceanic.RootDensity},
		},
	}
	if len(v0.Neighbors) > 0 {
		w.cellDistanceMeters = core.Chord(v0.Position, grid.Position(v0.Neighbors[0])) * settings.Radius * 1000
	}

	first := w.newPlate(grid.Len())
	for i := 0; i < grid.Len(); i++ {
		first.Cells[uint32(i)] = simulation.NewPlateCell(uint32(i))
	}
	w.plates[first.ID] = first

	w.log.Info("world created",
		zap.Int("vertices", grid.Len()),
		zap.Float64("cellSmallAngle", w.cellSmallAngle),
		zap.Float64("cellArea", w.attributes.CellArea),
	)
	return w, nil
}

// newPlate allocates a plate with a random pole, speed and density offset.
func (w *World) newPlate(capacity int) *simulation.Plate {
	p := simulation.NewPlate(w.nextPlateID, capacity)
	w.nextPlateID++
	p.Pole = w.random.PointOnSphere()
	p.AngularSpeed = w.randomPlateSpeed()
	p.DensityOffset = w.random.Normal(0, 1)
	return p
}

func (w *World) randomPlateSpeed() float64 {
	return w.random.Normal(w.settings.PlateSpeedMean, w.settings.PlateSpeedStdDev)
}

// Generate lets g seed the initial rock and then derives plate geometry,
// isostasy, sea level and climate from it.
func (w *World) Generate(g Generator) error {
	if err := g.Generate(w); err != nil {
		return fmt.Errorf("generate: %w", err)
	}
	if err := w.Validate(); err != nil {
		return fmt.Errorf("generate: %w", err)
	}
	w.settle(0)
	return nil
}

// settle rebuilds everything derived from the rock and plate layout.
func (w *World) settle(dt float64) {
	for _, p := range w.sortedPlates() {
		p.UpdateEdges(w.grid, w.cellSmallAngle)
	}
	w.knitPlates()
	w.homeostasis(dt)
	w.updateSealevel()
	w.updateClimate()
}

// Age returns the simulated time in million years.
func (w *World) Age() float64 {
	return w.age
}

// Attributes returns the planet constants and current sea level.
func (w *World) Attributes() simulation.Attributes {
	return w.attributes
}

// Grid returns the shared vertex grid.
func (w *World) Grid() *core.Grid {
	return w.grid
}

// Random returns the world's random source.
func (w *World) Random() *simulation.Random {
	return w.random
}

// Pool returns the worker pool used for per-plate work.
func (w *World) Pool() *physics.WorkerPool {
	return w.pool
}

// PlateCount returns the number of live plates.
func (w *World) PlateCount() int {
	return len(w.plates)
}

// Plate looks up a plate by id.
func (w *World) Plate(id uint32) (*simulation.Plate, error) {
	p, ok := w.plates[id]
	if !ok {
		return nil, fmt.Errorf("plate %d: %w", id, ErrMissingPlate)
	}
	return p, nil
}

// PlateIDs returns the live plate ids in ascending order.
func (w *World) PlateIDs() []uint32 {
	return slices.Sorted(maps.Keys(w.plates))
}

func (w *World) sortedPlates() []*simulation.Plate {
	ids := w.PlateIDs()
	out := make([]*simulation.Plate, len(ids))
	for i, id := range ids {
		out[i] = w.plates[id]
	}
	return out
}

// cell resolves a reference through the plate arena. A removed cell is a
// miss; a removed plate is an error.
func (w *World) cell(ref simulation.CellRef) (*simulation.PlateCell, bool, error) {
	p, ok := w.plates[ref.Plate]
	if !ok {
		return nil, false, fmt.Errorf("cell %d of plate %d: %w", ref.Vertex, ref.Plate, ErrMissingPlate)
	}
	c, ok := p.Cell(ref.Vertex)
	return c, ok, nil
}

// LocationInfo samples the surface in the world direction dir. Surface
// cells win over subduction markers; plates are searched in id order.
func (w *World) LocationInfo(dir mgl64.Vec3) Location {
	info := Location{Plate: NoPlate}
	unit, ok := core.SafeNormalize(dir)
	if !ok {
		return info
	}
	var fallback *simulation.PlateCell
	var fallbackPlate uint32
	for _, p := range w.sortedPlates() {
		local := p.WorldToLocal(unit)
		if !p.Covers(local) {
			continue
		}
		nearest := w.grid.NearestVertex(local, p.CenterVertex)
		c, ok := p.Cell(nearest)
		if !ok {
			continue
		}
		if c.IsSubducted() {
			if fallback == nil {
				fallback, fallbackPlate = c, p.ID
			}
			continue
		}
		return locationOf(c, p.ID)
	}
	if fallback != nil {
		return locationOf(fallback, fallbackPlate)
	}
	return info
}

func locationOf(c *simulation.PlateCell, plate uint32) Location {
	return Location{
		Elevation:     c.Elevation(),
		Sediment:      c.Rock.Sediment.Thickness,
		Temperature:   c.Temperature,
		Precipitation: c.Precipitation,
		Plate:         plate,
	}
}

// NetRock accretes every cell of every plate into one column.
func (w *World) NetRock() core.RockColumn {
	net := core.NewRockColumn()
	for _, p := range w.sortedPlates() {
		for _, v := range p.Vertices() {
			net = core.Accrete(net, p.Cells[v].Rock)
		}
	}
	return net
}

// Validate checks the structural invariants of the plate arena: cells are
// keyed by their vertex, rock is physically valid and plates never claim the
// same surface.
func (w *World) Validate() error {
	for _, p := range w.sortedPlates() {
		for _, v := range p.Vertices() {
			c := p.Cells[v]
			if c.Vertex != v {
				return core.Invariantf("plate %d: cell keyed %d holds vertex %d", p.ID, v, c.Vertex)
			}
			if int(v) >= w.grid.Len() {
				return core.Invariantf("plate %d: vertex %d outside grid", p.ID, v)
			}
			if err := c.Rock.Validate(); err != nil {
				return fmt.Errorf("plate %d cell %d: %w", p.ID, v, err)
			}
		}
	}
	return w.checkPartition()
}

// checkPartition verifies that no vertex is owned twice among plates whose
// rotations coincide, and that plates with no knitted contact do not overlap
// in the world frame.
func (w *World) checkPartition() error {
	plates := w.sortedPlates()
	for i, a := range plates {
		for _, b := range plates[i+1:] {
			if !a.Rotation.ApproxEqualThreshold(b.Rotation, 1e-12) {
				if err := w.checkDisjoint(a, b); err != nil {
					return err
				}
				continue
			}
			small, large := a, b
			if len(small.Cells) > len(large.Cells) {
				small, large = large, small
			}
			for v := range small.Cells {
				if _, ok := large.Cells[v]; ok {
					return core.Invariantf("vertex %d owned by plates %d and %d", v, a.ID, b.ID)
				}
			}
		}
	}
	return nil
}

// inContact reports whether an edge cell of a records b as a neighbor or as
// a plate it may interact with.
func inContact(a, b *simulation.Plate) bool {
	for v := range a.EdgeCells {
		e := a.Cells[v].Edge
		if e == nil {
			continue
		}
		if _, ok := e.LastNearest[b.ID]; ok {
			return true
		}
		for ref := range e.Neighbors {
			if ref.Plate == b.ID {
				return true
			}
		}
	}
	return false
}

// checkDisjoint rejects a surface cell of either plate that snaps onto a
// surface cell of the other while the two have never been knitted together.
// Colliding plates legitimately overlap along their boundary and are skipped.
func (w *World) checkDisjoint(a, b *simulation.Plate) error {
	if inContact(a, b) || inContact(b, a) || !a.Overlaps(b) {
		return nil
	}
	for _, pair := range [2][2]*simulation.Plate{{a, b}, {b, a}} {
		from, to := pair[0], pair[1]
		frame := from.FrameTo(to)
		hint := to.CenterVertex
		for _, v := range from.Vertices() {
			if !from.Cells[v].IsSurface() {
				continue
			}
			local := frame.Mul3x1(w.grid.Position(v))
			if !to.Covers(local) {
				continue
			}
			hint = w.grid.NearestVertex(local, hint)
			if c, ok := to.Cells[hint]; ok && c.IsSurface() {
				return core.Invariantf("plate %d cell %d lies on plate %d cell %d without contact",
					from.ID, v, to.ID, hint)
			}
		}
	}
	return nil
}
