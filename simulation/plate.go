package simulation

import (
	"maps"
	"math"
	"slices"

	"github.com/go-gl/mathgl/mgl64"

	"worldbuilder/config"
	"worldbuilder/core"
)

// Plate is a rigid rotating patch of crust. Cells are stored in plate-local
// coordinates; Rotation maps them into the world frame.
type Plate struct {
	ID            uint32
	Cells         map[uint32]*PlateCell
	Rotation      mgl64.Mat3
	Pole          mgl64.Vec3 // plate-local, unit length
	AngularSpeed  float64    // radians per million years
	DensityOffset float64

	// Derived each transition by UpdateEdges.
	Center       mgl64.Vec3
	CenterVertex uint32
	HasCenter    bool
	MaxEdgeAngle float64
	EdgeCells    map[uint32]struct{}
	RiftTargets  map[uint32]struct{}
}

// NewPlate creates an empty plate with an identity frame.
func NewPlate(id uint32, capacity int) *Plate {
	return &Plate{
		ID:          id,
		Cells:       make(map[uint32]*PlateCell, capacity),
		Rotation:    mgl64.Ident3(),
		Pole:        core.NorthPole,
		EdgeCells:   make(map[uint32]struct{}),
		RiftTargets: make(map[uint32]struct{}),
	}
}

// Move advances the rotation by AngularSpeed*dt about the pole.
func (p *Plate) Move(dt float64) {
	step := core.RotationAbout(p.Pole, p.AngularSpeed*dt)
	p.Rotation = p.Rotation.Mul3(step)
}

// LocalToWorld maps a plate-local direction to the world frame.
func (p *Plate) LocalToWorld(v mgl64.Vec3) mgl64.Vec3 {
	return p.Rotation.Mul3x1(v)
}

// WorldToLocal maps a world direction into the plate frame.
func (p *Plate) WorldToLocal(v mgl64.Vec3) mgl64.Vec3 {
	return p.Rotation.Transpose().Mul3x1(v)
}

// FrameTo returns the transform from this plate's frame into other's.
func (p *Plate) FrameTo(other *Plate) mgl64.Mat3 {
	return other.Rotation.Transpose().Mul3(p.Rotation)
}

// Covers reports whether a direction in this plate's frame may fall inside
// the plate. A plate without derived geometry covers everything.
func (p *Plate) Covers(local mgl64.Vec3) bool {
	if p.MaxEdgeAngle == 0 {
		return true
	}
	angle := core.AngleBetween(p.Center, local)
	return angle < p.MaxEdgeAngle || math.IsNaN(angle)
}

// Overlaps reports whether the extents of the two plates intersect.
func (p *Plate) Overlaps(other *Plate) bool {
	center := p.FrameTo(other).Mul3x1(p.Center)
	angle := core.AngleBetween(other.Center, center)
	return angle < p.MaxEdgeAngle+other.MaxEdgeAngle || math.IsNaN(angle)
}

// Cell looks up the cell at vertex.
func (p *Plate) Cell(vertex uint32) (*PlateCell, bool) {
	c, ok := p.Cells[vertex]
	return c, ok
}

// Vertices returns the owned vertex indices in ascending order.
func (p *Plate) Vertices() []uint32 {
	return slices.Sorted(maps.Keys(p.Cells))
}

// SortedEdgeCells returns the edge vertex indices in ascending order.
func (p *Plate) SortedEdgeCells() []uint32 {
	return slices.Sorted(maps.Keys(p.EdgeCells))
}

// SortedRiftTargets returns the rift target indices in ascending order.
func (p *Plate) SortedRiftTargets() []uint32 {
	return slices.Sorted(maps.Keys(p.RiftTargets))
}

// UpdateCellRadii recomputes every cell's distance from the rotation axis.
func (p *Plate) UpdateCellRadii(grid *core.Grid) {
	for _, c := range p.Cells {
		d := grid.Position(c.Vertex).Dot(p.Pole)
		c.PoleRadius = math.Sqrt(math.Max(0, 1-d*d))
	}
}

// MassRadius is the rotational inertia proxy, the sum of radius times mass.
// Cell radii must be current.
func (p *Plate) MassRadius() float64 {
	total := 0.0
	for _, c := range p.Cells {
		total += c.PoleRadius * c.Rock.Mass()
	}
	return total
}

// Momentum returns the angular momentum magnitude along the pole.
func (p *Plate) Momentum() float64 {
	return p.MassRadius() * p.AngularSpeed
}

// SurfaceSize counts active cells that hold rock.
func (p *Plate) SurfaceSize() int {
	n := 0
	for _, c := range p.Cells {
		if c.IsSurface() {
			n++
		}
	}
	return n
}

// UpdateEdges rebuilds the edge set, rift targets, center and extent.
// Edge cells keep their nearest-vertex hints but lose their neighbors,
// which are restored by knitting.
func (p *Plate) UpdateEdges(grid *core.Grid, smallAngle float64) {
	clear(p.EdgeCells)
	clear(p.RiftTargets)

	var center mgl64.Vec3
	for _, v := range p.Vertices() {
		cell := p.Cells[v]
		center = center.Add(grid.Position(v))

		edge := false
		for _, n := range grid.Neighbors(v) {
			if _, ok := p.Cells[n]; !ok {
				edge = true
				p.RiftTargets[n] = struct{}{}
			}
		}
		if !edge {
			cell.Edge = nil
			continue
		}
		if cell.Edge == nil {
			cell.Edge = NewEdgeCellInfo()
		} else {
			clear(cell.Edge.Neighbors)
		}
		p.EdgeCells[v] = struct{}{}
	}

	if c, ok := core.SafeNormalize(center); ok {
		p.Center = c
	} else if len(p.Cells) > 0 {
		// symmetric coverage, any owned vertex is as good a center as another
		p.Center = grid.Position(p.Vertices()[0])
	}
	hint := uint32(0)
	if p.HasCenter {
		hint = p.CenterVertex
	}
	p.CenterVertex = grid.NearestVertex(p.Center, hint)
	p.HasCenter = true

	p.MaxEdgeAngle = 0
	if len(p.EdgeCells) == 0 {
		// whole-sphere plate
		p.MaxEdgeAngle = math.Pi
	}
	for v := range p.EdgeCells {
		angle := core.AngleBetween(p.Center, grid.Position(v))
		if angle > p.MaxEdgeAngle || math.IsNaN(angle) {
			p.MaxEdgeAngle = angle
		}
	}
	p.MaxEdgeAngle += 2 * smallAngle
}

// Homeostasis runs cell homeostasis and returns the discarded root mass.
func (p *Plate) Homeostasis(attrs Attributes, crust config.CrustSettings, dt float64) float64 {
	discarded := 0.0
	for _, c := range p.Cells {
		discarded += c.Homeostasis(attrs, crust, dt)
	}
	return discarded
}
