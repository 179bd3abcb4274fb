package world

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"worldbuilder/core"
	"worldbuilder/simulation"
)

// maxWalkDepth bounds how many triangles a boundary push may cross.
const maxWalkDepth = 2

// outsideShare is the fraction of a push placed past the other plate's edge.
const outsideShare = 1.0 / 3

func (w *World) movementPhase(dt float64) error {
	for _, p := range w.sortedPlates() {
		p.Move(dt)
	}
	w.momentumTracker = simulation.NewAngularMomentumTracker(w.plates, w.grid, w.settings.FrictionCoefficient, w.log)

	// Boundary interaction touches other plates and the tracker, so it runs
	// before the per-plate workers start.
	if err := w.computeEdgeInteraction(dt); err != nil {
		return err
	}

	plates := w.sortedPlates()
	return w.pool.Run(len(plates), func(i int) error {
		w.relaxPlate(plates[i], dt)
		return nil
	})
}

// computeEdgeInteraction pushes edge cells out of the plates they overlap
// and chooses which surface cell receives their rock if they are overridden.
func (w *World) computeEdgeInteraction(dt float64) error {
	minAge := w.settings.MinInteractionAge
	for _, plate := range w.sortedPlates() {
		frames := make(map[uint32]mgl64.Mat3)
		for _, v := range plate.SortedEdgeCells() {
			cell, ok := plate.Cell(v)
			if !ok || cell.Edge == nil || cell.IsSubducted() {
				continue
			}
			pos := w.grid.Position(v)

			targetPlate := plate
			var target *simulation.CellRef
			var offset mgl64.Vec3
			pushed := false

			for _, id := range cell.Edge.SortedPlates() {
				test, ok := w.plates[id]
				if !ok {
					delete(cell.Edge.LastNearest, id)
					continue
				}
				frame, ok := frames[id]
				if !ok {
					frame = plate.FrameTo(test)
					frames[id] = frame
				}
				inTest := frame.Mul3x1(pos)
				nearest := w.grid.NearestVertex(inTest, cell.Edge.LastNearest[id])
				cell.Edge.LastNearest[id] = nearest

				other, ok := test.Cell(nearest)
				if !ok || other.IsSubducted() {
					continue
				}

				switch {
				case target == nil && cell.Age < minAge && other.Age < minAge && test.DensityOffset < targetPlate.DensityOffset:
					target, targetPlate = &simulation.CellRef{Plate: test.ID, Vertex: nearest}, test
				case test.DensityOffset < targetPlate.DensityOffset && other.Age > minAge:
					target, targetPlate = &simulation.CellRef{Plate: test.ID, Vertex: nearest}, test
				}

				push := test.Pole.Cross(inTest).Mul(test.AngularSpeed * dt)
				crossed, displacement := w.walkBoundary(test, nearest, inTest, push)
				if crossed != 0 {
					w.momentumTracker.AddCollision(plate.ID, test.ID)
					offset = offset.Add(frame.Transpose().Mul3x1(displacement))
					pushed = true
				}
			}

			if !pushed && target == nil {
				continue
			}
			if l := offset.Len(); l > w.cellSmallAngle/2 {
				offset = offset.Mul(w.cellSmallAngle / 2 / l)
			}
			cell.Displacement = &simulation.DisplacementInfo{Offset: offset, DeleteTarget: target}
			if target != nil {
				if err := w.momentumTracker.TransferMomentumOfCell(plate.ID, target.Plate, cell); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// walkBoundary follows push from point through the triangles of the test
// plate's grid starting at vertex a. It returns the number of push lengths
// travelled before leaving the plate and the displacement that carries a
// point just past the boundary.
func (w *World) walkBoundary(test *simulation.Plate, a uint32, point, push mgl64.Vec3) (float64, mgl64.Vec3) {
	b, c := w.grid.ContainingTriangle(a, point)
	crossed := 0.0
	var skip core.Edge
	for depth := 0; depth < maxWalkDepth; depth++ {
		hit := core.TriangleIntersection(w.grid.Position(a), w.grid.Position(b), w.grid.Position(c), point, push, skip)
		if !hit.OnEdge {
			break
		}
		// keep the crossed side as (a, b)
		switch hit.Edge {
		case core.EdgePR:
			b, c = c, b
		case core.EdgeQR:
			a, c = c, a
		}
		crossed += hit.Distance
		point = hit.Point
		skip = core.EdgePQ

		_, aEdge := test.EdgeCells[a]
		_, bEdge := test.EdgeCells[b]
		if aEdge && bEdge {
			break
		}
		c = w.across(a, b, c)
	}
	return crossed, push.Mul(crossed + outsideShare)
}

// across returns the vertex that forms a triangle with a and b on the other
// side of edge (a, b) from c.
func (w *World) across(a, b, c uint32) uint32 {
	neighbors := w.grid.Neighbors(a)
	n := len(neighbors)
	for i, x := range neighbors {
		if x != b {
			continue
		}
		next := neighbors[(i+1)%n]
		if next == c {
			return neighbors[(i+n-1)%n]
		}
		return next
	}
	return c
}

// relaxPlate spreads boundary displacement into the plate interior. Each
// interior cell moves toward the cos-weighted displacement of neighbors
// pushing into it, decaying with the timestep, until nothing moves by more
// than a tenth of a cell. Only cells of p are touched.
func (w *World) relaxPlate(p *simulation.Plate, dt float64) {
	decay := math.Exp(-w.settings.RelaxationDecay * dt)
	minDisplacement := w.cellSmallAngle / 10
	vertices := p.Vertices()
	next := make(map[uint32]mgl64.Vec3)

	moved := true
	for iter := 0; iter < w.settings.RelaxationMaxIterations && moved; iter++ {
		moved = false
		clear(next)
		for _, v := range vertices {
			cell := p.Cells[v]
			if cell.Edge != nil {
				continue
			}
			desired, ok := w.desiredDisplacement(p, v)
			if !ok {
				continue
			}
			var current mgl64.Vec3
			if cell.Displacement != nil {
				current = cell.Displacement.Offset
			}
			if desired.Sub(current).Len() > minDisplacement {
				next[v] = desired.Mul(decay)
				moved = true
			}
		}
		for v, offset := range next {
			cell := p.Cells[v]
			if cell.Displacement == nil {
				cell.Displacement = &simulation.DisplacementInfo{}
			}
			cell.Displacement.Offset = offset
		}
	}
}

// desiredDisplacement averages the displacement of neighbors whose motion
// points toward vertex v, weighted by how directly they push.
func (w *World) desiredDisplacement(p *simulation.Plate, v uint32) (mgl64.Vec3, bool) {
	pos := w.grid.Position(v)
	neighbors := w.grid.Neighbors(v)
	var desired mgl64.Vec3
	found := false
	for _, n := range neighbors {
		nc, ok := p.Cells[n]
		if !ok || nc.Displacement == nil {
			continue
		}
		dir, ok := core.SafeNormalize(nc.Displacement.Offset)
		if !ok {
			continue
		}
		toCell, _ := core.SafeNormalize(pos.Sub(w.grid.Position(n)))
		angle := core.AngleBetween(toCell, dir)
		if !(angle < math.Pi/2) {
			continue
		}
		weight := 0.0
		for _, m := range neighbors {
			d, _ := core.SafeNormalize(pos.Sub(w.grid.Position(m)))
			if a := core.AngleBetween(d, dir); a < math.Pi/2 {
				weight += math.Cos(a)
			}
		}
		desired = desired.Add(nc.Displacement.Offset.Mul(math.Cos(angle) / weight))
		found = true
	}
	if !found {
		return mgl64.Vec3{}, false
	}
	return core.Tangent(desired, pos), true
}
