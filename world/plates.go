package world

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"go.uber.org/zap"

	"worldbuilder/core"
	"worldbuilder/simulation"
)

// supercontinentCycle breaks plates apart once the current cycle has run
// its course, or whenever collisions have left two plates or fewer.
func (w *World) supercontinentCycle() {
	if !(w.age > w.cycleStart+w.cycleDuration || len(w.plates) <= 2) {
		return
	}
	w.cycleStart = w.age
	w.cycleDuration = math.Max(0, w.random.Normal(w.settings.SupercontinentMean, w.settings.SupercontinentStdDev))

	desired := w.settings.DesiredPlateCount
	before := len(w.plates)
	for attempts := 0; len(w.plates) < desired && attempts < 4*desired; attempts++ {
		p := w.pickPlateToSplit()
		if p == nil {
			break
		}
		w.splitPlate(p)
	}
	w.log.Info("supercontinent cycle",
		zap.Float64("age", w.age),
		zap.Float64("duration", w.cycleDuration),
		zap.Int("platesBefore", before),
		zap.Int("platesAfter", len(w.plates)),
	)
}

// pickPlateToSplit chooses a plate with probability proportional to its
// cell count.
func (w *World) pickPlateToSplit() *simulation.Plate {
	plates := w.sortedPlates()
	total := 0
	for _, p := range plates {
		total += len(p.Cells)
	}
	if total == 0 {
		return nil
	}
	pick := w.random.IntN(total)
	for _, p := range plates {
		pick -= len(p.Cells)
		if pick < 0 {
			return p
		}
	}
	return plates[len(plates)-1]
}

// splitPlate replaces p with two plates divided around a triple point. Cells
// nearer the first split point than to either of the others form the small
// plate. Both plates keep p's frame but get their own motion.
func (w *World) splitPlate(p *simulation.Plate) bool {
	small, large1, large2, ok := w.splitPoints(p)
	if !ok {
		return false
	}
	large := w.newPlate(len(p.Cells))
	smaller := w.newPlate(len(p.Cells) / 4)
	large.Rotation = p.Rotation
	smaller.Rotation = p.Rotation

	for _, v := range p.Vertices() {
		pos := w.grid.Position(v)
		d := core.SquareChord(small, pos)
		if d > core.SquareChord(large1, pos) || d > core.SquareChord(large2, pos) {
			large.Cells[v] = p.Cells[v]
		} else {
			smaller.Cells[v] = p.Cells[v]
		}
	}

	delete(w.plates, p.ID)
	for _, np := range []*simulation.Plate{large, smaller} {
		if len(np.Cells) > 0 {
			w.plates[np.ID] = np
		}
	}
	w.log.Debug("plate split",
		zap.Uint32("plate", p.ID),
		zap.Uint32("large", large.ID),
		zap.Int("largeCells", len(large.Cells)),
		zap.Uint32("small", smaller.ID),
		zap.Int("smallCells", len(smaller.Cells)),
	)
	return true
}

// splitPoints picks a triple point: a random continental vertex (any
// surface vertex if there is no continent), one of its neighbors and a
// vertex adjacent to both.
func (w *World) splitPoints(p *simulation.Plate) (mgl64.Vec3, mgl64.Vec3, mgl64.Vec3, bool) {
	var continental, surface []uint32
	for _, v := range p.Vertices() {
		c := p.Cells[v]
		switch {
		case c.IsContinental():
			continental = append(continental, v)
		case c.IsSurface():
			surface = append(surface, v)
		}
	}
	candidates := continental
	if len(candidates) == 0 {
		candidates = surface
	}
	if len(candidates) == 0 {
		return mgl64.Vec3{}, mgl64.Vec3{}, mgl64.Vec3{}, false
	}

	first := candidates[w.random.IntN(len(candidates))]
	neighbors := w.grid.Neighbors(first)
	second := neighbors[w.random.IntN(len(neighbors))]

	var shared []uint32
	for _, a := range neighbors {
		for _, b := range w.grid.Neighbors(second) {
			if a == b {
				shared = append(shared, a)
			}
		}
	}
	third := second
	if len(shared) > 0 {
		third = shared[w.random.IntN(len(shared))]
	}
	return w.grid.Position(first), w.grid.Position(second), w.grid.Position(third), true
}

// knitPlates rebuilds the cross-plate adjacency of every edge cell. Each
// plate only writes to its own cells, so plates are knit in parallel.
func (w *World) knitPlates() {
	plates := w.sortedPlates()
	// per-plate work never fails
	_ = w.pool.Run(len(plates), func(i int) error {
		w.knitPlate(plates[i], plates)
		return nil
	})
}

func (w *World) knitPlate(p *simulation.Plate, plates []*simulation.Plate) {
	for _, v := range p.SortedEdgeCells() {
		c := p.Cells[v]
		for id := range c.Edge.LastNearest {
			if _, ok := w.plates[id]; !ok {
				delete(c.Edge.LastNearest, id)
			}
		}
	}

	for _, q := range plates {
		if q == p || !p.Overlaps(q) {
			continue
		}
		frame := p.FrameTo(q)
		for _, v := range p.SortedEdgeCells() {
			c := p.Cells[v]
			inTest := frame.Mul3x1(w.grid.Position(v))
			if !q.Covers(inTest) {
				continue
			}
			hint, ok := c.Edge.LastNearest[q.ID]
			if !ok {
				hint = q.CenterVertex
			}
			nearest := w.grid.NearestVertex(inTest, hint)
			c.Edge.LastNearest[q.ID] = nearest

			link := func(idx uint32) {
				if qc, ok := q.Cells[idx]; ok && !qc.IsSubducted() {
					ref := simulation.CellRef{Plate: q.ID, Vertex: idx}
					c.Edge.Neighbors[ref] = core.Chord(inTest, w.grid.Position(idx))
				}
			}
			link(nearest)
			for _, n := range w.grid.Neighbors(nearest) {
				link(n)
			}
		}
	}
}
