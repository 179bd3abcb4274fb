package world

import (
	"fmt"
	"slices"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"

	"worldbuilder/core"
	"worldbuilder/physics"
	"worldbuilder/simulation"
)

func (w *World) transitionPhase(dt float64) error {
	w.purgeSubducted()
	if err := w.renormalizeAll(); err != nil {
		return err
	}
	if err := w.subductOverridden(); err != nil {
		return err
	}
	w.clearDisplacements()
	w.riftAll()
	if err := w.momentumTracker.CommitTransfer(); err != nil {
		return fmt.Errorf("commit momentum: %w", err)
	}
	if lost := w.momentumTracker.FrictionLoss(); lost > 0 {
		w.log.Debug("friction", zap.Float64("momentumLost", lost))
	}
	w.deleteEmptyPlates()
	w.supercontinentCycle()
	w.settle(dt)
	return nil
}

// purgeSubducted drops the markers left by the previous transition so their
// vertices can be rifted again.
func (w *World) purgeSubducted() {
	for _, p := range w.plates {
		for v, c := range p.Cells {
			if c.IsSubducted() {
				delete(p.Cells, v)
			}
		}
	}
}

func (w *World) renormalizeAll() error {
	plates := w.sortedPlates()
	return w.pool.Run(len(plates), func(i int) error {
		return w.renormalizePlate(plates[i])
	})
}

// renormalizePlate snaps displaced cells back onto grid vertices. The rock
// of each displaced cell is shared among the owned vertices around its new
// location in proportion to the overlap of equal circles.
func (w *World) renormalizePlate(p *simulation.Plate) error {
	var displaced []*simulation.PlateCell
	for _, v := range p.Vertices() {
		c := p.Cells[v]
		if c.Displacement == nil {
			continue
		}
		c.Displacement.DisplacedRock = c.Rock
		c.Rock = core.NewRockColumn()
		displaced = append(displaced, c)
	}

	var targets []*simulation.PlateCell
	var weights []float64
	for _, c := range displaced {
		targets, weights = targets[:0], weights[:0]
		origin := w.grid.Position(c.Vertex)
		location, ok := core.SafeNormalize(origin.Add(c.Displacement.Offset))
		if !ok {
			location = origin
		}
		nearest := w.grid.NearestVertex(location, c.Vertex)
		neighbors := w.grid.Neighbors(nearest)
		radius := core.Chord(w.grid.Position(nearest), w.grid.Position(neighbors[0])) / 2

		add := func(v uint32) {
			t, ok := p.Cells[v]
			if !ok || slices.Contains(targets, t) {
				return
			}
			targets = append(targets, t)
			weights = append(weights, core.CircleIntersectionArea(core.Chord(w.grid.Position(v), location), radius))
		}
		add(nearest)
		for _, n := range neighbors {
			add(n)
		}
		add(c.Vertex)

		total := floats.Sum(weights)
		if !(total > 0) {
			return core.Invariantf("plate %d: displaced cell %d overlaps no owned cell", p.ID, c.Vertex)
		}
		for i, t := range targets {
			t.Rock = core.Accrete(t.Rock, c.Displacement.DisplacedRock.Scaled(weights[i]/total))
		}
	}
	return nil
}

type subduction struct {
	plate  *simulation.Plate
	cell   *simulation.PlateCell
	target *simulation.PlateCell
}

// subductOverridden hands the light rock of every overridden edge cell to
// its surface cell. Young cells are removed outright; older ones stay as
// markers until the next transition.
func (w *World) subductOverridden() error {
	var pending []subduction
	for _, p := range w.sortedPlates() {
		for _, v := range p.SortedEdgeCells() {
			c, ok := p.Cell(v)
			if !ok || c.Displacement == nil || c.Displacement.DeleteTarget == nil {
				continue
			}
			target, err := w.finalTarget(*c.Displacement.DeleteTarget)
			if err != nil {
				return fmt.Errorf("plate %d cell %d: %w", p.ID, v, err)
			}
			if target == nil {
				w.log.Warn("delete target vanished",
					zap.Uint32("plate", p.ID),
					zap.Uint32("vertex", v),
					zap.Uint32("targetPlate", c.Displacement.DeleteTarget.Plate),
				)
				continue
			}
			pending = append(pending, subduction{plate: p, cell: c, target: target})
		}
	}

	minAge := w.settings.MinInteractionAge
	for _, s := range pending {
		s.cell.Subduct(s.target)
		if s.cell.Age < minAge {
			delete(s.plate.Cells, s.cell.Vertex)
		}
	}
	if len(pending) > 0 {
		w.log.Debug("subducted cells", zap.Int("count", len(pending)))
	}
	return nil
}

// finalTarget follows delete targets that are themselves overridden until it
// reaches a cell that keeps its rock. Targets always belong to less dense
// plates, so the chain is finite.
func (w *World) finalTarget(ref simulation.CellRef) (*simulation.PlateCell, error) {
	for range len(w.plates) + 1 {
		c, ok, err := w.cell(ref)
		if err != nil || !ok {
			return nil, err
		}
		if c.Displacement == nil || c.Displacement.DeleteTarget == nil {
			return c, nil
		}
		ref = *c.Displacement.DeleteTarget
	}
	return nil, core.Invariantf("delete target chain from plate %d does not end", ref.Plate)
}

func (w *World) clearDisplacements() {
	for _, p := range w.plates {
		for _, c := range p.Cells {
			c.Displacement = nil
		}
	}
}

// riftAll fills vertices left open between diverging plates with fresh
// oceanic crust. New cells are collected first so one plate's rifting
// cannot influence another's claim test.
func (w *World) riftAll() {
	plates := w.sortedPlates()
	added := make(map[uint32][]uint32)
	for _, p := range plates {
		var interacting []*simulation.Plate
		for _, q := range plates {
			if q != p && p.Overlaps(q) {
				interacting = append(interacting, q)
			}
		}
		for _, t := range p.SortedRiftTargets() {
			if _, ok := p.Cells[t]; ok {
				continue
			}
			if !w.riftClaimed(p, t, interacting) {
				added[p.ID] = append(added[p.ID], t)
			}
		}
	}

	count := 0
	for id, vertices := range added {
		p := w.plates[id]
		for _, v := range vertices {
			c := simulation.NewPlateCell(v)
			c.Rock = w.divergentOceanic
			p.Cells[v] = c
			count++
		}
	}
	if count > 0 {
		w.log.Debug("rifted cells", zap.Int("count", count))
	}
}

// riftClaimed reports whether another plate already covers rift target t of
// plate p, either with a cell or with a rift target of its own. Two plates
// rifting over the same spot defer to the lower id.
func (w *World) riftClaimed(p *simulation.Plate, t uint32, interacting []*simulation.Plate) bool {
	pos := w.grid.Position(t)
	for _, q := range interacting {
		inTest := p.FrameTo(q).Mul3x1(pos)
		if !q.Covers(inTest) {
			continue
		}
		idx := w.grid.NearestVertex(inTest, q.CenterVertex)
		if _, ok := q.Cells[idx]; ok {
			return true
		}
		if q.ID > p.ID {
			continue
		}
		if _, ok := q.RiftTargets[idx]; ok {
			return true
		}
		for _, n := range w.grid.Neighbors(idx) {
			if _, ok := q.RiftTargets[n]; ok {
				return true
			}
		}
	}
	return false
}

func (w *World) deleteEmptyPlates() {
	for _, p := range w.sortedPlates() {
		if p.SurfaceSize() > 0 {
			continue
		}
		delete(w.plates, p.ID)
		w.log.Info("plate removed", zap.Uint32("plate", p.ID), zap.Float64("age", w.age))
	}
}

// homeostasis floats every cell on the mantle.
func (w *World) homeostasis(dt float64) {
	plates := w.sortedPlates()
	discarded := make([]float64, len(plates))
	// per-plate work never fails
	_ = w.pool.Run(len(plates), func(i int) error {
		discarded[i] = plates[i].Homeostasis(w.attributes, w.settings.Crust, dt)
		return nil
	})
	if lost := floats.Sum(discarded); lost > 0 {
		w.log.Debug("root mass discarded", zap.Float64("mass", lost))
	}
}

// updateSealevel pours the ocean volume over all surface cells, lowest first.
func (w *World) updateSealevel() {
	var elevations []float64
	for _, p := range w.plates {
		for _, c := range p.Cells {
			if !c.IsSubducted() {
				elevations = append(elevations, c.Elevation())
			}
		}
	}
	if len(elevations) == 0 {
		return
	}
	w.attributes.Sealevel = physics.WaterLevel(elevations, w.attributes.TotalSeaDepth)
}
