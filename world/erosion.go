package world

import (
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"

	"worldbuilder/core"
	"worldbuilder/physics"
	"worldbuilder/simulation"
)

const (
	// thermalScale and thermalDivisor shape the cubic self-erosion curve.
	thermalScale   = 4000.0
	thermalDivisor = 400.0
)

func (w *World) modificationPhase(dt float64) error {
	w.erodeThermal(dt)
	if err := w.transportSediment(); err != nil {
		return err
	}
	w.processHotspots(dt)
	return nil
}

// erosionRate is the share of a height difference shed per million years
// for a cell at the given height above sea level.
func (w *World) erosionRate(aboveSealevel float64) float64 {
	e := w.settings.Erosion
	switch {
	case aboveSealevel < e.HighlandElevation:
		return e.LowlandRate
	case aboveSealevel < e.MountainElevation:
		return e.HighlandRate
	default:
		return e.MountainRate
	}
}

// neighbor is a cell adjacent to another, in its own or a different plate.
type neighbor struct {
	ref  simulation.CellRef
	cell *simulation.PlateCell
}

// surfaceNeighbors lists the active cells next to cell v of plate p,
// in-plate neighbors first, then cross-plate ones in plate order.
func (w *World) surfaceNeighbors(p *simulation.Plate, c *simulation.PlateCell) []neighbor {
	var out []neighbor
	for _, n := range w.grid.Neighbors(c.Vertex) {
		if nc, ok := p.Cells[n]; ok && !nc.IsSubducted() {
			out = append(out, neighbor{ref: simulation.CellRef{Plate: p.ID, Vertex: n}, cell: nc})
		}
	}
	if c.Edge == nil {
		return out
	}
	for _, e := range c.Edge.SortedNeighbors() {
		nc, ok, err := w.cell(e.Cell)
		if err != nil || !ok || nc.IsSubducted() {
			continue
		}
		out = append(out, neighbor{ref: e.Cell, cell: nc})
	}
	return out
}

// erodeThermal wears high ground down. A cell above sea level first breaks
// part of its crust into sediment, then sheds sediment to every lower
// neighbor in proportion to the height difference.
func (w *World) erodeThermal(dt float64) {
	sealevel := w.attributes.Sealevel
	maxFactor := w.settings.Erosion.MaxThermalFactor
	for _, p := range w.sortedPlates() {
		for _, v := range p.Vertices() {
			c := p.Cells[v]
			if c.IsSubducted() {
				continue
			}
			elevation := c.Elevation()
			excess := elevation - sealevel
			if excess > 0 {
				f := excess / thermalScale
				factor := math.Min(maxFactor, f*f*f/thermalDivisor)
				broken := c.ErodeThickness(factor * dt * excess)
				c.Rock.Sediment = core.CombineSegments(c.Rock.Sediment, broken)
			}

			neighbors := w.surfaceNeighbors(p, c)
			if len(neighbors) == 0 {
				continue
			}
			rate := w.erosionRate(excess)
			count := float64(len(neighbors))
			for _, n := range neighbors {
				drop := elevation - n.cell.Elevation()
				if drop <= 0 {
					continue
				}
				moved := c.ErodeThickness(drop * rate * dt / count)
				n.cell.Rock.Sediment = core.CombineSegments(n.cell.Rock.Sediment, moved)
			}
		}
	}
}

// transportSediment moves loose sediment downhill over one flow graph built
// across all plates, then settles what collects in closed basins.
func (w *World) transportSediment() error {
	var cells []*simulation.PlateCell
	var owners []*simulation.Plate
	index := make(map[simulation.CellRef]int)
	for _, p := range w.sortedPlates() {
		for _, v := range p.Vertices() {
			c := p.Cells[v]
			if c.IsSubducted() {
				continue
			}
			index[simulation.CellRef{Plate: p.ID, Vertex: v}] = len(cells)
			cells = append(cells, c)
			owners = append(owners, p)
		}
	}
	if len(cells) == 0 {
		return nil
	}

	e := w.settings.Erosion
	g := physics.NewFlowGraph(len(cells), e.FlowLoss)
	for i, c := range cells {
		material := c.Rock.Sediment.Thickness
		g.SetNode(i, material, c.Elevation()-material)
	}

	shelf := w.attributes.Sealevel - e.ShelfDepth
	var links []int
	for i, c := range cells {
		links = links[:0]
		for _, n := range w.surfaceNeighbors(owners[i], c) {
			if j, ok := index[n.ref]; ok {
				links = append(links, j)
			}
		}
		deep := g.Node(i).Elevation() <= shelf
		drop := g.Connect(i, links, deep)
		if drop <= 0 {
			continue
		}
		if err := g.Suspend(i, w.suspension(drop, deep)); err != nil {
			return err
		}
	}
	if err := g.CheckWeights(); err != nil {
		return err
	}

	before := g.TotalMaterial()
	g.FlowAll()
	if err := g.FillBasins(); err != nil {
		return err
	}
	if after := g.TotalMaterial(); math.Abs(after-before) > 1e-6*math.Max(1, before) {
		w.log.Warn("sediment volume drifted",
			zap.Float64("before", before),
			zap.Float64("after", after),
		)
	}

	w.depositSediment(cells, g)
	return nil
}

// depositSediment writes the transported heights back. Sediment is mixed in
// transit: cells that lost sediment keep their density, and every deposit
// gets the mass-weighted density of all sediment picked up, so the pass
// conserves mass.
func (w *World) depositSediment(cells []*simulation.PlateCell, g *physics.FlowGraph) {
	lost := make([]float64, len(cells))
	gained := make([]float64, len(cells))
	densities := make([]float64, len(cells))
	for i, c := range cells {
		d := g.Node(i).Material - c.Rock.Sediment.Thickness
		if d < 0 {
			lost[i] = -d
		} else {
			gained[i] = d
		}
		densities[i] = c.Rock.Sediment.Density
	}

	density := w.settings.Erosion.SedimentDensity
	lostMass, deposited := floats.Dot(lost, densities), floats.Sum(gained)
	if lostMass > 0 && deposited > 0 {
		density = lostMass / deposited
	}
	for i, c := range cells {
		if gained[i] > 0 {
			c.Rock.Sediment = core.CombineSegments(c.Rock.Sediment, core.RockSegment{Thickness: gained[i], Density: density})
			continue
		}
		c.Rock.Sediment.Thickness = g.Node(i).Material
	}
}

// suspension is the sediment height picked up by a node whose steepest
// drop is drop meters.
func (w *World) suspension(drop float64, deep bool) float64 {
	e := w.settings.Erosion
	y := math.Log(drop/w.cellDistanceMeters + 1)
	s := math.Min(drop, e.SuspensionLinear*y+e.SuspensionQuadratic*y*y)
	if deep {
		s *= e.DeepSuspensionFactor
	}
	return s
}
