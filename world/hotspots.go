package world

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"

	"worldbuilder/core"
	"worldbuilder/simulation"
)

// hotspot is a fixed mantle plume that builds continental crust on whatever
// plate passes over it.
type hotspot struct {
	location mgl64.Vec3 // world frame
	weight   float64
	share    float64 // normalized weight

	last  *simulation.CellRef
	hints map[uint32]uint32
}

// processHotspots replenishes the shared volume budget, lets every hotspot
// erupt its share and adds plumes until the configured count is reached.
func (w *World) processHotspots(dt float64) {
	cfg := w.settings.Hotspots
	// km^3 per million years per plume, spread as meters over one cell
	w.hotspotBudget += cfg.VolumeRate * dt * float64(cfg.Count) * 1000 / w.attributes.CellArea

	used := 0.0
	for _, h := range w.hotspots {
		used += w.erupt(h)
	}
	w.hotspotBudget -= used

	if len(w.hotspots) < cfg.Count {
		h := &hotspot{
			location: w.random.PointOnSphere(),
			weight:   math.Abs(w.random.Normal(cfg.WeightMean, cfg.WeightStdDev)),
			hints:    make(map[uint32]uint32),
		}
		w.hotspots = append(w.hotspots, h)
		w.normalizeHotspots()
		w.log.Debug("hotspot added",
			zap.Float64("lat", core.RadiansToDegrees(core.VectorToGeographic(h.location).Lat)),
			zap.Float64("lon", core.RadiansToDegrees(core.VectorToGeographic(h.location).Lon)),
			zap.Float64("weight", h.weight),
		)
	}
}

func (w *World) normalizeHotspots() {
	weights := make([]float64, len(w.hotspots))
	for i, h := range w.hotspots {
		weights[i] = h.weight
	}
	total := floats.Sum(weights)
	for _, h := range w.hotspots {
		if total > 0 {
			h.share = h.weight / total
		} else {
			h.share = 1 / float64(len(w.hotspots))
		}
	}
}

// erupt deposits the hotspot's share of the budget and returns the
// thickness used.
func (w *World) erupt(h *hotspot) float64 {
	p, c := w.hotspotCell(h)
	if c == nil {
		return 0
	}
	targets := []*simulation.PlateCell{c}
	for _, n := range w.grid.Neighbors(c.Vertex) {
		if nc, ok := p.Cells[n]; ok && !nc.IsSubducted() {
			targets = append(targets, nc)
		}
	}
	amount := w.hotspotBudget * h.share
	if amount <= 0 {
		return 0
	}
	layer := core.RockSegment{Thickness: amount / float64(len(targets)), Density: w.settings.Hotspots.Density}
	for _, t := range targets {
		t.Rock.Continental = core.CombineSegments(t.Rock.Continental, layer)
	}
	return amount
}

// hotspotCell finds the cell above the hotspot. The hotspot sticks to its
// last cell while the plume is within the sticky distance of it.
func (w *World) hotspotCell(h *hotspot) (*simulation.Plate, *simulation.PlateCell) {
	if h.last != nil {
		if p, ok := w.plates[h.last.Plate]; ok {
			if c, ok := p.Cell(h.last.Vertex); ok && !c.IsSubducted() {
				local := p.WorldToLocal(h.location)
				if core.Chord(local, w.grid.Position(c.Vertex))*w.attributes.Radius < w.settings.Hotspots.StickyDistanceKm {
					return p, c
				}
			}
		}
	}

	h.last = nil
	for _, p := range w.sortedPlates() {
		local := p.WorldToLocal(h.location)
		if !p.Covers(local) {
			continue
		}
		hint, ok := h.hints[p.ID]
		if !ok {
			hint = p.CenterVertex
		}
		nearest := w.grid.NearestVertex(local, hint)
		h.hints[p.ID] = nearest
		if c, ok := p.Cell(nearest); ok && !c.IsSubducted() {
			h.last = &simulation.CellRef{Plate: p.ID, Vertex: nearest}
			return p, c
		}
	}
	return nil, nil
}
