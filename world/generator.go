package world

import (
	"fmt"

	"worldbuilder/core"
	"worldbuilder/simulation"
)

// Generator seeds the rock of a freshly created world before its first
// timestep. It may only touch the initial plate's cells.
type Generator interface {
	Generate(w *World) error
}

// initialPlate returns the single plate of a new world.
func initialPlate(w *World) (*simulation.Plate, error) {
	ids := w.PlateIDs()
	if len(ids) != 1 {
		return nil, fmt.Errorf("generator expects one plate, world has %d", len(ids))
	}
	return w.plates[ids[0]], nil
}

// BasicGenerator places one round continent at a random spot on an ocean
// of fresh divergent crust.
type BasicGenerator struct {
	random     *simulation.Random
	LandRadius float64 // chord distance on the unit sphere

	ContinentalBase    float64
	ContinentalRelief  float64
	ContinentalDensity float64
	RootThickness      float64
	RootDensity        float64
}

// NewBasicGenerator returns a generator with the default continent shape.
func NewBasicGenerator(random *simulation.Random) *BasicGenerator {
	return &BasicGenerator{
		random:             random,
		LandRadius:         1.0,
		ContinentalBase:    15000,
		ContinentalRelief:  10000,
		ContinentalDensity: 2700,
		RootThickness:      135000,
		RootDensity:        3200,
	}
}

func (g *BasicGenerator) Generate(w *World) error {
	p, err := initialPlate(w)
	if err != nil {
		return err
	}
	center := g.random.PointOnSphere()
	for _, v := range p.Vertices() {
		c := p.Cells[v]
		d := core.Chord(center, w.grid.Position(v))
		if d >= g.LandRadius {
			c.Rock = w.divergentOceanic
			continue
		}
		c.Rock = core.NewRockColumn()
		c.Rock.Continental = core.RockSegment{
			Thickness: g.ContinentalBase + g.ContinentalRelief*(g.LandRadius-d)/g.LandRadius,
			Density:   g.ContinentalDensity,
		}
		c.Rock.Root = core.RockSegment{Thickness: g.RootThickness, Density: g.RootDensity}
	}
	return nil
}

// UniformGenerator gives every cell the same column.
type UniformGenerator struct {
	Column core.RockColumn
}

func (g UniformGenerator) Generate(w *World) error {
	p, err := initialPlate(w)
	if err != nil {
		return err
	}
	if err := g.Column.Validate(); err != nil {
		return err
	}
	for _, c := range p.Cells {
		c.Rock = g.Column
	}
	return nil
}
