package world

import (
	"math"

	"worldbuilder/core"
	"worldbuilder/simulation"
)

// Temperature is the mean surface temperature in °C at latitude lat
// (radians) for a cell the given height above sea level.
func Temperature(lat, aboveSealevel float64) float64 {
	// lapse rate of 5 °C per km, none below sea level
	return 25*(math.Cos(2*lat)+0.4) - 5*math.Max(0, aboveSealevel)/1000
}

// Precipitation is the yearly precipitation in meters at latitude lat: a wet
// equatorial band and a weaker mid-latitude band.
func Precipitation(lat float64) float64 {
	mid := 0.872665 - lat
	return 6.5 * (0.199471*math.Exp(-50*mid*mid) + 0.664904*math.Exp(-1.38889*lat*lat))
}

func (w *World) updateClimate() {
	plates := w.sortedPlates()
	sealevel := w.attributes.Sealevel
	// per-plate work never fails
	_ = w.pool.Run(len(plates), func(i int) error {
		updatePlateClimate(w.grid, plates[i], sealevel)
		return nil
	})
}

func updatePlateClimate(grid *core.Grid, p *simulation.Plate, sealevel float64) {
	for _, c := range p.Cells {
		lat := core.AbsoluteLatitude(p.LocalToWorld(grid.Position(c.Vertex)))
		c.Temperature = Temperature(lat, c.Elevation()-sealevel)
		c.Precipitation = Precipitation(lat)
	}
}
