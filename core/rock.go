package core

import "math"

// ContinentalThreshold is the continental thickness above which a column
// counts as continental crust.
const ContinentalThreshold = 1000.0

// minNormalDensity is the smallest normal float64; subnormal densities are
// treated as corrupt.
const minNormalDensity = 0x1p-1022

// RockSegment is one homogeneous layer of a column. Thickness is in meters,
// density in kg/m^3.
type RockSegment struct {
	Thickness float64 `json:"thickness"`
	Density   float64 `json:"density"`
}

// EmptySegment is a zero thickness placeholder layer.
var EmptySegment = RockSegment{Thickness: 0, Density: 1}

// Mass returns the areal mass of the segment.
func (s RockSegment) Mass() float64 {
	return s.Thickness * s.Density
}

// Validate rejects non-finite or negative thickness and non-positive density.
func (s RockSegment) Validate() error {
	if math.IsNaN(s.Density) || math.IsInf(s.Density, 0) || s.Density < minNormalDensity {
		return Invariantf("invalid rock density %v", s.Density)
	}
	if math.IsNaN(s.Thickness) || math.IsInf(s.Thickness, 0) || s.Thickness < 0 {
		return Invariantf("invalid rock thickness %v", s.Thickness)
	}
	return nil
}

// CombineSegments merges two segments, conserving mass. When the combined
// thickness is negligible the density of a is kept.
func CombineSegments(a, b RockSegment) RockSegment {
	thickness := a.Thickness + b.Thickness
	if thickness <= FloatEpsilon {
		return RockSegment{Thickness: thickness, Density: a.Density}
	}
	return RockSegment{
		Thickness: thickness,
		Density:   (a.Mass() + b.Mass()) / thickness,
	}
}

// RockColumn is the layered rock under a cell, top to bottom.
type RockColumn struct {
	Sediment    RockSegment `json:"sediment"`
	Continental RockSegment `json:"continental"`
	Oceanic     RockSegment `json:"oceanic"`
	Root        RockSegment `json:"root"`
}

// NewRockColumn returns a column with four empty layers.
func NewRockColumn() RockColumn {
	return RockColumn{
		Sediment:    EmptySegment,
		Continental: EmptySegment,
		Oceanic:     EmptySegment,
		Root:        EmptySegment,
	}
}

// layers returns the layers top to bottom.
func (c *RockColumn) layers() [4]*RockSegment {
	return [4]*RockSegment{&c.Sediment, &c.Continental, &c.Oceanic, &c.Root}
}

// Mass returns the total areal mass.
func (c RockColumn) Mass() float64 {
	return c.Sediment.Mass() + c.Continental.Mass() + c.Oceanic.Mass() + c.Root.Mass()
}

// Thickness returns the total thickness.
func (c RockColumn) Thickness() float64 {
	return c.Sediment.Thickness + c.Continental.Thickness + c.Oceanic.Thickness + c.Root.Thickness
}

// IsEmpty reports whether the column holds no meaningful rock.
func (c RockColumn) IsEmpty() bool {
	return c.Thickness() < FloatEpsilon
}

// IsContinental reports whether the column carries continental crust.
func (c RockColumn) IsContinental() bool {
	return c.Continental.Thickness > ContinentalThreshold
}

// Validate checks every layer.
func (c RockColumn) Validate() error {
	for _, l := range c.layers() {
		if err := l.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// RemoveThickness peels up to t meters from the top down and returns the
// removed rock with the densities of the layers it came from. Removing more
// than the column holds empties it.
func (c *RockColumn) RemoveThickness(t float64) RockColumn {
	removed := NewRockColumn()
	out := removed.layers()
	for i, l := range c.layers() {
		out[i].Density = l.Density
		if t <= 0 {
			continue
		}
		take := math.Min(t, l.Thickness)
		l.Thickness -= take
		out[i].Thickness = take
		t -= take
	}
	return removed
}

// Scaled returns a copy with every thickness multiplied by f.
func (c RockColumn) Scaled(f float64) RockColumn {
	out := c
	for _, l := range out.layers() {
		l.Thickness *= f
	}
	return out
}

// Flatten combines every layer into a single segment.
func (c RockColumn) Flatten() RockSegment {
	return CombineSegments(c.Sediment, CombineSegments(c.Continental, CombineSegments(c.Oceanic, c.Root)))
}

// Accrete combines two columns layer by layer.
func Accrete(a, b RockColumn) RockColumn {
	return RockColumn{
		Sediment:    CombineSegments(a.Sediment, b.Sediment),
		Continental: CombineSegments(a.Continental, b.Continental),
		Oceanic:     CombineSegments(a.Oceanic, b.Oceanic),
		Root:        CombineSegments(a.Root, b.Root),
	}
}
