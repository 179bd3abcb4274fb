package simulation

import (
	"cmp"
	"math"
	"slices"

	"github.com/go-gl/mathgl/mgl64"

	"worldbuilder/config"
	"worldbuilder/core"
)

// Attributes are the planet-wide physical constants and the current sea level.
type Attributes struct {
	MantleDensity float64 `json:"mantleDensity"`
	WaterDensity  float64 `json:"waterDensity"`
	Radius        float64 `json:"radius"` // km
	Sealevel      float64 `json:"sealevel"`
	TotalSeaDepth float64 `json:"totalSeaDepth"`
	CellArea      float64 `json:"cellArea"` // km^2
}

// CellState tracks whether a cell is part of the surface.
type CellState uint8

const (
	CellActive CellState = iota
	// CellSubducted cells have lost their rock to an overriding plate and
	// only remain as bookkeeping markers until the next transition.
	CellSubducted
)

func (s CellState) String() string {
	switch s {
	case CellActive:
		return "active"
	case CellSubducted:
		return "subducted"
	default:
		return "unknown"
	}
}

// CellRef addresses a cell through the owning plate instead of by pointer,
// so a reference to a removed cell is a lookup miss.
type CellRef struct {
	Plate  uint32
	Vertex uint32
}

func compareRefs(a, b CellRef) int {
	if c := cmp.Compare(a.Plate, b.Plate); c != 0 {
		return c
	}
	return cmp.Compare(a.Vertex, b.Vertex)
}

// EdgeNeighbor is a cell of another plate adjacent to an edge cell.
type EdgeNeighbor struct {
	Cell     CellRef
	Distance float64
}

// EdgeCellInfo is carried by cells on a plate boundary.
type EdgeCellInfo struct {
	// Neighbors maps other-plate cells to their chord distance.
	Neighbors map[CellRef]float64
	// LastNearest caches the nearest vertex in each other plate's frame and
	// doubles as the set of plates this cell may interact with.
	LastNearest map[uint32]uint32
}

// NewEdgeCellInfo returns empty edge bookkeeping.
func NewEdgeCellInfo() *EdgeCellInfo {
	return &EdgeCellInfo{
		Neighbors:   make(map[CellRef]float64),
		LastNearest: make(map[uint32]uint32),
	}
}

// SortedNeighbors returns the cross-plate neighbors ordered by plate then vertex.
func (e *EdgeCellInfo) SortedNeighbors() []EdgeNeighbor {
	out := make([]EdgeNeighbor, 0, len(e.Neighbors))
	for ref, d := range e.Neighbors {
		out = append(out, EdgeNeighbor{Cell: ref, Distance: d})
	}
	slices.SortFunc(out, func(a, b EdgeNeighbor) int { return compareRefs(a.Cell, b.Cell) })
	return out
}

// SortedPlates returns the ids of plates recorded in LastNearest.
func (e *EdgeCellInfo) SortedPlates() []uint32 {
	out := make([]uint32, 0, len(e.LastNearest))
	for id := range e.LastNearest {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// DisplacementInfo is the transient movement of a cell away from its vertex.
type DisplacementInfo struct {
	// Offset is the tangent displacement in plate-local coordinates.
	Offset mgl64.Vec3
	// DeleteTarget is the surface cell that receives this cell's rock when
	// it is overridden.
	DeleteTarget  *CellRef
	DisplacedRock core.RockColumn
}

// PlateCell is the rock owned by a plate at one grid vertex.
type PlateCell struct {
	Vertex        uint32
	Rock          core.RockColumn
	Age           float64
	Temperature   float64
	Precipitation float64
	State         CellState

	BaseOffset float64
	PoleRadius float64

	Edge         *EdgeCellInfo
	Displacement *DisplacementInfo
}

// NewPlateCell returns an active cell with an empty column.
func NewPlateCell(vertex uint32) *PlateCell {
	return &PlateCell{
		Vertex: vertex,
		Rock:   core.NewRockColumn(),
	}
}

// Elevation is the isostatic offset plus the column thickness.
func (c *PlateCell) Elevation() float64 {
	return c.BaseOffset + c.Rock.Thickness()
}

// IsSubducted reports whether the cell is a subduction marker.
func (c *PlateCell) IsSubducted() bool {
	return c.State == CellSubducted
}

// IsSurface reports whether the cell contributes to the visible surface.
func (c *PlateCell) IsSurface() bool {
	return c.State == CellActive && !c.Rock.IsEmpty()
}

// IsContinental reports whether the cell is active continental crust.
func (c *PlateCell) IsContinental() bool {
	return c.State == CellActive && c.Rock.IsContinental()
}

// Subduct moves the light layers to target and marks the cell. Root and
// oceanic rock are consumed by the mantle.
func (c *PlateCell) Subduct(target *PlateCell) {
	target.Rock.Sediment = core.CombineSegments(target.Rock.Sediment, c.Rock.Sediment)
	target.Rock.Continental = core.CombineSegments(target.Rock.Continental, c.Rock.Continental)
	c.Rock = core.NewRockColumn()
	c.State = CellSubducted
}

// ErodeThickness removes up to t meters from the top of the column and
// returns it as a single segment.
func (c *PlateCell) ErodeThickness(t float64) core.RockSegment {
	removed := c.Rock.RemoveThickness(t)
	return removed.Flatten()
}

// Homeostasis ages the cell, caps crust thickness, recomputes the isostatic
// offset and hardens deep sediment. It returns the root mass discarded by
// the root cap.
func (c *PlateCell) Homeostasis(attrs Attributes, crust config.CrustSettings, dt float64) float64 {
	waterMass := 0.0
	if e := c.Elevation(); e < attrs.Sealevel {
		waterMass = (attrs.Sealevel - e) * attrs.WaterDensity
	}
	c.Age += dt

	rock := &c.Rock
	if rock.Oceanic.Thickness > crust.OceanicCap {
		excess := rock.Oceanic.Thickness - crust.OceanicReset
		rock.Oceanic.Thickness = crust.OceanicReset
		c.hardenToRoot(core.RockSegment{Thickness: excess, Density: rock.Oceanic.Density})
	} else if rock.Continental.Thickness > crust.ContinentalCap && rock.Oceanic.Thickness > 0 {
		excess := rock.Oceanic
		rock.Oceanic.Thickness = 0
		c.hardenToRoot(excess)
	}

	discarded := 0.0
	if rock.Root.Thickness > crust.RootCap {
		discarded = (rock.Root.Thickness - crust.RootReset) * rock.Root.Density
		rock.Root.Thickness = crust.RootReset
	}

	c.BaseOffset = -(rock.Mass() + waterMass) / attrs.MantleDensity

	if rock.Sediment.Thickness > crust.SedimentHardening {
		f := math.Min(1, crust.HardeningRate*dt)
		hardened := (rock.Sediment.Thickness - crust.SedimentHardening) * f
		rock.Sediment.Thickness -= hardened
		rock.Continental = core.CombineSegments(rock.Continental, core.RockSegment{Thickness: hardened, Density: rock.Sediment.Density})
	}
	return discarded
}

// hardenToRoot adds seg to the root at equal mass.
func (c *PlateCell) hardenToRoot(seg core.RockSegment) {
	root := &c.Rock.Root
	if root.Thickness <= core.FloatEpsilon {
		*root = core.CombineSegments(seg, *root)
		return
	}
	root.Thickness += seg.Mass() / root.Density
}
