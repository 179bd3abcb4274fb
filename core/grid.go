package core

import (
	"fmt"
	"math"
	"sort"

	"github.com/go-gl/mathgl/mgl64"
)

// Vertex is a fixed point of the spherical mesh. Neighbors are stored in
// cyclic order around the vertex so consecutive entries share a triangle.
type Vertex struct {
	Index     uint32
	Position  mgl64.Vec3
	Neighbors []uint32
}

// Grid is the immutable mesh shared read-only by every plate.
type Grid struct {
	vertices   []Vertex
	smallAngle float64
}

// NewGrid builds a grid from unit positions and neighbor lists.
func NewGrid(positions []mgl64.Vec3, neighbors [][]uint32) (*Grid, error) {
	if len(positions) == 0 {
		return nil, fmt.Errorf("grid has no vertices")
	}
	if len(positions) != len(neighbors) {
		return nil, fmt.Errorf("grid has %d positions but %d neighbor lists", len(positions), len(neighbors))
	}

	g := &Grid{
		vertices:   make([]Vertex, len(positions)),
		smallAngle: math.MaxFloat64,
	}
	for i, p := range positions {
		unit, ok := SafeNormalize(p)
		if !ok {
			return nil, fmt.Errorf("vertex %d has degenerate position %v", i, p)
		}
		if len(neighbors[i]) < 3 {
			return nil, fmt.Errorf("vertex %d has %d neighbors, need at least 3", i, len(neighbors[i]))
		}
		list := make([]uint32, len(neighbors[i]))
		for j, n := range neighbors[i] {
			if int(n) >= len(positions) || int(n) == i {
				return nil, fmt.Errorf("vertex %d has invalid neighbor %d", i, n)
			}
			list[j] = n
		}
		g.vertices[i] = Vertex{Index: uint32(i), Position: unit, Neighbors: list}
	}

	for i := range g.vertices {
		g.orderNeighbors(&g.vertices[i])
		for _, n := range g.vertices[i].Neighbors {
			if d := Chord(g.vertices[i].Position, g.vertices[n].Position); d < g.smallAngle {
				g.smallAngle = d
			}
		}
	}
	return g, nil
}

// orderNeighbors sorts neighbors by angle in the vertex's tangent plane.
func (g *Grid) orderNeighbors(v *Vertex) {
	normal := v.Position
	ref := Tangent(g.vertices[v.Neighbors[0]].Position.Sub(normal), normal)
	ref, ok := SafeNormalize(ref)
	if !ok {
		return
	}
	side := normal.Cross(ref)
	angles := make(map[uint32]float64, len(v.Neighbors))
	for _, n := range v.Neighbors {
		d := g.vertices[n].Position.Sub(normal)
		angles[n] = math.Atan2(d.Dot(side), d.Dot(ref))
	}
	sort.Slice(v.Neighbors, func(a, b int) bool {
		return angles[v.Neighbors[a]] < angles[v.Neighbors[b]]
	})
}

// Len returns the number of vertices.
func (g *Grid) Len() int {
	return len(g.vertices)
}

// Vertex returns the vertex at index i.
func (g *Grid) Vertex(i uint32) *Vertex {
	return &g.vertices[i]
}

// Position returns the unit position of vertex i.
func (g *Grid) Position(i uint32) mgl64.Vec3 {
	return g.vertices[i].Position
}

// Neighbors returns the cyclic neighbor list of vertex i.
func (g *Grid) Neighbors(i uint32) []uint32 {
	return g.vertices[i].Neighbors
}

// SmallestAngle returns the smallest chord between neighboring vertices.
func (g *Grid) SmallestAngle() float64 {
	return g.smallAngle
}

// NearestVertex hill-climbs from hint toward direction using squared chord
// distance and stops at the first local optimum. An out of range hint starts
// from vertex 0.
func (g *Grid) NearestVertex(direction mgl64.Vec3, hint uint32) uint32 {
	if int(hint) >= len(g.vertices) {
		hint = 0
	}
	target, ok := SafeNormalize(direction)
	if !ok {
		return hint
	}

	current := hint
	best := SquareChord(target, g.vertices[current].Position)
	for {
		next := current
		for _, n := range g.vertices[current].Neighbors {
			if d := SquareChord(target, g.vertices[n].Position); d < best {
				best = d
				next = n
			}
		}
		if next == current {
			return current
		}
		current = next
	}
}

// ContainingTriangle returns the two consecutive neighbors of vertex a that,
// with a, bound the triangle containing point p. When no fan triangle
// contains p the first pair is returned.
func (g *Grid) ContainingTriangle(a uint32, p mgl64.Vec3) (uint32, uint32) {
	v := &g.vertices[a]
	count := len(v.Neighbors)
	for i := range v.Neighbors {
		b := v.Neighbors[i]
		c := v.Neighbors[(i+1)%count]
		if insideTriangle(v.Position, g.vertices[b].Position, g.vertices[c].Position, p) {
			return b, c
		}
	}
	return v.Neighbors[0], v.Neighbors[1%count]
}

// insideTriangle tests p against the three great circle planes of the
// spherical triangle (a, b, c), accepting either winding.
func insideTriangle(a, b, c, p mgl64.Vec3) bool {
	s1 := a.Cross(b).Dot(p)
	s2 := b.Cross(c).Dot(p)
	s3 := c.Cross(a).Dot(p)
	const tol = -1e-12
	return (s1 >= tol && s2 >= tol && s3 >= tol) || (s1 <= -tol && s2 <= -tol && s3 <= -tol)
}
