package core

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// NewIcosphere subdivides an icosahedron and projects it onto the unit
// sphere. Level n has 10*4^n + 2 vertices, each with 5 or 6 neighbors.
func NewIcosphere(subdivisions int) (*Grid, error) {
	// Golden ratio
	t := (1.0 + math.Sqrt(5.0)) / 2.0

	vertices := []mgl64.Vec3{
		{-1, t, 0}, {1, t, 0}, {-1, -t, 0}, {1, -t, 0},
		{0, -1, t}, {0, 1, t}, {0, -1, -t}, {0, 1, -t},
		{t, 0, -1}, {t, 0, 1}, {-t, 0, -1}, {-t, 0, 1},
	}

	indices := []uint32{
		0, 11, 5, 0, 5, 1, 0, 1, 7, 0, 7, 10, 0, 10, 11,
		1, 5, 9, 5, 11, 4, 11, 10, 2, 10, 7, 6, 7, 1, 8,
		3, 9, 4, 3, 4, 2, 3, 2, 6, 3, 6, 8, 3, 8, 9,
		4, 9, 5, 2, 4, 11, 6, 2, 10, 8, 6, 7, 9, 8, 1,
	}

	for i := range vertices {
		vertices[i] = vertices[i].Normalize()
	}
	for i := 0; i < subdivisions; i++ {
		vertices, indices = subdivide(vertices, indices)
	}

	return NewGrid(vertices, faceNeighbors(len(vertices), indices))
}

func subdivide(vertices []mgl64.Vec3, indices []uint32) ([]mgl64.Vec3, []uint32) {
	midpoints := make(map[[2]uint32]uint32)
	newVertices := make([]mgl64.Vec3, len(vertices), len(vertices)*4)
	copy(newVertices, vertices)
	newIndices := make([]uint32, 0, len(indices)*4)

	getMidpoint := func(i1, i2 uint32) uint32 {
		key := [2]uint32{i1, i2}
		if i1 > i2 {
			key = [2]uint32{i2, i1}
		}
		if mid, exists := midpoints[key]; exists {
			return mid
		}
		mid := vertices[i1].Add(vertices[i2]).Normalize()
		newVertices = append(newVertices, mid)
		midpoints[key] = uint32(len(newVertices) - 1)
		return midpoints[key]
	}

	for i := 0; i < len(indices); i += 3 {
		v1, v2, v3 := indices[i], indices[i+1], indices[i+2]
		m1 := getMidpoint(v1, v2)
		m2 := getMidpoint(v2, v3)
		m3 := getMidpoint(v3, v1)

		newIndices = append(newIndices, v1, m1, m3, v2, m2, m1, v3, m3, m2, m1, m2, m3)
	}

	return newVertices, newIndices
}

// faceNeighbors collects each vertex's adjacent vertices from triangle faces.
func faceNeighbors(count int, indices []uint32) [][]uint32 {
	seen := make([]map[uint32]struct{}, count)
	neighbors := make([][]uint32, count)
	link := func(a, b uint32) {
		if seen[a] == nil {
			seen[a] = make(map[uint32]struct{}, 6)
		}
		if _, ok := seen[a][b]; ok {
			return
		}
		seen[a][b] = struct{}{}
		neighbors[a] = append(neighbors[a], b)
	}
	for i := 0; i < len(indices); i += 3 {
		a, b, c := indices[i], indices[i+1], indices[i+2]
		link(a, b)
		link(a, c)
		link(b, a)
		link(b, c)
		link(c, a)
		link(c, b)
	}
	return neighbors
}

// ApproximateVertexCount returns the vertex count of an icosphere level.
func ApproximateVertexCount(level int) int {
	// Icosphere vertex count formula: 10 * 4^level + 2
	count := 10
	for i := 0; i < level; i++ {
		count *= 4
	}
	return count + 2
}
