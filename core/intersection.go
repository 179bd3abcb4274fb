package core

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Edge identifies one side of a triangle (p, q, r).
type Edge uint8

const (
	EdgePQ Edge = 1 << iota
	EdgePR
	EdgeQR
)

// Intersection is where a displacement leaves a triangle.
type Intersection struct {
	Point mgl64.Vec3
	// Distance is the signed multiple of the displacement vector needed to
	// reach Point from the start.
	Distance float64
	// OnEdge is false when no side of the triangle is crossed.
	OnEdge bool
	Edge   Edge
}

// TriangleIntersection follows a + t*v from a point a inside triangle
// (p, q, r) and reports the first side crossed for t > 0. Sides present in
// skip are ignored, which lets a walk avoid the side it just came through.
func TriangleIntersection(p, q, r, a, v mgl64.Vec3, skip Edge) Intersection {
	sides := [...]struct {
		u, w mgl64.Vec3
		edge Edge
	}{
		{p, q, EdgePQ},
		{p, r, EdgePR},
		{q, r, EdgeQR},
	}

	best := Intersection{Point: a}
	bestT := math.Inf(1)
	for _, s := range sides {
		if skip&s.edge != 0 {
			continue
		}
		n := s.u.Cross(s.w)
		denom := n.Dot(v)
		if math.Abs(denom) < 1e-15 {
			continue
		}
		t := -n.Dot(a) / denom
		if t <= 0 || t >= bestT {
			continue
		}
		x := a.Add(v.Mul(t))
		if !betweenOnGreatCircle(s.u, s.w, x, n) {
			continue
		}
		bestT = t
		best = Intersection{Point: x, Distance: t, OnEdge: true, Edge: s.edge}
	}
	return best
}

// betweenOnGreatCircle reports whether x lies on the arc from u to w, where
// n = u x w is the arc's plane normal.
func betweenOnGreatCircle(u, w, x, n mgl64.Vec3) bool {
	const tol = -1e-12
	return u.Cross(x).Dot(n) >= tol && x.Cross(w).Dot(n) >= tol
}
