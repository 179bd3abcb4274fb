package core

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"golang.org/x/exp/constraints"
)

// FloatEpsilon is the tolerance used for thickness and elevation comparisons.
const FloatEpsilon = 0.00001

// Clamp bounds v to [lo, hi].
func Clamp[T constraints.Float](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Chord returns the straight line distance between two points.
func Chord(a, b mgl64.Vec3) float64 {
	return a.Sub(b).Len()
}

// SquareChord returns the squared straight line distance between two points.
func SquareChord(a, b mgl64.Vec3) float64 {
	d := a.Sub(b)
	return d.Dot(d)
}

// AngleBetween returns the angle between two unit vectors.
func AngleBetween(a, b mgl64.Vec3) float64 {
	return math.Acos(Clamp(a.Dot(b), -1, 1))
}

// SafeNormalize normalizes v, reporting false for zero or non-finite input.
func SafeNormalize(v mgl64.Vec3) (mgl64.Vec3, bool) {
	l := v.Len()
	if l == 0 || math.IsNaN(l) || math.IsInf(l, 0) {
		return mgl64.Vec3{}, false
	}
	return v.Mul(1 / l), true
}

// RotationAbout builds the rotation by angle radians about axis.
func RotationAbout(axis mgl64.Vec3, angle float64) mgl64.Mat3 {
	unit, ok := SafeNormalize(axis)
	if !ok || angle == 0 {
		return mgl64.Ident3()
	}
	return mgl64.HomogRotate3D(angle, unit).Mat3()
}

// Tangent removes the component of v along the unit normal n.
func Tangent(v, n mgl64.Vec3) mgl64.Vec3 {
	return v.Sub(n.Mul(n.Dot(v)))
}

// CircleIntersectionArea is the lens area shared by two circles of radius r
// whose centers are d apart.
func CircleIntersectionArea(d, r float64) float64 {
	if r <= 0 || d >= 2*r {
		return 0
	}
	if d <= 0 {
		return math.Pi * r * r
	}
	return 2*r*r*math.Acos(d/(2*r)) - (d/2)*math.Sqrt(4*r*r-d*d)
}
