package simulation

import (
	"math"
	"math/rand/v2"

	"github.com/go-gl/mathgl/mgl64"
)

// Random is the single seeded source behind every stochastic choice in a
// run. It is not safe for concurrent use.
type Random struct {
	rng  *rand.Rand
	seed uint64
}

// NewRandom creates a deterministic source from seed.
func NewRandom(seed uint64) *Random {
	return &Random{
		rng:  rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		seed: seed,
	}
}

// Seed returns the seed the source was created with.
func (r *Random) Seed() uint64 {
	return r.seed
}

// Normal draws from a normal distribution.
func (r *Random) Normal(mean, stdDev float64) float64 {
	return mean + r.rng.NormFloat64()*stdDev
}

// Uniform draws from [lo, hi).
func (r *Random) Uniform(lo, hi float64) float64 {
	return lo + r.rng.Float64()*(hi-lo)
}

// IntN returns a uniform index in [0, n). n must be positive.
func (r *Random) IntN(n int) int {
	return r.rng.IntN(n)
}

// PointOnSphere returns a direction uniformly distributed on the unit sphere.
func (r *Random) PointOnSphere() mgl64.Vec3 {
	z := r.Uniform(-1, 1)
	theta := r.Uniform(0, 2*math.Pi)
	s := math.Sqrt(1 - z*z)
	return mgl64.Vec3{s * math.Cos(theta), s * math.Sin(theta), z}
}
