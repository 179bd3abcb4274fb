package core

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
)

func TestIcosphereCounts(t *testing.T) {
	tests := []struct {
		name  string
		level int
	}{
		{"Level0", 0},
		{"Level1", 1},
		{"Level3", 3},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			g, err := NewIcosphere(tc.level)
			if err != nil {
				t.Fatalf("NewIcosphere: %v", err)
			}
			if g.Len() != ApproximateVertexCount(tc.level) {
				t.Errorf("vertex count: got %d, want %d", g.Len(), ApproximateVertexCount(tc.level))
			}
			fives := 0
			for i := 0; i < g.Len(); i++ {
				n := len(g.Neighbors(uint32(i)))
				if n != 5 && n != 6 {
					t.Fatalf("vertex %d has %d neighbors", i, n)
				}
				if n == 5 {
					fives++
				}
			}
			if fives != 12 {
				t.Errorf("pentagon count: got %d, want 12", fives)
			}
			if g.SmallestAngle() <= 0 || g.SmallestAngle() > 1.2 {
				t.Errorf("smallest angle out of range: %f", g.SmallestAngle())
			}
		})
	}
}

func TestNeighborsAreCyclic(t *testing.T) {
	g, err := NewIcosphere(2)
	if err != nil {
		t.Fatalf("NewIcosphere: %v", err)
	}
	for i := 0; i < g.Len(); i++ {
		ns := g.Neighbors(uint32(i))
		for k := range ns {
			a, b := ns[k], ns[(k+1)%len(ns)]
			shared := false
			for _, m := range g.Neighbors(a) {
				if m == b {
					shared = true
					break
				}
			}
			if !shared {
				t.Fatalf("vertex %d: consecutive neighbors %d and %d are not adjacent", i, a, b)
			}
		}
	}
}

func TestNearestVertexMatchesBruteForce(t *testing.T) {
	g, err := NewIcosphere(3)
	if err != nil {
		t.Fatalf("NewIcosphere: %v", err)
	}
	rng := rand.New(rand.NewPCG(7, 11))
	for i := 0; i < 500; i++ {
		dir := mgl64.Vec3{rng.NormFloat64(), rng.NormFloat64(), rng.NormFloat64()}.Normalize()
		hint := uint32(rng.IntN(g.Len()))

		got := g.NearestVertex(dir, hint)

		want := uint32(0)
		best := math.Inf(1)
		for j := 0; j < g.Len(); j++ {
			if d := SquareChord(dir, g.Position(uint32(j))); d < best {
				best = d
				want = uint32(j)
			}
		}
		if SquareChord(dir, g.Position(got))-best > 1e-12 {
			t.Fatalf("direction %v hint %d: got %d, want %d", dir, hint, got, want)
		}
	}
}

func TestNearestVertexBadHint(t *testing.T) {
	g, err := NewIcosphere(1)
	if err != nil {
		t.Fatalf("NewIcosphere: %v", err)
	}
	target := g.Position(17)
	if got := g.NearestVertex(target, math.MaxUint32); got != 17 {
		t.Errorf("got %d, want 17", got)
	}
}

func TestNewGridRejectsBadInput(t *testing.T) {
	tests := []struct {
		name      string
		positions []mgl64.Vec3
		neighbors [][]uint32
	}{
		{"Empty", nil, nil},
		{"Mismatch", []mgl64.Vec3{{1, 0, 0}}, nil},
		{"TooFewNeighbors", []mgl64.Vec3{{1, 0, 0}, {0, 1, 0}}, [][]uint32{{1}, {0}}},
		{"ZeroPosition", []mgl64.Vec3{{0, 0, 0}}, [][]uint32{{0, 0, 0}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewGrid(tc.positions, tc.neighbors); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestContainingTriangle(t *testing.T) {
	g, err := NewIcosphere(2)
	if err != nil {
		t.Fatalf("NewIcosphere: %v", err)
	}
	a := uint32(40)
	ns := g.Neighbors(a)
	// centroid of the fan triangle (a, ns[2], ns[3])
	p := g.Position(a).Add(g.Position(ns[2])).Add(g.Position(ns[3])).Normalize()
	b, c := g.ContainingTriangle(a, p)
	if b != ns[2] || c != ns[3] {
		t.Errorf("got (%d, %d), want (%d, %d)", b, c, ns[2], ns[3])
	}
}
