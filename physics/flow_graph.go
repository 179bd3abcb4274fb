package physics

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"worldbuilder/core"
)

// FlowEdge carries a share of a node's suspended material downhill.
type FlowEdge struct {
	To     int
	Weight float64
}

// FlowNode is the per-cell state of one sediment transport pass. Heights
// are in meters.
type FlowNode struct {
	// Material is the movable sediment resting on the node.
	Material float64
	// Offset is the elevation of the rock below the material.
	Offset float64
	// Suspended is material picked up for transport.
	Suspended float64

	Out []FlowEdge
	In  []int

	inflow  float64
	visited bool
}

// Elevation is the surface height including suspended material.
func (n *FlowNode) Elevation() float64 {
	return n.Offset + n.Material + n.Suspended
}

// FlowGraph is a directed acyclic graph over cells with edges pointing
// strictly downhill. Nodes whose elevations differ by no more than
// core.FloatEpsilon are linked into equal sets instead of edges.
type FlowGraph struct {
	nodes []FlowNode
	equal []int // union-find parents
	loss  float64
}

// NewFlowGraph allocates n nodes. loss is the fraction of moving material
// left behind at each node.
func NewFlowGraph(n int, loss float64) *FlowGraph {
	g := &FlowGraph{
		nodes: make([]FlowNode, n),
		equal: make([]int, n),
		loss:  loss,
	}
	for i := range g.equal {
		g.equal[i] = i
	}
	return g
}

// Len returns the node count.
func (g *FlowGraph) Len() int {
	return len(g.nodes)
}

// Node returns node i.
func (g *FlowGraph) Node(i int) *FlowNode {
	return &g.nodes[i]
}

// SetNode initializes the heights of node i. Every node must be set before
// any node is connected.
func (g *FlowGraph) SetNode(i int, material, offset float64) {
	n := &g.nodes[i]
	n.Material = material
	n.Offset = offset
	n.Suspended = 0
}

// Connect adds edges from node i to each lower neighbor and links level
// neighbors into i's equal set. Weights are proportional to the squared
// drop, or the plain drop when linear is set, and sum to one. It returns
// the largest drop.
func (g *FlowGraph) Connect(i int, neighbors []int, linear bool) float64 {
	elevation := g.nodes[i].Elevation()
	var targets []int
	var drops []float64
	maxDrop := 0.0
	for _, j := range neighbors {
		if j == i {
			continue
		}
		drop := elevation - g.nodes[j].Elevation()
		switch {
		case drop > core.FloatEpsilon:
			targets = append(targets, j)
			drops = append(drops, drop)
			maxDrop = math.Max(maxDrop, drop)
		case math.Abs(drop) <= core.FloatEpsilon:
			g.union(i, j)
		}
	}
	if len(targets) == 0 {
		return 0
	}
	if !linear {
		floats.Mul(drops, drops)
	}
	floats.Scale(1/floats.Sum(drops), drops)
	for k, j := range targets {
		g.nodes[i].Out = append(g.nodes[i].Out, FlowEdge{To: j, Weight: drops[k]})
		g.nodes[j].In = append(g.nodes[j].In, i)
	}
	return maxDrop
}

// Suspend picks up h meters of node i's material for transport, limited to
// what is available. A previous suspension is returned first.
func (g *FlowGraph) Suspend(i int, h float64) error {
	if math.IsNaN(h) || math.IsInf(h, 0) || h < 0 {
		return core.Invariantf("suspension %v at node %d", h, i)
	}
	n := &g.nodes[i]
	n.Material += n.Suspended
	s := math.Min(h, n.Material)
	n.Material -= s
	n.Suspended = s
	return nil
}

// CheckWeights verifies that every node's outgoing weights are
// non-negative and sum to one.
func (g *FlowGraph) CheckWeights() error {
	for i := range g.nodes {
		out := g.nodes[i].Out
		if len(out) == 0 {
			continue
		}
		sum := 0.0
		for _, e := range out {
			if e.Weight < 0 || math.IsNaN(e.Weight) {
				return core.Invariantf("flow weight %v on edge %d->%d", e.Weight, i, e.To)
			}
			sum += e.Weight
		}
		if math.Abs(sum-1) > core.FloatEpsilon {
			return core.Invariantf("flow weights of node %d sum to %v", i, sum)
		}
	}
	return nil
}

// FlowAll moves all suspended material downhill in one pass. Each node is
// processed after every node that drains into it.
func (g *FlowGraph) FlowAll() {
	for i := range g.nodes {
		g.nodes[i].visited = false
	}
	for i := range g.nodes {
		g.flow(i)
	}
}

func (g *FlowGraph) flow(i int) {
	n := &g.nodes[i]
	if n.visited {
		return
	}
	n.visited = true
	for _, src := range n.In {
		g.flow(src)
	}

	moving := n.inflow + n.Suspended
	n.inflow = 0
	n.Suspended = 0
	if len(n.Out) == 0 {
		n.Material += moving
		return
	}
	moved := 0.0
	for _, e := range n.Out {
		amount := e.Weight * moving * (1 - g.loss)
		g.nodes[e.To].inflow += amount
		moved += amount
	}
	n.Material = math.Max(0, n.Material+moving-moved)
}

// TotalMaterial sums resting, suspended and in-transit material.
func (g *FlowGraph) TotalMaterial() float64 {
	heights := make([]float64, 0, 3*len(g.nodes))
	for i := range g.nodes {
		n := &g.nodes[i]
		heights = append(heights, n.Material, n.Suspended, n.inflow)
	}
	return floats.Sum(heights)
}

func (g *FlowGraph) find(i int) int {
	for g.equal[i] != i {
		g.equal[i] = g.equal[g.equal[i]]
		i = g.equal[i]
	}
	return i
}

func (g *FlowGraph) union(a, b int) {
	ra, rb := g.find(a), g.find(b)
	if ra != rb {
		g.equal[rb] = ra
	}
}

// equalSets groups node indices by equal set, keyed by set root.
func (g *FlowGraph) equalSets() map[int][]int {
	sets := make(map[int][]int)
	for i := range g.nodes {
		r := g.find(i)
		sets[r] = append(sets[r], i)
	}
	return sets
}
