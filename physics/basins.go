package physics

import (
	"cmp"
	"container/heap"
	"maps"
	"math"
	"slices"
	"sort"

	"worldbuilder/core"
)

type floodEntry struct {
	key  float64
	node int
	leaf int
	seed bool
}

// floodQueue orders nodes by spill height, the highest point on the lowest
// path from a sink.
type floodQueue []floodEntry

func (q floodQueue) Len() int { return len(q) }
func (q floodQueue) Less(i, j int) bool {
	if q[i].key != q[j].key {
		return q[i].key < q[j].key
	}
	if q[i].node != q[j].node {
		return q[i].node < q[j].node
	}
	// a sink always floods its own nodes
	if q[i].seed != q[j].seed {
		return q[i].seed
	}
	return q[i].leaf < q[j].leaf
}
func (q floodQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *floodQueue) Push(x any)   { *q = append(*q, x.(floodEntry)) }
func (q *floodQueue) Pop() any {
	old := *q
	e := old[len(old)-1]
	*q = old[:len(old)-1]
	return e
}

// depression is a node of the basin tree. Leaves are sinks; an inner
// depression is formed where two depressions meet at a saddle.
type depression struct {
	parent   int
	children [2]int
	// capacity is the volume the depression holds when filled up to the
	// saddle where it meets its sibling.
	capacity float64
	// spill is the leaf receiving overflow on the far side of that saddle.
	spill int
	water float64

	count float64 // flooded nodes in the subtree
	sum   float64 // sum of their base heights
	own   []int   // nodes flooded while this was the top depression
}

type basinFill struct {
	g    *FlowGraph
	base []float64
	key  []float64
	sets map[int][]int

	tree []*depression
	top  []int // union-find over tree ids, pointing at the current top
}

// FillBasins settles the material collected in sinks. Every sink becomes a
// lake that fills its depression up to the lowest saddle, merges with the
// lake beyond when both are full and otherwise spills its excess into it.
// Members below a lake's surface are raised to it. Total material is
// conserved, and a second call without changes in between moves nothing.
func (g *FlowGraph) FillBasins() error {
	f := &basinFill{
		g:    g,
		base: make([]float64, len(g.nodes)),
		key:  make([]float64, len(g.nodes)),
		sets: g.equalSets(),
	}

	roots := slices.Sorted(maps.Keys(f.sets))
	var volumes []float64
	var seeds [][]int
	for _, r := range roots {
		sink := false
		volume := 0.0
		for _, m := range f.sets[r] {
			n := &g.nodes[m]
			if len(n.Out) == 0 {
				sink = true
				volume += n.Material
				n.Material = 0
			}
		}
		if !sink {
			continue
		}
		if math.IsNaN(volume) || math.IsInf(volume, 0) || volume < 0 {
			return core.Invariantf("sink set %d holds %v material", r, volume)
		}
		volumes = append(volumes, volume)
		seeds = append(seeds, f.sets[r])
	}
	for i := range g.nodes {
		f.base[i] = g.nodes[i].Offset + g.nodes[i].Material
	}
	if len(seeds) == 0 {
		return nil
	}

	if err := f.flood(seeds); err != nil {
		return err
	}
	for leaf, v := range volumes {
		if v > 0 {
			f.pour(leaf, v)
		}
	}
	f.settle()
	return nil
}

func (f *basinFill) newDepression() int {
	id := len(f.tree)
	f.tree = append(f.tree, &depression{
		parent:   -1,
		children: [2]int{-1, -1},
		capacity: math.Inf(1),
		spill:    -1,
	})
	f.top = append(f.top, id)
	return id
}

func (f *basinFill) find(id int) int {
	for f.top[id] != id {
		f.top[id] = f.top[f.top[id]]
		id = f.top[id]
	}
	return id
}

// flood grows every sink outward, lowest spill height first, and records a
// depression merge the first time two of them touch.
func (f *basinFill) flood(seeds [][]int) error {
	g := f.g
	leafOf := make([]int, len(g.nodes))
	for i := range leafOf {
		leafOf[i] = -1
	}
	expanded := make(map[int]bool)

	var q floodQueue
	for _, members := range seeds {
		leaf := f.newDepression()
		for _, m := range members {
			heap.Push(&q, floodEntry{key: f.base[m], node: m, leaf: leaf, seed: true})
		}
	}

	for q.Len() > 0 {
		e := heap.Pop(&q).(floodEntry)
		x := e.node
		if leafOf[x] >= 0 {
			continue
		}
		leafOf[x] = e.leaf
		f.key[x] = e.key
		d := f.tree[f.find(e.leaf)]
		d.own = append(d.own, x)
		d.count++
		d.sum += f.base[x]

		visit := func(y int) error {
			if leafOf[y] < 0 {
				heap.Push(&q, floodEntry{key: math.Max(e.key, f.base[y]), node: y, leaf: e.leaf})
				return nil
			}
			a, b := f.find(e.leaf), f.find(leafOf[y])
			if a == b {
				return nil
			}
			return f.merge(a, b, e.key, leafOf[y], e.leaf)
		}
		n := &g.nodes[x]
		for _, out := range n.Out {
			if err := visit(out.To); err != nil {
				return err
			}
		}
		for _, src := range n.In {
			if err := visit(src); err != nil {
				return err
			}
		}
		if r := g.find(x); !expanded[r] {
			expanded[r] = true
			for _, m := range f.sets[r] {
				if err := visit(m); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// merge joins depressions a and b at a saddle of the given height. Overflow
// from a lands in leaf intoA and overflow from b in leaf intoB.
func (f *basinFill) merge(a, b int, saddle float64, intoA, intoB int) error {
	if a == b {
		return core.Invariantf("basin %d merged with itself", a)
	}
	p := f.newDepression()
	da, db, dp := f.tree[a], f.tree[b], f.tree[p]
	da.capacity = math.Max(0, da.count*saddle-da.sum)
	db.capacity = math.Max(0, db.count*saddle-db.sum)
	da.spill, db.spill = intoA, intoB
	da.parent, db.parent = p, p
	dp.children = [2]int{a, b}
	dp.count = da.count + db.count
	dp.sum = da.sum + db.sum
	f.top[a], f.top[b] = p, p
	return nil
}

func (f *basinFill) sibling(id int) int {
	c := f.tree[f.tree[id].parent].children
	if c[0] == id {
		return c[1]
	}
	return c[0]
}

// pour adds volume v at depression id and passes it upward. A depression
// that overflows hands the excess to its sibling unless the sibling is full
// as well, in which case both form one lake and the water stays with the
// parent.
func (f *basinFill) pour(id int, v float64) {
	for v > 0 {
		d := f.tree[id]
		d.water += v
		if d.parent < 0 {
			return
		}
		over := d.water - d.capacity
		s := f.tree[f.sibling(id)]
		if over > 0 && s.water < s.capacity {
			if over <= v {
				// exact, so the sibling sees it full
				d.water = d.capacity
			} else {
				over = v
				d.water -= over
			}
			f.pour(d.spill, over)
			v -= over
		}
		id = d.parent
	}
}

func (f *basinFill) full(id int) bool {
	d := f.tree[id]
	return d.water >= d.capacity
}

// settle finds the lakes, the highest depressions whose water spans their
// whole subtree, and raises their members to the water surface.
func (f *basinFill) settle() {
	var stack []int
	for id, d := range f.tree {
		if d.parent < 0 {
			stack = append(stack, id)
		}
	}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		d := f.tree[id]
		if d.water <= 0 {
			continue
		}
		c := d.children
		if c[0] >= 0 && !(f.full(c[0]) && f.full(c[1])) {
			stack = append(stack, c[0], c[1])
			continue
		}
		f.fillLake(f.members(id), d.water)
	}
}

func (f *basinFill) members(id int) []int {
	var out []int
	stack := []int{id}
	for len(stack) > 0 {
		d := f.tree[stack[len(stack)-1]]
		stack = stack[:len(stack)-1]
		out = append(out, d.own...)
		if d.children[0] >= 0 {
			stack = append(stack, d.children[0], d.children[1])
		}
	}
	return out
}

// fillLake pours volume over members in order of spill height. A member is
// covered once the surface reaches its spill height; a member lying below
// its own spill height takes what is left once the surface gets there.
func (f *basinFill) fillLake(members []int, volume float64) {
	if len(members) == 0 {
		return
	}
	slices.SortFunc(members, func(a, b int) int {
		if c := cmp.Compare(f.key[a], f.key[b]); c != 0 {
			return c
		}
		if c := cmp.Compare(f.base[a], f.base[b]); c != 0 {
			return c
		}
		return a - b
	})

	raise := func(n int, level float64) {
		for _, m := range members[:n] {
			if level > f.base[m] {
				f.g.nodes[m].Material += level - f.base[m]
			}
		}
	}
	sum := 0.0
	for k, m := range members {
		if k > 0 {
			// volume held by the first k members at this member's spill height
			held := float64(k)*f.key[m] - sum
			if volume <= held {
				raise(k, (volume+sum)/float64(k))
				return
			}
			if step := held + f.key[m] - f.base[m]; volume <= step {
				raise(k, f.key[m])
				f.g.nodes[m].Material += volume - held
				return
			}
		}
		sum += f.base[m]
	}
	raise(len(members), (volume+sum)/float64(len(members)))
}

// WaterLevel returns the surface height of volume poured over columns with
// the given base heights.
func WaterLevel(bases []float64, volume float64) float64 {
	if len(bases) == 0 {
		return 0
	}
	sorted := slices.Clone(bases)
	sort.Float64s(sorted)
	used := 0.0
	for k := 1; k < len(sorted); k++ {
		need := (sorted[k] - sorted[k-1]) * float64(k)
		if used+need > volume {
			return sorted[k-1] + (volume-used)/float64(k)
		}
		used += need
	}
	return sorted[len(sorted)-1] + (volume-used)/float64(len(sorted))
}
