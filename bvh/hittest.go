package bvh

import "github.com/go-gl/mathgl/mgl64"

// HitTest sets Hit on every node whose box contains p and clears it on every
// other node, returning the number of hits. All nodes are visited; subtrees
// under a missed node are not skipped, so overlapping nodes can all report a
// hit.
func (t *Tree) HitTest(p mgl64.Vec2) int {
	if t.Empty() {
		return 0
	}
	hits := 0
	for i := range t.Nodes {
		n := &t.Nodes[i]
		n.Hit = n.Box.Contains(p)
		if n.Hit {
			hits++
		}
	}
	return hits
}

// HitBodies returns the source indices of bodies in leaves marked by the last
// HitTest.
func (t *Tree) HitBodies() []int {
	var out []int
	t.Walk(func(id int, n *Node, _ int) bool {
		if n.Kind == Leaf && n.Hit {
			out = append(out, t.Leaf(id)...)
		}
		return true
	})
	return out
}
