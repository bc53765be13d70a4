package bvh

import (
	"fmt"
)

// NoNode marks a missing node index (empty tree root, leaf children).
const NoNode = -1

// NodeKind tags a node as a leaf or an internal node.
type NodeKind uint8

const (
	Leaf NodeKind = iota
	Internal
)

func (k NodeKind) String() string {
	if k == Internal {
		return "internal"
	}
	return "leaf"
}

// Node is one entry of the tree arena.
//
// A leaf covers the bodies Refs[First:First+Count]. An internal node has
// exactly two children, Left and Right, and its Box is their combination;
// its Count is the number of bodies below it and First is unused.
type Node struct {
	Kind  NodeKind
	Box   AABB
	Left  int
	Right int
	First int
	Count int
	// Hit is scratch state owned by HitTest.
	Hit bool
}

// IsLeaf reports whether the node has no children.
func (n *Node) IsLeaf() bool { return n.Kind == Leaf }

// Tree is a BVH stored as an index-based arena. It is built for one frame and
// released at the end of it.
type Tree struct {
	Nodes   []Node
	Refs    []int
	Root    int
	Builder string

	pool *Pool
}

// TreeStats summarizes a tree's shape.
type TreeStats struct {
	Leaves   int `json:"leaves"`
	Internal int `json:"internal"`
	Depth    int `json:"depth"`
	Bodies   int `json:"bodies"`
}

// Empty reports whether the tree has no root.
func (t *Tree) Empty() bool {
	return t == nil || t.Root == NoNode
}

// RootBox returns the root node's box, or false for an empty tree.
func (t *Tree) RootBox() (AABB, bool) {
	if t.Empty() {
		return AABB{}, false
	}
	return t.Nodes[t.Root].Box, true
}

// Leaf returns the source indices covered by leaf node id.
func (t *Tree) Leaf(id int) []int {
	n := &t.Nodes[id]
	if n.Kind != Leaf {
		return nil
	}
	return t.Refs[n.First : n.First+n.Count]
}

type walkItem struct {
	id    int
	depth int
}

// Walk visits nodes depth-first, parents before children and left before
// right. Returning false from fn skips the node's subtree.
func (t *Tree) Walk(fn func(id int, n *Node, depth int) bool) {
	if t.Empty() {
		return
	}
	stack := []walkItem{{t.Root, 0}}
	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n := &t.Nodes[it.id]
		if !fn(it.id, n, it.depth) {
			continue
		}
		if n.Kind == Internal {
			stack = append(stack, walkItem{n.Right, it.depth + 1}, walkItem{n.Left, it.depth + 1})
		}
	}
}

// Stats counts leaves, internal nodes, covered bodies and depth (a lone leaf
// has depth 0).
func (t *Tree) Stats() TreeStats {
	var s TreeStats
	t.Walk(func(_ int, n *Node, depth int) bool {
		if depth > s.Depth {
			s.Depth = depth
		}
		if n.Kind == Internal {
			s.Internal++
		} else {
			s.Leaves++
			s.Bodies += n.Count
		}
		return true
	})
	return s
}

// Validate checks the tree against src: every body is covered exactly once,
// leaf boxes are the union of their bodies' boxes and internal boxes are
// exactly the combination of their children's.
func (t *Tree) Validate(src Source) error {
	n := src.Len()
	if t.Empty() {
		if n != 0 {
			return fmt.Errorf("empty tree for %d bodies", n)
		}
		return nil
	}
	seen := make([]bool, n)
	visited := make([]bool, len(t.Nodes))
	var err error
	t.Walk(func(id int, node *Node, _ int) bool {
		if err != nil {
			return false
		}
		if visited[id] {
			err = fmt.Errorf("node %d reached twice", id)
			return false
		}
		visited[id] = true
		if !node.Box.Valid() {
			err = fmt.Errorf("%s %d has inverted box %v", node.Kind, id, node.Box)
			return false
		}
		switch node.Kind {
		case Internal:
			if node.Left == NoNode || node.Right == NoNode {
				err = fmt.Errorf("internal node %d is missing a child", id)
				return false
			}
			want := Combine(t.Nodes[node.Left].Box, t.Nodes[node.Right].Box)
			if node.Box != want {
				err = fmt.Errorf("node %d box %v != combined children %v", id, node.Box, want)
				return false
			}
		case Leaf:
			if node.Count == 0 {
				err = fmt.Errorf("leaf %d covers no bodies", id)
				return false
			}
			box := EmptyAABB()
			for _, ref := range t.Leaf(id) {
				if ref < 0 || ref >= n {
					err = fmt.Errorf("leaf %d references body %d of %d", id, ref, n)
					return false
				}
				if seen[ref] {
					err = fmt.Errorf("body %d covered twice", ref)
					return false
				}
				seen[ref] = true
				box = Combine(box, bodyBox(src, ref))
			}
			if node.Box != box {
				err = fmt.Errorf("leaf %d box %v != bodies box %v", id, node.Box, box)
				return false
			}
		}
		return true
	})
	if err != nil {
		return err
	}
	for i, ok := range seen {
		if !ok {
			return fmt.Errorf("body %d not covered", i)
		}
	}
	return nil
}

// Release hands the arena back to the builder's pool. The tree is empty
// afterwards and must not be reused. Bodies are never touched.
func (t *Tree) Release() {
	if t == nil {
		return
	}
	if t.pool != nil {
		t.pool.put(t.Nodes, t.Refs)
	}
	t.Nodes = nil
	t.Refs = nil
	t.Root = NoNode
	t.pool = nil
}
