package bvh

import "math"

// BottomUp builds trees by repeatedly pairing each node with its nearest
// neighbor, one level at a time.
type BottomUp struct {
	opts Options
}

// NewBottomUp returns a bottom-up builder. LeafSize is ignored: every leaf
// holds one body.
func NewBottomUp(opts Options) *BottomUp {
	return &BottomUp{opts: opts.normalized()}
}

func (b *BottomUp) Name() string { return BottomUpName }

// worklist is a doubly linked list of node indices threaded through the
// prev/next arrays shared by all levels.
type worklist struct {
	head, tail int
	prev, next []int
}

func (l *worklist) reset() {
	l.head, l.tail = NoNode, NoNode
}

func (l *worklist) push(id int) {
	l.prev[id] = l.tail
	l.next[id] = NoNode
	if l.tail == NoNode {
		l.head = id
	} else {
		l.next[l.tail] = id
	}
	l.tail = id
}

func (l *worklist) remove(id int) {
	if p := l.prev[id]; p != NoNode {
		l.next[p] = l.next[id]
	} else {
		l.head = l.next[id]
	}
	if n := l.next[id]; n != NoNode {
		l.prev[n] = l.prev[id]
	} else {
		l.tail = l.prev[id]
	}
	l.prev[id], l.next[id] = NoNode, NoNode
}

func (b *BottomUp) Build(src Source) (*Tree, error) {
	if err := checkSource(src, b.opts); err != nil {
		return nil, err
	}
	n := src.Len()
	t := newTree(BottomUpName, b.opts, n)
	if n == 0 {
		return t, nil
	}

	total := 2*n - 1
	links := make([]int, 2*total)
	cur := worklist{prev: links[:total], next: links[total:]}
	cur.reset()
	for i := 0; i < n; i++ {
		t.Refs[i] = i
		id := t.addNode(Node{
			Kind:  Leaf,
			Box:   bodyBox(src, i),
			Left:  NoNode,
			Right: NoNode,
			First: i,
			Count: 1,
		})
		cur.push(id)
	}

	next := worklist{prev: cur.prev, next: cur.next}
	for cur.head != cur.tail {
		next.reset()
		for cur.head != NoNode {
			left := cur.head
			cur.remove(left)
			if cur.head == NoNode {
				next.push(left)
				break
			}
			right := b.nearest(t, &cur, left)
			cur.remove(right)

			lb, rb := t.Nodes[left].Box, t.Nodes[right].Box
			parent := t.addNode(Node{
				Kind:  Internal,
				Box:   Combine(lb, rb),
				Left:  left,
				Right: right,
				Count: t.Nodes[left].Count + t.Nodes[right].Count,
			})
			next.push(parent)
		}
		cur.head, cur.tail = next.head, next.tail
	}
	t.Root = cur.head
	return t, nil
}

// nearest scans list for the node whose box center is closest to pivot's.
// Ties go to the first node in scan order.
func (b *BottomUp) nearest(t *Tree, list *worklist, pivot int) int {
	c := t.Nodes[pivot].Box.Center()
	best, bestDist := NoNode, math.Inf(1)
	for id := list.head; id != NoNode; id = list.next[id] {
		d := t.Nodes[id].Box.Center().Sub(c)
		if dist := d.Dot(d); dist < bestDist {
			best, bestDist = id, dist
		}
	}
	if best == NoNode {
		// Distances overflowed to +Inf.
		best = list.head
	}
	return best
}
