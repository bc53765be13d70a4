package bvh

// TopDown builds trees by recursive median splits over an in-place
// reorderable array of body references.
type TopDown struct {
	opts Options
}

// NewTopDown returns a top-down builder.
func NewTopDown(opts Options) *TopDown {
	return &TopDown{opts: opts.normalized()}
}

func (b *TopDown) Name() string { return TopDownName }

// Build copies the body indices into the tree's reference array and
// subdivides it.
func (b *TopDown) Build(src Source) (*Tree, error) {
	if err := checkSource(src, b.opts); err != nil {
		return nil, err
	}
	n := src.Len()
	t := newTree(TopDownName, b.opts, n)
	if n == 0 {
		return t, nil
	}
	for i := range t.Refs {
		t.Refs[i] = i
	}
	t.Root = b.subdivide(t, src, 0, n)
	return t, nil
}

// subdivide creates the node for Refs[first:first+count] and its subtree,
// returning the node's index.
func (b *TopDown) subdivide(t *Tree, src Source, first, count int) int {
	refs := t.Refs[first : first+count]

	// Every level gets its own box, not only the leaves.
	box := EmptyAABB()
	for _, ref := range refs {
		box = Combine(box, bodyBox(src, ref))
	}
	id := t.addNode(Node{
		Kind:  Leaf,
		Box:   box,
		Left:  NoNode,
		Right: NoNode,
		First: first,
		Count: count,
	})
	if count <= b.opts.LeafSize {
		return id
	}

	axis := box.LongestAxis()
	split := box.Center()[axis]

	i, j := 0, count-1
	for i <= j {
		pos, _ := src.Body(refs[i])
		if pos[axis] <= split {
			i++
		} else {
			refs[i], refs[j] = refs[j], refs[i]
			j--
		}
	}
	// Coincident positions all land on the <= side. The center always lies
	// between two body positions, so i == 0 cannot happen for finite input.
	if i == 0 || i == count {
		i = count / 2
	}

	left := b.subdivide(t, src, first, i)
	right := b.subdivide(t, src, first+i, count-i)

	node := &t.Nodes[id]
	node.Kind = Internal
	node.Left = left
	node.Right = right
	node.First = 0
	return id
}
