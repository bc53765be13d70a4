package bvh

import "sync"

// Pool recycles node and reference arenas between frames, since every frame
// builds a fresh tree of roughly the same size. The zero value is ready to
// use and safe for concurrent use.
type Pool struct {
	nodes sync.Pool
	refs  sync.Pool
}

func (p *Pool) getNodes(capacity int) []Node {
	if p != nil {
		if v, ok := p.nodes.Get().(*[]Node); ok && cap(*v) >= capacity {
			return (*v)[:0]
		}
	}
	return make([]Node, 0, capacity)
}

func (p *Pool) getRefs(n int) []int {
	if p != nil {
		if v, ok := p.refs.Get().(*[]int); ok && cap(*v) >= n {
			return (*v)[:n]
		}
	}
	return make([]int, n)
}

func (p *Pool) put(nodes []Node, refs []int) {
	if nodes != nil {
		nodes = nodes[:0]
		p.nodes.Put(&nodes)
	}
	if refs != nil {
		refs = refs[:0]
		p.refs.Put(&refs)
	}
}
