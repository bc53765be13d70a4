// Package bvh builds bounding volume hierarchies over sets of circles.
//
// A tree is rebuilt from scratch for every frame, queried, and released. Two
// construction strategies share one contract: every body ends up in exactly
// one leaf, every leaf box is the union of its bodies' boxes, and every
// internal node has two children whose combined box is the node's box.
package bvh

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrTooManyBodies is returned before any allocation when the source is
	// larger than Options.MaxBodies.
	ErrTooManyBodies = errors.New("bvh: too many bodies")
	// ErrInvalidBody is returned for non-finite positions or non-positive radii.
	ErrInvalidBody = errors.New("bvh: invalid body")
	// ErrUnknownBuilder is returned by New for an unregistered name.
	ErrUnknownBuilder = errors.New("bvh: unknown builder")
)

// Builder turns a Source into a Tree.
type Builder interface {
	Name() string
	Build(src Source) (*Tree, error)
}

// Options tune a builder.
type Options struct {
	// LeafSize is the largest number of bodies the top-down builder keeps in
	// one leaf. 1 yields exactly one leaf per body.
	LeafSize int
	// MaxBodies bounds the arena a single build may allocate.
	MaxBodies int
	// Pool, when set, recycles arenas released by Tree.Release.
	Pool *Pool
}

// DefaultOptions returns options satisfying the strict one-body-per-leaf
// contract.
func DefaultOptions() Options {
	return Options{
		LeafSize:  1,
		MaxBodies: 1 << 16,
	}
}

func (o Options) normalized() Options {
	if o.LeafSize < 1 {
		o.LeafSize = 1
	}
	if o.MaxBodies <= 0 {
		o.MaxBodies = DefaultOptions().MaxBodies
	}
	return o
}

const (
	TopDownName  = "topdown"
	BottomUpName = "bottomup"
)

var builders = map[string]func(Options) Builder{
	TopDownName:  func(o Options) Builder { return NewTopDown(o) },
	BottomUpName: func(o Options) Builder { return NewBottomUp(o) },
}

// New returns the builder registered under name.
func New(name string, opts Options) (Builder, error) {
	ctor, ok := builders[name]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownBuilder, name)
	}
	return ctor(opts), nil
}

// Names lists registered builder names in sorted order.
func Names() []string {
	names := make([]string, 0, len(builders))
	for name := range builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func newTree(name string, opts Options, bodies int) *Tree {
	t := &Tree{Root: NoNode, Builder: name, pool: opts.Pool}
	if bodies == 0 {
		return t
	}
	// A strict binary tree over n leaves has 2n-1 nodes.
	t.Nodes = opts.Pool.getNodes(2*bodies - 1)
	t.Refs = opts.Pool.getRefs(bodies)
	return t
}

func (t *Tree) addNode(n Node) int {
	t.Nodes = append(t.Nodes, n)
	return len(t.Nodes) - 1
}
