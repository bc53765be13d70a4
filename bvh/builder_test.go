package bvh

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomBodies(seed uint64, n int) Bodies {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	out := make(Bodies, n)
	for i := range out {
		out[i] = Body{
			Pos:    mgl64.Vec2{rng.Float64() * 800, rng.Float64() * 600},
			Radius: 3 + rng.Float64()*7,
		}
	}
	return out
}

func clusteredBodies() Bodies {
	var out Bodies
	for _, c := range []mgl64.Vec2{{50, 50}, {700, 80}, {400, 500}} {
		for i := 0; i < 6; i++ {
			out = append(out, Body{Pos: c.Add(mgl64.Vec2{float64(i), float64(i * 2)}), Radius: 4})
		}
	}
	return out
}

func allBuilders(t *testing.T) []Builder {
	t.Helper()
	var out []Builder
	for _, name := range Names() {
		b, err := New(name, DefaultOptions())
		require.NoError(t, err)
		out = append(out, b)
	}
	return out
}

func TestNames(t *testing.T) {
	assert.Equal(t, []string{BottomUpName, TopDownName}, Names())
	_, err := New("octree", DefaultOptions())
	assert.ErrorIs(t, err, ErrUnknownBuilder)
}

func TestBuildContract(t *testing.T) {
	inputs := map[string]Bodies{
		"one":        {{Pos: mgl64.Vec2{10, 10}, Radius: 2}},
		"two":        {{Pos: mgl64.Vec2{10, 10}, Radius: 2}, {Pos: mgl64.Vec2{30, 10}, Radius: 3}},
		"random 7":   randomBodies(1, 7),
		"random 64":  randomBodies(2, 64),
		"random 200": randomBodies(3, 200),
		"clustered":  clusteredBodies(),
	}
	for _, b := range allBuilders(t) {
		for name, bodies := range inputs {
			t.Run(b.Name()+"/"+name, func(t *testing.T) {
				tree, err := b.Build(bodies)
				require.NoError(t, err)
				require.NoError(t, tree.Validate(bodies))

				stats := tree.Stats()
				assert.Equal(t, len(bodies), stats.Leaves)
				assert.Equal(t, len(bodies)-1, stats.Internal)
				assert.Equal(t, len(bodies), stats.Bodies)
				assert.Len(t, tree.Nodes, 2*len(bodies)-1)

				root, ok := tree.RootBox()
				require.True(t, ok)
				for _, body := range bodies {
					assert.True(t, root.ContainsBox(CircleBox(body.Pos, body.Radius)))
				}
				assert.Equal(t, len(bodies), tree.Nodes[tree.Root].Count)
			})
		}
	}
}

func TestBuildEmpty(t *testing.T) {
	for _, b := range allBuilders(t) {
		t.Run(b.Name(), func(t *testing.T) {
			tree, err := b.Build(Bodies{})
			require.NoError(t, err)
			assert.True(t, tree.Empty())
			assert.Equal(t, NoNode, tree.Root)
			assert.Equal(t, 0, tree.HitTest(mgl64.Vec2{0, 0}))
			assert.Equal(t, TreeStats{}, tree.Stats())
			_, ok := tree.RootBox()
			assert.False(t, ok)
			assert.NoError(t, tree.Validate(Bodies{}))
			tree.Release()
		})
	}
}

func TestBuildSingle(t *testing.T) {
	body := Body{Pos: mgl64.Vec2{12, -4}, Radius: 6}
	for _, b := range allBuilders(t) {
		t.Run(b.Name(), func(t *testing.T) {
			tree, err := b.Build(Bodies{body})
			require.NoError(t, err)
			require.Len(t, tree.Nodes, 1)
			root := tree.Nodes[tree.Root]
			assert.True(t, root.IsLeaf())
			assert.Equal(t, CircleBox(body.Pos, body.Radius), root.Box)
			assert.Equal(t, []int{0}, tree.Leaf(tree.Root))
		})
	}
}

func TestBuildCoincident(t *testing.T) {
	bodies := make(Bodies, 9)
	for i := range bodies {
		bodies[i] = Body{Pos: mgl64.Vec2{100, 100}, Radius: 5}
	}
	for _, b := range allBuilders(t) {
		t.Run(b.Name(), func(t *testing.T) {
			tree, err := b.Build(bodies)
			require.NoError(t, err)
			require.NoError(t, tree.Validate(bodies))
			assert.Equal(t, 9, tree.Stats().Leaves)
		})
	}
}

func TestBuildDeterministic(t *testing.T) {
	bodies := randomBodies(42, 120)
	for _, b := range allBuilders(t) {
		t.Run(b.Name(), func(t *testing.T) {
			first, err := b.Build(bodies)
			require.NoError(t, err)
			second, err := b.Build(bodies)
			require.NoError(t, err)
			assert.Equal(t, first.Root, second.Root)
			assert.Equal(t, first.Nodes, second.Nodes)
			assert.Equal(t, first.Refs, second.Refs)
		})
	}
}

func TestBuildRejectsInput(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxBodies = 4
	for _, name := range Names() {
		b, err := New(name, opts)
		require.NoError(t, err)
		t.Run(name, func(t *testing.T) {
			tree, err := b.Build(randomBodies(7, 5))
			assert.ErrorIs(t, err, ErrTooManyBodies)
			assert.Nil(t, tree)

			bad := []Bodies{
				{{Pos: mgl64.Vec2{math.NaN(), 0}, Radius: 1}},
				{{Pos: mgl64.Vec2{0, math.Inf(1)}, Radius: 1}},
				{{Pos: mgl64.Vec2{0, 0}, Radius: 0}},
				{{Pos: mgl64.Vec2{0, 0}, Radius: -2}},
			}
			for _, bodies := range bad {
				tree, err := b.Build(bodies)
				assert.ErrorIs(t, err, ErrInvalidBody)
				assert.Nil(t, tree)
			}
		})
	}
}

func TestReleaseRecyclesArena(t *testing.T) {
	opts := DefaultOptions()
	opts.Pool = &Pool{}
	bodies := randomBodies(9, 50)
	for _, name := range Names() {
		b, err := New(name, opts)
		require.NoError(t, err)
		t.Run(name, func(t *testing.T) {
			for frame := 0; frame < 3; frame++ {
				tree, err := b.Build(bodies)
				require.NoError(t, err)
				require.NoError(t, tree.Validate(bodies))
				tree.Release()
				assert.True(t, tree.Empty())
				assert.Nil(t, tree.Nodes)
				assert.Nil(t, tree.Refs)
			}
		})
	}
	// Bodies are never owned by the tree.
	assert.Equal(t, randomBodies(9, 50), bodies)
}
