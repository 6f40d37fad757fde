package opt

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transitopt/internal/graph"
	"transitopt/internal/model"
)

const tol = 1e-9

func buildGraph(t *testing.T, n int, edges []model.Connection) *graph.Graph {
	t.Helper()
	g := graph.New()
	for i := 0; i < n; i++ {
		require.NoError(t, g.AddStop(model.Stop{ID: model.StopID(i)}))
	}
	for _, e := range edges {
		require.NoError(t, g.AddConnection(e.A, e.B, e.Weight))
	}
	return g
}

// randomGraph builds a deterministic sparse graph with a few disconnected stops.
func randomGraph(t *testing.T, n int, seed int64) *graph.Graph {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	var edges []model.Connection
	for i := 0; i < n-3; i++ {
		for j := i + 1; j < n-3; j++ {
			if rng.Float64() < 0.3 {
				edges = append(edges, model.Connection{A: model.StopID(i), B: model.StopID(j), Weight: math.Round(rng.Float64()*1000) / 10})
			}
		}
	}
	return buildGraph(t, n, edges)
}

func TestShortestPathOnLine(t *testing.T) {
	g := buildGraph(t, 4, []model.Connection{{A: 0, B: 1, Weight: 1}, {A: 1, B: 2, Weight: 2}, {A: 2, B: 3, Weight: 3}})
	m, err := ComputeAllPairs(g, SolveOptions{})
	require.NoError(t, err)

	p, err := m.Path(0, 3)
	require.NoError(t, err)
	assert.Equal(t, []model.StopID{0, 1, 2, 3}, p.Stops)
	assert.InDelta(t, 6.0, p.Distance, tol)

	back, err := m.Path(3, 0)
	require.NoError(t, err)
	assert.Equal(t, []model.StopID{3, 2, 1, 0}, back.Stops)
}

func TestShortcutReplacesDetour(t *testing.T) {
	g := buildGraph(t, 3, []model.Connection{{A: 0, B: 1, Weight: 1}, {A: 1, B: 2, Weight: 1}, {A: 0, B: 2, Weight: 5}})
	m, err := ComputeAllPairs(g, SolveOptions{})
	require.NoError(t, err)

	d, err := m.Distance(0, 2)
	require.NoError(t, err)
	assert.Equal(t, 2.0, d)
	p, err := m.Path(0, 2)
	require.NoError(t, err)
	assert.Equal(t, []model.StopID{0, 1, 2}, p.Stops)
}

func TestDisconnectedPair(t *testing.T) {
	g := buildGraph(t, 3, []model.Connection{{A: 0, B: 1, Weight: 1}})
	m, err := ComputeAllPairs(g, SolveOptions{})
	require.NoError(t, err)

	d, err := m.Distance(0, 2)
	require.NoError(t, err)
	assert.True(t, math.IsInf(d, 1))

	_, err = m.Path(0, 2)
	require.ErrorIs(t, err, model.ErrNoPath)

	_, err = m.Path(0, 99)
	require.ErrorIs(t, err, model.ErrUnknownStop)
}

func TestSelfPath(t *testing.T) {
	g := buildGraph(t, 2, nil)
	m, err := ComputeAllPairs(g, SolveOptions{})
	require.NoError(t, err)
	p, err := m.Path(1, 1)
	require.NoError(t, err)
	assert.Equal(t, []model.StopID{1}, p.Stops)
	assert.Zero(t, p.Distance)
}

func TestMatrixProperties(t *testing.T) {
	g := randomGraph(t, 24, 7)
	m, err := ComputeAllPairs(g, SolveOptions{})
	require.NoError(t, err)
	ids := m.IDs()

	for _, a := range ids {
		daa, _ := m.Distance(a, a)
		assert.Zero(t, daa)
		for _, b := range ids {
			dab, _ := m.Distance(a, b)
			dba, _ := m.Distance(b, a)
			if math.IsInf(dab, 1) {
				assert.True(t, math.IsInf(dba, 1))
				continue
			}
			assert.Equal(t, dab, dba, "symmetry %d-%d", a, b)

			for _, k := range ids {
				dak, _ := m.Distance(a, k)
				dkb, _ := m.Distance(k, b)
				assert.LessOrEqual(t, dab, dak+dkb+tol, "triangle %d-%d-%d", a, k, b)
			}

			p, err := m.Path(a, b)
			require.NoError(t, err)
			assert.Equal(t, a, p.Stops[0])
			assert.Equal(t, b, p.Stops[len(p.Stops)-1])
			sum := 0.0
			for i := 1; i < len(p.Stops); i++ {
				w, ok := g.Weight(p.Stops[i-1], p.Stops[i])
				require.True(t, ok, "hop %d-%d is not an edge", p.Stops[i-1], p.Stops[i])
				sum += w
			}
			assert.InDelta(t, dab, sum, 1e-6)
		}
	}
}

func TestComputeAllPairsIdempotent(t *testing.T) {
	g := randomGraph(t, 30, 11)
	first, err := ComputeAllPairs(g, SolveOptions{})
	require.NoError(t, err)
	second, err := ComputeAllPairs(g, SolveOptions{})
	require.NoError(t, err)
	assert.Equal(t, first.dist, second.dist)
	assert.Equal(t, first.next, second.next)
}

func TestParallelMatchesSequential(t *testing.T) {
	g := randomGraph(t, 90, 3)
	seq, err := ComputeAllPairs(g, SolveOptions{})
	require.NoError(t, err)
	par, err := ComputeAllPairs(g, SolveOptions{ParallelThreshold: 8, Workers: 4})
	require.NoError(t, err)
	assert.Equal(t, seq.dist, par.dist)
	assert.Equal(t, seq.next, par.next)
}

func TestSubmatrix(t *testing.T) {
	g := buildGraph(t, 4, []model.Connection{{A: 0, B: 1, Weight: 1}, {A: 1, B: 2, Weight: 2}, {A: 2, B: 3, Weight: 3}})
	m, err := ComputeAllPairs(g, SolveOptions{})
	require.NoError(t, err)

	sub, err := m.Submatrix([]model.StopID{3, 0})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{0, 6}, {6, 0}}, sub)

	_, err = m.Submatrix([]model.StopID{0, 8})
	require.ErrorIs(t, err, model.ErrUnknownStop)
}

func TestMatrixRecordsGraphVersion(t *testing.T) {
	g := buildGraph(t, 2, []model.Connection{{A: 0, B: 1, Weight: 1}})
	m, err := ComputeAllPairs(g, SolveOptions{})
	require.NoError(t, err)
	assert.Equal(t, g.Version(), m.Version())
	require.NoError(t, g.AddConnection(0, 1, 4))
	assert.NotEqual(t, g.Version(), m.Version())
}
