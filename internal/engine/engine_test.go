package engine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"transitopt/internal/model"
)

func lineEngine(t *testing.T) *Engine {
	t.Helper()
	e := New(DefaultOptions(), zap.NewNop())
	for i := 0; i < 4; i++ {
		require.NoError(t, e.AddStop(model.Stop{ID: model.StopID(i), BaseDemand: float64(i + 1)}))
	}
	require.NoError(t, e.AddConnection(0, 1, 1))
	require.NoError(t, e.AddConnection(1, 2, 2))
	require.NoError(t, e.AddConnection(2, 3, 3))
	return e
}

func TestShortestPathEndToEnd(t *testing.T) {
	e := lineEngine(t)
	p, err := e.ShortestPath(0, 3)
	require.NoError(t, err)
	assert.Equal(t, []model.StopID{0, 1, 2, 3}, p.Stops)
	assert.InDelta(t, 6.0, p.Distance, 1e-9)
}

func TestMatrixCachedUntilEdgeChange(t *testing.T) {
	e := lineEngine(t)
	m1, err := e.ComputeAllPairs()
	require.NoError(t, err)
	m2, err := e.ComputeAllPairs()
	require.NoError(t, err)
	assert.Same(t, m1, m2)

	require.NoError(t, e.UpdateDemand(1, 40))
	require.NoError(t, e.UpdateDensity(1, 250))
	m3, err := e.ComputeAllPairs()
	require.NoError(t, err)
	assert.Same(t, m1, m3, "signal updates must not drop the matrix")

	require.NoError(t, e.AddConnection(0, 3, 2))
	m4, err := e.ComputeAllPairs()
	require.NoError(t, err)
	assert.NotSame(t, m1, m4)

	p, err := e.ShortestPath(0, 3)
	require.NoError(t, err)
	assert.Equal(t, []model.StopID{0, 3}, p.Stops)
	assert.Equal(t, 2.0, p.Distance)

	assert.True(t, e.RemoveConnection(0, 3))
	p, err = e.ShortestPath(0, 3)
	require.NoError(t, err)
	assert.Equal(t, 6.0, p.Distance)
}

func TestFailedMutationKeepsMatrix(t *testing.T) {
	e := lineEngine(t)
	m1, err := e.ComputeAllPairs()
	require.NoError(t, err)
	require.ErrorIs(t, e.AddConnection(0, 99, 1), model.ErrUnknownStop)
	m2, err := e.ComputeAllPairs()
	require.NoError(t, err)
	assert.Same(t, m1, m2)
}

func TestNewStopInvalidatesMatrix(t *testing.T) {
	e := lineEngine(t)
	_, err := e.ComputeAllPairs()
	require.NoError(t, err)
	require.NoError(t, e.AddStop(model.Stop{ID: 9}))

	_, err = e.ShortestPath(0, 9)
	require.ErrorIs(t, err, model.ErrNoPath)
}

func TestRemoveStopInvalidatesMatrix(t *testing.T) {
	e := lineEngine(t)
	w, ok := e.Weight(1, 2)
	require.True(t, ok)
	assert.Equal(t, 2.0, w)
	_, err := e.ComputeAllPairs()
	require.NoError(t, err)

	assert.True(t, e.RemoveStop(2))
	_, ok = e.Weight(1, 2)
	assert.False(t, ok)
	assert.Equal(t, 3, e.Len())
	_, err = e.ShortestPath(0, 3)
	require.ErrorIs(t, err, model.ErrNoPath)
	assert.False(t, e.RemoveStop(2))
}

func TestSequenceUsesGraphDistances(t *testing.T) {
	e := lineEngine(t)
	res, err := e.Sequence([]model.StopID{0, 3, 1, 2}, nil, 100, model.SequenceOpen)
	require.NoError(t, err)
	assert.Equal(t, []model.StopID{0, 1, 2, 3}, res.Order)
	assert.InDelta(t, 6.0, res.Cost, 1e-9)
	assert.Equal(t, 10.0, res.Load)

	cyc, err := e.Sequence([]model.StopID{0, 3, 1, 2}, nil, 0, model.SequenceCycle)
	require.NoError(t, err)
	assert.InDelta(t, 12.0, cyc.Cost, 1e-9)

	// base demands 1+2+3+4 exceed capacity 9
	_, err = e.Sequence([]model.StopID{0, 1, 2, 3}, nil, 9, model.SequenceOpen)
	require.ErrorIs(t, err, model.ErrInfeasible)

	_, err = e.Sequence([]model.StopID{0, 1, 2}, []float64{2, 3, 1}, 2, model.SequenceOpen)
	require.ErrorIs(t, err, model.ErrInfeasible)
}

func TestSequenceErrors(t *testing.T) {
	e := lineEngine(t)
	_, err := e.Sequence([]model.StopID{0, 42}, nil, 10, model.SequenceOpen)
	require.ErrorIs(t, err, model.ErrUnknownStop)

	opts := DefaultOptions()
	opts.MaxSequenceStops = 2
	small := New(opts, nil)
	_, err = small.Sequence([]model.StopID{0, 1, 2}, nil, 10, model.SequenceOpen)
	require.ErrorIs(t, err, model.ErrTooManyStops)
}

func TestSelectBestRouteUsesLiveSignals(t *testing.T) {
	e := New(DefaultOptions(), nil)
	require.NoError(t, e.AddStop(model.Stop{ID: 1, BaseDemand: 100, CurrentDensity: 100}))
	require.NoError(t, e.AddStop(model.Stop{ID: 2, BaseDemand: 50, CurrentDensity: 300}))
	require.NoError(t, e.AddStop(model.Stop{ID: 3, BaseDemand: 200, CurrentDensity: 100}))
	routes := []model.CandidateRoute{
		{ID: "a", Stops: []model.StopID{1, 2, 3}, Active: true},
		{ID: "b", Stops: []model.StopID{1, 3}, Active: true},
	}

	got, err := e.SelectBestRoute(1, 3, routes, nil)
	require.NoError(t, err)
	assert.Equal(t, "b", got.RouteID)

	// once stop 2 empties out and its demand rises, the longer route wins
	require.NoError(t, e.UpdateDensity(2, 0))
	require.NoError(t, e.UpdateDemand(2, 400))
	got, err = e.SelectBestRoute(1, 3, routes, nil)
	require.NoError(t, err)
	assert.Equal(t, "a", got.RouteID)
}

func TestConcurrentReadersAndWriters(t *testing.T) {
	e := lineEngine(t)
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(2)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				p, err := e.ShortestPath(0, 3)
				if assert.NoError(t, err) {
					assert.Equal(t, model.StopID(3), p.Stops[len(p.Stops)-1])
				}
			}
		}(w)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				assert.NoError(t, e.AddConnection(1, 2, float64(1+(i+w)%3)))
				assert.NoError(t, e.UpdateDensity(model.StopID(w%4), float64(i)))
			}
		}(w)
	}
	wg.Wait()
}
