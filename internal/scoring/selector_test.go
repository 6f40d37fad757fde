package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transitopt/internal/model"
)

type stopMap map[model.StopID]model.Stop

func (m stopMap) Stop(id model.StopID) (model.Stop, bool) {
	s, ok := m[id]
	return s, ok
}

func registry() stopMap {
	return stopMap{
		1: {ID: 1, Name: "Swargate", CurrentDensity: 100, BaseDemand: 100},
		2: {ID: 2, Name: "Pune Station", CurrentDensity: 300, BaseDemand: 50},
		3: {ID: 3, Name: "Kharadi", CurrentDensity: 100, BaseDemand: 200},
		4: {ID: 4, Name: "Hadapsar", CurrentDensity: 10, BaseDemand: 0},
	}
}

func TestSelectAvoidsCrowdedStop(t *testing.T) {
	routes := []model.CandidateRoute{
		{ID: "via-2", Name: "Via station", Stops: []model.StopID{1, 2, 3}, Active: true},
		{ID: "direct", Name: "Direct", Stops: []model.StopID{1, 3}, TotalDistance: 12.5, EstimatedTime: 30, Active: true},
	}
	got, err := SelectBestRoute(1, 3, routes, registry(), nil)
	require.NoError(t, err)

	assert.Equal(t, "direct", got.RouteID)
	assert.Equal(t, 12.5, got.TotalDistance)
	assert.Equal(t, 30, got.EstimatedTime)
	assert.InDelta(t, 100.0, got.AverageDensity, 1e-9)
	assert.InDelta(t, 150.0, got.AverageDemand, 1e-9)
	assert.InDelta(t, 100.0/151.0, got.Score, 1e-12)
	require.Len(t, got.Stops, 2)
	assert.Equal(t, model.StopID(1), got.Stops[0].ID)
	assert.Equal(t, "Kharadi", got.Stops[1].Name)

	require.Len(t, got.Candidates, 2)
	assert.Equal(t, "via-2", got.Candidates[0].RouteID)
	assert.InDelta(t, (500.0/3)/(350.0/3+1), got.Candidates[0].Score, 1e-12)
	assert.Greater(t, got.Candidates[0].Score, got.Candidates[1].Score)
}

func TestSelectReversedDirection(t *testing.T) {
	routes := []model.CandidateRoute{
		{ID: "loop", Stops: []model.StopID{4, 3, 2, 1}, Active: true},
	}
	got, err := SelectBestRoute(1, 3, routes, registry(), nil)
	require.NoError(t, err)
	var order []model.StopID
	for _, s := range got.Stops {
		order = append(order, s.ID)
	}
	assert.Equal(t, []model.StopID{1, 2, 3}, order)
}

func TestSelectTieKeepsFirst(t *testing.T) {
	routes := []model.CandidateRoute{
		{ID: "a", Stops: []model.StopID{1, 3}, Active: true},
		{ID: "b", Stops: []model.StopID{3, 1}, Active: true},
	}
	got, err := SelectBestRoute(1, 3, routes, registry(), nil)
	require.NoError(t, err)
	assert.Equal(t, "a", got.RouteID)
}

func TestSelectSkipsInactive(t *testing.T) {
	routes := []model.CandidateRoute{
		{ID: "direct", Stops: []model.StopID{1, 3}, Active: false},
		{ID: "via-2", Stops: []model.StopID{1, 2, 3}, Active: true},
	}
	got, err := SelectBestRoute(1, 3, routes, registry(), nil)
	require.NoError(t, err)
	assert.Equal(t, "via-2", got.RouteID)
	assert.Len(t, got.Candidates, 1)
}

func TestSelectErrors(t *testing.T) {
	routes := []model.CandidateRoute{{ID: "r", Stops: []model.StopID{1, 2}, Active: true}}

	_, err := SelectBestRoute(1, 3, routes, registry(), nil)
	require.ErrorIs(t, err, model.ErrNoRouteFound)

	_, err = SelectBestRoute(1, 42, routes, registry(), nil)
	require.ErrorIs(t, err, model.ErrUnknownStop)

	_, err = SelectBestRoute(42, 1, nil, registry(), nil)
	require.ErrorIs(t, err, model.ErrUnknownStop)

	_, err = SelectBestRoute(1, 2, nil, registry(), nil)
	require.ErrorIs(t, err, model.ErrNoRouteFound)
}

func TestSelectCustomDensity(t *testing.T) {
	routes := []model.CandidateRoute{
		{ID: "via-2", Stops: []model.StopID{1, 2, 3}, Active: true},
		{ID: "via-4", Stops: []model.StopID{1, 4, 3}, Active: true},
	}
	flat := func(model.Stop) float64 { return 60 }
	got, err := SelectBestRoute(1, 3, routes, registry(), flat)
	require.NoError(t, err)
	// equal density everywhere, so the higher-demand leg wins
	assert.Equal(t, "via-2", got.RouteID)
	assert.Equal(t, 60.0, got.AverageDensity)
}

func TestLeg(t *testing.T) {
	testCases := []struct {
		name   string
		stops  []model.StopID
		o, d   model.StopID
		want   []model.StopID
		wantOK bool
	}{
		{name: "forward", stops: []model.StopID{5, 1, 2, 3, 6}, o: 1, d: 3, want: []model.StopID{1, 2, 3}, wantOK: true},
		{name: "backward", stops: []model.StopID{5, 3, 2, 1}, o: 1, d: 3, want: []model.StopID{1, 2, 3}, wantOK: true},
		{name: "first occurrence", stops: []model.StopID{1, 2, 1, 3}, o: 1, d: 3, want: []model.StopID{1, 2, 1, 3}, wantOK: true},
		{name: "same stop", stops: []model.StopID{1, 2}, o: 2, d: 2, want: []model.StopID{2}, wantOK: true},
		{name: "missing", stops: []model.StopID{1, 2}, o: 1, d: 3},
	}
	for _, tt := range testCases {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Leg(tt.stops, tt.o, tt.d)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
