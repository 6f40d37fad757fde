package network

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"transitopt/internal/engine"
	"transitopt/internal/geo"
	"transitopt/internal/model"
	"transitopt/internal/store"
)

const small = `
stops:
  - {id: 1, name: A, lat: 18.5204, lon: 73.8567, base_demand: 10}
  - {id: 2, name: B, lat: 18.5314, lon: 73.8446, base_demand: 20}
  - {id: 3, name: C, lat: 18.5525, lon: 73.9375}
connections:
  - {a: 1, b: 2, weight: 4}
  - {a: 2, b: 3}
routes:
  - {name: R1, stops: [1, 2, 3], total_distance: 10, estimated_time: 30}
  - {name: R2, stops: [3, 1], active: false}
`

func TestLoadAndApply(t *testing.T) {
	def, err := Load(strings.NewReader(small))
	require.NoError(t, err)
	require.Len(t, def.Stops, 3)

	ctx := context.Background()
	st := store.NewMemory()
	sum, err := def.Apply(ctx, st)
	require.NoError(t, err)
	assert.Equal(t, Summary{Stops: 3, Connections: 2, Routes: 2}, sum)

	conns, err := st.ListConnections(ctx)
	require.NoError(t, err)
	require.Len(t, conns, 2)
	assert.Equal(t, 4.0, conns[0].Weight)
	want := geo.StraightLineKM(model.GeoPoint{Lat: 18.5314, Lon: 73.8446}, model.GeoPoint{Lat: 18.5525, Lon: 73.9375})
	assert.InDelta(t, want, conns[1].Weight, 1e-12)

	routes, err := st.ListRoutes(ctx, false)
	require.NoError(t, err)
	require.Len(t, routes, 2)
	assert.True(t, routes[0].Active)
	assert.False(t, routes[1].Active)
	assert.Equal(t, []model.StopID{1, 2, 3}, routes[0].Stops)
}

func TestRestoreIntoEngine(t *testing.T) {
	def, err := Load(strings.NewReader(small))
	require.NoError(t, err)
	ctx := context.Background()
	st := store.NewMemory()
	_, err = def.Apply(ctx, st)
	require.NoError(t, err)

	eng := engine.New(engine.DefaultOptions(), zap.NewNop())
	idx := geo.NewStopIndex()
	sum, err := Restore(ctx, st, eng, idx)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Stops)
	assert.Equal(t, 2, sum.Connections)
	assert.Equal(t, 3, idx.Len())

	p, err := eng.ShortestPath(1, 3)
	require.NoError(t, err)
	assert.Equal(t, []model.StopID{1, 2, 3}, p.Stops)
}

func TestLoadRejects(t *testing.T) {
	testCases := []struct {
		name string
		doc  string
		want error
	}{
		{name: "duplicate stop", doc: "stops: [{id: 1}, {id: 1}]", want: model.ErrDuplicateStop},
		{name: "unknown connection stop", doc: "stops: [{id: 1}]\nconnections: [{a: 1, b: 2}]", want: model.ErrUnknownStop},
		{name: "self connection", doc: "stops: [{id: 1}]\nconnections: [{a: 1, b: 1}]", want: model.ErrInvalidInput},
		{name: "negative weight", doc: "stops: [{id: 1}, {id: 2}]\nconnections: [{a: 1, b: 2, weight: -3}]", want: model.ErrInvalidWeight},
		{name: "short route", doc: "stops: [{id: 1}]\nroutes: [{name: r, stops: [1]}]", want: model.ErrInvalidInput},
		{name: "unknown route stop", doc: "stops: [{id: 1}]\nroutes: [{name: r, stops: [1, 5]}]", want: model.ErrUnknownStop},
		{name: "negative demand", doc: "stops: [{id: 1, base_demand: -1}]", want: model.ErrInvalidInput},
	}
	for _, tt := range testCases {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tt.doc))
			require.ErrorIs(t, err, tt.want)
		})
	}

	_, err := Load(strings.NewReader("stops: [{id: 1, colour: red}]"))
	require.Error(t, err)
}

func TestSeedFile(t *testing.T) {
	def, err := LoadFile("../../data/network.yaml")
	require.NoError(t, err)
	assert.Len(t, def.Stops, 10)

	ctx := context.Background()
	st := store.NewMemory()
	_, err = def.Apply(ctx, st)
	require.NoError(t, err)
	eng := engine.New(engine.DefaultOptions(), nil)
	_, err = Restore(ctx, st, eng, nil)
	require.NoError(t, err)

	// the seed network is connected
	for _, s := range def.Stops[1:] {
		_, err := eng.ShortestPath(1, model.StopID(s.ID))
		require.NoError(t, err, "stop %d", s.ID)
	}
}

func TestEmptyDocument(t *testing.T) {
	def, err := Load(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, def.Stops)
}
