// Package graph holds the weighted, undirected stop network that the
// shortest-path solver and the sequencer query.
//
// A Graph is not safe for concurrent use; the engine guards it with a
// read-write lock.
package graph

import (
	"fmt"
	"math"
	"sort"

	"transitopt/internal/model"
)

type Graph struct {
	stops map[model.StopID]*model.Stop
	adj   map[model.StopID]map[model.StopID]float64
	// version increments on every connection change so derived matrices can detect staleness.
	version uint64
}

func New() *Graph {
	return &Graph{
		stops: map[model.StopID]*model.Stop{},
		adj:   map[model.StopID]map[model.StopID]float64{},
	}
}

// AddStop registers s. It fails with ErrDuplicateStop if the id is taken.
func (g *Graph) AddStop(s model.Stop) error {
	if _, ok := g.stops[s.ID]; ok {
		return fmt.Errorf("add stop %d: %w", s.ID, model.ErrDuplicateStop)
	}
	if err := checkSignal("base demand", s.BaseDemand); err != nil {
		return fmt.Errorf("add stop %d: %w", s.ID, err)
	}
	if err := checkSignal("current density", s.CurrentDensity); err != nil {
		return fmt.Errorf("add stop %d: %w", s.ID, err)
	}
	cp := s
	g.stops[s.ID] = &cp
	g.adj[s.ID] = map[model.StopID]float64{}
	return nil
}

// AddConnection adds or replaces the undirected edge a-b. The last write wins.
func (g *Graph) AddConnection(a, b model.StopID, weight float64) error {
	if _, ok := g.stops[a]; !ok {
		return fmt.Errorf("connect %d-%d: stop %d: %w", a, b, a, model.ErrUnknownStop)
	}
	if _, ok := g.stops[b]; !ok {
		return fmt.Errorf("connect %d-%d: stop %d: %w", a, b, b, model.ErrUnknownStop)
	}
	if a == b {
		return fmt.Errorf("connect %d-%d: self connection: %w", a, b, model.ErrInvalidInput)
	}
	if math.IsNaN(weight) || math.IsInf(weight, 0) || weight < 0 {
		return fmt.Errorf("connect %d-%d: weight %v: %w", a, b, weight, model.ErrInvalidWeight)
	}
	g.adj[a][b] = weight
	g.adj[b][a] = weight
	g.version++
	return nil
}

// RemoveConnection deletes the edge a-b if present and reports whether it existed.
func (g *Graph) RemoveConnection(a, b model.StopID) bool {
	if _, ok := g.adj[a][b]; !ok {
		return false
	}
	delete(g.adj[a], b)
	delete(g.adj[b], a)
	g.version++
	return true
}

// RemoveStop deletes the stop and every edge touching it.
func (g *Graph) RemoveStop(id model.StopID) bool {
	edges, ok := g.adj[id]
	if !ok {
		return false
	}
	for n := range edges {
		delete(g.adj[n], id)
	}
	delete(g.adj, id)
	delete(g.stops, id)
	g.version++
	return true
}

func (g *Graph) UpdateDemand(id model.StopID, value float64) error {
	s, ok := g.stops[id]
	if !ok {
		return fmt.Errorf("update demand: stop %d: %w", id, model.ErrUnknownStop)
	}
	if err := checkSignal("demand", value); err != nil {
		return fmt.Errorf("update demand: stop %d: %w", id, err)
	}
	s.BaseDemand = value
	return nil
}

func (g *Graph) UpdateDensity(id model.StopID, value float64) error {
	s, ok := g.stops[id]
	if !ok {
		return fmt.Errorf("update density: stop %d: %w", id, model.ErrUnknownStop)
	}
	if err := checkSignal("density", value); err != nil {
		return fmt.Errorf("update density: stop %d: %w", id, err)
	}
	s.CurrentDensity = value
	return nil
}

// Neighbors returns the stops directly connected to id in ascending order.
func (g *Graph) Neighbors(id model.StopID) ([]model.StopID, error) {
	edges, ok := g.adj[id]
	if !ok {
		return nil, fmt.Errorf("neighbors: stop %d: %w", id, model.ErrUnknownStop)
	}
	out := make([]model.StopID, 0, len(edges))
	for n := range edges {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (g *Graph) HasConnection(a, b model.StopID) bool {
	_, ok := g.adj[a][b]
	return ok
}

// Weight returns the direct edge weight between a and b.
func (g *Graph) Weight(a, b model.StopID) (float64, bool) {
	w, ok := g.adj[a][b]
	return w, ok
}

func (g *Graph) HasStop(id model.StopID) bool {
	_, ok := g.stops[id]
	return ok
}

// Stop returns a copy of the stop with the given id.
func (g *Graph) Stop(id model.StopID) (model.Stop, bool) {
	s, ok := g.stops[id]
	if !ok {
		return model.Stop{}, false
	}
	return *s, true
}

// IDs returns every stop id in ascending order. This is the stable index
// order used by the all-pairs solver.
func (g *Graph) IDs() []model.StopID {
	out := make([]model.StopID, 0, len(g.stops))
	for id := range g.stops {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Stops returns copies of all stops in ascending id order.
func (g *Graph) Stops() []model.Stop {
	ids := g.IDs()
	out := make([]model.Stop, len(ids))
	for i, id := range ids {
		out[i] = *g.stops[id]
	}
	return out
}

// Connections returns every edge once, with A < B, ordered by (A, B).
func (g *Graph) Connections() []model.Connection {
	var out []model.Connection
	for _, a := range g.IDs() {
		for b, w := range g.adj[a] {
			if a < b {
				out = append(out, model.Connection{A: a, B: b, Weight: w})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].A != out[j].A {
			return out[i].A < out[j].A
		}
		return out[i].B < out[j].B
	})
	return out
}

func (g *Graph) Len() int { return len(g.stops) }

func (g *Graph) Version() uint64 { return g.version }

func checkSignal(name string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return fmt.Errorf("%s %v must be finite and >= 0: %w", name, v, model.ErrInvalidInput)
	}
	return nil
}
