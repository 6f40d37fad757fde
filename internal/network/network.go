// Package network loads YAML network definitions into the registries and
// rebuilds the engine's graph from them at startup.
package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"transitopt/internal/geo"
	"transitopt/internal/model"
)

type Definition struct {
	Stops       []StopDef       `yaml:"stops"`
	Connections []ConnectionDef `yaml:"connections"`
	Routes      []RouteDef      `yaml:"routes"`
}

type StopDef struct {
	ID             int     `yaml:"id"`
	Name           string  `yaml:"name"`
	Lat            float64 `yaml:"lat"`
	Lon            float64 `yaml:"lon"`
	BaseDemand     float64 `yaml:"base_demand"`
	CurrentDensity float64 `yaml:"current_density"`
}

type ConnectionDef struct {
	A      int      `yaml:"a"`
	B      int      `yaml:"b"`
	Weight *float64 `yaml:"weight"`
}

type RouteDef struct {
	ID            string  `yaml:"id"`
	Name          string  `yaml:"name"`
	Stops         []int   `yaml:"stops"`
	TotalDistance float64 `yaml:"total_distance"`
	EstimatedTime int     `yaml:"estimated_time"`
	Active        *bool   `yaml:"active"`
}

// Load decodes a definition, rejecting unknown fields, and checks that every
// reference names a defined stop.
func Load(r io.Reader) (*Definition, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var def Definition
	if err := dec.Decode(&def); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode network: %w", err)
	}
	if err := def.validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

func LoadFile(path string) (*Definition, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	def, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return def, nil
}

func (d *Definition) validate() error {
	seen := make(map[int]bool, len(d.Stops))
	for _, s := range d.Stops {
		if seen[s.ID] {
			return fmt.Errorf("stop %d: %w", s.ID, model.ErrDuplicateStop)
		}
		if s.ID < 0 || s.BaseDemand < 0 || s.CurrentDensity < 0 {
			return fmt.Errorf("stop %d: negative field: %w", s.ID, model.ErrInvalidInput)
		}
		seen[s.ID] = true
	}
	for _, c := range d.Connections {
		for _, id := range []int{c.A, c.B} {
			if !seen[id] {
				return fmt.Errorf("connection %d-%d: stop %d: %w", c.A, c.B, id, model.ErrUnknownStop)
			}
		}
		if c.A == c.B {
			return fmt.Errorf("connection %d-%d: self connection: %w", c.A, c.B, model.ErrInvalidInput)
		}
		if c.Weight != nil && *c.Weight < 0 {
			return fmt.Errorf("connection %d-%d: %w", c.A, c.B, model.ErrInvalidWeight)
		}
	}
	for _, r := range d.Routes {
		if len(r.Stops) < 2 {
			return fmt.Errorf("route %q: needs at least two stops: %w", r.Name, model.ErrInvalidInput)
		}
		for _, id := range r.Stops {
			if !seen[id] {
				return fmt.Errorf("route %q: stop %d: %w", r.Name, id, model.ErrUnknownStop)
			}
		}
	}
	return nil
}

// Registry is the write side of the stop, connection and route registries.
type Registry interface {
	CreateStop(ctx context.Context, s model.Stop) error
	UpsertConnection(ctx context.Context, c model.Connection) error
	CreateRoute(ctx context.Context, r model.CandidateRoute) (model.CandidateRoute, error)
}

// Summary counts what Apply or Restore registered.
type Summary struct {
	Stops       int
	Connections int
	Routes      int
}

// Apply writes the definition to reg. Missing connection weights become the
// straight-line distance between the two stops.
func (d *Definition) Apply(ctx context.Context, reg Registry) (Summary, error) {
	var sum Summary
	pos := make(map[int]model.GeoPoint, len(d.Stops))
	for _, s := range d.Stops {
		stop := model.Stop{
			ID:             model.StopID(s.ID),
			Name:           s.Name,
			Position:       model.GeoPoint{Lat: s.Lat, Lon: s.Lon},
			BaseDemand:     s.BaseDemand,
			CurrentDensity: s.CurrentDensity,
		}
		if err := reg.CreateStop(ctx, stop); err != nil {
			return sum, err
		}
		pos[s.ID] = stop.Position
		sum.Stops++
	}
	for _, c := range d.Connections {
		var w float64
		if c.Weight != nil {
			w = *c.Weight
		} else {
			w = geo.StraightLineKM(pos[c.A], pos[c.B])
		}
		if err := reg.UpsertConnection(ctx, model.Connection{A: model.StopID(c.A), B: model.StopID(c.B), Weight: w}); err != nil {
			return sum, err
		}
		sum.Connections++
	}
	for _, r := range d.Routes {
		route := model.CandidateRoute{
			ID:            r.ID,
			Name:          r.Name,
			TotalDistance: r.TotalDistance,
			EstimatedTime: r.EstimatedTime,
			Active:        r.Active == nil || *r.Active,
		}
		for _, id := range r.Stops {
			route.Stops = append(route.Stops, model.StopID(id))
		}
		if _, err := reg.CreateRoute(ctx, route); err != nil {
			return sum, err
		}
		sum.Routes++
	}
	return sum, nil
}

// Source is the read side of the registries.
type Source interface {
	ListStops(ctx context.Context) ([]model.Stop, error)
	ListConnections(ctx context.Context) ([]model.Connection, error)
}

// Graph receives the restored network.
type Graph interface {
	AddStop(s model.Stop) error
	AddConnection(a, b model.StopID, weight float64) error
}

// Indexer receives stop positions for nearest-stop lookups.
type Indexer interface {
	Insert(id model.StopID, p model.GeoPoint)
}

// Restore loads every stop and connection from src into g, and stop
// positions into idx when it is non-nil.
func Restore(ctx context.Context, src Source, g Graph, idx Indexer) (Summary, error) {
	var sum Summary
	stops, err := src.ListStops(ctx)
	if err != nil {
		return sum, fmt.Errorf("restore stops: %w", err)
	}
	for _, s := range stops {
		if err := g.AddStop(s); err != nil {
			return sum, fmt.Errorf("restore: %w", err)
		}
		if idx != nil {
			idx.Insert(s.ID, s.Position)
		}
		sum.Stops++
	}
	conns, err := src.ListConnections(ctx)
	if err != nil {
		return sum, fmt.Errorf("restore connections: %w", err)
	}
	for _, c := range conns {
		if err := g.AddConnection(c.A, c.B, c.Weight); err != nil {
			return sum, fmt.Errorf("restore: %w", err)
		}
		sum.Connections++
	}
	return sum, nil
}
