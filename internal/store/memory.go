package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"transitopt/internal/model"
)

// historyLimit caps density readings kept per stop in memory.
const historyLimit = maxHistoryLimit

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
	mu      sync.Mutex
	stops   map[model.StopID]model.Stop
	conns   map[[2]model.StopID]float64
	routes  []model.CandidateRoute // creation order
	byID    map[string]int         // route id -> index in routes
	history map[model.StopID][]model.DensityReading
}

func NewMemory() *Memory {
	return &Memory{
		stops:   map[model.StopID]model.Stop{},
		conns:   map[[2]model.StopID]float64{},
		byID:    map[string]int{},
		history: map[model.StopID][]model.DensityReading{},
	}
}

func (m *Memory) CreateStop(ctx context.Context, s model.Stop) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.stops[s.ID]; ok {
		return fmt.Errorf("create stop %d: %w", s.ID, model.ErrDuplicateStop)
	}
	m.stops[s.ID] = s
	return nil
}

func (m *Memory) ListStops(ctx context.Context) ([]model.Stop, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Stop, 0, len(m.stops))
	for _, s := range m.stops {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) UpdateStopDemand(ctx context.Context, id model.StopID, value float64) error {
	return m.updateStop(id, func(s *model.Stop) { s.BaseDemand = value })
}

func (m *Memory) UpdateStopDensity(ctx context.Context, id model.StopID, value float64) error {
	return m.updateStop(id, func(s *model.Stop) { s.CurrentDensity = value })
}

func (m *Memory) updateStop(id model.StopID, fn func(*model.Stop)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stops[id]
	if !ok {
		return fmt.Errorf("stop %d: %w", id, model.ErrUnknownStop)
	}
	fn(&s)
	m.stops[id] = s
	return nil
}

func (m *Memory) UpsertConnection(ctx context.Context, c model.Connection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range []model.StopID{c.A, c.B} {
		if _, ok := m.stops[id]; !ok {
			return fmt.Errorf("connection %d-%d: stop %d: %w", c.A, c.B, id, model.ErrUnknownStop)
		}
	}
	c = normalizePair(c)
	m.conns[[2]model.StopID{c.A, c.B}] = c.Weight
	return nil
}

func (m *Memory) ListConnections(ctx context.Context) ([]model.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Connection, 0, len(m.conns))
	for k, w := range m.conns {
		out = append(out, model.Connection{A: k[0], B: k[1], Weight: w})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].A != out[j].A {
			return out[i].A < out[j].A
		}
		return out[i].B < out[j].B
	})
	return out, nil
}

func (m *Memory) CreateRoute(ctx context.Context, r model.CandidateRoute) (model.CandidateRoute, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if _, ok := m.byID[r.ID]; ok {
		return model.CandidateRoute{}, fmt.Errorf("create route %s: %w", r.ID, ErrConflict)
	}
	r.Stops = append([]model.StopID(nil), r.Stops...)
	m.byID[r.ID] = len(m.routes)
	m.routes = append(m.routes, r)
	return r, nil
}

func (m *Memory) GetRoute(ctx context.Context, id string) (model.CandidateRoute, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.byID[id]
	if !ok {
		return model.CandidateRoute{}, ErrNotFound
	}
	r := m.routes[i]
	r.Stops = append([]model.StopID(nil), r.Stops...)
	return r, nil
}

func (m *Memory) ListRoutes(ctx context.Context, activeOnly bool) ([]model.CandidateRoute, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.CandidateRoute, 0, len(m.routes))
	for _, r := range m.routes {
		if activeOnly && !r.Active {
			continue
		}
		r.Stops = append([]model.StopID(nil), r.Stops...)
		out = append(out, r)
	}
	return out, nil
}

func (m *Memory) RecordDensity(ctx context.Context, readings []model.DensityReading) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range readings {
		h := append(m.history[r.StopID], r)
		if len(h) > historyLimit {
			h = h[len(h)-historyLimit:]
		}
		m.history[r.StopID] = h
	}
	return nil
}

func (m *Memory) DensityHistory(ctx context.Context, id model.StopID, limit int) ([]model.DensityReading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	limit = historyWindow(limit)
	h := m.history[id]
	out := make([]model.DensityReading, 0, min(limit, len(h)))
	for i := len(h) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, h[i])
	}
	return out, nil
}

func (m *Memory) Ping(ctx context.Context) error { return nil }
