// Package engine owns the stop graph and its cached distance matrix and
// serialises access to them. Readers share the lock; any mutation takes it
// exclusively, and stop or edge changes drop the cached matrix before unlocking.
package engine

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"transitopt/internal/graph"
	"transitopt/internal/metrics"
	"transitopt/internal/model"
	"transitopt/internal/opt"
	"transitopt/internal/scoring"
)

type Options struct {
	MaxSequenceStops  int
	MaxSequenceStates int
	ParallelThreshold int
}

func DefaultOptions() Options {
	return Options{
		MaxSequenceStops:  opt.DefaultMaxStops,
		MaxSequenceStates: opt.DefaultMaxStates,
		ParallelThreshold: 64,
	}
}

type Engine struct {
	mu     sync.RWMutex
	g      *graph.Graph
	matrix *opt.DistanceMatrix
	opts   Options
	log    *zap.Logger
}

func New(opts Options, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{g: graph.New(), opts: opts, log: log}
}

func (e *Engine) AddStop(s model.Stop) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.g.AddStop(s); err != nil {
		return err
	}
	// a new stop changes the matrix dimension
	e.invalidateLocked("stop added")
	return nil
}

func (e *Engine) AddConnection(a, b model.StopID, weight float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.g.AddConnection(a, b, weight); err != nil {
		return err
	}
	e.invalidateLocked("connection changed")
	return nil
}

func (e *Engine) RemoveConnection(a, b model.StopID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.g.RemoveConnection(a, b) {
		return false
	}
	e.invalidateLocked("connection removed")
	return true
}

func (e *Engine) RemoveStop(id model.StopID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.g.RemoveStop(id) {
		return false
	}
	e.invalidateLocked("stop removed")
	return true
}

// UpdateDemand and UpdateDensity leave distances untouched, so the cached
// matrix stays valid.
func (e *Engine) UpdateDemand(id model.StopID, value float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.g.UpdateDemand(id, value)
}

func (e *Engine) UpdateDensity(id model.StopID, value float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.g.UpdateDensity(id, value)
}

func (e *Engine) Stop(id model.StopID) (model.Stop, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.g.Stop(id)
}

func (e *Engine) Stops() []model.Stop {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.g.Stops()
}

func (e *Engine) Connections() []model.Connection {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.g.Connections()
}

func (e *Engine) Neighbors(id model.StopID) ([]model.StopID, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.g.Neighbors(id)
}

func (e *Engine) HasConnection(a, b model.StopID) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.g.HasConnection(a, b)
}

// Weight returns the direct edge weight between a and b.
func (e *Engine) Weight(a, b model.StopID) (float64, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.g.Weight(a, b)
}

// ComputeAllPairs returns the distance matrix for the current graph,
// computing it on first use after a change.
func (e *Engine) ComputeAllPairs() (*opt.DistanceMatrix, error) {
	e.mu.RLock()
	m := e.matrix
	e.mu.RUnlock()
	if m != nil {
		return m, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.matrixLocked()
}

// matrixLocked requires the write lock.
func (e *Engine) matrixLocked() (*opt.DistanceMatrix, error) {
	if e.matrix != nil {
		return e.matrix, nil
	}
	start := time.Now()
	m, err := opt.ComputeAllPairs(e.g, opt.SolveOptions{ParallelThreshold: e.opts.ParallelThreshold})
	metrics.ObserveSolve("all_pairs", start, model.ErrorKind(err))
	if err != nil {
		return nil, err
	}
	metrics.MatrixRecomputes.Inc()
	e.log.Debug("distance matrix computed",
		zap.Int("stops", m.Len()),
		zap.Uint64("version", m.Version()),
		zap.Duration("took", time.Since(start)))
	e.matrix = m
	return m, nil
}

// withMatrix runs fn under the read lock with a matrix that matches the
// current graph, recomputing if a writer slipped in between.
func (e *Engine) withMatrix(fn func(*opt.DistanceMatrix) error) error {
	for {
		m, err := e.ComputeAllPairs()
		if err != nil {
			return err
		}
		e.mu.RLock()
		if e.matrix == m {
			err = fn(m)
			e.mu.RUnlock()
			return err
		}
		e.mu.RUnlock()
	}
}

func (e *Engine) invalidateLocked(reason string) {
	if e.matrix == nil {
		return
	}
	e.matrix = nil
	e.log.Debug("distance matrix invalidated", zap.String("reason", reason), zap.Uint64("version", e.g.Version()))
}

// ShortestPath reconstructs the shortest path between two stops.
func (e *Engine) ShortestPath(from, to model.StopID) (model.Path, error) {
	start := time.Now()
	var p model.Path
	err := e.withMatrix(func(m *opt.DistanceMatrix) error {
		var err error
		p, err = m.Path(from, to)
		return err
	})
	metrics.ObserveSolve("shortest_path", start, model.ErrorKind(err))
	if err != nil {
		return model.Path{}, err
	}
	return p, nil
}

// Sequence orders stops using shortest-path distances as leg costs. When
// demands is nil each stop's base demand is used.
func (e *Engine) Sequence(stops []model.StopID, demands []float64, capacity float64, mode model.SequenceMode) (model.SequenceResult, error) {
	start := time.Now()
	res, err := e.sequence(stops, demands, capacity, mode)
	metrics.ObserveSolve("sequence", start, model.ErrorKind(err))
	if err != nil {
		e.log.Debug("sequence failed", zap.Int("stops", len(stops)), zap.String("mode", string(mode)), zap.Error(err))
		return model.SequenceResult{}, err
	}
	e.log.Debug("sequence solved",
		zap.Int("stops", len(stops)),
		zap.String("mode", string(mode)),
		zap.Float64("cost", res.Cost),
		zap.Duration("took", time.Since(start)))
	return res, nil
}

func (e *Engine) sequence(stops []model.StopID, demands []float64, capacity float64, mode model.SequenceMode) (model.SequenceResult, error) {
	lim := opt.Limits{MaxStops: e.opts.MaxSequenceStops, MaxStates: e.opts.MaxSequenceStates}
	if lim.MaxStops > 0 && len(stops) > lim.MaxStops {
		return model.SequenceResult{}, fmt.Errorf("sequence %d stops, limit %d: %w", len(stops), lim.MaxStops, model.ErrTooManyStops)
	}
	var res model.SequenceResult
	err := e.withMatrix(func(m *opt.DistanceMatrix) error {
		costs, err := m.Submatrix(stops)
		if err != nil {
			return fmt.Errorf("sequence: %w", err)
		}
		if demands == nil {
			demands = make([]float64, len(stops))
			for i, id := range stops {
				s, _ := e.g.Stop(id)
				demands[i] = s.BaseDemand
			}
		}
		res, err = opt.SequenceWithCapacity(stops, costs, demands, capacity, mode, lim)
		return err
	})
	return res, err
}

// SelectBestRoute scores candidates against the stops' current density and demand.
func (e *Engine) SelectBestRoute(origin, destination model.StopID, candidates []model.CandidateRoute, density scoring.DensityFunc) (model.ScoredRoute, error) {
	start := time.Now()
	e.mu.RLock()
	res, err := scoring.SelectBestRoute(origin, destination, candidates, e.g, density)
	e.mu.RUnlock()
	metrics.ObserveSolve("select_route", start, model.ErrorKind(err))
	if err != nil {
		return model.ScoredRoute{}, err
	}
	e.log.Debug("route selected",
		zap.Int("origin", int(origin)),
		zap.Int("destination", int(destination)),
		zap.String("route", res.RouteID),
		zap.Float64("score", res.Score))
	return res, nil
}

// Len returns the number of registered stops.
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.g.Len()
}
