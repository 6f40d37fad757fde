package opt

import (
	"fmt"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"

	"transitopt/internal/graph"
	"transitopt/internal/model"
)

// noHop marks a next-hop cell with no path.
const noHop = -1

// DistanceMatrix is the all-pairs result for one graph version. It is
// read-only after ComputeAllPairs returns and safe for concurrent readers.
type DistanceMatrix struct {
	ids     []model.StopID
	index   map[model.StopID]int
	dist    []float64 // row-major n*n
	next    []int     // row-major n*n, noHop when unreachable
	version uint64
}

// SolveOptions tunes ComputeAllPairs.
type SolveOptions struct {
	// ParallelThreshold is the stop count from which the rows of one
	// relaxation step are split across goroutines. Zero disables.
	ParallelThreshold int
	// Workers caps the goroutines per step; defaults to GOMAXPROCS.
	Workers int
}

// ComputeAllPairs runs Floyd-Warshall over g. Stops are indexed in ascending
// id order. For a fixed intermediate k the rows are independent: row k and
// column k cannot improve through k, so splitting rows across workers gives
// results bit-identical to the sequential loop.
func ComputeAllPairs(g *graph.Graph, opts SolveOptions) (*DistanceMatrix, error) {
	ids := g.IDs()
	n := len(ids)
	m := &DistanceMatrix{
		ids:     ids,
		index:   make(map[model.StopID]int, n),
		dist:    make([]float64, n*n),
		next:    make([]int, n*n),
		version: g.Version(),
	}
	for i, id := range ids {
		m.index[id] = i
	}

	inf := math.Inf(1)
	for i, a := range ids {
		row := i * n
		for j, b := range ids {
			switch {
			case i == j:
				m.dist[row+j] = 0
				m.next[row+j] = j
			default:
				if w, ok := g.Weight(a, b); ok {
					m.dist[row+j] = w
					m.next[row+j] = j
				} else {
					m.dist[row+j] = inf
					m.next[row+j] = noHop
				}
			}
		}
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	parallel := opts.ParallelThreshold > 0 && n >= opts.ParallelThreshold && workers > 1

	for k := 0; k < n; k++ {
		if !parallel {
			m.relaxRows(k, 0, n)
			continue
		}
		var eg errgroup.Group
		chunk := (n + workers - 1) / workers
		for lo := 0; lo < n; lo += chunk {
			lo, hi := lo, min(lo+chunk, n)
			eg.Go(func() error {
				m.relaxRows(k, lo, hi)
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			return nil, fmt.Errorf("all pairs step %d: %w", k, err)
		}
	}
	return m, nil
}

// relaxRows applies intermediate k to rows [lo, hi). Distance and next hop
// are always written together.
func (m *DistanceMatrix) relaxRows(k, lo, hi int) {
	n := len(m.ids)
	baseK := k * n
	for i := lo; i < hi; i++ {
		if i == k {
			continue
		}
		baseI := i * n
		ik := m.dist[baseI+k]
		if math.IsInf(ik, 1) {
			continue
		}
		for j := 0; j < n; j++ {
			kj := m.dist[baseK+j]
			if math.IsInf(kj, 1) {
				continue
			}
			if cand := ik + kj; cand < m.dist[baseI+j] {
				m.dist[baseI+j] = cand
				m.next[baseI+j] = m.next[baseI+k]
			}
		}
	}
}

// Len returns the number of stops covered by the matrix.
func (m *DistanceMatrix) Len() int { return len(m.ids) }

// IDs returns the stop ids in matrix order.
func (m *DistanceMatrix) IDs() []model.StopID {
	return append([]model.StopID(nil), m.ids...)
}

// Index returns the matrix position of id.
func (m *DistanceMatrix) Index(id model.StopID) (int, bool) {
	i, ok := m.index[id]
	return i, ok
}

// Version is the graph edge version the matrix was computed from.
func (m *DistanceMatrix) Version() uint64 { return m.version }

// Distance returns the shortest distance between two stops, +Inf when
// they are disconnected.
func (m *DistanceMatrix) Distance(from, to model.StopID) (float64, error) {
	i, j, err := m.pair(from, to)
	if err != nil {
		return 0, err
	}
	return m.dist[i*len(m.ids)+j], nil
}

// Path reconstructs the shortest path by following next hops.
func (m *DistanceMatrix) Path(from, to model.StopID) (model.Path, error) {
	i, j, err := m.pair(from, to)
	if err != nil {
		return model.Path{}, err
	}
	n := len(m.ids)
	d := m.dist[i*n+j]
	if math.IsInf(d, 1) {
		return model.Path{}, fmt.Errorf("path %d->%d: %w", from, to, model.ErrNoPath)
	}
	stops := []model.StopID{m.ids[i]}
	for cur := i; cur != j; {
		cur = m.next[cur*n+j]
		if cur == noHop || len(stops) > n {
			// unreachable for a consistent matrix
			return model.Path{}, fmt.Errorf("path %d->%d: broken next-hop chain", from, to)
		}
		stops = append(stops, m.ids[cur])
	}
	return model.Path{Stops: stops, Distance: d}, nil
}

// Submatrix returns the pairwise distances among ids, in the given order,
// for use as sequencer costs. Unreachable pairs stay +Inf.
func (m *DistanceMatrix) Submatrix(ids []model.StopID) ([][]float64, error) {
	pos := make([]int, len(ids))
	for k, id := range ids {
		i, ok := m.index[id]
		if !ok {
			return nil, fmt.Errorf("submatrix: stop %d: %w", id, model.ErrUnknownStop)
		}
		pos[k] = i
	}
	n := len(m.ids)
	out := make([][]float64, len(ids))
	for a, i := range pos {
		out[a] = make([]float64, len(ids))
		for b, j := range pos {
			out[a][b] = m.dist[i*n+j]
		}
	}
	return out, nil
}

func (m *DistanceMatrix) pair(from, to model.StopID) (int, int, error) {
	i, ok := m.index[from]
	if !ok {
		return 0, 0, fmt.Errorf("stop %d: %w", from, model.ErrUnknownStop)
	}
	j, ok := m.index[to]
	if !ok {
		return 0, 0, fmt.Errorf("stop %d: %w", to, model.ErrUnknownStop)
	}
	return i, j, nil
}
