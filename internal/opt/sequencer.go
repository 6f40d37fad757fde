package opt

import (
	"fmt"
	"math"

	"transitopt/internal/model"
)

const (
	DefaultMaxStops  = 16
	DefaultMaxStates = 1 << 24
)

// Limits bounds the exponential state space of the sequencer.
type Limits struct {
	MaxStops  int
	MaxStates int
}

func (l Limits) withDefaults() Limits {
	if l.MaxStops <= 0 {
		l.MaxStops = DefaultMaxStops
	}
	if l.MaxStates <= 0 {
		l.MaxStates = DefaultMaxStates
	}
	return l
}

// SequenceWithCapacity orders stops by exact Held-Karp dynamic programming.
// stops[0] is the origin; costs[i][j] is the leg cost from stops[i] to
// stops[j] with +Inf meaning no leg. demands are per stop.
//
// In cycle mode the order returns to the origin and capacity is ignored;
// Cost includes the return leg. In open mode the order ends anywhere and
// the running load, starting with the origin's demand, never exceeds
// capacity. Feasibility is decided on the real demands; the load axis
// counts whole units, truncated per stop.
func SequenceWithCapacity(stops []model.StopID, costs [][]float64, demands []float64, capacity float64, mode model.SequenceMode, lim Limits) (model.SequenceResult, error) {
	lim = lim.withDefaults()
	n := len(stops)
	if n > lim.MaxStops {
		return model.SequenceResult{}, fmt.Errorf("sequence %d stops, limit %d: %w", n, lim.MaxStops, model.ErrTooManyStops)
	}
	if err := validateSequenceInput(stops, costs, demands, capacity, mode); err != nil {
		return model.SequenceResult{}, err
	}

	units := make([]int, n)
	var total, totalUnits float64
	for i, d := range demands {
		total += d
		u := math.Trunc(d)
		if u > float64(lim.MaxStates) {
			return model.SequenceResult{}, fmt.Errorf("sequence demand %v exceeds state budget: %w", d, model.ErrTooManyStops)
		}
		units[i] = int(u)
		totalUnits += u
	}

	switch mode {
	case model.SequenceCycle:
		if states := math.Ldexp(float64(n), n); states > float64(lim.MaxStates) {
			return model.SequenceResult{}, fmt.Errorf("sequence %.0f states, budget %d: %w", states, lim.MaxStates, model.ErrTooManyStops)
		}
		order, cost, err := solveCycle(costs)
		if err != nil {
			return model.SequenceResult{}, err
		}
		return model.SequenceResult{Mode: mode, Order: pick(stops, order), Cost: cost, Load: total}, nil
	default:
		if total > capacity {
			return model.SequenceResult{}, fmt.Errorf("sequence demand %v over capacity %v: %w", total, capacity, model.ErrInfeasible)
		}
		// every order ends carrying the total, so it bounds the load axis
		capUnits := int(totalUnits)
		if states := math.Ldexp(float64(n*(capUnits+1)), n); states > float64(lim.MaxStates) {
			return model.SequenceResult{}, fmt.Errorf("sequence %.0f states, budget %d: %w", states, lim.MaxStates, model.ErrTooManyStops)
		}
		order, cost, err := solveOpen(costs, units, capUnits)
		if err != nil {
			return model.SequenceResult{}, err
		}
		return model.SequenceResult{Mode: mode, Order: pick(stops, order), Cost: cost, Load: total}, nil
	}
}

func validateSequenceInput(stops []model.StopID, costs [][]float64, demands []float64, capacity float64, mode model.SequenceMode) error {
	n := len(stops)
	if n == 0 {
		return fmt.Errorf("sequence: no stops: %w", model.ErrInvalidInput)
	}
	if mode != model.SequenceCycle && mode != model.SequenceOpen {
		return fmt.Errorf("sequence: mode %q: %w", mode, model.ErrInvalidInput)
	}
	seen := make(map[model.StopID]struct{}, n)
	for _, id := range stops {
		if _, dup := seen[id]; dup {
			return fmt.Errorf("sequence: stop %d listed twice: %w", id, model.ErrInvalidInput)
		}
		seen[id] = struct{}{}
	}
	if len(costs) != n || len(demands) != n {
		return fmt.Errorf("sequence: %d stops, %d cost rows, %d demands: %w", n, len(costs), len(demands), model.ErrInvalidInput)
	}
	for i, row := range costs {
		if len(row) != n {
			return fmt.Errorf("sequence: cost row %d has %d entries: %w", i, len(row), model.ErrInvalidInput)
		}
		for j, c := range row {
			if math.IsNaN(c) || c < 0 {
				return fmt.Errorf("sequence: cost[%d][%d]=%v: %w", i, j, c, model.ErrInvalidInput)
			}
		}
	}
	for i, d := range demands {
		if math.IsNaN(d) || math.IsInf(d, 0) || d < 0 {
			return fmt.Errorf("sequence: demand[%d]=%v: %w", i, d, model.ErrInvalidInput)
		}
	}
	if math.IsNaN(capacity) || capacity < 0 {
		return fmt.Errorf("sequence: capacity %v: %w", capacity, model.ErrInvalidInput)
	}
	return nil
}

// solveCycle returns the visiting order as indices starting at 0.
// dp and parent are flat arenas indexed mask*n + last.
func solveCycle(costs [][]float64) ([]int, float64, error) {
	n := len(costs)
	if n == 1 {
		return []int{0}, 0, nil
	}
	full := 1<<n - 1
	inf := math.Inf(1)
	dp := make([]float64, (full+1)*n)
	parent := make([]int8, (full+1)*n)
	for i := range dp {
		dp[i] = inf
		parent[i] = -1
	}
	dp[1*n+0] = 0

	for mask := 1; mask <= full; mask += 2 {
		for j := 0; j < n; j++ {
			cur := dp[mask*n+j]
			if mask&(1<<j) == 0 || math.IsInf(cur, 1) {
				continue
			}
			for k := 1; k < n; k++ {
				if mask&(1<<k) != 0 || math.IsInf(costs[j][k], 1) {
					continue
				}
				nm := mask | 1<<k
				if c := cur + costs[j][k]; c < dp[nm*n+k] {
					dp[nm*n+k] = c
					parent[nm*n+k] = int8(j)
				}
			}
		}
	}

	best, last := inf, -1
	for j := 1; j < n; j++ {
		if math.IsInf(dp[full*n+j], 1) || math.IsInf(costs[j][0], 1) {
			continue
		}
		if c := dp[full*n+j] + costs[j][0]; c < best {
			best, last = c, j
		}
	}
	if last < 0 {
		return nil, 0, fmt.Errorf("sequence cycle over %d stops: %w", n, model.ErrInfeasible)
	}

	order := make([]int, 0, n)
	for mask, j := full, last; j >= 0; {
		order = append(order, j)
		p := int(parent[mask*n+j])
		mask ^= 1 << j
		j = p
	}
	reverse(order)
	return order, best, nil
}

// solveOpen adds a load axis to the arena: index (mask*n + last)*loads + load.
// A leg to k is legal only while load + units[k] <= capUnits.
func solveOpen(costs [][]float64, units []int, capUnits int) ([]int, float64, error) {
	n := len(costs)
	loads := capUnits + 1
	if n == 1 {
		return []int{0}, 0, nil
	}
	full := 1<<n - 1
	inf := math.Inf(1)
	size := (full + 1) * n * loads
	dp := make([]float64, size)
	parent := make([]int8, size)
	for i := range dp {
		dp[i] = inf
		parent[i] = -1
	}
	at := func(mask, j, l int) int { return (mask*n+j)*loads + l }
	dp[at(1, 0, units[0])] = 0

	for mask := 1; mask <= full; mask += 2 {
		for j := 0; j < n; j++ {
			if mask&(1<<j) == 0 {
				continue
			}
			for l := 0; l < loads; l++ {
				cur := dp[at(mask, j, l)]
				if math.IsInf(cur, 1) {
					continue
				}
				for k := 1; k < n; k++ {
					if mask&(1<<k) != 0 || math.IsInf(costs[j][k], 1) {
						continue
					}
					nl := l + units[k]
					if nl > capUnits {
						continue
					}
					idx := at(mask|1<<k, k, nl)
					if c := cur + costs[j][k]; c < dp[idx] {
						dp[idx] = c
						parent[idx] = int8(j)
					}
				}
			}
		}
	}

	best, last, load := inf, -1, 0
	for j := 0; j < n; j++ {
		for l := 0; l < loads; l++ {
			if c := dp[at(full, j, l)]; c < best {
				best, last, load = c, j, l
			}
		}
	}
	if last < 0 {
		return nil, 0, fmt.Errorf("sequence open over %d stops: %w", n, model.ErrInfeasible)
	}

	order := make([]int, 0, n)
	for mask, j, l := full, last, load; j >= 0; {
		order = append(order, j)
		p := int(parent[at(mask, j, l)])
		mask ^= 1 << j
		l -= units[j]
		j = p
	}
	reverse(order)
	return order, best, nil
}

func pick(stops []model.StopID, order []int) []model.StopID {
	out := make([]model.StopID, len(order))
	for i, k := range order {
		out[i] = stops[k]
	}
	return out
}

func reverse(s []int) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
