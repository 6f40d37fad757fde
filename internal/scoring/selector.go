// Package scoring ranks pre-defined candidate routes for a point-to-point
// request using live crowd density and rider demand.
package scoring

import (
	"fmt"

	"transitopt/internal/model"
)

// Registry resolves stop ids to their current signals.
type Registry interface {
	Stop(id model.StopID) (model.Stop, bool)
}

// DensityFunc reports the density used for a stop when scoring.
type DensityFunc func(model.Stop) float64

// CurrentDensity scores with the stop's last recorded density.
func CurrentDensity(s model.Stop) float64 { return s.CurrentDensity }

// Score is the desirability of a leg; lower is better.
func Score(avgDensity, avgDemand float64) float64 {
	return avgDensity / (avgDemand + 1)
}

// SelectBestRoute picks the active candidate with the lowest score among
// those that contain both origin and destination. The first candidate wins
// ties. Candidates whose leg references a stop missing from reg are skipped.
func SelectBestRoute(origin, destination model.StopID, candidates []model.CandidateRoute, reg Registry, density DensityFunc) (model.ScoredRoute, error) {
	if _, ok := reg.Stop(origin); !ok {
		return model.ScoredRoute{}, fmt.Errorf("select route: origin %d: %w", origin, model.ErrUnknownStop)
	}
	if _, ok := reg.Stop(destination); !ok {
		return model.ScoredRoute{}, fmt.Errorf("select route: destination %d: %w", destination, model.ErrUnknownStop)
	}
	if density == nil {
		density = CurrentDensity
	}

	var (
		best   model.ScoredRoute
		found  bool
		scores []model.CandidateScore
	)
	for _, c := range candidates {
		if !c.Active {
			continue
		}
		leg, ok := Leg(c.Stops, origin, destination)
		if !ok {
			continue
		}
		scored, ok := scoreLeg(c, leg, reg, density)
		if !ok {
			continue
		}
		scores = append(scores, model.CandidateScore{RouteID: c.ID, Score: scored.Score})
		if !found || scored.Score < best.Score {
			best, found = scored, true
		}
	}
	if !found {
		return model.ScoredRoute{}, fmt.Errorf("select route %d->%d among %d candidates: %w", origin, destination, len(candidates), model.ErrNoRouteFound)
	}
	best.Candidates = scores
	return best, nil
}

// Leg extracts the contiguous run of stops from origin to destination using
// the first occurrence of each. The run is reversed when the route lists the
// destination first, so it always starts at origin.
func Leg(stops []model.StopID, origin, destination model.StopID) ([]model.StopID, bool) {
	oi, di := -1, -1
	for i, id := range stops {
		if oi < 0 && id == origin {
			oi = i
		}
		if di < 0 && id == destination {
			di = i
		}
	}
	if oi < 0 || di < 0 {
		return nil, false
	}
	if oi <= di {
		return append([]model.StopID(nil), stops[oi:di+1]...), true
	}
	out := make([]model.StopID, 0, oi-di+1)
	for i := oi; i >= di; i-- {
		out = append(out, stops[i])
	}
	return out, true
}

func scoreLeg(c model.CandidateRoute, leg []model.StopID, reg Registry, density DensityFunc) (model.ScoredRoute, bool) {
	out := model.ScoredRoute{
		RouteID:       c.ID,
		Name:          c.Name,
		TotalDistance: c.TotalDistance,
		EstimatedTime: c.EstimatedTime,
		Stops:         make([]model.ScoredStop, 0, len(leg)),
	}
	var sumDensity, sumDemand float64
	for _, id := range leg {
		s, ok := reg.Stop(id)
		if !ok {
			return model.ScoredRoute{}, false
		}
		d := density(s)
		out.Stops = append(out.Stops, model.ScoredStop{ID: id, Name: s.Name, Density: d, Demand: s.BaseDemand})
		sumDensity += d
		sumDemand += s.BaseDemand
	}
	n := float64(len(leg))
	out.AverageDensity = sumDensity / n
	out.AverageDemand = sumDemand / n
	out.Score = Score(out.AverageDensity, out.AverageDemand)
	return out, true
}
