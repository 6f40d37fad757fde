// Package geo is the map collaborator: it resolves straight-line fallback
// weights for connections and snaps coordinates to the nearest stop. The
// graph model never calls it directly.
package geo

import (
	"math"
	"sync"

	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"
	"github.com/tidwall/rtree"

	"transitopt/internal/model"
)

// EarthRadiusKM is the mean Earth radius.
const EarthRadiusKM = 6371.0088

// StraightLineKM returns the great-circle distance between two points.
func StraightLineKM(a, b model.GeoPoint) float64 {
	pa := s2.LatLngFromDegrees(a.Lat, a.Lon)
	pb := s2.LatLngFromDegrees(b.Lat, b.Lon)
	return pa.Distance(pb).Radians() * EarthRadiusKM
}

// StopIndex answers nearest-stop queries over an R-tree of stop positions.
// It is safe for concurrent use.
type StopIndex struct {
	mu  sync.RWMutex
	tr  rtree.RTreeG[model.StopID]
	pos map[model.StopID]model.GeoPoint
}

func NewStopIndex() *StopIndex {
	return &StopIndex{pos: map[model.StopID]model.GeoPoint{}}
}

// Insert adds or moves a stop.
func (x *StopIndex) Insert(id model.StopID, p model.GeoPoint) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if old, ok := x.pos[id]; ok {
		pt := [2]float64{old.Lon, old.Lat}
		x.tr.Delete(pt, pt, id)
	}
	pt := [2]float64{p.Lon, p.Lat}
	x.tr.Insert(pt, pt, id)
	x.pos[id] = p
}

func (x *StopIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.pos)
}

// Position returns the indexed position of id.
func (x *StopIndex) Position(id model.StopID) (model.GeoPoint, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	p, ok := x.pos[id]
	return p, ok
}

// Distance is the straight-line distance between two indexed stops.
func (x *StopIndex) Distance(a, b model.StopID) (float64, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	pa, ok := x.pos[a]
	if !ok {
		return 0, false
	}
	pb, ok := x.pos[b]
	if !ok {
		return 0, false
	}
	return StraightLineKM(pa, pb), true
}

// Nearest returns the stop closest to p and its distance in km. The search
// box starts at 500 m and doubles until a stop inside the search radius is
// found.
func (x *StopIndex) Nearest(p model.GeoPoint) (model.StopID, float64, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if len(x.pos) == 0 {
		return 0, 0, false
	}
	halfCircumference := math.Pi * EarthRadiusKM
	for radius := 0.5; ; radius *= 2 {
		best, bestDist, found := x.searchLocked(p, radius)
		if found && (bestDist <= radius || radius >= halfCircumference) {
			return best, bestDist, true
		}
		if radius >= halfCircumference {
			break
		}
	}
	// box queries do not wrap the antimeridian; fall back to a scan
	return x.scanLocked(p)
}

func (x *StopIndex) searchLocked(p model.GeoPoint, radiusKM float64) (model.StopID, float64, bool) {
	center := s2.PointFromLatLng(s2.LatLngFromDegrees(p.Lat, p.Lon))
	bound := s2.CapFromCenterAngle(center, s1.Angle(radiusKM/EarthRadiusKM)).RectBound()
	lo := [2]float64{bound.Lo().Lng.Degrees(), bound.Lo().Lat.Degrees()}
	hi := [2]float64{bound.Hi().Lng.Degrees(), bound.Hi().Lat.Degrees()}
	if bound.Lng.IsInverted() || bound.Lng.IsFull() {
		lo[0], hi[0] = -180, 180
	}

	var (
		best     model.StopID
		bestDist = math.Inf(1)
		found    bool
	)
	x.tr.Search(lo, hi, func(min, _ [2]float64, id model.StopID) bool {
		d := StraightLineKM(p, model.GeoPoint{Lat: min[1], Lon: min[0]})
		if d < bestDist || (d == bestDist && id < best) {
			best, bestDist, found = id, d, true
		}
		return true
	})
	return best, bestDist, found
}

func (x *StopIndex) scanLocked(p model.GeoPoint) (model.StopID, float64, bool) {
	var (
		best     model.StopID
		bestDist = math.Inf(1)
		found    bool
	)
	for id, q := range x.pos {
		d := StraightLineKM(p, q)
		if d < bestDist || (d == bestDist && id < best) {
			best, bestDist, found = id, d, true
		}
	}
	return best, bestDist, found
}
