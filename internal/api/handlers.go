package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"transitopt/internal/model"
	"transitopt/internal/scoring"
)

// StopsHandler handles GET/POST /v1/stops
func (s *Server) StopsHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/stops" {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"items": s.Engine.Stops()})
	case http.MethodPost:
		var in model.StopIn
		if err := decodeJSON(w, r, &in); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if err := s.validateRequest(&in); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid stop", err.Error(), r.URL.Path)
			return
		}
		stop := model.Stop{
			ID:             in.ID,
			Name:           in.Name,
			Position:       in.Position,
			BaseDemand:     in.BaseDemand,
			CurrentDensity: in.CurrentDensity,
		}
		if err := s.Engine.AddStop(stop); err != nil {
			writeError(w, r, err)
			return
		}
		if err := s.Store.CreateStop(r.Context(), stop); err != nil {
			s.Engine.RemoveStop(stop.ID)
			writeError(w, r, err)
			return
		}
		s.Index.Insert(stop.ID, stop.Position)
		writeJSON(w, http.StatusCreated, stop)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// StopByIDHandler handles /v1/stops/{id}, /v1/stops/{id}/demand,
// /v1/stops/{id}/density, /v1/stops/{id}/density/history and /v1/stops/nearest
func (s *Server) StopByIDHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/stops/")
	if rest == "" || rest == r.URL.Path {
		writeProblem(w, http.StatusNotFound, "Not Found", "missing id", r.URL.Path)
		return
	}
	parts := strings.Split(strings.TrimSuffix(rest, "/"), "/")
	if parts[0] == "nearest" && len(parts) == 1 {
		s.nearestStop(w, r)
		return
	}
	id, err := parseStopID(parts[0])
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid stop id", err.Error(), r.URL.Path)
		return
	}
	switch {
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		stop, ok := s.Engine.Stop(id)
		if !ok {
			writeError(w, r, fmt.Errorf("stop %d: %w", id, model.ErrUnknownStop))
			return
		}
		writeJSON(w, http.StatusOK, stop)
	case len(parts) == 2 && (parts[1] == "demand" || parts[1] == "density"):
		if r.Method != http.MethodPut {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.updateSignal(w, r, id, parts[1])
	case len(parts) == 3 && parts[1] == "density" && parts[2] == "history":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if _, ok := s.Engine.Stop(id); !ok {
			writeError(w, r, fmt.Errorf("stop %d: %w", id, model.ErrUnknownStop))
			return
		}
		limit := 100
		if v := r.URL.Query().Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				limit = n
			}
		}
		items, err := s.Store.DensityHistory(r.Context(), id, limit)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	default:
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
	}
}

// updateSignal applies a demand or density override to the registry and the engine.
// Density overrides are also recorded in the history and broadcast.
func (s *Server) updateSignal(w http.ResponseWriter, r *http.Request, id model.StopID, signal string) {
	var in model.ValueUpdate
	if err := decodeJSON(w, r, &in); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if err := s.validateRequest(&in); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid "+signal, err.Error(), r.URL.Path)
		return
	}
	ctx := r.Context()
	if signal == "demand" {
		if err := s.Store.UpdateStopDemand(ctx, id, in.Value); err != nil {
			writeError(w, r, err)
			return
		}
		if err := s.Engine.UpdateDemand(id, in.Value); err != nil {
			writeError(w, r, err)
			return
		}
	} else {
		if err := s.Store.UpdateStopDensity(ctx, id, in.Value); err != nil {
			writeError(w, r, err)
			return
		}
		if err := s.Engine.UpdateDensity(id, in.Value); err != nil {
			writeError(w, r, err)
			return
		}
		reading := []model.DensityReading{{StopID: id, Density: in.Value, TS: s.Now().UTC().Format(time.RFC3339)}}
		if err := s.Store.RecordDensity(ctx, reading); err != nil {
			s.Log.Warn("record density override", zap.Int("stop", int(id)), zap.Error(err))
		}
		s.PublishDensity(reading)
	}
	stop, _ := s.Engine.Stop(id)
	writeJSON(w, http.StatusOK, stop)
}

// nearestStop handles GET /v1/stops/nearest?lat=&lon=
func (s *Server) nearestStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	lat, err1 := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	lon, err2 := strconv.ParseFloat(r.URL.Query().Get("lon"), 64)
	if err1 != nil || err2 != nil || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		writeProblem(w, http.StatusBadRequest, "Invalid coordinates", "lat must be in [-90,90] and lon in [-180,180]", r.URL.Path)
		return
	}
	id, km, ok := s.Index.Nearest(model.GeoPoint{Lat: lat, Lon: lon})
	if !ok {
		writeProblem(w, http.StatusNotFound, "No stops registered", "", r.URL.Path)
		return
	}
	stop, ok := s.Engine.Stop(id)
	if !ok {
		writeError(w, r, fmt.Errorf("stop %d: %w", id, model.ErrUnknownStop))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stop": stop, "distanceKm": km})
}

// ConnectionsHandler handles GET/POST /v1/connections
func (s *Server) ConnectionsHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/connections" {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"items": s.Engine.Connections()})
	case http.MethodPost:
		var in model.ConnectionIn
		if err := decodeJSON(w, r, &in); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if err := s.validateRequest(&in); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid connection", err.Error(), r.URL.Path)
			return
		}
		for _, id := range []model.StopID{in.A, in.B} {
			if _, ok := s.Engine.Stop(id); !ok {
				writeError(w, r, fmt.Errorf("connection %d-%d: stop %d: %w", in.A, in.B, id, model.ErrUnknownStop))
				return
			}
		}
		c := model.Connection{A: in.A, B: in.B}
		if in.Weight != nil {
			c.Weight = *in.Weight
		} else {
			km, ok := s.Index.Distance(in.A, in.B)
			if !ok {
				writeError(w, r, fmt.Errorf("connection %d-%d: no position to derive weight: %w", in.A, in.B, model.ErrUnknownStop))
				return
			}
			c.Weight = km
		}
		prev, existed := s.Engine.Weight(c.A, c.B)
		if err := s.Engine.AddConnection(c.A, c.B, c.Weight); err != nil {
			writeError(w, r, err)
			return
		}
		if err := s.Store.UpsertConnection(r.Context(), c); err != nil {
			// put the graph back the way the store still has it
			if existed {
				_ = s.Engine.AddConnection(c.A, c.B, prev)
			} else {
				s.Engine.RemoveConnection(c.A, c.B)
			}
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, c)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// RoutesHandler handles GET/POST /v1/routes
func (s *Server) RoutesHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/routes" {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	switch r.Method {
	case http.MethodGet:
		activeOnly := r.URL.Query().Get("active") == "true"
		items, err := s.Store.ListRoutes(r.Context(), activeOnly)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	case http.MethodPost:
		var in model.RouteIn
		if err := decodeJSON(w, r, &in); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if err := s.validateRequest(&in); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid route", err.Error(), r.URL.Path)
			return
		}
		for _, id := range in.Stops {
			if _, ok := s.Engine.Stop(id); !ok {
				writeError(w, r, fmt.Errorf("route %q: stop %d: %w", in.Name, id, model.ErrUnknownStop))
				return
			}
		}
		route, err := s.Store.CreateRoute(r.Context(), model.CandidateRoute{
			Name:          in.Name,
			Stops:         in.Stops,
			TotalDistance: in.TotalDistance,
			EstimatedTime: in.EstimatedTime,
			Active:        in.Active == nil || *in.Active,
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, route)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// RouteByIDHandler handles GET /v1/routes/{id} and GET /v1/routes/best
func (s *Server) RouteByIDHandler(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/v1/routes/"), "/")
	if id == "" || strings.Contains(id, "/") {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if id == "best" {
		s.bestRoute(w, r)
		return
	}
	route, err := s.Store.GetRoute(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, route)
}

// bestRoute handles GET /v1/routes/best?from=&to=[&live=true]. With live set,
// stops are scored against the modelled density for the current hour instead
// of their last recorded value.
func (s *Server) bestRoute(w http.ResponseWriter, r *http.Request) {
	from, to, err := endpoints(r)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid endpoints", err.Error(), r.URL.Path)
		return
	}
	candidates, err := s.Store.ListRoutes(r.Context(), false)
	if err != nil {
		writeError(w, r, err)
		return
	}
	densityFn := scoring.CurrentDensity
	if r.URL.Query().Get("live") == "true" && s.Density != nil {
		hour := s.Now().Hour()
		densityFn = func(st model.Stop) float64 {
			v, err := s.Density.Density(st.ID, hour)
			if err != nil {
				return st.CurrentDensity
			}
			return v
		}
	}
	res, err := s.Engine.SelectBestRoute(from, to, candidates, densityFn)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// PathHandler handles GET /v1/path?from=&to=
func (s *Server) PathHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	from, to, err := endpoints(r)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid endpoints", err.Error(), r.URL.Path)
		return
	}
	p, err := s.Engine.ShortestPath(from, to)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// SequenceHandler handles POST /v1/sequence
func (s *Server) SequenceHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req model.SequenceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if err := s.validateRequest(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid sequence request", err.Error(), r.URL.Path)
		return
	}
	if req.Demands != nil && len(req.Demands) != len(req.Stops) {
		writeProblem(w, http.StatusBadRequest, "Invalid sequence request",
			fmt.Sprintf("%d demands for %d stops", len(req.Demands), len(req.Stops)), r.URL.Path)
		return
	}
	res, err := s.Engine.Sequence(req.Stops, req.Demands, req.Capacity, req.Mode)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Health
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
	defer cancel()
	if err := s.Store.Ping(ctx); err != nil {
		writeProblem(w, http.StatusServiceUnavailable, "Not Ready", err.Error(), r.URL.Path)
		return
	}
	type pinger interface{ Ping(ctx context.Context) error }
	if p, ok := s.Broker.(pinger); ok {
		if err := p.Ping(ctx); err != nil {
			writeProblem(w, http.StatusServiceUnavailable, "Not Ready", err.Error(), r.URL.Path)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready", "stops": s.Engine.Len()})
}

func parseStopID(v string) (model.StopID, error) {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("stop id %q is not an integer", v)
	}
	return model.StopID(n), nil
}

func endpoints(r *http.Request) (model.StopID, model.StopID, error) {
	q := r.URL.Query()
	if q.Get("from") == "" || q.Get("to") == "" {
		return 0, 0, fmt.Errorf("from and to are required")
	}
	from, err := parseStopID(q.Get("from"))
	if err != nil {
		return 0, 0, err
	}
	to, err := parseStopID(q.Get("to"))
	if err != nil {
		return 0, 0, err
	}
	return from, to, nil
}
