package model

// Core domain types shared by the engine, the registries and the HTTP adapter.

// StopID identifies a stop. It is unique and stable for the lifetime of a routing session.
type StopID int

type GeoPoint struct {
	Lat float64 `json:"lat" yaml:"lat" validate:"gte=-90,lte=90"`
	Lon float64 `json:"lon" yaml:"lon" validate:"gte=-180,lte=180"`
}

// Stop is a discrete location where passengers board or alight.
type Stop struct {
	ID             StopID   `json:"id"`
	Name           string   `json:"name,omitempty"`
	Position       GeoPoint `json:"position"`
	BaseDemand     float64  `json:"baseDemand"`
	CurrentDensity float64  `json:"currentDensity"`
}

// Connection is an undirected weighted edge between two stops.
type Connection struct {
	A      StopID  `json:"a"`
	B      StopID  `json:"b"`
	Weight float64 `json:"weight"`
}

// CandidateRoute is a pre-defined ordered sequence of stops owned by the route registry.
type CandidateRoute struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Stops         []StopID `json:"stops"`
	TotalDistance float64  `json:"totalDistance"`
	EstimatedTime int      `json:"estimatedTime"` // minutes
	Active        bool     `json:"active"`
}

// Path is a reconstructed shortest path between two stops.
type Path struct {
	Stops    []StopID `json:"stops"`
	Distance float64  `json:"distance"`
}

// SequenceMode selects the sequencer formulation.
type SequenceMode string

const (
	// SequenceCycle visits every stop once and returns to the origin; capacity is not enforced.
	SequenceCycle SequenceMode = "cycle"
	// SequenceOpen visits every stop once without returning, never exceeding capacity.
	SequenceOpen SequenceMode = "open"
)

// SequenceResult is a visiting order produced by one sequencer invocation.
type SequenceResult struct {
	Mode  SequenceMode `json:"mode"`
	Order []StopID     `json:"order"`
	Cost  float64      `json:"cost"`
	Load  float64      `json:"load"`
}

// ScoredStop is one stop of a selected route with the signals used to score it.
type ScoredStop struct {
	ID      StopID  `json:"id"`
	Name    string  `json:"name,omitempty"`
	Density float64 `json:"density"`
	Demand  float64 `json:"demand"`
}

// CandidateScore records the score of one candidate that spanned both endpoints.
type CandidateScore struct {
	RouteID string  `json:"routeId"`
	Score   float64 `json:"score"`
}

// ScoredRoute is the outcome of route selection for a point-to-point request.
type ScoredRoute struct {
	RouteID        string           `json:"routeId"`
	Name           string           `json:"name"`
	TotalDistance  float64          `json:"totalDistance"`
	EstimatedTime  int              `json:"estimatedTime"`
	Stops          []ScoredStop     `json:"stops"`
	AverageDensity float64          `json:"averageDensity"`
	AverageDemand  float64          `json:"averageDemand"`
	Score          float64          `json:"score"`
	Candidates     []CandidateScore `json:"candidates"`
}

// DensityReading is one recorded density observation for a stop.
type DensityReading struct {
	StopID  StopID  `json:"stopId"`
	Density float64 `json:"density"`
	TS      string  `json:"ts"`
}

// API request bodies

type StopIn struct {
	ID             StopID   `json:"id" validate:"gte=0"`
	Name           string   `json:"name" validate:"max=200"`
	Position       GeoPoint `json:"position"`
	BaseDemand     float64  `json:"baseDemand" validate:"gte=0"`
	CurrentDensity float64  `json:"currentDensity" validate:"gte=0"`
}

type ConnectionIn struct {
	A StopID `json:"a" validate:"gte=0"`
	B StopID `json:"b" validate:"gte=0,nefield=A"`
	// Weight is optional; when absent the map collaborator resolves a straight-line distance.
	Weight *float64 `json:"weight,omitempty" validate:"omitempty,gte=0"`
}

type RouteIn struct {
	Name          string   `json:"name" validate:"required,max=200"`
	Stops         []StopID `json:"stops" validate:"required,min=2,dive,gte=0"`
	TotalDistance float64  `json:"totalDistance" validate:"gte=0"`
	EstimatedTime int      `json:"estimatedTime" validate:"gte=0"`
	Active        *bool    `json:"active,omitempty"`
}

type SequenceRequest struct {
	Stops    []StopID     `json:"stops" validate:"required,min=1,dive,gte=0"`
	Demands  []float64    `json:"demands,omitempty" validate:"omitempty,dive,gte=0"`
	Capacity float64      `json:"capacity" validate:"gte=0"`
	Mode     SequenceMode `json:"mode" validate:"required,oneof=cycle open"`
}

type ValueUpdate struct {
	Value float64 `json:"value" validate:"gte=0"`
}
