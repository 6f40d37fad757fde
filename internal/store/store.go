package store

import (
	"context"
	"errors"

	"transitopt/internal/model"
)

// Store is the persistence interface behind the stop, connection and route
// registries. The engine holds the live graph; a Store is the durable copy
// it is rebuilt from at startup.
type Store interface {
	// Stops
	CreateStop(ctx context.Context, s model.Stop) error
	ListStops(ctx context.Context) ([]model.Stop, error)
	UpdateStopDemand(ctx context.Context, id model.StopID, value float64) error
	UpdateStopDensity(ctx context.Context, id model.StopID, value float64) error

	// Connections are undirected; implementations store each pair once.
	UpsertConnection(ctx context.Context, c model.Connection) error
	ListConnections(ctx context.Context) ([]model.Connection, error)

	// Candidate routes, listed in creation order
	CreateRoute(ctx context.Context, r model.CandidateRoute) (model.CandidateRoute, error)
	GetRoute(ctx context.Context, id string) (model.CandidateRoute, error)
	ListRoutes(ctx context.Context, activeOnly bool) ([]model.CandidateRoute, error)

	// Density history, newest first
	RecordDensity(ctx context.Context, readings []model.DensityReading) error
	DensityHistory(ctx context.Context, id model.StopID, limit int) ([]model.DensityReading, error)

	Ping(ctx context.Context) error
}

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 500
)

// historyWindow turns a requested history length into the number of rows to return.
func historyWindow(limit int) int {
	if limit <= 0 {
		return defaultHistoryLimit
	}
	return min(limit, maxHistoryLimit)
}

// normalizePair orders an undirected connection so a < b.
func normalizePair(c model.Connection) model.Connection {
	if c.B < c.A {
		c.A, c.B = c.B, c.A
	}
	return c
}
