//go:build postgres_integration

package store

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"transitopt/internal/model"
)

func TestPostgresConnectivityAndMigrate(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}
	p, err := NewPostgres(dsn)
	require.NoError(t, err)
	defer p.Close()
	require.NoError(t, p.Ping(t.Context()))
	require.NoError(t, p.Migrate(t.Context()))
	// second run must be a no-op
	require.NoError(t, p.Migrate(t.Context()))

	_, err = p.ListRoutes(t.Context(), true)
	require.NoError(t, err)
	_, err = p.ListStops(t.Context())
	require.NoError(t, err)

	err = p.UpdateStopDemand(t.Context(), -1, 1)
	require.ErrorIs(t, err, model.ErrUnknownStop)
}
