package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	c, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 8080, c.HTTP.Port)
	assert.Equal(t, ":8080", c.Addr())
	assert.Equal(t, 5*time.Second, c.HTTP.ReadHeaderTimeout)
	assert.Equal(t, 16, c.Engine.MaxSequenceStops)
	assert.Equal(t, 1<<24, c.Engine.MaxSequenceStates)
	assert.Equal(t, 100.0, c.Density.Base)
	assert.Equal(t, 0.8, c.Density.JitterMin)
	assert.Equal(t, 1.2, c.Density.JitterMax)
	assert.Equal(t, 5*time.Minute, c.Density.RefreshInterval)
	assert.True(t, c.Database.Migrate)
	assert.Empty(t, c.Database.URL)
}

func TestFileAndEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	body := "http:\n  port: 9000\nengine:\n  max_sequence_stops: 12\nlog:\n  level: debug\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(body), 0o600))

	t.Setenv("TRANSITOPT_ENGINE_MAX_SEQUENCE_STOPS", "10")
	t.Setenv("DATABASE_URL", "postgres://localhost/transit")

	c, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 9000, c.HTTP.Port)
	assert.Equal(t, 10, c.Engine.MaxSequenceStops)
	assert.Equal(t, "debug", c.Log.Level)
	assert.Equal(t, "postgres://localhost/transit", c.Database.URL)
}

func TestPlatformPort(t *testing.T) {
	t.Setenv("PORT", "7070")
	c, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 7070, c.HTTP.Port)
}

func TestValidate(t *testing.T) {
	t.Setenv("TRANSITOPT_ENGINE_MAX_SEQUENCE_STOPS", "40")
	t.Setenv("TRANSITOPT_DENSITY_JITTER_MIN", "2")
	_, err := Load(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_sequence_stops")
	assert.Contains(t, err.Error(), "jitter")
}
