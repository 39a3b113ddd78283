package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/bsaid97/go-spike-fixer/geometry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func noEnv(string) (string, bool) { return "", false }

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 5.0, cfg.MinAngle)
	assert.Equal(t, 1e-8, cfg.Tolerance)
	assert.Equal(t, runtime.NumCPU(), cfg.Workers)
	assert.Equal(t, ":8080", cfg.Server.Addr)

	classes, err := cfg.Classes()
	require.NoError(t, err)
	assert.Equal(t, []geometry.Class{geometry.ClassLine, geometry.ClassPolygon}, classes)
}

func TestLoad_YAML(t *testing.T) {
	path := writeConfig(t, "spikefix.yaml", `
min_angle: 10
tolerance: 0.000001
workers: 2
compatible_kinds: [polygon]
log:
  level: debug
  format: json
store:
  kind: sqlite
  path: features.db
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 10.0, cfg.MinAngle)
	assert.Equal(t, 1e-6, cfg.Tolerance)
	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, []string{"polygon"}, cfg.CompatibleKinds)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, StoreSQLite, cfg.Store.Kind)
	assert.Equal(t, "features.db", cfg.Store.Path)
	assert.Equal(t, DefaultPrecision, cfg.Precision)
}

func TestLoad_TOML(t *testing.T) {
	path := writeConfig(t, "spikefix.toml", `
min_angle = 2.5
precision = 3

[server]
addr = ":9090"

[store]
kind = "mongo"
uri = "mongodb://localhost:27017"
database = "gis"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2.5, cfg.MinAngle)
	assert.Equal(t, 3, cfg.Precision)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, StoreMongo, cfg.Store.Kind)
	assert.Equal(t, "gis", cfg.Store.Database)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "spikefix.json", `{}`))
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = Load(writeConfig(t, "spikefix.yaml", "min_angel: 3\n"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "spikefix.yaml", "min_angle: 200\n"))
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"SPIKE_MIN_ANGLE":        "12.5",
		"SPIKE_WORKERS":          "3",
		"SPIKE_COMPATIBLE_KINDS": "line, point",
		"SPIKE_STORE_KIND":       "geojson",
		"SPIKE_LOG_LEVEL":        "warn",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(lookup))
	assert.Equal(t, 12.5, cfg.MinAngle)
	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, []string{"line", "point"}, cfg.CompatibleKinds)
	assert.Equal(t, StoreGeoJSON, cfg.Store.Kind)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, DefaultTolerance, cfg.Tolerance)

	env["SPIKE_WORKERS"] = "many"
	assert.ErrorIs(t, Default().ApplyEnv(lookup), ErrInvalid)
	require.NoError(t, Default().ApplyEnv(noEnv))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero angle", func(c *Config) { c.MinAngle = 0 }},
		{"angle above 180", func(c *Config) { c.MinAngle = 180.5 }},
		{"negative tolerance", func(c *Config) { c.Tolerance = -1 }},
		{"no workers", func(c *Config) { c.Workers = 0 }},
		{"negative precision", func(c *Config) { c.Precision = -2 }},
		{"bad kind", func(c *Config) { c.CompatibleKinds = []string{"surface"} }},
		{"unknown store", func(c *Config) { c.Store.Kind = "postgres" }},
		{"sqlite without path", func(c *Config) { c.Store.Kind = StoreSQLite }},
		{"mongo without uri", func(c *Config) { c.Store.Kind = StoreMongo }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}

	cfg := Default()
	cfg.MinAngle = 180
	assert.NoError(t, cfg.Validate())
}
