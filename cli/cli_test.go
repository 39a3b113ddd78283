package cli

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/bsaid97/go-spike-fixer/featurepool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const parcels = `{"type":"FeatureCollection","features":[
 {"type":"Feature","id":11,"properties":{"name":"spiky"},
  "geometry":{"type":"Polygon","coordinates":[[[0,0],[10,0],[10,10],[5.0002,10],[5.0001,30],[5,10],[0,10],[0,0]]]}},
 {"type":"Feature","id":12,"properties":{"name":"clean"},
  "geometry":{"type":"Polygon","coordinates":[[[0,0],[4,0],[4,4],[0,4],[0,0]]]}}
]}`

const bowtie = `{"type":"FeatureCollection","features":[
 {"type":"Feature","id":1,"properties":{},
  "geometry":{"type":"Polygon","coordinates":[[[20,0],[30,10],[30,0],[20,10],[20,0]]]}}
]}`

func writeInput(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := NewRootCmd(&out, &errOut)
	cmd.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestCheck_JSON(t *testing.T) {
	input := writeInput(t, "parcels.geojson", parcels)

	out, err := run(t, "check", "--json", "--tolerance", "1e-6", input)
	require.NoError(t, err)

	var report struct {
		MinAngle float64 `json:"minAngle"`
		Features int64   `json:"features"`
		Defects  []struct {
			Layer   string `json:"layer"`
			Feature int64  `json:"feature"`
			Status  string `json:"status"`
		} `json:"defects"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 5.0, report.MinAngle)
	assert.Equal(t, int64(2), report.Features)
	require.Len(t, report.Defects, 1)
	assert.Equal(t, "parcels", report.Defects[0].Layer)
	assert.Equal(t, int64(11), report.Defects[0].Feature)
	assert.Equal(t, "pending", report.Defects[0].Status)
}

func TestCheck_ConfigFile(t *testing.T) {
	input := writeInput(t, "parcels.geojson", parcels)
	cfg := writeInput(t, "spikefix.yaml", "min_angle: 0.0001\nlog:\n  level: error\n")

	out, err := run(t, "check", "--config", cfg, input)
	require.NoError(t, err)
	assert.Contains(t, out, "No vertex below 0.0001°")
}

func TestCheck_Validate(t *testing.T) {
	input := writeInput(t, "crossing.geojson", bowtie)

	out, err := run(t, "check", "--validate", input)
	require.NoError(t, err)
	assert.Contains(t, out, "1 invalid geometr(ies)")
	assert.Contains(t, out, "crossing feature 1")
}

func TestCheck_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"no inputs", []string{"check"}},
		{"unsupported input", []string{"check", writeInput(t, "parcels.kml", "<kml/>")}},
		{"bad min angle", []string{"check", "--min-angle", "0", writeInput(t, "parcels.geojson", parcels)}},
		{"missing sqlite path", []string{"check", "--store", "sqlite"}},
		{"unknown method", []string{"fix", "--method", "squash", writeInput(t, "parcels.geojson", parcels)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, tt.args...)
			assert.Error(t, err)
		})
	}
}

func TestFix_WritesProcessedFile(t *testing.T) {
	input := writeInput(t, "parcels.geojson", parcels)

	out, err := run(t, "fix", "--tolerance", "1e-6", input)
	require.NoError(t, err)
	assert.Contains(t, out, "1 fixed, 0 failed, 0 obsolete, 2 geometry edit(s)")

	data, err := os.ReadFile(filepath.Join(filepath.Dir(input), "parcels_PROCESSED.geojson"))
	require.NoError(t, err)
	pool, err := featurepool.ReadGeoJSON("parcels", data)
	require.NoError(t, err)
	f, ok := pool.Get(context.Background(), 11)
	require.True(t, ok)
	assert.Equal(t, 6, f.Geometry.VertexCount(0, 0))
	assert.Equal(t, "spiky", f.Properties["name"])
}

func TestFix_Shapefile(t *testing.T) {
	input := writeInput(t, "parcels.geojson", parcels)
	outDir := t.TempDir()

	_, err := run(t, "fix", "--shapefile", "--out-dir", outDir, input)
	require.NoError(t, err)

	reader, err := zip.OpenReader(filepath.Join(outDir, "parcels_PROCESSED.zip"))
	require.NoError(t, err)
	defer reader.Close()
	var names []string
	for _, f := range reader.File {
		names = append(names, f.Name)
	}
	assert.Contains(t, names, "parcels.shp")
	assert.Contains(t, names, "parcels_changes.json")
}

func TestFix_MakeValid(t *testing.T) {
	input := writeInput(t, "crossing.geojson", bowtie)

	out, err := run(t, "fix", "--make-valid", input)
	require.NoError(t, err)
	assert.Contains(t, out, "1 invalid geometr(ies), 1 repaired")

	repaired := filepath.Join(filepath.Dir(input), "crossing_PROCESSED.geojson")
	out, err = run(t, "check", "--validate", repaired)
	require.NoError(t, err)
	assert.Contains(t, out, "All geometries are valid")
}

func TestImportThenFix_SQLite(t *testing.T) {
	ctx := context.Background()
	input := writeInput(t, "parcels.geojson", parcels)
	dbPath := filepath.Join(t.TempDir(), "features.db")
	store := []string{"--store", "sqlite", "--store-path", dbPath}

	out, err := run(t, append([]string{"import"}, append(store, input)...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "Imported 2 feature(s) into parcels")

	out, err = run(t, append([]string{"fix", "--tolerance", "1e-6"}, store...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "1 fixed")

	db, err := featurepool.OpenSQLite(dbPath, nil)
	require.NoError(t, err)
	defer db.Close()
	rows, err := db.Changes(ctx, "parcels", 11)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "node", rows[0].What)
	assert.Equal(t, "removed", rows[0].Type)

	f, ok := db.Pool("parcels").Get(ctx, 11)
	require.True(t, ok)
	assert.Equal(t, 6, f.Geometry.VertexCount(0, 0))

	_, err = run(t, append([]string{"check", "--layer", "roads"}, store...)...)
	assert.ErrorIs(t, err, featurepool.ErrUnknownLayer)
}

func TestImport_NeedsStore(t *testing.T) {
	_, err := run(t, "import", writeInput(t, "parcels.geojson", parcels))
	assert.ErrorContains(t, err, "sqlite or mongo")
}
