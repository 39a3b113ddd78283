package utils

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteShapefile_AttributeTableName(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "parcels.shp")
	features := []ExportFeature{{
		Geometry:   json.RawMessage(`{"type":"Polygon","coordinates":[[[0,0],[4,0],[4,4],[0,4],[0,0]]]}`),
		Properties: map[string]interface{}{"name": "clean"},
	}}

	require.NoError(t, WriteShapefile(path, features))

	for _, name := range []string{"parcels.shp", "parcels.shx", "parcels.dbf"} {
		assert.FileExists(t, filepath.Join(dir, name))
	}
	_, err := os.Stat(filepath.Join(dir, "parcelsdbf"))
	assert.True(t, os.IsNotExist(err), "attribute table left under its raw go-shp name")
}
