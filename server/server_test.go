package server

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bsaid97/go-spike-fixer/geometry"
	"github.com/bsaid97/go-spike-fixer/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const spikeCollection = `{"type":"FeatureCollection","features":[
 {"type":"Feature","id":1,"properties":{"name":"spiky"},
  "geometry":{"type":"Polygon","coordinates":[[[0,0],[10,0],[10,10],[5.0002,10],[5.0001,30],[5,10],[0,10],[0,0]]]}},
 {"type":"Feature","id":2,"properties":{"name":"bowtie"},
  "geometry":{"type":"Polygon","coordinates":[[[20,0],[30,10],[30,0],[20,10],[20,0]]]}}
]}`

func newTestServer(t *testing.T) (*httptest.Server, *metrics.Collector) {
	t.Helper()
	collector, err := metrics.NewCollector(prometheus.NewRegistry())
	require.NoError(t, err)
	service, err := NewService(Settings{
		MinAngle:  5,
		Tolerance: 1e-6,
		Workers:   2,
		Kinds:     []geometry.Class{geometry.ClassLine, geometry.ClassPolygon},
		Precision: 7,
	}, collector, nil)
	require.NoError(t, err)

	ts := httptest.NewServer(NewHTTPServer("127.0.0.1:0", service).Handler())
	t.Cleanup(ts.Close)
	return ts, collector
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestCheck(t *testing.T) {
	ts, collector := newTestServer(t)

	resp := postJSON(t, ts.URL+"/v1/check", map[string]interface{}{
		"layer":             "parcels",
		"featureCollection": json.RawMessage(spikeCollection),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Layer   string `json:"layer"`
		Count   int    `json:"count"`
		Defects []struct {
			Feature int64  `json:"feature"`
			Status  string `json:"status"`
			Vertex  struct {
				Vertex int `json:"vertex"`
			} `json:"vertex"`
		} `json:"defects"`
	}
	decode(t, resp, &body)
	assert.Equal(t, "parcels", body.Layer)
	require.Equal(t, 1, body.Count)
	assert.Equal(t, int64(1), body.Defects[0].Feature)
	assert.Equal(t, 4, body.Defects[0].Vertex.Vertex)
	assert.Equal(t, "pending", body.Defects[0].Status)

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.FeaturesScanned))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.DefectsFound))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.HTTPRequests.WithLabelValues("/v1/check", "200")))
}

func TestCheck_MinAngleOverride(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/v1/check", map[string]interface{}{
		"featureCollection": json.RawMessage(spikeCollection),
		"minAngle":          50,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body checkResponseBody
	decode(t, resp, &body)
	assert.Equal(t, "features", body.Layer)
	assert.Equal(t, 5, body.Count)
}

type checkResponseBody struct {
	Layer string `json:"layer"`
	Count int    `json:"count"`
}

func TestRequestValidation(t *testing.T) {
	ts, _ := newTestServer(t)

	tests := []struct {
		name string
		body map[string]interface{}
	}{
		{"missing collection", map[string]interface{}{"layer": "x"}},
		{"not a collection", map[string]interface{}{"featureCollection": map[string]interface{}{"type": "Feature", "features": []interface{}{}}}},
		{"angle out of range", map[string]interface{}{"featureCollection": json.RawMessage(spikeCollection), "minAngle": 0}},
		{"negative tolerance", map[string]interface{}{"featureCollection": json.RawMessage(spikeCollection), "tolerance": -1}},
		{"unknown field", map[string]interface{}{"featureCollection": json.RawMessage(spikeCollection), "angle": 3}},
		{"bad format", map[string]interface{}{"featureCollection": json.RawMessage(spikeCollection), "format": "kml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, ts.URL+"/v1/check", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			var body errorResponse
			decode(t, resp, &body)
			assert.NotEmpty(t, body.Error)
		})
	}
}

func TestFix(t *testing.T) {
	ts, collector := newTestServer(t)

	resp := postJSON(t, ts.URL+"/v1/fix", map[string]interface{}{
		"layer":             "parcels",
		"featureCollection": json.RawMessage(spikeCollection),
		"method":            "delete",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		FeatureCollection struct {
			Features []struct {
				Geometry struct {
					Coordinates [][][]float64 `json:"coordinates"`
				} `json:"geometry"`
			} `json:"features"`
		} `json:"featureCollection"`
		Defects []struct {
			Status    string `json:"status"`
			FixMethod string `json:"fixMethod"`
		} `json:"defects"`
		Changes map[string]map[string][]json.RawMessage `json:"changes"`
	}
	decode(t, resp, &body)

	require.Len(t, body.Defects, 1)
	assert.Equal(t, "fixed", body.Defects[0].Status)
	assert.Equal(t, "Delete node with small angle", body.Defects[0].FixMethod)
	assert.Len(t, body.Changes["parcels"]["1"], 2)
	require.Len(t, body.FeatureCollection.Features, 2)
	assert.Len(t, body.FeatureCollection.Features[0].Geometry.Coordinates[0], 6)

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.FixOutcomes.WithLabelValues("fixed", "Delete node with small angle")))
}

func TestFix_UnknownMethod(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/v1/fix", map[string]interface{}{
		"featureCollection": json.RawMessage(spikeCollection),
		"method":            "squash",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestFix_Shapefile(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/v1/fix", map[string]interface{}{
		"layer":             "parcels",
		"featureCollection": json.RawMessage(spikeCollection),
		"format":            "shapefile",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/zip", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "parcels.zip")

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("PK")))
}

func TestFix_MultipartUpload(t *testing.T) {
	ts, _ := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "parcels.geojson")
	require.NoError(t, err)
	_, err = fw.Write([]byte(spikeCollection))
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("layer", "upload"))
	require.NoError(t, mw.WriteField("method", "none"))
	require.NoError(t, mw.WriteField("minAngle", "5"))
	require.NoError(t, mw.Close())

	resp, err := http.Post(ts.URL+"/v1/fix", mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Defects []struct {
			Layer     string `json:"layer"`
			Status    string `json:"status"`
			FixMethod string `json:"fixMethod"`
		} `json:"defects"`
	}
	decode(t, resp, &body)
	require.Len(t, body.Defects, 1)
	assert.Equal(t, "upload", body.Defects[0].Layer)
	assert.Equal(t, "No action", body.Defects[0].FixMethod)
}

func TestMultipart_MissingFile(t *testing.T) {
	ts, _ := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("layer", "upload"))
	require.NoError(t, mw.Close())

	resp, err := http.Post(ts.URL+"/v1/check", mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestValidate(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/v1/validate", map[string]interface{}{
		"featureCollection": json.RawMessage(spikeCollection),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body validateResponse
	decode(t, resp, &body)
	require.Len(t, body.Issues, 1)
	assert.Equal(t, int64(2), body.Issues[0].FeatureID)
}

func TestHealthAndMetrics(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "spikefix_http_requests_total"))

	resp, err = http.Get(ts.URL + "/v1/check")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
