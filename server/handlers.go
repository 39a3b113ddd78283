package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bsaid97/go-spike-fixer/featurepool"
	"github.com/bsaid97/go-spike-fixer/geometry"
	"github.com/bsaid97/go-spike-fixer/handlers"
	"github.com/bsaid97/go-spike-fixer/logging"
	"github.com/bsaid97/go-spike-fixer/metrics"
	"github.com/bsaid97/go-spike-fixer/utils"
	"github.com/bsaid97/go-spike-fixer/validity"
	"github.com/gorilla/mux"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 256 << 20

// Settings are the defaults a request may override.
type Settings struct {
	MinAngle  float64
	Tolerance float64
	Workers   int
	Kinds     []geometry.Class
	Precision int
}

// Service holds the request handlers.
type Service struct {
	settings  Settings
	metrics   *metrics.Collector
	logger    logging.Logger
	validator *requestValidator
}

func NewService(settings Settings, collector *metrics.Collector, logger logging.Logger) (*Service, error) {
	if logger == nil {
		logger = logging.Noop()
	}
	validator, err := newRequestValidator()
	if err != nil {
		return nil, err
	}
	return &Service{
		settings:  settings,
		metrics:   collector,
		logger:    logger,
		validator: validator,
	}, nil
}

type spikeRequest struct {
	Layer             string          `json:"layer,omitempty"`
	FeatureCollection json.RawMessage `json:"featureCollection"`
	MinAngle          *float64        `json:"minAngle,omitempty"`
	Tolerance         *float64        `json:"tolerance,omitempty"`
	Method            string          `json:"method,omitempty"`
	Format            string          `json:"format,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type checkResponse struct {
	Layer   string             `json:"layer"`
	Count   int                `json:"count"`
	Defects []*handlers.Defect `json:"defects"`
}

type validateResponse struct {
	Layer  string           `json:"layer"`
	Issues []validity.Issue `json:"issues"`
}

func (s *Service) CheckHandler(w http.ResponseWriter, r *http.Request) {
	req, ok := s.readRequest(w, r)
	if !ok {
		return
	}
	opts := s.options(req)
	defects, err := handlers.FindSpikes(r.Context(), req.FeatureCollection, opts)
	if err != nil {
		sendError(w, http.StatusBadRequest, err)
		return
	}
	sendJSON(w, http.StatusOK, checkResponse{Layer: opts.Layer, Count: len(defects), Defects: defects})
}

func (s *Service) FixHandler(w http.ResponseWriter, r *http.Request) {
	req, ok := s.readRequest(w, r)
	if !ok {
		return
	}
	opts := s.options(req)
	if req.Method != "" {
		method, err := handlers.ParseMethod(req.Method)
		if err != nil {
			sendError(w, http.StatusBadRequest, err)
			return
		}
		opts.Method = method
	}

	if req.Format == "shapefile" {
		zipData, err := handlers.CleanSpikesWithShapefile(r.Context(), req.FeatureCollection, opts)
		if err != nil {
			sendError(w, http.StatusBadRequest, err)
			return
		}
		sendZipResponse(w, opts.Layer+".zip", zipData)
		return
	}

	result, _, err := handlers.CleanSpikes(r.Context(), req.FeatureCollection, opts)
	if err != nil {
		sendError(w, http.StatusBadRequest, err)
		return
	}
	sendJSON(w, http.StatusOK, result)
}

func (s *Service) ValidateHandler(w http.ResponseWriter, r *http.Request) {
	req, ok := s.readRequest(w, r)
	if !ok {
		return
	}
	layer := req.Layer
	if layer == "" {
		layer = handlers.DefaultLayer
	}
	pool, err := featurepool.ReadGeoJSON(layer, req.FeatureCollection)
	if err != nil {
		sendError(w, http.StatusBadRequest, err)
		return
	}
	issues, err := validity.Check(r.Context(), map[string]featurepool.Pool{layer: pool}, s.logger)
	if err != nil {
		sendError(w, http.StatusInternalServerError, err)
		return
	}
	sendJSON(w, http.StatusOK, validateResponse{Layer: layer, Issues: issues})
}

func (s *Service) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Service) options(req spikeRequest) handlers.CleanOptions {
	opts := handlers.CleanOptions{
		Layer:     req.Layer,
		MinAngle:  s.settings.MinAngle,
		Tolerance: s.settings.Tolerance,
		Workers:   s.settings.Workers,
		Kinds:     s.settings.Kinds,
		Method:    handlers.MethodDeleteNode,
		Precision: s.settings.Precision,
		Logger:    s.logger,
		Observer:  s.metrics,
	}
	if s.metrics != nil {
		opts.Progress = s.metrics
	}
	if opts.Layer == "" {
		opts.Layer = handlers.DefaultLayer
	}
	if req.MinAngle != nil {
		opts.MinAngle = *req.MinAngle
	}
	if req.Tolerance != nil {
		opts.Tolerance = *req.Tolerance
	}
	return opts
}

// readRequest accepts either a JSON body or a multipart upload and validates
// it against the request schema. It writes the error response itself.
func (s *Service) readRequest(w http.ResponseWriter, r *http.Request) (spikeRequest, bool) {
	var req spikeRequest
	body, err := s.requestBody(w, r)
	if err != nil {
		sendError(w, http.StatusBadRequest, err)
		return req, false
	}
	if err := s.validator.Validate(body); err != nil {
		sendError(w, http.StatusBadRequest, err)
		return req, false
	}
	if err := json.Unmarshal(body, &req); err != nil {
		sendError(w, http.StatusBadRequest, fmt.Errorf("failed to decode request: %w", err))
		return req, false
	}
	return req, true
}

func (s *Service) requestBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		defer r.Body.Close()
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			return nil, fmt.Errorf("error reading request body: %w", err)
		}
		return body, nil
	}

	form, err := utils.ReadMultiPartForm(r, "file")
	if err != nil {
		return nil, err
	}
	payload := form.File
	if payload == nil && form.Properties.FeatureCollection != "" {
		payload = []byte(form.Properties.FeatureCollection)
	}
	if payload == nil {
		return nil, errors.New("no suitable files found")
	}
	if !json.Valid(payload) {
		return nil, errors.New("uploaded feature collection is not valid JSON")
	}
	req := spikeRequest{
		Layer:             form.Properties.Layer,
		FeatureCollection: payload,
		Method:            form.Properties.Method,
		Format:            form.Properties.Format,
	}
	if req.MinAngle, err = optionalFloat("minAngle", form.Properties.MinAngle); err != nil {
		return nil, err
	}
	if req.Tolerance, err = optionalFloat("tolerance", form.Properties.Tolerance); err != nil {
		return nil, err
	}
	return json.Marshal(req)
}

func optionalFloat(name, value string) (*float64, error) {
	if value == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return &f, nil
}

// statusRecorder captures the response code for instrumentation.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Service) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tmpl, err := current.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		s.metrics.ObserveRequest(route, rec.status)
		s.logger.Info(r.Context(), "request handled",
			logging.String("method", r.Method),
			logging.String("route", route),
			logging.Int("status", rec.status),
			logging.Any("elapsed", time.Since(start)))
	})
}

func sendJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func sendError(w http.ResponseWriter, status int, err error) {
	sendJSON(w, status, errorResponse{Error: err.Error()})
}

func sendZipResponse(w http.ResponseWriter, filename string, zipData []byte) {
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	w.Write(zipData)
}
