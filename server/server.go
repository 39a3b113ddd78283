// Package server exposes the angle check over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bsaid97/go-spike-fixer/logging"
	"github.com/gorilla/mux"
)

type HTTPServer struct {
	server *http.Server
	router *mux.Router
	logger logging.Logger
}

func NewHTTPServer(addr string, service *Service) *HTTPServer {
	router := mux.NewRouter()

	srv := &http.Server{
		Addr:         addr,
		WriteTimeout: time.Second * 60,
		ReadTimeout:  time.Second * 60,
		IdleTimeout:  time.Second * 60,
		Handler:      router,
	}

	hs := &HTTPServer{
		server: srv,
		router: router,
		logger: service.logger,
	}
	hs.RegisterRoutes(service)
	return hs
}

// Handler returns the routed handler, for tests and embedding.
func (hs *HTTPServer) Handler() http.Handler {
	return hs.router
}

// Start serves in the background. The returned channel receives the error
// that stopped the listener, if any, and is closed afterwards.
func (hs *HTTPServer) Start() <-chan error {
	errc := make(chan error, 1)
	go func() {
		defer close(errc)
		hs.logger.Info(context.Background(), "HTTP server starting", logging.String("addr", hs.server.Addr))
		if err := hs.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			hs.logger.Error(context.Background(), "HTTP server error", logging.Err(err))
			errc <- err
		}
	}()
	return errc
}

// Stop drains in-flight requests for up to 30 seconds.
func (hs *HTTPServer) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := hs.server.Shutdown(ctx); err != nil {
		hs.logger.Error(ctx, "HTTP server shutdown error", logging.Err(err))
		return err
	}
	hs.logger.Info(ctx, "HTTP server stopped")
	return nil
}

func (hs *HTTPServer) RegisterRoutes(service *Service) {
	hs.router.Use(service.instrument)

	api := hs.router.PathPrefix("/v1").Subrouter()
	api.HandleFunc("/check", service.CheckHandler).Methods(http.MethodPost)
	api.HandleFunc("/fix", service.FixHandler).Methods(http.MethodPost)
	api.HandleFunc("/validate", service.ValidateHandler).Methods(http.MethodPost)

	hs.router.Handle("/metrics", service.metrics.Handler()).Methods(http.MethodGet)
	hs.router.HandleFunc("/healthz", service.HealthHandler).Methods(http.MethodGet)
}
