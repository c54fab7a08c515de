// Package api exposes point value queries, spectral analysis and writes over
// HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/vjranagit/historian/pkg/storage"
	"github.com/vjranagit/historian/pkg/types"
)

// Options tune query handling
type Options struct {
	// Location is applied to from/to values without an offset and to rollups
	Location     *time.Location
	DefaultLimit int
	MaxSeries    int
	Timeout      time.Duration
}

// Server implements the HTTP API server
type Server struct {
	storage storage.Storage
	opts    Options
	log     *zap.Logger
	router  *mux.Router
	server  *http.Server
}

// NewServer creates a new API server
func NewServer(addr string, store storage.Storage, opts Options, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.MaxSeries <= 0 {
		opts.MaxSeries = 100
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	s := &Server{
		storage: store,
		opts:    opts,
		log:     log.Named("api"),
	}

	router := mux.NewRouter()
	v1 := router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/write", s.handleWrite).Methods(http.MethodPost)
	v1.HandleFunc("/series", s.handleSeries).Methods(http.MethodGet)
	v1.HandleFunc("/point-values", s.handlePointValues).Methods(http.MethodGet)
	v1.HandleFunc("/point-values/fft/{xid}", s.handleTransform(true)).Methods(http.MethodGet)
	v1.HandleFunc("/point-values/ifft/{xid}", s.handleTransform(false)).Methods(http.MethodGet)
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	router.Use(s.loggingMiddleware)
	router.Use(s.recoveryMiddleware)
	s.router = router
	s.server = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  opts.Timeout,
		WriteTimeout: opts.Timeout,
	}

	return s
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Stop is called. A Stop before Start makes Start return
// immediately.
func (s *Server) Start() error {
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// handleWrite handles write requests
func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	var req types.WriteRequest
	if err := jsonAPI.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request: %v", err))
		return
	}

	samples := 0
	for i := range req.Data {
		sd := &req.Data[i]
		for j := range sd.Samples {
			sd.Samples[j].SeriesID = sd.Series.ID
			sd.Samples[j].Bookend = false
		}
		samples += len(sd.Samples)
	}

	if err := s.storage.Write(r.Context(), &req); err != nil {
		s.respondPipelineError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"samples": samples,
	})
}

// handleSeries lists the known series
func (s *Server) handleSeries(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.storage.Series())
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// statusFor maps pipeline error kinds to HTTP status codes
func statusFor(err error) int {
	var te *types.Error
	if !errors.As(err, &te) {
		return http.StatusInternalServerError
	}
	switch te.Kind {
	case types.RangeInvalid, types.ConfigurationInvalid, types.ArgumentInvalid, types.UnsupportedType:
		return http.StatusBadRequest
	case types.Cancellation:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondPipelineError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", zap.Error(err))
	}
	s.respondError(w, status, err.Error())
}

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := jsonAPI.NewEncoder(w).Encode(data); err != nil {
		s.log.Warn("failed to encode response", zap.Int("status", status), zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rw.statusCode),
			zap.Duration("elapsed", time.Since(start)))
	})
}

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Error("panic in handler",
					zap.Any("panic", rec),
					zap.String("path", r.URL.Path),
					zap.Stack("stack"))
				s.respondError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
