// Package http serves the engine's read API: setups, the trade stream,
// calibration status, health, and metrics.
package http

import (
	"context"
	"encoding/json"
	"errors"
	nethttp "net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/sawpanic/spxrun/internal/calibration"
	"github.com/sawpanic/spxrun/internal/config"
	"github.com/sawpanic/spxrun/internal/detect"
	"github.com/sawpanic/spxrun/internal/domain"
)

const setupsCacheKey = "spxrun:http:setups"
const setupsCacheTTL = 3 * time.Second

// Server is the HTTP read surface.
type Server struct {
	cfg         config.HTTPConfig
	detector    *detect.Detector
	calibration *calibration.Provider
	cache       *redis.Client
	registry    *prometheus.Registry
	log         zerolog.Logger
	clock       func() time.Time
}

// NewServer wires the read API. cache and registry may be nil.
func NewServer(cfg config.HTTPConfig, detector *detect.Detector, calib *calibration.Provider,
	cache *redis.Client, registry *prometheus.Registry, log zerolog.Logger) *Server {
	return &Server{
		cfg:         cfg,
		detector:    detector,
		calibration: calib,
		cache:       cache,
		registry:    registry,
		log:         log.With().Str("component", "http").Logger(),
		clock:       time.Now,
	}
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(nethttp.MethodGet)
	r.HandleFunc("/v1/setups", s.handleSetups).Methods(nethttp.MethodGet)
	r.HandleFunc("/v1/setups/{id}", s.handleSetupByID).Methods(nethttp.MethodGet)
	r.HandleFunc("/v1/stream/snapshot", s.handleStreamSnapshot).Methods(nethttp.MethodGet)
	r.HandleFunc("/v1/stream/ws", s.handleStreamWS).Methods(nethttp.MethodGet)
	r.HandleFunc("/v1/calibration/status", s.handleCalibrationStatus).Methods(nethttp.MethodGet)
	if s.registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}
	return r
}

// ListenAndServe blocks until the context is cancelled or the listener fails.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &nethttp.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.Router(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.cfg.Addr).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, nethttp.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// SetupsResponse is the /v1/setups payload.
type SetupsResponse struct {
	Setups    []domain.Setup `json:"setups"`
	Generated time.Time      `json:"generated"`
}

func (s *Server) handleSetups(w nethttp.ResponseWriter, r *nethttp.Request) {
	ctx := r.Context()

	if body, ok := s.cachedSetups(ctx); ok {
		writeRawJSON(w, body)
		return
	}

	force := r.URL.Query().Get("refresh") == "true"
	setups, err := s.detector.DetectActiveSetups(ctx, detect.Options{ForceRefresh: force})
	if err != nil {
		s.writeError(w, nethttp.StatusServiceUnavailable, "detection_failed", err)
		return
	}
	resp := SetupsResponse{Setups: setups, Generated: s.clock()}
	body, err := json.Marshal(resp)
	if err != nil {
		s.writeError(w, nethttp.StatusInternalServerError, "encode_failed", err)
		return
	}
	s.storeSetups(ctx, body)
	writeRawJSON(w, body)
}

func (s *Server) cachedSetups(ctx context.Context) ([]byte, bool) {
	if s.cache == nil {
		return nil, false
	}
	body, err := s.cache.Get(ctx, setupsCacheKey).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.log.Debug().Err(err).Msg("setups cache read failed")
		}
		return nil, false
	}
	return body, true
}

func (s *Server) storeSetups(ctx context.Context, body []byte) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, setupsCacheKey, body, setupsCacheTTL).Err(); err != nil {
		s.log.Debug().Err(err).Msg("setups cache write failed")
	}
}

func (s *Server) handleSetupByID(w nethttp.ResponseWriter, r *nethttp.Request) {
	id := mux.Vars(r)["id"]
	setup, err := s.detector.SetupByID(r.Context(), id)
	if err != nil {
		s.writeError(w, nethttp.StatusServiceUnavailable, "detection_failed", err)
		return
	}
	if setup == nil {
		s.writeError(w, nethttp.StatusNotFound, "setup_not_found", errors.New(id))
		return
	}
	s.writeJSON(w, setup)
}

func (s *Server) handleStreamSnapshot(w nethttp.ResponseWriter, r *nethttp.Request) {
	snapshot, err := s.detector.TradeStreamSnapshot(r.Context())
	if err != nil {
		s.writeError(w, nethttp.StatusServiceUnavailable, "stream_failed", err)
		return
	}
	s.writeJSON(w, snapshot)
}

func (s *Server) handleCalibrationStatus(w nethttp.ResponseWriter, r *nethttp.Request) {
	if s.calibration == nil {
		s.writeJSON(w, []calibration.Status{})
		return
	}
	s.writeJSON(w, s.calibration.Statuses())
}

// HealthResponse is the /health payload.
type HealthResponse struct {
	Status      string               `json:"status"`
	Timestamp   time.Time            `json:"timestamp"`
	SessionDate string               `json:"session_date"`
	Calibration []calibration.Status `json:"calibration"`
}

func (s *Server) handleHealth(w nethttp.ResponseWriter, r *nethttp.Request) {
	now := s.clock()
	resp := HealthResponse{
		Status:      "ok",
		Timestamp:   now,
		SessionDate: domain.SessionDate(now),
	}
	if s.calibration != nil {
		resp.Calibration = s.calibration.Statuses()
	}
	s.writeJSON(w, resp)
}

// ErrorResponse is the API error envelope.
type ErrorResponse struct {
	Error     string    `json:"error"`
	Code      string    `json:"code"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) writeError(w nethttp.ResponseWriter, status int, code string, err error) {
	if status >= 500 {
		s.log.Error().Err(err).Str("code", code).Msg("request failed")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:     err.Error(),
		Code:      code,
		Timestamp: s.clock(),
	})
}

func (s *Server) writeJSON(w nethttp.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debug().Err(err).Msg("response encode failed")
	}
}

func writeRawJSON(w nethttp.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}
