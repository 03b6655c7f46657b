package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/markus-lassfolk/trackhub/pkg"
	"github.com/markus-lassfolk/trackhub/pkg/hub"
	"github.com/markus-lassfolk/trackhub/pkg/location"
	"github.com/markus-lassfolk/trackhub/pkg/logx"
	"github.com/markus-lassfolk/trackhub/pkg/store"
	"github.com/markus-lassfolk/trackhub/pkg/telem"
)

// HubController is the part of the hub the API drives
type HubController interface {
	Stats() hub.Stats
	LoadTrack(trackID int64)
	UnloadCurrentTrack()
	ForceUpdateLocation()
}

// TrackCatalog lists stored tracks
type TrackCatalog interface {
	ListTracks(ctx context.Context) ([]pkg.Track, error)
	GetTrack(ctx context.Context, id int64) (*pkg.Track, error)
	GetStatistics(ctx context.Context) (map[string]interface{}, error)
}

// RecordingControl starts and stops track recording
type RecordingControl interface {
	StartRecording(ctx context.Context, name string) (int64, error)
	StopRecording(ctx context.Context) error
	RecordingTrackID() int64
}

// LocationInput accepts pushed fixes
type LocationInput interface {
	PushLocation(loc pkg.Location)
}

// EventLog returns journaled hub events
type EventLog interface {
	Events(since time.Time, limit int) []*telem.Entry
}

// ServerConfig holds API server configuration
type ServerConfig struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port"`
	Host    string `json:"host"`
	AuthKey string `json:"auth_key"` // optional
}

// DefaultServerConfig returns the default API configuration
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Enabled: false, // disabled by default for security
		Port:    8082,
		Host:    "localhost",
	}
}

// Server exposes hub control and state over HTTP
type Server struct {
	hub      HubController
	tracks   TrackCatalog
	recorder RecordingControl
	input    LocationInput
	events   EventLog
	config   *ServerConfig
	logger   *logx.Logger

	startTime time.Time
	server    *http.Server
	now       func() time.Time
}

// Deps groups the collaborators of the API server
type Deps struct {
	Hub      HubController
	Tracks   TrackCatalog
	Recorder RecordingControl
	Input    LocationInput
	Events   EventLog
}

// NewServer creates an API server
func NewServer(deps Deps, config *ServerConfig, logger *logx.Logger) *Server {
	if config == nil {
		config = DefaultServerConfig()
	}
	return &Server{
		hub:       deps.Hub,
		tracks:    deps.Tracks,
		recorder:  deps.Recorder,
		input:     deps.Input,
		events:    deps.Events,
		config:    config,
		logger:    logger,
		startTime: time.Now(),
		now:       time.Now,
	}
}

// authMiddleware handles optional authentication for API endpoints
func (s *Server) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// If no auth key is configured, allow anonymous access
		if s.config.AuthKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		authKey := r.URL.Query().Get("auth")
		if authKey == "" {
			authKey = r.Header.Get("X-API-Key")
		}

		if authKey != s.config.AuthKey {
			s.logger.Warn("Invalid authentication attempt", "remote_addr", r.RemoteAddr)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	}
}

// guard turns hub precondition panics into 503 responses; the hub panics
// when it is used after shutdown.
func (s *Server) guard(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				var perr *hub.PreconditionError
				if err, ok := rec.(error); ok && errors.As(err, &perr) {
					s.sendErrorResponse(w, http.StatusServiceUnavailable, "Hub not available", perr)
					return
				}
				panic(rec)
			}
		}()
		next(w, r)
	}
}

// Handler returns the API routes
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	handle := func(pattern string, h http.HandlerFunc) {
		mux.HandleFunc(pattern, s.authMiddleware(s.guard(h)))
	}

	handle("GET /api/status", s.handleStatus)
	handle("GET /api/tracks", s.handleTracks)
	handle("POST /api/tracks/{id}/select", s.handleSelectTrack)
	handle("POST /api/tracks/unload", s.handleUnloadTrack)
	handle("POST /api/recording/start", s.handleStartRecording)
	handle("POST /api/recording/stop", s.handleStopRecording)
	handle("POST /api/location", s.handlePushLocation)
	handle("POST /api/location/refresh", s.handleRefreshLocation)
	handle("GET /api/events", s.handleEvents)
	mux.HandleFunc("GET /api/health", s.handleHealth)

	return mux
}

// Start listens on the configured address and serves in the background
func (s *Server) Start() error {
	if !s.config.Enabled {
		s.logger.Info("trackhub API server is disabled")
		return nil
	}

	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting trackhub API server", "address", addr)

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("trackhub API server failed", "error", err)
		}
	}()
	return nil
}

// Stop gracefully shuts down the API server
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	err := s.server.Shutdown(ctx)
	s.logger.Info("trackhub API server stopped")
	return err
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"hub":                s.hub.Stats(),
		"recording_track_id": s.recorder.RecordingTrackID(),
		"uptime":             s.now().Sub(s.startTime).Round(time.Second).String(),
		"timestamp":          s.now().UTC().Format(time.RFC3339),
	}
	if storage, err := s.tracks.GetStatistics(r.Context()); err != nil {
		s.logger.Warn("Failed to read storage statistics", "error", err)
	} else {
		response["storage"] = storage
	}
	s.sendJSONResponse(w, http.StatusOK, response)
}

func (s *Server) handleTracks(w http.ResponseWriter, r *http.Request) {
	tracks, err := s.tracks.ListTracks(r.Context())
	if err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError, "Failed to list tracks", err)
		return
	}
	s.sendJSONResponse(w, http.StatusOK, map[string]interface{}{
		"tracks":      tracks,
		"count":       len(tracks),
		"selected_id": s.hub.Stats().SelectedTrackID,
	})
}

func (s *Server) handleSelectTrack(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id < 0 {
		s.sendErrorResponse(w, http.StatusBadRequest, "Invalid track id", err)
		return
	}
	if _, err := s.tracks.GetTrack(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrTrackNotFound) {
			s.sendErrorResponse(w, http.StatusNotFound, "Track not found", nil)
			return
		}
		s.sendErrorResponse(w, http.StatusInternalServerError, "Failed to read track", err)
		return
	}

	s.hub.LoadTrack(id)
	s.logger.Info("track selected via API", "track_id", id)
	s.sendJSONResponse(w, http.StatusOK, map[string]interface{}{"success": true, "selected_id": id})
}

func (s *Server) handleUnloadTrack(w http.ResponseWriter, r *http.Request) {
	s.hub.UnloadCurrentTrack()
	s.sendJSONResponse(w, http.StatusOK, map[string]interface{}{"success": true, "selected_id": -1})
}

func (s *Server) handleStartRecording(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name   string `json:"name"`
		Select *bool  `json:"select"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.sendErrorResponse(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}

	trackID, err := s.recorder.StartRecording(r.Context(), req.Name)
	if err != nil {
		if errors.Is(err, location.ErrAlreadyRecording) {
			s.sendErrorResponse(w, http.StatusConflict, "Already recording", err)
			return
		}
		s.sendErrorResponse(w, http.StatusInternalServerError, "Failed to start recording", err)
		return
	}

	if req.Select == nil || *req.Select {
		s.hub.LoadTrack(trackID)
	}
	s.sendJSONResponse(w, http.StatusCreated, map[string]interface{}{"success": true, "track_id": trackID})
}

func (s *Server) handleStopRecording(w http.ResponseWriter, r *http.Request) {
	if err := s.recorder.StopRecording(r.Context()); err != nil {
		if errors.Is(err, location.ErrNotRecording) {
			s.sendErrorResponse(w, http.StatusConflict, "Not recording", err)
			return
		}
		s.sendErrorResponse(w, http.StatusInternalServerError, "Failed to stop recording", err)
		return
	}
	s.sendJSONResponse(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (s *Server) handlePushLocation(w http.ResponseWriter, r *http.Request) {
	var loc pkg.Location
	if err := json.NewDecoder(r.Body).Decode(&loc); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if loc.Provider == "" {
		loc.Provider = pkg.ProviderGPS
	}
	if loc.Provider != pkg.ProviderGPS && loc.Provider != pkg.ProviderNetwork {
		s.sendErrorResponse(w, http.StatusBadRequest, "Unknown provider", nil)
		return
	}
	if !loc.IsValid() {
		s.sendErrorResponse(w, http.StatusBadRequest, "Coordinates out of range", nil)
		return
	}
	if loc.Time.IsZero() {
		loc.Time = s.now()
	}

	s.input.PushLocation(loc)
	s.sendJSONResponse(w, http.StatusAccepted, map[string]interface{}{"success": true})
}

func (s *Server) handleRefreshLocation(w http.ResponseWriter, r *http.Request) {
	s.hub.ForceUpdateLocation()
	s.sendJSONResponse(w, http.StatusAccepted, map[string]interface{}{"success": true})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		l, err := strconv.Atoi(v)
		if err != nil || l < 0 {
			s.sendErrorResponse(w, http.StatusBadRequest, "Invalid limit parameter", err)
			return
		}
		limit = l
	}

	var since time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.sendErrorResponse(w, http.StatusBadRequest, "Invalid since parameter", err)
			return
		}
		since = t
	}

	events := s.events.Events(since, limit)
	s.sendJSONResponse(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSONResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": s.now().UTC().Format(time.RFC3339),
		"service":   "trackhub-api",
	})
}

func (s *Server) sendJSONResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode JSON response", "error", err)
	}
}

// sendErrorResponse sends an error response
func (s *Server) sendErrorResponse(w http.ResponseWriter, statusCode int, message string, err error) {
	response := map[string]interface{}{
		"success": false,
		"error":   message,
	}
	if err != nil {
		response["details"] = err.Error()
	}
	s.sendJSONResponse(w, statusCode, response)
}
