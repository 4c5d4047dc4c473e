package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/ESJavadex/security-ha-addon/internal/logger"
	"github.com/ESJavadex/security-ha-addon/internal/models"
	"github.com/ESJavadex/security-ha-addon/internal/recorder"
)

// Tuner is the live-settings surface of the motion detector.
type Tuner interface {
	SetROI(roi models.ROI)
	SetThreshold(threshold int)
	SetCooldown(seconds float64)
}

// Server exposes the REST API and serves recording files for the web UI and
// Home Assistant.
type Server struct {
	port          int
	recordingsDir string
	stateFile     string
	settingsFile  string
	rec           *recorder.Controller
	tuner         Tuner

	httpServer *http.Server
}

func NewServer(cfg models.HTTPConfig, recordingsDir, stateFile, settingsFile string, rec *recorder.Controller, tuner Tuner) *Server {
	return &Server{
		port:          cfg.Port,
		recordingsDir: recordingsDir,
		stateFile:     stateFile,
		settingsFile:  settingsFile,
		rec:           rec,
		tuner:         tuner,
	}
}

func (s *Server) routes() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/api/state", s.handleState).Methods(http.MethodGet)
	r.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/recordings", s.handleListRecordings).Methods(http.MethodGet)

	r.HandleFunc("/api/settings", s.handleGetSettings).Methods(http.MethodGet)
	r.HandleFunc("/api/settings", s.handleUpdateSettings).Methods(http.MethodPost)
	r.HandleFunc("/api/settings/roi/{x1:[0-9]+}/{x2:[0-9]+}", s.handleQuickROIX).Methods(http.MethodPost)
	r.HandleFunc("/api/settings/roi_y/{y1:[0-9]+}/{y2:[0-9]+}", s.handleQuickROIY).Methods(http.MethodPost)
	r.HandleFunc("/api/settings/threshold/{value:[0-9]+}", s.handleQuickThreshold).Methods(http.MethodPost)

	r.HandleFunc("/api/recordings/{filename}/favorite", s.handleToggleFavorite).Methods(http.MethodPost)
	r.HandleFunc("/api/recordings/{filename}/false_positive", s.handleSetFalsePositive).Methods(http.MethodPost)
	r.HandleFunc("/api/recordings/{filename}/analyze", s.handleAnalyze).Methods(http.MethodPost)
	r.HandleFunc("/api/recordings/{filename}", s.handleDeleteRecording).Methods(http.MethodDelete)

	// Recording clips, thumbnails and screenshots are served straight from
	// the recordings directory.
	r.PathPrefix("/").Handler(http.FileServer(http.Dir(s.recordingsDir)))

	cors := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)
	return cors(handlers.LoggingHandler(os.Stdout, r))
}

// Start runs the HTTP server until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.routes(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("http api listening on port %d", s.port)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	data, err := os.ReadFile(s.stateFile)
	if err != nil {
		writeJSON(w, http.StatusOK, models.SensorState{MotionState: string(models.StateIdle)})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":       "ok",
		"is_recording": s.rec.IsRecording(),
		"recordings":   s.rec.Stats().TotalRecordings,
	})
}

func (s *Server) handleListRecordings(w http.ResponseWriter, r *http.Request) {
	recs := s.rec.Recordings()
	if recs == nil {
		recs = []models.Recording{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"recordings": recs,
		"count":      len(recs),
	})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.loadSettings())
}

// handleUpdateSettings replaces any subset of the live settings. Invalid
// input is rejected before any change is applied or persisted.
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ROIXStart       *int     `json:"roi_x_start"`
		ROIXEnd         *int     `json:"roi_x_end"`
		ROIYStart       *int     `json:"roi_y_start"`
		ROIYEnd         *int     `json:"roi_y_end"`
		MotionThreshold *int     `json:"motion_threshold"`
		Cooldown        *float64 `json:"cooldown"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	current := s.loadSettings()
	if req.ROIXStart != nil {
		current.ROIXStart = models.ClampPct(*req.ROIXStart)
	}
	if req.ROIXEnd != nil {
		current.ROIXEnd = models.ClampPct(*req.ROIXEnd)
	}
	if req.ROIYStart != nil {
		current.ROIYStart = models.ClampPct(*req.ROIYStart)
	}
	if req.ROIYEnd != nil {
		current.ROIYEnd = models.ClampPct(*req.ROIYEnd)
	}
	if req.MotionThreshold != nil {
		if *req.MotionThreshold < 0 {
			writeError(w, http.StatusBadRequest, "motion_threshold must be non-negative")
			return
		}
		current.MotionThreshold = *req.MotionThreshold
	}
	if req.Cooldown != nil {
		if *req.Cooldown < 0 {
			writeError(w, http.StatusBadRequest, "cooldown must be non-negative")
			return
		}
		current.Cooldown = *req.Cooldown
	}

	s.applySettings(w, current)
}

func (s *Server) handleQuickROIX(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	x1, _ := strconv.Atoi(vars["x1"])
	x2, _ := strconv.Atoi(vars["x2"])

	current := s.loadSettings()
	current.ROIXStart = models.ClampPct(x1)
	current.ROIXEnd = models.ClampPct(x2)
	s.applySettings(w, current)
}

func (s *Server) handleQuickROIY(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	y1, _ := strconv.Atoi(vars["y1"])
	y2, _ := strconv.Atoi(vars["y2"])

	current := s.loadSettings()
	current.ROIYStart = models.ClampPct(y1)
	current.ROIYEnd = models.ClampPct(y2)
	s.applySettings(w, current)
}

func (s *Server) handleQuickThreshold(w http.ResponseWriter, r *http.Request) {
	value, _ := strconv.Atoi(mux.Vars(r)["value"])

	current := s.loadSettings()
	current.MotionThreshold = value
	s.applySettings(w, current)
}

// applySettings persists the settings file and pushes the values into the
// running detector so the change takes effect on the next sample.
func (s *Server) applySettings(w http.ResponseWriter, settings models.Settings) {
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to encode settings")
		return
	}
	if err := os.WriteFile(s.settingsFile, data, 0o644); err != nil {
		logger.Errorf("failed to write settings file: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to persist settings")
		return
	}

	s.tuner.SetROI(models.ROI{
		XStart: settings.ROIXStart,
		XEnd:   settings.ROIXEnd,
		YStart: settings.ROIYStart,
		YEnd:   settings.ROIYEnd,
	})
	s.tuner.SetThreshold(settings.MotionThreshold)
	s.tuner.SetCooldown(settings.Cooldown)

	logger.Infof("settings updated: roi_x=%d-%d roi_y=%d-%d threshold=%d cooldown=%.1fs",
		settings.ROIXStart, settings.ROIXEnd, settings.ROIYStart, settings.ROIYEnd,
		settings.MotionThreshold, settings.Cooldown)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"settings": settings,
	})
}

// loadSettings reads the settings file, falling back to defaults for missing
// or unreadable content.
func (s *Server) loadSettings() models.Settings {
	settings := models.Settings{
		ROIXStart:       33,
		ROIXEnd:         66,
		ROIYStart:       5,
		ROIYEnd:         95,
		MotionThreshold: 5000,
		Cooldown:        2.0,
	}
	data, err := os.ReadFile(s.settingsFile)
	if err != nil {
		return settings
	}
	if err := json.Unmarshal(data, &settings); err != nil {
		logger.Warnf("ignoring malformed settings file: %v", err)
	}
	return settings
}

func (s *Server) handleToggleFavorite(w http.ResponseWriter, r *http.Request) {
	filename := mux.Vars(r)["filename"]
	favorite, err := s.rec.ToggleFavorite(filename)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"filename": filename,
		"favorite": favorite,
	})
}

func (s *Server) handleSetFalsePositive(w http.ResponseWriter, r *http.Request) {
	filename := mux.Vars(r)["filename"]

	var req struct {
		IsFalsePositive bool `json:"is_false_positive"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := s.rec.SetFalsePositive(filename, req.IsFalsePositive); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"filename":          filename,
		"is_false_positive": req.IsFalsePositive,
	})
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	filename := mux.Vars(r)["filename"]
	if err := s.rec.AnalyzeOnDemand(filename); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"filename": filename,
		"status":   "analysis started",
	})
}

func (s *Server) handleDeleteRecording(w http.ResponseWriter, r *http.Request) {
	filename := mux.Vars(r)["filename"]
	if err := s.rec.DeleteRecording(filename); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"filename": filename,
		"status":   "deleted",
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Errorf("failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
