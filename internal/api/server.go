// Package api exposes the read-only dashboard queries and the restricted
// admin operations over HTTP. It only reads pipeline state; the ingestion
// path never goes through this server.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"silicamon/internal/evaluator"
	"silicamon/internal/logger"
	"silicamon/internal/models"
	"silicamon/internal/notify"
	"silicamon/internal/predictor"
	"silicamon/internal/settings"
	"silicamon/internal/store"
)

// Status values reported to dashboard callers.
const (
	StatusNoData      = "NO_DATA"
	StatusCloudDataOK = "CLOUD_DATA_OK"
	StatusError       = "ERROR"
)

const defaultReadingLimit = 100

// Server serves the dashboard/admin API.
type Server struct {
	httpServer *http.Server

	store      *store.Store
	settings   *settings.Store
	predictor  *predictor.Predictor
	evaluator  *evaluator.Evaluator
	notifier   *notify.Notifier
	adminToken string
}

// Config wires the server to pipeline state.
type Config struct {
	Addr       string
	AdminToken string
	Store      *store.Store
	Settings   *settings.Store
	Predictor  *predictor.Predictor
	Evaluator  *evaluator.Evaluator
	Notifier   *notify.Notifier
}

// NewServer builds the HTTP server with routes and CORS.
func NewServer(cfg Config) *Server {
	s := &Server{
		store:      cfg.Store,
		settings:   cfg.Settings,
		predictor:  cfg.Predictor,
		evaluator:  cfg.Evaluator,
		notifier:   cfg.Notifier,
		adminToken: cfg.AdminToken,
	}

	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler())

	apiRouter := r.PathPrefix("/api").Subrouter()
	apiRouter.HandleFunc("/readings", s.handleReadings).Methods(http.MethodGet)
	apiRouter.HandleFunc("/settings/current", s.handleCurrentSettings).Methods(http.MethodGet)
	apiRouter.HandleFunc("/settings/threshold", s.handleGetThreshold).Methods(http.MethodGet)
	apiRouter.HandleFunc("/settings/threshold", s.handleSetThreshold).Methods(http.MethodPost)
	apiRouter.HandleFunc("/settings/email", s.handleSetEmail).Methods(http.MethodPost)
	apiRouter.HandleFunc("/settings/statistics", s.handleStatistics).Methods(http.MethodGet)
	apiRouter.HandleFunc("/settings/threshold-preview", s.handleThresholdPreview).Methods(http.MethodGet)
	apiRouter.HandleFunc("/settings/test-email", s.handleTestEmail).Methods(http.MethodPost)
	apiRouter.HandleFunc("/model/info", s.handleModelInfo).Methods(http.MethodGet)
	apiRouter.HandleFunc("/forecast", s.handleForecast).Methods(http.MethodGet)
	apiRouter.HandleFunc("/alerts/recent", s.handleRecentAlerts).Methods(http.MethodGet)
	apiRouter.HandleFunc("/notifications/stats", s.handleNotificationStats).Methods(http.MethodGet)

	admin := apiRouter.PathPrefix("/admin").Subrouter()
	admin.Use(s.adminOnly)
	admin.HandleFunc("/clear-data", s.handleClearData).Methods(http.MethodPost)
	admin.HandleFunc("/retrain-model", s.handleRetrain).Methods(http.MethodPost)

	handler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type", "X-Admin-Token"},
	}).Handler(r)

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// ListenAndServe runs the server until Shutdown.
func (s *Server) ListenAndServe() error {
	log := logger.WithComponent("api")
	log.Info().Str("addr", s.httpServer.Addr).Msg("api server starting")
	return s.httpServer.ListenAndServe()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) adminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.adminToken == "" || r.Header.Get("X-Admin-Token") != s.adminToken {
			s.writeError(w, http.StatusForbidden, "admin access denied")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"degraded":  s.store.Degraded(),
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

type readingDoc struct {
	RowIndex   int64              `json:"row_index"`
	Timestamp  time.Time          `json:"timestamp"`
	SensorData map[string]float64 `json:"sensor_data"`
	CreatedAt  time.Time          `json:"created_at"`
}

func (s *Server) handleReadings(w http.ResponseWriter, r *http.Request) {
	limit := defaultReadingLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	readings := s.store.Recent(limit)
	docs := make([]readingDoc, len(readings))
	for i, rd := range readings {
		docs[i] = readingDoc{
			RowIndex:   rd.Sequence,
			Timestamp:  rd.ObservedAt,
			SensorData: rd.FeatureSnapshot(),
			CreatedAt:  rd.ReceivedAt,
		}
	}

	resp := map[string]interface{}{
		"status":   s.dataStatus(len(docs)),
		"readings": docs,
		"count":    len(docs),
	}
	if s.store.Degraded() {
		resp["degraded"] = true
		resp["warning"] = "durable store unavailable, serving in-memory window only"
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCurrentSettings(w http.ResponseWriter, r *http.Request) {
	snap := s.settings.Snapshot()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"threshold":   snap.Threshold,
		"email":       snap.Email,
		"last_update": snap.LastUpdated,
	})
}

func (s *Server) handleGetThreshold(w http.ResponseWriter, r *http.Request) {
	tc := s.settings.ThresholdConfig()
	resp := map[string]interface{}{
		"threshold": tc.Threshold,
	}
	if !tc.LastUpdated.IsZero() {
		resp["last_updated"] = tc.LastUpdated
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSetThreshold(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Threshold float64 `json:"threshold"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := s.settings.SetThreshold(req.Threshold); err != nil {
		var oor *settings.OutOfRangeError
		if errors.As(err, &oor) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"threshold": req.Threshold,
	})
}

func (s *Server) handleSetEmail(w http.ResponseWriter, r *http.Request) {
	var cfg settings.NotificationConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := s.settings.SetNotificationConfig(cfg); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":      true,
		"email_config": s.settings.NotificationConfig(),
	})
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	threshold := s.settings.Threshold()
	ws := s.store.Stats(threshold)
	evalStats := s.evaluator.Stats()

	resp := map[string]interface{}{
		"status":            s.dataStatus(ws.Count),
		"current_threshold": threshold,
		"total_samples":     ws.Count,
		"avg_silica":        round2(ws.Mean),
		"std_silica":        round2(ws.Std),
		"min_silica":        round2(ws.Min),
		"max_silica":        round2(ws.Max),
		"above_threshold":   ws.AboveThreshold,
		"alert_percentage":  round1(ws.Percentage),
		"evaluations":       evalStats,
	}
	if s.store.Degraded() {
		resp["degraded"] = true
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleThresholdPreview(w http.ResponseWriter, r *http.Request) {
	threshold, err := strconv.ParseFloat(r.URL.Query().Get("threshold"), 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "threshold query parameter required")
		return
	}
	if threshold < settings.ThresholdMin || threshold > settings.ThresholdMax {
		s.writeError(w, http.StatusBadRequest, (&settings.OutOfRangeError{Value: threshold}).Error())
		return
	}

	ws := s.store.Stats(threshold)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":          true,
		"threshold":        threshold,
		"affected_samples": ws.AboveThreshold,
		"total_samples":    ws.Count,
		"percentage":       round1(ws.Percentage),
	})
}

func (s *Server) handleModelInfo(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.predictor.ModelInfo())
}

func (s *Server) handleForecast(w http.ResponseWriter, r *http.Request) {
	steps := 1
	if v := r.URL.Query().Get("steps"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 24 {
			s.writeError(w, http.StatusBadRequest, "steps must be between 1 and 24")
			return
		}
		steps = n
	}

	latest := s.store.Latest()
	if latest == nil {
		s.writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":    StatusNoData,
			"forecasts": []models.PredictionResult{},
		})
		return
	}

	results, status := s.forecast(latest, steps)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    status,
		"forecasts": results,
	})
}

// forecast projects the latest reading forward. With a ready model every
// step reuses the model prediction with confidence decaying over the
// horizon. Without one, a window-mean heuristic is returned, clearly
// labeled so it is never mistaken for model output.
func (s *Server) forecast(latest *models.SensorReading, steps int) ([]models.PredictionResult, string) {
	results := make([]models.PredictionResult, 0, steps)

	if predicted, err := s.predictor.Predict(latest.Features); err == nil {
		info := s.predictor.ModelInfo()
		baseConfidence := 0.0
		if info.Metrics != nil && info.Metrics.R2 > 0 {
			baseConfidence = info.Metrics.R2
		}
		for h := 1; h <= steps; h++ {
			results = append(results, models.PredictionResult{
				Sequence:       latest.Sequence,
				PredictedValue: predicted,
				Confidence:     baseConfidence / float64(1+h),
				Source:         models.SourceModel,
			})
		}
		return results, StatusCloudDataOK
	}

	mean := s.store.Stats(settings.ThresholdMax).Mean
	for h := 1; h <= steps; h++ {
		results = append(results, models.PredictionResult{
			Sequence:       latest.Sequence,
			PredictedValue: mean,
			Source:         models.SourceHeuristic,
		})
	}
	return results, StatusCloudDataOK
}

func (s *Server) handleRecentAlerts(w http.ResponseWriter, r *http.Request) {
	alerts := s.evaluator.RecentAlerts()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": s.dataStatus(len(alerts)),
		"alerts": alerts,
		"count":  len(alerts),
	})
}

func (s *Server) handleNotificationStats(w http.ResponseWriter, r *http.Request) {
	if s.notifier == nil {
		s.writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":  StatusNoData,
			"warning": "notification service not configured",
		})
		return
	}
	s.writeJSON(w, http.StatusOK, s.notifier.Stats())
}

func (s *Server) handleTestEmail(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Recipients []string `json:"recipients"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.Recipients) == 0 {
		s.writeError(w, http.StatusBadRequest, "no recipients specified")
		return
	}
	if s.notifier == nil {
		s.writeError(w, http.StatusServiceUnavailable, "notification service not configured")
		return
	}

	sent := s.notifier.SendTest(r.Context(), req.Recipients)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":          sent > 0,
		"sent_count":       sent,
		"total_recipients": len(req.Recipients),
	})
}

func (s *Server) handleClearData(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Purge(r.Context()); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "all reading data purged",
	})
}

func (s *Server) handleRetrain(w http.ResponseWriter, r *http.Request) {
	if err := s.predictor.Retrain(); err != nil {
		s.writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"success": false,
			"status":  StatusError,
			"error":   err.Error(),
		})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"model_info": s.predictor.ModelInfo(),
	})
}

func (s *Server) dataStatus(count int) string {
	if count == 0 {
		return StatusNoData
	}
	return StatusCloudDataOK
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log := logger.WithComponent("api")
		log.Error().Err(err).Msg("response encode failed")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
func round2(v float64) float64 { return math.Round(v*100) / 100 }
