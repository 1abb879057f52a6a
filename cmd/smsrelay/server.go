package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"smsrelay/internal/constants"
	apperrors "smsrelay/internal/errors"
	"smsrelay/internal/middleware"
	"smsrelay/internal/models"
	"smsrelay/internal/service"
	"smsrelay/internal/settings"
	"smsrelay/internal/tracing"
)

// ReceptionEngine is the part of the engine the HTTP surface drives.
type ReceptionEngine interface {
	HandleReception(ctx context.Context, fragments []models.Fragment, receivedAt time.Time) (service.Outcome, error)
	TestDelivery(ctx context.Context) ([]models.DeliveryResult, error)
	Stats(ctx context.Context) (map[models.WorkStatus]int, error)
}

// AuditLog is the read side of the audit trail.
type AuditLog interface {
	GetAll() []models.LogEntry
	Summary() models.LogSummary
	Clear(ctx context.Context) error
}

// SettingsStore exposes the forwarding settings to the UI.
type SettingsStore interface {
	Snapshot() *settings.Snapshot
	Update(ctx context.Context, s settings.Settings) (*settings.Snapshot, error)
}

type Server struct {
	router   *mux.Router
	logger   *logrus.Logger
	cfg      models.ServerConfig
	engine   ReceptionEngine
	audit    AuditLog
	settings SettingsStore
	stream   http.Handler
	server   *http.Server
}

func NewServer(cfg models.ServerConfig, engine ReceptionEngine, auditLog AuditLog, store SettingsStore, stream http.Handler, logger *logrus.Logger) *Server {
	if cfg.Address == "" {
		cfg.Address = constants.DefaultServerAddress
	}
	s := &Server{
		router:   mux.NewRouter(),
		logger:   logger,
		cfg:      cfg,
		engine:   engine,
		audit:    auditLog,
		settings: store,
		stream:   stream,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.ObservabilityMiddleware(s.logger))
	s.router.Use(middleware.DetailedLoggingMiddleware(s.logger, middleware.DefaultDetailedLoggingConfig()))

	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.handleMetrics()).Methods(http.MethodGet)

	v1 := s.router.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/receptions", s.handleReception()).Methods(http.MethodPost)

	v1.HandleFunc("/logs", s.handleListLogs()).Methods(http.MethodGet)
	v1.HandleFunc("/logs", s.handleClearLogs()).Methods(http.MethodDelete)
	v1.HandleFunc("/logs/summary", s.handleLogSummary()).Methods(http.MethodGet)
	if s.stream != nil {
		v1.Handle("/logs/stream", s.stream).Methods(http.MethodGet)
	}

	v1.HandleFunc("/queue/stats", s.handleQueueStats()).Methods(http.MethodGet)

	v1.HandleFunc("/settings", s.handleGetSettings()).Methods(http.MethodGet)
	v1.HandleFunc("/settings", s.handlePutSettings()).Methods(http.MethodPut)

	v1.HandleFunc("/test-delivery", s.handleTestDelivery()).Methods(http.MethodPost)
}

// Start listens until Shutdown. baseCtx becomes the parent of every request
// context so long-lived streams end with the daemon.
func (s *Server) Start(baseCtx context.Context) error {
	s.server = &http.Server{
		Addr:         s.cfg.Address,
		Handler:      s.router,
		ReadTimeout:  time.Duration(constants.DefaultServerReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(constants.DefaultServerWriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(constants.DefaultServerIdleTimeoutSec) * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return baseCtx
		},
	}

	s.logger.WithField("address", s.cfg.Address).Info("Starting admin server")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}
}

type receptionRequest struct {
	ReceivedAt *time.Time        `json:"receivedAt,omitempty"`
	Fragments  []models.Fragment `json:"fragments"`
}

func (s *Server) handleReception() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req receptionRequest
		if err := decodeBody(w, r, constants.MaxReceptionBodyBytes, &req); err != nil {
			s.writeError(w, r, err)
			return
		}

		var receivedAt time.Time
		if req.ReceivedAt != nil {
			receivedAt = *req.ReceivedAt
		}

		outcome, err := s.engine.HandleReception(r.Context(), req.Fragments, receivedAt)
		if err != nil {
			if errors.Is(err, service.ErrEngineStopped) {
				s.writeError(w, r, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "forwarding engine is stopped"))
				return
			}
			s.writeError(w, r, apperrors.Wrap(err, apperrors.ErrCodeDatabaseQuery, "failed to queue message"))
			return
		}

		s.writeJSON(w, r, http.StatusAccepted, outcome)
	}
}

func (s *Server) handleListLogs() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()

		level := models.LogLevel(strings.ToUpper(query.Get("level")))
		category := models.LogCategory(strings.ToUpper(query.Get("category")))

		var since time.Time
		if raw := query.Get("since"); raw != "" {
			t, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				s.writeError(w, r, apperrors.NewInvalidInputError("since", "since must be an RFC3339 timestamp"))
				return
			}
			since = t
		}

		limit := 0
		if raw := query.Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				s.writeError(w, r, apperrors.NewInvalidInputError("limit", "limit must be a non-negative integer"))
				return
			}
			limit = n
		}

		entries := make([]models.LogEntry, 0)
		for _, entry := range s.audit.GetAll() {
			if level != "" && entry.Level != level {
				continue
			}
			if category != "" && entry.Category != category {
				continue
			}
			if !since.IsZero() && entry.Timestamp.Before(since) {
				continue
			}
			entries = append(entries, entry)
		}
		// newest last, so a limit keeps the tail
		if limit > 0 && len(entries) > limit {
			entries = entries[len(entries)-limit:]
		}

		s.writeJSON(w, r, http.StatusOK, map[string]interface{}{
			"entries": entries,
			"count":   len(entries),
		})
	}
}

func (s *Server) handleLogSummary() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, r, http.StatusOK, s.audit.Summary())
	}
}

func (s *Server) handleClearLogs() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.audit.Clear(r.Context()); err != nil {
			s.writeError(w, r, apperrors.NewDatabaseError("clear audit log", err))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleQueueStats() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := s.engine.Stats(r.Context())
		if err != nil {
			s.writeError(w, r, apperrors.NewDatabaseError("count work items", err))
			return
		}
		counts := map[string]int{
			string(models.WorkStatusPending):         0,
			string(models.WorkStatusDelivered):       0,
			string(models.WorkStatusFailedPermanent): 0,
		}
		for status, n := range stats {
			counts[string(status)] = n
		}
		s.writeJSON(w, r, http.StatusOK, counts)
	}
}

type settingsResponse struct {
	Settings settings.Settings `json:"settings"`
	LoadedAt time.Time         `json:"loadedAt"`
	Warnings []string          `json:"warnings,omitempty"`
}

func (s *Server) handleGetSettings() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := s.settings.Snapshot()
		s.writeJSON(w, r, http.StatusOK, settingsResponse{
			Settings: snap.Settings.Redacted(),
			LoadedAt: snap.LoadedAt,
		})
	}
}

func (s *Server) handlePutSettings() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, constants.MaxSettingsBodyBytes))
		if err != nil {
			s.writeError(w, r, apperrors.NewInvalidInputError("body", "request body is too large or unreadable"))
			return
		}

		incoming, warnings, err := settings.Migrate(raw)
		if err != nil {
			s.writeError(w, r, apperrors.NewInvalidInputError("body", fmt.Sprintf("settings must be a JSON object: %v", err)))
			return
		}

		snap, err := s.settings.Update(r.Context(), incoming)
		if err != nil {
			s.writeError(w, r, apperrors.Wrap(err, apperrors.ErrCodeInternalError, "failed to save settings"))
			return
		}

		s.writeJSON(w, r, http.StatusOK, settingsResponse{
			Settings: snap.Settings.Redacted(),
			LoadedAt: snap.LoadedAt,
			Warnings: warnings,
		})
	}
}

type deliveryResultView struct {
	EndpointID   string                 `json:"endpointId"`
	EndpointName string                 `json:"endpointName"`
	Outcome      models.DeliveryOutcome `json:"outcome"`
	StatusCode   int                    `json:"statusCode,omitempty"`
	Error        string                 `json:"error,omitempty"`
	DurationMs   int64                  `json:"durationMs"`
}

func (s *Server) handleTestDelivery() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		results, err := s.engine.TestDelivery(r.Context())
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		views := make([]deliveryResultView, 0, len(results))
		for _, res := range results {
			view := deliveryResultView{
				EndpointID:   res.EndpointID,
				EndpointName: res.EndpointName,
				Outcome:      res.Outcome,
				StatusCode:   res.StatusCode,
				DurationMs:   res.Duration.Milliseconds(),
			}
			if res.Err != nil {
				view.Error = res.Err.Error()
			}
			views = append(views, view)
		}
		s.writeJSON(w, r, http.StatusOK, map[string]interface{}{"results": views})
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, limit int64, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit))
	if err := dec.Decode(dst); err != nil {
		return apperrors.NewInvalidInputError("body", fmt.Sprintf("invalid JSON body: %v", err))
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.WithFields(logrus.Fields{
			service.LogFieldRequestID: tracing.GetRequestID(r.Context()),
			"error":                   err,
		}).Error("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	if status >= http.StatusInternalServerError {
		apperrors.LogError(s.logger, err, "Admin request failed", logrus.Fields{
			service.LogFieldRequestID: tracing.GetRequestID(r.Context()),
		})
	}
	s.writeJSON(w, r, status, apperrors.ToHTTPResponse(err, tracing.GetRequestID(r.Context())))
}
