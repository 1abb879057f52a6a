package main

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"

	"smsrelay/internal/metrics"
	"smsrelay/internal/tracing"
)

// handleMetrics returns current application metrics. ?format=prometheus
// switches to the text exposition format.
func (s *Server) handleMetrics() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestInfo := tracing.GetRequestInfo(r.Context())
		fields := logrus.Fields{
			"request_id": requestInfo.RequestID,
			"trace_id":   requestInfo.TraceID,
			"endpoint":   "/metrics",
		}

		s.logger.WithFields(fields).Debug("Serving metrics endpoint")

		snapshot := metrics.GetAllMetrics()

		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Expires", "0")

		if r.URL.Query().Get("format") == "prometheus" {
			w.Header().Set("Content-Type", "text/plain; version=0.0.4")
			if err := snapshot.WriteText(w); err != nil {
				s.logger.WithFields(fields).WithError(err).Error("Failed to write metrics")
			}
			return
		}

		w.Header().Set("Content-Type", "application/json")
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")

		if err := encoder.Encode(snapshot); err != nil {
			s.logger.WithFields(fields).WithError(err).Error("Failed to encode metrics response")
			http.Error(w, "Internal server error", http.StatusInternalServerError)
		}
	}
}
