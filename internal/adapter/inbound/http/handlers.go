package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/bastion-core/bastion/internal/domain/event"
)

// maxEventLimit caps the number of events one request can fetch.
const maxEventLimit = 1000

// healthHandler serves the posture report as JSON. Degraded posture
// returns 503 so load balancers notice.
func (s *Server) healthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		report, err := s.framework.Health(r.Context())
		if err != nil {
			s.logger.Error("health report failed", "error", err)
			http.Error(w, "health check failed", http.StatusInternalServerError)
			return
		}

		status := http.StatusOK
		if report.Status != "healthy" {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, report)
	})
}

// eventsHandler serves recent security events, newest first. Query
// params: limit, category, severity, identity, source, since (RFC 3339).
func (s *Server) eventsHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		q := r.URL.Query()
		limit := 100
		if raw := q.Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			limit = min(n, maxEventLimit)
		}

		filter := event.Filter{
			Category:   event.Category(q.Get("category")),
			Severity:   event.Severity(q.Get("severity")),
			IdentityID: q.Get("identity"),
			Source:     q.Get("source"),
		}
		if raw := q.Get("since"); raw != "" {
			since, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				http.Error(w, "invalid since timestamp", http.StatusBadRequest)
				return
			}
			filter.Since = since
		}

		events := s.framework.GetSecurityEvents(limit, filter)
		writeJSON(w, http.StatusOK, map[string]any{
			"events": events,
			"count":  len(events),
		})
	})
}

// auditsHandler lists audit runs, newest first.
func (s *Server) auditsHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		runs, err := s.framework.Audit.List(r.Context())
		if err != nil {
			s.logger.Error("audit listing failed", "error", err)
			http.Error(w, "audit listing failed", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"audits": runs,
			"count":  len(runs),
		})
	})
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
