package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/petnestiq/habitat-gateway/internal/audit"
)

const auditWriteTimeout = 5 * time.Second

// audited records the outcome of an operate route once the handler has
// answered. Recording failures are logged and never change the response.
func (s *Server) audited(action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s.deps.Audit == nil {
				next.ServeHTTP(w, r)
				return
			}
			ww := wrapStatus(w, r)
			next.ServeHTTP(ww, r)
			status := statusOf(ww)

			entry := &audit.Entry{
				Action:  action,
				Outcome: audit.OutcomeSuccess,
				Status:  status,
				Details: map[string]any{"method": r.Method, "path": r.URL.Path},
			}
			if status >= http.StatusBadRequest {
				entry.Outcome = audit.OutcomeFailure
			}
			entry.RequestID = requestID(r.Context())
			if claims := claimsFrom(r.Context()); claims != nil {
				entry.Subject = claims.Subject
			}

			ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), auditWriteTimeout)
			defer cancel()
			if err := s.deps.Audit.Create(ctx, entry); err != nil {
				s.logger.Error("recording audit entry failed", "action", action, "error", err)
			}
		})
	}
}

// handleListAudit serves GET /audit?action=&subject=&limit=&offset=.
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.deps.Audit == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "audit log is not enabled")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{Action: q.Get("action"), Subject: q.Get("subject")}
	for _, p := range []struct {
		name string
		dst  *int
	}{{"limit", &filter.Limit}, {"offset", &filter.Offset}} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeBadRequest(w, p.name+" must be a non-negative integer")
			return
		}
		*p.dst = n
	}

	res, err := s.deps.Audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing audit entries failed", "error", err)
		writeInternalError(w, "failed to list audit entries")
		return
	}
	writeJSON(w, http.StatusOK, res)
}
