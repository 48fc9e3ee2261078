package middleware

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/patholab/lis/internal/platform/auth"
)

// AuditEntry records who changed which record.
type AuditEntry struct {
	UserID     string
	Role       string
	Method     string
	Route      string
	Target     string
	StatusCode int
	RequestID  string
	Timestamp  time.Time
}

// AuditRecorder persists audit entries.
type AuditRecorder interface {
	RecordChange(entry AuditEntry) error
}

type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordChange(entry AuditEntry) error {
	return f(entry)
}

// targetParams are the route params that identify the record being changed.
var targetParams = []string{"case_code", "approval_code", "ticket_code", "patient_code", "id"}

// Audit logs every mutating request (anything but GET, HEAD and OPTIONS) after the
// handler runs. Without recorders, entries go to logger.
func Audit(logger zerolog.Logger, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			switch req.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				return next(c)
			}

			err := next(c)

			status := c.Response().Status
			if err != nil && !c.Response().Committed {
				status = errorStatus(err)
			}
			rid := RequestIDFrom(c)
			entry := AuditEntry{
				Method:     req.Method,
				Route:      c.Path(),
				Target:     auditTarget(c),
				StatusCode: status,
				RequestID:  rid,
				Timestamp:  time.Now().UTC(),
			}
			if id := auth.IdentityFromContext(req.Context()); id != nil {
				entry.UserID = id.UserID
				entry.Role = string(id.Role)
			}

			if len(recorders) == 0 {
				logger.Info().
					Str("user_id", entry.UserID).
					Str("role", entry.Role).
					Str("method", entry.Method).
					Str("route", entry.Route).
					Str("target", entry.Target).
					Int("status", entry.StatusCode).
					Str("request_id", entry.RequestID).
					Msg("audit")
			}
			for _, r := range recorders {
				if rerr := r.RecordChange(entry); rerr != nil {
					logger.Warn().Err(rerr).Str("request_id", rid).Msg("audit record failed")
				}
			}
			return err
		}
	}
}

func auditTarget(c echo.Context) string {
	for _, name := range targetParams {
		if v := c.Param(name); v != "" {
			return v
		}
	}
	return ""
}
