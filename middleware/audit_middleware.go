package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/timekeeperhq/timekeeper/models"
	"github.com/timekeeperhq/timekeeper/services/audit"
)

// AuditRecorder accepts audit entries without blocking
type AuditRecorder interface {
	RecordEvent(entry *models.AuditLog)
}

// AuditMiddleware writes the compliance trail for classified routes. The
// entry is built after the handler ran, from the response status, and handed
// to the recorder without waiting; a broken audit sink never fails a
// request.
type AuditMiddleware struct {
	recorder AuditRecorder
	enabled  bool
	logger   *zap.Logger
}

// NewAuditMiddleware creates a new AuditMiddleware. Recording is skipped
// wholesale when disabled by retention config or when no recorder is wired.
func NewAuditMiddleware(recorder AuditRecorder, enabled bool, logger *zap.Logger) *AuditMiddleware {
	return &AuditMiddleware{
		recorder: recorder,
		enabled:  enabled,
		logger:   logger,
	}
}

// Record is the middleware entry point
func (m *AuditMiddleware) Record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		event := audit.Classify(r.Method, r.URL.Path)
		if event == nil || !m.enabled || m.recorder == nil {
			next.ServeHTTP(w, r)
			return
		}

		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		entry := m.buildEntry(r, event, recorder.status)
		m.recorder.RecordEvent(entry)
	})
}

func (m *AuditMiddleware) buildEntry(r *http.Request, event *audit.Event, status int) *models.AuditLog {
	entry := models.NewAuditLog(event.EventType, event.TargetType)
	if event.TargetID != "" {
		entry.WithTarget(event.TargetID)
	}

	// On protected routes the auth middleware runs before this one and has
	// already attached the user. On public routes (login itself) the entry
	// stays anonymous.
	user := GetUserFromContext(r.Context())
	if user != nil {
		entry.WithActor(user.ID)
	}

	if status >= http.StatusBadRequest {
		entry.WithFailure(fmt.Sprintf("http_%d", status))
	}

	requestID := GetRequestIDFromContext(r.Context())
	if requestID == "" {
		requestID = extractRequestID(r)
	}
	entry.WithRequest(requestID, ClientIP(r), ClientUserAgent(r))

	if metadata := buildEventMetadata(event.EventType, user); metadata != nil {
		entry.WithMetadata(metadata)
	}

	return entry
}

// buildEventMetadata attaches per-event structured context where the trail
// benefits from more than the route alone.
func buildEventMetadata(eventType string, user *models.User) map[string]interface{} {
	switch eventType {
	case "password_change":
		metadata := map[string]interface{}{
			"method":      "password",
			"mfa_enabled": nil,
		}
		if user != nil {
			metadata["mfa_enabled"] = user.IsMFAEnabled()
		}
		return metadata
	case "admin_request_approve":
		return map[string]interface{}{"approval_step": "single", "decision": "approve"}
	case "admin_request_reject":
		return map[string]interface{}{"approval_step": "single", "decision": "reject"}
	default:
		return nil
	}
}

// statusRecorder captures the response status for the audit entry
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// ClientIP resolves the caller address, preferring the first hop of
// X-Forwarded-For, then X-Real-Ip
func ClientIP(r *http.Request) *string {
	for _, header := range []string{"X-Forwarded-For", "X-Real-Ip"} {
		if value := r.Header.Get(header); value != "" {
			first, _, _ := strings.Cut(value, ",")
			trimmed := strings.TrimSpace(first)
			return &trimmed
		}
	}
	return nil
}

// ClientUserAgent reads the User-Agent header, nil when absent
func ClientUserAgent(r *http.Request) *string {
	if value := r.Header.Get("User-Agent"); value != "" {
		return &value
	}
	return nil
}
