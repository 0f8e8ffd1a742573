package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/timekeeperhq/timekeeper/middleware"
	"github.com/timekeeperhq/timekeeper/models"
	"github.com/timekeeperhq/timekeeper/repositories"
	"github.com/timekeeperhq/timekeeper/services/audit"
	"github.com/timekeeperhq/timekeeper/services/pii"
	"github.com/timekeeperhq/timekeeper/utils"
)

// AuditLogReadPermission grants audit trail access to non-system-admins,
// with personal fields masked
const AuditLogReadPermission = "audit_log_read"

const (
	auditDefaultPage    = 1
	auditMaxPage        = 1000
	auditDefaultPerPage = 25
	auditMaxPerPage     = 100
)

// AuditListResponse is the paginated audit log listing
type AuditListResponse struct {
	Logs       []*models.AuditLog `json:"logs"`
	Pagination Pagination         `json:"pagination"`
}

// Pagination carries paging metadata for list responses
type Pagination struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// AuditHandler serves the audit trail read side. System admins see entries
// verbatim; holders of the read permission see them with personal fields
// masked, signalled by the X-PII-Masked response header.
type AuditHandler struct {
	audit         *audit.Service
	permissions   repositories.PermissionRepository
	exportMaxDays int
	logger        *zap.Logger
}

// NewAuditHandler creates a new AuditHandler
func NewAuditHandler(auditSvc *audit.Service, permissions repositories.PermissionRepository, exportMaxDays int, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{
		audit:         auditSvc,
		permissions:   permissions,
		exportMaxDays: exportMaxDays,
		logger:        logger,
	}
}

// authorize checks trail access and reports whether the response must be
// masked. It writes the refusal itself and returns ok=false on failure.
func (h *AuditHandler) authorize(w http.ResponseWriter, r *http.Request) (masked, ok bool) {
	ctx := r.Context()

	user := middleware.GetUserFromContext(ctx)
	if user == nil {
		_ = utils.WriteUnauthorized(w, "")
		return false, false
	}

	if user.IsSystemAdmin {
		return false, true
	}

	has, err := h.permissions.HasPermission(ctx, user.ID, AuditLogReadPermission)
	if err != nil {
		h.logger.Error("permission check failed",
			zap.String("user_id", user.ID.String()),
			zap.Error(err))
		_ = utils.WriteInternalServerError(w, "")
		return false, false
	}
	if !has {
		h.logger.Warn("audit trail access denied",
			zap.String("user_id", user.ID.String()))
		_ = utils.WriteForbidden(w, "Insufficient permissions")
		return false, false
	}

	return true, true
}

// HandleList handles GET /api/admin/audit-logs
func (h *AuditHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	masked, ok := h.authorize(w, r)
	if !ok {
		return
	}

	page, err := parseBoundedInt(r.URL.Query().Get("page"), auditDefaultPage, 1, auditMaxPage)
	if err != nil {
		_ = utils.WriteBadRequest(w, fmt.Sprintf("`page` must be between 1 and %d", auditMaxPage), nil)
		return
	}
	perPage, err := parseBoundedInt(r.URL.Query().Get("per_page"), auditDefaultPerPage, 1, auditMaxPerPage)
	if err != nil {
		_ = utils.WriteBadRequest(w, fmt.Sprintf("`per_page` must be between 1 and %d", auditMaxPerPage), nil)
		return
	}

	filter := repositories.AuditFilter{
		EventType: r.URL.Query().Get("event_type"),
		Limit:     perPage,
		Offset:    (page - 1) * perPage,
	}

	if result := r.URL.Query().Get("result"); result != "" {
		if result != models.AuditResultSuccess && result != models.AuditResultFailure {
			_ = utils.WriteBadRequest(w, "`result` must be \"success\" or \"failure\"", nil)
			return
		}
		filter.Result = result
	}

	if actorStr := r.URL.Query().Get("actor_id"); actorStr != "" {
		actorID, err := uuid.Parse(actorStr)
		if err != nil {
			_ = utils.WriteBadRequest(w, "Invalid actor_id format", nil)
			return
		}
		filter.ActorID = &actorID
	}

	from, to, err := parseTimeWindow(r, false)
	if err != nil {
		_ = utils.WriteBadRequest(w, err.Error(), nil)
		return
	}
	filter.From = from
	filter.To = to

	logs, total, err := h.audit.List(ctx, filter)
	if err != nil {
		h.logger.Error("failed to list audit logs",
			zap.String("request_id", requestID),
			zap.Error(err))
		_ = utils.WriteInternalServerError(w, "")
		return
	}

	if masked {
		logs = maskEntries(logs)
	}

	totalPages := (total + perPage - 1) / perPage
	writeMaskedHeader(w, masked)
	_ = utils.WriteOK(w, AuditListResponse{
		Logs: logs,
		Pagination: Pagination{
			Page:       page,
			PerPage:    perPage,
			Total:      total,
			TotalPages: totalPages,
		},
	})
}

// HandleGet handles GET /api/admin/audit-logs/{id}
func (h *AuditHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	masked, ok := h.authorize(w, r)
	if !ok {
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid audit log ID format", nil)
		return
	}

	entry, err := h.audit.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			_ = utils.WriteNotFound(w, "Audit log not found")
			return
		}
		h.logger.Error("failed to fetch audit log",
			zap.String("request_id", requestID),
			zap.String("audit_log_id", id.String()),
			zap.Error(err))
		_ = utils.WriteInternalServerError(w, "")
		return
	}

	if masked {
		entry = maskEntry(entry)
	}

	writeMaskedHeader(w, masked)
	_ = utils.WriteOK(w, entry)
}

// HandleExport handles GET /api/admin/audit-logs/export. The window is
// mandatory and capped so an export can never become an unbounded dump.
func (h *AuditHandler) HandleExport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	masked, ok := h.authorize(w, r)
	if !ok {
		return
	}

	from, to, err := parseTimeWindow(r, true)
	if err != nil {
		_ = utils.WriteBadRequest(w, err.Error(), nil)
		return
	}

	maxWindow := time.Duration(h.exportMaxDays) * 24 * time.Hour
	if to.Sub(*from) > maxWindow {
		_ = utils.WriteBadRequest(w, fmt.Sprintf("export window must not exceed %d days", h.exportMaxDays), nil)
		return
	}

	logs, err := h.audit.Export(ctx, *from, *to)
	if err != nil {
		h.logger.Error("failed to export audit logs",
			zap.String("request_id", requestID),
			zap.Error(err))
		_ = utils.WriteInternalServerError(w, "")
		return
	}

	if masked {
		logs = maskEntries(logs)
	}

	filename := fmt.Sprintf("audit-logs-%s-%s.json",
		from.UTC().Format("20060102"), to.UTC().Format("20060102"))
	writeMaskedHeader(w, masked)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))

	h.logger.Info("audit logs exported",
		zap.String("request_id", requestID),
		zap.Int("count", len(logs)),
		zap.Time("from", *from),
		zap.Time("to", *to))

	_ = utils.WriteJSON(w, http.StatusOK, logs)
}

// parseTimeWindow reads the from/to query params as RFC3339. When required,
// both must be present; in all cases from must not be after to.
func parseTimeWindow(r *http.Request, required bool) (*time.Time, *time.Time, error) {
	var from, to *time.Time

	if fromStr := r.URL.Query().Get("from"); fromStr != "" {
		parsed, err := time.Parse(time.RFC3339, fromStr)
		if err != nil {
			return nil, nil, fmt.Errorf("`from` must be an RFC3339 timestamp")
		}
		from = &parsed
	}
	if toStr := r.URL.Query().Get("to"); toStr != "" {
		parsed, err := time.Parse(time.RFC3339, toStr)
		if err != nil {
			return nil, nil, fmt.Errorf("`to` must be an RFC3339 timestamp")
		}
		to = &parsed
	}

	if required && (from == nil || to == nil) {
		return nil, nil, fmt.Errorf("`from` and `to` are required")
	}
	if from != nil && to != nil && from.After(*to) {
		return nil, nil, fmt.Errorf("`from` must be before or equal to `to`")
	}

	return from, to, nil
}

func parseBoundedInt(raw string, def, lo, hi int) (int, error) {
	if raw == "" {
		return def, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < lo || value > hi {
		return 0, fmt.Errorf("value out of range")
	}
	return value, nil
}

func writeMaskedHeader(w http.ResponseWriter, masked bool) {
	w.Header().Set("X-PII-Masked", strconv.FormatBool(masked))
}

// maskEntry returns a copy of the entry with personal fields redacted
func maskEntry(entry *models.AuditLog) *models.AuditLog {
	clone := *entry

	if entry.IP != nil {
		maskedIP := pii.MaskIP(*entry.IP)
		clone.IP = &maskedIP
	}
	if entry.UserAgent != nil {
		maskedUA := pii.MaskUserAgent(*entry.UserAgent)
		clone.UserAgent = &maskedUA
	}
	if len(entry.Metadata) > 0 {
		// Metadata that cannot be masked is dropped, never passed through raw
		clone.Metadata = nil
		var decoded interface{}
		if err := json.Unmarshal(entry.Metadata, &decoded); err == nil {
			if remarshaled, err := json.Marshal(pii.MaskJSON(decoded)); err == nil {
				clone.Metadata = remarshaled
			}
		}
	}

	return &clone
}

func maskEntries(entries []*models.AuditLog) []*models.AuditLog {
	masked := make([]*models.AuditLog, len(entries))
	for i, entry := range entries {
		masked[i] = maskEntry(entry)
	}
	return masked
}
