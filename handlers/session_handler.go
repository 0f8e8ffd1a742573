package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/timekeeperhq/timekeeper/middleware"
	"github.com/timekeeperhq/timekeeper/models"
	"github.com/timekeeperhq/timekeeper/repositories"
	"github.com/timekeeperhq/timekeeper/services/tokencache"
	"github.com/timekeeperhq/timekeeper/utils"
)

// SessionResponse represents a logged-in device in API responses
type SessionResponse struct {
	ID          uuid.UUID `json:"id"`
	DeviceLabel string    `json:"device_label"`
	IP          *string   `json:"ip,omitempty"`
	UserAgent   *string   `json:"user_agent,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
	Current     bool      `json:"current"`
}

// SessionHandler handles session listing and revocation
type SessionHandler struct {
	sessions repositories.SessionRepository
	tokens   *tokencache.Service
	logger   *zap.Logger
}

// NewSessionHandler creates a new SessionHandler
func NewSessionHandler(sessions repositories.SessionRepository, tokens *tokencache.Service, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		tokens:   tokens,
		logger:   logger,
	}
}

// HandleListSessions handles GET /api/auth/sessions
func (h *SessionHandler) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	user := middleware.GetUserFromContext(ctx)
	if user == nil {
		_ = utils.WriteUnauthorized(w, "")
		return
	}

	var currentJTI uuid.UUID
	if claims := middleware.GetClaimsFromContext(ctx); claims != nil {
		currentJTI, _ = claims.JTI()
	}

	sessions, err := h.sessions.GetByUserID(ctx, user.ID)
	if err != nil {
		h.logger.Error("failed to list sessions",
			zap.String("request_id", requestID),
			zap.String("user_id", user.ID.String()),
			zap.Error(err))
		_ = utils.WriteInternalServerError(w, "")
		return
	}

	responses := make([]SessionResponse, len(sessions))
	for i, s := range sessions {
		responses[i] = sessionToResponse(s, currentJTI)
	}

	_ = utils.WriteOK(w, responses)
}

// HandleRevokeSession handles DELETE /api/auth/sessions/{id}.
// The access token behind the session dies with it, in both tiers.
func (h *SessionHandler) HandleRevokeSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	user := middleware.GetUserFromContext(ctx)
	if user == nil {
		_ = utils.WriteUnauthorized(w, "")
		return
	}

	sessionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid session ID format", nil)
		return
	}

	session, err := h.sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			_ = utils.WriteNotFound(w, "Session not found")
			return
		}
		h.logger.Error("failed to fetch session",
			zap.String("request_id", requestID),
			zap.String("session_id", sessionID.String()),
			zap.Error(err))
		_ = utils.WriteInternalServerError(w, "")
		return
	}

	// A foreign session looks identical to a missing one
	if session.UserID != user.ID {
		h.logger.Warn("session revoke for foreign session",
			zap.String("request_id", requestID),
			zap.String("session_id", sessionID.String()),
			zap.String("user_id", user.ID.String()))
		_ = utils.WriteNotFound(w, "Session not found")
		return
	}

	if err := h.tokens.Revoke(ctx, session.AccessJTI, session.UserID); err != nil {
		h.logger.Error("failed to revoke session token",
			zap.String("request_id", requestID),
			zap.String("session_id", sessionID.String()),
			zap.Error(err))
		_ = utils.WriteInternalServerError(w, "")
		return
	}

	if err := h.sessions.DeleteByID(ctx, sessionID); err != nil && !errors.Is(err, repositories.ErrNotFound) {
		h.logger.Error("failed to delete session",
			zap.String("request_id", requestID),
			zap.String("session_id", sessionID.String()),
			zap.Error(err))
		_ = utils.WriteInternalServerError(w, "")
		return
	}

	h.logger.Info("session revoked",
		zap.String("request_id", requestID),
		zap.String("session_id", sessionID.String()),
		zap.String("user_id", user.ID.String()))

	utils.WriteNoContent(w)
}

// sessionToResponse converts an ActiveSession model to a SessionResponse
func sessionToResponse(s *models.ActiveSession, currentJTI uuid.UUID) SessionResponse {
	return SessionResponse{
		ID:          s.ID,
		DeviceLabel: s.DeviceLabel,
		IP:          s.IP,
		UserAgent:   s.UserAgent,
		CreatedAt:   s.CreatedAt,
		LastSeenAt:  s.LastSeenAt,
		Current:     s.AccessJTI == currentJTI,
	}
}
