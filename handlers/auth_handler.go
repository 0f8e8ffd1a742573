package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/timekeeperhq/timekeeper/middleware"
	"github.com/timekeeperhq/timekeeper/models"
	"github.com/timekeeperhq/timekeeper/repositories"
	"github.com/timekeeperhq/timekeeper/services/auth"
	"github.com/timekeeperhq/timekeeper/services/pii"
	"github.com/timekeeperhq/timekeeper/services/tokencache"
	"github.com/timekeeperhq/timekeeper/utils"
)

// LoginRequest represents a login attempt
type LoginRequest struct {
	Username    string `json:"username" validate:"required"`
	Password    string `json:"password" validate:"required"`
	DeviceLabel string `json:"device_label" validate:"omitempty,max=128"`
}

// ChangePasswordRequest represents a password change
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8,max=128"`
}

// LoginResponse carries the issued token and the authenticated identity
type LoginResponse struct {
	AccessToken string       `json:"access_token"`
	TokenType   string       `json:"token_type"`
	ExpiresAt   time.Time    `json:"expires_at"`
	User        UserResponse `json:"user"`
}

// UserResponse represents a user in API responses, personal fields decrypted
type UserResponse struct {
	ID            uuid.UUID `json:"id"`
	Username      string    `json:"username"`
	FullName      string    `json:"full_name"`
	Email         string    `json:"email"`
	Role          string    `json:"role"`
	IsSystemAdmin bool      `json:"is_system_admin"`
	MFAEnabled    bool      `json:"mfa_enabled"`
}

// AuthHandler handles login, logout and credential management
type AuthHandler struct {
	users        repositories.UserRepository
	sessions     repositories.SessionRepository
	tokens       *tokencache.Service
	issuer       *auth.TokenService
	hasher       *auth.PasswordHasher
	codec        *pii.Codec
	txManager    repositories.TransactionManager
	cookieName   string
	cookieSecure bool
	logger       *zap.Logger
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(
	users repositories.UserRepository,
	sessions repositories.SessionRepository,
	tokens *tokencache.Service,
	issuer *auth.TokenService,
	hasher *auth.PasswordHasher,
	codec *pii.Codec,
	txManager repositories.TransactionManager,
	cookieName string,
	cookieSecure bool,
	logger *zap.Logger,
) *AuthHandler {
	return &AuthHandler{
		users:        users,
		sessions:     sessions,
		tokens:       tokens,
		issuer:       issuer,
		hasher:       hasher,
		codec:        codec,
		txManager:    txManager,
		cookieName:   cookieName,
		cookieSecure: cookieSecure,
		logger:       logger,
	}
}

// HandleLogin handles POST /api/auth/login
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	// Credential failures are indistinguishable to the caller
	user, err := h.users.GetByUsername(ctx, req.Username)
	if err != nil {
		if !errors.Is(err, repositories.ErrNotFound) {
			h.logger.Error("user lookup failed",
				zap.String("request_id", requestID),
				zap.Error(err))
			_ = utils.WriteInternalServerError(w, "")
			return
		}
		h.logger.Warn("login attempt for unknown username",
			zap.String("request_id", requestID))
		_ = utils.WriteUnauthorized(w, "Invalid username or password")
		return
	}

	if err := h.hasher.Verify(user.PasswordHash, req.Password); err != nil {
		h.logger.Warn("login password mismatch",
			zap.String("request_id", requestID),
			zap.String("user_id", user.ID.String()))
		_ = utils.WriteUnauthorized(w, "Invalid username or password")
		return
	}

	if err := h.codec.HydrateUser(user); err != nil {
		h.logger.Error("user decryption failed",
			zap.String("request_id", requestID),
			zap.String("user_id", user.ID.String()),
			zap.Error(err))
		_ = utils.WriteInternalServerError(w, "")
		return
	}

	signed, claims, err := h.issuer.Issue(user)
	if err != nil {
		h.logger.Error("token issuance failed",
			zap.String("request_id", requestID),
			zap.Error(err))
		_ = utils.WriteInternalServerError(w, "")
		return
	}

	jti, _ := claims.JTI()
	expiresAt := claims.ExpiresAt.Time

	token := models.NewActiveAccessToken(jti, user.ID, expiresAt, "web")
	if err := h.tokens.Record(ctx, token); err != nil {
		h.logger.Error("failed to record access token",
			zap.String("request_id", requestID),
			zap.String("jti", jti.String()),
			zap.Error(err))
		_ = utils.WriteInternalServerError(w, "")
		return
	}

	session := models.NewActiveSession(user.ID, jti, req.DeviceLabel)
	session.IP = middleware.ClientIP(r)
	session.UserAgent = middleware.ClientUserAgent(r)
	if err := h.sessions.Create(ctx, session); err != nil {
		h.logger.Error("failed to create session",
			zap.String("request_id", requestID),
			zap.String("user_id", user.ID.String()),
			zap.Error(err))
		// Roll the token back so no orphan credential stays live
		if revokeErr := h.tokens.Revoke(ctx, jti, user.ID); revokeErr != nil {
			h.logger.Error("failed to revoke orphaned token",
				zap.String("jti", jti.String()),
				zap.Error(revokeErr))
		}
		_ = utils.WriteInternalServerError(w, "")
		return
	}

	h.setTokenCookie(w, signed, expiresAt)

	h.logger.Info("login successful",
		zap.String("request_id", requestID),
		zap.String("user_id", user.ID.String()),
		zap.String("username", user.Username))

	_ = utils.WriteOK(w, LoginResponse{
		AccessToken: signed,
		TokenType:   "Bearer",
		ExpiresAt:   expiresAt,
		User:        userToResponse(user),
	})
}

// HandleLogout handles POST /api/auth/logout
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	claims := middleware.GetClaimsFromContext(ctx)
	if claims == nil {
		_ = utils.WriteUnauthorized(w, "")
		return
	}
	jti, _ := claims.JTI()
	userID, _ := claims.UserID()

	if err := h.tokens.Revoke(ctx, jti, userID); err != nil {
		h.logger.Error("token revocation failed",
			zap.String("request_id", requestID),
			zap.String("jti", jti.String()),
			zap.Error(err))
		_ = utils.WriteInternalServerError(w, "")
		return
	}

	// Best effort. The token is already dead either way.
	if err := h.sessions.DeleteByAccessJTI(ctx, jti); err != nil {
		h.logger.Warn("session cleanup failed on logout",
			zap.String("request_id", requestID),
			zap.String("jti", jti.String()),
			zap.Error(err))
	}

	h.clearTokenCookie(w)

	h.logger.Info("logout successful",
		zap.String("request_id", requestID),
		zap.String("user_id", userID.String()))

	_ = utils.WriteOK(w, map[string]string{"message": "Logged out"})
}

// HandleMe handles GET /api/auth/me
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	if user == nil {
		_ = utils.WriteUnauthorized(w, "")
		return
	}
	_ = utils.WriteOK(w, userToResponse(user))
}

// HandleChangePassword handles PUT /api/auth/change-password.
// Every token the user holds is revoked; the new password must be used to
// log in again.
func (h *AuthHandler) HandleChangePassword(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	user := middleware.GetUserFromContext(ctx)
	if user == nil {
		_ = utils.WriteUnauthorized(w, "")
		return
	}

	var req ChangePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	if err := h.hasher.Verify(user.PasswordHash, req.CurrentPassword); err != nil {
		h.logger.Warn("password change with wrong current password",
			zap.String("request_id", requestID),
			zap.String("user_id", user.ID.String()))
		_ = utils.WriteBadRequest(w, "Current password is incorrect", nil)
		return
	}

	newHash, err := h.hasher.Hash(req.NewPassword)
	if err != nil {
		h.logger.Error("password hashing failed",
			zap.String("request_id", requestID),
			zap.Error(err))
		_ = utils.WriteInternalServerError(w, "")
		return
	}

	err = h.txManager.InTransaction(ctx, func(txCtx context.Context, _ repositories.Transaction) error {
		if err := h.users.UpdatePassword(txCtx, user.ID, newHash); err != nil {
			return err
		}
		if _, err := h.tokens.RevokeUser(txCtx, user.ID); err != nil {
			return err
		}
		return h.sessions.DeleteByUserID(txCtx, user.ID)
	})
	if err != nil {
		h.logger.Error("password change failed",
			zap.String("request_id", requestID),
			zap.String("user_id", user.ID.String()),
			zap.Error(err))
		_ = utils.WriteInternalServerError(w, "")
		return
	}

	h.clearTokenCookie(w)

	h.logger.Info("password changed",
		zap.String("request_id", requestID),
		zap.String("user_id", user.ID.String()))

	_ = utils.WriteOK(w, map[string]string{"message": "Password changed. Please log in again."})
}

func (h *AuthHandler) setTokenCookie(w http.ResponseWriter, token string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookieName,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) clearTokenCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// userToResponse converts a hydrated User model to a UserResponse
func userToResponse(u *models.User) UserResponse {
	return UserResponse{
		ID:            u.ID,
		Username:      u.Username,
		FullName:      u.FullName,
		Email:         u.Email,
		Role:          string(u.Role),
		IsSystemAdmin: u.IsSystemAdmin,
		MFAEnabled:    u.IsMFAEnabled(),
	}
}
