package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/timekeeperhq/timekeeper/models"
	"github.com/timekeeperhq/timekeeper/repositories"
	"github.com/timekeeperhq/timekeeper/services/auth"
	"github.com/timekeeperhq/timekeeper/utils"
)

// TokenVerifier verifies a signed access token
type TokenVerifier interface {
	Verify(token string) (*auth.AccessClaims, error)
}

// LivenessChecker answers whether a jti still refers to a live token
type LivenessChecker interface {
	IsActive(ctx context.Context, jti uuid.UUID) (bool, error)
}

// UserLoader loads the authenticated user with personal fields decrypted
type UserLoader interface {
	LoadUser(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// AuthMiddleware authenticates requests. A request passes only when its
// token parses, verifies, and its jti is still alive in the token store;
// the user row must then load and decrypt cleanly. Failure at any point in
// that chain is a 401, never a degraded pass-through.
type AuthMiddleware struct {
	verifier   TokenVerifier
	liveness   LivenessChecker
	users      UserLoader
	sessions   repositories.SessionRepository
	cookieName string
	logger     *zap.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware
func NewAuthMiddleware(
	verifier TokenVerifier,
	liveness LivenessChecker,
	users UserLoader,
	sessions repositories.SessionRepository,
	cookieName string,
	logger *zap.Logger,
) *AuthMiddleware {
	return &AuthMiddleware{
		verifier:   verifier,
		liveness:   liveness,
		users:      users,
		sessions:   sessions,
		cookieName: cookieName,
		logger:     logger,
	}
}

// RequireAuth is a middleware that requires a valid, live access token
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := GetRequestIDFromContext(ctx)

		token := m.extractToken(r)
		if token == "" {
			m.logger.Warn("missing token",
				zap.String("request_id", requestID))
			_ = utils.WriteUnauthorized(w, "Missing or invalid authorization")
			return
		}

		claims, err := m.verifier.Verify(token)
		if err != nil {
			m.logger.Warn("token verification failed",
				zap.String("request_id", requestID),
				zap.Error(err))
			_ = utils.WriteUnauthorized(w, "Invalid or expired token")
			return
		}

		jti, _ := claims.JTI()
		active, err := m.liveness.IsActive(ctx, jti)
		if err != nil {
			m.logger.Error("token liveness check failed",
				zap.String("request_id", requestID),
				zap.String("jti", jti.String()),
				zap.Error(err))
			_ = utils.WriteUnauthorized(w, "Invalid or expired token")
			return
		}
		if !active {
			m.logger.Warn("revoked token presented",
				zap.String("request_id", requestID),
				zap.String("jti", jti.String()))
			_ = utils.WriteUnauthorized(w, "Invalid or expired token")
			return
		}

		// Best effort. A failed touch only stales the sessions list.
		if err := m.sessions.TouchByAccessJTI(ctx, jti); err != nil {
			m.logger.Warn("session touch failed",
				zap.String("request_id", requestID),
				zap.String("jti", jti.String()),
				zap.Error(err))
		}

		userID, _ := claims.UserID()
		user, err := m.users.LoadUser(ctx, userID)
		if err != nil {
			m.logger.Error("user load failed",
				zap.String("request_id", requestID),
				zap.String("user_id", userID.String()),
				zap.Error(err))
			_ = utils.WriteUnauthorized(w, "Invalid or expired token")
			return
		}

		ctx = WithClaims(ctx, claims)
		ctx = WithUser(ctx, user)

		m.logger.Debug("authentication successful",
			zap.String("request_id", requestID),
			zap.String("user_id", user.ID.String()),
			zap.String("username", user.Username))

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin requires the admin role or the system-admin flag.
// Must run after RequireAuth.
func (m *AuthMiddleware) RequireAdmin(next http.Handler) http.Handler {
	return m.requireTier(next, "admin", func(user *models.User) bool {
		return user.IsElevated()
	})
}

// RequireSystemAdmin requires the system-admin flag specifically.
// Must run after RequireAuth.
func (m *AuthMiddleware) RequireSystemAdmin(next http.Handler) http.Handler {
	return m.requireTier(next, "system_admin", func(user *models.User) bool {
		return user.IsSystemAdmin
	})
}

func (m *AuthMiddleware) requireTier(next http.Handler, tier string, allowed func(*models.User) bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := GetRequestIDFromContext(ctx)

		user := GetUserFromContext(ctx)
		if user == nil {
			m.logger.Error("user not found in context",
				zap.String("request_id", requestID))
			_ = utils.WriteUnauthorized(w, "Authentication required")
			return
		}

		if !allowed(user) {
			m.logger.Warn("insufficient privileges",
				zap.String("request_id", requestID),
				zap.String("user_id", user.ID.String()),
				zap.String("required_tier", tier))
			_ = utils.WriteForbidden(w, "Insufficient permissions")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// extractToken extracts the access token from the Authorization header
// ("Bearer TOKEN") or the configured cookie. The header takes precedence
// when both are present.
func (m *AuthMiddleware) extractToken(r *http.Request) string {
	if token := extractBearerToken(r); token != "" {
		return token
	}
	if cookie, err := r.Cookie(m.cookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return ""
}

// extractBearerToken extracts the Bearer token from the Authorization header
func extractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	// Scheme match is case-insensitive, surrounding whitespace tolerated
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}

// userLoaderFunc adapts a function to the UserLoader interface
type userLoaderFunc func(ctx context.Context, id uuid.UUID) (*models.User, error)

func (f userLoaderFunc) LoadUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return f(ctx, id)
}

// NewUserLoader builds a UserLoader that reads from the user repository and
// decrypts personal fields through the codec. Decryption failure fails the
// load; a user whose fields cannot be decrypted is never attached half-read.
func NewUserLoader(users repositories.UserRepository, codec interface {
	HydrateUser(user *models.User) error
}) UserLoader {
	return userLoaderFunc(func(ctx context.Context, id uuid.UUID) (*models.User, error) {
		user, err := users.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := codec.HydrateUser(user); err != nil {
			return nil, err
		}
		return user, nil
	})
}

// Ensure the auth service satisfies the narrow interface
var _ TokenVerifier = (*auth.TokenService)(nil)
