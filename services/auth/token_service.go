package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/timekeeperhq/timekeeper/config"
	"github.com/timekeeperhq/timekeeper/models"
)

// ErrInvalidToken is returned for any token that fails verification.
// Parse errors, bad signatures and expired tokens all collapse to this so
// callers cannot leak the distinction.
var ErrInvalidToken = errors.New("auth: invalid token")

// AccessClaims are the claims carried by an access token
type AccessClaims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// UserID returns the subject parsed as a user id
func (c *AccessClaims) UserID() (uuid.UUID, error) {
	return uuid.Parse(c.Subject)
}

// JTI returns the token id parsed as a uuid
func (c *AccessClaims) JTI() (uuid.UUID, error) {
	return uuid.Parse(c.ID)
}

// TokenService issues and verifies HS256 access tokens
type TokenService struct {
	secret     []byte
	expiration time.Duration
	logger     *zap.Logger
}

// NewTokenService creates a new token service
func NewTokenService(cfg config.AuthConfig, logger *zap.Logger) *TokenService {
	return &TokenService{
		secret:     []byte(cfg.JWTSecret),
		expiration: cfg.JWTExpiration,
		logger:     logger,
	}
}

// Issue signs a new access token for the user. The jti is a fresh uuid; the
// caller is responsible for recording it in the liveness store.
func (s *TokenService) Issue(user *models.User) (string, *AccessClaims, error) {
	now := time.Now().UTC()
	claims := &AccessClaims{
		Username: user.Username,
		Role:     string(user.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiration)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign access token: %w", err)
	}

	return signed, claims, nil
}

// Verify parses and validates an access token. Only HS256 is accepted; a
// token signed with any other method is rejected before signature
// verification.
func (s *TokenService) Verify(tokenString string) (*AccessClaims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &AccessClaims{},
		func(t *jwt.Token) (interface{}, error) {
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		s.logger.Debug("token verification failed", zap.Error(err))
		return nil, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*AccessClaims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}

	// A token without a parseable subject or jti cannot be checked for
	// liveness, so it is as good as forged.
	if _, err := claims.UserID(); err != nil {
		return nil, ErrInvalidToken
	}
	if _, err := claims.JTI(); err != nil {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
