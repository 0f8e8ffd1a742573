package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/timekeeperhq/timekeeper/config"
	"github.com/timekeeperhq/timekeeper/models"
)

const testSecret = "a_secure_token_that_is_long_enough_123"

func newTestService(expiration time.Duration) *TokenService {
	return NewTokenService(config.AuthConfig{
		JWTSecret:     testSecret,
		JWTExpiration: expiration,
	}, zap.NewNop())
}

func testUser() *models.User {
	user := models.NewUser("alice", models.RoleEmployee)
	user.FullName = "Alice Example"
	return user
}

func TestIssueAndVerify(t *testing.T) {
	svc := newTestService(time.Hour)
	user := testUser()

	token, issued, err := svc.Issue(user)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := svc.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, "employee", claims.Role)
	assert.Equal(t, issued.ID, claims.ID)

	userID, err := claims.UserID()
	require.NoError(t, err)
	assert.Equal(t, user.ID, userID)

	jti, err := claims.JTI()
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, jti)
}

func TestIssueGeneratesUniqueJTIs(t *testing.T) {
	svc := newTestService(time.Hour)
	user := testUser()

	_, first, err := svc.Issue(user)
	require.NoError(t, err)
	_, second, err := svc.Issue(user)
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	svc := newTestService(-time.Minute)

	token, _, err := svc.Issue(testUser())
	require.NoError(t, err)

	_, err = svc.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	svc := newTestService(time.Hour)
	token, _, err := svc.Issue(testUser())
	require.NoError(t, err)

	other := NewTokenService(config.AuthConfig{
		JWTSecret:     "a_different_secret_that_is_long_enough_x",
		JWTExpiration: time.Hour,
	}, zap.NewNop())

	_, err = other.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsNonHS256(t *testing.T) {
	svc := newTestService(time.Hour)

	// alg=none style forgery
	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, &AccessClaims{
		Username: "alice",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uuid.NewString(),
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	token, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = svc.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsMalformedIdentifiers(t *testing.T) {
	svc := newTestService(time.Hour)

	for name, claims := range map[string]*AccessClaims{
		"non-uuid subject": {
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "not-a-uuid",
				ID:        uuid.NewString(),
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		},
		"non-uuid jti": {
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   uuid.NewString(),
				ID:        "not-a-uuid",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		},
	} {
		t.Run(name, func(t *testing.T) {
			token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
			require.NoError(t, err)

			_, err = svc.Verify(token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	svc := newTestService(time.Hour)

	for _, token := range []string{"", "garbage", "a.b.c"} {
		_, err := svc.Verify(token)
		assert.ErrorIs(t, err, ErrInvalidToken, token)
	}
}

func TestPasswordHasher(t *testing.T) {
	hasher := NewPasswordHasher(4)

	hash, err := hasher.Hash("correct horse battery staple")
	require.NoError(t, err)
	assert.NotEqual(t, "correct horse battery staple", hash)

	assert.NoError(t, hasher.Verify(hash, "correct horse battery staple"))
	assert.ErrorIs(t, hasher.Verify(hash, "wrong"), ErrPasswordMismatch)
}
