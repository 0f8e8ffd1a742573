package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"github.com/timekeeperhq/timekeeper/models"
	"github.com/timekeeperhq/timekeeper/services/auth"
)

// MockTokenVerifier is a mock implementation of TokenVerifier
type MockTokenVerifier struct {
	mock.Mock
}

func (m *MockTokenVerifier) Verify(token string) (*auth.AccessClaims, error) {
	args := m.Called(token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auth.AccessClaims), args.Error(1)
}

// MockLivenessChecker is a mock implementation of LivenessChecker
type MockLivenessChecker struct {
	mock.Mock
}

func (m *MockLivenessChecker) IsActive(ctx context.Context, jti uuid.UUID) (bool, error) {
	args := m.Called(ctx, jti)
	return args.Bool(0), args.Error(1)
}

// MockUserLoader is a mock implementation of UserLoader
type MockUserLoader struct {
	mock.Mock
}

func (m *MockUserLoader) LoadUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

// stubSessionRepo satisfies SessionRepository; only Touch matters here
type stubSessionRepo struct {
	touched  []uuid.UUID
	touchErr error
}

func (s *stubSessionRepo) Create(context.Context, *models.ActiveSession) error { return nil }
func (s *stubSessionRepo) GetByID(context.Context, uuid.UUID) (*models.ActiveSession, error) {
	return nil, nil
}
func (s *stubSessionRepo) GetByUserID(context.Context, uuid.UUID) ([]*models.ActiveSession, error) {
	return nil, nil
}
func (s *stubSessionRepo) TouchByAccessJTI(_ context.Context, jti uuid.UUID) error {
	s.touched = append(s.touched, jti)
	return s.touchErr
}
func (s *stubSessionRepo) DeleteByID(context.Context, uuid.UUID) error        { return nil }
func (s *stubSessionRepo) DeleteByAccessJTI(context.Context, uuid.UUID) error { return nil }
func (s *stubSessionRepo) DeleteByUserID(context.Context, uuid.UUID) error    { return nil }
func (s *stubSessionRepo) DeleteOrphaned(context.Context) (int64, error)      { return 0, nil }

func testClaims(userID, jti uuid.UUID) *auth.AccessClaims {
	return &auth.AccessClaims{
		Username: "alice",
		Role:     string(models.RoleEmployee),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: userID.String(),
			ID:      jti.String(),
		},
	}
}

func TestRequireAuth(t *testing.T) {
	logger := zap.NewNop()
	userID := uuid.New()
	jti := uuid.New()

	t.Run("valid bearer token attaches claims and user", func(t *testing.T) {
		verifier := new(MockTokenVerifier)
		liveness := new(MockLivenessChecker)
		loader := new(MockUserLoader)
		sessions := &stubSessionRepo{}

		claims := testClaims(userID, jti)
		user := &models.User{ID: userID, Username: "alice", Role: models.RoleEmployee}

		verifier.On("Verify", "valid-token").Return(claims, nil)
		liveness.On("IsActive", mock.Anything, jti).Return(true, nil)
		loader.On("LoadUser", mock.Anything, userID).Return(user, nil)

		mw := NewAuthMiddleware(verifier, liveness, loader, sessions, "access_token", logger)
		handler := mw.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, claims, GetClaimsFromContext(r.Context()))
			assert.Equal(t, user, GetUserFromContext(r.Context()))
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "Bearer valid-token")
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, []uuid.UUID{jti}, sessions.touched)
		verifier.AssertExpectations(t)
	})

	t.Run("lowercase bearer scheme is accepted", func(t *testing.T) {
		verifier := new(MockTokenVerifier)
		liveness := new(MockLivenessChecker)
		loader := new(MockUserLoader)

		verifier.On("Verify", "valid-token").Return(testClaims(userID, jti), nil)
		liveness.On("IsActive", mock.Anything, jti).Return(true, nil)
		loader.On("LoadUser", mock.Anything, userID).Return(&models.User{ID: userID}, nil)

		mw := NewAuthMiddleware(verifier, liveness, loader, &stubSessionRepo{}, "access_token", logger)
		handler := mw.RequireAuth(okHandler())

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "bearer valid-token")
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("cookie token used when header absent", func(t *testing.T) {
		verifier := new(MockTokenVerifier)
		liveness := new(MockLivenessChecker)
		loader := new(MockUserLoader)

		verifier.On("Verify", "cookie-token").Return(testClaims(userID, jti), nil)
		liveness.On("IsActive", mock.Anything, jti).Return(true, nil)
		loader.On("LoadUser", mock.Anything, userID).Return(&models.User{ID: userID}, nil)

		mw := NewAuthMiddleware(verifier, liveness, loader, &stubSessionRepo{}, "access_token", logger)
		handler := mw.RequireAuth(okHandler())

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.AddCookie(&http.Cookie{Name: "access_token", Value: "cookie-token"})
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("header takes precedence over cookie", func(t *testing.T) {
		verifier := new(MockTokenVerifier)
		liveness := new(MockLivenessChecker)
		loader := new(MockUserLoader)

		verifier.On("Verify", "header-token").Return(testClaims(userID, jti), nil)
		liveness.On("IsActive", mock.Anything, jti).Return(true, nil)
		loader.On("LoadUser", mock.Anything, userID).Return(&models.User{ID: userID}, nil)

		mw := NewAuthMiddleware(verifier, liveness, loader, &stubSessionRepo{}, "access_token", logger)
		handler := mw.RequireAuth(okHandler())

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "Bearer header-token")
		req.AddCookie(&http.Cookie{Name: "access_token", Value: "cookie-token"})
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		verifier.AssertExpectations(t)
	})

	t.Run("missing token returns 401", func(t *testing.T) {
		mw := NewAuthMiddleware(new(MockTokenVerifier), new(MockLivenessChecker), new(MockUserLoader), &stubSessionRepo{}, "access_token", logger)
		handler := mw.RequireAuth(okHandler())

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("invalid signature returns 401", func(t *testing.T) {
		verifier := new(MockTokenVerifier)
		verifier.On("Verify", "bad-token").Return(nil, auth.ErrInvalidToken)

		mw := NewAuthMiddleware(verifier, new(MockLivenessChecker), new(MockUserLoader), &stubSessionRepo{}, "access_token", logger)
		handler := mw.RequireAuth(okHandler())

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "Bearer bad-token")
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("revoked jti returns 401 even with valid signature", func(t *testing.T) {
		verifier := new(MockTokenVerifier)
		liveness := new(MockLivenessChecker)

		verifier.On("Verify", "revoked-token").Return(testClaims(userID, jti), nil)
		liveness.On("IsActive", mock.Anything, jti).Return(false, nil)

		mw := NewAuthMiddleware(verifier, liveness, new(MockUserLoader), &stubSessionRepo{}, "access_token", logger)
		handler := mw.RequireAuth(okHandler())

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "Bearer revoked-token")
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("liveness store error fails closed", func(t *testing.T) {
		verifier := new(MockTokenVerifier)
		liveness := new(MockLivenessChecker)

		verifier.On("Verify", "valid-token").Return(testClaims(userID, jti), nil)
		liveness.On("IsActive", mock.Anything, jti).Return(false, assert.AnError)

		mw := NewAuthMiddleware(verifier, liveness, new(MockUserLoader), &stubSessionRepo{}, "access_token", logger)
		handler := mw.RequireAuth(okHandler())

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "Bearer valid-token")
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("user load failure fails closed", func(t *testing.T) {
		verifier := new(MockTokenVerifier)
		liveness := new(MockLivenessChecker)
		loader := new(MockUserLoader)

		verifier.On("Verify", "valid-token").Return(testClaims(userID, jti), nil)
		liveness.On("IsActive", mock.Anything, jti).Return(true, nil)
		loader.On("LoadUser", mock.Anything, userID).Return(nil, assert.AnError)

		mw := NewAuthMiddleware(verifier, liveness, loader, &stubSessionRepo{}, "access_token", logger)
		handler := mw.RequireAuth(okHandler())

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "Bearer valid-token")
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("session touch failure does not block the request", func(t *testing.T) {
		verifier := new(MockTokenVerifier)
		liveness := new(MockLivenessChecker)
		loader := new(MockUserLoader)
		sessions := &stubSessionRepo{touchErr: assert.AnError}

		verifier.On("Verify", "valid-token").Return(testClaims(userID, jti), nil)
		liveness.On("IsActive", mock.Anything, jti).Return(true, nil)
		loader.On("LoadUser", mock.Anything, userID).Return(&models.User{ID: userID}, nil)

		mw := NewAuthMiddleware(verifier, liveness, loader, sessions, "access_token", logger)
		handler := mw.RequireAuth(okHandler())

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "Bearer valid-token")
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestRequireAdmin(t *testing.T) {
	logger := zap.NewNop()
	mw := NewAuthMiddleware(new(MockTokenVerifier), new(MockLivenessChecker), new(MockUserLoader), &stubSessionRepo{}, "access_token", logger)

	cases := map[string]struct {
		user *models.User
		want int
	}{
		"admin role passes":          {&models.User{ID: uuid.New(), Role: models.RoleAdmin}, http.StatusOK},
		"system admin flag passes":   {&models.User{ID: uuid.New(), Role: models.RoleEmployee, IsSystemAdmin: true}, http.StatusOK},
		"plain employee is rejected": {&models.User{ID: uuid.New(), Role: models.RoleEmployee}, http.StatusForbidden},
		"no user is unauthorized":    {nil, http.StatusUnauthorized},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			handler := mw.RequireAdmin(okHandler())

			req := httptest.NewRequest(http.MethodGet, "/admin", nil)
			if tc.user != nil {
				req = req.WithContext(WithUser(req.Context(), tc.user))
			}
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)
			assert.Equal(t, tc.want, w.Code)
		})
	}
}

func TestRequireSystemAdmin(t *testing.T) {
	logger := zap.NewNop()
	mw := NewAuthMiddleware(new(MockTokenVerifier), new(MockLivenessChecker), new(MockUserLoader), &stubSessionRepo{}, "access_token", logger)

	t.Run("admin role alone is not enough", func(t *testing.T) {
		handler := mw.RequireSystemAdmin(okHandler())

		req := httptest.NewRequest(http.MethodGet, "/admin", nil)
		req = req.WithContext(WithUser(req.Context(), &models.User{ID: uuid.New(), Role: models.RoleAdmin}))
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("system admin flag passes", func(t *testing.T) {
		handler := mw.RequireSystemAdmin(okHandler())

		req := httptest.NewRequest(http.MethodGet, "/admin", nil)
		req = req.WithContext(WithUser(req.Context(), &models.User{ID: uuid.New(), IsSystemAdmin: true}))
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestExtractBearerToken(t *testing.T) {
	cases := map[string]struct {
		header string
		want   string
	}{
		"standard":          {"Bearer abc123", "abc123"},
		"lowercase scheme":  {"bearer abc123", "abc123"},
		"uppercase scheme":  {"BEARER abc123", "abc123"},
		"padded token":      {"Bearer   abc123  ", "abc123"},
		"missing token":     {"Bearer", ""},
		"wrong scheme":      {"Basic abc123", ""},
		"empty header":      {"", ""},
		"scheme only space": {"Bearer ", ""},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			assert.Equal(t, tc.want, extractBearerToken(req))
		})
	}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}
