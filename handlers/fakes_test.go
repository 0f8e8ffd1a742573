package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/timekeeperhq/timekeeper/models"
	"github.com/timekeeperhq/timekeeper/repositories"
)

// In-memory repository fakes shared by the handler tests.

type fakeUserRepo struct {
	users map[uuid.UUID]*models.User
	err   error
}

func newFakeUserRepo(users ...*models.User) *fakeUserRepo {
	repo := &fakeUserRepo{users: make(map[uuid.UUID]*models.User)}
	for _, u := range users {
		repo.users[u.ID] = u
	}
	return repo
}

func (f *fakeUserRepo) Create(_ context.Context, user *models.User) error {
	if f.err != nil {
		return f.err
	}
	f.users[user.ID] = user
	return nil
}

func (f *fakeUserRepo) GetByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	if user, ok := f.users[id]; ok {
		clone := *user
		return &clone, nil
	}
	return nil, fmt.Errorf("user %s: %w", id, repositories.ErrNotFound)
}

func (f *fakeUserRepo) GetByUsername(_ context.Context, username string) (*models.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, user := range f.users {
		if user.Username == username {
			clone := *user
			return &clone, nil
		}
	}
	return nil, fmt.Errorf("user %s: %w", username, repositories.ErrNotFound)
}

func (f *fakeUserRepo) GetByEmailHash(_ context.Context, emailHash string) (*models.User, error) {
	for _, user := range f.users {
		if user.EmailHash == emailHash {
			clone := *user
			return &clone, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (f *fakeUserRepo) Update(_ context.Context, user *models.User) error {
	f.users[user.ID] = user
	return nil
}

func (f *fakeUserRepo) UpdatePassword(_ context.Context, id uuid.UUID, passwordHash string) error {
	user, ok := f.users[id]
	if !ok {
		return repositories.ErrNotFound
	}
	user.PasswordHash = passwordHash
	return nil
}

type fakeTokenRepo struct {
	tokens map[uuid.UUID]*models.ActiveAccessToken
	err    error
}

func newFakeTokenRepo() *fakeTokenRepo {
	return &fakeTokenRepo{tokens: make(map[uuid.UUID]*models.ActiveAccessToken)}
}

func (f *fakeTokenRepo) Insert(_ context.Context, token *models.ActiveAccessToken) error {
	if f.err != nil {
		return f.err
	}
	f.tokens[token.JTI] = token
	return nil
}

func (f *fakeTokenRepo) GetByJTI(_ context.Context, jti uuid.UUID) (*models.ActiveAccessToken, error) {
	if token, ok := f.tokens[jti]; ok {
		return token, nil
	}
	return nil, repositories.ErrNotFound
}

func (f *fakeTokenRepo) IsActive(_ context.Context, jti uuid.UUID) (bool, error) {
	token, ok := f.tokens[jti]
	return ok && !token.IsExpired(), nil
}

func (f *fakeTokenRepo) Delete(_ context.Context, jti uuid.UUID) error {
	delete(f.tokens, jti)
	return nil
}

func (f *fakeTokenRepo) DeleteByUserID(_ context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	var jtis []uuid.UUID
	for jti, token := range f.tokens {
		if token.UserID == userID {
			jtis = append(jtis, jti)
			delete(f.tokens, jti)
		}
	}
	return jtis, nil
}

func (f *fakeTokenRepo) DeleteExpired(_ context.Context) (int64, error) {
	var removed int64
	for jti, token := range f.tokens {
		if token.IsExpired() {
			delete(f.tokens, jti)
			removed++
		}
	}
	return removed, nil
}

type fakeSessionRepo struct {
	sessions  map[uuid.UUID]*models.ActiveSession
	createErr error
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{sessions: make(map[uuid.UUID]*models.ActiveSession)}
}

func (f *fakeSessionRepo) Create(_ context.Context, session *models.ActiveSession) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.sessions[session.ID] = session
	return nil
}

func (f *fakeSessionRepo) GetByID(_ context.Context, id uuid.UUID) (*models.ActiveSession, error) {
	if session, ok := f.sessions[id]; ok {
		return session, nil
	}
	return nil, repositories.ErrNotFound
}

func (f *fakeSessionRepo) GetByUserID(_ context.Context, userID uuid.UUID) ([]*models.ActiveSession, error) {
	var result []*models.ActiveSession
	for _, session := range f.sessions {
		if session.UserID == userID {
			result = append(result, session)
		}
	}
	return result, nil
}

func (f *fakeSessionRepo) TouchByAccessJTI(_ context.Context, jti uuid.UUID) error {
	for _, session := range f.sessions {
		if session.AccessJTI == jti {
			session.LastSeenAt = time.Now().UTC()
			return nil
		}
	}
	return nil
}

func (f *fakeSessionRepo) DeleteByID(_ context.Context, id uuid.UUID) error {
	if _, ok := f.sessions[id]; !ok {
		return repositories.ErrNotFound
	}
	delete(f.sessions, id)
	return nil
}

func (f *fakeSessionRepo) DeleteByAccessJTI(_ context.Context, jti uuid.UUID) error {
	for id, session := range f.sessions {
		if session.AccessJTI == jti {
			delete(f.sessions, id)
		}
	}
	return nil
}

func (f *fakeSessionRepo) DeleteByUserID(_ context.Context, userID uuid.UUID) error {
	for id, session := range f.sessions {
		if session.UserID == userID {
			delete(f.sessions, id)
		}
	}
	return nil
}

func (f *fakeSessionRepo) DeleteOrphaned(_ context.Context) (int64, error) {
	return 0, nil
}

type fakePermissionRepo struct {
	grants map[uuid.UUID]map[string]bool
	err    error
}

func newFakePermissionRepo() *fakePermissionRepo {
	return &fakePermissionRepo{grants: make(map[uuid.UUID]map[string]bool)}
}

func (f *fakePermissionRepo) HasPermission(_ context.Context, userID uuid.UUID, permission string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.grants[userID][permission], nil
}

func (f *fakePermissionRepo) ListByUserID(_ context.Context, userID uuid.UUID) ([]string, error) {
	var permissions []string
	for permission := range f.grants[userID] {
		permissions = append(permissions, permission)
	}
	return permissions, nil
}

func (f *fakePermissionRepo) Grant(_ context.Context, userID uuid.UUID, permission string) error {
	if f.grants[userID] == nil {
		f.grants[userID] = make(map[string]bool)
	}
	f.grants[userID][permission] = true
	return nil
}

func (f *fakePermissionRepo) Revoke(_ context.Context, userID uuid.UUID, permission string) error {
	delete(f.grants[userID], permission)
	return nil
}

type fakeAuditRepo struct {
	entries []*models.AuditLog
	err     error
}

func (f *fakeAuditRepo) Insert(_ context.Context, log *models.AuditLog) error {
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, log)
	return nil
}

func (f *fakeAuditRepo) GetByID(_ context.Context, id uuid.UUID) (*models.AuditLog, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, entry := range f.entries {
		if entry.ID == id {
			return entry, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (f *fakeAuditRepo) List(_ context.Context, _ repositories.AuditFilter) ([]*models.AuditLog, int, error) {
	if f.err != nil {
		return nil, 0, f.err
	}
	return f.entries, len(f.entries), nil
}

func (f *fakeAuditRepo) GetByDateRange(_ context.Context, _, _ time.Time) ([]*models.AuditLog, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.entries, nil
}

func (f *fakeAuditRepo) DeleteBefore(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

// noopTxManager runs transaction bodies directly against the fakes
type noopTxManager struct{}

type noopTx struct {
	ctx context.Context
}

func (t noopTx) Commit() error            { return nil }
func (t noopTx) Rollback() error          { return nil }
func (t noopTx) Context() context.Context { return t.ctx }

func (noopTxManager) Begin(ctx context.Context) (repositories.Transaction, error) {
	return noopTx{ctx: ctx}, nil
}

func (noopTxManager) InTransaction(ctx context.Context, fn func(ctx context.Context, tx repositories.Transaction) error) error {
	return fn(ctx, noopTx{ctx: ctx})
}
