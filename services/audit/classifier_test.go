package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyMatchesDynamicPaths(t *testing.T) {
	event := Classify("POST", "/api/admin/requests/req-123/approve")
	require.NotNil(t, event)
	assert.Equal(t, "admin_request_approve", event.EventType)
	assert.Equal(t, "request", event.TargetType)
	assert.Equal(t, "req-123", event.TargetID)
}

func TestClassifyMatchesAuditLogPaths(t *testing.T) {
	list := Classify("GET", "/api/admin/audit-logs")
	require.NotNil(t, list)
	assert.Equal(t, "admin_audit_log_list", list.EventType)
	assert.Equal(t, "audit_log", list.TargetType)
	assert.Empty(t, list.TargetID)

	detail := Classify("GET", "/api/admin/audit-logs/log-123")
	require.NotNil(t, detail)
	assert.Equal(t, "admin_audit_log_detail", detail.EventType)
	assert.Equal(t, "log-123", detail.TargetID)

	// "export" is a literal rule and must win over the {id} capture
	export := Classify("GET", "/api/admin/audit-logs/export")
	require.NotNil(t, export)
	assert.Equal(t, "admin_audit_log_export", export.EventType)
	assert.Empty(t, export.TargetID)
}

func TestClassifyAuthEvents(t *testing.T) {
	login := Classify("POST", "/api/auth/login")
	require.NotNil(t, login)
	assert.Equal(t, "auth_login", login.EventType)
	assert.Equal(t, "user", login.TargetType)

	change := Classify("PUT", "/api/auth/change-password")
	require.NotNil(t, change)
	assert.Equal(t, "password_change", change.EventType)

	revoke := Classify("DELETE", "/api/auth/sessions/abc")
	require.NotNil(t, revoke)
	assert.Equal(t, "session_revoke", revoke.EventType)
	assert.Equal(t, "abc", revoke.TargetID)
}

func TestClassifyIgnoresTrailingSlash(t *testing.T) {
	event := Classify("POST", "/api/auth/login/")
	require.NotNil(t, event)
	assert.Equal(t, "auth_login", event.EventType)
}

func TestClassifySkipsExcludedPaths(t *testing.T) {
	assert.Nil(t, Classify("GET", "/api/auth/me"))
	assert.Nil(t, Classify("GET", "/api/attendance/status"))
	assert.Nil(t, Classify("GET", "/api/docs/openapi.json"))
}

func TestClassifyReturnsNilForUnknownPaths(t *testing.T) {
	assert.Nil(t, Classify("GET", "/api/unknown"))
	assert.Nil(t, Classify("GET", "/healthz"))
	assert.Nil(t, Classify("PATCH", "/api/auth/login"))

	// The original shape used PUT for approvals; only POST maps now
	assert.Nil(t, Classify("PUT", "/api/admin/requests/req-1/approve"))
}
