package audit

import (
	"strings"
)

// Event describes an auditable operation resolved from a route
type Event struct {
	EventType  string
	TargetType string
	TargetID   string
}

// rule maps a method and path shape to an event. Pattern segments are
// literals except "{id}", which matches any single segment and captures it
// as the target id.
type rule struct {
	method     string
	pattern    []string
	eventType  string
	targetType string
}

// The table is closed and ordered; the first matching rule wins, so literal
// segments like "export" must sit above the "{id}" captures they collide
// with. An unmatched route is simply not audited.
var rules = []rule{
	{"POST", []string{"api", "auth", "login"}, "auth_login", "user"},
	{"POST", []string{"api", "auth", "logout"}, "auth_logout", "user"},
	{"PUT", []string{"api", "auth", "change-password"}, "password_change", "user"},
	{"POST", []string{"api", "auth", "mfa", "register"}, "mfa_register", "user"},
	{"POST", []string{"api", "auth", "mfa", "setup"}, "mfa_setup", "user"},
	{"POST", []string{"api", "auth", "mfa", "activate"}, "mfa_activate", "user"},
	{"DELETE", []string{"api", "auth", "mfa"}, "mfa_disable", "user"},
	{"DELETE", []string{"api", "auth", "sessions", "{id}"}, "session_revoke", "session"},

	{"GET", []string{"api", "admin", "requests"}, "admin_request_list", "system"},
	{"GET", []string{"api", "admin", "requests", "{id}"}, "admin_request_detail", "request"},
	{"POST", []string{"api", "admin", "requests", "{id}", "approve"}, "admin_request_approve", "request"},
	{"POST", []string{"api", "admin", "requests", "{id}", "reject"}, "admin_request_reject", "request"},

	{"GET", []string{"api", "admin", "audit-logs"}, "admin_audit_log_list", "audit_log"},
	{"GET", []string{"api", "admin", "audit-logs", "export"}, "admin_audit_log_export", "audit_log"},
	{"GET", []string{"api", "admin", "audit-logs", "{id}"}, "admin_audit_log_detail", "audit_log"},

	{"GET", []string{"api", "admin", "users"}, "admin_user_list", "system"},
	{"POST", []string{"api", "admin", "users"}, "admin_user_create", "user"},
	{"POST", []string{"api", "admin", "mfa", "reset"}, "admin_mfa_reset", "user"},
}

// Read-only and noisy endpoints that never produce audit entries. Checked
// before the rule table so an exclusion can never be shadowed by a capture.
var exclusions = [][2]string{
	{"GET", "/api/auth/me"},
	{"GET", "/api/auth/mfa"},
	{"GET", "/api/auth/sessions"},
	{"GET", "/api/attendance/status"},
	{"GET", "/api/config/timezone"},
}

// Classify resolves a request route to its audit event, or nil when the
// route is not audited. Trailing slashes are ignored; anything outside
// /api/ is invisible to the trail.
func Classify(method, path string) *Event {
	normalized := strings.TrimRight(path, "/")
	if !strings.HasPrefix(normalized, "/api/") {
		return nil
	}
	if isExcluded(method, normalized) {
		return nil
	}

	segments := strings.Split(strings.TrimPrefix(normalized, "/"), "/")
	for _, r := range rules {
		if r.method != method {
			continue
		}
		if targetID, ok := matchPattern(r.pattern, segments); ok {
			return &Event{
				EventType:  r.eventType,
				TargetType: r.targetType,
				TargetID:   targetID,
			}
		}
	}
	return nil
}

func isExcluded(method, path string) bool {
	for _, excl := range exclusions {
		if excl[0] == method && excl[1] == path {
			return true
		}
	}
	return strings.HasPrefix(path, "/api/docs")
}

func matchPattern(pattern, segments []string) (string, bool) {
	if len(pattern) != len(segments) {
		return "", false
	}

	var targetID string
	for i, part := range pattern {
		if part == "{id}" {
			if segments[i] == "" {
				return "", false
			}
			targetID = segments[i]
			continue
		}
		if part != segments[i] {
			return "", false
		}
	}
	return targetID, true
}
