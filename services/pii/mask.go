package pii

import (
	"strings"
)

// Masked is the replacement for values with no shape-preserving mask
const Masked = "***"

// MaskName keeps the first character and stars the rest, padding short
// names so the original length is not fully recoverable.
func MaskName(name string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return Masked
	}

	runes := []rune(trimmed)
	remaining := len(runes) - 1
	if remaining < 2 {
		remaining = 2
	}
	return string(runes[0]) + strings.Repeat("*", remaining)
}

// MaskEmail keeps the first character of the local part and domain label
// plus the TLD, so "alice@example.com" becomes "a***@e***.com".
func MaskEmail(email string) string {
	trimmed := strings.TrimSpace(email)
	local, domain, ok := strings.Cut(trimmed, "@")
	if !ok {
		return Masked
	}

	localFirst := firstRune(local)
	domainLabel, tld, _ := strings.Cut(domain, ".")
	domainFirst := firstRune(domainLabel)

	if tld == "" {
		return localFirst + "***@" + domainFirst + "***"
	}
	return localFirst + "***@" + domainFirst + "***." + tld
}

// MaskIP truncates addresses to their network: /24 for IPv4, the first four
// groups for IPv6. Anything unparseable collapses to the generic mask.
func MaskIP(ip string) string {
	if strings.Contains(ip, ":") {
		parts := strings.Split(ip, ":")
		if len(parts) > 4 {
			parts = parts[:4]
		}
		return strings.Join(parts, ":") + "::/64"
	}

	parts := strings.Split(ip, ".")
	if len(parts) == 4 {
		return strings.Join(parts[:3], ".") + ".0/24"
	}
	return Masked
}

// MaskUserAgent keeps a short product prefix, enough to tell browsers apart
// without retaining the full fingerprint.
func MaskUserAgent(userAgent string) string {
	if userAgent == "" {
		return Masked
	}
	runes := []rune(userAgent)
	if len(runes) > 12 {
		runes = runes[:12]
	}
	return string(runes) + "***"
}

// MaskJSON walks decoded JSON and masks values under keys that carry
// personal data. Key matching is a substring check on the lowercased key, so
// "actor_ip" and "client_user_agent" are caught too.
func MaskJSON(value interface{}) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		masked := make(map[string]interface{}, len(v))
		for key, val := range v {
			lowered := strings.ToLower(key)
			if isPIIKey(lowered) {
				masked[key] = maskScalar(lowered, val)
			} else {
				masked[key] = MaskJSON(val)
			}
		}
		return masked
	case []interface{}:
		masked := make([]interface{}, len(v))
		for i, item := range v {
			masked[i] = MaskJSON(item)
		}
		return masked
	default:
		return value
	}
}

var piiKeyNeedles = []string{"email", "full_name", "name", "secret", "token", "mfa", "ip", "user_agent"}

func isPIIKey(key string) bool {
	for _, needle := range piiKeyNeedles {
		if strings.Contains(key, needle) {
			return true
		}
	}
	return false
}

func maskScalar(key string, value interface{}) interface{} {
	if raw, ok := value.(string); ok {
		switch {
		case strings.Contains(key, "email"):
			return MaskEmail(raw)
		case strings.Contains(key, "name"):
			return MaskName(raw)
		case strings.Contains(key, "ip"):
			return MaskIP(raw)
		case strings.Contains(key, "user_agent"):
			return MaskUserAgent(raw)
		}
	}
	return Masked
}

func firstRune(s string) string {
	for _, r := range s {
		return string(r)
	}
	return "*"
}
