package logger

import (
	"net/url"
	"strings"
)

// SanitizedEmail masks an email address for logging (e.g., "u***@e***.com")
func SanitizedEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return "[invalid-email]"
	}

	username := parts[0]
	domain := parts[1]

	// Mask username: keep first char, mask rest
	if len(username) > 1 {
		username = string(username[0]) + strings.Repeat("*", len(username)-1)
	}

	// Mask domain: keep TLD, mask the rest
	domainParts := strings.Split(domain, ".")
	if len(domainParts) > 1 {
		// Mask all but the TLD
		for i := 0; i < len(domainParts)-1; i++ {
			domainParts[i] = strings.Repeat("*", len(domainParts[i]))
		}
		domain = strings.Join(domainParts, ".")
	}

	return username + "@" + domain
}

// TokenIDPrefix shortens a login token id so logs can correlate events
// without holding a usable token
func TokenIDPrefix(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8] + "..."
}

var sensitiveQueryKeys = []string{"password", "token", "secret", "email", "auth", "code"}

// RedactQuery replaces the values of sensitive query parameters with
// REDACTED, keeping parameter order. A parameter is sensitive when its
// name contains one of password, token, secret, email, auth or code.
func RedactQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}

	pairs := strings.Split(rawQuery, "&")
	for i, pair := range pairs {
		key, _, _ := strings.Cut(pair, "=")
		name, err := url.QueryUnescape(key)
		if err != nil {
			return "REDACTED"
		}
		if isSensitiveKey(name) {
			pairs[i] = key + "=REDACTED"
		}
	}
	return strings.Join(pairs, "&")
}

func isSensitiveKey(name string) bool {
	name = strings.ToLower(name)
	for _, fragment := range sensitiveQueryKeys {
		if strings.Contains(name, fragment) {
			return true
		}
	}
	return false
}
