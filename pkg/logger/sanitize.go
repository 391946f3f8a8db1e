package logger

import (
	"log/slog"
	"strconv"
	"strings"
)

// SanitizedEmail masks an email address for logging (e.g., "u***@e***.edu")
func SanitizedEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return "[invalid-email]"
	}

	local, domain := email[:at], email[at+1:]
	local = local[:1] + strings.Repeat("*", len(local)-1)

	labels := strings.Split(domain, ".")
	for i := 0; i < len(labels)-1; i++ {
		if labels[i] != "" {
			labels[i] = labels[i][:1] + strings.Repeat("*", len(labels[i])-1)
		}
	}

	return local + "@" + strings.Join(labels, ".")
}

// RedactedAttr returns "[REDACTED]" for key in production and the real value
// elsewhere
func RedactedAttr(key, value, env string) slog.Attr {
	if env == "production" {
		return slog.String(key, "[REDACTED]")
	}
	return slog.String(key, value)
}

var sensitiveQueryParams = []string{
	"password", "secret", "token", "otp", "code", "email", "username", "auth",
}

// SanitizeQueryString reports whether rawQuery names a sensitive parameter
// and must be redacted as a whole
func SanitizeQueryString(rawQuery string) bool {
	query := strings.ToLower(rawQuery)
	for _, param := range sensitiveQueryParams {
		if strings.Contains(query, param) {
			return true
		}
	}
	return false
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
