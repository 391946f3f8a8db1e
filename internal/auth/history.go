package auth

import (
	"github.com/BradenHooton/collegeerp/internal/models"
	pkgauth "github.com/BradenHooton/collegeerp/pkg/auth"
)

// IsReusable reports whether candidate may be set as the new password, i.e.
// it matches none of the most recent history entries. entries must be
// ordered newest first.
func IsReusable(candidate string, entries []models.PasswordHistoryEntry) bool {
	if len(entries) > models.PasswordHistoryLimit {
		entries = entries[:models.PasswordHistoryLimit]
	}
	for _, entry := range entries {
		if pkgauth.ComparePassword(entry.PasswordHash, candidate) == nil {
			return false
		}
	}
	return true
}
