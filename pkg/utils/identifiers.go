package utils

import "strings"

// SanitizeIdentifier makes an identifier safe for filesystem paths and
// status-store key segments. Task IDs are derived from image refs, which
// can be URLs or absolute paths, so separators and query characters must
// not leak into artifact directory names or key namespaces.
func SanitizeIdentifier(id string) string {
	sanitized := strings.ReplaceAll(id, ":", "-")
	sanitized = strings.ReplaceAll(sanitized, " ", "-")
	sanitized = strings.ReplaceAll(sanitized, "/", "-")
	sanitized = strings.ReplaceAll(sanitized, "\\", "-")
	sanitized = strings.ReplaceAll(sanitized, "?", "-")
	sanitized = strings.ReplaceAll(sanitized, "#", "-")

	return sanitized
}
