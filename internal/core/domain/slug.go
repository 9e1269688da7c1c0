package domain

import "strings"

// =============================================================================
// Project Slugs
// =============================================================================

// Slugify normalizes a project name into a form accepted as a compose
// project name and container-name prefix: lowercase letters, digits, and
// single hyphens. Spaces, dots, slashes, and underscores become hyphens;
// anything else is dropped; runs of hyphens collapse; leading and
// trailing hyphens are trimmed.
//
// Example:
//
//	Slugify("My Shop")        // "my-shop"
//	Slugify("api_v2.staging") // "api-v2-staging"
func Slugify(name string) string {
	var b strings.Builder
	lastHyphen := false
	for _, r := range strings.ToLower(name) {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			lastHyphen = false
		case r == '-' || r == ' ' || r == '.' || r == '/' || r == '_':
			if !lastHyphen && b.Len() > 0 {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
