package atlas

import "strings"

// SanitizeID rewrites an identity or label into a filesystem- and URL-safe
// storage key. Path-traversal-significant characters are replaced before
// the string is ever used as a key or script ref.
func SanitizeID(raw string) string {
	var sb strings.Builder
	sb.Grow(len(raw))
	for _, r := range raw {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			sb.WriteRune(r)
		case r == '-' || r == '_' || r == '.':
			sb.WriteRune(r)
		default:
			sb.WriteByte('-')
		}
	}
	s := sb.String()
	// ".." segments are traversal-significant even after the charset pass.
	for strings.Contains(s, "..") {
		s = strings.ReplaceAll(s, "..", ".")
	}
	s = strings.Trim(s, "-.")
	if s == "" {
		return "unnamed"
	}
	return s
}

// SlugifyLabel turns a free-form action description into a short, unique,
// human-meaningful edge label slug.
func SlugifyLabel(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.Join(strings.Fields(s), "-")
	s = SanitizeID(s)
	const maxLabel = 64
	if len(s) > maxLabel {
		s = strings.Trim(s[:maxLabel], "-.")
	}
	return s
}
