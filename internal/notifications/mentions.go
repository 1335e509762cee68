package notifications

import "regexp"

var mentionPattern = regexp.MustCompile(`@([\p{L}\p{M}\p{N}_]+)`)

// ParseMentions returns every @name token in body in order of appearance.
// Repeated mentions of the same name are kept.
func ParseMentions(body string) []string {
	matches := mentionPattern.FindAllStringSubmatch(body, -1)
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, m[1])
	}
	return names
}
