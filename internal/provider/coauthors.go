package provider

import (
	"regexp"
	"strings"

	"github.com/forgesync/forgesync/internal/types"
)

// coAuthorRe matches the Git trailer form "Co-authored-by: Name <email>".
var coAuthorRe = regexp.MustCompile(`(?im)^co-authored-by:\s*(.+?)\s*<([^>]+)>\s*$`)

// ParseCoAuthors extracts co-author signatures from commit message trailers.
// Duplicate emails are collapsed, first occurrence wins.
func ParseCoAuthors(message string) []types.Signature {
	matches := coAuthorRe.FindAllStringSubmatch(message, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]bool, len(matches))
	var sigs []types.Signature
	for _, m := range matches {
		email := strings.ToLower(strings.TrimSpace(m[2]))
		if email == "" || seen[email] {
			continue
		}
		seen[email] = true
		sigs = append(sigs, types.Signature{
			Name:  strings.TrimSpace(m[1]),
			Email: strings.TrimSpace(m[2]),
		})
	}
	return sigs
}
