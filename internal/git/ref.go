package git

import "regexp"

var (
	ancestorRef = regexp.MustCompile(`^HEAD~[0-9]+$`)
	commitRef   = regexp.MustCompile(`^[0-9a-fA-F]{7,40}$`)
)

// SafeRef reports whether value is a revision the gateway will pass to git:
// HEAD, main, HEAD~N, or a 7-40 character hex commit abbreviation.
func SafeRef(value string) bool {
	switch value {
	case "HEAD", "main":
		return true
	}
	return ancestorRef.MatchString(value) || commitRef.MatchString(value)
}
