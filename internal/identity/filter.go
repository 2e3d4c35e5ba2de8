// filter.go -- Content filter seam.
//
// Real profanity filtering lives outside this service. WordFilter is a
// substring blocklist good enough for configured reserved words.
package identity

import "strings"

// ContentFilter decides whether a username is acceptable to display.
type ContentFilter interface {
	Allowed(username string) bool
}

// AllowAll accepts everything.
type AllowAll struct{}

func (AllowAll) Allowed(string) bool { return true }

// WordFilter rejects usernames containing any blocked word.
type WordFilter struct {
	words []string
}

// NewWordFilter builds a WordFilter; words are lowercased and blanks dropped.
func NewWordFilter(words []string) *WordFilter {
	f := &WordFilter{}
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" {
			f.words = append(f.words, w)
		}
	}
	return f
}

// Allowed reports whether username contains none of the blocked words.
func (f *WordFilter) Allowed(username string) bool {
	u := strings.ToLower(username)
	for _, w := range f.words {
		if strings.Contains(u, w) {
			return false
		}
	}
	return true
}

// Check runs format validation and the content filter together.
// Returns a failure message, or empty string when acceptable.
func Check(username string, filter ContentFilter) string {
	if msg := ValidateUsername(username); msg != "" {
		return msg
	}
	if filter != nil && !filter.Allowed(username) {
		return "Username not allowed"
	}
	return ""
}
