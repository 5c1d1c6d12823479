package extract

import (
	"sync"

	"github.com/cloudflare/ahocorasick"
)

// DefaultSignatures mark primary responses that are really interstitials or
// error pages.
var DefaultSignatures = []string{
	"Checking your Browser",
	"Just a moment",
	"Error 403 (Forbidden)",
	"Error 404 (Not Found)",
	"Error 503 (Service Unavailable)",
	"Error 504 (Gateway Timeout)",
}

// Signatures finds failure markers in page content in a single pass.
type Signatures struct {
	words []string

	mu      sync.Mutex
	matcher *ahocorasick.Matcher
}

// NewSignatures compiles words. Empty entries are ignored.
func NewSignatures(words []string) *Signatures {
	kept := make([]string, 0, len(words))
	for _, w := range words {
		if w != "" {
			kept = append(kept, w)
		}
	}
	s := &Signatures{words: kept}
	if len(kept) > 0 {
		s.matcher = ahocorasick.NewStringMatcher(kept)
	}
	return s
}

// Find returns the first signature present in content, if any.
func (s *Signatures) Find(content string) (string, bool) {
	if s == nil || s.matcher == nil || content == "" {
		return "", false
	}
	// Matcher keeps per-search state, so searches are serialized.
	s.mu.Lock()
	hits := s.matcher.Match([]byte(content))
	s.mu.Unlock()
	if len(hits) == 0 {
		return "", false
	}
	return s.words[hits[0]], true
}
