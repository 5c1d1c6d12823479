// Package prompt builds the classification messages sent to language models
// and fits them into a per-model token budget.
package prompt

import (
	_ "embed"
	"strings"
)

// Role identifies the author of a chat message.
type Role string

// Chat roles understood by every provider adapter.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one chat turn.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

const languagePlaceholder = "{language}"

var (
	//go:embed templates/bookmarks.md
	bookmarksTemplate string
	//go:embed templates/github_stars.md
	githubStarsTemplate string
)

// Kind selects a classification template.
type Kind string

// Template kinds.
const (
	KindBookmarks   Kind = "bookmarks"
	KindGithubStars Kind = "github-stars"
)

// System returns the system prompt for kind, localized to language. Any kind
// other than bookmarks uses the GitHub-star template.
func System(kind Kind, language string) string {
	tmpl := githubStarsTemplate
	if kind == KindBookmarks {
		tmpl = bookmarksTemplate
	}
	if language == "" {
		language = DefaultLanguage
	}
	return strings.TrimSpace(strings.ReplaceAll(tmpl, languagePlaceholder, language))
}

// Classification returns the system+user message pair for classifying
// markdown content.
func Classification(kind Kind, language, markdown string) []Message {
	return []Message{
		{Role: RoleSystem, Content: System(kind, language)},
		{Role: RoleUser, Content: markdown},
	}
}
