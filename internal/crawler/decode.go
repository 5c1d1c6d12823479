package crawler

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractJSON returns the span from the first '{' to the last '}' in text,
// provided it parses as JSON. Models often wrap their answer in prose or code
// fences; anything outside the outermost braces is discarded.
func ExtractJSON(text string) (json.RawMessage, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("%w: no JSON object found", ErrDecode)
	}
	span := text[start : end+1]
	if !json.Valid([]byte(span)) {
		return nil, fmt.Errorf("%w: invalid JSON object", ErrDecode)
	}
	return json.RawMessage(span), nil
}
