package extraction

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/bookeep/ingest/internal/model"
)

// parseResult recovers a Result from raw model output. Despite the system
// instruction, responses sometimes arrive wrapped in a thinking block, a
// markdown fence, or surrounding prose.
func parseResult(text string) (*Result, error) {
	cleaned := cleanModelJSON(text)
	if cleaned == "" {
		return nil, eris.Wrap(ErrMalformedOutput, "no JSON object in response")
	}

	var r Result
	if err := json.Unmarshal([]byte(cleaned), &r); err != nil {
		return nil, eris.Wrap(ErrMalformedOutput, err.Error())
	}
	if r.Currency == "" {
		r.Currency = "USD"
	}
	if r.LineItems == nil {
		r.LineItems = []model.LineItem{}
	}
	return &r, nil
}

// cleanModelJSON strips thinking blocks and markdown fences, then isolates
// the first balanced JSON object in the remaining text.
func cleanModelJSON(text string) string {
	text = stripThinking(text)
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	return firstJSONObject(strings.TrimSpace(text))
}

// stripThinking removes <thinking>...</thinking> sections.
func stripThinking(text string) string {
	for {
		start := strings.Index(text, "<thinking>")
		if start < 0 {
			return text
		}
		end := strings.Index(text[start:], "</thinking>")
		if end < 0 {
			return text[:start]
		}
		text = text[:start] + text[start+end+len("</thinking>"):]
	}
}

// firstJSONObject scans for the first balanced {...}, respecting strings
// and escapes. Returns "" when no balanced object exists.
func firstJSONObject(text string) string {
	start := strings.Index(text, "{")
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escape := false
	for i := start; i < len(text); i++ {
		c := text[i]

		if escape {
			escape = false
			continue
		}
		if c == '\\' && inString {
			escape = true
			continue
		}
		if c == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		switch c {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}
