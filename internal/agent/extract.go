package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// errNoJSON is returned when a reply holds no JSON object.
var errNoJSON = errors.New("no JSON object in reply")

// extractJSON returns the first JSON object in a model reply. Fenced blocks
// are preferred; otherwise the first balanced {...} span that parses is used.
func extractJSON(response string) string {
	if start := strings.Index(response, "```json"); start != -1 {
		body := response[start+len("```json"):]
		if end := strings.Index(body, "```"); end != -1 {
			return strings.TrimSpace(body[:end])
		}
	}

	// A plain fence counts only when it holds an object.
	if start := strings.Index(response, "```"); start != -1 {
		body := response[start+3:]
		if nl := strings.IndexByte(body, '\n'); nl != -1 && !strings.HasPrefix(strings.TrimSpace(body), "{") {
			body = body[nl+1:]
		}
		if end := strings.Index(body, "```"); end != -1 {
			if candidate := strings.TrimSpace(body[:end]); strings.HasPrefix(candidate, "{") {
				return candidate
			}
		}
	}

	// Prose may mention placeholders such as {{target}} before the object.
	for off := 0; off < len(response); {
		i := strings.IndexByte(response[off:], '{')
		if i == -1 {
			break
		}
		start := off + i
		if span := balancedSpan(response, start); span != "" && json.Valid([]byte(span)) {
			return span
		}
		off = start + 1
	}
	return ""
}

// balancedSpan returns the {...} span opening at start, skipping braces
// inside JSON strings, or "" when it never closes.
func balancedSpan(s string, start int) string {
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// decodeStructured extracts the JSON object from reply, validates it against
// schema and decodes it into out.
func decodeStructured(schema *jsonschema.Schema, reply string, out any) error {
	raw := extractJSON(reply)
	if raw == "" {
		return errNoJSON
	}
	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return fmt.Errorf("parse reply: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("validate reply: %w", err)
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("decode reply: %w", err)
	}
	return nil
}

var sqlFence = regexp.MustCompile("(?s)```sql\\s*\\n(.*?)```")

// extractSQLBlocks returns the bodies of ```sql fenced blocks.
func extractSQLBlocks(text string) []string {
	var out []string
	for _, m := range sqlFence.FindAllStringSubmatch(text, -1) {
		if q := strings.TrimSpace(m[1]); q != "" {
			out = append(out, q)
		}
	}
	return out
}

// truncate shortens s to at most n bytes on a rune boundary.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !isRuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
