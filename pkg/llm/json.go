package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractJSON pulls the first balanced JSON value out of a provider response.
// Responses may wrap the payload in <think> blocks, markdown code fences or
// surrounding prose; everything outside the JSON value is discarded.
func ExtractJSON(response string) (string, error) {
	cleaned := stripThinkBlock(response)

	objStart := strings.IndexByte(cleaned, '{')
	arrStart := strings.IndexByte(cleaned, '[')

	if objStart >= 0 && (arrStart < 0 || objStart < arrStart) {
		if candidate, ok := scanBalanced(cleaned, objStart); ok && json.Valid([]byte(candidate)) {
			return candidate, nil
		}
	}
	if arrStart >= 0 {
		if candidate, ok := scanBalanced(cleaned, arrStart); ok && json.Valid([]byte(candidate)) {
			return candidate, nil
		}
	}

	trimmed := strings.TrimSpace(cleaned)
	if json.Valid([]byte(trimmed)) {
		return trimmed, nil
	}

	return "", fmt.Errorf("no valid JSON found in response")
}

// ParseJSONResponse extracts JSON from a response and unmarshals it into T.
func ParseJSONResponse[T any](response string) (T, error) {
	var result T

	jsonStr, err := ExtractJSON(response)
	if err != nil {
		return result, err
	}
	if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
		return result, fmt.Errorf("unmarshal JSON: %w", err)
	}
	return result, nil
}

// stripThinkBlock removes a leading <think>...</think> block emitted by
// reasoning models before their actual answer.
func stripThinkBlock(s string) string {
	trimmed := strings.TrimLeft(s, " \t\r\n")
	if !strings.HasPrefix(trimmed, "<think>") {
		return s
	}
	end := strings.Index(trimmed, "</think>")
	if end < 0 {
		return s
	}
	return trimmed[end+len("</think>"):]
}

// scanBalanced returns the balanced bracket structure starting at start,
// tracking string literals so braces inside values do not affect depth.
func scanBalanced(s string, start int) (string, bool) {
	open := s[start]
	var closing byte
	switch open {
	case '{':
		closing = '}'
	case '[':
		closing = ']'
	default:
		return "", false
	}

	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(s); i++ {
		c := s[i]

		if escaped {
			escaped = false
			continue
		}
		if c == '\\' && inString {
			escaped = true
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
		case open:
			depth++
		case closing:
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}

	return "", false
}
