package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// UnmarshalLenient decodes a JSON document embedded in LLM output. Models
// wrap payloads in markdown code fences or add prose around them often
// enough that strict decoding is not viable; this strips fences and trims to
// the outermost JSON value before decoding.
func UnmarshalLenient(content string, out any) error {
	text := strings.TrimSpace(content)

	// Strict parse first; most responses are clean.
	if err := json.Unmarshal([]byte(text), out); err == nil {
		return nil
	}

	if stripped, ok := stripCodeFence(text); ok {
		if err := json.Unmarshal([]byte(stripped), out); err == nil {
			return nil
		}
		text = stripped
	}

	extracted, ok := extractJSON(text)
	if !ok {
		return fmt.Errorf("no JSON value found in LLM response: %.200q", content)
	}
	if err := json.Unmarshal([]byte(extracted), out); err != nil {
		return fmt.Errorf("decode LLM response: %w", err)
	}
	return nil
}

// stripCodeFence removes a surrounding ``` or ```json fence.
func stripCodeFence(text string) (string, bool) {
	start := strings.Index(text, "```")
	if start < 0 {
		return "", false
	}
	rest := text[start+3:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		// Drop the language tag line ("json", usually).
		rest = rest[nl+1:]
	}
	if end := strings.Index(rest, "```"); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest), true
}

// extractJSON trims text to the substring spanning the first opening brace
// or bracket through the last matching closer.
func extractJSON(text string) (string, bool) {
	objStart := strings.IndexByte(text, '{')
	arrStart := strings.IndexByte(text, '[')

	start := objStart
	closer := byte('}')
	if start < 0 || (arrStart >= 0 && arrStart < start) {
		start = arrStart
		closer = ']'
	}
	if start < 0 {
		return "", false
	}
	end := strings.LastIndexByte(text, closer)
	if end <= start {
		return "", false
	}
	return text[start : end+1], true
}
