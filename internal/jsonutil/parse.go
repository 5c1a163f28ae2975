// Package jsonutil decodes JSON produced by language models, which is
// occasionally wrapped in markdown code fences.
package jsonutil

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNotObject is returned when the payload is valid JSON but not an object.
var ErrNotObject = errors.New("JSON payload is not an object")

// StripMarkdownFences removes a surrounding ```json ... ``` or ``` ... ```
// block and returns its content, or the trimmed input when there is none.
func StripMarkdownFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}

	lines := strings.Split(text, "\n")
	if len(lines) < 3 {
		return text
	}

	end := len(lines) - 1
	for i := len(lines) - 1; i > 0; i-- {
		if strings.TrimSpace(lines[i]) == "```" {
			end = i
			break
		}
	}
	return strings.TrimSpace(strings.Join(lines[1:end], "\n"))
}

// DecodeObject parses raw as a single JSON object and returns its members
// undecoded. Prose around the object, trailing values and non-object
// payloads are all rejected.
func DecodeObject(raw string) (map[string]json.RawMessage, error) {
	text := StripMarkdownFences(raw)
	if !strings.HasPrefix(text, "{") {
		return nil, fmt.Errorf("%w (text: %s)", ErrNotObject, preview(text))
	}

	dec := json.NewDecoder(strings.NewReader(text))
	var fields map[string]json.RawMessage
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w (text: %s)", err, preview(text))
	}
	if dec.More() {
		return nil, fmt.Errorf("invalid JSON: trailing data after object (text: %s)", preview(text))
	}
	if fields == nil {
		return nil, ErrNotObject
	}
	return fields, nil
}

// DecodeStrict unmarshals data into T, rejecting unknown object fields.
func DecodeStrict[T any](data []byte) (T, error) {
	var out T
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

func preview(s string) string {
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
