package fileutils

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// ExtractJSONObject returns the JSON object carried by a model response. Valid
// JSON is returned as-is; otherwise the span from the first '{' to the last '}'
// is taken, which tolerates prose or code fences around the payload.
func ExtractJSONObject(outputText string) ([]byte, error) {
	s := strings.TrimSpace(outputText)
	if s == "" {
		return nil, io.ErrUnexpectedEOF
	}
	if json.Valid([]byte(s)) {
		return []byte(s), nil
	}

	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("no JSON object found in model output (len=%d)", len(s))
	}
	sub := s[start : end+1]
	if !json.Valid([]byte(sub)) {
		return nil, fmt.Errorf("extracted JSON is not valid (len=%d)", len(sub))
	}
	return []byte(sub), nil
}
