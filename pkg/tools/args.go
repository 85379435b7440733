package tools

import (
	"encoding/json"
	"strings"
)

// ParseArguments normalizes the two argument shapes a completion
// provider may hand back: an already-structured map or a JSON-encoded
// string. Malformed input never raises; it degrades to empty arguments
// and the second return value reports whether parsing was clean.
func ParseArguments(raw any) (map[string]any, bool) {
	switch v := raw.(type) {
	case nil:
		return map[string]any{}, true
	case map[string]any:
		return normalizeMap(v), true
	case string:
		if strings.TrimSpace(v) == "" {
			return map[string]any{}, true
		}
		parsed := map[string]any{}
		if err := json.Unmarshal([]byte(v), &parsed); err != nil {
			return map[string]any{}, false
		}
		return normalizeMap(parsed), true
	case []byte:
		return ParseArguments(string(v))
	}
	return map[string]any{}, false
}

// normalizeMap lowercases keys recursively so handlers can rely on
// fixed parameter names regardless of the model's casing.
func normalizeMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[strings.ToLower(strings.TrimSpace(k))] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return normalizeMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeValue(item)
		}
		return out
	}
	return v
}
