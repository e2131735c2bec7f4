package sentinel

import "encoding/json"

// textFields is the well-known set of parameter keys inspected before
// falling back to JSON-stringifying the whole object.
var textFields = []string{"text", "content", "message", "prompt", "input", "query", "question"}

// ExtractText makes a best-effort attempt to pull human-readable text out
// of an arbitrary parameter object: a well-known field if present,
// otherwise the whole object JSON-stringified.
func ExtractText(params map[string]interface{}) string {
	for _, field := range textFields {
		if v, ok := params[field]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	if len(params) == 0 {
		return ""
	}
	b, err := json.Marshal(params)
	if err != nil {
		return ""
	}
	return string(b)
}
