package classify

import (
	"encoding/json"
	"regexp"
	"strings"
)

var pyLiteral = regexp.MustCompile(`\b(True|False|None)\b`)

var pyLiterals = map[string]string{"True": "true", "False": "false", "None": "null"}

// ExtractDetail pulls a human-readable description out of free-form error
// text that embeds a provider error body, e.g.
//
//	Error code: 400 - {'error': {'message': '...', 'details': [...]}}
//
// The body is split off the text, parsed as JSON (retrying once with
// Python-style quotes and literals normalized), and then searched for
// error.details[1].message, then error.message. ok is false when any step
// fails.
func ExtractDetail(text string) (detail string, ok bool) {
	payload, found := splitPayload(text)
	if !found {
		return "", false
	}

	body, found := parseBody(payload)
	if !found {
		return "", false
	}

	switch e := body["error"].(type) {
	case map[string]any:
		if details, isList := e["details"].([]any); isList && len(details) > 1 {
			if d, isObj := details[1].(map[string]any); isObj {
				if msg := nonEmpty(d["message"]); msg != "" {
					return msg, true
				}
			}
		}
		if msg := nonEmpty(e["message"]); msg != "" {
			return msg, true
		}
	case string:
		if msg := strings.TrimSpace(e); msg != "" {
			return msg, true
		}
	}
	return "", false
}

func splitPayload(text string) (string, bool) {
	brace := strings.IndexAny(text, "{[")
	if sep := strings.Index(text, " - "); sep >= 0 && (brace < 0 || sep < brace) {
		payload := strings.TrimSpace(text[sep+len(" - "):])
		return payload, payload != ""
	}
	if brace < 0 {
		return "", false
	}
	return text[brace:], true
}

func parseBody(payload string) (map[string]any, bool) {
	var v any
	if err := json.Unmarshal([]byte(payload), &v); err != nil {
		normalized := strings.ReplaceAll(payload, "'", `"`)
		normalized = pyLiteral.ReplaceAllStringFunc(normalized, func(s string) string {
			return pyLiterals[s]
		})
		if err := json.Unmarshal([]byte(normalized), &v); err != nil {
			return nil, false
		}
	}

	switch b := v.(type) {
	case map[string]any:
		return b, true
	case []any:
		if len(b) == 0 {
			return nil, false
		}
		first, ok := b[0].(map[string]any)
		return first, ok
	}
	return nil, false
}

func nonEmpty(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}
