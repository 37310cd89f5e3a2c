package oracle

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
)

// ExtractJSON pulls the first JSON object or array out of model output.
// Markdown code fences are stripped first. Returns nil when no valid JSON
// can be located.
func ExtractJSON(text string) json.RawMessage {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	if strings.HasPrefix(text, "```") {
		var kept []string
		for _, line := range strings.Split(text, "\n") {
			if strings.HasPrefix(strings.TrimSpace(line), "```") {
				continue
			}
			kept = append(kept, line)
		}
		text = strings.Join(kept, "\n")
	}

	for _, pair := range [2][2]string{{"{", "}"}, {"[", "]"}} {
		start := strings.Index(text, pair[0])
		end := strings.LastIndex(text, pair[1])
		if start < 0 || end <= start {
			continue
		}
		candidate := text[start : end+1]
		if json.Valid([]byte(candidate)) {
			return json.RawMessage(candidate)
		}
	}
	return nil
}

// Decode unmarshals a raw oracle payload into a typed response. Missing and
// extra fields are tolerated; only structurally invalid JSON is an error.
// A nil payload decodes to the zero value without error so callers can
// handle "no information" uniformly.
func Decode(raw json.RawMessage, v any) error {
	if raw == nil {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return eris.Wrap(err, "oracle: decode response")
	}
	return nil
}
