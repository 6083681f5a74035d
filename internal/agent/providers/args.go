package providers

import (
	"bytes"
	"encoding/json"
	"strings"
)

// rawArgumentsKey wraps tool arguments that are not valid JSON so the tool's
// schema validation reports the problem back to the model.
const rawArgumentsKey = "_raw_arguments"

// parseToolArgs turns a fully buffered argument string into compact JSON.
func parseToolArgs(raw string) json.RawMessage {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return json.RawMessage("{}")
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(raw)); err != nil {
		wrapped, _ := json.Marshal(map[string]string{rawArgumentsKey: raw})
		return wrapped
	}
	return buf.Bytes()
}
