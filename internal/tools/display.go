package tools

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
)

// Display is the human-facing summary of one tool call.
type Display struct {
	Emoji  string
	Title  string
	Detail string
}

// String renders "<emoji> <title>: <detail>".
func (d Display) String() string {
	s := d.Emoji + " " + d.Title
	if d.Detail != "" {
		s += ": " + d.Detail
	}
	return s
}

// displaySpec picks the emoji, title and the input fields worth showing.
type displaySpec struct {
	Emoji      string
	Title      string
	DetailKeys []string
}

// maxDetailEntries limits the number of fields shown for unknown tools.
const maxDetailEntries = 4

// maxDetailValue truncates long field values.
const maxDetailValue = 80

var displaySpecs = map[string]displaySpec{
	"read_file":    {Emoji: "📖", Title: "Read", DetailKeys: []string{"path"}},
	"write_file":   {Emoji: "✏️", Title: "Write", DetailKeys: []string{"path"}},
	"list_files":   {Emoji: "📂", Title: "List", DetailKeys: []string{"path", "pattern"}},
	"shell":        {Emoji: "💻", Title: "Shell", DetailKeys: []string{"command"}},
	"send_message": {Emoji: "📤", Title: "Message", DetailKeys: []string{"to"}},
	"spawn_peer":   {Emoji: "🤖", Title: "Spawn", DetailKeys: []string{"name", "task"}},
}

// Describe summarizes a call to name with the given JSON input. Unknown
// tools get a generic emoji, a title derived from the name and their
// first scalar fields. Input that is not valid JSON yields no detail.
func Describe(name string, input json.RawMessage) Display {
	spec, ok := displaySpecs[name]
	if !ok {
		spec = displaySpec{Emoji: "🧩", Title: titleFromName(name)}
	}
	d := Display{Emoji: spec.Emoji, Title: spec.Title}
	if len(input) == 0 || !gjson.ValidBytes(input) {
		return d
	}
	args := gjson.ParseBytes(input)

	var parts []string
	if len(spec.DetailKeys) > 0 {
		for _, key := range spec.DetailKeys {
			if v := args.Get(gjson.Escape(key)); v.Exists() && v.String() != "" {
				parts = append(parts, trimValue(v.String()))
			}
		}
	} else {
		args.ForEach(func(key, value gjson.Result) bool {
			if value.IsObject() || value.IsArray() || value.String() == "" {
				return true
			}
			parts = append(parts, key.String()+"="+trimValue(value.String()))
			return len(parts) < maxDetailEntries
		})
	}
	d.Detail = strings.Join(parts, " · ")
	return d
}

// titleFromName turns "fetch_url" into "Fetch Url".
func titleFromName(name string) string {
	words := strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return r == '_' || r == '-' || r == '.'
	})
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	if len(words) == 0 {
		return "Tool"
	}
	return strings.Join(words, " ")
}

func trimValue(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > maxDetailValue {
		return string(r[:maxDetailValue-3]) + "..."
	}
	return s
}
