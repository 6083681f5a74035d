package providers

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/haasonsaas/agentrt/internal/transport"
)

// maxDebugString bounds any single string value in a request_debug body;
// inline image data would otherwise dominate it.
const maxDebugString = 2048

// maskBody renders an outbound JSON body for request_debug with long string
// values truncated and anything resembling a credential masked.
func maskBody(body []byte) string {
	if !gjson.ValidBytes(body) {
		return transport.MaskText(string(body))
	}
	out := string(body)
	var paths []string
	collectLongStrings(gjson.ParseBytes(body), "", &paths)
	for _, p := range paths {
		v := gjson.Get(out, p).String()
		truncated := fmt.Sprintf("%s...[%d bytes truncated]", v[:64], len(v)-64)
		if next, err := sjson.Set(out, p, truncated); err == nil {
			out = next
		}
	}
	return transport.MaskText(out)
}

func collectLongStrings(v gjson.Result, path string, paths *[]string) {
	switch {
	case v.IsObject():
		v.ForEach(func(key, val gjson.Result) bool {
			collectLongStrings(val, joinPath(path, escapePathKey(key.String())), paths)
			return true
		})
	case v.IsArray():
		i := 0
		v.ForEach(func(_, val gjson.Result) bool {
			collectLongStrings(val, joinPath(path, strconv.Itoa(i)), paths)
			i++
			return true
		})
	case v.Type == gjson.String && len(v.String()) > maxDebugString:
		*paths = append(*paths, path)
	}
}

func joinPath(base, key string) string {
	if base == "" {
		return key
	}
	return base + "." + key
}

var pathEscaper = strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`)

func escapePathKey(k string) string {
	return pathEscaper.Replace(k)
}
