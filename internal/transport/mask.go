package transport

import (
	"net/url"
	"regexp"
	"strings"
)

var sensitiveHeaders = map[string]bool{
	"authorization":       true,
	"proxy-authorization": true,
	"x-api-key":           true,
	"api-key":             true,
	"x-goog-api-key":      true,
	"cookie":              true,
}

var sensitiveQueryParams = []string{"key", "api_key", "access_token"}

var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`sk-ant-[a-zA-Z0-9_\-]{8,}`),
	regexp.MustCompile(`sk-[a-zA-Z0-9_\-]{16,}`),
	regexp.MustCompile(`AIza[0-9A-Za-z_\-]{20,}`),
	regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9_\-\.]{16,}`),
}

// MaskSecret keeps a short prefix and suffix of a credential so it stays
// recognizable in diagnostics without being usable.
func MaskSecret(s string) string {
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// MaskHeaders returns a copy of headers with credential values masked.
func MaskHeaders(headers map[string]string) map[string]string {
	if headers == nil {
		return nil
	}
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		if !sensitiveHeaders[strings.ToLower(k)] {
			out[k] = v
			continue
		}
		if scheme, token, ok := strings.Cut(v, " "); ok && strings.EqualFold(scheme, "bearer") {
			out[k] = scheme + " " + MaskSecret(token)
			continue
		}
		out[k] = MaskSecret(v)
	}
	return out
}

// MaskURL masks credential query parameters.
func MaskURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return MaskText(raw)
	}
	q := u.Query()
	changed := false
	for _, p := range sensitiveQueryParams {
		if v := q.Get(p); v != "" {
			q.Set(p, MaskSecret(v))
			changed = true
		}
	}
	if changed {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// MaskText masks anything that looks like an API key inside free text.
func MaskText(s string) string {
	for _, re := range secretPatterns {
		s = re.ReplaceAllStringFunc(s, MaskSecret)
	}
	return s
}
