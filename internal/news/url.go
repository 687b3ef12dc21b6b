package news

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

var trackingParams = map[string]struct{}{
	"fbclid":  {},
	"gclid":   {},
	"dclid":   {},
	"msclkid": {},
	"mc_cid":  {},
	"mc_eid":  {},
	"igshid":  {},
	"ref":     {},
	"ref_src": {},
	"cmpid":   {},
	"ito":     {},
	"_ga":     {},
	"spm":     {},
	"share":   {},
	"smid":    {},
}

// CanonicalURL lower-cases scheme and host, drops default ports, fragments,
// trailing slashes and tracking parameters, and sorts the remaining query.
// The result is the unique key of a Document.
func CanonicalURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", Rejectf("canonical url", "empty url")
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return "", Permanent("canonical url", fmt.Errorf("parse %q: %w", trimmed, err))
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", Rejectf("canonical url", "unsupported scheme in %q", trimmed)
	}
	if parsed.Hostname() == "" {
		return "", Rejectf("canonical url", "missing host in %q", trimmed)
	}

	host := strings.TrimSuffix(strings.ToLower(parsed.Hostname()), ".")
	if port := parsed.Port(); port != "" {
		isDefault := (scheme == "http" && port == "80") || (scheme == "https" && port == "443")
		if !isDefault {
			host = host + ":" + port
		}
	}

	path := parsed.EscapedPath()
	for strings.Contains(path, "//") {
		path = strings.ReplaceAll(path, "//", "/")
	}
	if path == "" {
		path = "/"
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}

	out := url.URL{Scheme: scheme, Host: host}
	if unescaped, err := url.PathUnescape(path); err == nil {
		out.Path = unescaped
		out.RawPath = path
	} else {
		out.Path = path
	}
	out.RawQuery = canonicalQuery(parsed.Query())
	return out.String(), nil
}

func canonicalQuery(q url.Values) string {
	keys := make([]string, 0, len(q))
	for key := range q {
		lower := strings.ToLower(key)
		if strings.HasPrefix(lower, "utm_") {
			continue
		}
		if _, ok := trackingParams[lower]; ok {
			continue
		}
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		return ""
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, key := range keys {
		values := append([]string(nil), q[key]...)
		sort.Strings(values)
		for _, value := range values {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(key))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(value))
		}
	}
	return b.String()
}

// HostOf returns the lower-cased host (without port) of an absolute URL.
func HostOf(raw string) string {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Hostname())
}
