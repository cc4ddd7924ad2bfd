package storage

import (
	"net/url"
	"strings"
)

// SafeFilename maps a URL to a filesystem-safe name: URL-decode the
// path, strip the leading "/", replace anything outside [A-Za-z0-9_.-]
// with "_". An empty result becomes "index.html".
func SafeFilename(rawURL string) string {
	path := rawURL
	if u, err := url.Parse(rawURL); err == nil && (u.Path != "" || u.Host != "") {
		path = u.Path
	}
	if decoded, err := url.PathUnescape(path); err == nil {
		path = decoded
	}
	path = strings.TrimPrefix(path, "/")

	var b strings.Builder
	for _, r := range path {
		switch {
		case r >= 'A' && r <= 'Z',
			r >= 'a' && r <= 'z',
			r >= '0' && r <= '9',
			r == '_', r == '.', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}

	name := b.String()
	if name == "" {
		return "index.html"
	}
	return name
}
