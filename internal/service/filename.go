package service

import (
	"net/url"
	"strings"
	"unicode"
)

// DeriveFilename returns the last non-empty segment of rawURL's path, ignoring the
// query and fragment, or fallback when the path has none. Segments are split on the
// escaped path so an encoded slash stays inside its segment.
func DeriveFilename(rawURL, fallback string) string {
	var p string
	if u, err := url.Parse(rawURL); err == nil {
		p = u.EscapedPath()
	} else {
		p = rawURL
		if i := strings.IndexAny(p, "?#"); i >= 0 {
			p = p[:i]
		}
	}

	p = strings.TrimRight(p, "/")
	name := p[strings.LastIndex(p, "/")+1:]
	if unescaped, err := url.PathUnescape(name); err == nil {
		name = unescaped
	}
	name = strings.Map(func(r rune) rune {
		if r == '"' || r == '\\' || r == '/' || unicode.IsControl(r) {
			return '_'
		}
		return r
	}, name)

	if name == "" || name == "." || name == ".." {
		return fallback
	}
	return name
}

// ContentDisposition formats an attachment disposition for name. Non-ASCII names
// get an RFC 5987 filename* parameter next to an ASCII approximation.
func ContentDisposition(name string) string {
	ascii := true
	for i := 0; i < len(name); i++ {
		if name[i] >= 0x80 {
			ascii = false
			break
		}
	}
	if ascii {
		return `attachment; filename="` + name + `"`
	}

	approx := strings.Map(func(r rune) rune {
		if r >= 0x80 {
			return '_'
		}
		return r
	}, name)
	return `attachment; filename="` + approx + `"; filename*=UTF-8''` + url.PathEscape(name)
}
