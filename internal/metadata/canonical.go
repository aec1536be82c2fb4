package metadata

import (
	"net/url"
	"strings"
)

// CanonicalSource normalizes a package source string so that comparison
// with the guarded registry set is an exact string match. A bare URL gains
// the registry+ tag; trailing slashes and default ports are dropped. The
// function is pure and is applied once at ingest.
func CanonicalSource(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}

	if !strings.Contains(s, "+") {
		s = "registry+" + s
	}

	// The URL follows the last scheme tag: registry+sparse+https://... has
	// the tags "registry+sparse+" and the URL "https://...".
	idx := strings.LastIndex(s, "+")
	tags, rest := s[:idx+1], s[idx+1:]

	parsed, err := url.Parse(rest)
	if err != nil || parsed.Host == "" {
		return tags + strings.TrimRight(rest, "/")
	}

	host := parsed.Host
	switch parsed.Scheme {
	case "https":
		host = strings.TrimSuffix(host, ":443")
	case "http":
		host = strings.TrimSuffix(host, ":80")
	}
	parsed.Host = host
	parsed.Path = strings.TrimRight(parsed.Path, "/")

	return tags + parsed.String()
}
