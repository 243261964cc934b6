package hoster

import (
	"net/url"
	"strings"
)

// ShortLinkDomains lists shortener hosts whose links must be bypassed
// before they can be probed.
var ShortLinkDomains = []string{"ouo.io", "ouo.press"}

// IsShortLink reports whether raw points at a known shortener.
func IsShortLink(raw string) bool {
	for _, d := range ShortLinkDomains {
		if strings.Contains(raw, d) {
			return true
		}
	}
	return false
}

// IsFolderLink reports whether raw is a folder link enumerating several files.
func IsFolderLink(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return strings.Contains(raw, "/dir/")
	}
	return strings.Contains(u.Path, "/dir/")
}
