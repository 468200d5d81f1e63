// Package pathutil sanitises request paths before they touch an fs.FS.
package pathutil

import (
	"io/fs"
	"strings"
)

// HasDotSegments reports whether any path segment is "." or "..".
func HasDotSegments(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == "." || seg == ".." {
			return true
		}
	}
	return false
}

// AssetName turns the wildcard part of a /static/ URL into an fs name.
// Empty, absolute, backslashed, NUL-bearing or dot-segment paths are refused
// rather than cleaned, so only one spelling of each file is ever served.
func AssetName(p string) (string, bool) {
	if p == "" || strings.HasPrefix(p, "/") || strings.HasSuffix(p, "/") {
		return "", false
	}
	if strings.ContainsAny(p, "\\\x00") || strings.Contains(p, "//") || HasDotSegments(p) {
		return "", false
	}
	if !fs.ValidPath(p) {
		return "", false
	}
	return p, true
}
