package gitbind

import (
	"io/fs"
	"path/filepath"
	"strings"
)

// NormalizePath converts a user-provided path to the form git stores in the
// index.
//
// It performs the following transformations:
//   - Converts OS separators to slashes: `src\main.go` → "src/main.go" (Windows)
//   - Strips leading and trailing slashes: "/src/" → "src"
//   - Collapses consecutive slashes: "src//main.go" → "src/main.go"
//
// "." and ".." elements are preserved; ValidPath rejects them.
func NormalizePath(p string) string {
	p = strings.Trim(filepath.ToSlash(p), "/")
	if p == "" {
		return ""
	}

	parts := strings.Split(p, "/")
	result := parts[:0] // reuse backing array
	for _, part := range parts {
		if part != "" {
			result = append(result, part)
		}
	}
	return strings.Join(result, "/")
}

// ValidPath reports whether p can be stored as an index entry path.
//
// A valid path is a non-empty, slash-separated relative path with no ".",
// ".." or empty elements, no NUL bytes, and no ".git" element.
func ValidPath(p string) bool {
	if p == "" || p == "." || strings.IndexByte(p, 0) >= 0 {
		return false
	}
	if !fs.ValidPath(p) {
		return false
	}
	for part := range strings.SplitSeq(p, "/") {
		if strings.EqualFold(part, ".git") {
			return false
		}
	}
	return true
}
