// Package security validates untrusted request input before it reaches the
// file system.
package security

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/sptensor/tnsample/internal/pkg/errors"
)

// MaxPathLength is the maximum allowed path length.
const MaxPathLength = 1024

// ValidatePath rejects empty, over-long, absolute and escaping paths, and
// paths carrying null bytes.
func ValidatePath(path string) error {
	if path == "" {
		return errors.ValidationError("path is empty")
	}

	if strings.Contains(path, "\x00") {
		return errors.ValidationError("path contains null byte")
	}

	if len(path) > MaxPathLength {
		return errors.ValidationError("path exceeds maximum length").
			WithDetail("path", path[:50]+"...")
	}

	// filepath.IsAbs only knows the current OS.
	if filepath.IsAbs(path) || strings.HasPrefix(path, "/") || strings.HasPrefix(path, `\`) ||
		(len(path) >= 2 && path[1] == ':') {
		return errors.ValidationError("absolute path not allowed").
			WithDetail("path", SanitizeForLog(path))
	}

	for _, part := range strings.Split(filepath.ToSlash(filepath.Clean(path)), "/") {
		if part == ".." {
			return errors.ValidationError("path traversal detected").
				WithDetail("path", SanitizeForLog(path))
		}
	}

	return nil
}

// ResolvePath validates a request path and joins it onto root. An empty
// root disables remote file access altogether.
func ResolvePath(root, path string) (string, error) {
	if root == "" {
		return "", errors.ValidationError("remote file access is disabled (no data root configured)")
	}
	if err := ValidatePath(path); err != nil {
		return "", err
	}

	full := filepath.Join(root, filepath.Clean(path))
	rel, err := filepath.Rel(root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errors.ValidationError("path escapes data root").
			WithDetail("path", SanitizeForLog(path))
	}
	return full, nil
}

// ValidateResolution checks 1 <= res <= max. A max of zero means unbounded.
func ValidateResolution(res, max int) error {
	if res <= 0 {
		return errors.ValidationError(fmt.Sprintf("resolution must be positive, got %d", res))
	}
	if max > 0 && res > max {
		return errors.ValidationError(fmt.Sprintf("resolution %d exceeds limit %d", res, max))
	}
	return nil
}

// SanitizeForLog escapes line breaks, drops other control characters and
// truncates to 200 runes so request input cannot forge log lines.
func SanitizeForLog(s string) string {
	return SanitizeForLogWithLength(s, 200)
}

// SanitizeForLogWithLength is SanitizeForLog with a custom limit.
func SanitizeForLogWithLength(s string, maxLen int) string {
	if s == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(min(len(s), maxLen+10))

	count := 0
	for _, r := range s {
		if count >= maxLen {
			b.WriteString("...")
			break
		}

		switch r {
		case '\n':
			b.WriteString(`\n`)
			count += 2
		case '\r':
			b.WriteString(`\r`)
			count += 2
		case '\t':
			b.WriteString(`\t`)
			count += 2
		default:
			if !unicode.IsControl(r) {
				b.WriteRune(r)
				count++
			}
		}
	}

	return b.String()
}
