package fs

import (
	"fmt"
	"path/filepath"
	"strings"
)

// builtinIgnores are skipped in every target directory: leftovers of an
// interrupted WriteFileAtomic and the metadata files desktop shells drop
// into image folders.
var builtinIgnores = []string{".tmp-*", ".DS_Store", "Thumbs.db", "desktop.ini"}

// IgnoreMatcher decides which file names in a target directory are left out
// of checksum rebuilds. Target directories are flat, so patterns are
// filepath.Match globs applied to the base name, compared case-insensitively.
type IgnoreMatcher struct {
	globs []string
}

// NewIgnoreMatcher builds a matcher from the configured patterns plus the
// builtin ones. Blank entries, '#' comments and malformed globs are dropped;
// use ValidateIgnorePatterns to report the latter.
func NewIgnoreMatcher(patterns []string) *IgnoreMatcher {
	m := &IgnoreMatcher{}
	for _, raw := range append(append([]string{}, builtinIgnores...), patterns...) {
		glob, ok := normalizeGlob(raw)
		if !ok {
			continue
		}
		if _, err := filepath.Match(glob, ""); err != nil {
			continue
		}
		m.globs = append(m.globs, glob)
	}
	return m
}

// ValidateIgnorePatterns reports the first pattern that is not a valid glob
// or that names a path instead of a file name.
func ValidateIgnorePatterns(patterns []string) error {
	for _, raw := range patterns {
		glob, ok := normalizeGlob(raw)
		if !ok {
			continue
		}
		if strings.ContainsAny(glob, `/\`) {
			return fmt.Errorf("ignore pattern %q: must match a file name, not a path", raw)
		}
		if _, err := filepath.Match(glob, ""); err != nil {
			return fmt.Errorf("ignore pattern %q: %w", raw, err)
		}
	}
	return nil
}

func normalizeGlob(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "#") {
		return "", false
	}
	return strings.ToLower(raw), true
}

// Match reports whether name should be skipped. Only the base name of name
// is considered. A nil matcher ignores nothing.
func (m *IgnoreMatcher) Match(name string) bool {
	if m == nil || name == "" {
		return false
	}
	base := strings.ToLower(filepath.Base(name))
	for _, glob := range m.globs {
		if ok, _ := filepath.Match(glob, base); ok {
			return true
		}
	}
	return false
}

// Len is the number of active patterns, builtins included.
func (m *IgnoreMatcher) Len() int {
	if m == nil {
		return 0
	}
	return len(m.globs)
}
