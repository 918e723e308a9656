package crawler

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/sha1n/svn-river/internal/domain"
)

// Reason explains why an entry was filtered.
type Reason string

const (
	ReasonNone      Reason = ""
	ReasonPattern   Reason = "pattern"
	ReasonOversized Reason = "oversized"
)

// RegexPrefix marks an exclusion pattern as a regular expression matched
// against the whole root-relative path.
const RegexPrefix = "re:"

// Sentinel returns the content stored in place of a filtered entry's content.
func (r Reason) Sentinel() string {
	switch r {
	case ReasonPattern:
		return domain.ContentFilteredPattern
	case ReasonOversized:
		return domain.ContentFilteredSize
	default:
		return ""
	}
}

// EntryFilter decides which changed entries are excluded from content extraction.
type EntryFilter struct {
	globs       []string
	regexps     []*regexp.Regexp
	maxFileSize int64
}

// NewEntryFilter creates a filter from exclusion patterns and a maximum file
// size (0 disables the size gate). Patterns are globs ("**/", "/**", "*.ext",
// path.Match syntax) or "re:" regular expressions.
func NewEntryFilter(patterns []string, maxFileSize int64) (*EntryFilter, error) {
	f := &EntryFilter{maxFileSize: maxFileSize}
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if expr, ok := strings.CutPrefix(p, RegexPrefix); ok {
			re, err := regexp.Compile("^(?:" + expr + ")$")
			if err != nil {
				return nil, fmt.Errorf("invalid exclusion pattern %q: %w", p, err)
			}
			f.regexps = append(f.regexps, re)
			continue
		}
		if _, err := path.Match(strings.TrimPrefix(p, "**/"), ""); err != nil {
			return nil, fmt.Errorf("invalid exclusion pattern %q: %w", p, err)
		}
		f.globs = append(f.globs, p)
	}
	return f, nil
}

// MaxFileSize returns the size ceiling, 0 when unlimited.
func (f *EntryFilter) MaxFileSize() int64 {
	return f.maxFileSize
}

// ShouldFilter reports whether the entry's content must not be extracted.
// The pattern gate is checked first. The size gate only applies to added and
// modified entries.
func (f *EntryFilter) ShouldFilter(entry domain.ChangeEntry, size int64) (bool, Reason) {
	if f.Excludes(entry.Path) {
		return true, ReasonPattern
	}
	if f.maxFileSize > 0 && entry.Kind.HasContent() && size > f.maxFileSize {
		return true, ReasonOversized
	}
	return false, ReasonNone
}

// Excludes reports whether a root-relative path matches an exclusion pattern.
func (f *EntryFilter) Excludes(fullName string) bool {
	for _, re := range f.regexps {
		if re.MatchString(fullName) {
			return true
		}
	}
	rel := strings.TrimPrefix(fullName, "/")
	for _, p := range f.globs {
		if matchPattern(p, rel) {
			return true
		}
	}
	return false
}

// matchPattern matches a slash-separated path against a glob pattern.
// "**/x" matches x at any depth, "dir/**" matches everything below a "dir"
// component, "*.ext" matches by suffix, anything else uses path.Match on the
// full path and then on the base name.
func matchPattern(pattern, p string) bool {
	if rest, ok := strings.CutPrefix(pattern, "**/"); ok {
		parts := strings.Split(p, "/")
		for i := range parts {
			if matchPattern(rest, strings.Join(parts[i:], "/")) {
				return true
			}
		}
		return false
	}

	if dir, ok := strings.CutSuffix(pattern, "/**"); ok {
		if p == dir || strings.HasPrefix(p, dir+"/") {
			return true
		}
		parts := strings.Split(p, "/")
		for i, part := range parts[:len(parts)-1] {
			if part == dir || strings.HasSuffix(strings.Join(parts[:i+1], "/"), "/"+dir) {
				return true
			}
		}
		return false
	}

	if ext, ok := strings.CutPrefix(pattern, "*."); ok && !strings.ContainsAny(ext, "*?[") {
		return strings.HasSuffix(strings.ToLower(p), "."+strings.ToLower(ext))
	}

	if pattern == p {
		return true
	}
	if matched, _ := path.Match(pattern, p); matched {
		return true
	}
	matched, _ := path.Match(pattern, path.Base(p))
	return matched
}
