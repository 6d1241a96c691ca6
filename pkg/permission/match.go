package permission

import (
	"path"
	"path/filepath"
	"strings"
)

// matchGlob matches a target path against a policy pattern. Patterns
// may carry a leading "**/" meaning "at any directory depth"; the rest
// is standard path.Match syntax applied to the final path segment.
func matchGlob(pattern, target string) bool {
	target = filepath.ToSlash(strings.TrimSpace(target))
	if target == "" {
		return false
	}
	if rest, ok := strings.CutPrefix(pattern, "**/"); ok {
		if ok, _ := path.Match(rest, path.Base(target)); ok {
			return true
		}
		// Allow the remainder to match a trailing multi-segment suffix.
		segments := strings.Split(target, "/")
		for i := range segments {
			if ok, _ := path.Match(rest, strings.Join(segments[i:], "/")); ok {
				return true
			}
		}
		return false
	}
	ok, _ := path.Match(pattern, target)
	return ok
}

func matchAnyGlob(patterns []string, target string) bool {
	for _, p := range patterns {
		if matchGlob(p, target) {
			return true
		}
	}
	return false
}

// matchCommandPrefix reports whether the command starts with any of the
// safe command prefixes, case-insensitively and on word boundaries.
func matchCommandPrefix(safeCommands []string, command string) bool {
	cmd := strings.ToLower(strings.TrimSpace(command))
	if cmd == "" {
		return false
	}
	for _, safe := range safeCommands {
		prefix := strings.ToLower(strings.TrimSpace(safe))
		if prefix == "" {
			continue
		}
		if cmd == prefix || strings.HasPrefix(cmd, prefix+" ") {
			return true
		}
	}
	return false
}
