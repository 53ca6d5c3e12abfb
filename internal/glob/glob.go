// Package glob matches request paths against simple `*` patterns.
package glob

import "strings"

// maxParts bounds pattern complexity; patterns with more than four stars never match.
const maxParts = 5

// Glob reports whether subj matches pattern. `*` matches any run of characters,
// including `/`. Matching is case sensitive.
func Glob(pattern, subj string) bool {
	if pattern == "" {
		return subj == ""
	}
	if pattern == "*" {
		return true
	}

	parts := strings.Split(pattern, "*")
	if len(parts) > maxParts {
		return false
	}
	if len(parts) == 1 {
		return pattern == subj
	}

	leadingGlob := strings.HasPrefix(pattern, "*")
	trailingGlob := strings.HasSuffix(pattern, "*")
	end := len(parts) - 1

	for i := 0; i < end; i++ {
		part := parts[i]
		if part == "" {
			continue
		}

		idx := strings.Index(subj, part)
		if i == 0 && !leadingGlob && idx != 0 {
			return false
		}
		if idx < 0 {
			return false
		}
		subj = subj[idx+len(part):]
	}

	return trailingGlob || strings.HasSuffix(subj, parts[end])
}
