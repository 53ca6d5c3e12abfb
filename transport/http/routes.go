package http

import (
	"github.com/layer-3/paygate/internal/glob"
)

// RouteMatcher decides which request paths are behind the payment gate.
// Patterns use * wildcards. Exclusions are checked first and always win.
type RouteMatcher struct {
	protected []string
	excluded  []string
}

// NewRouteMatcher creates a matcher. With no protected patterns every path
// that is not excluded is protected.
func NewRouteMatcher(protected, excluded []string) *RouteMatcher {
	return &RouteMatcher{protected: protected, excluded: excluded}
}

// Protected reports whether path requires payment.
func (m *RouteMatcher) Protected(path string) bool {
	if m == nil {
		return true
	}
	for _, pattern := range m.excluded {
		if glob.Glob(pattern, path) {
			return false
		}
	}
	if len(m.protected) == 0 {
		return true
	}
	for _, pattern := range m.protected {
		if glob.Glob(pattern, path) {
			return true
		}
	}
	return false
}
