package strategy

import (
	"context"
	"net/http"

	"github.com/tphakala/storykeep/internal/logger"
)

const classNavigation = "navigation"

// DefaultShellPaths are tried in order when a navigation falls back to the shell.
var DefaultShellPaths = []string{"/", "/index.html"}

// NavigationShellFallback serves page loads from the network and falls back
// to the cached application shell, then to an offline page.
type NavigationShellFallback struct {
	Base
	ShellTier  string
	ShellPaths []string
}

// NewNavigationShellFallback creates the navigation strategy.
func NewNavigationShellFallback(base Base, shellTier string) *NavigationShellFallback {
	return &NavigationShellFallback{Base: base, ShellTier: shellTier, ShellPaths: DefaultShellPaths}
}

// Handle implements intercept.Strategy. Live responses are returned as is,
// whatever their status.
func (s *NavigationShellFallback) Handle(ctx context.Context, req *http.Request, key string) (*http.Response, error) {
	resp, err := s.fetch(ctx, req)
	if err == nil {
		s.record(classNavigation, OutcomeNetwork)
		return resp, nil
	}

	for _, p := range s.ShellPaths {
		shellKey := resolve(req.URL, p)
		if shellKey == "" {
			continue
		}
		if snap := s.match(ctx, s.ShellTier, shellKey); snap != nil {
			s.logger().Debug("serving cached shell",
				logger.String("key", key),
				logger.String("shell", shellKey))
			s.record(classNavigation, OutcomeCache)
			return fromTier(snap, req), nil
		}
	}

	s.record(classNavigation, OutcomeOffline)
	return OfflineNavigationResponse(req), nil
}
