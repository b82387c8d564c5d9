package server

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/tphakala/storykeep/internal/logger"
)

// Local route prefixes never forwarded upstream.
var localPrefixes = []string{"/_offline", "/_push", "/health", "/metrics"}

func isLocal(path string) bool {
	for _, p := range localPrefixes {
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}

// originBalancer sends API paths to the API origin and everything else to the app origin.
type originBalancer struct {
	app, api  *middleware.ProxyTarget
	apiPrefix string
}

func (b *originBalancer) AddTarget(*middleware.ProxyTarget) bool { return false }
func (b *originBalancer) RemoveTarget(string) bool               { return false }

func (b *originBalancer) Next(c echo.Context) *middleware.ProxyTarget {
	if strings.HasPrefix(c.Request().URL.Path, b.apiPrefix) {
		return b.api
	}
	return b.app
}

// routingTransport hands upstream requests to the interceptor once the
// lifecycle controls traffic, and straight to the network before that.
type routingTransport struct {
	intercepted http.RoundTripper
	network     Fetcher
	controls    func() bool
}

func (t *routingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	out := req.Clone(req.Context())
	// Server-side fields that must not leak into the upstream request
	out.RequestURI = ""
	out.Host = ""
	if t.controls() && t.intercepted != nil {
		return t.intercepted.RoundTrip(out)
	}
	return t.network.Do(out.Context(), out)
}

// rewriteLocation turns a redirect back into an upstream origin into a path
// on the proxy, so the client keeps going through it.
func rewriteLocation(resp *http.Response, origins ...*url.URL) {
	loc := resp.Header.Get(echo.HeaderLocation)
	if loc == "" {
		return
	}
	target, err := url.Parse(loc)
	if err != nil || !target.IsAbs() {
		return
	}
	for _, origin := range origins {
		if origin == nil || !strings.EqualFold(target.Scheme, origin.Scheme) || !strings.EqualFold(target.Host, origin.Host) {
			continue
		}
		local := url.URL{Path: target.Path, RawPath: target.RawPath, RawQuery: target.RawQuery, Fragment: target.Fragment}
		if local.Path == "" {
			local.Path = "/"
		}
		resp.Header.Set(echo.HeaderLocation, local.String())
		return
	}
}

func (s *Server) proxyMiddleware() echo.MiddlewareFunc {
	balancer := &originBalancer{
		app:       &middleware.ProxyTarget{Name: "app", URL: s.appOrigin},
		api:       &middleware.ProxyTarget{Name: "api", URL: s.apiOrigin},
		apiPrefix: s.settings.Upstream.APIPrefix,
	}

	return middleware.ProxyWithConfig(middleware.ProxyConfig{
		Skipper: func(c echo.Context) bool {
			return isLocal(c.Request().URL.Path)
		},
		Balancer: balancer,
		Transport: &routingTransport{
			intercepted: s.deps.Interceptor,
			network:     s.deps.Network,
			controls:    s.controls,
		},
		ModifyResponse: func(resp *http.Response) error {
			rewriteLocation(resp, s.appOrigin, s.apiOrigin)
			return nil
		},
		ErrorHandler: func(c echo.Context, err error) error {
			s.log.Warn("upstream request failed",
				logger.String("path", c.Request().URL.Path),
				logger.Error(err))
			return echo.NewHTTPError(http.StatusBadGateway, "upstream unavailable")
		},
	})
}

func (s *Server) controls() bool {
	return s.deps.Lifecycle != nil && s.deps.Lifecycle.Controls()
}
