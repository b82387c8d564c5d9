// Package server runs the local offline-first proxy: a catch-all reverse
// proxy toward the app and API origins plus the local /_offline and /_push
// endpoints.
package server

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/tphakala/storykeep/internal/conf"
	"github.com/tphakala/storykeep/internal/datastore"
	"github.com/tphakala/storykeep/internal/lifecycle"
	"github.com/tphakala/storykeep/internal/logger"
	"github.com/tphakala/storykeep/internal/observability"
	"github.com/tphakala/storykeep/internal/push"
	"github.com/tphakala/storykeep/internal/stories"
)

// Fetcher performs live network requests. *httpclient.Client satisfies it.
type Fetcher interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Lifecycle reports whether the interceptor controls traffic.
type Lifecycle interface {
	State() lifecycle.State
	Controls() bool
}

// Stories is the story service behind the /_offline endpoints.
type Stories interface {
	LoadStories(ctx context.Context, token string) (*stories.Result, error)
	GetStory(ctx context.Context, id, token string) (*datastore.Story, bool, error)
	AddFavorite(ctx context.Context, id string) (*datastore.Favorite, error)
	RemoveFavorite(ctx context.Context, id string) error
	Favorites(ctx context.Context) ([]datastore.Favorite, error)
	ClearFavorites(ctx context.Context) (int64, error)
}

// Store is the persistent store as seen by the local endpoints.
type Store interface {
	GetCachedImage(ctx context.Context, src string) (*datastore.ImageRef, error)
	ListQueue(ctx context.Context) ([]datastore.QueueEntry, error)
	ClearAll(ctx context.Context) error
}

// Tiers lists the cache tiers.
type Tiers interface {
	Names(ctx context.Context) ([]string, error)
}

// Push handles push deliveries and notification clicks.
type Push interface {
	HandlePush(ctx context.Context, raw []byte) (*push.Notification, error)
	Open(id string) string
}

// Deps are the components the server routes to.
type Deps struct {
	Interceptor http.RoundTripper // handles proxied requests once the lifecycle controls traffic
	Network     Fetcher           // handles proxied requests before that
	Lifecycle   Lifecycle
	Stories     Stories
	Store       Store
	Tiers       Tiers
	Push        Push
	Metrics     *observability.Metrics // optional
	Logger      logger.Logger
}

// Server encapsulates the Echo server and its dependencies.
type Server struct {
	Echo     *echo.Echo
	settings *conf.Settings
	deps     Deps
	log      logger.Logger

	appOrigin *url.URL
	apiOrigin *url.URL
}

const maxPushBytes = 64 << 10

// New builds the server and registers every route.
func New(settings *conf.Settings, deps Deps) (*Server, error) {
	appOrigin, err := url.Parse(settings.Upstream.AppOrigin)
	if err != nil {
		return nil, err
	}
	apiOrigin, err := url.Parse(settings.Upstream.APIOrigin)
	if err != nil {
		return nil, err
	}

	log := deps.Logger
	if log == nil {
		log = logger.Global().Module("server")
	}

	s := &Server{
		Echo:      echo.New(),
		settings:  settings,
		deps:      deps,
		log:       log,
		appOrigin: appOrigin,
		apiOrigin: apiOrigin,
	}
	s.initializeServer()
	return s, nil
}

func (s *Server) initializeServer() {
	s.Echo.HideBanner = true
	s.Echo.HidePort = true
	s.Echo.Server.ReadTimeout = s.settings.Server.ReadTimeout
	s.Echo.Server.WriteTimeout = s.settings.Server.WriteTimeout

	s.Echo.Use(middleware.Recover())
	s.setupRequestLogger()
	s.initRoutes()
	s.Echo.Use(s.proxyMiddleware())
}

// Start listens in the background. Listener failures are delivered on the
// returned channel; a normal shutdown closes it.
func (s *Server) Start() <-chan error {
	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		s.log.Info("proxy listening",
			logger.String("address", s.settings.Server.Listen),
			logger.String("app_origin", s.appOrigin.String()),
			logger.String("api_origin", s.apiOrigin.String()))
		if err := s.Echo.Start(s.settings.Server.Listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()
	return errChan
}

// Shutdown gracefully stops the server within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	timeout := s.settings.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.Echo.Shutdown(ctx)
}
