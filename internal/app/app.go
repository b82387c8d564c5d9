// Package app wires the offline-first proxy together: network client,
// persistent store, cache tiers, interceptor with its strategies, lifecycle
// controller, story service and push dispatcher.
package app

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/tphakala/storykeep/internal/cachetier"
	"github.com/tphakala/storykeep/internal/conf"
	"github.com/tphakala/storykeep/internal/datastore"
	"github.com/tphakala/storykeep/internal/errors"
	"github.com/tphakala/storykeep/internal/httpclient"
	"github.com/tphakala/storykeep/internal/intercept"
	"github.com/tphakala/storykeep/internal/lifecycle"
	"github.com/tphakala/storykeep/internal/logger"
	"github.com/tphakala/storykeep/internal/observability"
	"github.com/tphakala/storykeep/internal/push"
	"github.com/tphakala/storykeep/internal/secrets"
	"github.com/tphakala/storykeep/internal/stories"
	"github.com/tphakala/storykeep/internal/strategy"
	"github.com/tphakala/storykeep/internal/telemetry"
)

// Release is the build version reported with telemetry; the command line sets it.
var Release = "dev"

// App holds every long-lived component.
type App struct {
	Settings *conf.Settings
	Metrics  *observability.Metrics
	// Network answers intercepted and proxied requests; redirects reach the client.
	Network *httpclient.Client
	// Assets follows redirects for shell seeding and image caching.
	Assets      *httpclient.Client
	Telemetry   *telemetry.Reporter
	Store       *datastore.Store
	Tiers       *cachetier.Storage
	Interceptor *intercept.Interceptor
	Lifecycle   *lifecycle.Controller
	Stories     *stories.Service
	Push        *push.Dispatcher

	log logger.Logger
}

// Options tweak New for tests and one-shot commands.
type Options struct {
	// Transport replaces the network transport.
	Transport http.RoundTripper
	// Metrics is used instead of a fresh registry.
	Metrics *observability.Metrics
	// Release is reported with telemetry events.
	Release string
}

// New builds the component graph from settings. The persistent store opens
// lazily; the tier storage is opened here.
func New(ctx context.Context, settings *conf.Settings, opts Options) (*App, error) {
	log := logger.Global().Module("app")

	appOrigin, err := url.Parse(settings.Upstream.AppOrigin)
	if err != nil {
		return nil, configError(err, "upstream.apporigin")
	}
	apiOrigin, err := url.Parse(settings.Upstream.APIOrigin)
	if err != nil {
		return nil, configError(err, "upstream.apiorigin")
	}

	metrics := opts.Metrics
	if metrics == nil {
		if metrics, err = observability.NewMetrics(); err != nil {
			return nil, fmt.Errorf("error initializing metrics: %w", err)
		}
	}

	release := opts.Release
	if release == "" {
		release = "dev"
	}
	reporter, err := telemetry.New(settings.Telemetry, release)
	if err != nil {
		return nil, err
	}
	if reporter != nil {
		errors.SetTelemetryReporter(reporter)
		log.Info("telemetry enabled", logger.String("environment", settings.Telemetry.Environment))
	}

	network := newClient(settings, opts.Transport, true)
	assets := newClient(settings, opts.Transport, false)
	metrics.InstrumentClient(network)
	metrics.InstrumentClient(assets)

	tiers, err := cachetier.NewStorage(ctx, cachetier.Config{
		Path:      settings.Cache.Path,
		MemoryTTL: settings.Cache.MemoryTTL,
		SlowQuery: settings.Cache.SlowQuery,
		Logger:    logger.Global().Module("cache"),
		Metrics:   metrics.Cache,
	})
	if err != nil {
		network.Close()
		assets.Close()
		closeTelemetry(reporter)
		return nil, err
	}

	store := datastore.New(datastore.Config{
		Path:          settings.Store.Path,
		Fetcher:       assets,
		MaxImageBytes: settings.Store.MaxImageBytes,
		SlowQuery:     settings.Store.SlowQuery,
		Logger:        logger.Global().Module("storage"),
		Metrics:       metrics.Cache,
	})

	a := &App{
		Settings:  settings,
		Metrics:   metrics,
		Network:   network,
		Assets:    assets,
		Telemetry: reporter,
		Store:     store,
		Tiers:     tiers,
		log:       log,
	}

	a.Interceptor = newInterceptor(settings, network, tiers, metrics, appOrigin)

	a.Lifecycle = lifecycle.New(lifecycle.Config{
		Origin:      appOrigin,
		Manifest:    settings.Cache.Manifest,
		ShellTier:   settings.Cache.ShellTier(),
		TierNames:   settings.Cache.TierNames(),
		Concurrency: settings.Cache.InstallConcurrency,
		SkipWaiting: settings.Cache.SkipWaiting,
	}, assets, tiers, logger.Global().Module("lifecycle"))

	api := stories.NewAPIClient(apiOrigin, settings.Upstream.APIPrefix, &http.Client{Transport: a.Interceptor})
	a.Stories = stories.NewService(api, store, stories.Config{
		PageSize:   settings.Store.PageSize,
		ImageRate:  settings.Store.ImageRate,
		ImageBurst: settings.Store.ImageBurst,
		Logger:     logger.Global().Module("stories"),
	})

	a.Push = push.NewDispatcher(push.DispatcherConfig{
		Notifier: NewNotifier(settings, log),
		Icon:     settings.Push.Icon,
		Remember: settings.Push.Remember,
		Logger:   logger.Global().Module("push"),
	})

	return a, nil
}

func newClient(settings *conf.Settings, transport http.RoundTripper, disableRedirects bool) *httpclient.Client {
	return httpclient.New(&httpclient.Config{
		DefaultTimeout:   settings.Upstream.Timeout,
		UserAgent:        settings.Upstream.UserAgent,
		Transport:        transport,
		DisableRedirects: disableRedirects,
	})
}

func newInterceptor(settings *conf.Settings, network *httpclient.Client, tiers *cachetier.Storage, metrics *observability.Metrics, appOrigin *url.URL) *intercept.Interceptor {
	base := strategy.Base{
		Network: network,
		Tiers:   tiers,
		Log:     logger.Global().Module("strategy"),
		Metrics: metrics.Cache,
	}
	cache := settings.Cache
	return intercept.New(intercept.NewClassifier(settings.Upstream.APIPrefix), network,
		intercept.WithStrategy(intercept.API, strategy.NewAPINetworkFirst(base, cache.APITier(), settings.Upstream.ListingPath)),
		intercept.WithStrategy(intercept.Image, strategy.NewImageCacheFirst(base, cache.ImageTier())),
		intercept.WithStrategy(intercept.Navigation, strategy.NewNavigationShellFallback(base, cache.ShellTier())),
		intercept.WithStrategy(intercept.Generic, strategy.NewGenericCacheFirst(base, cache.RuntimeTier(), appOrigin)),
		intercept.WithLogger(logger.Global().Module("intercept")),
	)
}

// NewNotifier returns the shoutrrr notifier when URLs are configured and
// valid, nil otherwise so the dispatcher logs notifications.
func NewNotifier(settings *conf.Settings, log logger.Logger) push.Notifier {
	urls, permissive, err := secrets.ResolveURLs(settings.Push.URLs, settings.Push.URLsFile)
	if err != nil {
		log.Warn("push urls could not be resolved", logger.Error(err))
		return nil
	}
	if permissive {
		log.Warn("push urls file is readable by other users", logger.String("path", settings.Push.URLsFile))
	}
	if len(urls) == 0 {
		return nil
	}
	n, err := push.NewShoutrrrNotifier(urls, settings.Push.Timeout)
	if err != nil {
		log.Warn("push notifications fall back to the log", logger.Error(err))
		return nil
	}
	return n
}

func configError(err error, key string) error {
	return errors.New(err).
		Component("app").
		Category(errors.CategoryConfiguration).
		Context("key", key).
		Build()
}

// Close stops background work, closes both databases and flushes telemetry.
func (a *App) Close() error {
	a.Stories.Close()
	a.Network.Close()
	a.Assets.Close()
	err := errors.Join(a.Store.Close(), a.Tiers.Close())
	closeTelemetry(a.Telemetry)
	return err
}

func closeTelemetry(r *telemetry.Reporter) {
	if r == nil {
		return
	}
	if errors.GetTelemetryReporter() == r {
		errors.SetTelemetryReporter(nil)
	}
	r.Close()
}

// Run builds the app, calls fn and closes the app again. One-shot CLI
// commands use it.
func Run(ctx context.Context, settings *conf.Settings, fn func(*App) error) error {
	a, err := New(ctx, settings, Options{Release: Release})
	if err != nil {
		return err
	}
	return errors.Join(fn(a), a.Close())
}
