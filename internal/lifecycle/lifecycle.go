// Package lifecycle installs and activates a versioned set of cache tiers.
//
// Install seeds the shell tier from the asset manifest, tolerating individual
// failures. Activate deletes every tier outside the current allow-list and
// takes control, after which the proxy routes traffic through the interceptor.
package lifecycle

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tphakala/storykeep/internal/cachetier"
	"github.com/tphakala/storykeep/internal/errors"
	"github.com/tphakala/storykeep/internal/logger"
)

// State is a lifecycle state.
type State int

const (
	Uninstalled State = iota
	Installing
	Installed
	Activating
	Active
)

func (s State) String() string {
	switch s {
	case Uninstalled:
		return "uninstalled"
	case Installing:
		return "installing"
	case Installed:
		return "installed"
	case Activating:
		return "activating"
	case Active:
		return "active"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Fetcher performs live network requests. *httpclient.Client satisfies it.
type Fetcher interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Tiers is the tier storage managed by the controller. *cachetier.Storage satisfies it.
type Tiers interface {
	Put(ctx context.Context, tier, key string, snap *cachetier.Snapshot) error
	Names(ctx context.Context) ([]string, error)
	DeleteTier(ctx context.Context, name string) (bool, error)
}

// Config configures a Controller.
type Config struct {
	Origin      *url.URL // manifest paths resolve against it
	Manifest    []string
	ShellTier   string
	TierNames   []string // allow-list of the current version
	Concurrency int
	SkipWaiting bool
}

// InstallReport lists what seeding did.
type InstallReport struct {
	Cached []string
	Failed map[string]error
}

// ActivateReport lists the tiers purged on activation.
type ActivateReport struct {
	Deleted []string
}

// Controller drives the Uninstalled → Installing → Installed → Activating → Active machine.
type Controller struct {
	cfg     Config
	network Fetcher
	tiers   Tiers
	log     logger.Logger

	mu    sync.RWMutex
	state State
}

// New creates a Controller in the Uninstalled state.
func New(cfg Config, network Fetcher, tiers Tiers, log logger.Logger) *Controller {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if log == nil {
		log = logger.Global().Module("lifecycle")
	}
	return &Controller{cfg: cfg, network: network, tiers: tiers, log: log}
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Controls reports whether the controller is active and the interceptor
// should handle traffic.
func (c *Controller) Controls() bool {
	return c.State() == Active
}

func (c *Controller) transition(from, to State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != from {
		return errors.Newf("cannot move to %s from %s", to, c.state).
			Component("lifecycle").
			Category(errors.CategoryState).
			Context("expected", from.String()).
			Build()
	}
	c.state = to
	c.log.Debug("lifecycle transition",
		logger.String("from", from.String()),
		logger.String("to", to.String()))
	return nil
}

func (c *Controller) set(to State) {
	c.mu.Lock()
	c.state = to
	c.mu.Unlock()
}

// Install seeds the shell tier. Every manifest entry is fetched independently;
// failures are reported, never fatal. Non-2xx responses count as failures.
func (c *Controller) Install(ctx context.Context) (*InstallReport, error) {
	if err := c.transition(Uninstalled, Installing); err != nil {
		return nil, err
	}
	start := time.Now()

	report := &InstallReport{Failed: make(map[string]error)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Concurrency)
	for _, asset := range c.cfg.Manifest {
		g.Go(func() error {
			err := c.seed(gctx, asset)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed[asset] = err
				c.log.Warn("failed to cache shell asset",
					logger.String("asset", asset),
					logger.Error(err))
				return nil
			}
			report.Cached = append(report.Cached, asset)
			return nil
		})
	}
	// Seeding goroutines never return errors
	_ = g.Wait()

	c.set(Installed)
	c.log.Info("shell cache installed",
		logger.String("tier", c.cfg.ShellTier),
		logger.Int("cached", len(report.Cached)),
		logger.Int("failed", len(report.Failed)),
		logger.Duration("duration", time.Since(start)))
	return report, nil
}

func (c *Controller) seed(ctx context.Context, asset string) error {
	ref, err := url.Parse(asset)
	if err != nil {
		return err
	}
	target := c.cfg.Origin.ResolveReference(ref)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), http.NoBody)
	if err != nil {
		return err
	}
	resp, err := c.network.Do(ctx, req)
	if err != nil {
		return errors.NetworkError(err, target.String(), 0)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_ = resp.Body.Close()
		return errors.Newf("unexpected status %d", resp.StatusCode).
			Component("lifecycle").
			Category(errors.CategoryHTTP).
			Context("url", target.String()).
			Build()
	}

	snap, _, err := cachetier.Capture(resp)
	if err != nil {
		return err
	}
	return c.tiers.Put(ctx, c.cfg.ShellTier, cachetier.RequestKey(target), snap)
}

// Activate deletes every tier whose name is not in the allow-list and
// takes control. Tiers in the allow-list are left untouched.
func (c *Controller) Activate(ctx context.Context) (*ActivateReport, error) {
	if err := c.transition(Installed, Activating); err != nil {
		return nil, err
	}

	names, err := c.tiers.Names(ctx)
	if err != nil {
		c.set(Installed)
		return nil, err
	}

	report := &ActivateReport{}
	for _, name := range cachetier.Obsolete(names, c.cfg.TierNames) {
		if _, err := c.tiers.DeleteTier(ctx, name); err != nil {
			c.set(Installed)
			return report, err
		}
		c.log.Info("deleted obsolete cache tier", logger.String("tier", name))
		report.Deleted = append(report.Deleted, name)
	}

	c.set(Active)
	c.log.Info("cache lifecycle active", logger.Strings("tiers", c.cfg.TierNames))
	return report, nil
}

// Start installs and, when SkipWaiting is set, activates right away.
func (c *Controller) Start(ctx context.Context) error {
	if _, err := c.Install(ctx); err != nil {
		return err
	}
	if !c.cfg.SkipWaiting {
		c.log.Info("new cache version installed, waiting for activation")
		return nil
	}
	_, err := c.Activate(ctx)
	return err
}
