// Package strategy implements the per-class fallback policies that combine
// the live network with the cache tiers into one effective data source.
//
//	api         network first, then the api tier, then an offline JSON envelope
//	image       image tier first, then network, then an empty 503
//	navigation  network first, then the cached shell, then an offline page
//	generic     any tier first, then network; failures propagate
package strategy

import (
	"context"
	"io"
	"net/http"
	"net/url"

	"github.com/tphakala/storykeep/internal/cachetier"
	"github.com/tphakala/storykeep/internal/errors"
	"github.com/tphakala/storykeep/internal/logger"
)

// Outcomes reported to the metrics recorder.
const (
	OutcomeNetwork = "network"
	OutcomeCache   = "cache"
	OutcomeOffline = "offline"
	OutcomeError   = "error"
)

// Fetcher performs live network requests. *httpclient.Client satisfies it.
type Fetcher interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Tiers is the snapshot storage used by strategies. *cachetier.Storage satisfies it.
type Tiers interface {
	Match(ctx context.Context, tier, key string) (*cachetier.Snapshot, error)
	Put(ctx context.Context, tier, key string, snap *cachetier.Snapshot) error
}

// Recorder counts strategy outcomes. *metrics.CacheMetrics satisfies it.
type Recorder interface {
	RecordStrategy(class, outcome string)
}

// Base carries the collaborators shared by every strategy.
type Base struct {
	Network Fetcher
	Tiers   Tiers
	Log     logger.Logger
	Metrics Recorder
}

func (b *Base) logger() logger.Logger {
	if b.Log == nil {
		return logger.Global().Module("strategy")
	}
	return b.Log
}

func (b *Base) record(class, outcome string) {
	if b.Metrics != nil {
		b.Metrics.RecordStrategy(class, outcome)
	}
}

// match looks key up, treating storage failures as a miss.
func (b *Base) match(ctx context.Context, tier, key string) *cachetier.Snapshot {
	snap, err := b.Tiers.Match(ctx, tier, key)
	if err != nil {
		b.logger().Warn("cache lookup failed, treating as miss",
			logger.String("tier", tier),
			logger.String("key", key),
			logger.Error(err))
		return nil
	}
	return snap
}

// capture snapshots resp into tier and returns the response to hand back.
// A failed cache write is logged and swallowed. A failed body read is
// returned as an error since the live response is no longer usable.
func (b *Base) capture(ctx context.Context, tier, key string, resp *http.Response) (*http.Response, error) {
	snap, out, err := cachetier.Capture(resp)
	if err != nil {
		return nil, err
	}
	// The write outlives a client that disconnects right after the response
	if err := b.Tiers.Put(context.WithoutCancel(ctx), tier, key, snap); err != nil {
		b.logger().Warn("cache write failed",
			logger.String("tier", tier),
			logger.String("key", key),
			logger.Error(errors.New(err).
				Component("strategy").
				Category(errors.CategoryCacheWrite).
				Build()))
	}
	return out, nil
}

// fromTier materializes snap for req, marked as served from the cache.
func fromTier(snap *cachetier.Snapshot, req *http.Request) *http.Response {
	resp := snap.Response(req)
	resp.Header.Set(cachetier.SourceHeader, cachetier.SourceCache)
	return resp
}

func (b *Base) fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	resp, err := b.Network.Do(ctx, req)
	if err != nil {
		return nil, errors.New(err).
			Component("strategy").
			Category(errors.CategoryNetwork).
			NetworkContext(req.URL.String(), 0).
			Build()
	}
	return resp, nil
}

func isOK(status int) bool {
	return status >= 200 && status <= 299
}

// discard drains and closes a response that will not be returned.
func discard(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

// resolve returns the tier key of path on the origin of base.
func resolve(base *url.URL, path string) string {
	ref, err := url.Parse(path)
	if err != nil {
		return ""
	}
	return cachetier.RequestKey(base.ResolveReference(ref))
}
