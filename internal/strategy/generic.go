package strategy

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/tphakala/storykeep/internal/cachetier"
)

const classGeneric = "generic"

// GenericCacheFirst serves static resources from any tier, fetching on a miss
// and keeping only direct same-origin 200 responses in the runtime tier.
// It is the one strategy that propagates network failure.
type GenericCacheFirst struct {
	Base
	Tier   string
	Origin *url.URL // responses from other origins are never cached; nil uses the request origin
}

// NewGenericCacheFirst creates the generic strategy.
func NewGenericCacheFirst(base Base, tier string, origin *url.URL) *GenericCacheFirst {
	return &GenericCacheFirst{Base: base, Tier: tier, Origin: origin}
}

// Handle implements intercept.Strategy.
func (s *GenericCacheFirst) Handle(ctx context.Context, req *http.Request, key string) (*http.Response, error) {
	if snap := s.match(ctx, "", key); snap != nil {
		s.record(classGeneric, OutcomeCache)
		return fromTier(snap, req), nil
	}

	resp, err := s.fetch(ctx, req)
	if err != nil {
		s.record(classGeneric, OutcomeError)
		return nil, err
	}

	s.record(classGeneric, OutcomeNetwork)
	if !s.cacheable(req, key, resp) {
		return resp, nil
	}
	return s.capture(ctx, s.Tier, key, resp)
}

// cacheable accepts only a 200 that was not redirected and came from the
// expected origin.
func (s *GenericCacheFirst) cacheable(req *http.Request, key string, resp *http.Response) bool {
	if resp.StatusCode != http.StatusOK {
		return false
	}
	final := req.URL
	if resp.Request != nil && resp.Request.URL != nil {
		final = resp.Request.URL
	}
	if cachetier.RequestKey(final) != key {
		return false
	}
	origin := s.Origin
	if origin == nil {
		origin = req.URL
	}
	return sameOrigin(final, origin)
}

func sameOrigin(a, b *url.URL) bool {
	return strings.EqualFold(a.Scheme, b.Scheme) && strings.EqualFold(a.Host, b.Host)
}
