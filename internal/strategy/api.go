package strategy

import (
	"context"
	"net/http"
	"strings"

	"github.com/tphakala/storykeep/internal/logger"
)

const classAPI = "api"

// APINetworkFirst serves API requests from the network, keeping a snapshot
// of every successful response in the api tier for offline use.
type APINetworkFirst struct {
	Base
	Tier        string
	ListingPath string // gets the offline envelope instead of an error
}

// NewAPINetworkFirst creates the api strategy.
func NewAPINetworkFirst(base Base, tier, listingPath string) *APINetworkFirst {
	return &APINetworkFirst{Base: base, Tier: tier, ListingPath: listingPath}
}

// Handle implements intercept.Strategy.
func (s *APINetworkFirst) Handle(ctx context.Context, req *http.Request, key string) (*http.Response, error) {
	resp, err := s.fetch(ctx, req)
	if err == nil && isOK(resp.StatusCode) {
		out, captureErr := s.capture(ctx, s.Tier, key, resp)
		if captureErr == nil {
			s.record(classAPI, OutcomeNetwork)
			return out, nil
		}
		s.logger().Warn("api response body lost", logger.String("key", key), logger.Error(captureErr))
		resp, err = nil, captureErr
	}

	if snap := s.match(ctx, s.Tier, key); snap != nil {
		discard(resp)
		s.record(classAPI, OutcomeCache)
		return fromTier(snap, req), nil
	}

	// A live non-2xx is still a better answer than nothing
	if resp != nil {
		s.record(classAPI, OutcomeNetwork)
		return resp, nil
	}

	if s.isListing(req) {
		s.logger().Debug("serving offline api envelope", logger.String("key", key))
		s.record(classAPI, OutcomeOffline)
		return OfflineAPIResponse(req), nil
	}

	s.record(classAPI, OutcomeError)
	return nil, err
}

// isListing matches the listing endpoint and the paths below it.
func (s *APINetworkFirst) isListing(req *http.Request) bool {
	if s.ListingPath == "" {
		return false
	}
	p := req.URL.Path
	return p == s.ListingPath || strings.HasPrefix(p, strings.TrimSuffix(s.ListingPath, "/")+"/")
}
