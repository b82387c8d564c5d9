package strategy

import (
	"context"
	"net/http"

	"github.com/tphakala/storykeep/internal/logger"
)

const classImage = "image"

// ImageCacheFirst serves images from the image tier without revalidation,
// fetching only on a miss. It always produces a response.
type ImageCacheFirst struct {
	Base
	Tier string
}

// NewImageCacheFirst creates the image strategy.
func NewImageCacheFirst(base Base, tier string) *ImageCacheFirst {
	return &ImageCacheFirst{Base: base, Tier: tier}
}

// Handle implements intercept.Strategy.
func (s *ImageCacheFirst) Handle(ctx context.Context, req *http.Request, key string) (*http.Response, error) {
	if snap := s.match(ctx, s.Tier, key); snap != nil {
		s.record(classImage, OutcomeCache)
		return fromTier(snap, req), nil
	}

	resp, err := s.fetch(ctx, req)
	if err != nil {
		s.logger().Debug("image unavailable offline", logger.String("key", key), logger.Error(err))
		s.record(classImage, OutcomeOffline)
		return OfflineImageResponse(req), nil
	}

	if !isOK(resp.StatusCode) {
		s.record(classImage, OutcomeNetwork)
		return resp, nil
	}

	out, err := s.capture(ctx, s.Tier, key, resp)
	if err != nil {
		s.record(classImage, OutcomeOffline)
		return OfflineImageResponse(req), nil
	}
	s.record(classImage, OutcomeNetwork)
	return out, nil
}
