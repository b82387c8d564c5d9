package intercept

import (
	"context"
	"net/http"
	"time"

	"github.com/tphakala/storykeep/internal/errors"
	"github.com/tphakala/storykeep/internal/logger"
)

// Strategy produces the response for one request class.
type Strategy interface {
	Handle(ctx context.Context, req *http.Request, key string) (*http.Response, error)
}

// Fetcher performs live network requests. *httpclient.Client satisfies it.
type Fetcher interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Interceptor is an http.RoundTripper that classifies every GET and hands it
// to the strategy registered for its class. Non-GET requests, bypassed
// requests and classes without a strategy go straight to the network.
type Interceptor struct {
	classifier Classifier
	network    Fetcher
	strategies map[Class]Strategy
	log        logger.Logger
}

// Option configures an Interceptor.
type Option func(*Interceptor)

// WithStrategy registers s for class c.
func WithStrategy(c Class, s Strategy) Option {
	return func(i *Interceptor) {
		i.strategies[c] = s
	}
}

// WithLogger sets the interceptor logger.
func WithLogger(l logger.Logger) Option {
	return func(i *Interceptor) {
		i.log = l
	}
}

// New creates an Interceptor.
func New(classifier Classifier, network Fetcher, opts ...Option) *Interceptor {
	i := &Interceptor{
		classifier: classifier,
		network:    network,
		strategies: make(map[Class]Strategy),
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.log == nil {
		i.log = logger.Global().Module("intercept")
	}
	return i
}

// RoundTrip implements http.RoundTripper.
func (i *Interceptor) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	if req.Method != http.MethodGet {
		return i.network.Do(ctx, req)
	}

	c := i.classifier.Classify(req)
	strategy, ok := i.strategies[c.Class]
	if c.Class == Bypass || !ok {
		return i.network.Do(ctx, req)
	}

	start := time.Now()
	resp, err := strategy.Handle(ctx, req, c.Key)
	fields := []logger.Field{
		logger.String("class", c.Class.String()),
		logger.String("key", c.Key),
		logger.Duration("duration", time.Since(start)),
	}
	if err != nil {
		i.log.WithContext(ctx).Debug("request failed", append(fields, logger.Error(err))...)
		return nil, err
	}
	if resp == nil {
		return nil, errors.Newf("%s strategy returned no response", c.Class).
			Component("intercept").
			Category(errors.CategoryGeneric).
			Context("key", c.Key).
			Build()
	}
	i.log.WithContext(ctx).Debug("request handled", append(fields, logger.Int("status", resp.StatusCode))...)
	return resp, nil
}

// Classify exposes the interceptor's classification of req.
func (i *Interceptor) Classify(req *http.Request) Classification {
	return i.classifier.Classify(req)
}
