package strategy

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"sync"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/storykeep/internal/cachetier"
	skerrors "github.com/tphakala/storykeep/internal/errors"
	"github.com/tphakala/storykeep/internal/httpclient"
	"github.com/tphakala/storykeep/internal/logger"
)

const (
	apiTier     = "dicoding-stories-api-v2"
	imageTier   = "dicoding-stories-images-v2"
	shellTier   = "dicoding-stories-v2"
	runtimeTier = "dicoding-stories-runtime-v2"

	listingURL = "https://story-api.example.com/v1/stories"
)

var errOffline = errors.New("dial tcp: network is unreachable")

type outcomeRecorder struct {
	mu       sync.Mutex
	outcomes []string
}

func (r *outcomeRecorder) RecordStrategy(class, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, class+":"+outcome)
}

type harness struct {
	mock    *httpmock.MockTransport
	tiers   *cachetier.Storage
	metrics *outcomeRecorder
	base    Base
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mock := httpmock.NewMockTransport()
	client := httpclient.New(&httpclient.Config{Transport: mock})
	t.Cleanup(client.Close)

	quiet := logger.NewSlogLogger(nil, logger.LogLevelError, nil)
	tiers, err := cachetier.NewStorage(t.Context(), cachetier.Config{
		Path:   filepath.Join(t.TempDir(), "cache.db"),
		Logger: quiet,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tiers.Close() })

	metrics := &outcomeRecorder{}
	return &harness{
		mock:    mock,
		tiers:   tiers,
		metrics: metrics,
		base:    Base{Network: client, Tiers: tiers, Log: quiet, Metrics: metrics},
	}
}

func newGet(t *testing.T, rawURL string) *http.Request {
	t.Helper()
	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, rawURL, http.NoBody)
	require.NoError(t, err)
	return req
}

func keyOf(req *http.Request) string {
	return cachetier.RequestKey(req.URL)
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	require.NotNil(t, resp)
	defer func() { _ = resp.Body.Close() }()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func (h *harness) seed(t *testing.T, tier, rawURL, body string) {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	require.NoError(t, h.tiers.Put(t.Context(), tier, cachetier.RequestKey(u), &cachetier.Snapshot{
		URL:    rawURL,
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": {"text/plain"}},
		Body:   []byte(body),
	}))
}

func TestAPINetworkFirst_SnapshotThenOffline(t *testing.T) {
	h := newHarness(t)
	s := NewAPINetworkFirst(h.base, apiTier, "/v1/stories")
	payload := `{"error":false,"message":"Stories fetched successfully","listStory":[{"id":"story-1"}]}`

	h.mock.RegisterResponder(http.MethodGet, listingURL, httpmock.NewStringResponder(http.StatusOK, payload))
	req := newGet(t, listingURL)
	resp, err := s.Handle(t.Context(), req, keyOf(req))
	require.NoError(t, err)
	assert.False(t, cachetier.FromCache(resp), "live responses are not marked")
	assert.Equal(t, payload, readBody(t, resp))

	snap, err := h.tiers.Match(t.Context(), apiTier, keyOf(req))
	require.NoError(t, err)
	require.NotNil(t, snap, "successful api responses are snapshotted under the classification key")

	h.mock.RegisterResponder(http.MethodGet, listingURL, httpmock.NewErrorResponder(errOffline))
	req = newGet(t, listingURL)
	resp, err = s.Handle(t.Context(), req, keyOf(req))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, cachetier.SourceCache, resp.Header.Get(cachetier.SourceHeader))
	assert.Equal(t, payload, readBody(t, resp), "offline replay returns identical bytes")

	assert.Equal(t, []string{"api:network", "api:cache"}, h.metrics.outcomes)
}

func TestAPINetworkFirst_OfflineListingEnvelope(t *testing.T) {
	h := newHarness(t)
	s := NewAPINetworkFirst(h.base, apiTier, "/v1/stories")

	h.mock.RegisterResponder(http.MethodGet, listingURL, httpmock.NewErrorResponder(errOffline))
	req := newGet(t, listingURL)
	resp, err := s.Handle(t.Context(), req, keyOf(req))
	require.NoError(t, err)

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Equal(t, `{"error":true,"message":"Offline - data tidak tersedia"}`, readBody(t, resp))
}

func TestAPINetworkFirst_OfflineDetailEnvelope(t *testing.T) {
	h := newHarness(t)
	s := NewAPINetworkFirst(h.base, apiTier, "/v1/stories")

	detail := listingURL + "/story-42"
	h.mock.RegisterResponder(http.MethodGet, detail, httpmock.NewErrorResponder(errOffline))
	req := newGet(t, detail)
	resp, err := s.Handle(t.Context(), req, keyOf(req))
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestAPINetworkFirst_OtherPathPropagates(t *testing.T) {
	h := newHarness(t)
	s := NewAPINetworkFirst(h.base, apiTier, "/v1/stories")

	u := "https://story-api.example.com/v1/notifications/subscribe"
	h.mock.RegisterResponder(http.MethodGet, u, httpmock.NewErrorResponder(errOffline))
	req := newGet(t, u)
	resp, err := s.Handle(t.Context(), req, keyOf(req))
	require.Error(t, err)
	assert.Nil(t, resp)
	assert.True(t, skerrors.IsNetwork(err))
	assert.Equal(t, []string{"api:error"}, h.metrics.outcomes)
}

func TestAPINetworkFirst_Non2xx(t *testing.T) {
	h := newHarness(t)
	s := NewAPINetworkFirst(h.base, apiTier, "/v1/stories")

	t.Run("live response without snapshot", func(t *testing.T) {
		h.mock.RegisterResponder(http.MethodGet, listingURL,
			httpmock.NewStringResponder(http.StatusUnauthorized, `{"error":true,"message":"Missing authentication"}`))
		req := newGet(t, listingURL)
		resp, err := s.Handle(t.Context(), req, keyOf(req))
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Contains(t, readBody(t, resp), "Missing authentication")

		snap, err := h.tiers.Match(t.Context(), apiTier, keyOf(req))
		require.NoError(t, err)
		assert.Nil(t, snap, "non-2xx responses are never snapshotted")
	})

	t.Run("snapshot preferred over live error", func(t *testing.T) {
		h.seed(t, apiTier, listingURL, "cached listing")
		h.mock.RegisterResponder(http.MethodGet, listingURL, httpmock.NewStringResponder(http.StatusBadGateway, "bad gateway"))
		req := newGet(t, listingURL)
		resp, err := s.Handle(t.Context(), req, keyOf(req))
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "cached listing", readBody(t, resp))
	})
}

func TestImageCacheFirst_HitNeverTouchesNetwork(t *testing.T) {
	h := newHarness(t)
	s := NewImageCacheFirst(h.base, imageTier)
	img := "https://story-api.example.com/images/stories/photo.jpg"

	h.seed(t, imageTier, img, "jpeg bytes")
	h.mock.RegisterResponder(http.MethodGet, img, httpmock.NewStringResponder(http.StatusOK, "fresh bytes"))

	for range 3 {
		req := newGet(t, img)
		resp, err := s.Handle(t.Context(), req, keyOf(req))
		require.NoError(t, err)
		assert.Equal(t, "jpeg bytes", readBody(t, resp))
	}
	assert.Zero(t, h.mock.GetTotalCallCount())
}

func TestImageCacheFirst_MissFetchesOnce(t *testing.T) {
	h := newHarness(t)
	s := NewImageCacheFirst(h.base, imageTier)
	img := "https://story-api.example.com/images/stories/photo.png"

	h.mock.RegisterResponder(http.MethodGet, img, httpmock.NewStringResponder(http.StatusOK, "png bytes"))

	for range 2 {
		req := newGet(t, img)
		resp, err := s.Handle(t.Context(), req, keyOf(req))
		require.NoError(t, err)
		assert.Equal(t, "png bytes", readBody(t, resp))
	}
	assert.Equal(t, 1, h.mock.GetTotalCallCount())
}

func TestImageCacheFirst_Offline(t *testing.T) {
	h := newHarness(t)
	s := NewImageCacheFirst(h.base, imageTier)
	img := "https://story-api.example.com/images/stories/missing.webp"

	h.mock.RegisterResponder(http.MethodGet, img, httpmock.NewErrorResponder(errOffline))
	req := newGet(t, img)
	resp, err := s.Handle(t.Context(), req, keyOf(req))
	require.NoError(t, err, "image requests never fail")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Empty(t, readBody(t, resp))
}

func TestImageCacheFirst_NotFoundNotCached(t *testing.T) {
	h := newHarness(t)
	s := NewImageCacheFirst(h.base, imageTier)
	img := "https://story-api.example.com/images/stories/gone.gif"

	h.mock.RegisterResponder(http.MethodGet, img, httpmock.NewStringResponder(http.StatusNotFound, ""))
	for range 2 {
		req := newGet(t, img)
		resp, err := s.Handle(t.Context(), req, keyOf(req))
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		_ = readBody(t, resp)
	}
	assert.Equal(t, 2, h.mock.GetTotalCallCount())
}

func TestNavigationShellFallback(t *testing.T) {
	page := "https://app.example.com/stories/42"

	t.Run("network response returned as is", func(t *testing.T) {
		h := newHarness(t)
		s := NewNavigationShellFallback(h.base, shellTier)
		h.mock.RegisterResponder(http.MethodGet, page, httpmock.NewStringResponder(http.StatusNotFound, "not here"))

		req := newGet(t, page)
		resp, err := s.Handle(t.Context(), req, keyOf(req))
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, "not here", readBody(t, resp))
	})

	t.Run("offline serves root shell", func(t *testing.T) {
		h := newHarness(t)
		s := NewNavigationShellFallback(h.base, shellTier)
		h.seed(t, shellTier, "https://app.example.com/", "<html>root shell</html>")
		h.seed(t, shellTier, "https://app.example.com/index.html", "<html>index shell</html>")
		h.mock.RegisterResponder(http.MethodGet, page, httpmock.NewErrorResponder(errOffline))

		req := newGet(t, page)
		resp, err := s.Handle(t.Context(), req, keyOf(req))
		require.NoError(t, err)
		assert.Equal(t, "<html>root shell</html>", readBody(t, resp))
	})

	t.Run("offline falls back to index.html", func(t *testing.T) {
		h := newHarness(t)
		s := NewNavigationShellFallback(h.base, shellTier)
		h.seed(t, shellTier, "https://app.example.com/index.html", "<html>index shell</html>")
		h.mock.RegisterResponder(http.MethodGet, page, httpmock.NewErrorResponder(errOffline))

		req := newGet(t, page)
		resp, err := s.Handle(t.Context(), req, keyOf(req))
		require.NoError(t, err)
		assert.Equal(t, "<html>index shell</html>", readBody(t, resp))
	})

	t.Run("offline without shell", func(t *testing.T) {
		h := newHarness(t)
		s := NewNavigationShellFallback(h.base, shellTier)
		h.mock.RegisterResponder(http.MethodGet, page, httpmock.NewErrorResponder(errOffline))

		req := newGet(t, page)
		resp, err := s.Handle(t.Context(), req, keyOf(req))
		require.NoError(t, err)
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		assert.Equal(t, "text/html", resp.Header.Get("Content-Type"))
		assert.Equal(t, "Offline - halaman tidak tersedia", readBody(t, resp))
	})
}

func TestGenericCacheFirst(t *testing.T) {
	origin, err := url.Parse("https://app.example.com")
	require.NoError(t, err)

	t.Run("hit in any tier", func(t *testing.T) {
		h := newHarness(t)
		s := NewGenericCacheFirst(h.base, runtimeTier, origin)
		h.seed(t, shellTier, "https://app.example.com/styles/styles.css", "body{}")

		req := newGet(t, "https://app.example.com/styles/styles.css")
		resp, err := s.Handle(t.Context(), req, keyOf(req))
		require.NoError(t, err)
		assert.Equal(t, "body{}", readBody(t, resp))
		assert.Zero(t, h.mock.GetTotalCallCount())
	})

	t.Run("same-origin 200 cached in runtime tier", func(t *testing.T) {
		h := newHarness(t)
		s := NewGenericCacheFirst(h.base, runtimeTier, origin)
		u := "https://app.example.com/scripts/chunk.js"
		h.mock.RegisterResponder(http.MethodGet, u, httpmock.NewStringResponder(http.StatusOK, "console.log(1)"))

		req := newGet(t, u)
		resp, err := s.Handle(t.Context(), req, keyOf(req))
		require.NoError(t, err)
		assert.Equal(t, "console.log(1)", readBody(t, resp))

		snap, err := h.tiers.Match(t.Context(), runtimeTier, keyOf(req))
		require.NoError(t, err)
		require.NotNil(t, snap)
		assert.Equal(t, "console.log(1)", string(snap.Body))
	})

	t.Run("uncacheable responses", func(t *testing.T) {
		h := newHarness(t)
		s := NewGenericCacheFirst(h.base, runtimeTier, origin)

		h.mock.RegisterResponder(http.MethodGet, "https://app.example.com/old.css", func(*http.Request) (*http.Response, error) {
			resp := httpmock.NewStringResponse(http.StatusFound, "")
			resp.Header.Set("Location", "/new.css")
			return resp, nil
		})
		h.mock.RegisterResponder(http.MethodGet, "https://app.example.com/new.css", httpmock.NewStringResponder(http.StatusOK, "new"))
		h.mock.RegisterResponder(http.MethodGet, "https://cdn.other.example/lib.js", httpmock.NewStringResponder(http.StatusOK, "lib"))
		h.mock.RegisterResponder(http.MethodGet, "https://app.example.com/partial.txt", httpmock.NewStringResponder(http.StatusNoContent, ""))

		for _, u := range []string{
			"https://app.example.com/old.css",
			"https://cdn.other.example/lib.js",
			"https://app.example.com/partial.txt",
		} {
			req := newGet(t, u)
			resp, err := s.Handle(t.Context(), req, keyOf(req))
			require.NoError(t, err, u)
			_ = readBody(t, resp)
		}

		keys, err := h.tiers.Keys(t.Context(), runtimeTier)
		require.NoError(t, err)
		assert.Empty(t, keys, "redirected, cross-origin and non-200 responses are not cached")
	})

	t.Run("miss while offline propagates", func(t *testing.T) {
		h := newHarness(t)
		s := NewGenericCacheFirst(h.base, runtimeTier, origin)
		u := "https://app.example.com/fonts/inter.woff2"
		h.mock.RegisterResponder(http.MethodGet, u, httpmock.NewErrorResponder(errOffline))

		req := newGet(t, u)
		resp, err := s.Handle(t.Context(), req, keyOf(req))
		require.Error(t, err)
		assert.Nil(t, resp)
		assert.True(t, skerrors.IsNetwork(err))
	})
}

// brokenTiers fails every lookup and write.
type brokenTiers struct{}

func (brokenTiers) Match(context.Context, string, string) (*cachetier.Snapshot, error) {
	return nil, errors.New("disk full")
}

func (brokenTiers) Put(context.Context, string, string, *cachetier.Snapshot) error {
	return errors.New("disk full")
}

func TestStrategies_StorageFailuresAreSwallowed(t *testing.T) {
	h := newHarness(t)
	base := h.base
	base.Tiers = brokenTiers{}

	h.mock.RegisterResponder(http.MethodGet, listingURL, httpmock.NewStringResponder(http.StatusOK, `{"error":false}`))
	img := "https://story-api.example.com/images/a.png"
	h.mock.RegisterResponder(http.MethodGet, img, httpmock.NewStringResponder(http.StatusOK, "png"))

	api := NewAPINetworkFirst(base, apiTier, "/v1/stories")
	req := newGet(t, listingURL)
	resp, err := api.Handle(t.Context(), req, keyOf(req))
	require.NoError(t, err, "a failed cache write must not fail the request")
	assert.JSONEq(t, `{"error":false}`, readBody(t, resp))

	image := NewImageCacheFirst(base, imageTier)
	req = newGet(t, img)
	resp, err = image.Handle(t.Context(), req, keyOf(req))
	require.NoError(t, err, "a failed lookup behaves like a miss")
	assert.Equal(t, "png", readBody(t, resp))
}
