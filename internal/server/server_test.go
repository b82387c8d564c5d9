package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/storykeep/internal/conf"
	"github.com/tphakala/storykeep/internal/datastore"
	skerrors "github.com/tphakala/storykeep/internal/errors"
	"github.com/tphakala/storykeep/internal/httpclient"
	"github.com/tphakala/storykeep/internal/lifecycle"
	"github.com/tphakala/storykeep/internal/logger"
	"github.com/tphakala/storykeep/internal/observability"
	"github.com/tphakala/storykeep/internal/push"
	"github.com/tphakala/storykeep/internal/stories"
)

const (
	appOrigin = "http://app.example.com"
	apiOrigin = "https://story-api.example.com"
)

type fakeLifecycle struct{ active atomic.Bool }

func (f *fakeLifecycle) State() lifecycle.State {
	if f.active.Load() {
		return lifecycle.Active
	}
	return lifecycle.Installed
}
func (f *fakeLifecycle) Controls() bool { return f.active.Load() }

type fakeStories struct {
	result    *stories.Result
	loadErr   error
	favorites []datastore.Favorite
	removed   []string
}

func (f *fakeStories) LoadStories(context.Context, string) (*stories.Result, error) {
	return f.result, f.loadErr
}

func (f *fakeStories) GetStory(_ context.Context, id, _ string) (*datastore.Story, bool, error) {
	if id == "missing" {
		return nil, false, skerrors.Newf("not cached").Category(skerrors.CategoryNotFound).Build()
	}
	return &datastore.Story{ID: id, Name: "Dimas"}, true, nil
}

func (f *fakeStories) AddFavorite(_ context.Context, id string) (*datastore.Favorite, error) {
	fav := datastore.Favorite{Story: datastore.Story{ID: id}, AddedAt: time.Now()}
	f.favorites = append(f.favorites, fav)
	return &fav, nil
}

func (f *fakeStories) RemoveFavorite(_ context.Context, id string) error {
	f.removed = append(f.removed, id)
	return nil
}

func (f *fakeStories) Favorites(context.Context) ([]datastore.Favorite, error) {
	return f.favorites, nil
}

func (f *fakeStories) ClearFavorites(context.Context) (int64, error) {
	n := int64(len(f.favorites))
	f.favorites = nil
	return n, nil
}

type fakeStore struct {
	images  map[string]*datastore.ImageRef
	cleared bool
}

func (f *fakeStore) GetCachedImage(_ context.Context, src string) (*datastore.ImageRef, error) {
	return f.images[src], nil
}

func (f *fakeStore) ListQueue(context.Context) ([]datastore.QueueEntry, error) { return nil, nil }

func (f *fakeStore) ClearAll(context.Context) error {
	f.cleared = true
	return nil
}

type fakeTiers struct{}

func (fakeTiers) Names(context.Context) ([]string, error) {
	return []string{"dicoding-stories-v2"}, nil
}

type fixture struct {
	server      *Server
	network     *httpmock.MockTransport
	interceptor *httpmock.MockTransport
	lifecycle   *fakeLifecycle
	stories     *fakeStories
	store       *fakeStore
}

func testSettings() *conf.Settings {
	return &conf.Settings{
		Server: conf.ServerSettings{Listen: "127.0.0.1:0", ShutdownTimeout: time.Second},
		Upstream: conf.UpstreamSettings{
			AppOrigin:   appOrigin,
			APIOrigin:   apiOrigin,
			APIPrefix:   "/v1/",
			ListingPath: "/v1/stories",
		},
		Cache: conf.CacheSettings{Prefix: "dicoding-stories", Version: "v2"},
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	quiet := logger.NewSlogLogger(nil, logger.LogLevelError, nil)

	network := httpmock.NewMockTransport()
	client := httpclient.New(&httpclient.Config{Transport: network, DisableRedirects: true})
	t.Cleanup(client.Close)

	metrics, err := observability.NewMetrics()
	require.NoError(t, err)

	f := &fixture{
		network:     network,
		interceptor: httpmock.NewMockTransport(),
		lifecycle:   &fakeLifecycle{},
		stories:     &fakeStories{},
		store:       &fakeStore{images: map[string]*datastore.ImageRef{}},
	}
	f.server, err = New(testSettings(), Deps{
		Interceptor: f.interceptor,
		Network:     client,
		Lifecycle:   f.lifecycle,
		Stories:     f.stories,
		Store:       f.store,
		Tiers:       fakeTiers{},
		Push:        push.NewDispatcher(push.DispatcherConfig{Logger: quiet}),
		Metrics:     metrics,
		Logger:      quiet,
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) do(t *testing.T, method, target string, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.server.Echo.ServeHTTP(rec, req)
	return rec
}

func TestProxy_NetworkUntilActive(t *testing.T) {
	f := newFixture(t)
	f.network.RegisterResponder(http.MethodGet, appOrigin+"/index.html",
		httpmock.NewStringResponder(http.StatusOK, "live"))
	f.interceptor.RegisterResponder(http.MethodGet, appOrigin+"/index.html",
		httpmock.NewStringResponder(http.StatusOK, "intercepted"))

	rec := f.do(t, http.MethodGet, "/index.html", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "live", rec.Body.String())

	f.lifecycle.active.Store(true)
	rec = f.do(t, http.MethodGet, "/index.html", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "intercepted", rec.Body.String())
}

func TestProxy_APIPathsGoToAPIOrigin(t *testing.T) {
	f := newFixture(t)
	f.lifecycle.active.Store(true)
	f.interceptor.RegisterResponder(http.MethodGet, apiOrigin+"/v1/stories",
		func(req *http.Request) (*http.Response, error) {
			assert.Empty(t, req.RequestURI)
			assert.Equal(t, "2", req.URL.Query().Get("page"))
			return httpmock.NewStringResponse(http.StatusOK, `{"error":false}`), nil
		})

	rec := f.do(t, http.MethodGet, "/v1/stories?page=2", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"error":false}`, rec.Body.String())
}

func TestProxy_RedirectReachesClient(t *testing.T) {
	redirect := func(location string) httpmock.Responder {
		return func(*http.Request) (*http.Response, error) {
			resp := httpmock.NewStringResponse(http.StatusFound, "")
			resp.Header.Set("Location", location)
			resp.Header.Set("Set-Cookie", "session=abc; Path=/")
			return resp, nil
		}
	}

	for _, active := range []bool{false, true} {
		f := newFixture(t)
		f.lifecycle.active.Store(active)
		f.network.RegisterResponder(http.MethodGet, appOrigin+"/account", redirect(appOrigin+"/login?next=%2Faccount"))
		f.network.RegisterResponder(http.MethodGet, appOrigin+"/login", httpmock.NewStringResponder(http.StatusOK, "login"))
		f.interceptor.RegisterResponder(http.MethodGet, appOrigin+"/account", redirect("/login"))

		rec := f.do(t, http.MethodGet, "/account", "")
		assert.Equal(t, http.StatusFound, rec.Code, "active=%v", active)
		assert.Equal(t, "session=abc; Path=/", rec.Header().Get("Set-Cookie"))
		if active {
			assert.Equal(t, "/login", rec.Header().Get("Location"))
		} else {
			assert.Equal(t, "/login?next=%2Faccount", rec.Header().Get("Location"), "upstream origin is rewritten onto the proxy")
			assert.Equal(t, 1, f.network.GetTotalCallCount(), "the redirect is not followed server-side")
		}
	}
}

func TestRewriteLocation(t *testing.T) {
	app, err := url.Parse(appOrigin)
	require.NoError(t, err)
	api, err := url.Parse(apiOrigin)
	require.NoError(t, err)

	tests := []struct {
		location string
		want     string
	}{
		{appOrigin + "/login?next=%2F", "/login?next=%2F"},
		{apiOrigin, "/"},
		{apiOrigin + "/v1/login#form", "/v1/login#form"},
		{"https://accounts.example.org/sso", "https://accounts.example.org/sso"},
		{"/already/relative", "/already/relative"},
		{"", ""},
	}
	for _, tt := range tests {
		resp := &http.Response{Header: http.Header{}}
		if tt.location != "" {
			resp.Header.Set("Location", tt.location)
		}
		rewriteLocation(resp, app, api)
		assert.Equal(t, tt.want, resp.Header.Get("Location"), tt.location)
	}
}

func TestProxy_PropagatedFailureIsBadGateway(t *testing.T) {
	f := newFixture(t)
	f.lifecycle.active.Store(true)
	f.interceptor.RegisterResponder(http.MethodGet, appOrigin+"/styles.css",
		httpmock.NewErrorResponder(errors.New("network unreachable")))

	rec := f.do(t, http.MethodGet, "/styles.css", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestHealthAndStatus(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","lifecycle":"installed"}`, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/_offline/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var status map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, false, status["controls"])
	assert.Len(t, status["tiers"], 4)
}

func TestStoriesEndpoints(t *testing.T) {
	f := newFixture(t)
	f.stories.result = &stories.Result{
		Stories: []datastore.Story{{ID: "story-1", Name: "Dimas"}},
		Offline: true,
	}

	rec := f.do(t, http.MethodGet, "/_offline/stories", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var env struct {
		Error     bool              `json:"error"`
		Offline   bool              `json:"offline"`
		ListStory []datastore.Story `json:"listStory"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.False(t, env.Error)
	assert.True(t, env.Offline)
	require.Len(t, env.ListStory, 1)

	f.stories.result, f.stories.loadErr = nil, stories.ErrNoCachedStories
	rec = f.do(t, http.MethodGet, "/_offline/stories", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"error":true`)

	rec = f.do(t, http.MethodGet, "/_offline/stories/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/_offline/stories/story-1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestFavoritesEndpoints(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPut, "/_offline/favorites/story-1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/_offline/favorites", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "story-1")

	rec = f.do(t, http.MethodDelete, "/_offline/favorites/story-1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"story-1"}, f.stories.removed)

	rec = f.do(t, http.MethodDelete, "/_offline/favorites", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"cleared":1}`, rec.Body.String())
}

func TestImageEndpoint(t *testing.T) {
	f := newFixture(t)
	src := apiOrigin + "/images/1.png"
	f.store.images[src] = &datastore.ImageRef{
		SourceURL:   src,
		ContentType: "image/png",
		Data:        []byte("png-bytes"),
		CachedAt:    time.Now(),
	}

	rec := f.do(t, http.MethodGet, datastore.LocalImageURL(src), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, "png-bytes", rec.Body.String())

	rec = f.do(t, http.MethodGet, datastore.LocalImageURL(apiOrigin+"/images/2.png"), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/_offline/images", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestClearData(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodDelete, "/_offline/data", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.True(t, f.store.cleared)
}

func TestPushAndNotificationClick(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/_push", `{"title":"Baru","options":{"data":{"url":"/stories/story-1"}}}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var n push.Notification
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &n))
	assert.Equal(t, "Baru", n.Title)
	require.NotEmpty(t, n.ID)

	rec = f.do(t, http.MethodGet, "/_push/open/"+n.ID, "")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/stories/story-1", rec.Header().Get("Location"))

	rec = f.do(t, http.MethodGet, "/_push/open/unknown", "")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	_ = f.do(t, http.MethodGet, "/health", "")

	rec := f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `http_requests_total{method="GET",route="/health",status_code="200"} 1`)
}

func TestIsLocal(t *testing.T) {
	assert.True(t, isLocal("/_offline/status"))
	assert.True(t, isLocal("/health"))
	assert.False(t, isLocal("/healthy"))
	assert.False(t, isLocal("/v1/stories"))
}
