package app

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/storykeep/internal/conf"
	skerrors "github.com/tphakala/storykeep/internal/errors"
	"github.com/tphakala/storykeep/internal/lifecycle"
	"github.com/tphakala/storykeep/internal/logger"
	"github.com/tphakala/storykeep/internal/strategy"
)

const (
	appOrigin = "http://app.example.com"
	apiOrigin = "https://story-api.example.com"
	listing   = `{"error":false,"message":"Stories fetched successfully","listStory":[` +
		`{"id":"story-1","name":"Dimas","description":"Sunset","photoUrl":"https://story-api.example.com/images/1.png","createdAt":"2024-03-01T10:00:00Z"}]}`
)

func testSettings(t *testing.T) *conf.Settings {
	t.Helper()
	dir := t.TempDir()
	return &conf.Settings{
		Server: conf.ServerSettings{Listen: "127.0.0.1:0", ShutdownTimeout: time.Second},
		Upstream: conf.UpstreamSettings{
			AppOrigin:   appOrigin,
			APIOrigin:   apiOrigin,
			APIPrefix:   "/v1/",
			ListingPath: "/v1/stories",
			Timeout:     5 * time.Second,
		},
		Cache: conf.CacheSettings{
			Prefix:             "dicoding-stories",
			Version:            "v2",
			Path:               filepath.Join(dir, "cache.db"),
			MemoryTTL:          time.Minute,
			Manifest:           []string{"/", "/index.html", "/missing.js"},
			InstallConcurrency: 2,
			SkipWaiting:        true,
		},
		Store: conf.StoreSettings{
			Path:     filepath.Join(dir, "stories.db"),
			PageSize: 12,
		},
		Push: conf.PushSettings{Remember: time.Minute},
	}
}

func newTestApp(t *testing.T) (*App, *httpmock.MockTransport) {
	t.Helper()
	mock := httpmock.NewMockTransport()
	mock.RegisterResponder(http.MethodGet, appOrigin+"/", httpmock.NewStringResponder(http.StatusOK, "<html>shell</html>"))
	mock.RegisterResponder(http.MethodGet, appOrigin+"/index.html", httpmock.NewStringResponder(http.StatusOK, "<html>shell</html>"))
	mock.RegisterResponder(http.MethodGet, appOrigin+"/missing.js", httpmock.NewStringResponder(http.StatusNotFound, ""))
	mock.RegisterResponder(http.MethodGet, apiOrigin+"/v1/stories", httpmock.NewStringResponder(http.StatusOK, listing))
	mock.RegisterResponder(http.MethodGet, apiOrigin+"/images/1.png", httpmock.NewBytesResponder(http.StatusOK, []byte("\x89PNG\r\n\x1a\n")))

	a, err := New(t.Context(), testSettings(t), Options{Transport: mock})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a, mock
}

func serve(t *testing.T, a *App, target string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	srv, err := a.NewServer()
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, target, http.NoBody)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	srv.Echo.ServeHTTP(rec, req)
	return rec
}

func goOffline(mock *httpmock.MockTransport) {
	mock.Reset()
	mock.RegisterNoResponder(httpmock.NewErrorResponder(errors.New("network unreachable")))
}

func TestStart_InstallsAndActivates(t *testing.T) {
	a, _ := newTestApp(t)

	require.NoError(t, a.Lifecycle.Start(t.Context()))
	assert.Equal(t, lifecycle.Active, a.Lifecycle.State())

	keys, err := a.Tiers.Keys(t.Context(), a.Settings.Cache.ShellTier())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{appOrigin + "/", appOrigin + "/index.html"}, keys)
}

func TestOfflineRoundTrip(t *testing.T) {
	a, mock := newTestApp(t)
	require.NoError(t, a.Lifecycle.Start(t.Context()))

	rec := serve(t, a, "/v1/stories", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, listing, rec.Body.String())

	goOffline(mock)

	t.Run("api served from snapshot", func(t *testing.T) {
		rec := serve(t, a, "/v1/stories", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, listing, rec.Body.String())
	})

	t.Run("navigation served from shell", func(t *testing.T) {
		rec := serve(t, a, "/stories/story-1", map[string]string{"Sec-Fetch-Mode": "navigate"})
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "<html>shell</html>", rec.Body.String())
	})

	t.Run("unseen listing page gets offline envelope", func(t *testing.T) {
		rec := serve(t, a, "/v1/stories?page=9", nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), strategy.OfflineAPIMessage)
	})
}

func TestRedirectsReachClient(t *testing.T) {
	a, mock := newTestApp(t)
	require.NoError(t, a.Lifecycle.Start(t.Context()))

	mock.RegisterResponder(http.MethodGet, appOrigin+"/account", func(*http.Request) (*http.Response, error) {
		resp := httpmock.NewStringResponse(http.StatusFound, "")
		resp.Header.Set("Location", appOrigin+"/login")
		resp.Header.Set("Set-Cookie", "session=abc; Path=/")
		return resp, nil
	})
	mock.RegisterResponder(http.MethodGet, appOrigin+"/login", httpmock.NewStringResponder(http.StatusOK, "<html>login</html>"))

	for name, header := range map[string]map[string]string{
		"navigate": {"Sec-Fetch-Mode": "navigate"},
		"no mode":  nil,
	} {
		t.Run(name, func(t *testing.T) {
			before := mock.GetCallCountInfo()["GET "+appOrigin+"/login"]

			rec := serve(t, a, "/account", header)
			assert.Equal(t, http.StatusFound, rec.Code)
			assert.Equal(t, "/login", rec.Header().Get("Location"))
			assert.Equal(t, "session=abc; Path=/", rec.Header().Get("Set-Cookie"))
			assert.Equal(t, before, mock.GetCallCountInfo()["GET "+appOrigin+"/login"], "redirect followed server-side")
		})
	}

	keys, err := a.Tiers.Keys(t.Context(), a.Settings.Cache.RuntimeTier())
	require.NoError(t, err)
	assert.NotContains(t, keys, appOrigin+"/account", "redirects are never cached")
}

func TestStoriesThroughInterceptor(t *testing.T) {
	a, mock := newTestApp(t)

	res, err := a.Stories.LoadStories(t.Context(), "")
	require.NoError(t, err)
	require.Len(t, res.Stories, 1)
	assert.False(t, res.Offline)
	a.Stories.Wait()

	_, err = a.Stories.AddFavorite(t.Context(), "story-1")
	require.NoError(t, err)

	goOffline(mock)

	story, offline, err := a.Stories.GetStory(t.Context(), "story-1", "")
	require.NoError(t, err)
	assert.True(t, offline)
	assert.Equal(t, "Dimas", story.Name)

	img, err := a.Store.GetCachedImage(t.Context(), apiOrigin+"/images/1.png")
	require.NoError(t, err)
	require.NotNil(t, img, "favorited story image is available offline")
}

func TestRun_ClosesApp(t *testing.T) {
	settings := testSettings(t)
	var names []string
	err := Run(t.Context(), settings, func(a *App) error {
		var err error
		names, err = a.Tiers.Names(t.Context())
		return err
	})
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestNewNotifier(t *testing.T) {
	log := logger.NewSlogLogger(nil, logger.LogLevelError, nil)
	settings := testSettings(t)

	assert.Nil(t, NewNotifier(settings, log), "no urls means log-only delivery")

	settings.Push.URLs = []string{"${STORYKEEP_TEST_PUSH_UNSET}"}
	assert.Nil(t, NewNotifier(settings, log))

	t.Setenv("STORYKEEP_TEST_PUSH", "logger://")
	settings.Push.URLs = []string{"${STORYKEEP_TEST_PUSH}"}
	n := NewNotifier(settings, log)
	require.NotNil(t, n)
	assert.Equal(t, "shoutrrr", n.Name())
}

func TestNew_Telemetry(t *testing.T) {
	settings := testSettings(t)
	settings.Telemetry = conf.TelemetrySettings{Enabled: true, DSN: "https://public@o0.ingest.example.com/1", Environment: "test"}

	a, err := New(t.Context(), settings, Options{Transport: httpmock.NewMockTransport()})
	require.NoError(t, err)
	require.NotNil(t, a.Telemetry)
	assert.Same(t, a.Telemetry, skerrors.GetTelemetryReporter())

	require.NoError(t, a.Close())
	assert.Nil(t, skerrors.GetTelemetryReporter(), "closing the app stops reporting")
	assert.False(t, a.Telemetry.IsEnabled())
}

func TestNew_TelemetryDisabledByDefault(t *testing.T) {
	a, _ := newTestApp(t)
	assert.Nil(t, a.Telemetry)
	assert.Nil(t, skerrors.GetTelemetryReporter())
}

func TestNew_TelemetryBadDSN(t *testing.T) {
	settings := testSettings(t)
	settings.Telemetry = conf.TelemetrySettings{Enabled: true, DSN: "::not a dsn"}

	_, err := New(t.Context(), settings, Options{Transport: httpmock.NewMockTransport()})
	require.Error(t, err)
	assert.True(t, skerrors.IsCategory(err, skerrors.CategoryConfiguration))
}
