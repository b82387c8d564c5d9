package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	skerrors "github.com/tphakala/storykeep/internal/errors"
	"github.com/tphakala/storykeep/internal/logger"
	"github.com/tphakala/storykeep/internal/stories"
)

// envelope mirrors the story API response shape so clients parse local
// answers the same way as upstream ones.
type envelope struct {
	Error     bool   `json:"error"`
	Message   string `json:"message"`
	Offline   bool   `json:"offline,omitempty"`
	ListStory any    `json:"listStory,omitempty"`
	Story     any    `json:"story,omitempty"`
}

func (s *Server) initRoutes() {
	s.Echo.GET("/health", s.handleHealth)
	if s.deps.Metrics != nil {
		s.Echo.GET("/metrics", echo.WrapHandler(s.deps.Metrics.Handler()))
	}

	offline := s.Echo.Group("/_offline")
	offline.GET("/status", s.handleStatus)
	offline.GET("/stories", s.handleListStories)
	offline.GET("/stories/:id", s.handleGetStory)
	offline.GET("/favorites", s.handleListFavorites)
	offline.DELETE("/favorites", s.handleClearFavorites)
	offline.PUT("/favorites/:id", s.handleAddFavorite)
	offline.DELETE("/favorites/:id", s.handleRemoveFavorite)
	offline.GET("/images", s.handleImage)
	offline.DELETE("/data", s.handleClearData)

	s.Echo.POST("/_push", s.handlePush)
	s.Echo.GET("/_push/open/:id", s.handleNotificationClick)
}

func (s *Server) handleHealth(c echo.Context) error {
	state := "unknown"
	if s.deps.Lifecycle != nil {
		state = s.deps.Lifecycle.State().String()
	}
	return c.JSON(http.StatusOK, map[string]any{"status": "ok", "lifecycle": state})
}

func (s *Server) handleStatus(c echo.Context) error {
	ctx := c.Request().Context()
	status := map[string]any{
		"lifecycle": "unknown",
		"controls":  s.controls(),
		"tiers":     s.settings.Cache.TierNames(),
	}
	if s.deps.Lifecycle != nil {
		status["lifecycle"] = s.deps.Lifecycle.State().String()
	}
	if names, err := s.deps.Tiers.Names(ctx); err == nil {
		status["stored_tiers"] = names
	} else {
		s.log.Warn("failed to list cache tiers", logger.Error(err))
	}
	if queue, err := s.deps.Store.ListQueue(ctx); err == nil {
		status["queued_actions"] = len(queue)
	}
	if favs, err := s.deps.Stories.Favorites(ctx); err == nil {
		status["favorites"] = len(favs)
	}
	return c.JSON(http.StatusOK, status)
}

func (s *Server) handleListStories(c echo.Context) error {
	res, err := s.deps.Stories.LoadStories(c.Request().Context(), bearerToken(c))
	if err != nil {
		return s.fail(c, err)
	}
	msg := "Stories fetched successfully"
	if res.Offline {
		msg = "Stories loaded from offline storage"
	}
	return c.JSON(http.StatusOK, envelope{Message: msg, Offline: res.Offline, ListStory: res.Stories})
}

func (s *Server) handleGetStory(c echo.Context) error {
	story, offline, err := s.deps.Stories.GetStory(c.Request().Context(), c.Param("id"), bearerToken(c))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, envelope{Message: "Story fetched successfully", Offline: offline, Story: story})
}

func (s *Server) handleListFavorites(c echo.Context) error {
	favs, err := s.deps.Stories.Favorites(c.Request().Context())
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, favs)
}

func (s *Server) handleClearFavorites(c echo.Context) error {
	n, err := s.deps.Stories.ClearFavorites(c.Request().Context())
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]int64{"cleared": n})
}

func (s *Server) handleAddFavorite(c echo.Context) error {
	fav, err := s.deps.Stories.AddFavorite(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, fav)
}

func (s *Server) handleRemoveFavorite(c echo.Context) error {
	if err := s.deps.Stories.RemoveFavorite(c.Request().Context(), c.Param("id")); err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleImage(c echo.Context) error {
	src := c.QueryParam("src")
	if src == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "src is required")
	}
	img, err := s.deps.Store.GetCachedImage(c.Request().Context(), src)
	if err != nil {
		return s.fail(c, err)
	}
	if img == nil {
		return echo.NewHTTPError(http.StatusNotFound, "image not cached")
	}
	c.Response().Header().Set(echo.HeaderLastModified, img.CachedAt.UTC().Format(http.TimeFormat))
	return c.Blob(http.StatusOK, img.ContentType, img.Data)
}

func (s *Server) handleClearData(c echo.Context) error {
	if err := s.deps.Store.ClearAll(c.Request().Context()); err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handlePush(c echo.Context) error {
	raw, err := io.ReadAll(io.LimitReader(c.Request().Body, maxPushBytes))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable body")
	}
	n, err := s.deps.Push.HandlePush(c.Request().Context(), raw)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusAccepted, n)
}

func (s *Server) handleNotificationClick(c echo.Context) error {
	return c.Redirect(http.StatusFound, s.deps.Push.Open(c.Param("id")))
}

// fail maps an error to a status and the API error envelope.
func (s *Server) fail(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	switch {
	case skerrors.IsNotFound(err):
		status = http.StatusNotFound
	case errors.Is(err, stories.ErrNoCachedStories):
		status = http.StatusServiceUnavailable
	case skerrors.IsCategory(err, skerrors.CategoryValidation):
		status = http.StatusBadRequest
	case skerrors.IsStorage(err):
		status = http.StatusServiceUnavailable
	case skerrors.IsNetwork(err), skerrors.IsCategory(err, skerrors.CategoryNotification):
		status = http.StatusBadGateway
	}
	if status >= http.StatusInternalServerError {
		s.log.Warn("request failed",
			logger.String("path", c.Path()),
			logger.Int("status", status),
			logger.Error(err))
	}
	return c.JSON(status, envelope{Error: true, Message: err.Error()})
}

func bearerToken(c echo.Context) string {
	auth := c.Request().Header.Get(echo.HeaderAuthorization)
	if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}
