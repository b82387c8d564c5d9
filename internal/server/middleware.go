package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/tphakala/storykeep/internal/logger"
)

const routeProxy = "proxy"

// setupRequestLogger logs every request and feeds the HTTP metrics.
func (s *Server) setupRequestLogger() {
	httpLogger := s.log.Module("request")

	s.Echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:          true,
		LogStatus:       true,
		LogLatency:      true,
		LogRemoteIP:     true,
		LogMethod:       true,
		LogError:        true,
		LogResponseSize: true,
		HandleError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			requestID := c.Request().Header.Get(echo.HeaderXRequestID)
			if requestID == "" {
				requestID = uuid.New().String()[:8]
			}

			route := c.Path()
			if route == "" || route == "/*" {
				route = routeProxy
			}
			if s.deps.Metrics != nil {
				s.deps.Metrics.HTTP.RecordHTTPRequest(v.Method, route, v.Status, v.Latency, v.ResponseSize)
			}

			level := logger.LogLevelDebug
			switch {
			case v.Status >= http.StatusInternalServerError:
				level = logger.LogLevelError
			case v.Status >= http.StatusBadRequest:
				level = logger.LogLevelWarn
			}

			fields := []logger.Field{
				logger.String("request_id", requestID),
				logger.String("remote_ip", v.RemoteIP),
				logger.String("route", route),
				logger.Int("status", v.Status),
				logger.Float64("latency_ms", float64(v.Latency)/float64(time.Millisecond)),
				logger.Int64("bytes", v.ResponseSize),
			}
			if v.Error != nil {
				fields = append(fields, logger.Error(v.Error))
			}
			httpLogger.Log(level, fmt.Sprintf("%s %s %d", v.Method, v.URI, v.Status), fields...)
			return nil
		},
	}))
}
