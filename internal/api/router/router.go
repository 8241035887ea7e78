package router

import (
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github/chapool/gem-payout/internal/api"
	"github/chapool/gem-payout/internal/api/handlers"
)

// Init creates the management echo instance and attaches every route to s.
func Init(s *api.Server) error {
	s.Echo = echo.New()

	s.Echo.Debug = false
	s.Echo.HideBanner = s.Config.Management.HideBanner
	s.Echo.HidePort = s.Config.Management.HideBanner

	s.Echo.Pre(middleware.RemoveTrailingSlash())
	s.Echo.Use(middleware.Recover())

	promMiddleware, err := echoprometheus.MiddlewareConfig{
		Subsystem:  "management",
		Registerer: s.Metrics.Registry,
	}.ToMiddleware()
	if err != nil {
		return errors.Wrap(err, "failed to create prometheus middleware")
	}

	s.Echo.Use(promMiddleware)
	s.Echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogMethod: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			log.WithLevel(s.Config.Logger.RequestLevel).
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Msg("Management request")

			return nil
		},
	}))

	s.Router = &api.Router{
		Routes:     nil,
		Root:       s.Echo.Group(""),
		Management: s.Echo.Group("/-"),
	}

	handlers.AttachAllRoutes(s)

	return nil
}
