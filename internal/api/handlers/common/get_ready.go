package common

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github/chapool/gem-payout/internal/api"
	"github/chapool/gem-payout/internal/util"
)

// StatusNotReady is returned by readiness and liveness probes that fail.
const StatusNotReady = 521

func GetReadyRoute(s *api.Server) *echo.Route {
	return s.Router.Management.GET("/ready", getReadyHandler(s))
}

// Readiness only checks the process itself. Payouts being disabled is
// reported in the body but keeps the probe green so operators can inspect
// the degraded instance.
func getReadyHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		if !s.Ready() {
			return c.String(StatusNotReady, "Not ready.")
		}

		if s.DB != nil {
			if err := s.DB.PingContext(ctx); err != nil {
				util.LogFromContext(ctx).Warn().Err(err).Msg("Readiness database ping failed")
				return c.String(StatusNotReady, "Not ready.")
			}
		}

		if !s.PayoutsEnabled() {
			return c.String(http.StatusOK, "Ready. Payouts disabled.")
		}

		return c.String(http.StatusOK, "Ready.")
	}
}
