package common

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github/chapool/gem-payout/internal/api"
	"github/chapool/gem-payout/internal/util"
)

const healthTimeout = 5 * time.Second

func GetHealthyRoute(s *api.Server) *echo.Route {
	return s.Router.Management.GET("/healthy", getHealthyHandler(s))
}

// Liveness additionally reaches out to the database and the RPC endpoint.
// The body lists every check so a failing probe can be read from the logs.
func getHealthyHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), healthTimeout)
		defer cancel()

		log := util.LogFromContext(ctx)

		var (
			str     strings.Builder
			healthy = true
		)

		if s.DB != nil {
			if err := s.DB.PingContext(ctx); err != nil {
				log.Warn().Err(err).Msg("Health check database ping failed")
				healthy = false
				fmt.Fprintf(&str, "Database ping failed: %v.\n", err)
			} else {
				fmt.Fprintln(&str, "Database ping succeeded.")
			}
		}

		if s.Chain != nil {
			if _, err := s.Chain.ChainID(ctx); err != nil {
				log.Warn().Err(err).Msg("Health check RPC call failed")
				healthy = false
				fmt.Fprintf(&str, "RPC call failed: %v.\n", err)
			} else {
				fmt.Fprintln(&str, "RPC call succeeded.")
			}
		}

		if !s.PayoutsEnabled() {
			fmt.Fprintln(&str, "Payouts disabled.")
		}

		if !healthy {
			return c.String(StatusNotReady, str.String())
		}

		fmt.Fprint(&str, "Healthy.")

		return c.String(http.StatusOK, str.String())
	}
}
