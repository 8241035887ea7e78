package handlers

import (
	"github.com/labstack/echo/v4"
	"github/chapool/gem-payout/internal/api"
	"github/chapool/gem-payout/internal/api/handlers/common"
	"github/chapool/gem-payout/internal/api/handlers/payouts"
)

func AttachAllRoutes(s *api.Server) {
	s.Router.Routes = []*echo.Route{
		common.GetHealthyRoute(s),
		common.GetMetricsRoute(s),
		common.GetReadyRoute(s),
		payouts.GetPayoutRoute(s),
	}
}
