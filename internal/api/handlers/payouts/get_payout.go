package payouts

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github/chapool/gem-payout/internal/api"
	"github/chapool/gem-payout/internal/util"
	"github/chapool/gem-payout/internal/wallet/payout"
)

// Record is the operator view of a stored payout.
type Record struct {
	RequestID     string   `json:"request_id"`
	UserID        string   `json:"user_id"`
	Destination   string   `json:"destination"`
	Token         string   `json:"token"`
	AmountUnits   int64    `json:"amount_units"`
	AmountOnChain string   `json:"amount_on_chain"`
	RateVersion   string   `json:"rate_version"`
	Status        string   `json:"status"`
	FailureKind   string   `json:"failure_kind,omitempty"`
	FailureReason string   `json:"failure_reason,omitempty"`
	Nonce         *uint64  `json:"nonce,omitempty"`
	TxHash        string   `json:"tx_hash,omitempty"`
	TxHashes      []string `json:"tx_hashes,omitempty"`
	Attempts      int      `json:"attempts"`
	Confirmations uint64   `json:"confirmations"`
	BlockNumber   uint64   `json:"block_number,omitempty"`
}

func GetPayoutRoute(s *api.Server) *echo.Route {
	return s.Router.Management.GET("/payouts/:requestId", getPayoutHandler(s))
}

func getPayoutHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		log := util.LogFromContext(ctx)

		rec, err := s.Store.Get(ctx, c.Param("requestId"))
		if err != nil {
			if errors.Is(err, payout.ErrRecordNotFound) {
				return echo.ErrNotFound
			}

			log.Debug().Err(err).Msg("Failed to load payout record")
			return err
		}

		return c.JSON(http.StatusOK, RecordFromPayout(rec))
	}
}

func RecordFromPayout(rec *payout.Record) *Record {
	res := &Record{
		RequestID:     rec.RequestID,
		UserID:        rec.UserID,
		Destination:   rec.Destination,
		Token:         rec.TokenSymbol,
		AmountUnits:   rec.AmountUnits,
		RateVersion:   rec.RateVersion,
		Status:        string(rec.Status),
		FailureKind:   string(rec.FailureKind),
		FailureReason: rec.FailureReason,
		Nonce:         rec.Nonce,
		TxHash:        rec.TxHash,
		TxHashes:      rec.TxHashes,
		Attempts:      rec.Attempts,
		Confirmations: rec.Confirmations,
		BlockNumber:   rec.BlockNumber,
	}

	if rec.AmountOnChain != nil {
		res.AmountOnChain = rec.AmountOnChain.String()
	}

	return res
}
