package payout

import (
	"context"
	"sync"

	"github/chapool/gem-payout/internal/util"
)

// ResultMessage is published for every processed request.
type ResultMessage struct {
	RequestID     string      `json:"request_id"`
	Status        Status      `json:"status"`
	TxHash        string      `json:"tx_hash,omitempty"`
	Confirmations uint64      `json:"confirmations"`
	FailureKind   FailureKind `json:"failure_kind,omitempty"`
	Error         string      `json:"error,omitempty"`
}

// NewResultMessage describes the outcome of Execute. Requests that left no
// record behind (transient failures) are reported as pending so the producer
// can send them again.
func NewResultMessage(req Request, res *Result, err error) ResultMessage {
	msg := ResultMessage{
		RequestID:   req.RequestID,
		Status:      StatusPending,
		FailureKind: FailureKindOf(err),
	}

	if res != nil {
		msg.Status = res.Status
		msg.TxHash = res.TxHash
		msg.Confirmations = res.Confirmations
	}

	switch msg.FailureKind {
	case FailureInvalidRequest, FailureUnsupportedToken:
		msg.Status = StatusFailed
	}

	if err != nil {
		msg.Error = err.Error()
	}

	return msg
}

type Payer interface {
	Execute(ctx context.Context, req Request) (*Result, error)
}

type ResultPublisher interface {
	PublishResult(ctx context.Context, msg ResultMessage) error
}

// RunWorkers executes requests with n concurrent workers until requests is
// closed or ctx is done. Results go to publisher when it is not nil.
func RunWorkers(ctx context.Context, payer Payer, n int, requests <-chan Request, publisher ResultPublisher) {
	if n < 1 {
		n = 1
	}

	var wg sync.WaitGroup

	for i := range n {
		wg.Add(1)

		go func() {
			defer wg.Done()

			log := util.LogFromContext(ctx).With().Int("worker", i).Logger()

			for {
				var (
					req Request
					ok  bool
				)

				select {
				case <-ctx.Done():
					return
				case req, ok = <-requests:
					if !ok {
						return
					}
				}

				res, err := payer.Execute(ctx, req)
				if err != nil {
					log.Warn().Err(err).Str("request_id", req.RequestID).Msg("Payout request finished with error")
				}

				if publisher == nil {
					continue
				}

				if err := publisher.PublishResult(ctx, NewResultMessage(req, res, err)); err != nil {
					log.Error().Err(err).Str("request_id", req.RequestID).Msg("Failed to publish payout result")
				}
			}
		}()
	}

	wg.Wait()
}
