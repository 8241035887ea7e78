package events

import (
	"context"

	"github/chapool/gem-payout/internal/wallet/payout"
)

// NewTestBus returns a Bus publishing through pub instead of a connection.
func NewTestBus(cfg Config, pub func(subject string, data []byte) error) *Bus {
	return &Bus{cfg: cfg, pub: publishFunc(pub)}
}

func (b *Bus) Handle(ctx context.Context, data []byte, out chan<- payout.Request) {
	b.handle(ctx, data, out)
}

type publishFunc func(subject string, data []byte) error

func (f publishFunc) Publish(subject string, data []byte) error {
	return f(subject, data)
}
