// Package events moves payout requests, results and operator alerts over NATS.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github/chapool/gem-payout/internal/util"
	"github/chapool/gem-payout/internal/wallet/payout"
)

const (
	// QueueGroup spreads requests over all running replicas.
	QueueGroup = "payout-executor"

	defaultConnectTimeout = 10 * time.Second
	reconnectWait         = 5 * time.Second
)

type Config struct {
	URL             string
	SubjectRequests string
	SubjectResults  string
	SubjectAlerts   string
	ConnectTimeout  time.Duration
}

// ConnectionObserver is told about connection state changes.
type ConnectionObserver interface {
	SetNATSConnected(connected bool)
}

// publisher is the part of *nats.Conn used for outbound messages.
type publisher interface {
	Publish(subject string, data []byte) error
}

// Bus implements payout.ResultPublisher and payout.Alerter.
type Bus struct {
	cfg  Config
	conn *nats.Conn
	pub  publisher
	sub  *nats.Subscription
}

var (
	_ payout.ResultPublisher = (*Bus)(nil)
	_ payout.Alerter         = (*Bus)(nil)
)

// Connect dials NATS and keeps reconnecting forever.
func Connect(cfg Config, observer ConnectionObserver) (*Bus, error) {
	if cfg.URL == "" {
		return nil, errors.New("NATS url is required")
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name("gem-payout"),
		nats.Timeout(cfg.ConnectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS connection lost")
			if observer != nil {
				observer.SetNATSConnected(false)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrlRedacted()).Msg("NATS connection restored")
			if observer != nil {
				observer.SetNATSConnected(true)
			}
		}),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to NATS")
	}

	if observer != nil {
		observer.SetNATSConnected(true)
	}

	log.Info().Str("url", conn.ConnectedUrlRedacted()).Msg("Connected to NATS")

	return &Bus{cfg: cfg, conn: conn, pub: conn}, nil
}

// Subscribe delivers decoded requests to out until ctx is done. Delivery
// blocks while out is full.
func (b *Bus) Subscribe(ctx context.Context, out chan<- payout.Request) error {
	if b.conn == nil {
		return errors.New("bus is not connected")
	}

	sub, err := b.conn.QueueSubscribe(b.cfg.SubjectRequests, QueueGroup, func(msg *nats.Msg) {
		b.handle(ctx, msg.Data, out)
	})
	if err != nil {
		return errors.Wrapf(err, "failed to subscribe to %s", b.cfg.SubjectRequests)
	}

	b.sub = sub

	log.Info().Str("subject", b.cfg.SubjectRequests).Str("queue", QueueGroup).Msg("Listening for payout requests")

	return nil
}

func (b *Bus) handle(ctx context.Context, data []byte, out chan<- payout.Request) {
	var req payout.Request
	if err := json.Unmarshal(data, &req); err != nil {
		log.Warn().Err(err).Int("bytes", len(data)).Msg("Dropping undecodable payout request")

		// answer when at least the id can be recovered
		var head struct {
			RequestID string `json:"request_id"`
		}
		if json.Unmarshal(data, &head) == nil && head.RequestID != "" {
			req.RequestID = head.RequestID
			msg := payout.NewResultMessage(req, nil, errors.Wrapf(payout.ErrInvalidRequest, "malformed request: %v", err))
			if err := b.PublishResult(ctx, msg); err != nil {
				log.Error().Err(err).Str("request_id", req.RequestID).Msg("Failed to publish payout result")
			}
		}

		return
	}

	select {
	case out <- req:
	case <-ctx.Done():
		b.Abandon(ctx, req)
	}
}

// Abandon answers a request that was received but never executed. It is
// reported as pending so the producer can send it again.
func (b *Bus) Abandon(ctx context.Context, req payout.Request) {
	log.Warn().Str("request_id", req.RequestID).Msg("Payout request not started before shutdown")

	if req.RequestID == "" {
		return
	}

	msg := payout.NewResultMessage(req, nil, payout.ErrNotStarted)
	if err := b.PublishResult(ctx, msg); err != nil {
		log.Error().Err(err).Str("request_id", req.RequestID).Msg("Failed to publish payout result")
	}
}

func (b *Bus) PublishResult(ctx context.Context, msg payout.ResultMessage) error {
	if err := b.publish(b.cfg.SubjectResults, msg); err != nil {
		return err
	}

	util.LogFromContext(ctx).Debug().
		Str("request_id", msg.RequestID).
		Str("status", string(msg.Status)).
		Msg("Published payout result")

	return nil
}

func (b *Bus) Alert(_ context.Context, alert payout.Alert) error {
	return b.publish(b.cfg.SubjectAlerts, alert)
}

func (b *Bus) publish(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "failed to encode message")
	}

	if err := b.pub.Publish(subject, data); err != nil {
		return errors.Wrapf(err, "failed to publish to %s", subject)
	}

	return nil
}

// Close drains the subscription and the connection.
func (b *Bus) Close() error {
	if b.conn == nil {
		return nil
	}

	if b.sub != nil {
		if err := b.sub.Drain(); err != nil {
			log.Warn().Err(err).Msg("Failed to drain payout request subscription")
		}
	}

	return errors.Wrap(b.conn.Drain(), "failed to drain NATS connection")
}
