package metrics

import (
	"database/sql"
	"time"

	"github.com/dlmiddlecote/sqlstats"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github/chapool/gem-payout/internal/wallet/chain"
	"github/chapool/gem-payout/internal/wallet/payout"
)

const namespace = "payout"

// Service owns the prometheus registry served on /metrics. It implements
// payout.Metrics and chain.CallObserver.
type Service struct {
	Registry *prometheus.Registry

	payouts             *prometheus.CounterVec
	submissions         *prometheus.CounterVec
	confirmationLatency prometheus.Histogram
	rpcCalls            *prometheus.CounterVec
	enabled             prometheus.Gauge
	natsConnected       prometheus.Gauge
}

var (
	_ payout.Metrics     = (*Service)(nil)
	_ chain.CallObserver = (*Service)(nil)
)

// New registers the payout collectors. db may be nil.
func New(db *sql.DB) (*Service, error) {
	s := &Service{
		Registry: prometheus.NewRegistry(),
		payouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Finished payout requests by token, status and failure kind.",
		}, []string{"token", "status", "failure_kind"}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Transaction broadcasts by outcome.",
		}, []string{"outcome"}),
		confirmationLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "confirmation_seconds",
			Help:      "Time from broadcast until the required confirmation depth.",
			Buckets:   prometheus.ExponentialBuckets(2, 2, 10),
		}),
		rpcCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_calls_total",
			Help:      "JSON-RPC calls by method and outcome.",
		}, []string{"method", "outcome"}),
		enabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "enabled",
			Help:      "1 when payouts are initialized and accepted, 0 in degraded mode.",
		}),
		natsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "nats_connected",
			Help:      "1 while the NATS connection is up.",
		}),
	}

	collectorsToRegister := []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		s.payouts,
		s.submissions,
		s.confirmationLatency,
		s.rpcCalls,
		s.enabled,
		s.natsConnected,
	}

	if db != nil {
		collectorsToRegister = append(collectorsToRegister, sqlstats.NewStatsCollector(namespace, db))
	}

	for _, c := range collectorsToRegister {
		if err := s.Registry.Register(c); err != nil {
			return nil, errors.Wrap(err, "failed to register collector")
		}
	}

	return s, nil
}

func (s *Service) PayoutFinished(token string, status payout.Status, kind payout.FailureKind) {
	s.payouts.WithLabelValues(token, string(status), string(kind)).Inc()
}

func (s *Service) SubmissionAttempt(outcome string) {
	s.submissions.WithLabelValues(outcome).Inc()
}

func (s *Service) ConfirmationLatency(d time.Duration) {
	s.confirmationLatency.Observe(d.Seconds())
}

func (s *Service) ObserveRPCCall(method string, outcome string) {
	s.rpcCalls.WithLabelValues(method, outcome).Inc()
}

// SetEnabled reports whether payouts are available or the service runs degraded.
func (s *Service) SetEnabled(enabled bool) {
	s.enabled.Set(boolToFloat(enabled))
}

func (s *Service) SetNATSConnected(connected bool) {
	s.natsConnected.Set(boolToFloat(connected))
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}

	return 0
}
