package ingest

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"alarmcore/internal/config"
	"alarmcore/internal/metrics"

	"github.com/nats-io/nats.go"
)

// NATSSubscriber consumes snapshots via JetStream queue consumer and forwards to sink.
// Params: NATS connection, JetStream queue subscription, and snapshot sink.
// Returns: NATS ingest lifecycle handle.
type NATSSubscriber struct {
	nc     *nats.Conn
	subs   []*nats.Subscription
	sink   SnapshotSink
	logger *slog.Logger
	nack   time.Duration
}

// NewNATSSubscriber creates JetStream queue consumer for snapshot ingestion.
// Params: ingest NATS config, sink, and optional logger.
// Returns: started subscriber or initialization error.
func NewNATSSubscriber(cfg config.NATSIngestConfig, sink SnapshotSink, logger *slog.Logger) (*NATSSubscriber, error) {
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(strings.Join(cfg.URL, ","), nats.Name("alarmcore-ingest"))
	if err != nil {
		return nil, fmt.Errorf("connect nats ingest: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init for ingest: %w", err)
	}

	subscriber := &NATSSubscriber{
		nc:     nc,
		sink:   sink,
		logger: logger,
		nack:   time.Duration(cfg.NackDelayMS) * time.Millisecond,
	}
	subOpts := []nats.SubOpt{
		nats.BindStream(cfg.Stream),
		nats.Durable(cfg.ConsumerName),
		nats.ManualAck(),
		nats.AckExplicit(),
		nats.AckWait(time.Duration(cfg.AckWaitSec) * time.Second),
		nats.MaxDeliver(cfg.MaxDeliver),
		nats.MaxAckPending(cfg.MaxAckPending),
		nats.DeliverAll(),
	}
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		sub, err := js.QueueSubscribe(cfg.Subject, cfg.DeliverGroup, subscriber.handle, subOpts...)
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("queue subscribe %q/%q worker %d: %w", cfg.Subject, cfg.DeliverGroup, i, err)
		}
		subscriber.subs = append(subscriber.subs, sub)
	}
	return subscriber, nil
}

// handle processes one JetStream message.
// Invalid payloads are acked so they are not redelivered; sink failures are nacked.
func (s *NATSSubscriber) handle(message *nats.Msg) {
	snapshots, err := decodeSnapshotPayload(message.Data)
	if err != nil {
		metrics.SnapshotsRejected.WithLabelValues("nats", "decode").Inc()
		s.logger.Warn("nats ingest decode failed", "subject", message.Subject, "error", err.Error())
		s.ackMessage(message, "decode")
		return
	}
	if err := pushSnapshots(s.sink, snapshots); err != nil {
		metrics.SnapshotsRejected.WithLabelValues("nats", "sink").Inc()
		s.logger.Error("nats ingest push failed", "subject", message.Subject, "error", err.Error())
		s.nackMessage(message, s.nack)
		return
	}
	metrics.SnapshotsReceived.WithLabelValues("nats").Add(float64(len(snapshots)))
	s.ackMessage(message, "processed")
}

// ackMessage acknowledges processed/invalid message and logs ack failures.
// Params: JetStream message and short reason.
// Returns: none.
func (s *NATSSubscriber) ackMessage(message *nats.Msg, reason string) {
	if message == nil {
		return
	}
	if err := message.Ack(); err != nil {
		s.logger.Warn("nats ingest ack failed", "subject", message.Subject, "reason", reason, "error", err.Error())
	}
}

// nackMessage asks JetStream to redeliver message and logs nack failures.
// Params: JetStream message and optional delay.
// Returns: none.
func (s *NATSSubscriber) nackMessage(message *nats.Msg, delay time.Duration) {
	if message == nil {
		return
	}
	var err error
	if delay > 0 {
		err = message.NakWithDelay(delay)
	} else {
		err = message.Nak()
	}
	if err != nil {
		s.logger.Warn("nats ingest nack failed", "subject", message.Subject, "error", err.Error())
	}
}

// Close drains worker subscriptions and closes connection.
// Params: none.
// Returns: first drain error.
func (s *NATSSubscriber) Close() error {
	var firstErr error
	for _, sub := range s.subs {
		if err := sub.Drain(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.nc.Close()
	return firstErr
}
