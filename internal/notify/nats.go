package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"alarmcore/internal/config"
	"alarmcore/internal/domain"
	"alarmcore/internal/engine"

	"github.com/nats-io/nats.go"
)

const alarmStreamMaxAge = 7 * 24 * time.Hour

// NATSPublisher publishes alarm messages into a JetStream stream.
// Params: NATS connection, subject, and retry policy.
// Returns: alarm callback.
type NATSPublisher struct {
	nc      *nats.Conn
	js      nats.JetStreamContext
	subject string
	retry   config.RetryConfig
	logger  *slog.Logger
}

// NewNATSPublisher connects and ensures the alarm stream exists.
// Params: NATS hook config and logger.
// Returns: publisher or setup error.
func NewNATSPublisher(cfg config.NATSHookConfig, logger *slog.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(strings.Join(cfg.URL, ","), nats.Name("alarmcore-hooks"))
	if err != nil {
		return nil, fmt.Errorf("connect alarm nats: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init for alarms: %w", err)
	}
	if err := ensureStream(js, cfg.Stream, cfg.Subject, alarmStreamMaxAge); err != nil {
		nc.Close()
		return nil, err
	}
	return &NATSPublisher{nc: nc, js: js, subject: cfg.Subject, retry: cfg.Retry, logger: logger}, nil
}

// Name returns callback name.
func (p *NATSPublisher) Name() string { return "nats" }

// DoAlarm publishes firing messages.
func (p *NATSPublisher) DoAlarm(ctx context.Context, messages []domain.AlarmMessage) error {
	return p.publish(ctx, messages, "firing")
}

// DoAlarmRecovery publishes recovery messages.
func (p *NATSPublisher) DoAlarmRecovery(ctx context.Context, messages []domain.AlarmMessage) error {
	return p.publish(ctx, messages, "recovery")
}

func (p *NATSPublisher) publish(ctx context.Context, messages []domain.AlarmMessage, kind string) error {
	var errs []error
	for _, message := range messages {
		body, err := json.Marshal(message)
		if err != nil {
			errs = append(errs, fmt.Errorf("marshal alarm %s: %w", message.ID, err))
			continue
		}
		msg := nats.NewMsg(p.subject)
		msg.Data = body
		msg.Header.Set("Nats-Msg-Id", messageDedupID(message, kind))
		msg.Header.Set("Alarm-Key", engine.BuildAlarmKey(message))
		msg.Header.Set("Alarm-Kind", kind)
		err = sendWithRetry(ctx, p.retry, p.logger, p.Name(), func(callCtx context.Context) error {
			_, publishErr := p.js.PublishMsg(msg, nats.Context(callCtx))
			return publishErr
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("publish alarm %s: %w", message.ID, err))
		}
	}
	return errors.Join(errs...)
}

// Close closes publisher NATS connection.
func (p *NATSPublisher) Close() error {
	if p == nil || p.nc == nil {
		return nil
	}
	p.nc.Close()
	return nil
}

// messageDedupID builds JetStream dedup id; firing and recovery of one alarm share ID and differ by kind.
func messageDedupID(message domain.AlarmMessage, kind string) string {
	return engine.BuildAlarmKey(message) + ":" + message.ID + ":" + kind
}

// ensureStream ensures one JetStream stream exists for subject.
// Params: JetStream context, stream name, subject, and retention age.
// Returns: stream create/lookup error.
func ensureStream(js nats.JetStreamContext, streamName, subject string, maxAge time.Duration) error {
	if _, err := js.StreamInfo(streamName); err == nil {
		return nil
	} else if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("stream info %q: %w", streamName, err)
	}

	_, err := js.AddStream(&nats.StreamConfig{
		Name:      streamName,
		Subjects:  []string{subject},
		Retention: nats.LimitsPolicy,
		Storage:   nats.FileStorage,
		MaxAge:    maxAge,
	})
	if err != nil {
		return fmt.Errorf("create stream %q: %w", streamName, err)
	}
	return nil
}
