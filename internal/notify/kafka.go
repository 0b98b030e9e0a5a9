package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"alarmcore/internal/config"
	"alarmcore/internal/domain"
	"alarmcore/internal/engine"

	"github.com/segmentio/kafka-go"
)

// messageWriter is the subset of kafka.Writer used by KafkaPublisher.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes alarm messages to one Kafka topic keyed by alarm key.
type KafkaPublisher struct {
	writer messageWriter
}

// NewKafkaPublisher creates hash-balanced synchronous writer.
// Params: kafka hook config.
// Returns: publisher or config error.
func NewKafkaPublisher(cfg config.KafkaHookConfig) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka hook requires at least one broker")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka hook topic is required")
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           time.Duration(cfg.BatchTimeoutMS) * time.Millisecond,
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            cfg.MaxAttempts,
		AllowAutoTopicCreation: true,
	}
	return &KafkaPublisher{writer: writer}, nil
}

// Name returns callback name.
func (p *KafkaPublisher) Name() string { return "kafka" }

// DoAlarm writes firing messages.
func (p *KafkaPublisher) DoAlarm(ctx context.Context, messages []domain.AlarmMessage) error {
	return p.write(ctx, messages, "firing")
}

// DoAlarmRecovery writes recovery messages.
func (p *KafkaPublisher) DoAlarmRecovery(ctx context.Context, messages []domain.AlarmMessage) error {
	return p.write(ctx, messages, "recovery")
}

func (p *KafkaPublisher) write(ctx context.Context, messages []domain.AlarmMessage, kind string) error {
	if len(messages) == 0 {
		return nil
	}
	records := make([]kafka.Message, 0, len(messages))
	for _, message := range messages {
		body, err := json.Marshal(message)
		if err != nil {
			return fmt.Errorf("marshal alarm %s: %w", message.ID, err)
		}
		at := message.StartTime
		if message.RecoveryTime != nil {
			at = *message.RecoveryTime
		}
		records = append(records, kafka.Message{
			Key:   []byte(engine.BuildAlarmKey(message)),
			Value: body,
			Headers: []kafka.Header{
				{Key: "alarm_id", Value: []byte(message.ID)},
				{Key: "rule", Value: []byte(message.RuleName)},
				{Key: "kind", Value: []byte(kind)},
			},
			Time: at,
		})
	}
	if err := p.writer.WriteMessages(ctx, records...); err != nil {
		return fmt.Errorf("write %d alarm messages: %w", len(records), err)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
