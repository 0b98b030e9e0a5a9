package notify

import (
	"context"
	"log/slog"

	"alarmcore/internal/domain"
)

// LogCallback writes alarm messages to the structured log.
type LogCallback struct {
	logger *slog.Logger
}

// NewLogCallback creates log callback.
func NewLogCallback(logger *slog.Logger) *LogCallback {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogCallback{logger: logger}
}

// Name returns callback name.
func (l *LogCallback) Name() string { return "log" }

// DoAlarm logs firing messages at warn level.
func (l *LogCallback) DoAlarm(ctx context.Context, messages []domain.AlarmMessage) error {
	for _, msg := range messages {
		attrs := append(messageAttrs(msg), slog.String("state", string(domain.AlarmStateFiring)))
		l.logger.LogAttrs(ctx, slog.LevelWarn, "alarm firing", attrs...)
	}
	return nil
}

// DoAlarmRecovery logs recovery messages at info level.
func (l *LogCallback) DoAlarmRecovery(ctx context.Context, messages []domain.AlarmMessage) error {
	for _, msg := range messages {
		attrs := append(messageAttrs(msg), slog.String("state", string(domain.AlarmStateRecovered)))
		if msg.RecoveryTime != nil {
			attrs = append(attrs, slog.Time("recovery_time", *msg.RecoveryTime))
		}
		l.logger.LogAttrs(ctx, slog.LevelInfo, "alarm recovered", attrs...)
	}
	return nil
}

func messageAttrs(msg domain.AlarmMessage) []slog.Attr {
	attrs := []slog.Attr{
		slog.String("uuid", msg.ID),
		slog.String("rule", msg.RuleName),
		slog.String("scope", string(msg.Scope)),
		slog.String("name", msg.Name),
		slog.String("id0", msg.ID0),
		slog.String("message", msg.Message),
		slog.Time("start_time", msg.StartTime),
	}
	if msg.ID1 != "" {
		attrs = append(attrs, slog.String("id1", msg.ID1))
	}
	for _, tag := range msg.Tags {
		attrs = append(attrs, slog.String("tag."+tag.Key, tag.Value))
	}
	return attrs
}
