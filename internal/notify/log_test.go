package notify

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"alarmcore/internal/domain"
)

func TestLogCallbackWritesAttributes(t *testing.T) {
	t.Parallel()

	var buffer bytes.Buffer
	callback := NewLogCallback(slog.New(slog.NewJSONHandler(&buffer, nil)))
	msg := testMessage("percent_rule", "1")
	msg.Tags = []domain.Tag{{Key: "level", Value: "WARNING"}}

	if err := callback.DoAlarm(context.Background(), []domain.AlarmMessage{msg}); err != nil {
		t.Fatalf("do alarm: %v", err)
	}
	if err := callback.DoAlarmRecovery(context.Background(), []domain.AlarmMessage{msg.AsRecovery(time.Now())}); err != nil {
		t.Fatalf("do alarm recovery: %v", err)
	}
	out := buffer.String()
	for _, want := range []string{`"msg":"alarm firing"`, `"msg":"alarm recovered"`, `"rule":"percent_rule"`, `"tag.level":"WARNING"`, `"recovery_time"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("log output missing %s: %s", want, out)
		}
	}
}
