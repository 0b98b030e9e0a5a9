package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"alarmcore/internal/config"
	"alarmcore/internal/domain"
	"alarmcore/internal/permanent"
)

const staticWebhookGroup = "default"

// WebhookCallback posts alarm message lists as JSON to webhook groups.
// Params: static fallback URLs, timeout, and retry policy from service config.
// Returns: alarm callback; groups are replaced by the rules document.
type WebhookCallback struct {
	client *http.Client
	retry  config.RetryConfig
	logger *slog.Logger
	static []config.WebhookGroup

	mu     sync.RWMutex
	groups []config.WebhookGroup
}

// NewWebhookCallback creates webhook callback.
// Params: webhook hook config and logger.
// Returns: callback using configured URLs until rules declare their own groups.
func NewWebhookCallback(cfg config.WebhookHookConfig, logger *slog.Logger) *WebhookCallback {
	if logger == nil {
		logger = slog.Default()
	}
	var static []config.WebhookGroup
	if len(cfg.URLs) > 0 {
		static = []config.WebhookGroup{{Name: staticWebhookGroup, IsDefault: true, URLs: append([]string(nil), cfg.URLs...)}}
	}
	return &WebhookCallback{
		client: &http.Client{Timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond},
		retry:  cfg.Retry,
		logger: logger,
		static: static,
		groups: static,
	}
}

// Name returns callback name.
func (w *WebhookCallback) Name() string { return "webhook" }

// OnHookSettings replaces webhook groups with the ones from the rules document.
// Params: groups declared under hooks.webhook; empty restores the static URLs.
// Returns: none.
func (w *WebhookCallback) OnHookSettings(groups []config.WebhookGroup) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(groups) == 0 {
		w.groups = w.static
		return
	}
	w.groups = append([]config.WebhookGroup(nil), groups...)
}

// DoAlarm posts firing messages.
func (w *WebhookCallback) DoAlarm(ctx context.Context, messages []domain.AlarmMessage) error {
	return w.post(ctx, messages)
}

// DoAlarmRecovery posts recovery messages.
func (w *WebhookCallback) DoAlarmRecovery(ctx context.Context, messages []domain.AlarmMessage) error {
	return w.post(ctx, messages)
}

func (w *WebhookCallback) post(ctx context.Context, messages []domain.AlarmMessage) error {
	w.mu.RLock()
	groups := w.groups
	w.mu.RUnlock()

	var errs []error
	for _, group := range groups {
		selected := selectForGroup(group, messages)
		if len(selected) == 0 {
			continue
		}
		body, err := json.Marshal(selected)
		if err != nil {
			return fmt.Errorf("marshal webhook payload: %w", err)
		}
		for _, url := range group.URLs {
			url := url
			err := sendWithRetry(ctx, w.retry, w.logger, w.Name(), func(callCtx context.Context) error {
				return w.postOnce(callCtx, url, body)
			})
			if err != nil {
				errs = append(errs, fmt.Errorf("webhook %s %s: %w", group.Name, url, err))
			}
		}
	}
	return errors.Join(errs...)
}

// selectForGroup picks messages routed to group.
// Messages without hooks go to default groups only.
func selectForGroup(group config.WebhookGroup, messages []domain.AlarmMessage) []domain.AlarmMessage {
	var out []domain.AlarmMessage
	for _, msg := range messages {
		if len(msg.Hooks) == 0 {
			if group.IsDefault {
				out = append(out, msg)
			}
			continue
		}
		if slices.Contains(msg.Hooks, group.HookName()) {
			out = append(out, msg)
		}
	}
	return out
}

func (w *WebhookCallback) postOnce(ctx context.Context, url string, body []byte) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return permanent.Mark(fmt.Errorf("build request: %w", err))
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/json")

	response, err := w.client.Do(request)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer response.Body.Close()
	snippet, _ := io.ReadAll(io.LimitReader(response.Body, 512))

	return permanent.FromStatus(response.StatusCode, bytes.TrimSpace(snippet))
}
