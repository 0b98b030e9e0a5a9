package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"alarmcore/internal/config"
	"alarmcore/internal/permanent"
)

// sendWithRetry runs send with exponential backoff.
// Params: context, retry policy, logger, callback name, and one delivery attempt.
// Returns: nil on success, permanent errors immediately, last error after attempts run out.
func sendWithRetry(ctx context.Context, retry config.RetryConfig, logger *slog.Logger, name string, send func(context.Context) error) error {
	if !retry.Enabled {
		return send(ctx)
	}

	attempt := 0
	backoff := time.Duration(retry.InitialMS) * time.Millisecond
	maxBackoff := time.Duration(retry.MaxMS) * time.Millisecond
	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		attempt++
		err := send(ctx)
		if err == nil {
			if retry.LogEachAttempt && attempt > 1 {
				logger.Info("alarm delivery recovered after retries", "callback", name, "attempt", attempt)
			}
			return nil
		}
		if retry.LogEachAttempt {
			logger.Warn("alarm delivery attempt failed", "callback", name, "attempt", attempt, "error", err.Error())
		}
		if permanent.Is(err) {
			return err
		}
		if retry.MaxAttempts > 0 && attempt >= retry.MaxAttempts {
			return fmt.Errorf("%s failed after %d attempts: %w", name, attempt, err)
		}

		timer.Reset(backoff)
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s retry aborted after %d attempts: %w", name, attempt, ctx.Err())
		case <-timer.C:
		}
		backoff *= 2
		if maxBackoff > 0 && backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}
