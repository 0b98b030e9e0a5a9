package rulesource

import (
	"fmt"
	"log/slog"
	"time"

	"alarmcore/internal/config"
)

// New builds the rules source selected by config.
// Params: rules config and logger.
// Returns: file poller or NATS KV watcher.
func New(cfg config.RulesConfig, logger *slog.Logger) (Source, error) {
	switch cfg.Source {
	case config.RulesSourceFile:
		return NewFilePoller(cfg.File, time.Duration(cfg.PollIntervalSec)*time.Second, logger), nil
	case config.RulesSourceNATSKV:
		return NewKVWatcher(cfg.NATS, logger)
	default:
		return nil, fmt.Errorf("unsupported rules source %q", cfg.Source)
	}
}
