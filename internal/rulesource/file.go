package rulesource

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"
)

const defaultPollInterval = 30 * time.Second

// FilePoller watches one rules file by content digest.
// Params: file path and poll interval.
// Returns: rules source emitting modify on content change and delete on removal.
type FilePoller struct {
	path     string
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	digest  string
	present bool

	cancel context.CancelFunc
	done   chan struct{}
}

// NewFilePoller creates file-backed rules source.
// Params: rules file path, poll interval (default 30s), and logger.
// Returns: poller; call Start to begin watching.
func NewFilePoller(path string, interval time.Duration, logger *slog.Logger) *FilePoller {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FilePoller{path: path, interval: interval, logger: logger}
}

// Start loads the file once and then polls it in background.
// Params: context bounding the poll loop and change handler.
// Returns: error when the initial read fails.
func (p *FilePoller) Start(ctx context.Context, handler Handler) error {
	if _, err := os.Stat(p.path); err != nil {
		return fmt.Errorf("rules file %q: %w", p.path, err)
	}
	if err := p.Poll(ctx, handler); err != nil {
		p.logger.Error("initial rules load applied with errors", "path", p.path, "error", err.Error())
	}

	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	go func() {
		defer close(p.done)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				if err := p.Poll(loopCtx, handler); err != nil {
					p.logger.Error("rules reload failed", "path", p.path, "error", err.Error())
				}
			}
		}
	}()
	return nil
}

// Poll runs one check and emits at most one event.
// Params: context and change handler.
// Returns: read error or handler error.
func (p *FilePoller) Poll(ctx context.Context, handler Handler) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	body, err := os.ReadFile(p.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("read rules file %q: %w", p.path, err)
		}
		if !p.present {
			return nil
		}
		p.present = false
		p.digest = ""
		return handler(ctx, Event{Type: EventDelete, Source: p.path})
	}

	sum := digest(body)
	if p.present && sum == p.digest {
		return nil
	}
	p.present = true
	p.digest = sum
	return handler(ctx, Event{Type: EventModify, Content: body, Source: p.path})
}

// Close stops the poll loop.
// Params: none.
// Returns: nil.
func (p *FilePoller) Close() error {
	if p.cancel != nil {
		p.cancel()
		<-p.done
	}
	return nil
}
