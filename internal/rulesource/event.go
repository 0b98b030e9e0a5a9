package rulesource

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
)

// EventType is the kind of change observed on the rules document.
type EventType uint8

const (
	// EventModify carries a new full rules document.
	EventModify EventType = iota + 1
	// EventDelete means the document is gone and every rule must be cleared.
	EventDelete
)

// String returns lowercase event type name.
func (t EventType) String() string {
	switch t {
	case EventModify:
		return "modify"
	case EventDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Event is one rules document change.
// Params: change kind, full document body for modify, and origin label.
// Returns: value handed to the rules watcher.
type Event struct {
	Type    EventType
	Content []byte
	Source  string
}

// Handler applies one rules change.
type Handler func(ctx context.Context, event Event) error

// Source streams rules changes until closed.
type Source interface {
	Start(ctx context.Context, handler Handler) error
	Close() error
}

func digest(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
