// Package events defines the lifecycle event stream the supervisor emits
// and the sink abstraction that exports it to external databases.
package events

import (
	"context"
	"time"
)

// Type identifies what happened to the supervised child.
type Type string

const (
	TypeSpawn    Type = "spawn"
	TypeExit     Type = "exit"
	TypeCrash    Type = "crash"
	TypeStall    Type = "stall"
	TypeRestart  Type = "restart"
	TypeGiveUp   Type = "give_up"
	TypeShutdown Type = "shutdown"
)

// Event is one supervised-child lifecycle occurrence.
type Event struct {
	Type       Type      `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	PID        int       `json:"pid"`
	ExitCode   int       `json:"exit_code"`
	// Detail carries free-form context, e.g. the stall idle duration or
	// the restart ledger count.
	Detail string `json:"detail,omitempty"`
}

// Sink exports events to an external system. Implementations must be
// safe for concurrent use; delivery failures are logged and never affect
// supervision.
type Sink interface {
	Send(ctx context.Context, e Event) error
	Close() error
}
