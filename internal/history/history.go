package history

import (
	"context"
	"time"
)

// Event is one session state transition to be exported for audit or
// analytics. The reason is free text ("live source acquired",
// "watchdog staleness", ...).
type Event struct {
	Camera     string    `json:"camera"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Reason     string    `json:"reason"`
	PID        int       `json:"pid"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Sink is a destination for transition events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
	Close() error
}
