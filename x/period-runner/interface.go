package periodrunner

import (
	"context"
	"time"
)

// Runner invokes the handler on a fixed cadence.
type Runner interface {
	SetHandler(TickCallback)
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// TickCallback is the hook invoked by Runner for each tick. A returned error is
// logged and does not stop the runner; the next tick is the retry.
type TickCallback func(context.Context, TickInfo) error

// TickInfo is provided as the argument to the TickCallback hook.
type TickInfo struct {
	TickID    uint64
	StartedAt time.Time
	Interval  time.Duration
}
