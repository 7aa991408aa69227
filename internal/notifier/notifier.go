// Package notifier defines the fire-and-forget notification contract the
// engine uses for terminal-state summaries: no back-pressure,
// failures logged and dropped.
package notifier

import "context"

// Notifier delivers a human-readable message to an operator channel.
// Implementations must not block beyond their own transport timeout and
// must never surface delivery failures to the caller's control flow.
type Notifier interface {
	Notify(ctx context.Context, text string)
}

// Noop discards every notification. Used when no notifier is configured.
type Noop struct{}

func (Noop) Notify(context.Context, string) {}

var _ Notifier = Noop{}
