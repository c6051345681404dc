package interfaces

import (
	"context"

	"github.com/mailfwd/y2g/internal/enum"
)

// Notifier pushes a single notification to the operator.
type Notifier interface {
	Send(ctx context.Context, title, message string) error
}

// AlertService applies per-kind cooldowns in front of a Notifier and records
// every attempt. It never fails the caller.
type AlertService interface {
	Alert(ctx context.Context, kind enum.AlertKind, title, message string)
}
