// Package notify publishes manager lifecycle events to external systems.
package notify

import (
	"context"
	"errors"

	"github.com/seantiz/dataform-runner/internal/model"
)

// Notifier delivers a lifecycle event. Implementations must be safe for
// concurrent use.
type Notifier interface {
	Notify(ctx context.Context, e model.Event) error
}

// MultiNotifier sends to multiple notifiers.
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a notifier that sends to all provided notifiers.
// Nil entries are skipped.
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	m := &MultiNotifier{}
	for _, n := range notifiers {
		if n != nil {
			m.notifiers = append(m.notifiers, n)
		}
	}
	return m
}

// Notify sends e to every notifier, even after a failure, and joins the
// errors.
func (m *MultiNotifier) Notify(ctx context.Context, e model.Event) error {
	var errs []error
	for _, n := range m.notifiers {
		if err := n.Notify(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NoopNotifier does nothing (for testing or disabled notifications).
type NoopNotifier struct{}

func (NoopNotifier) Notify(context.Context, model.Event) error { return nil }
