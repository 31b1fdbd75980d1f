package notify

import (
	"context"
	"log/slog"

	"github.com/seantiz/dataform-runner/internal/model"
)

// LogNotifier writes every event to a structured logger. Final events are
// logged at info, the rest at debug.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify implements Notifier.
func (n *LogNotifier) Notify(ctx context.Context, e model.Event) error {
	level := slog.LevelDebug
	if e.Kind.IsFinal() {
		level = slog.LevelInfo
	}

	attrs := []slog.Attr{
		slog.String("execution_id", e.ExecutionID),
		slog.String("kind", string(e.Kind)),
		slog.Int("attempt", e.Attempt),
	}
	if e.InvocationName != "" {
		attrs = append(attrs, slog.String("invocation", e.InvocationName))
	}
	if e.State != "" {
		attrs = append(attrs, slog.String("state", string(e.State)))
	}
	if e.Error != "" {
		attrs = append(attrs, slog.String("error", e.Error))
	}
	if e.DurationSeconds != nil {
		attrs = append(attrs, slog.Float64("duration_s", *e.DurationSeconds))
	}

	n.logger.LogAttrs(ctx, level, "workflow event", attrs...)
	return nil
}
