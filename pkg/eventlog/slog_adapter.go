package eventlog

import (
	"context"
	"log/slog"
)

// SlogAdapter writes decision events to an slog.Logger.
// Useful for development when you want the decision trace in the console.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates a SlogAdapter that writes to the given slog.Logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log writes the event to the slog logger at Debug level.
func (a *SlogAdapter) Log(event Event) {
	attrs := []slog.Attr{
		slog.String("run_id", event.RunID),
		slog.String("category", event.Category.String()),
	}

	switch {
	case event.Port != nil:
		attrs = append(attrs,
			slog.String("action", event.Port.Action.String()),
			slog.String("addr", event.Port.Addr),
		)
		if event.Port.Client != "" {
			attrs = append(attrs, slog.String("client", event.Port.Client))
		}
		if event.Port.Kind != "" {
			attrs = append(attrs, slog.String("kind", event.Port.Kind))
		}
		if event.Port.NewProducer {
			attrs = append(attrs, slog.Bool("producer", true))
		}
		if event.Port.NewConsumer {
			attrs = append(attrs, slog.Bool("consumer", true))
		}
	case event.Rule != nil:
		attrs = append(attrs,
			slog.String("action", event.Rule.Action.String()),
			slog.String("kind", event.Rule.Kind),
			slog.String("output", event.Rule.Output),
			slog.String("input", event.Rule.Input),
		)
	case event.Decision != nil:
		attrs = append(attrs,
			slog.String("phase", event.Decision.Phase.String()),
			slog.String("src", event.Decision.Src),
			slog.String("dst", event.Decision.Dst),
			slog.String("allow", event.Decision.Allow.String()),
			slog.String("deny", event.Decision.Deny.String()),
			slog.String("min", event.Decision.Min.String()),
			slog.Bool("permitted", event.Decision.Permitted),
		)
	case event.Link != nil:
		attrs = append(attrs,
			slog.String("action", event.Link.Action.String()),
			slog.String("src", event.Link.Src),
			slog.String("dst", event.Link.Dst),
		)
		if event.Link.Error != "" {
			attrs = append(attrs, slog.String("error", event.Link.Error))
		}
	case event.Error != nil:
		attrs = append(attrs,
			slog.String("error_msg", event.Error.Message),
			slog.String("error_context", event.Error.Context),
		)
	}

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "eventlog", attrs...)
}

// Compile-time interface satisfaction check.
var _ Logger = (*SlogAdapter)(nil)
