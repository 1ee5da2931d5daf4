package core

import (
	"context"

	"github.com/rs/zerolog"
)

// LogNotifier writes notifications to the service log. It is the default
// sink when no external channel is configured.
type LogNotifier struct {
	logger zerolog.Logger
}

func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "log-notifier").Logger()}
}

func (n *LogNotifier) Name() string { return "log" }

func (n *LogNotifier) Send(_ context.Context, severity, title, message string) error {
	n.logger.Warn().
		Str("severity", severity).
		Str("title", title).
		Msg(message)
	return nil
}
