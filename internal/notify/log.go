package notify

import (
	"context"
	"log/slog"
)

// LogSender writes notifications to the log instead of a broker. Used when no
// Kafka brokers are configured (local development, most tests).
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender builds a log-backed sender.
func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, recipient string, template Template, data map[string]string) error {
	s.logger.InfoContext(ctx, "notification (log sink)",
		"recipient", recipient,
		"template", string(template),
		"data", data,
	)
	return nil
}
