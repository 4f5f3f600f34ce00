// Package logsender writes sign-in codes to the log instead of delivering
// them. For local development only.
package logsender

import (
	"context"
	"log/slog"

	"github.com/leasehub/tenantauth/internal/notifier"
)

// Sender implements notifier.Sender.
type Sender struct {
	logger *slog.Logger
}

// NewSender creates a log sender.
func NewSender(logger *slog.Logger) *Sender {
	return &Sender{logger: logger}
}

// Name returns the sender name.
func (s *Sender) Name() string { return "log" }

// Send logs the code.
func (s *Sender) Send(ctx context.Context, msg notifier.Message) error {
	s.logger.WarnContext(ctx, "log sender: sign-in code (development only)",
		slog.String("phone", msg.Phone),
		slog.String("code", msg.Code),
		slog.Time("expires_at", msg.ExpiresAt),
	)
	return nil
}
