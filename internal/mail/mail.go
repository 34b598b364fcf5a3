// Package mail defines the outbound mail capability. Actual delivery is a
// deployment concern; the service only depends on the Sender interface.
package mail

import (
	"context"

	"github.com/rs/zerolog"
)

// Sender dispatches one email. Implementations must treat the call as a
// cancellable network operation.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// LogSender writes outbound mail to the log instead of delivering it.
// Used in development and as the default when no provider is configured.
type LogSender struct {
	Logger zerolog.Logger
}

func (s *LogSender) Send(ctx context.Context, to, subject, body string) error {
	s.Logger.Info().
		Str("to", to).
		Str("subject", subject).
		Str("body", body).
		Msg("outbound mail")
	return nil
}
