package notify

import (
	"context"

	"github.com/rs/zerolog"
)

// LogNotifier writes mail to the log instead of sending it. It is used
// when no mail provider is configured.
type LogNotifier struct {
	log zerolog.Logger
}

var (
	_ Notifier   = (*LogNotifier)(nil)
	_ CodeSender = (*LogNotifier)(nil)
)

func NewLogNotifier(log zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: log.With().Str("component", "notify").Logger()}
}

func (n *LogNotifier) SendInvitation(_ context.Context, msg Message) error {
	m := invitationMail(msg)
	n.log.Info().Str("to", msg.Email).Str("subject", m.subject).Str("link", msg.Link).Msg("invitation")
	return nil
}

func (n *LogNotifier) SendFinal(_ context.Context, msg Message) error {
	m := finalMail(msg)
	n.log.Info().Str("to", msg.Email).Str("subject", m.subject).Str("link", msg.Link).Msg("final document")
	return nil
}

func (n *LogNotifier) SendOneTimeCode(_ context.Context, email, _ string) error {
	n.log.Info().Str("to", email).Msg("one-time code issued")
	return nil
}
