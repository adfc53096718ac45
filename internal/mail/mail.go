// Package mail delivers the one-time codes that gate a PIN change.
package mail

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/medvault/internal/config"
	"github.com/dmitrijs2005/medvault/internal/logging"
)

const PinResetSubject = "Security Verification Code"

// PinResetBody renders the message carrying code.
func PinResetBody(code string) string {
	return fmt.Sprintf("Your verification code to securely change your medical vault PIN is: %s. Do not share this code.", code)
}

// Mailer sends the PIN-change verification code to a user.
type Mailer interface {
	SendPinResetOtp(ctx context.Context, email, name, code string) error
}

// Message is one outgoing email.
type Message struct {
	ToEmail string
	ToName  string
	Subject string
	Body    string
}

// New returns a RelayMailer when a relay URL is configured and a LogMailer
// otherwise.
func New(cfg config.Mail, log logging.Logger) Mailer {
	if cfg.RelayURL == "" {
		return NewLogMailer(log)
	}
	return NewRelayMailer(cfg, log)
}

// LogMailer is the mock mode: it records that a code went out but never
// the code itself.
type LogMailer struct {
	log logging.Logger
}

func NewLogMailer(log logging.Logger) *LogMailer {
	return &LogMailer{log: log}
}

func (m *LogMailer) SendPinResetOtp(ctx context.Context, email, name, code string) error {
	m.log.Info(ctx, "mail relay not configured, verification code not delivered",
		"to_email", email, "to_name", name, "subject", PinResetSubject)
	return nil
}
