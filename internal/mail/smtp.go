// Package mail delivers recovery tokens. The SMTP client is deliberately
// minimal: one plain-text message per call, auth optional.
package mail

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/evgray/keyfort-server/internal/logger"
	"github.com/evgray/keyfort-server/internal/model"
)

var _ model.Mailer = (*SMTP)(nil)

// SMTP sends mail through a single relay.
type SMTP struct {
	addr     string
	from     string
	username string
	password string
	log      *logger.Logger
}

func NewSMTP(addr, from, username, password string, log *logger.Logger) *SMTP {
	return &SMTP{
		addr:     addr,
		from:     from,
		username: username,
		password: password,
		log:      log,
	}
}

func (m *SMTP) Send(ctx context.Context, recipient, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := strings.Join([]string{
		"From: " + m.from,
		"To: " + recipient,
		"Subject: " + subject,
		"",
		body,
	}, "\r\n")

	var auth smtp.Auth
	if m.username != "" {
		host := m.addr
		if idx := strings.LastIndex(host, ":"); idx >= 0 {
			host = host[:idx]
		}
		auth = smtp.PlainAuth("", m.username, m.password, host)
	}

	if err := smtp.SendMail(m.addr, auth, m.from, []string{recipient}, []byte(msg)); err != nil {
		return fmt.Errorf("failed to send mail: %w", err)
	}

	m.log.Info("sent mail", "recipient", recipient, "subject", subject)
	return nil
}

// Noop discards mail. Used when no relay is configured; recovery token
// dispatch then fails closed at the service layer only for missing
// addresses, while deliveries are logged and dropped.
type Noop struct {
	log *logger.Logger
}

func NewNoop(log *logger.Logger) *Noop {
	return &Noop{log: log}
}

func (m *Noop) Send(_ context.Context, recipient, subject, _ string) error {
	m.log.Warn("mail relay not configured, dropping message", "recipient", recipient, "subject", subject)
	return nil
}
