package email

import (
	"context"

	"github.com/sirupsen/logrus"
)

// ConsoleMailer logs messages instead of sending them. Used when no
// SendGrid key is configured.
type ConsoleMailer struct {
	logger *logrus.Logger
}

var _ Mailer = (*ConsoleMailer)(nil)

func NewConsoleMailer(logger *logrus.Logger) *ConsoleMailer {
	return &ConsoleMailer{logger: logger}
}

func (m *ConsoleMailer) Send(_ context.Context, to, subject, htmlBody string) error {
	m.logger.WithFields(logrus.Fields{
		"to":      to,
		"subject": subject,
		"body":    htmlBody,
	}).Info("Email (console)")
	return nil
}
