package email

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/sirupsen/logrus"

	"github.com/schoolport/schoolport/internal/config"
)

const (
	sendgridHost     = "https://api.sendgrid.com"
	sendgridEndpoint = "/v3/mail/send"
)

type SendgridMailer struct {
	key    string
	from   *sgmail.Email
	logger *logrus.Logger
}

var _ Mailer = (*SendgridMailer)(nil)

func NewSendgridMailer(cfg *config.EmailConfig, logger *logrus.Logger) *SendgridMailer {
	return &SendgridMailer{
		key:    cfg.SendgridKey,
		from:   sgmail.NewEmail(cfg.FromName, cfg.FromEmail),
		logger: logger,
	}
}

func (m *SendgridMailer) Send(ctx context.Context, to, subject, htmlBody string) error {
	p := sgmail.NewPersonalization()
	p.Subject = subject
	p.AddTos(sgmail.NewEmail("", to))

	msg := sgmail.NewV3Mail()
	msg.SetFrom(m.from)
	msg.AddPersonalizations(p)
	msg.AddContent(sgmail.NewContent("text/html", htmlBody))

	req := sendgrid.GetRequest(m.key, sendgridEndpoint, sendgridHost)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(msg)

	res, err := sendgrid.MakeRequestWithContext(ctx, req)
	if err != nil {
		return fmt.Errorf("sending email: %w", err)
	}
	if res.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("sending email: status %d: %s", res.StatusCode, res.Body)
	}

	m.logger.WithFields(logrus.Fields{
		"to":      to,
		"subject": subject,
	}).Debug("Email sent")
	return nil
}
