// Package email is the outbound mail gateway: a Mailer interface with a
// SendGrid implementation for production and a console implementation for
// development and tests.
package email

import "context"

// Mailer sends a single templated message. Implementations must be safe for
// concurrent use; callers treat failures as degraded delivery, never fatal.
type Mailer interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}
