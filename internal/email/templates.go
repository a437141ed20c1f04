package email

import (
	"bytes"
	"fmt"
	html "html/template"
	"time"

	"github.com/schoolport/schoolport/internal/models"
)

var (
	welcomeTmpl = html.Must(html.New("welcome").Parse(`<h2>Welcome {{.FirstName}}!</h2>
<p>Your account has been created successfully.</p>
<p><strong>Email:</strong> {{.Email}}</p>
<p>Please log in and change your password immediately.</p>
<p>Best regards,<br>School Management Team</p>`))

	noticeTmpl = html.Must(html.New("notice").Parse(`<h2>{{.Title}}</h2>
<p>{{.Message}}</p>
<p><strong>Category:</strong> {{.Category}}</p>
<p><strong>Priority:</strong> {{.Priority}}</p>
<p>Best regards,<br>School Management Team</p>`))

	leaveTmpl = html.Must(html.New("leave").Parse(`<h2>Leave Application Update</h2>
<p>Your leave application has been <strong>{{.Status}}</strong>.</p>
{{if .Comments}}<p><strong>Comments:</strong> {{.Comments}}</p>{{end}}
<p>Best regards,<br>School Management Team</p>`))

	feeTmpl = html.Must(html.New("fee").Parse(`<h2>Fee Payment Reminder</h2>
<p>Dear {{.FirstName}},</p>
<p>{{.Message}}</p>
<p>Please make the payment at your earliest convenience.</p>
<p>Best regards,<br>School Management Team</p>`))

	resetTmpl = html.Must(html.New("reset").Parse(`<h2>Password Reset</h2>
<p>Dear {{.FirstName}},</p>
<p>Your password reset code is <strong>{{.Code}}</strong>.</p>
<p>The code expires at {{.ExpiresAt}}. If you did not request a reset, ignore this message.</p>
<p>Best regards,<br>School Management Team</p>`))
)

// WelcomeMessage renders the subject/body pair sent on registration.
func WelcomeMessage(u *models.User) (subject, body string, err error) {
	return render(welcomeTmpl, "Welcome to School Management System", u)
}

// NotificationMessage renders the email form of a dispatched notification.
func NotificationMessage(n *models.Notification) (subject, body string, err error) {
	return render(noticeTmpl, n.Title, n)
}

// LeaveDecisionMessage renders a leave approval/rejection email.
func LeaveDecisionMessage(status, comments string) (subject, body string, err error) {
	return render(leaveTmpl, fmt.Sprintf("Leave Application %s", status), struct {
		Status   string
		Comments string
	}{status, comments})
}

// FeeReminderMessage renders a pending-fee reminder email.
func FeeReminderMessage(u *models.User, message string) (subject, body string, err error) {
	return render(feeTmpl, "Fee Payment Reminder", struct {
		FirstName string
		Message   string
	}{u.FirstName, message})
}

// ResetCodeMessage renders the password reset code email.
func ResetCodeMessage(u *models.User, code string, expiresAt time.Time) (subject, body string, err error) {
	return render(resetTmpl, "Password Reset Code", struct {
		FirstName string
		Code      string
		ExpiresAt string
	}{u.FirstName, code, expiresAt.Format(time.RFC1123)})
}

func render(tmpl *html.Template, subject string, data interface{}) (string, string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", "", fmt.Errorf("rendering email template: %w", err)
	}
	return subject, buf.String(), nil
}
