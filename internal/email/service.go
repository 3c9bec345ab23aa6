// Package email sends account mail via SMTP.
package email

import (
	"bytes"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
)

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

// Service provides email sending
type Service struct {
	config Config
	server string
	auth   smtp.Auth
}

// NewService creates a new email service
func NewService(config Config) *Service {
	auth := smtp.PlainAuth("", config.Username, config.Password, config.Host)

	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
	}
}

// IsConfigured returns true if email is configured. When it is not, signup
// and reset responses carry their tokens directly for development use.
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// SendHTMLEmail sends an HTML email with a plain-text fallback part.
func (s *Service) SendHTMLEmail(to []string, subject, htmlBody string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("email not configured")
	}

	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	boundary := "boundary-medkey"

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary)
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "Please view this email in an HTML-capable email client.\r\n")
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", htmlBody)
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)

	return smtp.SendMail(s.server, s.auth, s.config.From, to, msg.Bytes())
}

type confirmationData struct {
	AppName         string
	UserName        string
	ConfirmationURL string
}

type passwordResetData struct {
	AppName  string
	UserName string
	ResetURL string
}

// SendConfirmationEmail sends the account confirmation email
func (s *Service) SendConfirmationEmail(to, userName, confirmationURL string) error {
	data := confirmationData{
		AppName:         "MedKey",
		UserName:        userName,
		ConfirmationURL: confirmationURL,
	}

	subject := "Confirm your MedKey account"
	html, err := renderTemplate(confirmationEmailTemplate, data)
	if err != nil {
		return fmt.Errorf("render confirmation template: %w", err)
	}

	return s.SendHTMLEmail([]string{to}, subject, html)
}

// SendPasswordResetEmail sends a password reset email
func (s *Service) SendPasswordResetEmail(to, userName, resetURL string) error {
	data := passwordResetData{
		AppName:  "MedKey",
		UserName: userName,
		ResetURL: resetURL,
	}

	subject := "Reset your MedKey password"
	html, err := renderTemplate(passwordResetEmailTemplate, data)
	if err != nil {
		return fmt.Errorf("render password reset template: %w", err)
	}

	return s.SendHTMLEmail([]string{to}, subject, html)
}

func renderTemplate(tmpl string, data interface{}) (string, error) {
	t := template.Must(template.New("email").Parse(tmpl))
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const confirmationEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Confirm your {{.AppName}} account</title>
</head>
<body>
    <h1>{{.AppName}}</h1>

    <h2>Welcome, {{.UserName}}!</h2>

    <p>Thank you for signing up. Please confirm your email address to activate
    your account and your emergency profile.</p>

    <p><a href="{{.ConfirmationURL}}">Confirm Email Address</a></p>

    <p>Or copy and paste this link into your browser:</p>
    <p>{{.ConfirmationURL}}</p>

    <p>This confirmation link will expire in 24 hours.</p>

    <p>If you didn't create an account with {{.AppName}}, you can safely
    ignore this email.</p>
</body>
</html>`

const passwordResetEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Reset your {{.AppName}} password</title>
</head>
<body>
    <h1>{{.AppName}}</h1>

    <h2>Password Reset Request</h2>

    <p>Hi {{.UserName}},</p>

    <p>We received a request to reset your password. Use the link below to
    create a new password:</p>

    <p><a href="{{.ResetURL}}">Reset Password</a></p>

    <p>Or copy and paste this link into your browser:</p>
    <p>{{.ResetURL}}</p>

    <p><strong>Important:</strong> this reset link will expire in 1 hour.</p>

    <p>If you didn't request a password reset, you can safely ignore this
    email. Your password will remain unchanged.</p>
</body>
</html>`
