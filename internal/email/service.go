// Package email delivers outbound mail over SMTP.
package email

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log"
	"mime"
	"mime/multipart"
	"net/smtp"
	"net/textproto"
	"strings"
	"time"

	"taskhub/api/internal/effects"
)

const JobInvitation = "email.invitation"

var errNotConfigured = errors.New("email not configured")

// Config holds SMTP settings. An empty Host disables delivery.
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

type Service struct {
	config Config
	server string
	auth   smtp.Auth
	send   sendFunc
}

func NewService(config Config) *Service {
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}
	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
		send:   smtp.SendMail,
	}
}

func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// SendHTMLEmail sends a multipart/alternative message with a plain-text part
// first so clients without HTML support still show something readable.
func (s *Service) SendHTMLEmail(to []string, subject, textBody, htmlBody string) error {
	if !s.IsConfigured() {
		return errNotConfigured
	}
	msg, err := s.compose(to, subject, textBody, htmlBody)
	if err != nil {
		return err
	}
	if err := s.send(s.server, s.auth, s.config.From, to, msg); err != nil {
		return fmt.Errorf("smtp send to %s: %w", strings.Join(to, ","), err)
	}
	return nil
}

func (s *Service) compose(to []string, subject, textBody, htmlBody string) ([]byte, error) {
	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	var body bytes.Buffer
	parts := multipart.NewWriter(&body)
	for _, part := range []struct{ contentType, content string }{
		{"text/plain; charset=UTF-8", textBody},
		{"text/html; charset=UTF-8", htmlBody},
	} {
		w, err := parts.CreatePart(textproto.MIMEHeader{"Content-Type": {part.contentType}})
		if err != nil {
			return nil, fmt.Errorf("create %s part: %w", part.contentType, err)
		}
		if _, err := io.WriteString(w, part.content+"\r\n"); err != nil {
			return nil, fmt.Errorf("write %s part: %w", part.contentType, err)
		}
	}
	if err := parts.Close(); err != nil {
		return nil, fmt.Errorf("close multipart: %w", err)
	}

	var msg bytes.Buffer
	for _, h := range [][2]string{
		{"To", strings.Join(to, ", ")},
		{"From", from},
		{"Subject", mime.QEncoding.Encode("utf-8", subject)},
		{"MIME-Version", "1.0"},
		{"Content-Type", fmt.Sprintf("multipart/alternative; boundary=%q", parts.Boundary())},
	} {
		fmt.Fprintf(&msg, "%s: %s\r\n", h[0], h[1])
	}
	msg.WriteString("\r\n")
	msg.Write(body.Bytes())
	return msg.Bytes(), nil
}

// InvitationMessage is the payload of an invitation email job.
type InvitationMessage struct {
	To            string    `json:"to"`
	WorkspaceName string    `json:"workspaceName"`
	InviterName   string    `json:"inviterName"`
	Role          string    `json:"role"`
	AcceptURL     string    `json:"acceptUrl"`
	ExpiresAt     time.Time `json:"expiresAt"`
}

type invitationData struct {
	AppName       string
	WorkspaceName string
	InviterName   string
	Role          string
	AcceptURL     string
	ExpiresOn     string
}

func (s *Service) SendInvitationEmail(m InvitationMessage) error {
	data := invitationData{
		AppName:       "Taskhub",
		WorkspaceName: m.WorkspaceName,
		InviterName:   m.InviterName,
		Role:          strings.ToLower(m.Role),
		AcceptURL:     m.AcceptURL,
		ExpiresOn:     m.ExpiresAt.UTC().Format("January 2, 2006"),
	}

	subject := fmt.Sprintf("You're invited to %s on Taskhub", m.WorkspaceName)
	html, err := renderTemplate(invitationTemplate, data)
	if err != nil {
		return fmt.Errorf("render invitation template: %w", err)
	}
	text := fmt.Sprintf("%s invited you to join %s as %s.\r\nAccept the invitation: %s\r\nThis link expires on %s.",
		data.InviterName, data.WorkspaceName, data.Role, data.AcceptURL, data.ExpiresOn)

	return s.SendHTMLEmail([]string{m.To}, subject, text, html)
}

// Register installs the invitation email job handler. Without SMTP settings
// the job is dropped with a log line rather than retried.
func Register(registry *effects.Registry, svc *Service) {
	registry.Register(JobInvitation, func(_ context.Context, job effects.Job) error {
		msg, err := effects.Decode[InvitationMessage](job)
		if err != nil {
			return err
		}
		if !svc.IsConfigured() {
			log.Printf("email: smtp not configured, skipping invitation to %s", msg.To)
			return nil
		}
		return svc.SendInvitationEmail(msg)
	})
}

func renderTemplate(tmpl *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

var invitationTemplate = template.Must(template.New("invitation").Parse(invitationEmailTemplate))

const invitationEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Join {{.WorkspaceName}} on {{.AppName}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #0066cc; padding-bottom: 10px; margin-bottom: 20px; }
        .button { display: inline-block; padding: 12px 24px; background: #0066cc; color: white; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
        .link { word-break: break-all; color: #0066cc; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <h2>You're invited to {{.WorkspaceName}}</h2>

    <p>{{.InviterName}} invited you to join <strong>{{.WorkspaceName}}</strong> as {{.Role}}.</p>

    <p>
        <a href="{{.AcceptURL}}" class="button">Accept Invitation</a>
    </p>

    <p>Or copy and paste this link into your browser:</p>
    <p class="link">{{.AcceptURL}}</p>

    <p>This invitation expires on {{.ExpiresOn}}.</p>

    <div class="footer">
        <p>If you weren't expecting this invitation, you can safely ignore this email.</p>
    </div>
</body>
</html>`
