package notify

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/mail"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/mrz1836/postmark"
	"go.uber.org/zap"

	"tenantgate.io/internal/obs"
)

// MailTransport delivers one email using the resolved settings.
type MailTransport interface {
	SendMail(ctx context.Context, settings EmailSettings, to, subject, body string) error
}

// SMTPTransport speaks SMTP directly using the settings' host and credentials.
type SMTPTransport struct {
	Timeout time.Duration
}

func (t SMTPTransport) SendMail(ctx context.Context, settings EmailSettings, to, subject, body string) error {
	if settings.Host == "" {
		return errors.New("notify: smtp host is not configured")
	}
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	port := settings.Port
	if port == 0 {
		port = 587
	}
	addr := net.JoinHostPort(settings.Host, strconv.Itoa(port))

	dialer := &net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("notify: dial smtp: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(timeout))
	}

	c, err := smtp.NewClient(conn, settings.Host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("notify: smtp handshake: %w", err)
	}
	defer func() { _ = c.Close() }()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: settings.Host, MinVersion: tls.VersionTLS12}); err != nil {
			return fmt.Errorf("notify: starttls: %w", err)
		}
	}
	if settings.Username != "" {
		if err := c.Auth(smtp.PlainAuth("", settings.Username, settings.Password, settings.Host)); err != nil {
			return fmt.Errorf("notify: smtp auth: %w", err)
		}
	}
	if err := c.Mail(settings.FromEmail); err != nil {
		return err
	}
	if err := c.Rcpt(to); err != nil {
		return err
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(buildMIME(settings, to, subject, body)); err != nil {
		_ = w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

func buildMIME(settings EmailSettings, to, subject, body string) []byte {
	from := mail.Address{Name: settings.FromName, Address: settings.FromEmail}
	var b strings.Builder
	b.WriteString("From: " + from.String() + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", subject) + "\r\n")
	b.WriteString("Date: " + time.Now().UTC().Format(time.RFC1123Z) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return []byte(b.String())
}

// PostmarkTransport sends through the Postmark API. Only the sender identity is
// taken from settings.
type PostmarkTransport struct {
	client *postmark.Client
}

// NewPostmarkTransport builds a Postmark-backed transport.
func NewPostmarkTransport(serverToken, accountToken string) (*PostmarkTransport, error) {
	if serverToken == "" {
		return nil, errors.New("notify: postmark server token is required")
	}
	return &PostmarkTransport{client: postmark.NewClient(serverToken, accountToken)}, nil
}

func (t *PostmarkTransport) SendMail(ctx context.Context, settings EmailSettings, to, subject, body string) error {
	from := mail.Address{Name: settings.FromName, Address: settings.FromEmail}
	resp, err := t.client.SendEmail(ctx, postmark.Email{
		From:     from.String(),
		To:       to,
		Subject:  subject,
		TextBody: body,
		Tag:      "otp",
	})
	if err != nil {
		return fmt.Errorf("notify: postmark send: %w", err)
	}
	if resp.ErrorCode > 0 {
		return fmt.Errorf("notify: postmark error %d: %s", resp.ErrorCode, resp.Message)
	}
	return nil
}

// LogMailTransport writes messages to the log instead of delivering them.
type LogMailTransport struct{}

func (LogMailTransport) SendMail(_ context.Context, settings EmailSettings, to, subject, body string) error {
	obs.Logger().Info("email (log transport)",
		zap.String("from", settings.FromEmail),
		zap.String("to", to),
		zap.String("subject", subject),
		zap.String("body", body))
	return nil
}
