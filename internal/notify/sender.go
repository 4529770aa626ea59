package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tenantgate.io/internal/ids"
	"tenantgate.io/internal/obs"
)

// Defaults are the process-wide settings used when a tenant has no override.
type Defaults struct {
	Email EmailSettings
	SMS   SMSSettings
}

// Sender resolves settings at send time, delivers, and writes the delivery log.
type Sender struct {
	store    Store
	defaults Defaults

	// mail and sms deliver with the default settings; tenantMail and tenantSMS
	// deliver with tenant-supplied credentials.
	mail       MailTransport
	sms        SMSTransport
	tenantMail MailTransport
	tenantSMS  SMSTransport

	now func() time.Time
}

// SenderOption configures Sender.
type SenderOption func(*Sender)

// WithTenantTransports overrides the transports used with tenant settings.
func WithTenantTransports(mail MailTransport, sms SMSTransport) SenderOption {
	return func(s *Sender) {
		if mail != nil {
			s.tenantMail = mail
		}
		if sms != nil {
			s.tenantSMS = sms
		}
	}
}

// WithSenderClock overrides the time source.
func WithSenderClock(fn func() time.Time) SenderOption {
	return func(s *Sender) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewSender constructs a Sender. mail and sms are the default transports.
func NewSender(store Store, defaults Defaults, mail MailTransport, sms SMSTransport, opts ...SenderOption) (*Sender, error) {
	if store == nil {
		return nil, errors.New("notify: store is required")
	}
	if mail == nil || sms == nil {
		return nil, errors.New("notify: mail and sms transports are required")
	}
	s := &Sender{
		store:      store,
		defaults:   defaults,
		mail:       mail,
		sms:        sms,
		tenantMail: SMTPTransport{},
		tenantSMS:  HTTPSMSTransport{},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Deliver sends msg over its channel.
func (s *Sender) Deliver(ctx context.Context, msg Message) error {
	switch msg.Channel {
	case ChannelEmail:
		return s.SendEmail(ctx, msg.TenantID, msg.Recipient, msg.Subject, msg.Body, msg.SentBy)
	case ChannelSMS:
		return s.SendSMS(ctx, msg.TenantID, msg.Recipient, msg.Body, msg.SentBy)
	default:
		return fmt.Errorf("notify: unsupported channel %q", msg.Channel)
	}
}

// SendEmail delivers an email and appends an email_logs row.
func (s *Sender) SendEmail(ctx context.Context, tenantID, to, subject, body, sentBy string) error {
	settings, transport, err := s.resolveEmail(ctx, tenantID)
	if err != nil {
		return err
	}
	sendErr := transport.SendMail(ctx, settings, to, subject, body)
	entry := &EmailLog{
		ID:        ids.New(ids.EmailLog),
		TenantID:  tenantID,
		Recipient: to,
		Subject:   subject,
		Body:      body,
		SentBy:    sentBy,
		Status:    StatusSent,
		CreatedAt: s.now().UTC(),
	}
	if sendErr != nil {
		entry.Status = StatusFailed
		entry.Error = sendErr.Error()
	}
	obs.NotificationResult(string(ChannelEmail), entry.Status)
	if err := s.store.AppendEmailLog(ctx, entry); err != nil {
		return errors.Join(sendErr, fmt.Errorf("notify: append email log: %w", err))
	}
	return sendErr
}

// SendSMS delivers a text message and appends an sms_logs row.
func (s *Sender) SendSMS(ctx context.Context, tenantID, to, body, sentBy string) error {
	settings, transport, err := s.resolveSMS(ctx, tenantID)
	if err != nil {
		return err
	}
	sendErr := transport.SendSMS(ctx, settings, to, body)
	entry := &SMSLog{
		ID:        ids.New(ids.SMSLog),
		TenantID:  tenantID,
		Recipient: to,
		Body:      body,
		SentBy:    sentBy,
		Status:    StatusSent,
		CreatedAt: s.now().UTC(),
	}
	if sendErr != nil {
		entry.Status = StatusFailed
		entry.Error = sendErr.Error()
	}
	obs.NotificationResult(string(ChannelSMS), entry.Status)
	if err := s.store.AppendSMSLog(ctx, entry); err != nil {
		return errors.Join(sendErr, fmt.Errorf("notify: append sms log: %w", err))
	}
	return sendErr
}

func (s *Sender) resolveEmail(ctx context.Context, tenantID string) (EmailSettings, MailTransport, error) {
	if tenantID != "" {
		settings, err := s.store.EmailSettings(ctx, tenantID)
		switch {
		case err == nil:
			return *settings, s.tenantMail, nil
		case !errors.Is(err, ErrNoSettings):
			return EmailSettings{}, nil, fmt.Errorf("notify: load email settings: %w", err)
		}
	}
	return s.defaults.Email, s.mail, nil
}

func (s *Sender) resolveSMS(ctx context.Context, tenantID string) (SMSSettings, SMSTransport, error) {
	if tenantID != "" {
		settings, err := s.store.SMSSettings(ctx, tenantID)
		switch {
		case err == nil:
			return *settings, s.tenantSMS, nil
		case !errors.Is(err, ErrNoSettings):
			return SMSSettings{}, nil, fmt.Errorf("notify: load sms settings: %w", err)
		}
	}
	return s.defaults.SMS, s.sms, nil
}
