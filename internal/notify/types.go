package notify

import (
	"context"
	"errors"
	"time"

	"tenantgate.io/internal/ids"
)

// Channel selects the delivery transport.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

const (
	StatusSent   = "sent"
	StatusFailed = "failed"
)

// ErrNoSettings is returned by a Store when a tenant has no override row.
var ErrNoSettings = errors.New("notify: no tenant settings")

// Message is one queued outbound notification (a notification_outbox row).
type Message struct {
	ID            string    `json:"id"`
	TenantID      string    `json:"tenant_id,omitempty"`
	Channel       Channel   `json:"channel"`
	Recipient     string    `json:"recipient"`
	Subject       string    `json:"subject,omitempty"`
	Body          string    `json:"body"`
	SentBy        string    `json:"sent_by"`
	Attempts      int       `json:"attempts"`
	NextAttemptAt time.Time `json:"next_attempt_at"`
	CreatedAt     time.Time `json:"created_at"`
}

// NewEmail builds a queued email message.
func NewEmail(tenantID, to, subject, body, sentBy string) *Message {
	return newMessage(ChannelEmail, tenantID, to, subject, body, sentBy)
}

// NewSMS builds a queued SMS message.
func NewSMS(tenantID, to, body, sentBy string) *Message {
	return newMessage(ChannelSMS, tenantID, to, "", body, sentBy)
}

func newMessage(ch Channel, tenantID, to, subject, body, sentBy string) *Message {
	now := time.Now().UTC()
	return &Message{
		ID:            ids.New(ids.Outbox),
		TenantID:      tenantID,
		Channel:       ch,
		Recipient:     to,
		Subject:       subject,
		Body:          body,
		SentBy:        sentBy,
		NextAttemptAt: now,
		CreatedAt:     now,
	}
}

// EmailSettings holds SMTP credentials and sender identity.
type EmailSettings struct {
	TenantID  string `json:"tenant_id,omitempty"`
	Host      string `json:"smtp_host"`
	Port      int    `json:"smtp_port"`
	Username  string `json:"smtp_user"`
	Password  string `json:"-"`
	FromName  string `json:"from_name"`
	FromEmail string `json:"from_email"`
}

// SMSSettings holds SMS provider credentials.
type SMSSettings struct {
	TenantID string `json:"tenant_id,omitempty"`
	APIURL   string `json:"api_url"`
	APIKey   string `json:"-"`
	Sender   string `json:"sender"`
}

// EmailLog is an email_logs row. Body contains the full message and is sensitive.
type EmailLog struct {
	ID        string
	TenantID  string
	Recipient string
	Subject   string
	Body      string
	SentBy    string
	Status    string
	Error     string
	CreatedAt time.Time
}

// SMSLog is an sms_logs row.
type SMSLog struct {
	ID        string
	TenantID  string
	Recipient string
	Body      string
	SentBy    string
	Status    string
	Error     string
	CreatedAt time.Time
}

// Store persists settings, delivery logs and the outbox.
type Store interface {
	EmailSettings(ctx context.Context, tenantID string) (*EmailSettings, error)
	SMSSettings(ctx context.Context, tenantID string) (*SMSSettings, error)
	AppendEmailLog(ctx context.Context, entry *EmailLog) error
	AppendSMSLog(ctx context.Context, entry *SMSLog) error

	// ClaimOutbox leases up to limit due messages until leaseUntil.
	ClaimOutbox(ctx context.Context, limit int, now, leaseUntil time.Time) ([]Message, error)
	MarkSent(ctx context.Context, id string, at time.Time) error
	MarkRetry(ctx context.Context, id string, attempts int, next time.Time, lastErr string) error
	MarkFailed(ctx context.Context, id string, attempts int, lastErr string) error
}
