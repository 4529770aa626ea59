package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"tenantgate.io/internal/notify"
)

const (
	outboxPending = "pending"
	outboxSent    = "sent"
	outboxFailed  = "failed"
)

// EnqueueNotification inserts an outbox row; it becomes visible to the
// dispatcher when the surrounding transaction commits.
func (s *Store) EnqueueNotification(ctx context.Context, m *notify.Message) error {
	q, err := s.conn(ctx)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		insert into notification_outbox (id, tenant_id, channel, recipient, subject, body, sent_by,
			status, attempts, next_attempt_at, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, m.ID, nullIfEmpty(m.TenantID), string(m.Channel), m.Recipient, m.Subject, m.Body, m.SentBy,
		outboxPending, m.Attempts, m.NextAttemptAt, m.CreatedAt)
	return err
}

// ClaimOutbox leases due rows by pushing next_attempt_at to leaseUntil. Rows
// locked by another dispatcher are skipped.
func (s *Store) ClaimOutbox(ctx context.Context, limit int, now, leaseUntil time.Time) ([]notify.Message, error) {
	q, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(ctx, `
		update notification_outbox set next_attempt_at = $3
		where id in (
			select id from notification_outbox
			where status = 'pending' and next_attempt_at <= $2
			order by next_attempt_at, id
			limit $1
			for update skip locked
		)
		returning id, tenant_id, channel, recipient, subject, body, sent_by, attempts, next_attempt_at, created_at
	`, limit, now, leaseUntil)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []notify.Message
	for rows.Next() {
		var (
			m        notify.Message
			tenantID sql.NullString
			channel  string
		)
		if err := rows.Scan(&m.ID, &tenantID, &channel, &m.Recipient, &m.Subject, &m.Body, &m.SentBy,
			&m.Attempts, &m.NextAttemptAt, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.TenantID, m.Channel = tenantID.String, notify.Channel(channel)
		result = append(result, m)
	}
	return result, rows.Err()
}

func (s *Store) MarkSent(ctx context.Context, id string, at time.Time) error {
	q, err := s.conn(ctx)
	if err != nil {
		return err
	}
	res, err := q.ExecContext(ctx, `
		update notification_outbox set status = $2, attempts = attempts + 1, sent_at = $3, last_error = null
		where id = $1
	`, id, outboxSent, at)
	if err != nil {
		return err
	}
	return requireAffected(res, "outbox message")
}

func (s *Store) MarkRetry(ctx context.Context, id string, attempts int, next time.Time, lastErr string) error {
	q, err := s.conn(ctx)
	if err != nil {
		return err
	}
	res, err := q.ExecContext(ctx, `
		update notification_outbox set attempts = $2, next_attempt_at = $3, last_error = $4
		where id = $1
	`, id, attempts, next, lastErr)
	if err != nil {
		return err
	}
	return requireAffected(res, "outbox message")
}

func (s *Store) MarkFailed(ctx context.Context, id string, attempts int, lastErr string) error {
	q, err := s.conn(ctx)
	if err != nil {
		return err
	}
	res, err := q.ExecContext(ctx, `
		update notification_outbox set status = $2, attempts = $3, last_error = $4
		where id = $1
	`, id, outboxFailed, attempts, lastErr)
	if err != nil {
		return err
	}
	return requireAffected(res, "outbox message")
}

// EmailSettings returns the tenant override or notify.ErrNoSettings.
func (s *Store) EmailSettings(ctx context.Context, tenantID string) (*notify.EmailSettings, error) {
	if tenantID == "" {
		return nil, notify.ErrNoSettings
	}
	q, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	var (
		es             notify.EmailSettings
		user, pass     sql.NullString
		fromName, from sql.NullString
	)
	err = q.QueryRowContext(ctx, `
		select tenant_id, smtp_host, smtp_port, smtp_user, smtp_pass, from_name, from_email
		from email_settings
		where tenant_id = $1
	`, tenantID).Scan(&es.TenantID, &es.Host, &es.Port, &user, &pass, &fromName, &from)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notify.ErrNoSettings
	}
	if err != nil {
		return nil, err
	}
	es.Username, es.Password, es.FromName, es.FromEmail = user.String, pass.String, fromName.String, from.String
	return &es, nil
}

func (s *Store) SMSSettings(ctx context.Context, tenantID string) (*notify.SMSSettings, error) {
	if tenantID == "" {
		return nil, notify.ErrNoSettings
	}
	q, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	var (
		ss     notify.SMSSettings
		sender sql.NullString
	)
	err = q.QueryRowContext(ctx, `
		select tenant_id, api_url, api_key, sender
		from sms_settings
		where tenant_id = $1
	`, tenantID).Scan(&ss.TenantID, &ss.APIURL, &ss.APIKey, &sender)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notify.ErrNoSettings
	}
	if err != nil {
		return nil, err
	}
	ss.Sender = sender.String
	return &ss, nil
}

func (s *Store) AppendEmailLog(ctx context.Context, e *notify.EmailLog) error {
	q, err := s.conn(ctx)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		insert into email_logs (id, tenant_id, recipient, subject, body, sent_by, status, error, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, e.ID, nullIfEmpty(e.TenantID), e.Recipient, e.Subject, e.Body, e.SentBy, e.Status, nullIfEmpty(e.Error), e.CreatedAt)
	return err
}

func (s *Store) AppendSMSLog(ctx context.Context, e *notify.SMSLog) error {
	q, err := s.conn(ctx)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		insert into sms_logs (id, tenant_id, recipient, body, sent_by, status, error, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, e.ID, nullIfEmpty(e.TenantID), e.Recipient, e.Body, e.SentBy, e.Status, nullIfEmpty(e.Error), e.CreatedAt)
	return err
}
