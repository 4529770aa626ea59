package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"tenantgate.io/internal/obs"
)

// SMSTransport delivers one text message using the resolved settings.
type SMSTransport interface {
	SendSMS(ctx context.Context, settings SMSSettings, to, body string) error
}

// HTTPSMSTransport posts JSON to a generic SMS gateway:
// {"to": ..., "from": sender, "message": ...} with a bearer API key.
type HTTPSMSTransport struct {
	Client *http.Client
}

type smsRequest struct {
	To      string `json:"to"`
	From    string `json:"from"`
	Message string `json:"message"`
}

func (t HTTPSMSTransport) SendSMS(ctx context.Context, settings SMSSettings, to, body string) error {
	if settings.APIURL == "" {
		return errors.New("notify: sms api url is not configured")
	}
	client := t.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	payload, err := json.Marshal(smsRequest{To: to, From: settings.Sender, Message: body})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, settings.APIURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if settings.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+settings.APIKey)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: sms gateway: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("notify: sms gateway returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}

// LogSMSTransport writes messages to the log instead of delivering them.
type LogSMSTransport struct{}

func (LogSMSTransport) SendSMS(_ context.Context, settings SMSSettings, to, body string) error {
	obs.Logger().Info("sms (log transport)",
		zap.String("from", settings.Sender),
		zap.String("to", to),
		zap.String("body", body))
	return nil
}
