package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"tenantgate.io/internal/ids"
)

// Action is the kind of mutation recorded.
type Action string

const (
	ActionCreate Action = "CREATE"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
)

// SystemActor is recorded when no authenticated user caused the change.
const SystemActor = "system"

// Entry is one immutable audit_logs row.
type Entry struct {
	ID        string          `json:"id"`
	TenantID  string          `json:"tenant_id,omitempty"`
	TableName string          `json:"table_name"`
	RecordID  string          `json:"record_id"`
	Action    Action          `json:"action"`
	OldData   json.RawMessage `json:"old_data,omitempty"`
	NewData   json.RawMessage `json:"new_data,omitempty"`
	ChangedBy string          `json:"changed_by"`
	IPAddress string          `json:"ip_address,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Change describes a mutation to record. Old and New are JSON-encoded as-is,
// so callers pass values that already omit secrets.
type Change struct {
	TenantID  string
	TableName string
	RecordID  string
	Action    Action
	Old       any
	New       any
	ChangedBy string
	IP        string
}

// Appender persists audit entries. Implementations only ever insert.
type Appender interface {
	AppendAudit(ctx context.Context, entry *Entry) error
}

// Filter narrows ListAuditLogs results.
type Filter struct {
	TenantID  string
	TableName string
	RecordID  string
	Limit     int
}

// Record builds an Entry from c, appends it through app and emits an audit log event.
// ChangedBy and IP default to the actor and client address carried by ctx.
func Record(ctx context.Context, app Appender, c Change) (*Entry, error) {
	if app == nil {
		return nil, errors.New("audit: appender is required")
	}
	c.TableName = strings.TrimSpace(c.TableName)
	c.RecordID = strings.TrimSpace(c.RecordID)
	if c.TableName == "" || c.RecordID == "" {
		return nil, errors.New("audit: table name and record id are required")
	}
	switch c.Action {
	case ActionCreate, ActionUpdate, ActionDelete:
	default:
		return nil, fmt.Errorf("audit: unsupported action %q", c.Action)
	}

	entry := &Entry{
		ID:        ids.New(ids.Audit),
		TenantID:  c.TenantID,
		TableName: c.TableName,
		RecordID:  c.RecordID,
		Action:    c.Action,
		ChangedBy: c.ChangedBy,
		IPAddress: c.IP,
		CreatedAt: time.Now().UTC(),
	}
	if entry.ChangedBy == "" {
		entry.ChangedBy = ActorFromContext(ctx)
	}
	if entry.ChangedBy == "" {
		entry.ChangedBy = SystemActor
	}
	if entry.IPAddress == "" {
		entry.IPAddress = ClientIPFromContext(ctx)
	}
	var err error
	if entry.OldData, err = snapshot(c.Old); err != nil {
		return nil, fmt.Errorf("audit: encode old data: %w", err)
	}
	if entry.NewData, err = snapshot(c.New); err != nil {
		return nil, fmt.Errorf("audit: encode new data: %w", err)
	}

	if err := app.AppendAudit(ctx, entry); err != nil {
		return nil, err
	}
	_ = LogEvent(ctx, strings.ToLower(c.TableName+"."+string(c.Action)), map[string]any{
		"record_id":  entry.RecordID,
		"tenant_id":  entry.TenantID,
		"changed_by": entry.ChangedBy,
	})
	return entry, nil
}

func snapshot(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(v)
}
