package pg

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"tenantgate.io/internal/audit"
)

func nullJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

// AppendAudit inserts one audit row. audit_logs is insert-only.
func (s *Store) AppendAudit(ctx context.Context, e *audit.Entry) error {
	q, err := s.conn(ctx)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		insert into audit_logs (id, tenant_id, table_name, record_id, action, old_data, new_data, changed_by, ip_address, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, e.ID, nullIfEmpty(e.TenantID), e.TableName, e.RecordID, string(e.Action),
		nullJSON(e.OldData), nullJSON(e.NewData), e.ChangedBy, nullIfEmpty(e.IPAddress), e.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, f audit.Filter) ([]audit.Entry, error) {
	q, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	var (
		where []string
		args  []any
	)
	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		where = append(where, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	add("tenant_id", f.TenantID)
	add("table_name", f.TableName)
	add("record_id", f.RecordID)

	query := `select id, tenant_id, table_name, record_id, action, old_data, new_data, changed_by, ip_address, created_at from audit_logs`
	if len(where) > 0 {
		query += " where " + strings.Join(where, " and ")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" order by created_at desc, id desc limit $%d", len(args))

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []audit.Entry
	for rows.Next() {
		var (
			e            audit.Entry
			tenantID, ip sql.NullString
			action       string
			oldData      []byte
			newData      []byte
		)
		if err := rows.Scan(&e.ID, &tenantID, &e.TableName, &e.RecordID, &action, &oldData, &newData, &e.ChangedBy, &ip, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.TenantID, e.IPAddress, e.Action = tenantID.String, ip.String, audit.Action(action)
		e.OldData, e.NewData = oldData, newData
		result = append(result, e)
	}
	return result, rows.Err()
}
