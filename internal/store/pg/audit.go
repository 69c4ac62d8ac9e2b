package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"stordesk.io/internal/access"
	"stordesk.io/internal/audit"
)

type auditRecorder struct {
	db *sql.DB
}

func (st *auditRecorder) Append(ctx context.Context, ev *audit.Event) error {
	detailsJSON := []byte("{}")
	if len(ev.Details) > 0 {
		data, err := json.Marshal(ev.Details)
		if err != nil {
			return fmt.Errorf("marshal details: %w", err)
		}
		detailsJSON = data
	}
	_, err := st.db.ExecContext(ctx, `
		insert into audit_events
			(id, ts, user_id, username, action, resource_type, resource_id, details, source_ip, user_agent, status)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, ev.ID, ev.Timestamp, nullIfEmpty(ev.UserID), nullIfEmpty(ev.Username), ev.Action,
		nullIfEmpty(ev.ResourceType), nullIfEmpty(ev.ResourceID), detailsJSON,
		nullIfEmpty(ev.SourceIP), nullIfEmpty(ev.UserAgent), ev.Status)
	return err
}

func (st *auditRecorder) List(ctx context.Context, f audit.Filter, page access.Page) ([]audit.Event, int, error) {
	var (
		where []string
		args  []any
		idx   = 1
	)
	addClause := func(clause string, value any) {
		where = append(where, fmt.Sprintf(clause, idx))
		args = append(args, value)
		idx++
	}
	if !f.Start.IsZero() {
		addClause("ts >= $%d", f.Start)
	}
	if !f.End.IsZero() {
		addClause("ts <= $%d", f.End)
	}
	if f.UserID != "" {
		addClause("user_id = $%d", f.UserID)
	}
	if f.Action != "" {
		addClause("action = $%d", f.Action)
	}
	if f.ResourceType != "" {
		addClause("resource_type = $%d", f.ResourceType)
	}
	if f.Status != "" {
		addClause("status = $%d", f.Status)
	}
	whereClause := ""
	if len(where) > 0 {
		whereClause = "where " + strings.Join(where, " and ")
	}

	var total int
	if err := st.db.QueryRowContext(ctx,
		fmt.Sprintf(`select count(*) from audit_events %s`, whereClause), args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	page = page.Clamp()
	rows, err := st.db.QueryContext(ctx, fmt.Sprintf(`
		select id, ts, coalesce(user_id,''), coalesce(username,''), action,
			coalesce(resource_type,''), coalesce(resource_id,''), details,
			coalesce(source_ip,''), coalesce(user_agent,''), status
		from audit_events
		%s
		order by ts desc
		limit $%d offset $%d
	`, whereClause, idx, idx+1), append(args, page.Size, page.Offset())...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var ev audit.Event
		var rawDetails []byte
		if err := rows.Scan(&ev.ID, &ev.Timestamp, &ev.UserID, &ev.Username, &ev.Action,
			&ev.ResourceType, &ev.ResourceID, &rawDetails, &ev.SourceIP, &ev.UserAgent, &ev.Status); err != nil {
			return nil, 0, err
		}
		if len(rawDetails) > 0 {
			if err := json.Unmarshal(rawDetails, &ev.Details); err != nil {
				return nil, 0, err
			}
		}
		if len(ev.Details) == 0 {
			ev.Details = nil
		}
		events = append(events, ev)
	}
	return events, total, rows.Err()
}
