package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// Execer is satisfied by *sql.DB and *sql.Tx.
type Execer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

const insertEventQuery = `
	INSERT INTO activity_logs (
		actor_id, target_user_id, action, category, details,
		ip_address, user_agent, request_id, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	RETURNING id
`

// Insert writes event through exec and sets event.ID. Pass a *sql.Tx to make
// the audit row part of a larger transaction.
func Insert(ctx context.Context, exec Execer, event *Event) error {
	details := event.Details
	if details == nil {
		details = map[string]interface{}{}
	}
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("failed to marshal audit details: %w", err)
	}

	err = exec.QueryRowContext(ctx, insertEventQuery,
		nullString(event.ActorID), nullString(event.TargetUserID),
		string(event.Action), string(event.Category), detailsJSON,
		event.IPAddress, event.UserAgent, event.RequestID, event.Timestamp,
	).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// DBLogger writes events to the activity_logs table.
type DBLogger struct {
	db *sql.DB
}

// NewDBLogger creates a database-backed audit logger. The table is created
// by storage migrations.
func NewDBLogger(db *sql.DB) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &DBLogger{db: db}, nil
}

func (l *DBLogger) Log(ctx context.Context, event *Event) error {
	return Insert(ctx, l.db, event)
}

func (l *DBLogger) Close() error { return nil }

// ListForUser returns the most recent events where userID is the actor or
// the target.
func (l *DBLogger) ListForUser(ctx context.Context, userID string, limit int) ([]*Event, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, COALESCE(actor_id, ''), COALESCE(target_user_id, ''), action, category,
			details, ip_address, user_agent, request_id, created_at
		FROM activity_logs
		WHERE actor_id = $1 OR target_user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var (
			e       Event
			action  string
			cat     string
			details []byte
		)
		if err := rows.Scan(&e.ID, &e.ActorID, &e.TargetUserID, &action, &cat,
			&details, &e.IPAddress, &e.UserAgent, &e.RequestID, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		e.Action = Action(action)
		e.Category = Category(cat)
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, fmt.Errorf("failed to decode audit details: %w", err)
			}
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
