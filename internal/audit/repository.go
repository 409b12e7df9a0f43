package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/hubrelay/internal/infrastructure/database"
)

// Actions recorded in the activity log.
const (
	ActionHubStarted         = "hub_started"
	ActionHubStopped         = "hub_stopped"
	ActionServiceStarted     = "service_started"
	ActionServiceStopped     = "service_stopped"
	ActionNotificationAction = "notification_action"
)

// Sources of recorded activity.
const (
	SourceHub     = "hub"
	SourceService = "hubrelay"
)

const (
	defaultLimit = 50
	maxLimit     = 200
)

// AuditLog represents a single activity entry.
type AuditLog struct { //nolint:revive // audit.AuditLog is clearer than audit.Log in calling code
	ID            string         `json:"id"`
	Action        string         `json:"action"`
	Subject       string         `json:"subject,omitempty"`
	UserID        string         `json:"user_id,omitempty"`
	Source        string         `json:"source"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// Filter controls which entries List returns.
type Filter struct {
	Action  string // optional: exact action
	Subject string // optional: exact subject (notification action name, device id)
	Limit   int    // default 50, max 200
	Offset  int    // pagination offset
}

// ListResult contains one page of entries.
type ListResult struct {
	Logs   []AuditLog `json:"logs"`
	Total  int        `json:"total"`
	Limit  int        `json:"limit"`
	Offset int        `json:"offset"`
}

// Repository defines the activity log operations.
type Repository interface {
	Create(ctx context.Context, log *AuditLog) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository stores the activity log in SQLite.
type SQLiteRepository struct {
	db *database.DB
}

var _ Repository = (*SQLiteRepository)(nil)

// NewSQLiteRepository wraps an open, migrated database.
func NewSQLiteRepository(db *database.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts an entry. The ID and CreatedAt are generated if empty.
func (r *SQLiteRepository) Create(ctx context.Context, log *AuditLog) error {
	if log.Action == "" || log.Source == "" {
		return fmt.Errorf("%w: action and source are required", ErrInvalidEntry)
	}
	if log.ID == "" {
		log.ID = "aud-" + uuid.NewString()[:8]
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}

	var details *string
	if len(log.Details) > 0 {
		b, err := json.Marshal(log.Details)
		if err != nil {
			return fmt.Errorf("marshalling audit details: %w", err)
		}
		s := string(b)
		details = &s
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_logs (id, action, subject, user_id, source, correlation_id, details, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		log.ID, log.Action,
		nullableString(log.Subject), nullableString(log.UserID),
		log.Source, nullableString(log.CorrelationID), details,
		log.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting audit log: %w", err)
	}
	return nil
}

// nullableString maps "" to NULL for nullable TEXT columns.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// clamp bounds the page to [1, maxLimit] entries at a non-negative offset.
func (f Filter) clamp() Filter {
	switch {
	case f.Limit <= 0:
		f.Limit = defaultLimit
	case f.Limit > maxLimit:
		f.Limit = maxLimit
	}
	f.Offset = max(f.Offset, 0)
	return f
}

// where renders the filter as a parameterised WHERE clause.
func (f Filter) where() (string, []any) {
	var (
		clauses []string
		args    []any
	)
	for col, val := range map[string]string{"action": f.Action, "subject": f.Subject} {
		if val != "" {
			clauses = append(clauses, col+" = ?")
			args = append(args, val)
		}
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

const selectColumns = "SELECT id, action, subject, user_id, source, correlation_id, details, created_at FROM audit_logs"

func scanEntry(rows *sql.Rows) (AuditLog, error) {
	var (
		e                          AuditLog
		subject, user, corr, extra sql.NullString
		created                    string
	)
	if err := rows.Scan(&e.ID, &e.Action, &subject, &user, &e.Source, &corr, &extra, &created); err != nil {
		return e, fmt.Errorf("scanning audit log: %w", err)
	}
	e.Subject, e.UserID, e.CorrelationID = subject.String, user.String, corr.String
	if extra.String != "" {
		var d map[string]any
		if json.Unmarshal([]byte(extra.String), &d) == nil {
			e.Details = d
		}
	}
	ts, err := time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return e, fmt.Errorf("parsing audit log timestamp %q: %w", created, err)
	}
	e.CreatedAt = ts
	return e, nil
}

// List returns entries matching filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	filter = filter.clamp()
	where, args := filter.where()

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_logs"+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting audit logs: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		selectColumns+where+" ORDER BY created_at DESC, id LIMIT ? OFFSET ?", //nolint:gosec // parameterised WHERE
		append(args, filter.Limit, filter.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("querying audit logs: %w", err)
	}
	defer rows.Close()

	logs := []AuditLog{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit logs: %w", err)
	}

	return &ListResult{
		Logs:   logs,
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}, nil
}
