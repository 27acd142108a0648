// Package audit provides access to the commissioning_attempts table, the
// history of every commissioning and pairing run the gateway has made.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// timeLayout has a fixed width so started_at sorts as text.
const timeLayout = "2006-01-02T15:04:05.000000Z"

// Attempt is one commissioning or pairing run. DurationMS mirrors Duration
// for JSON consumers and is filled by the repository.
type Attempt struct {
	ID         string        `json:"id"`
	Kind       string        `json:"kind"`
	NodeID     uint64        `json:"node_id"`
	Status     string        `json:"status"`
	Success    bool          `json:"success"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"-"`
	DurationMS int64         `json:"duration_ms"`
	DeviceID   string        `json:"device_id,omitempty"`
}

// Filter controls which attempts to return.
type Filter struct {
	Kind    string // optional: commission or pair
	NodeID  uint64 // optional: zero matches every node
	Success *bool  // optional
	Limit   int    // default 50, max 200
	Offset  int    // pagination offset
}

// ListResult contains the paginated attempts.
type ListResult struct {
	Attempts []Attempt `json:"attempts"`
	Total    int       `json:"total"`
	Limit    int       `json:"limit"`
	Offset   int       `json:"offset"`
}

// Repository defines the interface for attempt history operations.
type Repository interface {
	Create(ctx context.Context, a *Attempt) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository stores attempts in SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new attempt repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts an attempt. The ID and StartedAt are generated if empty.
func (r *SQLiteRepository) Create(ctx context.Context, a *Attempt) error {
	if a.ID == "" {
		a.ID = "att-" + uuid.NewString()[:8]
	}
	if a.StartedAt.IsZero() {
		a.StartedAt = time.Now().UTC()
	}
	a.DurationMS = a.Duration.Milliseconds()

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO commissioning_attempts (id, kind, node_id, status, success, started_at, duration_ms, device_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Kind, int64(a.NodeID), a.Status, a.Success, //nolint:gosec // node ids are stored as their two's complement bit pattern
		a.StartedAt.UTC().Format(timeLayout),
		a.DurationMS,
		nullableString(a.DeviceID),
	)
	if err != nil {
		return fmt.Errorf("inserting commissioning attempt: %w", err)
	}

	return nil
}

// nullableString returns nil for empty strings so the column stores NULL.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns attempts matching the filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Limit > 200 { //nolint:mnd // max page size for attempt queries
		filter.Limit = 200
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any
	if filter.Kind != "" {
		conditions = append(conditions, "kind = ?")
		args = append(args, filter.Kind)
	}
	if filter.NodeID != 0 {
		conditions = append(conditions, "node_id = ?")
		args = append(args, int64(filter.NodeID)) //nolint:gosec // matches the stored bit pattern
	}
	if filter.Success != nil {
		conditions = append(conditions, "success = ?")
		args = append(args, *filter.Success)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM commissioning_attempts %s", where) //nolint:gosec // WHERE built from parameterised conditions, not user input
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting commissioning attempts: %w", err)
	}

	query := fmt.Sprintf( //nolint:gosec // WHERE built from parameterised conditions, not user input
		"SELECT id, kind, node_id, status, success, started_at, duration_ms, device_id FROM commissioning_attempts %s ORDER BY started_at DESC, id LIMIT ? OFFSET ?",
		where,
	)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying commissioning attempts: %w", err)
	}
	defer rows.Close()

	attempts := []Attempt{}
	for rows.Next() {
		var a Attempt
		var node, durationMS int64
		var startedAt string
		var deviceID sql.NullString

		if err := rows.Scan(&a.ID, &a.Kind, &node, &a.Status, &a.Success,
			&startedAt, &durationMS, &deviceID); err != nil {
			return nil, fmt.Errorf("scanning commissioning attempt: %w", err)
		}

		a.NodeID = uint64(node) //nolint:gosec // reverses the bit pattern stored by Create
		a.Duration = time.Duration(durationMS) * time.Millisecond
		a.DurationMS = durationMS
		if deviceID.Valid {
			a.DeviceID = deviceID.String
		}

		t, err := time.Parse(timeLayout, startedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing attempt timestamp %q: %w", startedAt, err)
		}
		a.StartedAt = t

		attempts = append(attempts, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating commissioning attempts: %w", err)
	}

	return &ListResult{
		Attempts: attempts,
		Total:    total,
		Limit:    filter.Limit,
		Offset:   filter.Offset,
	}, nil
}
