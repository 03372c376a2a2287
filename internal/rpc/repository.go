package rpc

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines persistence operations for durable call records.
// This abstraction allows for different implementations (SQLite, mock)
// and enables unit testing without database dependencies.
type Repository interface {
	// Create inserts a new record.
	// Returns ErrCallExists if a record with the same ID already exists.
	Create(ctx context.Context, record *Record) error

	// GetByID retrieves a record by its correlation id.
	// Returns ErrCallNotFound if the record does not exist.
	GetByID(ctx context.Context, id string) (*Record, error)

	// ListByTarget retrieves a page of records for a target, newest
	// first, plus the total count for the target. Page is zero-based.
	ListByTarget(ctx context.Context, targetID string, page, pageSize int) ([]Record, int, error)

	// UpdateStatus advances a record's lifecycle state. The transition
	// table is enforced here: backward or terminal-exit moves return
	// ErrInvalidTransition and leave the record untouched.
	UpdateStatus(ctx context.Context, id string, to Status) error

	// StoreResponse stores the reply payload and marks the record
	// SUCCESSFUL. Returns ErrInvalidTransition when the record is
	// already terminal, so a duplicate reply never overwrites the first.
	StoreResponse(ctx context.Context, id string, response []byte) error

	// Delete removes a record by ID.
	// Returns ErrCallNotFound if the record does not exist.
	Delete(ctx context.Context, id string) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const recordColumns = `id, target_id, customer_id, method, params, response,
		status, one_way, retries, additional_info, created_at, expires_at`

// Create inserts a new record.
func (r *SQLiteRepository) Create(ctx context.Context, record *Record) error {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO rpc_calls (` + recordColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		record.ID,
		record.TargetID,
		record.CustomerID,
		record.Method,
		string(record.Params),
		nullableBytes(record.Response),
		string(record.Status),
		boolToInt(record.OneWay),
		nullableInt(record.Retries),
		nullableBytes(record.AdditionalInfo),
		record.CreatedAt.UTC().Format(time.RFC3339Nano),
		record.ExpiresAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrCallExists
		}
		return fmt.Errorf("inserting call record: %w", err)
	}

	return nil
}

// GetByID retrieves a record by its correlation id.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Record, error) {
	query := `SELECT ` + recordColumns + ` FROM rpc_calls WHERE id = ?`

	record, err := scanRecord(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCallNotFound
		}
		return nil, fmt.Errorf("querying call record: %w", err)
	}
	return record, nil
}

// ListByTarget retrieves a page of records for a target, newest first.
func (r *SQLiteRepository) ListByTarget(ctx context.Context, targetID string, page, pageSize int) ([]Record, int, error) {
	var total int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM rpc_calls WHERE target_id = ?", targetID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("counting call records: %w", err)
	}

	query := `SELECT ` + recordColumns + `
		FROM rpc_calls
		WHERE target_id = ?
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?`

	rows, err := r.db.QueryContext(ctx, query, targetID, pageSize, page*pageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("querying call records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning call record: %w", err)
		}
		records = append(records, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating call records: %w", err)
	}

	return records, total, nil
}

// UpdateStatus advances a record's lifecycle state.
//
// The update is optimistic: the WHERE clause pins the status read before
// validation, so a concurrent writer that got there first makes this a
// zero-row update. ErrInvalidTransition is returned only when the move
// is genuinely illegal from the record's committed state.
func (r *SQLiteRepository) UpdateStatus(ctx context.Context, id string, to Status) error {
	return r.transition(ctx, id, to, func(current Status) (sql.Result, error) {
		return r.db.ExecContext(ctx,
			"UPDATE rpc_calls SET status = ? WHERE id = ? AND status = ?",
			string(to), id, string(current),
		)
	})
}

// StoreResponse stores the reply payload and marks the record SUCCESSFUL.
func (r *SQLiteRepository) StoreResponse(ctx context.Context, id string, response []byte) error {
	return r.transition(ctx, id, StatusSuccessful, func(current Status) (sql.Result, error) {
		return r.db.ExecContext(ctx,
			"UPDATE rpc_calls SET status = ?, response = ? WHERE id = ? AND status = ?",
			string(StatusSuccessful), string(response), id, string(current),
		)
	})
}

// transition runs the read-validate-update cycle for a lifecycle move.
//
// A zero-row update means a concurrent writer committed between our
// status read and the WHERE clause. That is not necessarily a conflict:
// an ack advancing SENT to DELIVERED must not make a racing reply's
// SUCCESSFUL write fail. The cycle re-reads and retries while the move
// stays legal from the freshly committed state; it ends once the update
// lands or the record reaches a state the move cannot leave. Statuses
// only travel forward through a finite table, so the loop terminates.
func (r *SQLiteRepository) transition(ctx context.Context, id string, to Status, exec func(current Status) (sql.Result, error)) error {
	for {
		current, err := r.currentStatus(ctx, id)
		if err != nil {
			return err
		}
		if !CanTransition(current, to) {
			return ErrInvalidTransition
		}

		result, err := exec(current)
		if err != nil {
			return fmt.Errorf("updating call record: %w", err)
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("checking rows affected: %w", err)
		}
		if rowsAffected > 0 {
			return nil
		}
	}
}

// Delete removes a record by ID.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM rpc_calls WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting call record: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrCallNotFound
	}

	return nil
}

// currentStatus reads a record's status for optimistic updates.
func (r *SQLiteRepository) currentStatus(ctx context.Context, id string) (Status, error) {
	var status string
	err := r.db.QueryRowContext(ctx,
		"SELECT status FROM rpc_calls WHERE id = ?", id).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrCallNotFound
		}
		return "", fmt.Errorf("querying call status: %w", err)
	}
	return Status(status), nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanRecord scans a row or rows result into a Record.
func scanRecord(scanner rowScanner) (*Record, error) {
	var rec Record
	var params, status string
	var response, additionalInfo sql.NullString
	var retries sql.NullInt64
	var oneWay int
	var createdAt, expiresAt string

	err := scanner.Scan(
		&rec.ID,
		&rec.TargetID,
		&rec.CustomerID,
		&rec.Method,
		&params,
		&response,
		&status,
		&oneWay,
		&retries,
		&additionalInfo,
		&createdAt,
		&expiresAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Params = []byte(params)
	rec.Status = Status(status)
	rec.OneWay = oneWay != 0

	if response.Valid {
		rec.Response = []byte(response.String)
	}
	if additionalInfo.Valid {
		rec.AdditionalInfo = []byte(additionalInfo.String)
	}
	if retries.Valid {
		n := int(retries.Int64)
		rec.Retries = &n
	}

	rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	rec.ExpiresAt, err = time.Parse(time.RFC3339Nano, expiresAt)
	if err != nil {
		return nil, fmt.Errorf("parsing expires_at: %w", err)
	}

	return &rec, nil
}

// nullableBytes returns a sql.NullString for optional byte slices.
func nullableBytes(b []byte) sql.NullString {
	if b == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

// nullableInt returns a sql.NullInt64 for optional int pointers.
func nullableInt(n *int) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*n), Valid: true}
}

// boolToInt converts a boolean to 0/1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "unique constraint")
}
