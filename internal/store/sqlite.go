package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/seantiz/geoservice/internal/model"
)

const createTicketsTable = `
CREATE TABLE IF NOT EXISTS tickets (
    ticket          TEXT PRIMARY KEY,
    idempotency_key TEXT,
    request_type    TEXT NOT NULL,
    initiated       DATETIME NOT NULL,
    completed       INTEGER NOT NULL DEFAULT 0,
    success         INTEGER,
    error_message   TEXT,
    execution_time  REAL,
    output_path     TEXT
)`

const createIdempotencyIndex = `
CREATE UNIQUE INDEX IF NOT EXISTS tickets_idempotency_key
    ON tickets (idempotency_key, request_type)
    WHERE idempotency_key IS NOT NULL`

const ticketColumns = `ticket, idempotency_key, request_type, initiated, completed,
	success, error_message, execution_time, output_path`

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// A single connection serializes writers and keeps ":memory:" databases
	// shared between goroutines.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec(createTicketsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tickets table: %w", err)
	}

	if _, err := db.Exec(createIdempotencyIndex); err != nil {
		db.Close()
		return nil, fmt.Errorf("create idempotency index: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping checks database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateTicket inserts a new pending ticket. It returns ErrDuplicateKey when a
// ticket already holds the same idempotency key and request type.
func (s *SQLiteStore) CreateTicket(ctx context.Context, t *model.Ticket) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tickets (ticket, idempotency_key, request_type, initiated, completed)
		VALUES (?, ?, ?, ?, 0)`,
		t.ID, t.IdempotencyKey, t.RequestType, t.Initiated,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateKey
	}
	if err != nil {
		return fmt.Errorf("insert ticket: %w", err)
	}
	return nil
}

// GetTicket retrieves a ticket by ID.
func (s *SQLiteStore) GetTicket(ctx context.Context, id string) (*model.Ticket, error) {
	t, err := scanTicket(s.db.QueryRowContext(ctx,
		`SELECT `+ticketColumns+` FROM tickets WHERE ticket = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get ticket: %w", err)
	}
	return t, nil
}

// GetTicketByKey retrieves the ticket registered under an idempotency key.
func (s *SQLiteStore) GetTicketByKey(ctx context.Context, key, requestType string) (*model.Ticket, error) {
	var row *sql.Row
	if requestType == "" {
		row = s.db.QueryRowContext(ctx,
			`SELECT `+ticketColumns+` FROM tickets WHERE idempotency_key = ?
			ORDER BY initiated DESC LIMIT 1`, key,
		)
	} else {
		row = s.db.QueryRowContext(ctx,
			`SELECT `+ticketColumns+` FROM tickets
			WHERE idempotency_key = ? AND request_type = ?`, key, requestType,
		)
	}

	t, err := scanTicket(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get ticket by key: %w", err)
	}
	return t, nil
}

// ListTickets returns a paginated list of tickets ordered by initiated DESC,
// along with the total count of all tickets.
func (s *SQLiteStore) ListTickets(ctx context.Context, limit, offset int) ([]*model.Ticket, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM tickets").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count tickets: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT `+ticketColumns+` FROM tickets
		ORDER BY initiated DESC LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list tickets: %w", err)
	}
	defer rows.Close()

	var tickets []*model.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan ticket: %w", err)
		}
		tickets = append(tickets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate tickets: %w", err)
	}

	return tickets, total, nil
}

// FinalizeTicket moves a pending ticket to its terminal state. Only rows with
// completed = 0 are touched, so a second finalize never overwrites the first.
func (s *SQLiteStore) FinalizeTicket(ctx context.Context, id string, c model.Completion) error {
	var final model.Ticket
	c.Apply(&final)

	result, err := s.db.ExecContext(ctx,
		`UPDATE tickets SET completed = 1, success = ?, error_message = ?,
			execution_time = ?, output_path = ?
		WHERE ticket = ? AND completed = 0`,
		final.Success, final.ErrorMessage, final.ExecutionTime, outputPathOf(&final), id,
	)
	if err != nil {
		return fmt.Errorf("finalize ticket: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return s.missingOrFinalized(ctx, id)
	}
	return nil
}

func (s *SQLiteStore) missingOrFinalized(ctx context.Context, id string) error {
	var exists int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM tickets WHERE ticket = ?", id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check ticket: %w", err)
	}
	return ErrAlreadyFinalized
}

// GetTicketStats returns aggregate ticket statistics.
func (s *SQLiteStore) GetTicketStats(ctx context.Context) (*TicketStats, error) {
	stats := &TicketStats{
		CountByState:       make(map[string]int),
		CountByRequestType: make(map[string]int),
	}

	var avg sql.NullFloat64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN completed = 0 THEN 1 ELSE 0 END), 0),
			AVG(execution_time)
		FROM tickets`,
	).Scan(&stats.Total, &stats.Pending, &avg); err != nil {
		return nil, fmt.Errorf("count tickets: %w", err)
	}
	stats.AvgExecutionSecs = avg.Float64

	if err := collectCounts(ctx, s.db, stats.CountByState,
		`SELECT `+stateExpr+` AS state, COUNT(*) FROM tickets GROUP BY state`); err != nil {
		return nil, fmt.Errorf("count by state: %w", err)
	}
	if err := collectCounts(ctx, s.db, stats.CountByRequestType,
		`SELECT request_type, COUNT(*) FROM tickets GROUP BY request_type`); err != nil {
		return nil, fmt.Errorf("count by request type: %w", err)
	}

	return stats, nil
}

// stateExpr maps ticket columns to model.State values in SQL. It is shared by
// the SQLite and Postgres stores.
const stateExpr = `CASE
	WHEN completed = 0 THEN 'PENDING'
	WHEN success AND output_path IS NOT NULL THEN 'COMPLETED_SUCCESS'
	WHEN success THEN 'COMPLETED_SUCCESS_EMPTY'
	ELSE 'COMPLETED_FAILURE' END`

func collectCounts(ctx context.Context, db *sql.DB, into map[string]int, query string) error {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			return err
		}
		into[key] = count
	}
	return rows.Err()
}

// rowScanner is satisfied by *sql.Row, *sql.Rows and pgx.Row.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTicket(row rowScanner) (*model.Ticket, error) {
	t := &model.Ticket{}
	var outputPath *string
	if err := row.Scan(
		&t.ID, &t.IdempotencyKey, &t.RequestType, &t.Initiated, &t.Completed,
		&t.Success, &t.ErrorMessage, &t.ExecutionTime, &outputPath,
	); err != nil {
		return nil, err
	}
	if outputPath != nil {
		t.Result = &model.Result{OutputPath: *outputPath}
	}
	return t, nil
}

func outputPathOf(t *model.Ticket) *string {
	if t.Result == nil {
		return nil
	}
	return &t.Result.OutputPath
}

// isUniqueViolation checks if a SQLite error is a unique constraint violation.
func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		return true
	case sqlite3.SQLITE_CONSTRAINT:
		return strings.Contains(sqliteErr.Error(), "UNIQUE")
	}
	return false
}
