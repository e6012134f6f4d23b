package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/seantiz/geoservice/internal/model"
)

// Compile-time interface satisfaction check.
var _ Store = (*PostgresStore)(nil)

// PostgresConfig holds connection pool settings for PostgresStore.
type PostgresConfig struct {
	URL             string
	MaxConns        int
	MinConns        int
	ConnMaxLifetime time.Duration
}

// PostgresStore implements Store using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// Connect opens a pgx pool and verifies connectivity.
func Connect(ctx context.Context, cfg PostgresConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = int32(cfg.MinConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// NewPostgresStore creates a new PostgresStore. The schema must already be in
// place, see RunMigrations.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) CreateTicket(ctx context.Context, t *model.Ticket) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO tickets (ticket, idempotency_key, request_type, initiated, completed)
		 VALUES ($1, $2, $3, $4, FALSE)`,
		t.ID, t.IdempotencyKey, t.RequestType, t.Initiated)
	if isDuplicateKeyError(err) {
		return ErrDuplicateKey
	}
	if err != nil {
		return fmt.Errorf("create ticket: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTicket(ctx context.Context, id string) (*model.Ticket, error) {
	t, err := scanTicket(s.pool.QueryRow(ctx,
		`SELECT `+ticketColumns+` FROM tickets WHERE ticket = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get ticket: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) GetTicketByKey(ctx context.Context, key, requestType string) (*model.Ticket, error) {
	var row pgx.Row
	if requestType == "" {
		row = s.pool.QueryRow(ctx,
			`SELECT `+ticketColumns+` FROM tickets WHERE idempotency_key = $1
			 ORDER BY initiated DESC LIMIT 1`, key)
	} else {
		row = s.pool.QueryRow(ctx,
			`SELECT `+ticketColumns+` FROM tickets
			 WHERE idempotency_key = $1 AND request_type = $2`, key, requestType)
	}

	t, err := scanTicket(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get ticket by key: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) ListTickets(ctx context.Context, limit, offset int) ([]*model.Ticket, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM tickets`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count tickets: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+ticketColumns+` FROM tickets
		 ORDER BY initiated DESC LIMIT $1 OFFSET $2`, limit, offset)
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
	return tickets, total, rows.Err()
}

func (s *PostgresStore) FinalizeTicket(ctx context.Context, id string, c model.Completion) error {
	var final model.Ticket
	c.Apply(&final)

	tag, err := s.pool.Exec(ctx,
		`UPDATE tickets SET completed = TRUE, success = $2, error_message = $3,
			execution_time = $4, output_path = $5
		 WHERE ticket = $1 AND completed = FALSE`,
		id, final.Success, final.ErrorMessage, final.ExecutionTime, outputPathOf(&final))
	if err != nil {
		return fmt.Errorf("finalize ticket: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	err = s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tickets WHERE ticket = $1)`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check ticket: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrAlreadyFinalized
}

func (s *PostgresStore) GetTicketStats(ctx context.Context) (*TicketStats, error) {
	stats := &TicketStats{
		CountByState:       make(map[string]int),
		CountByRequestType: make(map[string]int),
	}

	var avg *float64
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*), COUNT(*) FILTER (WHERE NOT completed), AVG(execution_time)
		 FROM tickets`,
	).Scan(&stats.Total, &stats.Pending, &avg); err != nil {
		return nil, fmt.Errorf("count tickets: %w", err)
	}
	if avg != nil {
		stats.AvgExecutionSecs = *avg
	}

	if err := s.collectCounts(ctx, stats.CountByState,
		`SELECT `+stateExpr+` AS state, COUNT(*) FROM tickets GROUP BY state`); err != nil {
		return nil, fmt.Errorf("count by state: %w", err)
	}
	if err := s.collectCounts(ctx, stats.CountByRequestType,
		`SELECT request_type, COUNT(*) FROM tickets GROUP BY request_type`); err != nil {
		return nil, fmt.Errorf("count by request type: %w", err)
	}
	return stats, nil
}

func (s *PostgresStore) collectCounts(ctx context.Context, into map[string]int, query string) error {
	rows, err := s.pool.Query(ctx, query)
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

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
