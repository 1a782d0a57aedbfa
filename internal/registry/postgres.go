package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// PostgresStore persists nodes in the shared PostgreSQL database. Primary
// handoff runs in a transaction so readers never observe two primaries; a
// partial unique index backs the same invariant at the schema level.
type PostgresStore struct {
	db  *sql.DB
	log *zap.Logger
}

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sql.DB, log *zap.Logger) *PostgresStore {
	return &PostgresStore{db: db, log: log}
}

const nodeColumns = `provider, region, priority, enabled, is_primary, endpoint,
	latency_ms, consecutive_failures, last_checked_at, outbound_address,
	created_at, updated_at`

func (s *PostgresStore) CreateNode(ctx context.Context, n *Node) error {
	if err := n.Validate(); err != nil {
		return err
	}

	// The first enabled slot in an empty mesh starts as primary.
	query := `INSERT INTO nodes
		(provider, region, priority, enabled, is_primary, endpoint, outbound_address)
		VALUES ($1, $2, $3, $4,
			$4 AND NOT EXISTS (SELECT 1 FROM nodes WHERE is_primary),
			$5, $6)`
	_, err := s.db.ExecContext(ctx, query,
		n.Provider, n.Region, n.Priority, n.Enabled, n.Endpoint, n.OutboundAddress)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateProvider
		}
		return &PersistenceError{Op: "create node", Err: err}
	}
	return nil
}

func (s *PostgresStore) GetNode(ctx context.Context, provider string) (*Node, error) {
	query := fmt.Sprintf(`SELECT %s FROM nodes WHERE provider = $1`, nodeColumns)
	n, err := scanNode(s.db.QueryRowContext(ctx, query, provider))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNodeNotFound
	}
	if err != nil {
		return nil, &PersistenceError{Op: "get node", Err: err}
	}
	return n, nil
}

func (s *PostgresStore) ListNodes(ctx context.Context) ([]*Node, error) {
	query := fmt.Sprintf(`SELECT %s FROM nodes ORDER BY priority, provider`, nodeColumns)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, &PersistenceError{Op: "list nodes", Err: err}
	}
	defer rows.Close()

	var nodes []*Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, &PersistenceError{Op: "scan node", Err: err}
		}
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, &PersistenceError{Op: "list nodes", Err: err}
	}
	return nodes, nil
}

func (s *PostgresStore) SetEnabled(ctx context.Context, provider string, enabled bool) error {
	query := `UPDATE nodes SET enabled = $2, updated_at = NOW()
		WHERE provider = $1 AND NOT (is_primary AND $2 = FALSE)`
	res, err := s.db.ExecContext(ctx, query, provider, enabled)
	if err != nil {
		return &PersistenceError{Op: "set enabled", Err: err}
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return &PersistenceError{Op: "set enabled", Err: err}
	}
	if affected == 0 {
		var isPrimary bool
		err := s.db.QueryRowContext(ctx,
			`SELECT is_primary FROM nodes WHERE provider = $1`, provider).Scan(&isPrimary)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNodeNotFound
		}
		if err != nil {
			return &PersistenceError{Op: "set enabled", Err: err}
		}
		if isPrimary && !enabled {
			return ErrNodeIsPrimary
		}
		return ErrNodeNotFound
	}
	return nil
}

func (s *PostgresStore) SetOutboundAddress(ctx context.Context, provider, address string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE nodes SET outbound_address = $2, updated_at = NOW() WHERE provider = $1`,
		provider, address)
	if err != nil {
		return &PersistenceError{Op: "set outbound address", Err: err}
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return &PersistenceError{Op: "set outbound address", Err: err}
	}
	if affected == 0 {
		return ErrNodeNotFound
	}
	return nil
}

func (s *PostgresStore) SetPrimary(ctx context.Context, provider string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, &PersistenceError{Op: "set primary", Err: err}
	}
	defer tx.Rollback()

	var enabled, isPrimary bool
	err = tx.QueryRowContext(ctx,
		`SELECT enabled, is_primary FROM nodes WHERE provider = $1 FOR UPDATE`,
		provider).Scan(&enabled, &isPrimary)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNodeNotFound
	}
	if err != nil {
		return false, &PersistenceError{Op: "set primary", Err: err}
	}
	if !enabled {
		return false, ErrNodeDisabled
	}
	if isPrimary {
		s.log.Debug("set primary is a no-op, node already primary",
			zap.String("provider", provider))
		return false, nil
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE nodes SET is_primary = FALSE, updated_at = NOW()
		 WHERE is_primary AND provider <> $1`, provider); err != nil {
		return false, &PersistenceError{Op: "demote primary", Err: err}
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE nodes SET is_primary = TRUE, updated_at = NOW()
		 WHERE provider = $1`, provider); err != nil {
		return false, &PersistenceError{Op: "promote primary", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return false, &PersistenceError{Op: "set primary commit", Err: err}
	}
	s.log.Info("primary role moved", zap.String("provider", provider))
	return true, nil
}

func (s *PostgresStore) RecordProbeOutcome(ctx context.Context, provider string, outcome ProbeOutcome) error {
	checked := outcome.CheckedAt
	if checked.IsZero() {
		checked = time.Now()
	}
	query := `UPDATE nodes SET
		latency_ms = CASE WHEN $2 THEN $3 ELSE latency_ms END,
		consecutive_failures = CASE WHEN $2 THEN 0 ELSE consecutive_failures + 1 END,
		last_checked_at = $4,
		updated_at = NOW()
		WHERE provider = $1`
	res, err := s.db.ExecContext(ctx, query, provider, outcome.OK, outcome.LatencyMs, checked)
	if err != nil {
		return &PersistenceError{Op: "record probe outcome", Err: err}
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return &PersistenceError{Op: "record probe outcome", Err: err}
	}
	if affected == 0 {
		return ErrNodeNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanNode(row rowScanner) (*Node, error) {
	var n Node
	var latency sql.NullFloat64
	var checkedAt sql.NullTime
	var outbound sql.NullString
	err := row.Scan(
		&n.Provider,
		&n.Region,
		&n.Priority,
		&n.Enabled,
		&n.IsPrimary,
		&n.Endpoint,
		&latency,
		&n.ConsecutiveFailures,
		&checkedAt,
		&outbound,
		&n.CreatedAt,
		&n.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if latency.Valid {
		n.LatencyMs = &latency.Float64
	}
	if checkedAt.Valid {
		t := checkedAt.Time
		n.LastCheckedAt = &t
	}
	if outbound.Valid {
		n.OutboundAddress = &outbound.String
	}
	return &n, nil
}
