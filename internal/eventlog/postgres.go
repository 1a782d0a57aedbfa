package eventlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PostgresStore persists failover events in the shared database.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const eventColumns = `id, from_provider, to_provider, reason, is_automatic,
	result, detail, triggered_at, resolved_at`

func (s *PostgresStore) Append(ctx context.Context, event *FailoverEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.TriggeredAt.IsZero() {
		event.TriggeredAt = time.Now().UTC()
	}
	if err := event.Validate(); err != nil {
		return err
	}

	query := `INSERT INTO failover_events
		(id, from_provider, to_provider, reason, is_automatic, result, detail, triggered_at, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.FromProvider,
		event.ToProvider,
		event.Reason,
		event.IsAutomatic,
		event.Result,
		event.Detail,
		event.TriggeredAt,
		event.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("append failover event: %w", err)
	}
	return nil
}

func (s *PostgresStore) Resolve(ctx context.Context, id uuid.UUID, resolvedAt time.Time) error {
	query := `UPDATE failover_events
		SET resolved_at = $2, result = $3
		WHERE id = $1 AND resolved_at IS NULL`
	res, err := s.db.ExecContext(ctx, query, id, resolvedAt.UTC(), ResultCompleted)
	if err != nil {
		return fmt.Errorf("resolve failover event: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("resolve failover event: %w", err)
	}
	if affected == 0 {
		var exists bool
		if err := s.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM failover_events WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("resolve failover event: %w", err)
		}
		if exists {
			return ErrAlreadyResolved
		}
		return ErrEventNotFound
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*FailoverEvent, error) {
	query := fmt.Sprintf(`SELECT %s FROM failover_events WHERE id = $1`, eventColumns)
	e, err := scanEvent(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get failover event: %w", err)
	}
	return e, nil
}

func (s *PostgresStore) Find(ctx context.Context, q *Query) ([]*FailoverEvent, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	sqlQuery := fmt.Sprintf(`SELECT %s FROM failover_events WHERE 1=1`, eventColumns)
	args := []interface{}{}
	argIdx := 1

	if q.Provider != "" {
		sqlQuery += fmt.Sprintf(" AND (from_provider = $%d OR to_provider = $%d)", argIdx, argIdx)
		args = append(args, q.Provider)
		argIdx++
	}
	if q.Reason != nil {
		sqlQuery += fmt.Sprintf(" AND reason = $%d", argIdx)
		args = append(args, *q.Reason)
		argIdx++
	}
	if q.Result != nil {
		sqlQuery += fmt.Sprintf(" AND result = $%d", argIdx)
		args = append(args, *q.Result)
		argIdx++
	}
	if q.IsAutomatic != nil {
		sqlQuery += fmt.Sprintf(" AND is_automatic = $%d", argIdx)
		args = append(args, *q.IsAutomatic)
		argIdx++
	}
	if q.Since != nil {
		sqlQuery += fmt.Sprintf(" AND triggered_at >= $%d", argIdx)
		args = append(args, *q.Since)
		argIdx++
	}
	if q.Until != nil {
		sqlQuery += fmt.Sprintf(" AND triggered_at <= $%d", argIdx)
		args = append(args, *q.Until)
		argIdx++
	}

	sqlQuery += " ORDER BY triggered_at DESC"
	sqlQuery += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, limit, q.Offset)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("find failover events: %w", err)
	}
	defer rows.Close()

	var events []*FailoverEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan failover event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *PostgresStore) CountByResult(ctx context.Context) (map[Result]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT result, COUNT(*) FROM failover_events GROUP BY result`)
	if err != nil {
		return nil, fmt.Errorf("count failover events: %w", err)
	}
	defer rows.Close()

	counts := make(map[Result]int)
	for rows.Next() {
		var result Result
		var count int
		if err := rows.Scan(&result, &count); err != nil {
			return nil, fmt.Errorf("scan event count: %w", err)
		}
		counts[result] = count
	}
	return counts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row rowScanner) (*FailoverEvent, error) {
	var e FailoverEvent
	var resolvedAt sql.NullTime
	err := row.Scan(
		&e.ID,
		&e.FromProvider,
		&e.ToProvider,
		&e.Reason,
		&e.IsAutomatic,
		&e.Result,
		&e.Detail,
		&e.TriggeredAt,
		&resolvedAt,
	)
	if err != nil {
		return nil, err
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		e.ResolvedAt = &t
	}
	return &e, nil
}
