package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresStore persists samples in the health_samples and
// health_sample_archives tables.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a sample store over an existing pool.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Record(ctx context.Context, sample *Sample) error {
	var latency sql.NullFloat64
	if sample.LatencyMs != nil {
		latency = sql.NullFloat64{Float64: *sample.LatencyMs, Valid: true}
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO health_samples (provider, taken_at, latency_ms, outcome)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		sample.Provider, sample.TakenAt, latency, sample.Outcome,
	).Scan(&sample.ID)
	if err != nil {
		return fmt.Errorf("insert health sample: %w", err)
	}
	return nil
}

func (s *PostgresStore) Recent(ctx context.Context, provider string, limit int) ([]*Sample, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	query := `
		SELECT id, provider, taken_at, latency_ms, outcome
		FROM health_samples`
	args := []interface{}{}
	if provider != "" {
		query += ` WHERE provider = $1`
		args = append(args, provider)
	}
	query += fmt.Sprintf(` ORDER BY taken_at DESC LIMIT %d`, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query health samples: %w", err)
	}
	defer rows.Close()

	return scanSamples(rows)
}

func (s *PostgresStore) OlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*Sample, error) {
	if limit <= 0 {
		limit = 10000
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, provider, taken_at, latency_ms, outcome
		FROM health_samples
		WHERE taken_at < $1
		ORDER BY taken_at ASC
		LIMIT $2`,
		cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("query expired samples: %w", err)
	}
	defer rows.Close()

	return scanSamples(rows)
}

func (s *PostgresStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM health_samples WHERE taken_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired samples: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count deleted samples: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) PutArchive(ctx context.Context, a *Archive) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO health_sample_archives (from_time, to_time, sample_count, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		a.FromTime, a.ToTime, a.SampleCount, a.Payload, a.CreatedAt,
	).Scan(&a.ID)
	if err != nil {
		return fmt.Errorf("insert sample archive: %w", err)
	}
	return nil
}

func scanSamples(rows *sql.Rows) ([]*Sample, error) {
	var samples []*Sample
	for rows.Next() {
		var sm Sample
		var latency sql.NullFloat64
		if err := rows.Scan(&sm.ID, &sm.Provider, &sm.TakenAt, &latency, &sm.Outcome); err != nil {
			return nil, fmt.Errorf("scan health sample: %w", err)
		}
		if latency.Valid {
			v := latency.Float64
			sm.LatencyMs = &v
		}
		samples = append(samples, &sm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate health samples: %w", err)
	}
	return samples, nil
}
