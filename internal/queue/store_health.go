package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"loom/internal/workitem"
)

// HealthSummary describes aggregated queue counts and timing.
type HealthSummary struct {
	Total             int
	Pending           int
	Processing        int
	Failed            int
	Completed         int
	ActiveCascades    int
	AvgProcessingTime time.Duration
}

// Stats returns a count of items grouped by status.
func (s *Store) Stats(ctx context.Context) (map[workitem.Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM work_items GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[workitem.Status]int)
	for rows.Next() {
		var status workitem.Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// Health aggregates queue state for the health endpoint.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	health := HealthSummary{}
	for status, count := range stats {
		health.Total += count
		switch status {
		case workitem.StatusPending:
			health.Pending += count
		case workitem.StatusClaimed, workitem.StatusProcessing:
			health.Processing += count
		case workitem.StatusCascading:
			health.Processing += count
			health.ActiveCascades += count
		case workitem.StatusFailed:
			health.Failed += count
		case workitem.StatusCompleted:
			health.Completed += count
		}
	}

	avg, err := s.avgProcessingSeconds(ctx, "")
	if err != nil {
		return HealthSummary{}, err
	}
	health.AvgProcessingTime = time.Duration(avg * float64(time.Second))
	return health, nil
}

// avgProcessingSeconds computes the mean claim-to-completion duration of
// completed items, optionally narrowed to one work type.
func (s *Store) avgProcessingSeconds(ctx context.Context, workType workitem.Type) (float64, error) {
	query := `SELECT COALESCE(AVG((julianday(updated_at) - julianday(claimed_at)) * 86400.0), 0)
              FROM work_items
              WHERE status = ? AND claimed_at IS NOT NULL`
	args := []any{workitem.StatusCompleted}
	if workType != "" {
		query += ` AND work_type = ?`
		args = append(args, string(workType))
	}
	var avg float64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&avg); err != nil {
		return 0, fmt.Errorf("average processing time: %w", err)
	}
	if avg < 0 {
		avg = 0
	}
	return avg, nil
}

// StageAverages returns historical per-stage mean processing seconds keyed by
// work type, feeding status derivation's remaining-time estimates.
func (s *Store) StageAverages(ctx context.Context) (map[workitem.Type]float64, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT work_type, AVG((julianday(updated_at) - julianday(claimed_at)) * 86400.0)
         FROM work_items
         WHERE status = ? AND claimed_at IS NOT NULL
         GROUP BY work_type`,
		workitem.StatusCompleted,
	)
	if err != nil {
		return nil, fmt.Errorf("stage averages: %w", err)
	}
	defer rows.Close()

	averages := make(map[workitem.Type]float64)
	for rows.Next() {
		var workType string
		var avg sql.NullFloat64
		if err := rows.Scan(&workType, &avg); err != nil {
			return nil, err
		}
		if avg.Valid && avg.Float64 > 0 {
			averages[workitem.Type(workType)] = avg.Float64
		}
	}
	return averages, rows.Err()
}

// DatabaseHealth captures diagnostic information about the work database.
type DatabaseHealth struct {
	DBPath           string
	DatabaseExists   bool
	DatabaseReadable bool
	TableExists      bool
	IntegrityCheck   bool
	TotalItems       int
	Error            string
}

// CheckHealth returns diagnostic information about the queue database.
func (s *Store) CheckHealth(ctx context.Context) (DatabaseHealth, error) {
	health := DatabaseHealth{DBPath: s.path}

	if s.path == "" {
		return health, errors.New("work database path is unknown")
	}

	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			health.DatabaseExists = false
			return health, nil
		}
		return health, fmt.Errorf("stat work database: %w", err)
	}
	if info.IsDir() {
		return health, fmt.Errorf("work database path %q is a directory", s.path)
	}
	health.DatabaseExists = true

	if s.db == nil {
		return health, errors.New("work database connection unavailable")
	}

	connCtx, cancel := context.WithTimeout(ensureContext(ctx), 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(connCtx); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("ping work database: %w", err)
	}
	health.DatabaseReadable = true

	var tableName string
	row := s.db.QueryRowContext(connCtx, "SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'work_items'")
	if err := row.Scan(&tableName); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			health.TableExists = false
		} else {
			health.Error = err.Error()
			return health, fmt.Errorf("query table info: %w", err)
		}
	} else {
		health.TableExists = true
	}

	if health.TableExists {
		row = s.db.QueryRowContext(connCtx, "SELECT COUNT(*) FROM work_items")
		if err := row.Scan(&health.TotalItems); err != nil {
			health.Error = err.Error()
			return health, fmt.Errorf("count work items: %w", err)
		}
	}

	row = s.db.QueryRowContext(connCtx, "PRAGMA integrity_check")
	var integrityResult string
	if err := row.Scan(&integrityResult); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("integrity check: %w", err)
	}
	health.IntegrityCheck = strings.EqualFold(integrityResult, "ok")

	return health, nil
}
