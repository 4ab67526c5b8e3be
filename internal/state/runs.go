package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ShayCichocki/rosterbuild/pkg/models"
)

// DefaultListLimit is used by ListRuns when limit is not positive.
const DefaultListLimit = 50

// Run is one pipeline run as recorded in the ledger.
type Run struct {
	ID            string                `json:"id"`
	Team          string                `json:"team"`
	Season        string                `json:"season"`
	Strategy      string                `json:"strategy"`
	ModelType     string                `json:"model_type"`
	Kind          models.OutcomeKind    `json:"kind"`
	Description   string                `json:"description,omitempty"`
	ArtifactChars int                   `json:"artifact_chars"`
	Degraded      []string              `json:"degraded,omitempty"`
	StartedAt     time.Time             `json:"started_at"`
	Duration      time.Duration         `json:"duration"`
	Stages        []models.StageSummary `json:"stages,omitempty"`
}

// Stats aggregates the ledger.
type Stats struct {
	Total         int                        `json:"total"`
	ByKind        map[models.OutcomeKind]int `json:"by_kind"`
	AvgDurationMs float64                    `json:"avg_duration_ms"`
	DegradedRuns  int                        `json:"degraded_runs"`
}

// RecordRun stores a run and its stage summaries in one transaction.
func (db *DB) RecordRun(ctx context.Context, r *Run) error {
	if r.ID == "" {
		return errors.New("record run: empty id")
	}
	degraded, err := json.Marshal(r.Degraded)
	if err != nil {
		return fmt.Errorf("marshal degraded stages: %w", err)
	}

	err = db.Transaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO runs (id, team, season, strategy, model_type, kind, description,
				artifact_chars, degraded, started_at, duration_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, r.ID, r.Team, r.Season, r.Strategy, r.ModelType, string(r.Kind), r.Description,
			r.ArtifactChars, string(degraded), formatTime(r.StartedAt), r.Duration.Milliseconds())
		if err != nil {
			return err
		}

		for _, s := range r.Stages {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO run_stages (run_id, stage, degraded, length, duration_ms)
				VALUES (?, ?, ?, ?, ?)
			`, r.ID, s.Stage, s.Degraded, s.Length, s.DurationMs)
			if err != nil {
				return fmt.Errorf("stage %s: %w", s.Stage, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

// GetRun retrieves a run and its stages by ID. It returns nil, nil if the run
// does not exist.
func (db *DB) GetRun(ctx context.Context, id string) (*Run, error) {
	row := db.QueryRow(ctx, `
		SELECT id, team, season, strategy, model_type, kind, description,
			artifact_chars, degraded, started_at, duration_ms
		FROM runs WHERE id = ?
	`, id)

	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}

	rows, err := db.Query(ctx, `
		SELECT stage, degraded, length, duration_ms
		FROM run_stages WHERE run_id = ? ORDER BY stage
	`, id)
	if err != nil {
		return nil, fmt.Errorf("get run stages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var s models.StageSummary
		if err := rows.Scan(&s.Stage, &s.Degraded, &s.Length, &s.DurationMs); err != nil {
			return nil, fmt.Errorf("scan run stage: %w", err)
		}
		r.Stages = append(r.Stages, s)
	}
	return r, rows.Err()
}

// ListRuns returns the most recent runs, newest first, without stage detail.
func (db *DB) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := db.Query(ctx, `
		SELECT id, team, season, strategy, model_type, kind, description,
			artifact_chars, degraded, started_at, duration_ms
		FROM runs ORDER BY started_at DESC, id LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// RunStats aggregates all recorded runs.
func (db *DB) RunStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{ByKind: make(map[models.OutcomeKind]int)}

	rows, err := db.Query(ctx, `SELECT kind, COUNT(*) FROM runs GROUP BY kind`)
	if err != nil {
		return nil, fmt.Errorf("count runs: %w", err)
	}
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan run count: %w", err)
		}
		stats.ByKind[models.OutcomeKind(kind)] = n
		stats.Total += n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var avg sql.NullFloat64
	err = db.QueryRow(ctx, `
		SELECT AVG(duration_ms), COUNT(CASE WHEN degraded NOT IN ('null', '[]') THEN 1 END)
		FROM runs
	`).Scan(&avg, &stats.DegradedRuns)
	if err != nil {
		return nil, fmt.Errorf("aggregate runs: %w", err)
	}
	stats.AvgDurationMs = avg.Float64
	return stats, nil
}

// PurgeOldRuns deletes runs started more than olderThan ago.
// Returns the number of runs deleted.
func (db *DB) PurgeOldRuns(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := formatTime(time.Now().Add(-olderThan))

	result, err := db.Exec(ctx, `DELETE FROM runs WHERE started_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge old runs: %w", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(s rowScanner) (*Run, error) {
	var r Run
	var kind, startedAt string
	var description, degraded sql.NullString
	var durationMs int64

	err := s.Scan(&r.ID, &r.Team, &r.Season, &r.Strategy, &r.ModelType, &kind, &description,
		&r.ArtifactChars, &degraded, &startedAt, &durationMs)
	if err != nil {
		return nil, err
	}

	r.Kind = models.OutcomeKind(kind)
	r.Description = description.String
	r.Duration = time.Duration(durationMs) * time.Millisecond
	r.StartedAt, _ = parseTime(startedAt)
	if degraded.Valid && degraded.String != "" {
		if err := json.Unmarshal([]byte(degraded.String), &r.Degraded); err != nil {
			return nil, fmt.Errorf("unmarshal degraded stages: %w", err)
		}
	}
	return &r, nil
}
