package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// FeedRun is one historical record of a feed run.
type FeedRun struct {
	ID              string     `json:"id"`
	RunName         string     `json:"runName"`
	Trigger         string     `json:"trigger"` // "manual" | "schedule" | "file_watch"
	Kind            string     `json:"kind"`    // "full" | "delta"
	ExportJobID     string     `json:"exportJobId"`
	StartedAt       time.Time  `json:"startedAt"`
	FinishedAt      *time.Time `json:"finishedAt,omitempty"`
	Status          string     `json:"status"` // "running" | "success" | "error"
	ExportedObjects int        `json:"exportedObjects"`
	Products        int        `json:"products"`
	Patched         int        `json:"patched"`
	Error           string     `json:"error,omitempty"`
}

// RunStore implements persistence for feed runs.
type RunStore struct {
	db *DB
}

// NewRunStore creates a new RunStore.
func NewRunStore(db *DB) *RunStore {
	return &RunStore{db: db}
}

// CreateRun records the start of a run.
func (s *RunStore) CreateRun(run *FeedRun) error {
	run.ID = uuid.New().String()
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	if run.Status == "" {
		run.Status = "running"
	}

	_, err := s.db.conn.Exec(
		`INSERT INTO feed_runs (id, run_name, trigger_type, kind, export_job_id, started_at, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.RunName, run.Trigger, run.Kind, run.ExportJobID, run.StartedAt, run.Status,
	)
	return err
}

// FinishRun records the terminal state and counters of a run.
func (s *RunStore) FinishRun(id, status, errMsg string, exported, products, patched int) error {
	_, err := s.db.conn.Exec(
		`UPDATE feed_runs SET finished_at=?, status=?, error=?,
		 exported_objects=?, products=?, patched=? WHERE id=?`,
		time.Now(), status, errMsg, exported, products, patched, id,
	)
	return err
}

// SetExportJob records the bulk operation id once the export is submitted.
func (s *RunStore) SetExportJob(id, exportJobID string) error {
	_, err := s.db.conn.Exec(
		`UPDATE feed_runs SET export_job_id=? WHERE id=?`, exportJobID, id,
	)
	return err
}

// GetRun loads one run by id.
func (s *RunStore) GetRun(id string) (*FeedRun, error) {
	run := &FeedRun{}
	var finished sql.NullTime
	err := s.db.conn.QueryRow(
		`SELECT id, run_name, trigger_type, kind, export_job_id, started_at, finished_at,
		 status, exported_objects, products, patched, error
		 FROM feed_runs WHERE id = ?`, id,
	).Scan(
		&run.ID, &run.RunName, &run.Trigger, &run.Kind, &run.ExportJobID,
		&run.StartedAt, &finished, &run.Status,
		&run.ExportedObjects, &run.Products, &run.Patched, &run.Error,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("feed run not found: %s", id)
	}
	if err != nil {
		return nil, err
	}
	if finished.Valid {
		run.FinishedAt = &finished.Time
	}
	return run, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *RunStore) ListRuns(limit int) ([]FeedRun, error) {
	rows, err := s.db.conn.Query(
		`SELECT id, run_name, trigger_type, kind, export_job_id, started_at, finished_at,
		 status, exported_objects, products, patched, error
		 FROM feed_runs ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []FeedRun
	for rows.Next() {
		var run FeedRun
		var finished sql.NullTime
		if err := rows.Scan(
			&run.ID, &run.RunName, &run.Trigger, &run.Kind, &run.ExportJobID,
			&run.StartedAt, &finished, &run.Status,
			&run.ExportedObjects, &run.Products, &run.Patched, &run.Error,
		); err != nil {
			return nil, err
		}
		if finished.Valid {
			run.FinishedAt = &finished.Time
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// LastSuccessfulRun returns the newest successful run of the given
// kind, or nil when none exists. Used to anchor delta exports.
func (s *RunStore) LastSuccessfulRun() (*FeedRun, error) {
	run := &FeedRun{}
	var finished sql.NullTime
	err := s.db.conn.QueryRow(
		`SELECT id, run_name, trigger_type, kind, export_job_id, started_at, finished_at,
		 status, exported_objects, products, patched, error
		 FROM feed_runs WHERE status = 'success' ORDER BY started_at DESC LIMIT 1`,
	).Scan(
		&run.ID, &run.RunName, &run.Trigger, &run.Kind, &run.ExportJobID,
		&run.StartedAt, &finished, &run.Status,
		&run.ExportedObjects, &run.Products, &run.Patched, &run.Error,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if finished.Valid {
		run.FinishedAt = &finished.Time
	}
	return run, nil
}
