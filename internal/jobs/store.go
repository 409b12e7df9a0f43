package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/hubrelay/internal/infrastructure/database"
)

// Store persists pending jobs.
type Store interface {
	// Save inserts or overwrites the job with j.ID.
	Save(ctx context.Context, j Job) error

	// Get returns the job, or ErrJobNotFound.
	Get(ctx context.Context, id string) (Job, error)

	// Delete removes the job, or returns ErrJobNotFound.
	Delete(ctx context.Context, id string) error

	// List returns all jobs ordered by run time.
	List(ctx context.Context) ([]Job, error)
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string]Job
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]Job)}
}

// Save implements Store.
func (m *MemoryStore) Save(_ context.Context, j Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[j.ID] = j.clone()
	return nil
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, id string) (Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	return j.clone(), nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[id]; !ok {
		return ErrJobNotFound
	}
	delete(m.jobs, id)
	return nil
}

// List implements Store.
func (m *MemoryStore) List(context.Context) ([]Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j.clone())
	}
	sortJobs(out)
	return out, nil
}

func sortJobs(js []Job) {
	sort.Slice(js, func(i, k int) bool {
		if !js[i].RunAt.Equal(js[k].RunAt) {
			return js[i].RunAt.Before(js[k].RunAt)
		}
		return js[i].ID < js[k].ID
	})
}

// SQLiteStore persists jobs in the scheduled_jobs table. The table is
// created by the embedded migrations.
type SQLiteStore struct {
	db *database.DB
}

// NewSQLiteStore wraps an open, migrated database.
func NewSQLiteStore(db *database.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

const timeLayout = time.RFC3339Nano

// Save implements Store.
func (s *SQLiteStore) Save(ctx context.Context, j Job) error {
	params, err := json.Marshal(j.Params)
	if err != nil {
		return fmt.Errorf("%w: params of %s: %w", ErrInvalidJob, j.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO scheduled_jobs (id, handler, run_at, params, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			handler = excluded.handler,
			run_at = excluded.run_at,
			params = excluded.params,
			created_at = excluded.created_at`,
		j.ID, j.Handler, j.RunAt.UTC().Format(timeLayout), string(params), j.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("saving job %s: %w", j.ID, err)
	}
	return nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, id string) (Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, handler, run_at, params, created_at FROM scheduled_jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrJobNotFound
	}
	return j, err
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting job %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrJobNotFound
	}
	return nil
}

// List implements Store.
func (s *SQLiteStore) List(ctx context.Context) ([]Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, handler, run_at, params, created_at FROM scheduled_jobs ORDER BY run_at, id`)
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating jobs: %w", err)
	}
	// run_at sorts lexically only while every row shares an offset; sort
	// again on the parsed times.
	sortJobs(out)
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (Job, error) {
	var (
		j                     Job
		runAt, params, create string
	)
	if err := row.Scan(&j.ID, &j.Handler, &runAt, &params, &create); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Job{}, err
		}
		return Job{}, fmt.Errorf("scanning job: %w", err)
	}
	var err error
	if j.RunAt, err = time.Parse(timeLayout, runAt); err != nil {
		return Job{}, fmt.Errorf("job %s run_at: %w", j.ID, err)
	}
	j.CreatedAt, _ = time.Parse(timeLayout, create) //nolint:errcheck // informational only
	if err := json.Unmarshal([]byte(params), &j.Params); err != nil {
		return Job{}, fmt.Errorf("job %s params: %w", j.ID, err)
	}
	return j, nil
}
