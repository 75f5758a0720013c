// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/uda-platform/doc-extractor/internal/extraction"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// JobArchiveConfig controls the Postgres connection pool used for archived jobs.
type JobArchiveConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// JobArchive copies terminal job snapshots into Postgres and serves them back
// after the in-memory store has forgotten them.
type JobArchive struct {
	pool  pgxPool
	table string
}

// NewJobArchive creates a Postgres-backed JobArchive using the provided config.
func NewJobArchive(ctx context.Context, cfg JobArchiveConfig) (*JobArchive, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "extraction_jobs"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &JobArchive{
		pool:  pool,
		table: table,
	}, nil
}

// NewJobArchiveWithPool constructs an archive from an existing pool (primarily for testing).
func NewJobArchiveWithPool(pool pgxPool, table string) (*JobArchive, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "extraction_jobs"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &JobArchive{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *JobArchive) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// ArchiveJob inserts a terminal job snapshot into Postgres.
func (s *JobArchive) ArchiveJob(ctx context.Context, job extraction.Job) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("job archive is not configured")
	}
	if job.ID == "" {
		return fmt.Errorf("job id is required")
	}
	selectors := job.Request.Selectors
	if selectors == nil {
		selectors = map[string]string{}
	}
	selectorsJSON, err := json.Marshal(selectors)
	if err != nil {
		return fmt.Errorf("marshal selectors: %w", err)
	}
	pendingJSON, err := marshalList(job.Pending)
	if err != nil {
		return fmt.Errorf("marshal pending urls: %w", err)
	}
	completedJSON, err := marshalList(job.Completed)
	if err != nil {
		return fmt.Errorf("marshal completed urls: %w", err)
	}
	errorsJSON, err := marshalList(job.Errored)
	if err != nil {
		return fmt.Errorf("marshal page errors: %w", err)
	}
	recordsJSON, err := marshalList(job.Records)
	if err != nil {
		return fmt.Errorf("marshal records: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	url,
	company,
	company_type,
	product,
	product_type,
	recursive,
	max_depth,
	selectors,
	status,
	progress,
	pending_urls,
	completed_urls,
	page_errors,
	records,
	error_text,
	created_at,
	started_at,
	finished_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19
)`, s.table)

	args := []any{
		job.ID,
		job.Request.URL,
		job.Request.Company,
		job.Request.CompanyType,
		job.Request.Product,
		job.Request.ProductType,
		job.Request.Recursive,
		job.Request.MaxDepth,
		selectorsJSON,
		string(job.Status),
		job.Progress,
		pendingJSON,
		completedJSON,
		errorsJSON,
		recordsJSON,
		job.Error,
		job.Created,
		job.Started,
		job.Finished,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert archived job: %w", err)
	}
	return nil
}

// GetArchivedJob loads a previously archived job by ID. It reports
// extraction.ErrJobNotFound when no row exists.
func (s *JobArchive) GetArchivedJob(ctx context.Context, jobID string) (extraction.Job, error) {
	if s == nil || s.pool == nil {
		return extraction.Job{}, fmt.Errorf("job archive is not configured")
	}
	query := fmt.Sprintf(`
SELECT url, company, company_type, product, product_type, recursive, max_depth,
	selectors, status, progress, pending_urls, completed_urls, page_errors,
	records, error_text, created_at, started_at, finished_at
FROM %s
WHERE id = $1`, s.table)

	var (
		job           extraction.Job
		status        string
		selectorsJSON []byte
		pendingJSON   []byte
		completedJSON []byte
		errorsJSON    []byte
		recordsJSON   []byte
	)
	job.ID = jobID
	err := s.pool.QueryRow(ctx, query, jobID).Scan(
		&job.Request.URL,
		&job.Request.Company,
		&job.Request.CompanyType,
		&job.Request.Product,
		&job.Request.ProductType,
		&job.Request.Recursive,
		&job.Request.MaxDepth,
		&selectorsJSON,
		&status,
		&job.Progress,
		&pendingJSON,
		&completedJSON,
		&errorsJSON,
		&recordsJSON,
		&job.Error,
		&job.Created,
		&job.Started,
		&job.Finished,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return extraction.Job{}, fmt.Errorf("%w: %s", extraction.ErrJobNotFound, jobID)
		}
		return extraction.Job{}, fmt.Errorf("get archived job: %w", err)
	}
	job.Status = extraction.JobStatus(status)
	if err := json.Unmarshal(selectorsJSON, &job.Request.Selectors); err != nil {
		return extraction.Job{}, fmt.Errorf("decode selectors: %w", err)
	}
	if err := json.Unmarshal(pendingJSON, &job.Pending); err != nil {
		return extraction.Job{}, fmt.Errorf("decode pending urls: %w", err)
	}
	if err := json.Unmarshal(completedJSON, &job.Completed); err != nil {
		return extraction.Job{}, fmt.Errorf("decode completed urls: %w", err)
	}
	if err := json.Unmarshal(errorsJSON, &job.Errored); err != nil {
		return extraction.Job{}, fmt.Errorf("decode page errors: %w", err)
	}
	records, err := extraction.DecodeRecords(recordsJSON)
	if err != nil {
		return extraction.Job{}, err
	}
	job.Records = records
	return job, nil
}

// ListArchivedJobs returns archived job summaries newest-first. A limit <= 0
// means no limit.
func (s *JobArchive) ListArchivedJobs(ctx context.Context, limit, offset int) ([]extraction.JobSummary, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("job archive is not configured")
	}
	if limit < 0 {
		limit = 0
	}
	query := fmt.Sprintf(`
SELECT id, url, company, product, status, progress,
	jsonb_array_length(completed_urls),
	jsonb_array_length(page_errors),
	jsonb_array_length(records),
	created_at, finished_at
FROM %s
ORDER BY created_at DESC
LIMIT NULLIF($1, 0) OFFSET $2`, s.table)

	rows, err := s.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list archived jobs: %w", err)
	}
	defer rows.Close()

	var out []extraction.JobSummary
	for rows.Next() {
		var (
			sum    extraction.JobSummary
			status string
		)
		err := rows.Scan(
			&sum.ID,
			&sum.URL,
			&sum.Company,
			&sum.Product,
			&status,
			&sum.Progress,
			&sum.Pages,
			&sum.Errors,
			&sum.RecordCnt,
			&sum.Created,
			&sum.Finished,
		)
		if err != nil {
			return nil, fmt.Errorf("scan archived job row: %w", err)
		}
		sum.Status = extraction.JobStatus(status)
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate archived jobs: %w", err)
	}
	return out, nil
}

func marshalList[T any](items []T) ([]byte, error) {
	if items == nil {
		items = []T{}
	}
	return json.Marshal(items)
}
