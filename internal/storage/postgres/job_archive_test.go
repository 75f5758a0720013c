package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/uda-platform/doc-extractor/internal/extraction"
)

func TestNewJobArchiveWithPool(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewJobArchiveWithPool(nil, "")
	require.Error(t, err)

	_, err = NewJobArchiveWithPool(mock, "jobs; DROP TABLE jobs")
	require.Error(t, err)

	archive, err := NewJobArchiveWithPool(mock, "")
	require.NoError(t, err)
	require.Equal(t, "extraction_jobs", archive.table)
}

func TestArchiveJobInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	archive, err := NewJobArchiveWithPool(mock, "extraction_jobs")
	require.NoError(t, err)

	created := time.Unix(1700000000, 0).UTC()
	started := created.Add(time.Second)
	finished := created.Add(5 * time.Second)

	job := extraction.Job{
		ID: "job-1",
		Request: extraction.Request{
			URL:         "https://acme.dev/docs",
			Company:     "Acme",
			CompanyType: "technology company",
			Product:     "AcmeCloud",
			ProductType: "cloud platform",
			Recursive:   true,
			MaxDepth:    2,
			Selectors:   map[string]string{"note": ".note"},
		},
		Status:    extraction.StatusCompleted,
		Progress:  1.0,
		Completed: []string{"https://acme.dev/docs"},
		Records: []extraction.Record{
			extraction.Entity{
				Name:         "Acme API",
				EntityType:   "API",
				Observations: []string{"Source: https://acme.dev/docs"},
			},
		},
		Created:  created,
		Started:  &started,
		Finished: &finished,
	}

	mock.ExpectExec("INSERT INTO extraction_jobs").
		WithArgs(
			"job-1",
			"https://acme.dev/docs",
			"Acme",
			"technology company",
			"AcmeCloud",
			"cloud platform",
			true,
			2,
			[]byte(`{"note":".note"}`),
			"completed",
			1.0,
			[]byte(`[]`),
			[]byte(`["https://acme.dev/docs"]`),
			[]byte(`[]`),
			[]byte(`[{"name":"Acme API","entityType":"API","observations":["Source: https://acme.dev/docs"]}]`),
			"",
			created,
			&started,
			&finished,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, archive.ArchiveJob(context.Background(), job))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestArchiveJobRequiresID(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	archive, err := NewJobArchiveWithPool(mock, "extraction_jobs")
	require.NoError(t, err)

	require.Error(t, archive.ArchiveJob(context.Background(), extraction.Job{}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetArchivedJobRoundTrip(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	archive, err := NewJobArchiveWithPool(mock, "extraction_jobs")
	require.NoError(t, err)

	created := time.Unix(1700000000, 0).UTC()
	started := created.Add(time.Second)

	rows := pgxmock.NewRows([]string{
		"url", "company", "company_type", "product", "product_type",
		"recursive", "max_depth", "selectors", "status", "progress",
		"pending_urls", "completed_urls", "page_errors", "records",
		"error_text", "created_at", "started_at", "finished_at",
	}).AddRow(
		"https://acme.dev/docs", "Acme", "technology company", "", "",
		false, 1, []byte(`{}`), "failed", 0.5,
		[]byte(`[]`), []byte(`["https://acme.dev/docs"]`),
		[]byte(`[{"url":"https://acme.dev/broken","error":"status 500"}]`),
		[]byte(`[{"name":"Acme API","entityType":"API","observations":["Source: https://acme.dev/docs"]},{"from":"Acme","relationType":"provides","to":"Acme API"}]`),
		"store unavailable", created, &started, (*time.Time)(nil),
	)
	mock.ExpectQuery("SELECT (.+) FROM extraction_jobs WHERE id").
		WithArgs("job-1").
		WillReturnRows(rows)

	job, err := archive.GetArchivedJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, "job-1", job.ID)
	require.Equal(t, extraction.StatusFailed, job.Status)
	require.Equal(t, "store unavailable", job.Error)
	require.Equal(t, []string{"https://acme.dev/docs"}, job.Completed)
	require.Len(t, job.Errored, 1)
	require.Equal(t, "status 500", job.Errored[0].Error)
	require.Len(t, job.Records, 2)
	require.Equal(t, extraction.Relation{From: "Acme", Type: "provides", To: "Acme API"}, job.Records[1])
	require.Nil(t, job.Finished)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetArchivedJobNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	archive, err := NewJobArchiveWithPool(mock, "extraction_jobs")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT (.+) FROM extraction_jobs WHERE id").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err = archive.GetArchivedJob(context.Background(), "missing")
	require.True(t, errors.Is(err, extraction.ErrJobNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListArchivedJobs(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	archive, err := NewJobArchiveWithPool(mock, "extraction_jobs")
	require.NoError(t, err)

	created := time.Unix(1700000000, 0).UTC()
	finished := created.Add(5 * time.Second)

	rows := pgxmock.NewRows([]string{
		"id", "url", "company", "product", "status", "progress",
		"completed", "errors", "records", "created_at", "finished_at",
	}).
		AddRow("job-2", "https://acme.dev/guides", "Acme", "", "completed", 1.0, 3, 0, 9, created.Add(time.Minute), &finished).
		AddRow("job-1", "https://acme.dev/docs", "Acme", "AcmeCloud", "failed", 0.5, 1, 1, 2, created, (*time.Time)(nil))
	mock.ExpectQuery("SELECT (.+) FROM extraction_jobs ORDER BY created_at DESC").
		WithArgs(10, 0).
		WillReturnRows(rows)

	jobs, err := archive.ListArchivedJobs(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	require.Equal(t, "job-2", jobs[0].ID)
	require.Equal(t, 3, jobs[0].Pages)
	require.Equal(t, 9, jobs[0].RecordCnt)
	require.Equal(t, extraction.StatusFailed, jobs[1].Status)
	require.Nil(t, jobs[1].Finished)
	require.NoError(t, mock.ExpectationsWereMet())
}
