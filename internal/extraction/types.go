// Package extraction defines the core types shared across the documentation
// extraction engine: job lifecycle state, extraction requests, rendered pages,
// and the entity/relation records derived from documentation HTML.
package extraction

import (
	"time"
)

// JobStatus represents the lifecycle state of an extraction job.
type JobStatus string

// Job status values held in the job store. Transitions are monotonic:
// initialized -> running -> completed or failed.
const (
	StatusInitialized JobStatus = "initialized"
	StatusRunning     JobStatus = "running"
	StatusCompleted   JobStatus = "completed"
	StatusFailed      JobStatus = "failed"
)

// Terminal reports whether a status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Request captures everything a client supplies when submitting an
// extraction job.
type Request struct {
	URL         string            `json:"url"`
	Company     string            `json:"company"`
	CompanyType string            `json:"company_type"`
	Product     string            `json:"product,omitempty"`
	ProductType string            `json:"product_type,omitempty"`
	Recursive   bool              `json:"recursive"`
	MaxDepth    int               `json:"max_depth"`
	Selectors   map[string]string `json:"selectors,omitempty"`
}

// Subject returns the name extracted entities are attributed to: the product
// when one was supplied, otherwise the company.
func (r Request) Subject() string {
	if r.Product != "" {
		return r.Product
	}
	return r.Company
}

// PageError records a URL that failed to render or extract, with the reason.
type PageError struct {
	URL   string `json:"url"`
	Error string `json:"error"`
}

// Job is the full state of an extraction job. Pending is a FIFO frontier; a
// URL lives in at most one of Pending, Completed, or the Errored list at any
// observable snapshot.
type Job struct {
	ID        string      `json:"id"`
	Request   Request     `json:"request"`
	Status    JobStatus   `json:"status"`
	Progress  float64     `json:"progress"`
	Pending   []string    `json:"pending_urls"`
	Completed []string    `json:"completed_urls"`
	Errored   []PageError `json:"error_urls"`
	Records   []Record    `json:"records"`
	Error     string      `json:"error,omitempty"`
	Created   time.Time   `json:"created_at"`
	Started   *time.Time  `json:"started_at,omitempty"`
	Finished  *time.Time  `json:"finished_at,omitempty"`
}

// ComputeProgress returns the completed fraction over all URLs the job has
// seen. The denominator counts every tracked URL; an empty job reports 1.0.
func ComputeProgress(completed, pending, errored int) float64 {
	total := completed + pending + errored
	if total == 0 {
		return 1.0
	}
	return float64(completed) / float64(total)
}

// RenderedPage is the result of rendering one URL.
type RenderedPage struct {
	URL        string
	FinalURL   string
	StatusCode int
	HTML       string
	Headless   bool
	Duration   time.Duration
}

// JobSummary is the listing projection of a job: everything but the URL
// containers and accumulated records.
type JobSummary struct {
	ID        string     `json:"id"`
	URL       string     `json:"url"`
	Company   string     `json:"company"`
	Product   string     `json:"product,omitempty"`
	Status    JobStatus  `json:"status"`
	Progress  float64    `json:"progress"`
	Pages     int        `json:"pages_completed"`
	Errors    int        `json:"pages_errored"`
	RecordCnt int        `json:"records"`
	Created   time.Time  `json:"created_at"`
	Finished  *time.Time `json:"finished_at,omitempty"`
}

// Summary projects the job into its listing form.
func (j Job) Summary() JobSummary {
	return JobSummary{
		ID:        j.ID,
		URL:       j.Request.URL,
		Company:   j.Request.Company,
		Product:   j.Request.Product,
		Status:    j.Status,
		Progress:  j.Progress,
		Pages:     len(j.Completed),
		Errors:    len(j.Errored),
		RecordCnt: len(j.Records),
		Created:   j.Created,
		Finished:  j.Finished,
	}
}
