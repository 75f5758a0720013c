// Package main hosts the documentation extraction service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, and extraction
//     endpoints. Submissions are validated and defaulted by the orchestrator,
//     persisted in the in-memory job store, and answered with 202 before any
//     page is fetched.
//   - Orchestrator & loop: internal/orchestrator spawns one crawl loop
//     goroutine per job, holding a cancel handle so jobs can be stopped via
//     the API or on shutdown. internal/crawl drains the job's pending
//     frontier up to the page budget, rendering, extracting, and recording
//     each page before moving on.
//   - Render pipeline: pages are fetched with a Colly-based static renderer
//     and promoted to a shared headless Chrome instance when the detector
//     heuristics flag a JavaScript-dependent page (mode auto), always
//     (mode headless), or never (mode static).
//   - Extraction & fanout: internal/extraction turns rendered HTML into
//     knowledge-graph entities and relations via readability, goquery
//     selectors, and endpoint/heading heuristics. Records accumulate on the
//     job and are pushed best effort to the external graph service; rendered
//     HTML is archived to the configured blob store (memory/local/GCS);
//     lifecycle events go to the configured publisher (memory/Pub/Sub);
//     finished jobs are copied to Postgres when a DSN is configured.
//   - Configuration & plumbing: Viper populates config from file and
//     EXTRACTOR_* env vars; zap provides structured logging; Prometheus
//     metrics are exported via the telemetry middleware and /metrics.
//
// Operational notes:
//   - Concurrency model: one goroutine per running job, optionally bounded
//     by jobs.max_concurrent; headless renders share a browser limited by
//     render.max_parallel tabs. Shutdown cancels every job handle and waits
//     for the loops before exiting.
//   - Observability: zap logs carry job IDs and URLs at each transition;
//     Prometheus counters/histograms track pages, renders, records, jobs,
//     and HTTP traffic.
//   - The job store is in-process, so /status and /results are answered by
//     the instance that accepted the job; the Postgres archive covers
//     lookups after a restart.
//
// Run locally: go run ./cmd/extractor -config config.yaml (or rely solely
// on EXTRACTOR_* env overrides).
package main
