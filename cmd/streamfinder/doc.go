// Package main hosts the stream finder service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, and the find endpoints. A POST /find request is
//     validated synchronously, registered as a pending task, and resolved in the background; callers poll
//     GET /find/{task_id} until the task reaches a terminal state.
//   - Orchestrator & tasks: internal/task tracks every submission in an in-memory table with single terminal
//     transitions. A janitor goroutine periodically reclaims crawling-substrate storage and sweeps finished
//     tasks, serialized against active pipeline runs so a reclamation never races a resolution.
//   - Dispatcher: internal/dispatcher fans a query out to every registered source concurrently. A source that
//     errors or panics contributes an empty stream list; it never takes down a sibling source.
//   - Resolution pipeline: internal/source/animepahe searches the upstream catalog, ranks candidates with the
//     lexical similarity scorer, confirms identity via external IDs when provided, walks paginated episode
//     listings, extracts download mirrors from rendered pages, and follows each mirror through its redirect
//     hops to a direct file URL.
//   - Fetch substrate: internal/fetch wraps a Colly collector for raw HTTP and a shared Chromedp browser for
//     script-executing fetches. Batches fan out per URL with bounded retry and per-item failure isolation.
//   - Configuration & plumbing: Viper populates config from env/files; zap provides structured logging;
//     Prometheus counters and histograms are exported via /metrics. The service holds no durable state.
//
// Operational notes:
//   - Concurrency model: one goroutine per task run, fan-out per source and per fetched URL, and a semaphore
//     bounding parallel browser tabs. Shutdown is coordinated via context cancellation from main.
//   - Observability: zap logs carry task IDs and source names at key transitions; Prometheus tracks task
//     throughput, per-source stream counts, and HTTP latencies. Tracing is not yet wired in.
//
// Quick checklist:
//   - Configure env vars: STREAMFINDER_SERVER_PORT, STREAMFINDER_SOURCE_BASE_URL, STREAMFINDER_SOURCE_COOKIE,
//     STREAMFINDER_HTTP_TIMEOUT_SECONDS, STREAMFINDER_HEADLESS_MAX_PARALLEL, and the STREAMFINDER_TASKS_*
//     retention knobs when defaults do not fit.
//   - Run locally: go run ./cmd/streamfinder -config config.yaml (or rely solely on env overrides).
package main
