package models

import "time"

// SyncLogEntry is one row of the sync run log.
type SyncLogEntry struct {
	ID               int64      `json:"id"`
	RunID            string     `json:"run_id"`
	StartedAt        time.Time  `json:"started_at"`
	CompletedAt      *time.Time `json:"completed_at"`
	Success          bool       `json:"success"`
	RecordsProcessed int        `json:"records_processed"`
	RecordsUpdated   int        `json:"records_updated"`
	Errors           []string   `json:"errors"`
	Warnings         []string   `json:"warnings"`
	InitiatedBy      string     `json:"initiated_by"`
	DurationMs       *int64     `json:"duration_ms"`
	CreatedAt        time.Time  `json:"created_at"`
}

// DataFreshness grades how stale the last successful sync is.
type DataFreshness string

const (
	FreshnessFresh    DataFreshness = "fresh"
	FreshnessStale    DataFreshness = "stale"
	FreshnessOutdated DataFreshness = "outdated"
)

// SyncStatus is the observability surface returned by the status endpoint.
type SyncStatus struct {
	IsRunning     bool          `json:"is_running"`
	LastSync      *SyncLogEntry `json:"last_sync,omitempty"`
	DataFreshness DataFreshness `json:"data_freshness"`
	NextScheduled *time.Time    `json:"next_scheduled,omitempty"`
}
