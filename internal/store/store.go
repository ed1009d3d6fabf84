// Package store is the durable keyed store behind the request cache and the
// job state machine. Two implementations exist: a SQLite file store (default)
// and a Postgres store for shared deployments. All state transitions are
// single-statement and keyed, so concurrent workers never need an in-process
// lock.
package store

import (
	"context"
	"time"

	"github.com/yieldera/datahub/internal/model"
)

// JobFilter specifies criteria for listing jobs.
type JobFilter struct {
	Status model.JobStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
}

// Store defines the persistence interface shared by the cache and job layers.
type Store interface {
	// Cache entries. Get returns (nil, nil) when absent or expired; expired
	// entries are never resurrected. Put atomically replaces any previous
	// entry for the fingerprint.
	GetCacheEntry(ctx context.Context, fingerprint string) (*model.CacheEntry, error)
	PutCacheEntry(ctx context.Context, entry model.CacheEntry) error
	DeleteExpiredCacheEntries(ctx context.Context) (int, error)

	// Jobs. ClaimJob performs the atomic queued→running transition and
	// reports derrors.KindAlreadyClaimed when another executor won the race.
	// CompleteJob and FailJob are the exactly-once terminal transitions;
	// both require the job to still be running.
	CreateJob(ctx context.Context, job *model.Job) error
	GetJob(ctx context.Context, id string) (*model.Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error)
	ClaimJob(ctx context.Context, id string) error
	UpdateJobProgress(ctx context.Context, id string, progress int) error
	CompleteJob(ctx context.Context, id string, downloadURLs map[string]string) error
	FailJob(ctx context.Context, id string, message string) error
	FailStalledJobs(ctx context.Context, staleAfter time.Duration, message string) (int, error)
	DeleteJobsBefore(ctx context.Context, cutoff time.Time) ([]model.Job, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
