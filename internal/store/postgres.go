package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/yieldera/datahub/internal/derrors"
	"github.com/yieldera/datahub/internal/model"
)

// Querier is the subset of pgxpool.Pool the store uses. pgxmock satisfies it
// in tests.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Querier
}

var _ Store = (*PostgresStore)(nil)

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for the
// hottest store operations.
var preparedStatements = map[string]string{
	"get_cache_entry": `SELECT fingerprint, payload, created_at, expires_at FROM cache_entries WHERE fingerprint = $1 AND expires_at > now()`,
	"put_cache_entry": `INSERT INTO cache_entries (fingerprint, payload, created_at, expires_at) VALUES ($1, $2, $3, $4) ON CONFLICT (fingerprint) DO UPDATE SET payload = excluded.payload, created_at = excluded.created_at, expires_at = excluded.expires_at`,
	"get_job":         `SELECT id, dataset, status, progress, params, download_urls, error, created_at, updated_at FROM jobs WHERE id = $1`,
	"claim_job":       `UPDATE jobs SET status = 'running', updated_at = now() WHERE id = $1 AND status = 'queued'`,
	"job_progress":    `UPDATE jobs SET progress = $1, updated_at = now() WHERE id = $2 AND status = 'running'`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresFromQuerier wraps an existing pool-compatible querier. Used by
// tests with pgxmock.
func NewPostgresFromQuerier(q Querier) *PostgresStore {
	return &PostgresStore{pool: q}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS cache_entries (
	fingerprint TEXT PRIMARY KEY,
	payload     BYTEA NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	expires_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS jobs (
	id            TEXT PRIMARY KEY,
	dataset       TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'queued',
	progress      INTEGER NOT NULL DEFAULT 0,
	params        TEXT NOT NULL,
	download_urls TEXT,
	error         TEXT,
	created_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cache_entries_expires_at ON cache_entries(expires_at);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// --- cache entries ---

func (s *PostgresStore) GetCacheEntry(ctx context.Context, fingerprint string) (*model.CacheEntry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT fingerprint, payload, created_at, expires_at FROM cache_entries
		 WHERE fingerprint = $1 AND expires_at > now()`,
		fingerprint,
	)

	var e model.CacheEntry
	err := row.Scan(&e.Fingerprint, &e.Payload, &e.CreatedAt, &e.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get cache entry")
	}
	return &e, nil
}

func (s *PostgresStore) PutCacheEntry(ctx context.Context, entry model.CacheEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO cache_entries (fingerprint, payload, created_at, expires_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (fingerprint) DO UPDATE SET
			payload = excluded.payload,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at`,
		entry.Fingerprint, entry.Payload, entry.CreatedAt, entry.ExpiresAt,
	)
	return eris.Wrap(err, "postgres: put cache entry")
}

func (s *PostgresStore) DeleteExpiredCacheEntries(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM cache_entries WHERE expires_at <= now()`)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete expired cache entries")
	}
	return int(tag.RowsAffected()), nil
}

// --- jobs ---

func (s *PostgresStore) CreateJob(ctx context.Context, job *model.Job) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (id, dataset, status, progress, params, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		job.ID, job.Dataset, string(job.Status), job.Progress, string(job.Params),
		job.CreatedAt, job.UpdatedAt,
	)
	return eris.Wrapf(err, "postgres: insert job %s", job.ID)
}

func (s *PostgresStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, dataset, status, progress, params, download_urls, error, created_at, updated_at
		 FROM jobs WHERE id = $1`, id,
	)
	return scanPgJob(row, id)
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	query := `SELECT id, dataset, status, progress, params, download_urls, error, created_at, updated_at
		 FROM jobs`
	var args []any

	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += ` WHERE status = $1`
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	if len(args) == 1 {
		query += ` LIMIT $1`
	} else {
		query += ` LIMIT $2`
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		j, err := scanPgJob(rows, "")
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: list jobs iterate")
}

func (s *PostgresStore) ClaimJob(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = 'running', updated_at = now() WHERE id = $1 AND status = 'queued'`,
		id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: claim job %s", id)
	}
	return s.checkTransition(ctx, tag, id, "claim")
}

func (s *PostgresStore) UpdateJobProgress(ctx context.Context, id string, progress int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET progress = $1, updated_at = now() WHERE id = $2 AND status = 'running'`,
		progress, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update job progress %s", id)
	}
	return s.checkTransition(ctx, tag, id, "progress")
}

func (s *PostgresStore) CompleteJob(ctx context.Context, id string, downloadURLs map[string]string) error {
	urlsJSON, err := json.Marshal(downloadURLs)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal download urls")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = 'done', progress = 100, download_urls = $1, updated_at = now()
		 WHERE id = $2 AND status = 'running'`,
		string(urlsJSON), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete job %s", id)
	}
	return s.checkTransition(ctx, tag, id, "complete")
}

func (s *PostgresStore) FailJob(ctx context.Context, id string, message string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = 'error', error = $1, updated_at = now()
		 WHERE id = $2 AND status = 'running'`,
		message, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail job %s", id)
	}
	return s.checkTransition(ctx, tag, id, "fail")
}

func (s *PostgresStore) FailStalledJobs(ctx context.Context, staleAfter time.Duration, message string) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = 'error', error = $1, updated_at = now()
		 WHERE status = 'running' AND updated_at < now() - $2::interval`,
		message, staleAfter.String(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: fail stalled jobs")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) DeleteJobsBefore(ctx context.Context, cutoff time.Time) ([]model.Job, error) {
	rows, err := s.pool.Query(ctx,
		`DELETE FROM jobs WHERE created_at < $1 AND status IN ('done', 'error')
		 RETURNING id, dataset, status, progress, params, download_urls, error, created_at, updated_at`,
		cutoff,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: delete aged jobs")
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		j, err := scanPgJob(rows, "")
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: delete aged jobs iterate")
}

func (s *PostgresStore) checkTransition(ctx context.Context, tag pgconn.CommandTag, id, op string) error {
	if tag.RowsAffected() > 0 {
		return nil
	}

	var one int
	err := s.pool.QueryRow(ctx, `SELECT 1 FROM jobs WHERE id = $1`, id).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return derrors.Newf(derrors.KindNotFound, "job %s not found", id)
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: check job %s", id)
	}
	return derrors.Newf(derrors.KindAlreadyClaimed, "job %s: %s lost state race", id, op)
}

func scanPgJob(row pgx.Row, id string) (*model.Job, error) {
	var j model.Job
	var params string
	var urlsJSON, errMsg *string

	err := row.Scan(&j.ID, &j.Dataset, &j.Status, &j.Progress, &params,
		&urlsJSON, &errMsg, &j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, derrors.Newf(derrors.KindNotFound, "job %s not found", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan job")
	}

	j.Params = []byte(params)
	if urlsJSON != nil && *urlsJSON != "" {
		if err := json.Unmarshal([]byte(*urlsJSON), &j.DownloadURLs); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal download urls")
		}
	}
	if errMsg != nil {
		j.Error = *errMsg
	}
	return &j, nil
}
