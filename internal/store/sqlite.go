package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/yieldera/datahub/internal/derrors"
	"github.com/yieldera/datahub/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS cache_entries (
	fingerprint TEXT PRIMARY KEY,
	payload     BLOB NOT NULL,
	created_at  DATETIME NOT NULL,
	expires_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS jobs (
	id            TEXT PRIMARY KEY,
	dataset       TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'queued',
	progress      INTEGER NOT NULL DEFAULT 0,
	params        TEXT NOT NULL,
	download_urls TEXT,
	error         TEXT,
	created_at    DATETIME NOT NULL,
	updated_at    DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cache_entries_expires_at ON cache_entries(expires_at);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- cache entries ---

func (s *SQLiteStore) GetCacheEntry(ctx context.Context, fingerprint string) (*model.CacheEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT fingerprint, payload, created_at, expires_at FROM cache_entries
		 WHERE fingerprint = ? AND expires_at > ?`,
		fingerprint, time.Now().UTC(),
	)

	var e model.CacheEntry
	err := row.Scan(&e.Fingerprint, &e.Payload, &e.CreatedAt, &e.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get cache entry")
	}
	return &e, nil
}

func (s *SQLiteStore) PutCacheEntry(ctx context.Context, entry model.CacheEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cache_entries (fingerprint, payload, created_at, expires_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(fingerprint) DO UPDATE SET
			payload = excluded.payload,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at`,
		entry.Fingerprint, entry.Payload, entry.CreatedAt, entry.ExpiresAt,
	)
	return eris.Wrap(err, "sqlite: put cache entry")
}

func (s *SQLiteStore) DeleteExpiredCacheEntries(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE expires_at <= ?`, time.Now().UTC(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete expired cache entries")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

// --- jobs ---

func (s *SQLiteStore) CreateJob(ctx context.Context, job *model.Job) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, dataset, status, progress, params, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Dataset, string(job.Status), job.Progress, string(job.Params),
		job.CreatedAt, job.UpdatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert job %s", job.ID)
}

func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, dataset, status, progress, params, download_urls, error, created_at, updated_at
		 FROM jobs WHERE id = ?`, id,
	)
	return scanJob(row, id)
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	query := `SELECT id, dataset, status, progress, params, download_urls, error, created_at, updated_at
		 FROM jobs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs")
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		j, err := scanJob(rows, "")
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "sqlite: list jobs iterate")
}

// ClaimJob moves a queued job to running. The WHERE clause makes the claim
// atomic: exactly one of any number of racing executors sees a row affected.
func (s *SQLiteStore) ClaimJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(model.JobRunning), time.Now().UTC(), id, string(model.JobQueued),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: claim job %s", id)
	}
	return s.checkTransition(ctx, res, id, "claim")
}

func (s *SQLiteStore) UpdateJobProgress(ctx context.Context, id string, progress int) error {
	// Also refreshes updated_at, which doubles as the liveness heartbeat.
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET progress = ?, updated_at = ? WHERE id = ? AND status = ?`,
		progress, time.Now().UTC(), id, string(model.JobRunning),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update job progress %s", id)
	}
	return s.checkTransition(ctx, res, id, "progress")
}

func (s *SQLiteStore) CompleteJob(ctx context.Context, id string, downloadURLs map[string]string) error {
	urlsJSON, err := json.Marshal(downloadURLs)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal download urls")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, progress = 100, download_urls = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(model.JobDone), string(urlsJSON), time.Now().UTC(), id, string(model.JobRunning),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete job %s", id)
	}
	return s.checkTransition(ctx, res, id, "complete")
}

func (s *SQLiteStore) FailJob(ctx context.Context, id string, message string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, error = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(model.JobError), message, time.Now().UTC(), id, string(model.JobRunning),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail job %s", id)
	}
	return s.checkTransition(ctx, res, id, "fail")
}

func (s *SQLiteStore) FailStalledJobs(ctx context.Context, staleAfter time.Duration, message string) (int, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, error = ?, updated_at = ?
		 WHERE status = ? AND updated_at < ?`,
		string(model.JobError), message, now, string(model.JobRunning), now.Add(-staleAfter),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: fail stalled jobs")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) DeleteJobsBefore(ctx context.Context, cutoff time.Time) ([]model.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, dataset, status, progress, params, download_urls, error, created_at, updated_at
		 FROM jobs WHERE created_at < ? AND status IN (?, ?)`,
		cutoff, string(model.JobDone), string(model.JobError),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: select aged jobs")
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		j, err := scanJob(rows, "")
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: select aged jobs iterate")
	}

	for _, j := range jobs {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, j.ID); err != nil {
			return nil, eris.Wrapf(err, "sqlite: delete job %s", j.ID)
		}
	}
	return jobs, nil
}

// checkTransition classifies a zero-rows-affected conditional update: the job
// either does not exist (NotFound) or is not in the required source state
// (AlreadyClaimed).
func (s *SQLiteStore) checkTransition(ctx context.Context, res sql.Result, id, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n > 0 {
		return nil
	}

	var one int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM jobs WHERE id = ?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return derrors.Newf(derrors.KindNotFound, "job %s not found", id)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: check job %s", id)
	}
	return derrors.Newf(derrors.KindAlreadyClaimed, "job %s: %s lost state race", id, op)
}

type scannable interface {
	Scan(dest ...any) error
}

func scanJob(row scannable, id string) (*model.Job, error) {
	var j model.Job
	var params string
	var urlsJSON, errMsg sql.NullString

	err := row.Scan(&j.ID, &j.Dataset, &j.Status, &j.Progress, &params,
		&urlsJSON, &errMsg, &j.CreatedAt, &j.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, derrors.Newf(derrors.KindNotFound, "job %s not found", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan job")
	}

	j.Params = []byte(params)
	if urlsJSON.Valid && urlsJSON.String != "" {
		if err := json.Unmarshal([]byte(urlsJSON.String), &j.DownloadURLs); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal download urls")
		}
	}
	if errMsg.Valid {
		j.Error = errMsg.String
	}
	return &j, nil
}
