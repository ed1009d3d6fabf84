// Package model holds the shared value types of the datahub core: date
// ranges, aggregation specs, timeseries results, cache entries and jobs.
package model

import (
	"time"

	"github.com/yieldera/datahub/internal/derrors"
)

// DateLayout is the wire format for calendar dates.
const DateLayout = "2006-01-02"

// DateRange is an inclusive range of UTC calendar dates.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewDateRange parses and validates an inclusive date range. End dates in the
// future are capped to yesterday to account for upstream publication lag.
func NewDateRange(start, end string) (DateRange, error) {
	s, err := time.ParseInLocation(DateLayout, start, time.UTC)
	if err != nil {
		return DateRange{}, derrors.Validationf("use YYYY-MM-DD", "invalid start date %q", start)
	}
	e, err := time.ParseInLocation(DateLayout, end, time.UTC)
	if err != nil {
		return DateRange{}, derrors.Validationf("use YYYY-MM-DD", "invalid end date %q", end)
	}

	yesterday := time.Now().UTC().AddDate(0, 0, -1).Truncate(24 * time.Hour)
	if e.After(yesterday) {
		e = yesterday
	}

	if s.After(e) {
		return DateRange{}, derrors.Validation(
			"start date is after end date",
			"start must be before or equal to end (note: future end dates are capped to yesterday)",
		)
	}
	return DateRange{Start: s, End: e}, nil
}

// Days returns the number of calendar days in the inclusive range.
func (r DateRange) Days() int {
	return int(r.End.Sub(r.Start).Hours()/24) + 1
}

// Dates returns every calendar day in the range in ascending order.
func (r DateRange) Dates() []time.Time {
	out := make([]time.Time, 0, r.Days())
	for d := r.Start; !d.After(r.End); d = d.AddDate(0, 0, 1) {
		out = append(out, d)
	}
	return out
}

// CheckSpan fails when the range exceeds maxDays.
func (r DateRange) CheckSpan(maxDays int) error {
	if days := r.Days(); days > maxDays {
		return derrors.Validationf(
			"shorten the date range",
			"date range spans %d days, maximum is %d", days, maxDays,
		)
	}
	return nil
}

// AggregationSpec names the spatial and temporal statistics of a request.
// Pure value, no lifecycle.
type AggregationSpec struct {
	Spatial  string `json:"spatial"`
	Temporal string `json:"temporal"`
}

// DataPoint is one calendar day of a timeseries. Values maps variable names
// (e.g. precip_mm, tmin_c) to readings; the missing-data sentinel -999 marks
// days without a valid observation.
type DataPoint struct {
	Date   string             `json:"date"`
	Values map[string]float64 `json:"values"`
}

// TimeseriesResult is the assembled output of a timeseries extraction:
// exactly one record per calendar day in the range, ascending, no gaps.
// Immutable once produced; shared read-only between cache and serializer.
type TimeseriesResult struct {
	Dataset     string            `json:"dataset"`
	Variable    string            `json:"variable"`
	Aggregation AggregationSpec   `json:"aggregation"`
	Units       map[string]string `json:"units"`
	DateRange   DateRange         `json:"date_range"`
	Data        []DataPoint       `json:"data"`
	Meta        map[string]any    `json:"meta"`
}

// CacheEntry is a stored request result keyed by fingerprint.
type CacheEntry struct {
	Fingerprint string    `json:"fingerprint"`
	Payload     []byte    `json:"payload"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// JobStatus is the lifecycle state of an export job.
type JobStatus string

const (
	JobQueued  JobStatus = "queued"
	JobRunning JobStatus = "running"
	JobDone    JobStatus = "done"
	JobError   JobStatus = "error"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobDone || s == JobError
}

// Job is a persisted export job record. UpdatedAt doubles as the executor's
// liveness heartbeat while the job is running.
type Job struct {
	ID           string            `json:"job_id"`
	Dataset      string            `json:"dataset"`
	Status       JobStatus         `json:"status"`
	Progress     int               `json:"progress"`
	Params       []byte            `json:"-"`
	DownloadURLs map[string]string `json:"download_urls,omitempty"`
	Error        string            `json:"error,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}
