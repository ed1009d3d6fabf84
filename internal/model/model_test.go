package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yieldera/datahub/internal/derrors"
)

func TestNewDateRange_Valid(t *testing.T) {
	r, err := NewDateRange("2024-01-01", "2024-01-02")
	require.NoError(t, err)
	assert.Equal(t, 2, r.Days())

	dates := r.Dates()
	require.Len(t, dates, 2)
	assert.Equal(t, "2024-01-01", dates[0].Format(DateLayout))
	assert.Equal(t, "2024-01-02", dates[1].Format(DateLayout))
}

func TestNewDateRange_SingleDay(t *testing.T) {
	r, err := NewDateRange("2024-06-15", "2024-06-15")
	require.NoError(t, err)
	assert.Equal(t, 1, r.Days())
}

func TestNewDateRange_BadFormat(t *testing.T) {
	_, err := NewDateRange("01/01/2024", "2024-01-02")
	require.Error(t, err)
	assert.Equal(t, derrors.KindValidation, derrors.KindOf(err))
	assert.Equal(t, "use YYYY-MM-DD", derrors.HintOf(err))
}

func TestNewDateRange_StartAfterEnd(t *testing.T) {
	_, err := NewDateRange("2024-02-01", "2024-01-01")
	require.Error(t, err)
	assert.Equal(t, derrors.KindValidation, derrors.KindOf(err))
}

func TestNewDateRange_CapsFutureEnd(t *testing.T) {
	start := time.Now().UTC().AddDate(0, 0, -5).Format(DateLayout)
	future := time.Now().UTC().AddDate(0, 0, 30).Format(DateLayout)

	r, err := NewDateRange(start, future)
	require.NoError(t, err)

	yesterday := time.Now().UTC().AddDate(0, 0, -1).Truncate(24 * time.Hour)
	assert.Equal(t, yesterday.Format(DateLayout), r.End.Format(DateLayout))
}

func TestCheckSpan(t *testing.T) {
	r, err := NewDateRange("2024-01-01", "2024-03-01")
	require.NoError(t, err)

	assert.NoError(t, r.CheckSpan(366))
	err = r.CheckSpan(30)
	require.Error(t, err)
	assert.Equal(t, derrors.KindValidation, derrors.KindOf(err))
}

func TestJobStatus_Terminal(t *testing.T) {
	assert.False(t, JobQueued.Terminal())
	assert.False(t, JobRunning.Terminal())
	assert.True(t, JobDone.Terminal())
	assert.True(t, JobError.Terminal())
}
