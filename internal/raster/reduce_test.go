package raster

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yieldera/datahub/internal/geometry"
)

// newTestBand builds a 4x4 band with cell centers at lon 30.0..30.3 and
// lat 0.0..0.3, all cells zero.
func newTestBand(t *testing.T) *Band {
	t.Helper()
	return &Band{
		Time:          time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		OriginLon:     30.0,
		OriginLat:     0.0,
		ResolutionDeg: 0.1,
		Width:         4,
		Height:        4,
		Values:        make([]float64, 16),
	}
}

func (b *Band) set(col, row int, v float64) {
	b.Values[row*b.Width+col] = v
}

func resolveWKT(t *testing.T, wkt string) *geometry.Spec {
	t.Helper()
	s, err := geometry.Resolve(geometry.Descriptor{Type: "wkt", WKT: wkt}, geometry.DefaultLimits())
	require.NoError(t, err)
	return s
}

func TestBand_Sample(t *testing.T) {
	b := newTestBand(t)
	b.set(1, 2, 7.5)

	assert.Equal(t, 7.5, b.Sample(30.1, 0.2))
	assert.Equal(t, 7.5, b.Sample(30.12, 0.21)) // nearest cell
	assert.Equal(t, Sentinel, b.Sample(31.0, 0.2))
}

func TestStat_Apply(t *testing.T) {
	pop := []float64{3, 1, Sentinel, 2}

	assert.Equal(t, 2.0, StatMean.Apply(pop))
	assert.Equal(t, 2.0, StatMedian.Apply(pop))
	assert.Equal(t, 6.0, StatSum.Apply(pop))
	assert.Equal(t, 1.0, StatMin.Apply(pop))
	assert.Equal(t, 3.0, StatMax.Apply(pop))
}

func TestStat_Apply_MedianEven(t *testing.T) {
	assert.Equal(t, 2.5, StatMedian.Apply([]float64{4, 1, 2, 3}))
}

func TestStat_Apply_AllMissing(t *testing.T) {
	assert.Equal(t, Sentinel, StatMean.Apply([]float64{Sentinel, Sentinel}))
	assert.Equal(t, Sentinel, StatSum.Apply(nil))
}

func TestParseStat(t *testing.T) {
	s, err := ParseStat("median")
	require.NoError(t, err)
	assert.Equal(t, StatMedian, s)

	s, err = ParseStat("")
	require.NoError(t, err)
	assert.Equal(t, StatMean, s)

	_, err = ParseStat("mode")
	require.Error(t, err)
}

func TestReduce_Point(t *testing.T) {
	b := newTestBand(t)
	b.set(1, 1, 12.5)

	spec, err := geometry.Resolve(geometry.Descriptor{Type: "point", Lon: 30.1, Lat: 0.1}, geometry.DefaultLimits())
	require.NoError(t, err)

	// Point sampling ignores the stat.
	assert.Equal(t, 12.5, Reduce(b, spec, StatMean))
	assert.Equal(t, 12.5, Reduce(b, spec, StatSum))
}

func TestReduce_Areal(t *testing.T) {
	b := newTestBand(t)
	// The quad covers cell centers (0,0), (1,0), (0,1), (1,1).
	spec := resolveWKT(t, "POLYGON((29.95 -0.05, 30.15 -0.05, 30.15 0.15, 29.95 0.15, 29.95 -0.05))")

	b.set(0, 0, 1)
	b.set(1, 0, 2)
	b.set(0, 1, 3)
	b.set(1, 1, Sentinel)
	b.set(3, 3, 100) // outside the polygon, must not contribute

	assert.Equal(t, 2.0, Reduce(b, spec, StatMean))
	assert.Equal(t, 6.0, Reduce(b, spec, StatSum))
	assert.Equal(t, 1.0, Reduce(b, spec, StatMin))
	assert.Equal(t, 3.0, Reduce(b, spec, StatMax))
}

func TestReduce_AllCoveredMissing(t *testing.T) {
	b := newTestBand(t)
	spec := resolveWKT(t, "POLYGON((29.95 -0.05, 30.15 -0.05, 30.15 0.15, 29.95 0.15, 29.95 -0.05))")

	for row := 0; row < 2; row++ {
		for col := 0; col < 2; col++ {
			b.set(col, row, Sentinel)
		}
	}
	b.set(3, 3, 42) // valid but uncovered

	assert.Equal(t, Sentinel, Reduce(b, spec, StatMean))
}

func TestFoldDaily(t *testing.T) {
	mk := func(hour int, values ...float64) *Band {
		return &Band{
			Time:          time.Date(2024, 1, 1, hour, 0, 0, 0, time.UTC),
			OriginLon:     30.0,
			OriginLat:     0.0,
			ResolutionDeg: 0.1,
			Width:         2,
			Height:        1,
			Values:        values,
		}
	}

	bands := []*Band{
		mk(0, 10, Sentinel),
		mk(6, 20, Sentinel),
		mk(12, 30, Sentinel),
	}

	avg := FoldDaily(bands, StatMean)
	require.NotNil(t, avg)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), avg.Time)
	assert.Equal(t, []float64{20, Sentinel}, avg.Values)

	low := FoldDaily(bands, StatMin)
	assert.Equal(t, []float64{10, Sentinel}, low.Values)

	assert.Nil(t, FoldDaily(nil, StatMean))
}
