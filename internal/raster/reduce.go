package raster

import (
	"time"

	"github.com/yieldera/datahub/internal/geometry"
)

// Reduce aggregates one band over a geometry. Point geometries sample the
// nearest cell directly; the stat is irrelevant for a one-cell population.
// Areal geometries aggregate the cells whose centers fall inside the
// coverage, excluding sentinel cells; when every covered cell is missing the
// result is the sentinel itself, never a number derived from sentinels.
func Reduce(b *Band, spec *geometry.Spec, stat Stat) float64 {
	if spec.IsPoint() {
		return b.Sample(spec.Point())
	}

	bounds := spec.Bounds()
	minCol := int((bounds.MinLon - b.OriginLon) / b.ResolutionDeg)
	maxCol := int((bounds.MaxLon-b.OriginLon)/b.ResolutionDeg) + 1
	minRow := int((bounds.MinLat - b.OriginLat) / b.ResolutionDeg)
	maxRow := int((bounds.MaxLat-b.OriginLat)/b.ResolutionDeg) + 1
	minCol, maxCol = clamp(minCol, b.Width), clamp(maxCol, b.Width)
	minRow, maxRow = clamp(minRow, b.Height), clamp(maxRow, b.Height)

	var pop []float64
	for row := minRow; row <= maxRow; row++ {
		for col := minCol; col <= maxCol; col++ {
			v := b.At(col, row)
			if v == Sentinel {
				continue
			}
			if lon, lat := b.CellCenter(col, row); spec.Covers(lon, lat) {
				pop = append(pop, v)
			}
		}
	}
	return stat.Apply(pop)
}

// FoldDaily folds a day's sub-daily bands into one band cellwise, excluding
// sentinel samples per cell. Cells with no valid sample in any slice stay
// sentinel. All slices must share the first band's grid shape; mismatched
// slices are skipped.
func FoldDaily(bands []*Band, stat Stat) *Band {
	if len(bands) == 0 {
		return nil
	}
	first := bands[0]
	out := &Band{
		Time:          first.Time.Truncate(24 * time.Hour),
		OriginLon:     first.OriginLon,
		OriginLat:     first.OriginLat,
		ResolutionDeg: first.ResolutionDeg,
		Width:         first.Width,
		Height:        first.Height,
		Values:        make([]float64, len(first.Values)),
	}

	samples := make([]float64, 0, len(bands))
	for i := range out.Values {
		samples = samples[:0]
		for _, b := range bands {
			if b.Width != first.Width || b.Height != first.Height {
				continue
			}
			samples = append(samples, b.Values[i])
		}
		out.Values[i] = stat.Apply(samples)
	}
	return out
}

func clamp(v, n int) int {
	if v < 0 {
		return 0
	}
	if v >= n {
		return n - 1
	}
	return v
}
