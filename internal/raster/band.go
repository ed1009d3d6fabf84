// Package raster holds the grid model shared by extractors and exporters:
// bands, the missing-data sentinel, spatial reduction, sub-daily folding, and
// the client for the external raster engine.
package raster

import (
	"math"
	"time"
)

// Sentinel is the native missing-data marker. It is excluded from every
// aggregation population and echoed in response metadata so clients can
// recognize gap days.
const Sentinel = -999.0

// Band is one raster grid at one timestamp. Values are row-major with row 0
// at the southern edge; OriginLon/OriginLat locate the center of cell (0,0).
type Band struct {
	Time          time.Time `json:"time"`
	OriginLon     float64   `json:"origin_lon"`
	OriginLat     float64   `json:"origin_lat"`
	ResolutionDeg float64   `json:"resolution_deg"`
	Width         int       `json:"width"`
	Height        int       `json:"height"`
	Values        []float64 `json:"values"`
}

// At returns the cell value at (col, row). Out-of-grid reads yield the
// sentinel.
func (b *Band) At(col, row int) float64 {
	if col < 0 || col >= b.Width || row < 0 || row >= b.Height {
		return Sentinel
	}
	return b.Values[row*b.Width+col]
}

// CellCenter returns the geographic coordinate of a cell center.
func (b *Band) CellCenter(col, row int) (lon, lat float64) {
	return b.OriginLon + float64(col)*b.ResolutionDeg,
		b.OriginLat + float64(row)*b.ResolutionDeg
}

// Sample returns the value of the cell nearest to (lon, lat), or the sentinel
// when the coordinate falls outside the grid.
func (b *Band) Sample(lon, lat float64) float64 {
	col := int(math.Round((lon - b.OriginLon) / b.ResolutionDeg))
	row := int(math.Round((lat - b.OriginLat) / b.ResolutionDeg))
	return b.At(col, row)
}

// valid reports whether the value payload matches the declared shape.
func (b *Band) valid() bool {
	return b.Width > 0 && b.Height > 0 && b.ResolutionDeg > 0 &&
		len(b.Values) == b.Width*b.Height
}
