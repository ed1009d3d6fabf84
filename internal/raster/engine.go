package raster

import (
	"context"

	"github.com/yieldera/datahub/internal/geometry"
	"github.com/yieldera/datahub/internal/model"
)

// Granularity is the native temporal step of a dataset.
type Granularity string

const (
	GranularityDaily   Granularity = "daily"
	GranularityHourly  Granularity = "hourly"
	Granularity3Hourly Granularity = "3hourly"
)

// SamplesPerDay returns the nominal slice count per UTC day.
func (g Granularity) SamplesPerDay() int {
	switch g {
	case GranularityHourly:
		return 24
	case Granularity3Hourly:
		return 8
	default:
		return 1
	}
}

// WindowRequest asks the engine for every band of a dataset variable that
// intersects a bounding box over an inclusive date range.
type WindowRequest struct {
	Dataset       string
	Variable      string
	Bounds        geometry.Bounds
	Range         model.DateRange
	Granularity   Granularity
	ResolutionDeg float64
}

// Engine is the contract with the external raster engine. Implementations
// return bands in ascending time order; days the upstream has not published
// are simply absent from the slice.
type Engine interface {
	Window(ctx context.Context, req WindowRequest) ([]*Band, error)
}
