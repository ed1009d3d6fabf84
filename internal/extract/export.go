package extract

import (
	"context"
	"path/filepath"

	"github.com/yieldera/datahub/internal/derrors"
	"github.com/yieldera/datahub/internal/export"
	"github.com/yieldera/datahub/internal/geometry"
	"github.com/yieldera/datahub/internal/model"
	"github.com/yieldera/datahub/internal/raster"
)

// Export modes.
const (
	ModeMultiband = "multiband"
	ModeZip       = "zip"
)

const (
	maxExportDays = 366
	maxZipFiles   = 31
)

// ExportRequest asks for a raster artifact instead of a reduced timeseries.
// ResolutionDeg overrides the dataset's native cell size when set. Clip masks
// cells outside the geometry to the sentinel. Band picks the daily fold of a
// sub-daily dataset (tmin, tmax or tavg; tavg when empty).
type ExportRequest struct {
	Dataset       string              `json:"dataset"`
	Geometry      geometry.Descriptor `json:"geometry"`
	Start         string              `json:"start_date"`
	End           string              `json:"end_date"`
	Mode          string              `json:"export_mode,omitempty"`
	ResolutionDeg float64             `json:"resolution_deg,omitempty"`
	Clip          bool                `json:"clip_to_geometry,omitempty"`
	Band          string              `json:"band_selection,omitempty"`
}

// ExportPlan is a fully validated export request with every default applied.
type ExportPlan struct {
	Dataset       *Dataset
	Spec          *geometry.Spec
	Range         model.DateRange
	Mode          string
	Fold          raster.Stat
	ResolutionDeg float64
	Clip          bool
}

// ValidateExport runs every validation an export request can fail on without
// touching the engine. Submitters call it before queueing a job so malformed
// requests are rejected synchronously.
func (e *Extractor) ValidateExport(req ExportRequest) (*ExportPlan, error) {
	mode := req.Mode
	if mode == "" {
		mode = ModeMultiband
	}
	if mode != ModeMultiband && mode != ModeZip {
		return nil, derrors.Validationf(`use "multiband" or "zip"`, "unknown export mode %q", mode)
	}

	ds, spec, rng, _, err := e.Normalize(TimeseriesRequest{
		Dataset:  req.Dataset,
		Geometry: req.Geometry,
		Start:    req.Start,
		End:      req.End,
	})
	if err != nil {
		return nil, err
	}

	fold := raster.StatMean
	switch req.Band {
	case "":
	case "tmin":
		fold = raster.StatMin
	case "tmax":
		fold = raster.StatMax
	case "tavg":
		fold = raster.StatMean
	default:
		return nil, derrors.Validationf(`use "tmin", "tmax" or "tavg"`,
			"unknown band selection %q", req.Band)
	}
	if req.Band != "" && !ds.SubDaily() {
		return nil, derrors.Validationf(
			"omit band_selection for daily datasets",
			"band selection applies to sub-daily datasets, %s is daily", ds.ID)
	}

	resolution := req.ResolutionDeg
	if resolution == 0 {
		resolution = ds.ResolutionDeg
	}
	if resolution < 0 {
		return nil, derrors.Validation("resolution_deg must be positive",
			"omit resolution_deg to use the dataset's native cell size")
	}

	if req.Clip && spec.IsPoint() {
		return nil, derrors.Validation(
			"clip_to_geometry requires an areal geometry",
			"use a polygon or a buffered geometry, or omit clip_to_geometry")
	}

	if err := rng.CheckSpan(maxExportDays); err != nil {
		return nil, err
	}
	if mode == ModeZip && rng.Days() > maxZipFiles {
		return nil, derrors.Validationf(
			"use multiband mode or shorten the range",
			"zip mode is limited to %d days, requested %d", maxZipFiles, rng.Days(),
		)
	}

	return &ExportPlan{
		Dataset:       ds,
		Spec:          spec,
		Range:         rng,
		Mode:          mode,
		Fold:          fold,
		ResolutionDeg: resolution,
		Clip:          req.Clip,
	}, nil
}

// Export fetches the window, folds sub-daily slices to daily bands, converts
// units cellwise, optionally clips to the geometry, and packages date-labelled
// bands ascending. progress is reported in percent as bands are prepared and
// packaged.
func (e *Extractor) Export(ctx context.Context, req ExportRequest, pkg export.Packager, outDir, name string, progress func(int)) (map[string]string, error) {
	if progress == nil {
		progress = func(int) {}
	}

	plan, err := e.ValidateExport(req)
	if err != nil {
		return nil, err
	}
	progress(5)

	raw, err := e.window(ctx, plan.Dataset, plan.Spec, plan.Range, plan.ResolutionDeg)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, derrors.Newf(derrors.KindUpstream,
			"engine returned no bands for %s %s..%s",
			plan.Dataset.ID, req.Start, req.End)
	}
	progress(30)

	bands, labels := e.dailyBands(plan, raw, progress)
	if len(bands) == 0 {
		return nil, derrors.Newf(derrors.KindUpstream,
			"no usable daily bands for %s %s..%s", plan.Dataset.ID, req.Start, req.End)
	}

	urls := make(map[string]string, 1)
	switch plan.Mode {
	case ModeMultiband:
		path := filepath.Join(outDir, name+".tif")
		if err := pkg.PackMultiband(path, bands, labels); err != nil {
			return nil, err
		}
		urls["geotiff"] = path
	case ModeZip:
		path := filepath.Join(outDir, name+".zip")
		if err := pkg.PackZip(path, bands, labels); err != nil {
			return nil, err
		}
		urls["zip"] = path
	}
	progress(95)
	return urls, nil
}

// dailyBands produces one converted band per available day, ascending. Days
// without upstream data are skipped rather than padded with sentinel grids.
func (e *Extractor) dailyBands(plan *ExportPlan, raw []*raster.Band, progress func(int)) ([]*raster.Band, []string) {
	ds := plan.Dataset

	byDay := make(map[string][]*raster.Band)
	for _, b := range raw {
		key := b.Time.UTC().Format(model.DateLayout)
		byDay[key] = append(byDay[key], b)
	}

	days := plan.Range.Dates()
	bands := make([]*raster.Band, 0, len(days))
	labels := make([]string, 0, len(days))
	for i, d := range days {
		key := d.Format(model.DateLayout)
		slices := byDay[key]
		if len(slices) == 0 {
			continue
		}

		var day *raster.Band
		if ds.SubDaily() {
			day = raster.FoldDaily(slices, plan.Fold)
		} else {
			day = slices[0]
		}
		day = convertBand(ds, day)
		if plan.Clip {
			day = clipBand(plan.Spec, day)
		}
		bands = append(bands, day)
		labels = append(labels, key)

		// 30..80 while bands are prepared.
		progress(30 + 50*(i+1)/len(days))
	}
	return bands, labels
}

// convertBand applies the dataset unit conversion cellwise on a copy.
func convertBand(ds *Dataset, b *raster.Band) *raster.Band {
	if ds.Convert == "" {
		return b
	}
	out := *b
	out.Values = make([]float64, len(b.Values))
	for i, v := range b.Values {
		out.Values[i] = ds.ConvertValue(v)
	}
	return &out
}

// clipBand masks cells whose centers fall outside the geometry to the
// sentinel, on a copy.
func clipBand(spec *geometry.Spec, b *raster.Band) *raster.Band {
	out := *b
	out.Values = make([]float64, len(b.Values))
	for row := 0; row < b.Height; row++ {
		for col := 0; col < b.Width; col++ {
			i := row*b.Width + col
			lon, lat := b.CellCenter(col, row)
			if spec.Covers(lon, lat) {
				out.Values[i] = b.Values[i]
			} else {
				out.Values[i] = raster.Sentinel
			}
		}
	}
	return &out
}
