package extract

import (
	"context"
	"math"

	"github.com/yieldera/datahub/internal/geometry"
	"github.com/yieldera/datahub/internal/model"
	"github.com/yieldera/datahub/internal/raster"
)

// Extractor assembles per-day timeseries and export rasters from engine
// windows. It is stateless and safe for concurrent use.
type Extractor struct {
	engine  raster.Engine
	catalog *Catalog
	limits  geometry.Limits
}

// New creates an extractor.
func New(engine raster.Engine, catalog *Catalog, limits geometry.Limits) *Extractor {
	return &Extractor{engine: engine, catalog: catalog, limits: limits}
}

// Catalog exposes the dataset catalog for listing endpoints.
func (e *Extractor) Catalog() *Catalog { return e.catalog }

// TimeseriesRequest is a validated-on-entry timeseries query.
type TimeseriesRequest struct {
	Dataset  string              `json:"dataset"`
	Geometry geometry.Descriptor `json:"geometry"`
	Start    string              `json:"start_date"`
	End      string              `json:"end_date"`
	Spatial  string              `json:"aggregation,omitempty"`
}

// Normalize validates the request and returns the pieces every downstream
// step needs. All validation failures happen here, before any engine call.
func (e *Extractor) Normalize(req TimeseriesRequest) (*Dataset, *geometry.Spec, model.DateRange, raster.Stat, error) {
	ds, err := e.catalog.Get(req.Dataset)
	if err != nil {
		return nil, nil, model.DateRange{}, "", err
	}
	spec, err := geometry.Resolve(req.Geometry, e.limits)
	if err != nil {
		return nil, nil, model.DateRange{}, "", err
	}
	rng, err := model.NewDateRange(req.Start, req.End)
	if err != nil {
		return nil, nil, model.DateRange{}, "", err
	}
	if err := rng.CheckSpan(ds.MaxSpanDays); err != nil {
		return nil, nil, model.DateRange{}, "", err
	}
	stat, err := raster.ParseStat(req.Spatial)
	if err != nil {
		return nil, nil, model.DateRange{}, "", err
	}
	return ds, spec, rng, stat, nil
}

// Timeseries runs one windowed engine query and reduces it to exactly one
// record per calendar day in the range, ascending, no gaps. Days the engine
// has no band for carry the sentinel.
func (e *Extractor) Timeseries(ctx context.Context, req TimeseriesRequest) (*model.TimeseriesResult, error) {
	ds, spec, rng, stat, err := e.Normalize(req)
	if err != nil {
		return nil, err
	}

	bands, err := e.window(ctx, ds, spec, rng, ds.ResolutionDeg)
	if err != nil {
		return nil, err
	}

	res := &model.TimeseriesResult{
		Dataset:  ds.ID,
		Variable: ds.Variable,
		Aggregation: model.AggregationSpec{
			Spatial:  string(stat),
			Temporal: "daily",
		},
		Units:     ds.Units,
		DateRange: rng,
		Meta: map[string]any{
			"collection":     ds.Collection,
			"nodata_value":   raster.Sentinel,
			"resolution_deg": ds.ResolutionDeg,
			"geometry_kind":  string(spec.Kind),
			"area_km2":       spec.AreaKm2,
			"license":        ds.License,
			"citation":       ds.Citation,
		},
	}

	if ds.SubDaily() {
		res.Data = e.assembleSubDaily(ds, spec, rng, stat, bands)
	} else {
		res.Data = e.assembleDaily(ds, spec, rng, stat, bands)
	}
	return res, nil
}

func (e *Extractor) window(ctx context.Context, ds *Dataset, spec *geometry.Spec, rng model.DateRange, resolutionDeg float64) ([]*raster.Band, error) {
	return e.engine.Window(ctx, raster.WindowRequest{
		Dataset:       ds.ID,
		Variable:      ds.Variable,
		Bounds:        spec.Bounds().Pad(resolutionDeg),
		Range:         rng,
		Granularity:   ds.Granularity,
		ResolutionDeg: resolutionDeg,
	})
}

// assembleDaily reduces one band per day.
func (e *Extractor) assembleDaily(ds *Dataset, spec *geometry.Spec, rng model.DateRange, stat raster.Stat, bands []*raster.Band) []model.DataPoint {
	byDay := make(map[string]*raster.Band, len(bands))
	for _, b := range bands {
		byDay[b.Time.UTC().Format(model.DateLayout)] = b
	}

	out := make([]model.DataPoint, 0, rng.Days())
	for _, d := range rng.Dates() {
		key := d.Format(model.DateLayout)
		v := raster.Sentinel
		if b, ok := byDay[key]; ok {
			v = ds.ConvertValue(raster.Reduce(b, spec, stat))
		}
		out = append(out, model.DataPoint{
			Date:   key,
			Values: map[string]float64{ds.ValueKey: round2(v)},
		})
	}
	return out
}

// assembleSubDaily gathers every sub-daily slice of a UTC day, converts units
// after sampling, and folds the per-slice scalars into the dataset's daily
// outputs. Partial days fold whatever slices exist; empty days yield sentinel
// outputs.
func (e *Extractor) assembleSubDaily(ds *Dataset, spec *geometry.Spec, rng model.DateRange, stat raster.Stat, bands []*raster.Band) []model.DataPoint {
	byDay := make(map[string][]*raster.Band)
	for _, b := range bands {
		key := b.Time.UTC().Format(model.DateLayout)
		byDay[key] = append(byDay[key], b)
	}

	out := make([]model.DataPoint, 0, rng.Days())
	for _, d := range rng.Dates() {
		key := d.Format(model.DateLayout)

		slices := byDay[key]
		vals := make([]float64, 0, len(slices))
		for _, s := range slices {
			var v float64
			if spec.IsPoint() {
				v = s.Sample(spec.Point())
			} else {
				v = raster.Reduce(s, spec, stat)
			}
			vals = append(vals, ds.ConvertValue(v))
		}

		values := make(map[string]float64, 3)
		if ds.FoldKeys.Min != "" {
			values[ds.FoldKeys.Min] = round2(raster.StatMin.Apply(vals))
		}
		if ds.FoldKeys.Max != "" {
			values[ds.FoldKeys.Max] = round2(raster.StatMax.Apply(vals))
		}
		if ds.FoldKeys.Avg != "" {
			values[ds.FoldKeys.Avg] = round2(raster.StatMean.Apply(vals))
		}
		out = append(out, model.DataPoint{Date: key, Values: values})
	}
	return out
}

func round2(v float64) float64 {
	if v == raster.Sentinel {
		return v
	}
	return math.Round(v*100) / 100
}
