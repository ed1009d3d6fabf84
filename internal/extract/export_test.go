package extract

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yieldera/datahub/internal/derrors"
	"github.com/yieldera/datahub/internal/export"
	"github.com/yieldera/datahub/internal/geometry"
	"github.com/yieldera/datahub/internal/model"
	"github.com/yieldera/datahub/internal/raster"
)

func TestExport_Multiband(t *testing.T) {
	day1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	day2 := day1.AddDate(0, 0, 1)
	eng := &fakeEngine{bands: []*raster.Band{gridBand(day1, 1), gridBand(day2, 2)}}
	ex := newTestExtractor(t, eng)

	outDir := t.TempDir()
	var last int
	urls, err := ex.Export(context.Background(), ExportRequest{
		Dataset:  "chirps",
		Geometry: harareDescriptor(),
		Start:    "2024-01-01",
		End:      "2024-01-02",
		Mode:     ModeMultiband,
	}, &export.FilePackager{}, outDir, "job-1", func(p int) { last = p })
	require.NoError(t, err)

	path := urls["geotiff"]
	require.NotEmpty(t, path)
	assert.Equal(t, filepath.Join(outDir, "job-1.tif"), path)
	_, err = os.Stat(path)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, last, 95)
}

func TestExport_ZipMode(t *testing.T) {
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	eng := &fakeEngine{bands: []*raster.Band{gridBand(day, 1)}}
	ex := newTestExtractor(t, eng)

	urls, err := ex.Export(context.Background(), ExportRequest{
		Dataset:  "chirps",
		Geometry: harareDescriptor(),
		Start:    "2024-01-01",
		End:      "2024-01-01",
		Mode:     ModeZip,
	}, &export.FilePackager{}, t.TempDir(), "job-z", nil)
	require.NoError(t, err)

	_, err = os.Stat(urls["zip"])
	require.NoError(t, err)
}

func TestExport_ZipDayLimit(t *testing.T) {
	eng := &fakeEngine{}
	ex := newTestExtractor(t, eng)

	_, err := ex.Export(context.Background(), ExportRequest{
		Dataset:  "chirps",
		Geometry: harareDescriptor(),
		Start:    "2024-01-01",
		End:      "2024-03-01", // 61 days
		Mode:     ModeZip,
	}, &export.FilePackager{}, t.TempDir(), "job", nil)
	require.Error(t, err)
	assert.Equal(t, derrors.KindValidation, derrors.KindOf(err))
	assert.Equal(t, int32(0), eng.calls.Load())
}

func TestExport_UnknownMode(t *testing.T) {
	ex := newTestExtractor(t, &fakeEngine{})

	_, err := ex.Export(context.Background(), ExportRequest{
		Dataset:  "chirps",
		Geometry: harareDescriptor(),
		Start:    "2024-01-01",
		End:      "2024-01-01",
		Mode:     "tar",
	}, &export.FilePackager{}, t.TempDir(), "job", nil)
	require.Error(t, err)
	assert.Equal(t, derrors.KindValidation, derrors.KindOf(err))
}

func TestExport_NoBands(t *testing.T) {
	eng := &fakeEngine{} // engine returns nothing
	ex := newTestExtractor(t, eng)

	_, err := ex.Export(context.Background(), ExportRequest{
		Dataset:  "chirps",
		Geometry: harareDescriptor(),
		Start:    "2024-01-01",
		End:      "2024-01-02",
	}, &export.FilePackager{}, t.TempDir(), "job", nil)
	require.Error(t, err)
	assert.Equal(t, derrors.KindUpstream, derrors.KindOf(err))
}

func TestDailyBands_SubDailyFoldAndConvert(t *testing.T) {
	cat, err := LoadCatalog()
	require.NoError(t, err)
	era5, err := cat.Get("era5land")
	require.NoError(t, err)
	ex := newTestExtractor(t, &fakeEngine{})

	day := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	rng, err := model.NewDateRange("2024-06-01", "2024-06-02")
	require.NoError(t, err)

	raw := []*raster.Band{
		gridBand(day, 283.15),
		gridBand(day.Add(12*time.Hour), 293.15),
	}
	plan := &ExportPlan{Dataset: era5, Range: rng, Fold: raster.StatMean}
	bands, labels := ex.dailyBands(plan, raw, func(int) {})

	require.Len(t, bands, 1, "second day has no slices and is skipped")
	assert.Equal(t, []string{"2024-06-01"}, labels)
	// Cellwise mean of the two slices, converted to Celsius.
	assert.InDelta(t, 15.0, bands[0].Values[0], 1e-9)
}

func TestDailyBands_BandSelection(t *testing.T) {
	cat, err := LoadCatalog()
	require.NoError(t, err)
	era5, err := cat.Get("era5land")
	require.NoError(t, err)
	ex := newTestExtractor(t, &fakeEngine{})

	day := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	rng, err := model.NewDateRange("2024-06-01", "2024-06-01")
	require.NoError(t, err)

	raw := []*raster.Band{
		gridBand(day, 283.15),
		gridBand(day.Add(12*time.Hour), 293.15),
	}

	cases := []struct {
		fold raster.Stat
		want float64
	}{
		{raster.StatMin, 10.0},
		{raster.StatMax, 20.0},
		{raster.StatMean, 15.0},
	}
	for _, tc := range cases {
		plan := &ExportPlan{Dataset: era5, Range: rng, Fold: tc.fold}
		bands, _ := ex.dailyBands(plan, raw, func(int) {})
		require.Len(t, bands, 1)
		assert.InDelta(t, tc.want, bands[0].Values[0], 1e-9)
	}
}

func TestValidateExport_BandSelection(t *testing.T) {
	ex := newTestExtractor(t, &fakeEngine{})
	base := ExportRequest{
		Geometry: harareDescriptor(),
		Start:    "2024-06-01",
		End:      "2024-06-01",
	}

	req := base
	req.Dataset = "era5land"
	req.Band = "tmax"
	plan, err := ex.ValidateExport(req)
	require.NoError(t, err)
	assert.Equal(t, raster.StatMax, plan.Fold)

	req.Band = ""
	plan, err = ex.ValidateExport(req)
	require.NoError(t, err)
	assert.Equal(t, raster.StatMean, plan.Fold, "defaults to the daily mean")

	req.Band = "median"
	_, err = ex.ValidateExport(req)
	require.Error(t, err)
	assert.Equal(t, derrors.KindValidation, derrors.KindOf(err))

	req = base
	req.Dataset = "chirps"
	req.Band = "tmin"
	_, err = ex.ValidateExport(req)
	require.Error(t, err)
	assert.Equal(t, derrors.KindValidation, derrors.KindOf(err), "daily datasets have no sub-daily fold")
}

func TestExport_ResolutionOverride(t *testing.T) {
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	eng := &fakeEngine{bands: []*raster.Band{gridBand(day, 1)}}
	ex := newTestExtractor(t, eng)

	_, err := ex.Export(context.Background(), ExportRequest{
		Dataset:       "chirps",
		Geometry:      harareDescriptor(),
		Start:         "2024-01-01",
		End:           "2024-01-01",
		ResolutionDeg: 0.25,
	}, &export.FilePackager{}, t.TempDir(), "job-r", nil)
	require.NoError(t, err)
	assert.InDelta(t, 0.25, eng.lastReq.ResolutionDeg, 1e-9, "override reaches the engine")

	_, err = ex.Export(context.Background(), ExportRequest{
		Dataset:  "chirps",
		Geometry: harareDescriptor(),
		Start:    "2024-01-01",
		End:      "2024-01-01",
	}, &export.FilePackager{}, t.TempDir(), "job-n", nil)
	require.NoError(t, err)
	assert.InDelta(t, 0.05, eng.lastReq.ResolutionDeg, 1e-9, "native cell size when omitted")
}

func TestValidateExport_NegativeResolution(t *testing.T) {
	ex := newTestExtractor(t, &fakeEngine{})

	_, err := ex.ValidateExport(ExportRequest{
		Dataset:       "chirps",
		Geometry:      harareDescriptor(),
		Start:         "2024-01-01",
		End:           "2024-01-01",
		ResolutionDeg: -0.1,
	})
	require.Error(t, err)
	assert.Equal(t, derrors.KindValidation, derrors.KindOf(err))
}

func TestDailyBands_ClipToGeometry(t *testing.T) {
	ex := newTestExtractor(t, &fakeEngine{})

	// The quad covers 6 of the grid's 16 cell centers.
	plan, err := ex.ValidateExport(ExportRequest{
		Dataset: "chirps",
		Geometry: geometry.Descriptor{
			Type: "wkt",
			WKT:  "POLYGON((30.98 -17.86, 31.12 -17.86, 31.12 -17.78, 30.98 -17.78, 30.98 -17.86))",
		},
		Start: "2024-01-01",
		End:   "2024-01-01",
		Clip:  true,
	})
	require.NoError(t, err)
	require.True(t, plan.Clip)

	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bands, _ := ex.dailyBands(plan, []*raster.Band{gridBand(day, 2.0)}, func(int) {})
	require.Len(t, bands, 1)

	kept, masked := 0, 0
	for _, v := range bands[0].Values {
		switch v {
		case 2.0:
			kept++
		case raster.Sentinel:
			masked++
		}
	}
	assert.Equal(t, 6, kept)
	assert.Equal(t, 10, masked)
}

func TestValidateExport_ClipNeedsArealGeometry(t *testing.T) {
	ex := newTestExtractor(t, &fakeEngine{})

	_, err := ex.ValidateExport(ExportRequest{
		Dataset:  "chirps",
		Geometry: harareDescriptor(),
		Start:    "2024-01-01",
		End:      "2024-01-01",
		Clip:     true,
	})
	require.Error(t, err)
	assert.Equal(t, derrors.KindValidation, derrors.KindOf(err))
}
