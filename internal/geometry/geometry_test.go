package geometry

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yieldera/datahub/internal/derrors"
)

func TestResolve_Point(t *testing.T) {
	s, err := Resolve(Descriptor{Type: "point", Lon: 31.0530, Lat: -17.8249}, DefaultLimits())
	require.NoError(t, err)

	assert.Equal(t, KindPoint, s.Kind)
	assert.True(t, s.IsPoint())
	lon, lat := s.Point()
	assert.Equal(t, 31.0530, lon)
	assert.Equal(t, -17.8249, lat)
	assert.Equal(t, "POINT(31.053 -17.8249)", s.Canonical)
	assert.False(t, s.Covers(31.0530, -17.8249))
}

func TestResolve_PointOutOfRange(t *testing.T) {
	_, err := Resolve(Descriptor{Type: "point", Lon: 31, Lat: 95}, DefaultLimits())
	require.Error(t, err)
	assert.Equal(t, derrors.KindValidation, derrors.KindOf(err))
	assert.Contains(t, derrors.HintOf(err), "latitude")
}

func TestResolve_UnknownType(t *testing.T) {
	_, err := Resolve(Descriptor{Type: "circle"}, DefaultLimits())
	require.Error(t, err)
	assert.Equal(t, derrors.KindValidation, derrors.KindOf(err))
}

func TestResolve_BufferedPoint(t *testing.T) {
	s, err := Resolve(Descriptor{Type: "point", Lon: 31.0, Lat: -17.8, BufferM: 10000}, DefaultLimits())
	require.NoError(t, err)

	assert.Equal(t, KindPolygon, s.Kind)
	assert.False(t, s.IsPoint())

	// A 10 km disc is about 314 km²; the 64-gon slightly undershoots.
	assert.InDelta(t, math.Pi*100, s.AreaKm2, 2.0)

	assert.True(t, s.Covers(31.0, -17.8))
	assert.True(t, s.Covers(31.05, -17.8))   // ~5 km east
	assert.False(t, s.Covers(31.2, -17.8))   // ~21 km east
	assert.False(t, s.Covers(31.0, -17.95))  // ~17 km south
	assert.InDelta(t, 31.0, s.Centroid[0], 1e-3)
	assert.InDelta(t, -17.8, s.Centroid[1], 1e-3)
}

func TestResolve_BufferExceedsLimit(t *testing.T) {
	_, err := Resolve(Descriptor{Type: "point", Lon: 0, Lat: 0, BufferM: 200000}, DefaultLimits())
	require.Error(t, err)
	assert.Equal(t, derrors.KindValidation, derrors.KindOf(err))
}

func TestResolve_PolygonWKT(t *testing.T) {
	// Roughly 0.1 x 0.1 degrees near the equator, about 123 km².
	s, err := Resolve(Descriptor{
		Type: "wkt",
		WKT:  "POLYGON((30 -1, 30.1 -1, 30.1 -0.9, 30 -0.9, 30 -1))",
	}, DefaultLimits())
	require.NoError(t, err)

	assert.Equal(t, KindPolygon, s.Kind)
	assert.InDelta(t, 123.9, s.AreaKm2, 1.0)
	assert.True(t, s.Covers(30.05, -0.95))
	assert.False(t, s.Covers(30.2, -0.95))

	b := s.Bounds()
	assert.InDelta(t, 30.0, b.MinLon, 1e-9)
	assert.InDelta(t, 30.1, b.MaxLon, 1e-9)
}

func TestResolve_PolygonRejectsBuffer(t *testing.T) {
	_, err := Resolve(Descriptor{
		Type:    "wkt",
		WKT:     "POLYGON((0 0, 1 0, 1 1, 0 1, 0 0))",
		BufferM: 5000,
	}, DefaultLimits())
	require.Error(t, err)
	assert.Equal(t, derrors.KindValidation, derrors.KindOf(err))
}

func TestResolve_LineRequiresBuffer(t *testing.T) {
	_, err := Resolve(Descriptor{Type: "wkt", WKT: "LINESTRING(30 -1, 30.1 -1)"}, DefaultLimits())
	require.Error(t, err)
	assert.Equal(t, derrors.KindValidation, derrors.KindOf(err))
	assert.Contains(t, derrors.HintOf(err), "buffer_m")
}

func TestResolve_BufferedLine(t *testing.T) {
	// ~11 km east-west segment with a 1 km corridor on each side.
	s, err := Resolve(Descriptor{
		Type:    "wkt",
		WKT:     "LINESTRING(30 0, 30.1 0)",
		BufferM: 1000,
	}, DefaultLimits())
	require.NoError(t, err)

	assert.Equal(t, KindBufferedLine, s.Kind)

	// length*2r + pi*r^2 = 11.132*2 + 3.14 km², caps undershoot slightly.
	assert.InDelta(t, 25.4, s.AreaKm2, 0.6)

	assert.True(t, s.Covers(30.05, 0))       // on the line
	assert.True(t, s.Covers(30.05, 0.005))   // ~550 m off axis
	assert.False(t, s.Covers(30.05, 0.02))   // ~2.2 km off axis
	assert.True(t, s.Covers(30.105, 0))      // inside the end cap
	assert.False(t, s.Covers(30.12, 0))      // past the end cap
}

func TestResolve_MalformedWKT(t *testing.T) {
	_, err := Resolve(Descriptor{Type: "wkt", WKT: "POLYGON((oops))"}, DefaultLimits())
	require.Error(t, err)
	assert.Equal(t, derrors.KindValidation, derrors.KindOf(err))
}

func TestResolve_AreaLimit(t *testing.T) {
	// 10 x 10 degrees is vastly over the 50k km² ceiling.
	_, err := Resolve(Descriptor{
		Type: "wkt",
		WKT:  "POLYGON((0 0, 10 0, 10 10, 0 10, 0 0))",
	}, DefaultLimits())
	require.Error(t, err)
	assert.Equal(t, derrors.KindValidation, derrors.KindOf(err))
	assert.Contains(t, derrors.HintOf(err), "split")
}

func TestCanonical_RotationInvariant(t *testing.T) {
	a, err := Resolve(Descriptor{
		Type: "wkt",
		WKT:  "POLYGON((30 -1, 30.1 -1, 30.1 -0.9, 30 -0.9, 30 -1))",
	}, DefaultLimits())
	require.NoError(t, err)

	// Same ring, different starting vertex and reversed winding.
	b, err := Resolve(Descriptor{
		Type: "wkt",
		WKT:  "POLYGON((30.1 -0.9, 30.1 -1, 30 -1, 30 -0.9, 30.1 -0.9))",
	}, DefaultLimits())
	require.NoError(t, err)

	assert.Equal(t, a.Canonical, b.Canonical)
}

func TestCanonical_RoundsCoordinates(t *testing.T) {
	a, err := Resolve(Descriptor{Type: "point", Lon: 31.05300000004, Lat: -17.8249}, DefaultLimits())
	require.NoError(t, err)
	b, err := Resolve(Descriptor{Type: "point", Lon: 31.053, Lat: -17.8249}, DefaultLimits())
	require.NoError(t, err)

	assert.Equal(t, b.Canonical, a.Canonical)
}

func TestCanonical_MultiPolygonSorted(t *testing.T) {
	a, err := Resolve(Descriptor{
		Type: "wkt",
		WKT:  "MULTIPOLYGON(((0 0, 0.1 0, 0.1 0.1, 0 0.1, 0 0)),((1 1, 1.1 1, 1.1 1.1, 1 1.1, 1 1)))",
	}, DefaultLimits())
	require.NoError(t, err)

	b, err := Resolve(Descriptor{
		Type: "wkt",
		WKT:  "MULTIPOLYGON(((1 1, 1.1 1, 1.1 1.1, 1 1.1, 1 1)),((0 0, 0.1 0, 0.1 0.1, 0 0.1, 0 0)))",
	}, DefaultLimits())
	require.NoError(t, err)

	assert.Equal(t, a.Canonical, b.Canonical)
}
