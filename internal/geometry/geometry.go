// Package geometry resolves user-supplied geometry descriptors into the
// canonical shape used by extractors, reducers and cache fingerprints.
//
// A resolved Spec is one of three variants: a bare point, an areal polygon
// (including buffered points), or a buffered line. Buffers are planar:
// geometries are projected into a local tangent plane centred on the shape,
// buffered in metres, and reprojected back to geographic coordinates.
// Buffering in raw degrees is not distance-accurate and is never done here.
package geometry

import (
	"math"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkt"
	"github.com/twpayne/go-geom/xy"

	"github.com/yieldera/datahub/internal/derrors"
)

// Kind discriminates the geometry variants.
type Kind string

const (
	KindPoint        Kind = "point"
	KindPolygon      Kind = "polygon"
	KindBufferedLine Kind = "buffered_line"
)

// Descriptor is the raw geometry portion of a request payload.
type Descriptor struct {
	Type    string  `json:"type"` // "point" or "wkt"
	Lat     float64 `json:"lat,omitempty"`
	Lon     float64 `json:"lon,omitempty"`
	WKT     string  `json:"wkt,omitempty"`
	BufferM float64 `json:"buffer_m,omitempty"`
}

// Limits bounds what Resolve will accept.
type Limits struct {
	MaxAreaKm2 float64
	MaxBufferM float64
}

// DefaultLimits matches the service defaults.
func DefaultLimits() Limits {
	return Limits{MaxAreaKm2: 50000, MaxBufferM: 100000}
}

// Bounds is a geographic bounding box.
type Bounds struct {
	MinLon, MinLat, MaxLon, MaxLat float64
}

// Pad returns the bounds expanded by deg on every side.
func (b Bounds) Pad(deg float64) Bounds {
	return Bounds{b.MinLon - deg, b.MinLat - deg, b.MaxLon + deg, b.MaxLat + deg}
}

// Spec is a resolved, immutable geometry.
type Spec struct {
	Kind      Kind
	AreaKm2   float64
	Centroid  geom.Coord // lon, lat
	Canonical string     // canonical WKT, input to cache fingerprints

	point    geom.Coord
	polygons []*geom.Polygon // areal coverage in geographic coords
}

// IsPoint reports whether the spec degenerates to a single sample location.
func (s *Spec) IsPoint() bool { return s.Kind == KindPoint }

// Point returns the sample location for point specs.
func (s *Spec) Point() (lon, lat float64) { return s.point[0], s.point[1] }

// Covers reports whether a geographic coordinate falls inside the areal
// coverage of the spec. Always false for bare points.
func (s *Spec) Covers(lon, lat float64) bool {
	c := geom.Coord{lon, lat}
	for _, p := range s.polygons {
		if !xy.IsPointInRing(geom.XY, c, p.LinearRing(0).FlatCoords()) {
			continue
		}
		inHole := false
		for i := 1; i < p.NumLinearRings(); i++ {
			if xy.IsPointInRing(geom.XY, c, p.LinearRing(i).FlatCoords()) {
				inHole = true
				break
			}
		}
		if !inHole {
			return true
		}
	}
	return false
}

// Bounds returns the geographic bounding box of the spec.
func (s *Spec) Bounds() Bounds {
	if s.Kind == KindPoint {
		return Bounds{s.point[0], s.point[1], s.point[0], s.point[1]}
	}
	b := Bounds{MinLon: 180, MinLat: 90, MaxLon: -180, MaxLat: -90}
	for _, p := range s.polygons {
		fc := p.FlatCoords()
		for i := 0; i < len(fc); i += 2 {
			b.MinLon = math.Min(b.MinLon, fc[i])
			b.MaxLon = math.Max(b.MaxLon, fc[i])
			b.MinLat = math.Min(b.MinLat, fc[i+1])
			b.MaxLat = math.Max(b.MaxLat, fc[i+1])
		}
	}
	return b
}

// Resolve parses and validates a descriptor into a Spec. It is pure and
// deterministic; all failures are validation errors with corrective hints,
// reported before any upstream call is made.
func Resolve(d Descriptor, limits Limits) (*Spec, error) {
	if d.BufferM < 0 {
		return nil, derrors.Validation("buffer_m must not be negative", "omit buffer_m or use a positive distance in meters")
	}
	if limits.MaxBufferM > 0 && d.BufferM > limits.MaxBufferM {
		return nil, derrors.Validationf("reduce buffer_m", "buffer %.0f m exceeds maximum %.0f m", d.BufferM, limits.MaxBufferM)
	}

	switch d.Type {
	case "point":
		return resolvePoint(d.Lon, d.Lat, d.BufferM, limits)
	case "wkt":
		return resolveWKT(d.WKT, d.BufferM, limits)
	default:
		return nil, derrors.Validationf(`use "point" or "wkt"`, "unsupported geometry type %q", d.Type)
	}
}

func resolvePoint(lon, lat, bufferM float64, limits Limits) (*Spec, error) {
	if err := checkCoord(lon, lat); err != nil {
		return nil, err
	}

	if bufferM == 0 {
		s := &Spec{
			Kind:     KindPoint,
			Centroid: geom.Coord{lon, lat},
			point:    geom.Coord{lon, lat},
		}
		s.Canonical = canonicalPoint(lon, lat)
		return s, nil
	}

	pl := newPlane(lon, lat)
	poly := circlePolygon(pl, lon, lat, bufferM)
	return newArealSpec(KindPolygon, []*geom.Polygon{poly}, limits)
}

func resolveWKT(raw string, bufferM float64, limits Limits) (*Spec, error) {
	if raw == "" {
		return nil, derrors.Validation("wkt string is required", "provide a WKT POINT, LINESTRING or POLYGON")
	}
	g, err := wkt.Unmarshal(raw)
	if err != nil {
		return nil, derrors.Validationf("check the WKT syntax", "malformed WKT: %v", err)
	}
	if err := checkAllCoords(g); err != nil {
		return nil, err
	}

	switch t := g.(type) {
	case *geom.Point:
		return resolvePoint(t.X(), t.Y(), bufferM, limits)

	case *geom.Polygon:
		if bufferM > 0 {
			return nil, derrors.Validation(
				"buffer is not meaningful for polygon geometries",
				"omit buffer_m for polygons; buffers apply to points and lines only",
			)
		}
		return newArealSpec(KindPolygon, []*geom.Polygon{t}, limits)

	case *geom.MultiPolygon:
		if bufferM > 0 {
			return nil, derrors.Validation(
				"buffer is not meaningful for polygon geometries",
				"omit buffer_m for polygons; buffers apply to points and lines only",
			)
		}
		polys := make([]*geom.Polygon, t.NumPolygons())
		for i := range polys {
			polys[i] = t.Polygon(i)
		}
		return newArealSpec(KindPolygon, polys, limits)

	case *geom.LineString:
		if bufferM == 0 {
			return nil, derrors.Validation(
				"line geometries require a buffer",
				"set buffer_m to the corridor half-width in meters",
			)
		}
		c := lineMidpoint(t)
		pl := newPlane(c[0], c[1])
		poly, err := bufferLine(pl, t, bufferM)
		if err != nil {
			return nil, err
		}
		return newArealSpec(KindBufferedLine, []*geom.Polygon{poly}, limits)

	default:
		return nil, derrors.Validationf(
			"use POINT, LINESTRING, POLYGON or MULTIPOLYGON",
			"unsupported WKT geometry %T", g,
		)
	}
}

// newArealSpec finalizes an areal spec: area, centroid, canonical form and
// the configured area limit.
func newArealSpec(kind Kind, polys []*geom.Polygon, limits Limits) (*Spec, error) {
	area := 0.0
	var cx, cy, cw float64
	for _, p := range polys {
		a, cen := planarAreaCentroid(p)
		area += a
		cx += cen[0] * a
		cy += cen[1] * a
		cw += a
	}
	if cw > 0 {
		cx /= cw
		cy /= cw
	}

	areaKm2 := area / 1e6
	if limits.MaxAreaKm2 > 0 && areaKm2 > limits.MaxAreaKm2 {
		return nil, derrors.Validationf(
			"reduce the geometry area or split the request",
			"geometry area %.1f km² exceeds maximum %.1f km²", areaKm2, limits.MaxAreaKm2,
		)
	}

	s := &Spec{
		Kind:     kind,
		AreaKm2:  round2(areaKm2),
		Centroid: geom.Coord{cx, cy},
		polygons: polys,
	}
	s.Canonical = canonicalPolygons(polys)
	return s, nil
}

func checkCoord(lon, lat float64) error {
	if lat < -90 || lat > 90 || math.IsNaN(lat) {
		return derrors.Validationf("latitude must be between -90 and 90", "latitude %v out of range", lat)
	}
	if lon < -180 || lon > 180 || math.IsNaN(lon) {
		return derrors.Validationf("longitude must be between -180 and 180", "longitude %v out of range", lon)
	}
	return nil
}

func checkAllCoords(g geom.T) error {
	fc := g.FlatCoords()
	stride := g.Stride()
	for i := 0; i+1 < len(fc); i += stride {
		if err := checkCoord(fc[i], fc[i+1]); err != nil {
			return err
		}
	}
	return nil
}

// planarAreaCentroid projects the polygon into its local tangent plane and
// returns the planar area in m² and the geographic centroid of the shell.
func planarAreaCentroid(p *geom.Polygon) (float64, geom.Coord) {
	shell := p.LinearRing(0).FlatCoords()
	if len(shell) < 6 {
		return 0, geom.Coord{0, 0}
	}

	// Plane centred on the shell's coordinate mean keeps distortion small.
	var mlon, mlat float64
	n := len(shell) / 2
	for i := 0; i < len(shell); i += 2 {
		mlon += shell[i]
		mlat += shell[i+1]
	}
	pl := newPlane(mlon/float64(n), mlat/float64(n))

	area := math.Abs(ringPlanarArea(pl, shell))
	for i := 1; i < p.NumLinearRings(); i++ {
		area -= math.Abs(ringPlanarArea(pl, p.LinearRing(i).FlatCoords()))
	}

	cenLon, cenLat := ringCentroid(shell)
	return area, geom.Coord{cenLon, cenLat}
}

// ringPlanarArea computes the signed shoelace area of a ring in the plane.
func ringPlanarArea(pl plane, ring []float64) float64 {
	sum := 0.0
	n := len(ring) / 2
	for i := 0; i < n; i++ {
		x1, y1 := pl.forward(ring[2*i], ring[2*i+1])
		j := (i + 1) % n
		x2, y2 := pl.forward(ring[2*j], ring[2*j+1])
		sum += x1*y2 - x2*y1
	}
	return sum / 2
}

// ringCentroid computes the shoelace centroid of a ring in geographic coords.
func ringCentroid(ring []float64) (float64, float64) {
	var a, cx, cy float64
	n := len(ring) / 2
	for i := 0; i < n; i++ {
		x1, y1 := ring[2*i], ring[2*i+1]
		j := (i + 1) % n
		x2, y2 := ring[2*j], ring[2*j+1]
		cross := x1*y2 - x2*y1
		a += cross
		cx += (x1 + x2) * cross
		cy += (y1 + y2) * cross
	}
	if a == 0 {
		return ring[0], ring[1]
	}
	a /= 2
	return cx / (6 * a), cy / (6 * a)
}

func lineMidpoint(ls *geom.LineString) geom.Coord {
	fc := ls.FlatCoords()
	var mlon, mlat float64
	n := len(fc) / 2
	for i := 0; i < len(fc); i += 2 {
		mlon += fc[i]
		mlat += fc[i+1]
	}
	return geom.Coord{mlon / float64(n), mlat / float64(n)}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
