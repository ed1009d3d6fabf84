package geometry

import (
	"math"

	"github.com/twpayne/go-geom"

	"github.com/yieldera/datahub/internal/derrors"
)

// metersPerDegree is the length of one degree of latitude. Longitude degrees
// are scaled by cos(lat0) of the plane origin.
const metersPerDegree = 111320.0

// circleSegments controls how finely buffer arcs are tessellated.
const circleSegments = 64

// plane is an equirectangular local tangent plane. Accurate to well under a
// percent for the buffer distances this service accepts.
type plane struct {
	lon0, lat0 float64
	kx         float64 // meters per degree of longitude at lat0
}

func newPlane(lon0, lat0 float64) plane {
	return plane{
		lon0: lon0,
		lat0: lat0,
		kx:   metersPerDegree * math.Cos(lat0*math.Pi/180),
	}
}

func (p plane) forward(lon, lat float64) (x, y float64) {
	return (lon - p.lon0) * p.kx, (lat - p.lat0) * metersPerDegree
}

func (p plane) inverse(x, y float64) (lon, lat float64) {
	return p.lon0 + x/p.kx, p.lat0 + y/metersPerDegree
}

// circlePolygon builds a geographic polygon approximating a circle of radius
// radiusM around (lon, lat).
func circlePolygon(pl plane, lon, lat, radiusM float64) *geom.Polygon {
	cx, cy := pl.forward(lon, lat)
	flat := make([]float64, 0, (circleSegments+1)*2)
	for i := 0; i < circleSegments; i++ {
		theta := 2 * math.Pi * float64(i) / circleSegments
		glon, glat := pl.inverse(cx+radiusM*math.Cos(theta), cy+radiusM*math.Sin(theta))
		flat = append(flat, glon, glat)
	}
	flat = append(flat, flat[0], flat[1]) // close
	poly := geom.NewPolygon(geom.XY)
	poly.Push(geom.NewLinearRingFlat(geom.XY, flat))
	return poly
}

// bufferLine builds the corridor polygon of half-width radiusM around a
// polyline. Joins are beveled and end caps are semicircular; a sharply folded
// line can produce a self-touching ring, which is acceptable for coverage
// tests and area estimates.
func bufferLine(pl plane, ls *geom.LineString, radiusM float64) (*geom.Polygon, error) {
	fc := ls.FlatCoords()
	n := len(fc) / 2
	if n < 2 {
		return nil, derrors.Validation("linestring needs at least two points", "provide a LINESTRING with two or more vertices")
	}

	// Project vertices, dropping consecutive duplicates.
	xs := make([]float64, 0, n)
	ys := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		x, y := pl.forward(fc[2*i], fc[2*i+1])
		if m := len(xs); m > 0 && math.Hypot(x-xs[m-1], y-ys[m-1]) < 1e-9 {
			continue
		}
		xs = append(xs, x)
		ys = append(ys, y)
	}
	n = len(xs)
	if n < 2 {
		return nil, derrors.Validation("linestring is degenerate", "provide a LINESTRING with two or more distinct vertices")
	}

	// Left unit normal of each segment.
	nxs := make([]float64, n-1)
	nys := make([]float64, n-1)
	for i := 0; i < n-1; i++ {
		dx, dy := xs[i+1]-xs[i], ys[i+1]-ys[i]
		l := math.Hypot(dx, dy)
		nxs[i], nys[i] = -dy/l, dx/l
	}

	var ring []float64
	push := func(x, y float64) { ring = append(ring, x, y) }

	// Left side, forward.
	push(xs[0]+radiusM*nxs[0], ys[0]+radiusM*nys[0])
	for i := 1; i < n-1; i++ {
		push(xs[i]+radiusM*nxs[i-1], ys[i]+radiusM*nys[i-1])
		push(xs[i]+radiusM*nxs[i], ys[i]+radiusM*nys[i])
	}
	push(xs[n-1]+radiusM*nxs[n-2], ys[n-1]+radiusM*nys[n-2])

	// End cap around the last vertex, from the left normal to the right.
	appendArc(&ring, xs[n-1], ys[n-1], radiusM, math.Atan2(nys[n-2], nxs[n-2]), -math.Pi)

	// Right side, backward.
	push(xs[n-1]-radiusM*nxs[n-2], ys[n-1]-radiusM*nys[n-2])
	for i := n - 2; i >= 1; i-- {
		push(xs[i]-radiusM*nxs[i], ys[i]-radiusM*nys[i])
		push(xs[i]-radiusM*nxs[i-1], ys[i]-radiusM*nys[i-1])
	}
	push(xs[0]-radiusM*nxs[0], ys[0]-radiusM*nys[0])

	// Start cap back to the first left-side point.
	appendArc(&ring, xs[0], ys[0], radiusM, math.Atan2(-nys[0], -nxs[0]), -math.Pi)

	// Reproject, close, and orient the shell counter-clockwise.
	flat := make([]float64, 0, len(ring)+2)
	for i := 0; i < len(ring); i += 2 {
		lon, lat := pl.inverse(ring[i], ring[i+1])
		flat = append(flat, lon, lat)
	}
	flat = append(flat, flat[0], flat[1])
	if signedArea(flat) < 0 {
		flat = reverseRing(flat)
	}

	poly := geom.NewPolygon(geom.XY)
	poly.Push(geom.NewLinearRingFlat(geom.XY, flat))
	return poly, nil
}

// appendArc appends the interior points of an arc around (cx, cy) starting at
// angle from and sweeping by sweep radians. Endpoints are excluded; the caller
// places them.
func appendArc(ring *[]float64, cx, cy, r, from, sweep float64) {
	steps := circleSegments / 4
	for i := 1; i < steps; i++ {
		theta := from + sweep*float64(i)/float64(steps)
		*ring = append(*ring, cx+r*math.Cos(theta), cy+r*math.Sin(theta))
	}
}

// signedArea computes the shoelace area of a closed flat ring; positive means
// counter-clockwise.
func signedArea(ring []float64) float64 {
	sum := 0.0
	for i := 0; i+3 < len(ring); i += 2 {
		sum += ring[i]*ring[i+3] - ring[i+2]*ring[i+1]
	}
	return sum / 2
}

// reverseRing reverses vertex order of a closed flat ring.
func reverseRing(ring []float64) []float64 {
	n := len(ring) / 2
	out := make([]float64, len(ring))
	for i := 0; i < n; i++ {
		j := n - 1 - i
		out[2*i], out[2*i+1] = ring[2*j], ring[2*j+1]
	}
	return out
}
