package geometry

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/twpayne/go-geom"
)

// Canonical WKT rules: coordinates rounded to 1e-6 degrees (about 0.1 m),
// shells counter-clockwise and holes clockwise, every ring rotated to start
// at its lexicographically smallest vertex, multipolygon parts sorted by
// their text form. Two descriptors that resolve to the same shape within
// tolerance therefore produce byte-identical canonical strings, which is what
// the cache fingerprint hashes.

const canonicalScale = 1e6

func roundCoord(v float64) float64 {
	return math.Round(v*canonicalScale) / canonicalScale
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(roundCoord(v), 'f', -1, 64)
}

func canonicalPoint(lon, lat float64) string {
	return "POINT(" + formatCoord(lon) + " " + formatCoord(lat) + ")"
}

func canonicalPolygons(polys []*geom.Polygon) string {
	parts := make([]string, 0, len(polys))
	for _, p := range polys {
		parts = append(parts, canonicalRings(p))
	}
	if len(parts) == 1 {
		return "POLYGON" + parts[0]
	}
	sort.Strings(parts)
	return "MULTIPOLYGON(" + strings.Join(parts, ",") + ")"
}

func canonicalRings(p *geom.Polygon) string {
	var b strings.Builder
	b.WriteByte('(')
	for i := 0; i < p.NumLinearRings(); i++ {
		if i > 0 {
			b.WriteByte(',')
		}
		ccw := i == 0 // shell CCW, holes CW
		b.WriteString(canonicalRing(p.LinearRing(i).FlatCoords(), ccw))
	}
	b.WriteByte(')')
	return b.String()
}

// canonicalRing normalizes one ring: round, dedupe, orient, rotate, re-close.
func canonicalRing(flat []float64, ccw bool) string {
	// Round coordinates and drop the closing vertex plus any duplicates the
	// rounding collapses.
	var pts [][2]float64
	for i := 0; i+1 < len(flat); i += 2 {
		p := [2]float64{roundCoord(flat[i]), roundCoord(flat[i+1])}
		if len(pts) > 0 && pts[len(pts)-1] == p {
			continue
		}
		pts = append(pts, p)
	}
	if len(pts) > 1 && pts[0] == pts[len(pts)-1] {
		pts = pts[:len(pts)-1]
	}

	if wantCCW := ringIsCCW(pts); wantCCW != ccw {
		for i, j := 0, len(pts)-1; i < j; i, j = i+1, j-1 {
			pts[i], pts[j] = pts[j], pts[i]
		}
	}

	// Rotate so the smallest vertex comes first.
	min := 0
	for i, p := range pts {
		if p[0] < pts[min][0] || (p[0] == pts[min][0] && p[1] < pts[min][1]) {
			min = i
		}
	}
	rotated := append(append([][2]float64{}, pts[min:]...), pts[:min]...)

	var b strings.Builder
	b.WriteByte('(')
	for _, p := range rotated {
		writeVertex(&b, p)
		b.WriteByte(',')
	}
	writeVertex(&b, rotated[0]) // close
	b.WriteByte(')')
	return b.String()
}

func writeVertex(b *strings.Builder, p [2]float64) {
	b.WriteString(strconv.FormatFloat(p[0], 'f', -1, 64))
	b.WriteByte(' ')
	b.WriteString(strconv.FormatFloat(p[1], 'f', -1, 64))
}

func ringIsCCW(pts [][2]float64) bool {
	sum := 0.0
	for i := range pts {
		j := (i + 1) % len(pts)
		sum += pts[i][0]*pts[j][1] - pts[j][0]*pts[i][1]
	}
	return sum > 0
}
