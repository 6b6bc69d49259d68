package geo

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

// metersPerDegree is the length of one degree of latitude.
const metersPerDegree = 111320.0

// covers reports whether a polygonal geometry contains point. Other
// geometry types never cover anything.
func covers(geom orb.Geometry, point orb.Point) bool {
	switch g := geom.(type) {
	case orb.Polygon:
		return planar.PolygonContains(g, point)
	case orb.MultiPolygon:
		return planar.MultiPolygonContains(g, point)
	}
	return false
}

// boundaryMeters approximates the distance from point to the boundary of
// geom in meters, scaling degrees by the cosine of the point's latitude.
func boundaryMeters(point orb.Point, geom orb.Geometry) float64 {
	switch geom.(type) {
	case orb.Polygon, orb.MultiPolygon:
	default:
		return math.Inf(1)
	}
	deg := planar.DistanceFrom(geom, point)
	return deg * metersPerDegree * math.Cos(point.Lat()*math.Pi/180)
}

// prop returns a string property, or "" when missing or not a string.
func prop(props geojson.Properties, key string) string {
	return props.MustString(key, "")
}

// isoCode reads the two-letter country code of a Natural Earth feature.
// Some territories carry -99 in ISO_A2 and the real code in ISO_A2_EH.
func isoCode(props geojson.Properties) string {
	for _, key := range []string{"ISO_A2", "iso_a2", "ISO_A2_EH", "iso_a2_eh"} {
		if code := prop(props, key); code != "" && code != "-99" {
			return code
		}
	}
	return ""
}
