package geometry

import "github.com/tidwall/gjson"

// ValidGeoJSON reports whether a GeoJSON geometry object is structurally
// sound: positions have two or three numeric ordinates, line strings have
// at least two positions, polygon rings are closed with at least four, and
// every member of a multi geometry or collection is itself valid.
func ValidGeoJSON(g gjson.Result) bool {
	if !g.IsObject() {
		return false
	}

	coords := g.Get("coordinates")
	switch g.Get("type").String() {
	case "Point":
		return validPosition(coords)
	case "MultiPoint":
		return allOf(coords, 1, validPosition)
	case "LineString":
		return validLine(coords)
	case "MultiLineString":
		return allOf(coords, 1, validLine)
	case "Polygon":
		return validPolygon(coords)
	case "MultiPolygon":
		return allOf(coords, 1, validPolygon)
	case "GeometryCollection":
		return allOf(g.Get("geometries"), 0, ValidGeoJSON)
	default:
		return false
	}
}

func validPosition(p gjson.Result) bool {
	if !p.IsArray() {
		return false
	}
	ords := p.Array()
	if len(ords) < 2 || len(ords) > 3 {
		return false
	}
	for _, o := range ords {
		if o.Type != gjson.Number {
			return false
		}
	}
	return true
}

func validLine(l gjson.Result) bool {
	return allOf(l, 2, validPosition)
}

func validRing(r gjson.Result) bool {
	if !allOf(r, 4, validPosition) {
		return false
	}
	pts := r.Array()
	first, last := pts[0].Array(), pts[len(pts)-1].Array()
	if len(first) != len(last) {
		return false
	}
	for i := range first {
		if first[i].Float() != last[i].Float() {
			return false
		}
	}
	return true
}

func validPolygon(p gjson.Result) bool {
	return allOf(p, 1, validRing)
}

// allOf reports whether arr is an array of at least min elements that all
// satisfy fn.
func allOf(arr gjson.Result, min int, fn func(gjson.Result) bool) bool {
	if !arr.IsArray() {
		return false
	}
	items := arr.Array()
	if len(items) < min {
		return false
	}
	for _, it := range items {
		if !fn(it) {
			return false
		}
	}
	return true
}
