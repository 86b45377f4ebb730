// Package domain contains the core business entities and value objects.
package domain

import (
	"sort"
	"strings"
)

// Spatial reference identifiers used for the two derived columns.
const (
	SRIDWGS84       = 4326
	SRIDWebMercator = 3857
)

// GeometryType represents the type of a geometry column.
type GeometryType string

// Geometry type constants.
const (
	GeomPoint              GeometryType = "POINT"
	GeomLineString         GeometryType = "LINESTRING"
	GeomPolygon            GeometryType = "POLYGON"
	GeomMultiPoint         GeometryType = "MULTIPOINT"
	GeomMultiLineString    GeometryType = "MULTILINESTRING"
	GeomMultiPolygon       GeometryType = "MULTIPOLYGON"
	GeomGeometryCollection GeometryType = "GEOMETRYCOLLECTION"
)

// GeometryTypes lists the column types that can be created.
var GeometryTypes = []GeometryType{
	GeomPoint,
	GeomLineString,
	GeomPolygon,
	GeomMultiPoint,
	GeomMultiLineString,
	GeomMultiPolygon,
	GeomGeometryCollection,
}

// ParseGeometryType parses a case-insensitive geometry type name.
func ParseGeometryType(s string) (GeometryType, error) {
	t := GeometryType(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range GeometryTypes {
		if t == known {
			return t, nil
		}
	}
	names := make([]string, len(GeometryTypes))
	for i, gt := range GeometryTypes {
		names[i] = string(gt)
	}
	return "", &ValidationError{
		Field:      "geom_type",
		Value:      s,
		Constraint: strings.Join(names, ", "),
		Message:    ErrUnknownGeometryType.Error(),
	}
}

// IsMulti reports whether the type is one of the MULTI* types. Values written
// into a column of such a type are wrapped with ST_Multi.
func (t GeometryType) IsMulti() bool {
	return strings.Contains(strings.ToLower(string(t)), "multi")
}

// String implements fmt.Stringer.
func (t GeometryType) String() string {
	return string(t)
}

// CommonGeometryType reduces a set of observed geometry types to one column
// type that can hold all of them.
//
// One distinct type is returned as-is. Two types where the shorter name is a
// substring of the longer (POINT and MULTIPOINT) resolve to the longer one.
// Anything else resolves to GEOMETRYCOLLECTION. This is a naming heuristic,
// not a type lattice.
func CommonGeometryType(types []GeometryType) (GeometryType, error) {
	seen := make(map[GeometryType]struct{}, len(types))
	distinct := make([]GeometryType, 0, len(types))
	for _, t := range types {
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		distinct = append(distinct, t)
	}

	switch {
	case len(distinct) == 0:
		return "", ErrNoGeometryValues
	case len(distinct) == 1:
		return distinct[0], nil
	case len(distinct) > 2:
		return GeomGeometryCollection, nil
	}

	sort.SliceStable(distinct, func(i, j int) bool {
		return len(distinct[i]) < len(distinct[j])
	})
	if strings.Contains(string(distinct[1]), string(distinct[0])) {
		return distinct[1], nil
	}
	return GeomGeometryCollection, nil
}

// GeometryEncoding is the serialization of a stored source geometry.
type GeometryEncoding string

// Supported encodings.
const (
	EncodingWKT GeometryEncoding = "wkt"
	EncodingWKB GeometryEncoding = "wkb"
)

// ParseGeometryEncoding parses "wkt" or "wkb".
func ParseGeometryEncoding(s string) (GeometryEncoding, error) {
	switch GeometryEncoding(strings.ToLower(s)) {
	case EncodingWKT:
		return EncodingWKT, nil
	case EncodingWKB:
		return EncodingWKB, nil
	}
	return "", &ValidationError{
		Field:      "geojson_encoding",
		Value:      s,
		Constraint: "wkt or wkb",
		Message:    "unknown geometry encoding",
	}
}
