// Package geometry decodes and encodes WKT, WKB and GeoJSON geometries and
// classifies them by type.
package geometry

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/geojson"

	"github.com/jobrunner/dataspatial/internal/domain"
)

// Decode parses a raw stored geometry in the given encoding. WKB values may
// also arrive hex encoded, as text columns hold them.
func Decode(raw []byte, enc domain.GeometryEncoding) (orb.Geometry, error) {
	switch enc {
	case domain.EncodingWKT:
		g, err := wkt.Unmarshal(string(bytes.TrimSpace(raw)))
		if err != nil {
			return nil, fmt.Errorf("decoding wkt geometry: %w: %w", domain.ErrInvalidInput, err)
		}
		return g, nil

	case domain.EncodingWKB:
		data := raw
		if isHex(raw) {
			decoded, err := hex.DecodeString(string(raw))
			if err == nil {
				data = decoded
			}
		}
		g, err := wkb.Unmarshal(data)
		if err != nil {
			return nil, fmt.Errorf("decoding wkb geometry: %w: %w", domain.ErrInvalidInput, err)
		}
		return g, nil

	default:
		return nil, fmt.Errorf("encoding %q: %w", enc, domain.ErrUnsupported)
	}
}

// Encode serializes g for storage: a string for WKT, bytes for WKB.
func Encode(g orb.Geometry, enc domain.GeometryEncoding) (any, error) {
	switch enc {
	case domain.EncodingWKT:
		return wkt.MarshalString(g), nil
	case domain.EncodingWKB:
		return wkb.Marshal(g)
	default:
		return nil, fmt.Errorf("encoding %q: %w", enc, domain.ErrUnsupported)
	}
}

// FromGeoJSON decodes a GeoJSON geometry object.
func FromGeoJSON(raw []byte) (orb.Geometry, error) {
	g, err := geojson.UnmarshalGeometry(raw)
	if err != nil {
		return nil, fmt.Errorf("decoding geojson geometry: %w: %w", domain.ErrInvalidInput, err)
	}
	return g.Geometry(), nil
}

// TypeOf returns the column type tag of a parsed geometry.
func TypeOf(g orb.Geometry) (domain.GeometryType, error) {
	if g == nil {
		return "", fmt.Errorf("nil geometry: %w", domain.ErrInvalidInput)
	}
	switch g.(type) {
	case orb.Point:
		return domain.GeomPoint, nil
	case orb.MultiPoint:
		return domain.GeomMultiPoint, nil
	case orb.LineString:
		return domain.GeomLineString, nil
	case orb.MultiLineString:
		return domain.GeomMultiLineString, nil
	case orb.Polygon, orb.Ring, orb.Bound:
		return domain.GeomPolygon, nil
	case orb.MultiPolygon:
		return domain.GeomMultiPolygon, nil
	case orb.Collection:
		return domain.GeomGeometryCollection, nil
	}
	return domain.ParseGeometryType(g.GeoJSONType())
}

func isHex(raw []byte) bool {
	if len(raw) == 0 || len(raw)%2 != 0 {
		return false
	}
	for _, c := range raw {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
