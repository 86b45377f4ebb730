package geometry

import (
	"testing"

	"github.com/tidwall/gjson"
)

func TestValidGeoJSON(t *testing.T) {
	tests := []struct {
		name string
		geom string
		want bool
	}{
		{"point", `{"type":"Point","coordinates":[1,2]}`, true},
		{"point with z", `{"type":"Point","coordinates":[1,2,3]}`, true},
		{"point one ordinate", `{"type":"Point","coordinates":[1]}`, false},
		{"point four ordinates", `{"type":"Point","coordinates":[1,2,3,4]}`, false},
		{"point string ordinate", `{"type":"Point","coordinates":["1",2]}`, false},
		{"multipoint", `{"type":"MultiPoint","coordinates":[[1,2],[3,4]]}`, true},
		{"multipoint bad member", `{"type":"MultiPoint","coordinates":[[1,2],[3]]}`, false},
		{"linestring", `{"type":"LineString","coordinates":[[0,0],[1,1]]}`, true},
		{"linestring one position", `{"type":"LineString","coordinates":[[0,0]]}`, false},
		{"multilinestring", `{"type":"MultiLineString","coordinates":[[[0,0],[1,1]],[[2,2],[3,3]]]}`, true},
		{"multilinestring short member", `{"type":"MultiLineString","coordinates":[[[0,0],[1,1]],[[2,2]]]}`, false},
		{"polygon", `{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,0]]]}`, true},
		{"polygon open ring", `{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,1]]]}`, false},
		{"polygon short ring", `{"type":"Polygon","coordinates":[[[0,0],[1,0],[0,0]]]}`, false},
		{"multipolygon", `{"type":"MultiPolygon","coordinates":[[[[0,0],[1,0],[1,1],[0,0]]]]}`, true},
		{"multipolygon flat", `{"type":"MultiPolygon","coordinates":[[[0,0],[1,0],[1,1],[0,0]]]}`, false},
		{"collection", `{"type":"GeometryCollection","geometries":[{"type":"Point","coordinates":[1,2]}]}`, true},
		{"collection bad member", `{"type":"GeometryCollection","geometries":[{"type":"Point","coordinates":[]}]}`, false},
		{"unknown type", `{"type":"Circle","coordinates":[1,2]}`, false},
		{"null", `null`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidGeoJSON(gjson.Parse(tt.geom)); got != tt.want {
				t.Errorf("ValidGeoJSON(%s) = %v, want %v", tt.geom, got, tt.want)
			}
		})
	}
}
