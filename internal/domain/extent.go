package domain

import "encoding/json"

// ExtentQuery selects the rows of a datastore table whose extent is wanted.
type ExtentQuery struct {
	ResourceID string         `json:"resource_id"`
	Filters    map[string]any `json:"filters,omitempty"` // column = value
	Query      string         `json:"q,omitempty"`       // full text
	Clauses    []FilterClause `json:"-"`                 // Go callers only; never decoded
}

// FilterClause is an externally supplied SQL condition with its
// positional arguments. Placeholders are written as "?".
type FilterClause struct {
	SQL  string
	Args []any
}

// Validate checks the query has a target.
func (q ExtentQuery) Validate() error {
	if q.ResourceID == "" {
		return &ValidationError{Field: "resource_id", Message: "a resource id is required"}
	}
	return nil
}

// ExtentResult is the spatial coverage of a query result set.
type ExtentResult struct {
	TotalCount int64   `json:"total_count"`
	GeomCount  int64   `json:"geom_count"`
	Bounds     *Bounds `json:"bounds"`
}

// EmptyExtent is returned when no rows match.
func EmptyExtent() *ExtentResult {
	return &ExtentResult{}
}

// Bounds is a latitude/longitude bounding box.
type Bounds struct {
	LatMin float64
	LngMin float64
	LatMax float64
	LngMax float64
}

// MarshalJSON renders bounds as [[lat min, lng min], [lat max, lng max]].
func (b Bounds) MarshalJSON() ([]byte, error) {
	return json.Marshal([2][2]float64{
		{b.LatMin, b.LngMin},
		{b.LatMax, b.LngMax},
	})
}

// UnmarshalJSON parses the pair-of-pairs form written by MarshalJSON.
func (b *Bounds) UnmarshalJSON(data []byte) error {
	var pairs [2][2]float64
	if err := json.Unmarshal(data, &pairs); err != nil {
		return err
	}
	b.LatMin, b.LngMin = pairs[0][0], pairs[0][1]
	b.LatMax, b.LngMax = pairs[1][0], pairs[1][1]
	return nil
}
