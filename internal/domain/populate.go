package domain

// DefaultBatchSize is the number of rows updated per commit.
const DefaultBatchSize = 5000

// PopulatePlan describes one geometry population run over a datastore table.
type PopulatePlan struct {
	Table          string       // datastore table, named after the resource id
	Mode           SourceMode   // how the primary geometry is derived
	LatitudeField  string       // SourceLatLng only
	LongitudeField string       // SourceLatLng only
	SourceField    string       // SourceWKT / SourceWKB only
	GeomType       GeometryType // type of the target columns
	GeomField      string       // primary column, SRID 4326
	MercatorField  string       // projected column, SRID 3857
}

// Validate checks that the plan names every column its mode needs.
func (p PopulatePlan) Validate() error {
	if p.Table == "" {
		return &ValidationError{Field: "resource_id", Message: "a resource id is required"}
	}
	if p.GeomField == "" || p.MercatorField == "" {
		return &ValidationError{Field: "geom_field", Message: "geometry column names are required"}
	}
	switch p.Mode {
	case SourceLatLng:
		if p.LatitudeField == "" || p.LongitudeField == "" {
			return &ValidationError{
				Field:   "latitude_field",
				Message: ErrMissingSourceFields.Error(),
			}
		}
	case SourceWKT, SourceWKB:
		if p.SourceField == "" {
			return &ValidationError{
				Field:   string(p.Mode) + "_field",
				Message: ErrMissingSourceFields.Error(),
			}
		}
	default:
		return &ValidationError{
			Field:      "mode",
			Value:      p.Mode,
			Constraint: "latlng, wkt or wkb",
			Message:    ErrMissingSourceFields.Error(),
		}
	}
	return nil
}

// Notes returns the progress note reported while the plan runs.
func (p PopulatePlan) Notes() string {
	switch p.Mode {
	case SourceLatLng:
		return "Populating geom columns using Latitude and Longitude."
	case SourceWKT:
		return "Populating geom columns using Well-Known Text."
	case SourceWKB:
		return "Populating geom columns using Well-Known Binary."
	default:
		return "Populating geom columns."
	}
}
