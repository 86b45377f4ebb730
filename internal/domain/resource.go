package domain

import (
	"strings"
	"time"
)

// FormatGeoJSON is the resource format that triggers GeoJSON ingestion.
const FormatGeoJSON = "geojson"

// Resource is a catalog resource as seen by the georeferencing pipeline.
// Only the fields read or written here are modelled.
type Resource struct {
	ID               string     `json:"id"`
	Name             string     `json:"name,omitempty"`
	Format           string     `json:"format"`
	URL              string     `json:"url,omitempty"` // storage key of the uploaded file
	DatastoreActive  bool       `json:"datastore_active"`
	LastModified     *time.Time `json:"last_modified,omitempty"`
	MetadataModified *time.Time `json:"metadata_modified,omitempty"`

	LatitudeField    string            `json:"dataspatial_latitude_field,omitempty"`
	LongitudeField   string            `json:"dataspatial_longitude_field,omitempty"`
	WKTField         string            `json:"dataspatial_wkt_field,omitempty"`
	WKBField         string            `json:"dataspatial_wkb_field,omitempty"`
	FieldsDefinition []FieldDefinition `json:"dataspatial_fields_definition,omitempty"`

	LastGeomUpdated *time.Time `json:"dataspatial_last_geom_updated,omitempty"`
	Active          bool       `json:"dataspatial_active"`
	Status          string     `json:"dataspatial_status,omitempty"`
}

// FieldDefinition types one column of a datastore table.
type FieldDefinition struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// SourceMode selects how the primary geometry is derived from a row.
type SourceMode string

// Source modes, in order of precedence.
const (
	SourceNone   SourceMode = ""
	SourceLatLng SourceMode = "latlng"
	SourceWKT    SourceMode = "wkt"
	SourceWKB    SourceMode = "wkb"
)

// IsGeoJSON reports whether the resource holds a GeoJSON upload.
func (r *Resource) IsGeoJSON() bool {
	return strings.EqualFold(strings.TrimSpace(r.Format), FormatGeoJSON)
}

// IsEligible reports whether a georeference job may be submitted for the
// resource: it must have a datastore table or be a GeoJSON upload.
func (r *Resource) IsEligible() bool {
	return r.DatastoreActive || r.IsGeoJSON()
}

// SourceMode returns the configured geometry source. Latitude/longitude take
// precedence over WKT, which takes precedence over WKB.
func (r *Resource) SourceMode() SourceMode {
	switch {
	case r.LatitudeField != "" && r.LongitudeField != "":
		return SourceLatLng
	case r.WKTField != "":
		return SourceWKT
	case r.WKBField != "":
		return SourceWKB
	default:
		return SourceNone
	}
}

// IsSpatiallyConfigured reports whether the resource names its geometry
// source columns.
func (r *Resource) IsSpatiallyConfigured() bool {
	return r.SourceMode() != SourceNone
}

// OutOfSync reports whether the geometry columns predate the latest data or
// metadata change.
func (r *Resource) OutOfSync() bool {
	if r.LastGeomUpdated == nil {
		return true
	}
	if r.LastModified != nil && r.LastGeomUpdated.Before(*r.LastModified) {
		return true
	}
	if r.MetadataModified != nil && r.LastGeomUpdated.Before(*r.MetadataModified) {
		return true
	}
	return false
}

// ShouldBeUpdated reports whether a datastore push should trigger a new
// georeference run.
func (r *Resource) ShouldBeUpdated() bool {
	return r.DatastoreActive && r.IsSpatiallyConfigured() && r.OutOfSync()
}

// ModifiedAfter reports whether the uploaded data changed after t.
func (r *Resource) ModifiedAfter(t time.Time) bool {
	return r.LastModified != nil && !t.IsZero() && r.LastModified.After(t)
}

// Apply copies the set fields of a patch onto the resource.
func (r *Resource) Apply(p ResourcePatch) {
	if p.LatitudeField != nil {
		r.LatitudeField = *p.LatitudeField
	}
	if p.LongitudeField != nil {
		r.LongitudeField = *p.LongitudeField
	}
	if p.WKTField != nil {
		r.WKTField = *p.WKTField
	}
	if p.WKBField != nil {
		r.WKBField = *p.WKBField
	}
	if p.LastGeomUpdated != nil {
		t := *p.LastGeomUpdated
		r.LastGeomUpdated = &t
	}
	if p.Active != nil {
		r.Active = *p.Active
	}
	if p.Status != nil {
		r.Status = *p.Status
	}
	if p.DatastoreActive != nil {
		r.DatastoreActive = *p.DatastoreActive
	}
	if p.LastModified != nil {
		t := *p.LastModified
		r.LastModified = &t
	}
}

// ResourcePatch is a partial update of the pipeline-owned resource fields.
// Nil fields are left untouched.
type ResourcePatch struct {
	LatitudeField   *string    `json:"dataspatial_latitude_field,omitempty"`
	LongitudeField  *string    `json:"dataspatial_longitude_field,omitempty"`
	WKTField        *string    `json:"dataspatial_wkt_field,omitempty"`
	WKBField        *string    `json:"dataspatial_wkb_field,omitempty"`
	LastGeomUpdated *time.Time `json:"dataspatial_last_geom_updated,omitempty"`
	Active          *bool      `json:"dataspatial_active,omitempty"`
	Status          *string    `json:"dataspatial_status,omitempty"`
	DatastoreActive *bool      `json:"datastore_active,omitempty"`
	LastModified    *time.Time `json:"last_modified,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p ResourcePatch) IsEmpty() bool {
	return p.LatitudeField == nil && p.LongitudeField == nil && p.WKTField == nil &&
		p.WKBField == nil && p.LastGeomUpdated == nil && p.Active == nil && p.Status == nil &&
		p.DatastoreActive == nil && p.LastModified == nil
}

// ActivatedPatch marks the geometry columns as freshly populated.
func ActivatedPatch(now time.Time) ResourcePatch {
	active := true
	status := "active"
	return ResourcePatch{
		LastGeomUpdated: &now,
		Active:          &active,
		Status:          &status,
	}
}
