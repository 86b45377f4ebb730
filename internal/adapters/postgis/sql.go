package postgis

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/jobrunner/dataspatial/internal/domain"
)

const (
	schemaName = "public"
	cursorName = "dataspatial_ids"
)

// columnTypes are the column types CreateTable accepts.
var columnTypes = map[string]string{
	"text":             "text",
	"numeric":          "numeric",
	"float4":           "float4",
	"float8":           "float8",
	"double precision": "float8",
	"int":              "int4",
	"int4":             "int4",
	"integer":          "int4",
	"int8":             "int8",
	"bigint":           "int8",
	"bool":             "bool",
	"boolean":          "bool",
	"json":             "json",
	"jsonb":            "jsonb",
	"bytea":            "bytea",
	"date":             "date",
	"timestamp":        "timestamp",
}

func ident(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func tableIdent(table string) string {
	return pgx.Identifier{schemaName, table}.Sanitize()
}

// sourceCondition selects rows that carry a geometry source value.
func sourceCondition(plan domain.PopulatePlan) string {
	if plan.Mode == domain.SourceLatLng {
		return fmt.Sprintf("%s IS NOT NULL AND %s IS NOT NULL",
			ident(plan.LatitudeField), ident(plan.LongitudeField))
	}
	return ident(plan.SourceField) + " IS NOT NULL"
}

// selectIDsSQL declares the cursor over rows missing either geometry.
func selectIDsSQL(plan domain.PopulatePlan) string {
	return fmt.Sprintf(
		`DECLARE %s NO SCROLL CURSOR FOR SELECT "_id" FROM %s WHERE (%s IS NULL OR %s IS NULL) AND (%s) ORDER BY "_id"`,
		cursorName,
		tableIdent(plan.Table),
		ident(plan.GeomField),
		ident(plan.MercatorField),
		sourceCondition(plan),
	)
}

func fetchSQL(n int) string {
	return fmt.Sprintf("FETCH FORWARD %d FROM %s", n, cursorName)
}

// geometryExpr derives the primary geometry of a row in SRID 4326.
func geometryExpr(plan domain.PopulatePlan) string {
	var expr string
	switch plan.Mode {
	case domain.SourceLatLng:
		return fmt.Sprintf("ST_SetSRID(ST_MakePoint(%s::float8, %s::float8), %d)",
			ident(plan.LongitudeField), ident(plan.LatitudeField), domain.SRIDWGS84)
	case domain.SourceWKB:
		expr = fmt.Sprintf("ST_Force2D(ST_GeomFromWKB(%s, %d))", ident(plan.SourceField), domain.SRIDWGS84)
	default:
		expr = fmt.Sprintf("ST_Force2D(ST_GeomFromText(%s, %d))", ident(plan.SourceField), domain.SRIDWGS84)
	}
	if plan.GeomType.IsMulti() {
		expr = "ST_Multi(" + expr + ")"
	}
	return expr
}

func geometryUpdateSQL(plan domain.PopulatePlan) string {
	return fmt.Sprintf(`UPDATE %s SET %s = %s WHERE "_id" = $1`,
		tableIdent(plan.Table), ident(plan.GeomField), geometryExpr(plan))
}

func projectionUpdateSQL(plan domain.PopulatePlan) string {
	return fmt.Sprintf(`UPDATE %s SET %s = ST_Transform(%s, %d) WHERE %s IS NOT NULL AND "_id" = $1`,
		tableIdent(plan.Table),
		ident(plan.MercatorField),
		ident(plan.GeomField),
		domain.SRIDWebMercator,
		ident(plan.GeomField),
	)
}

func createIndexSQL(table, column, index string) string {
	return fmt.Sprintf("CREATE INDEX %s ON %s USING GIST(%s) WHERE %s IS NOT NULL",
		ident(index), tableIdent(table), ident(column), ident(column))
}

func createTableSQL(table string, fields []domain.FieldDefinition) (string, error) {
	cols := make([]string, 0, len(fields)+1)
	cols = append(cols, `"_id" serial PRIMARY KEY`)
	for _, f := range fields {
		if f.ID == "" || f.ID == "_id" {
			return "", &domain.ValidationError{Field: "fields", Value: f.ID, Message: "invalid column name"}
		}
		typ, ok := columnTypes[strings.ToLower(strings.TrimSpace(f.Type))]
		if !ok {
			return "", &domain.ValidationError{
				Field:   "fields",
				Value:   f.Type,
				Message: fmt.Sprintf("unsupported type for column %s", f.ID),
			}
		}
		cols = append(cols, ident(f.ID)+" "+typ)
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", tableIdent(table), strings.Join(cols, ", ")), nil
}

// whereClause renders the filters of q as a WHERE clause with positional
// arguments. The table is aliased as t.
func whereClause(q domain.ExtentQuery) (string, []any) {
	var (
		conds []string
		args  []any
	)

	keys := make([]string, 0, len(q.Filters))
	for k := range q.Filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, q.Filters[k])
		conds = append(conds, fmt.Sprintf("t.%s = $%d", ident(k), len(args)))
	}

	if q.Query != "" {
		args = append(args, q.Query)
		conds = append(conds, fmt.Sprintf("to_tsvector('simple', t::text) @@ plainto_tsquery('simple', $%d)", len(args)))
	}

	for _, c := range q.Clauses {
		conds = append(conds, "("+rebind(c.SQL, len(args))+")")
		args = append(args, c.Args...)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// rebind rewrites "?" placeholders outside string literals as $n, numbering
// from offset+1.
func rebind(sql string, offset int) string {
	var (
		b       strings.Builder
		n       = offset
		quoted  bool
		escaped bool
	)
	for _, r := range sql {
		switch {
		case r == '\'' && !escaped:
			quoted = !quoted
			b.WriteRune(r)
		case r == '?' && !quoted:
			n++
			b.WriteString("$" + strconv.Itoa(n))
		default:
			b.WriteRune(r)
		}
		escaped = r == '\\'
	}
	return b.String()
}

func countSQL(table, where string) string {
	return fmt.Sprintf("SELECT count(*) FROM %s t%s", tableIdent(table), where)
}

func extentSQL(table, geomField, where string) string {
	g := ident(geomField)
	return fmt.Sprintf(
		"SELECT count(t.%[1]s), ST_YMin(ST_Extent(t.%[1]s)), ST_XMin(ST_Extent(t.%[1]s)), ST_YMax(ST_Extent(t.%[1]s)), ST_XMax(ST_Extent(t.%[1]s)) FROM %[2]s t%[3]s",
		g, tableIdent(table), where,
	)
}
