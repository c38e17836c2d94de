package host

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/misev/asqldb/internal/domain"
	"github.com/misev/asqldb/internal/expr"
	"github.com/misev/asqldb/pkg/types"
)

// CreateColumnsTableSQL records the declared type of every host column.
// Array columns keep their cell type and domain; the data column itself
// holds "coll:oid" text.
const CreateColumnsTableSQL = `
CREATE TABLE IF NOT EXISTS asqldb_columns (
    table_name TEXT NOT NULL,
    column_name TEXT NOT NULL,
    position INTEGER NOT NULL,
    cell_type TEXT NOT NULL,
    domain TEXT,
    PRIMARY KEY (table_name, column_name)
)`

// AllSchemaSQL returns the statements that initialize a host database.
func AllSchemaSQL() []string {
	return []string{CreateColumnsTableSQL}
}

// Column is one declared host column.
type Column struct {
	Name string
	Type expr.Type
}

// sqlType is the sqlite storage class for a column.
func sqlType(t expr.Type) string {
	switch {
	case t.IsArray(), t.Scalar.IsCharacter():
		return "TEXT"
	case t.Scalar == types.Binary:
		return "BLOB"
	case t.Scalar.IsFloating():
		return "REAL"
	default:
		return "INTEGER"
	}
}

// dimSpec is the stored form of one array dimension. "*" marks an
// unbounded end.
type dimSpec struct {
	Name string `json:"name"`
	Lo   string `json:"lo"`
	Hi   string `json:"hi"`
}

func boundText(b domain.Bound) (string, error) {
	if b.IsUnbounded() {
		return "*", nil
	}
	v, ok := b.Literal()
	if !ok {
		return "", fmt.Errorf("column bound %s is not a literal", b)
	}
	return strconv.FormatInt(v, 10), nil
}

func parseBound(s string) (domain.Bound, error) {
	if s == "*" {
		return domain.Unbounded(), nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return domain.Bound{}, fmt.Errorf("invalid stored bound %q", s)
	}
	return domain.At(v), nil
}

// encodeDomain serializes an array column domain. Only literal and
// unbounded bounds can be declared on a column.
func encodeDomain(d domain.Domain) (string, error) {
	specs := make([]dimSpec, 0, d.Len())
	for _, dim := range d.Dimensions() {
		if dim.Slice {
			return "", fmt.Errorf("column dimension %s is a slice", dim)
		}
		lo, err := boundText(dim.Lower)
		if err != nil {
			return "", err
		}
		hi, err := boundText(dim.Upper)
		if err != nil {
			return "", err
		}
		specs = append(specs, dimSpec{Name: dim.Name, Lo: lo, Hi: hi})
	}
	data, err := json.Marshal(specs)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeDomain(text string) (domain.Domain, error) {
	var specs []dimSpec
	if err := json.Unmarshal([]byte(text), &specs); err != nil {
		return domain.Domain{}, fmt.Errorf("invalid stored domain: %w", err)
	}
	dims := make([]domain.Dimension, 0, len(specs))
	for _, s := range specs {
		lo, err := parseBound(s.Lo)
		if err != nil {
			return domain.Domain{}, err
		}
		hi, err := parseBound(s.Hi)
		if err != nil {
			return domain.Domain{}, err
		}
		dims = append(dims, domain.NewRange(s.Name, lo, hi))
	}
	return domain.New(dims...)
}

// decodeColumn rebuilds a column type from its metadata row.
func decodeColumn(name, cell string, dom *string) (Column, error) {
	st, err := types.ParseScalarType(cell)
	if err != nil {
		return Column{}, err
	}
	if dom == nil {
		return Column{Name: name, Type: expr.ScalarOf(st)}, nil
	}
	d, err := decodeDomain(*dom)
	if err != nil {
		return Column{}, err
	}
	return Column{Name: name, Type: expr.ArrayOf(st, d)}, nil
}
