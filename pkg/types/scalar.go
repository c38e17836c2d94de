package types

import (
	"fmt"
	"strings"
)

// ScalarType is a relational column type, also used as the cell type of an
// MDARRAY column.
type ScalarType int

const (
	Unknown ScalarType = iota
	Boolean
	TinyInt
	SmallInt
	Integer
	BigInt
	Real
	Double
	Varchar
	Binary
)

var scalarNames = map[ScalarType]string{
	Unknown:  "UNKNOWN",
	Boolean:  "BOOLEAN",
	TinyInt:  "TINYINT",
	SmallInt: "SMALLINT",
	Integer:  "INTEGER",
	BigInt:   "BIGINT",
	Real:     "REAL",
	Double:   "DOUBLE",
	Varchar:  "VARCHAR",
	Binary:   "VARBINARY",
}

// String returns the SQL name of the type.
func (t ScalarType) String() string {
	if s, ok := scalarNames[t]; ok {
		return s
	}
	return fmt.Sprintf("ScalarType(%d)", int(t))
}

// ParseScalarType maps a SQL type name to a ScalarType.
func ParseScalarType(name string) (ScalarType, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "BOOLEAN", "BOOL":
		return Boolean, nil
	case "TINYINT":
		return TinyInt, nil
	case "SMALLINT":
		return SmallInt, nil
	case "INTEGER", "INT":
		return Integer, nil
	case "BIGINT":
		return BigInt, nil
	case "REAL", "FLOAT":
		return Real, nil
	case "DOUBLE", "DOUBLE PRECISION", "DECIMAL":
		return Double, nil
	case "VARCHAR", "TEXT", "CHAR":
		return Varchar, nil
	case "VARBINARY", "BLOB", "BINARY":
		return Binary, nil
	}
	return Unknown, fmt.Errorf("unknown scalar type: %s", name)
}

// IsNumeric reports whether the type is an integer or floating type.
func (t ScalarType) IsNumeric() bool {
	return t.IsInteger() || t.IsFloating()
}

// IsInteger reports whether the type is an integral type.
func (t ScalarType) IsInteger() bool {
	switch t {
	case TinyInt, SmallInt, Integer, BigInt:
		return true
	}
	return false
}

// IsFloating reports whether the type is a floating point type.
func (t ScalarType) IsFloating() bool {
	return t == Real || t == Double
}

// IsCharacter reports whether the type is a character string type.
func (t ScalarType) IsCharacter() bool {
	return t == Varchar
}

// RasType returns the array engine's name for the type, as used in casts
// and cell type declarations.
func (t ScalarType) RasType() string {
	switch t {
	case Boolean:
		return "bool"
	case TinyInt:
		return "char"
	case SmallInt:
		return "short"
	case Integer, BigInt:
		return "long"
	case Real:
		return "float"
	case Double:
		return "double"
	}
	return ""
}

// ParseRasType is the inverse of RasType.
func ParseRasType(name string) (ScalarType, bool) {
	switch strings.ToLower(name) {
	case "bool", "boolean":
		return Boolean, true
	case "char", "octet":
		return TinyInt, true
	case "short", "ushort":
		return SmallInt, true
	case "long", "ulong":
		return Integer, true
	case "float":
		return Real, true
	case "double":
		return Double, true
	}
	return Unknown, false
}

// LiteralSuffix is the suffix the array engine uses to type a numeric
// literal as a cell of this type.
func (t ScalarType) LiteralSuffix() string {
	switch t {
	case TinyInt:
		return "c"
	case SmallInt:
		return "s"
	case Integer, BigInt:
		return "l"
	case Real:
		return "f"
	case Double:
		return "d"
	}
	return ""
}

// Wider returns the type that can hold values of both a and b.
func Wider(a, b ScalarType) ScalarType {
	if a == b {
		return a
	}
	if a.IsFloating() || b.IsFloating() {
		return Double
	}
	if a.IsInteger() && b.IsInteger() {
		if a > b {
			return a
		}
		return b
	}
	if a == Unknown {
		return b
	}
	if b == Unknown {
		return a
	}
	return a
}
