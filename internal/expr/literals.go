package expr

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/misev/asqldb/internal/errors"
	"github.com/misev/asqldb/pkg/types"
)

// literalText renders a host value as a rasql literal.
func literalText(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case float64:
		return floatText(x)
	case bool:
		if x {
			return "true"
		}
		return "false"
	case string:
		return strconv.Quote(x)
	case []byte:
		return strconv.Quote(string(x))
	case types.ArrayRef:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

// floatText keeps a decimal point so the engine types the literal as
// floating.
func floatText(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if math.IsInf(f, 0) || math.IsNaN(f) || strings.ContainsAny(s, ".e") {
		return s
	}
	return s + ".0"
}

// indexText renders a host value used as a subset bound. Character bounds
// are emitted unquoted.
func indexText(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	case float64:
		if x == math.Trunc(x) {
			return strconv.FormatInt(int64(x), 10)
		}
		return floatText(x)
	default:
		return literalText(v)
	}
}

// suffixNumbers appends suffix to every numeric literal in text that does
// not already carry one.
func suffixNumbers(text, suffix string) string {
	if suffix == "" {
		return text
	}
	var sb strings.Builder
	sb.Grow(len(text) + len(text)/4)
	i := 0
	for i < len(text) {
		c := text[i]
		if !isDigit(c) || (i > 0 && isWordByte(text[i-1])) {
			sb.WriteByte(c)
			i++
			continue
		}
		j := i
		for j < len(text) && (isDigit(text[j]) || text[j] == '.') {
			j++
		}
		if j < len(text) && (text[j] == 'e' || text[j] == 'E') {
			k := j + 1
			if k < len(text) && (text[k] == '+' || text[k] == '-') {
				k++
			}
			if k < len(text) && isDigit(text[k]) {
				j = k
				for j < len(text) && isDigit(text[j]) {
					j++
				}
			}
		}
		sb.WriteString(text[i:j])
		if j >= len(text) || !isWordByte(text[j]) {
			sb.WriteString(suffix)
		}
		i = j
	}
	return sb.String()
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isWordByte(c byte) bool {
	return c == '_' || c == '.' || isDigit(c) || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// convertResult converts the first element of a result bag to the static
// type of the dispatching node. Arrays are returned as the engine sent
// them.
func convertResult(v any, t Type) (any, error) {
	if t.IsArray() || v == nil {
		return v, nil
	}
	switch {
	case t.Scalar.IsInteger():
		return toInt(v)
	case t.Scalar.IsFloating():
		return toFloat(v)
	case t.Scalar == types.Boolean:
		return toBool(v)
	case t.Scalar == types.Varchar:
		return toText(v), nil
	case t.Scalar == types.Binary:
		return toBytes(v)
	}
	return v, nil
}

func conversionError(v any, to string, cause error) error {
	return errors.NewQueryError(errors.CodeFailed,
		fmt.Sprintf("cannot convert result %v (%T) to %s", v, v, to), cause)
}

func toInt(v any) (any, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case int:
		return int64(x), nil
	case float64:
		if x != math.Trunc(x) {
			return nil, conversionError(v, "integer", nil)
		}
		return int64(x), nil
	case bool:
		if x {
			return int64(1), nil
		}
		return int64(0), nil
	case string, []byte:
		s := strings.TrimSpace(toText(v))
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || f != math.Trunc(f) {
			return nil, conversionError(v, "integer", err)
		}
		return int64(f), nil
	}
	return nil, conversionError(v, "integer", nil)
}

func toFloat(v any) (any, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case int64:
		return float64(x), nil
	case int:
		return float64(x), nil
	case string, []byte:
		f, err := strconv.ParseFloat(strings.TrimSpace(toText(v)), 64)
		if err != nil {
			return nil, conversionError(v, "double", err)
		}
		return f, nil
	}
	return nil, conversionError(v, "double", nil)
}

func toBool(v any) (any, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case int64:
		return x != 0, nil
	case float64:
		return x != 0, nil
	case string, []byte:
		b, err := strconv.ParseBool(strings.TrimSpace(toText(v)))
		if err != nil {
			return nil, conversionError(v, "boolean", err)
		}
		return b, nil
	}
	return nil, conversionError(v, "boolean", nil)
}

func toText(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return strings.TrimRight(string(x), "\x00")
	case *types.MArray:
		return string(x.Bytes())
	}
	return fmt.Sprint(v)
}

func toBytes(v any) (any, error) {
	switch x := v.(type) {
	case []byte:
		return x, nil
	case string:
		return []byte(x), nil
	case *types.MArray:
		return x.Bytes(), nil
	}
	return nil, conversionError(v, "binary", nil)
}

// oidOf extracts the object id an INSERT returns: the first integer in
// the bag.
func oidOf(bag []any) (int64, bool) {
	for _, v := range bag {
		switch x := v.(type) {
		case int64:
			return x, true
		case int:
			return int64(x), true
		case float64:
			if x == math.Trunc(x) {
				return int64(x), true
			}
		case types.ArrayRef:
			return x.OID, true
		}
	}
	return 0, false
}
