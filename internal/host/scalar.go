package host

import (
	"database/sql"
	"fmt"

	"github.com/misev/asqldb/internal/expr"
	"github.com/misev/asqldb/pkg/types"
)

// Evaluator implements expr.ScalarEvaluator by running each operation as
// a one-row sqlite query, so host scalar semantics are sqlite's.
type Evaluator struct {
	db *sql.DB
}

var sqlOperators = map[expr.Op]string{
	expr.OpAdd: "+", expr.OpSub: "-", expr.OpMul: "*", expr.OpDiv: "/",
	expr.OpEq: "=", expr.OpNe: "!=", expr.OpLt: "<", expr.OpLe: "<=",
	expr.OpGt: ">", expr.OpGe: ">=",
	expr.OpAnd: "AND", expr.OpOr: "OR",
}

// Binary implements expr.ScalarEvaluator.
func (e *Evaluator) Binary(op expr.Op, left, right any) (any, error) {
	tok, ok := sqlOperators[op]
	if !ok {
		return nil, fmt.Errorf("host: unsupported binary operator %s", op)
	}
	v, err := e.eval(fmt.Sprintf("SELECT ? %s ?", tok), left, right)
	if err != nil {
		return nil, err
	}
	if op.IsLogical() {
		return truth(v), nil
	}
	return v, nil
}

// Unary implements expr.ScalarEvaluator.
func (e *Evaluator) Unary(op expr.Op, v any) (any, error) {
	switch op {
	case expr.OpNeg:
		return e.eval("SELECT -?", v)
	case expr.OpNot:
		r, err := e.eval("SELECT NOT ?", v)
		if err != nil {
			return nil, err
		}
		return truth(r), nil
	}
	return nil, fmt.Errorf("host: unsupported unary operator %s", op)
}

// Cast implements expr.ScalarEvaluator.
func (e *Evaluator) Cast(v any, to types.ScalarType) (any, error) {
	switch {
	case to == types.Boolean:
		r, err := e.eval("SELECT CAST(? AS INTEGER) != 0", v)
		if err != nil {
			return nil, err
		}
		return truth(r), nil
	case to.IsInteger():
		return e.eval("SELECT CAST(? AS INTEGER)", v)
	case to.IsFloating():
		r, err := e.eval("SELECT CAST(? AS REAL)", v)
		if err != nil {
			return nil, err
		}
		if f, ok := r.(float64); ok && to == types.Real {
			return float64(float32(f)), nil
		}
		return r, nil
	case to.IsCharacter():
		return e.eval("SELECT CAST(? AS TEXT)", v)
	}
	return nil, fmt.Errorf("host: cannot cast to %s", to)
}

func (e *Evaluator) eval(query string, args ...any) (any, error) {
	var out any
	if err := e.db.QueryRow(query, args...).Scan(&out); err != nil {
		return nil, fmt.Errorf("host: %s: %w", query, err)
	}
	if b, ok := out.([]byte); ok {
		return string(b), nil
	}
	return out, nil
}

func truth(v any) bool {
	switch x := v.(type) {
	case int64:
		return x != 0
	case float64:
		return x != 0
	case bool:
		return x
	}
	return false
}
