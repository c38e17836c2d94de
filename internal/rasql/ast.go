package rasql

import (
	"github.com/misev/asqldb/pkg/types"
)

// Statement represents a parsed rasql statement.
type Statement interface {
	statementNode()
}

// Expression represents a rasql expression.
type Expression interface {
	expressionNode()
}

// SelectStatement is SELECT expr [FROM coll AS alias, ...] [WHERE cond].
type SelectStatement struct {
	Expr  Expression
	From  []CollectionRef
	Where Expression
}

func (s *SelectStatement) statementNode() {}

// CollectionRef binds a collection to an iteration alias.
type CollectionRef struct {
	Collection string
	Alias      string
}

// InsertStatement is INSERT INTO coll VALUES expr.
type InsertStatement struct {
	Collection string
	Value      Expression
}

func (s *InsertStatement) statementNode() {}

// CreateCollectionStatement is CREATE COLLECTION name type.
type CreateCollectionStatement struct {
	Name string
	Type string
}

func (s *CreateCollectionStatement) statementNode() {}

// DropCollectionStatement is DROP COLLECTION name.
type DropCollectionStatement struct {
	Name string
}

func (s *DropCollectionStatement) statementNode() {}

// DeleteStatement is DELETE FROM coll [AS alias] [WHERE cond].
type DeleteStatement struct {
	Collection string
	Alias      string
	Where      Expression
}

func (s *DeleteStatement) statementNode() {}

// Ident references an alias, an iterator or a collection name.
type Ident struct {
	Name string
}

func (e *Ident) expressionNode() {}

// Number is a numeric literal. Type comes from the suffix, or is LONG for
// integral and DOUBLE for decimal literals without one.
type Number struct {
	Value float64
	Type  types.ScalarType
	Text  string
}

func (e *Number) expressionNode() {}

// Bool is true or false.
type Bool struct {
	Value bool
}

func (e *Bool) expressionNode() {}

// String is a quoted string literal.
type String struct {
	Value string
}

func (e *String) expressionNode() {}

// Param is a positional parameter $n.
type Param struct {
	Index int
}

func (e *Param) expressionNode() {}

// BinaryExpr is an infix operation.
type BinaryExpr struct {
	Left     Expression
	Operator string
	Right    Expression
}

func (e *BinaryExpr) expressionNode() {}

// UnaryExpr is "-" or NOT.
type UnaryExpr struct {
	Operator string
	Operand  Expression
}

func (e *UnaryExpr) expressionNode() {}

// CastExpr is ((type) expr).
type CastExpr struct {
	Type types.ScalarType
	Expr Expression
}

func (e *CastExpr) expressionNode() {}

// FunctionCall is name(args...).
type FunctionCall struct {
	Name string
	Args []Expression
}

func (e *FunctionCall) expressionNode() {}

// SubsetExpr is base[elements].
type SubsetExpr struct {
	Base     Expression
	Elements []Element
}

func (e *SubsetExpr) expressionNode() {}

// FieldExpr is base.name, as in sdom(a)[0].lo.
type FieldExpr struct {
	Base Expression
	Name string
}

func (e *FieldExpr) expressionNode() {}

// Element is one entry of a subset, domain or point: "lo:hi", "at", or
// "name(lo:hi)". A nil bound is "*".
type Element struct {
	Name  string
	Lo    Expression
	Hi    Expression
	Slice bool
}

// MarrayExpr is MARRAY iter IN [domain] VALUES expr.
type MarrayExpr struct {
	Iterator string
	Domain   []Element
	Value    Expression
}

func (e *MarrayExpr) expressionNode() {}

// CondenseExpr is CONDENSE op OVER iter IN [domain] USING expr.
type CondenseExpr struct {
	Operator string
	Iterator string
	Domain   []Element
	Using    Expression
}

func (e *CondenseExpr) expressionNode() {}

// ArrayLiteral is < [domain] cell, cell, ... >.
type ArrayLiteral struct {
	Domain []Element
	Cells  []Expression
}

func (e *ArrayLiteral) expressionNode() {}

// DomainLiteral is a bare [elements] list: a point when every element is
// a slice, a spatial domain otherwise.
type DomainLiteral struct {
	Elements []Element
}

func (e *DomainLiteral) expressionNode() {}

// ParenExpr is a parenthesized expression.
type ParenExpr struct {
	Expr Expression
}

func (e *ParenExpr) expressionNode() {}
