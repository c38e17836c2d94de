package rasql

import (
	"testing"

	"github.com/misev/asqldb/pkg/types"
)

func TestLexer(t *testing.T) {
	tests := []struct {
		input    string
		expected []TokenType
	}{
		{
			"SELECT a + b FROM arr AS a",
			[]TokenType{TokenSelect, TokenIdent, TokenPlus, TokenIdent, TokenFrom, TokenIdent, TokenAs, TokenIdent, TokenEOF},
		},
		{
			"a[*:*,0:3]",
			[]TokenType{TokenIdent, TokenLBracket, TokenStar, TokenColon, TokenStar, TokenComma, TokenNumber, TokenColon, TokenNumber, TokenRBracket, TokenEOF},
		},
		{
			"< [0:1] 1s, -2.5d >",
			[]TokenType{TokenLt, TokenLBracket, TokenNumber, TokenColon, TokenNumber, TokenRBracket, TokenNumber, TokenComma, TokenMinus, TokenNumber, TokenGt, TokenEOF},
		},
		{
			"decode($1) <> 'x'",
			[]TokenType{TokenIdent, TokenLParen, TokenParam, TokenRParen, TokenNe, TokenString, TokenEOF},
		},
		{
			"sdom(a)[0].lo <= 1e3",
			[]TokenType{TokenIdent, TokenLParen, TokenIdent, TokenRParen, TokenLBracket, TokenNumber, TokenRBracket, TokenDot, TokenIdent, TokenLe, TokenNumber, TokenEOF},
		},
	}

	for _, tt := range tests {
		tokens := NewLexer(tt.input).Tokenize()
		if len(tokens) != len(tt.expected) {
			t.Errorf("input %q: expected %d tokens, got %d", tt.input, len(tt.expected), len(tokens))
			continue
		}
		for i, tok := range tokens {
			if tok.Type != tt.expected[i] {
				t.Errorf("input %q: token %d: expected %s, got %s", tt.input, i, tt.expected[i], tok.Type)
			}
		}
	}
}

func TestLexerNumberSuffixes(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"12", "12"},
		{"1.5d", "1.5d"},
		{"7ul", "7ul"},
		{"3c", "3c"},
		{"2.5E-3f", "2.5E-3f"},
		{"4 ", "4"},
	}
	for _, tt := range tests {
		tok := NewLexer(tt.input).NextToken()
		if tok.Type != TokenNumber || tok.Literal != tt.want {
			t.Errorf("input %q: got %s", tt.input, tok)
		}
	}

	// a suffix followed by more identifier characters is not a suffix
	tokens := NewLexer("1sx").Tokenize()
	if len(tokens) != 3 || tokens[0].Literal != "1" || tokens[1].Literal != "sx" {
		t.Errorf("1sx tokenized as %v", tokens)
	}
}

func TestParseSelectMultipleAliases(t *testing.T) {
	stmt, err := Parse("SELECT a + b FROM arr AS a, arr AS b WHERE oid(a) = 7 AND oid(b) = 7")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sel, ok := stmt.(*SelectStatement)
	if !ok {
		t.Fatalf("expected SelectStatement, got %T", stmt)
	}
	if len(sel.From) != 2 || sel.From[0] != (CollectionRef{"arr", "a"}) || sel.From[1] != (CollectionRef{"arr", "b"}) {
		t.Errorf("unexpected FROM %+v", sel.From)
	}

	bin, ok := sel.Expr.(*BinaryExpr)
	if !ok || bin.Operator != "+" {
		t.Fatalf("expected + expression, got %#v", sel.Expr)
	}

	where, ok := sel.Where.(*BinaryExpr)
	if !ok || where.Operator != "and" {
		t.Fatalf("expected AND in WHERE, got %#v", sel.Where)
	}
	left, ok := where.Left.(*BinaryExpr)
	if !ok || left.Operator != "=" {
		t.Fatalf("expected = on the left, got %#v", where.Left)
	}
	call, ok := left.Left.(*FunctionCall)
	if !ok || call.Name != "oid" || len(call.Args) != 1 {
		t.Errorf("expected oid(a), got %#v", left.Left)
	}
}

func TestParseAliasDefaultsToCollection(t *testing.T) {
	stmt, err := Parse("SELECT c FROM c")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sel := stmt.(*SelectStatement)
	if len(sel.From) != 1 || sel.From[0].Alias != "c" {
		t.Errorf("unexpected FROM %+v", sel.From)
	}
}

func TestParseSubset(t *testing.T) {
	expr, err := ParseExpression("a[5, 0:*]")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sub, ok := expr.(*SubsetExpr)
	if !ok {
		t.Fatalf("expected SubsetExpr, got %T", expr)
	}
	if len(sub.Elements) != 2 {
		t.Fatalf("expected 2 elements, got %d", len(sub.Elements))
	}
	if !sub.Elements[0].Slice {
		t.Error("first element should be a slice")
	}
	if sub.Elements[1].Slice || sub.Elements[1].Lo == nil || sub.Elements[1].Hi != nil {
		t.Errorf("second element should be 0:*, got %+v", sub.Elements[1])
	}

	expr, err = ParseExpression("a[*:*,0:3]")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sub = expr.(*SubsetExpr)
	if sub.Elements[0].Lo != nil || sub.Elements[0].Hi != nil || sub.Elements[0].Slice {
		t.Errorf("first element should be *:*, got %+v", sub.Elements[0])
	}
}

func TestParseFieldAccess(t *testing.T) {
	expr, err := ParseExpression("sdom(a)[3].hi - sdom(b)[3].lo + 1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// left associative: (hi - lo) + 1
	top, ok := expr.(*BinaryExpr)
	if !ok || top.Operator != "+" {
		t.Fatalf("expected + at the top, got %#v", expr)
	}
	diff, ok := top.Left.(*BinaryExpr)
	if !ok || diff.Operator != "-" {
		t.Fatalf("expected - on the left, got %#v", top.Left)
	}
	field, ok := diff.Left.(*FieldExpr)
	if !ok || field.Name != "hi" {
		t.Fatalf("expected .hi, got %#v", diff.Left)
	}
	if _, ok := field.Base.(*SubsetExpr); !ok {
		t.Errorf("expected subset under field, got %T", field.Base)
	}
}

func TestParsePrecedence(t *testing.T) {
	expr, err := ParseExpression("1 + 2 * 3 > 4 and not true")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	and, ok := expr.(*BinaryExpr)
	if !ok || and.Operator != "and" {
		t.Fatalf("expected and at the top, got %#v", expr)
	}
	if u, ok := and.Right.(*UnaryExpr); !ok || u.Operator != "not" {
		t.Errorf("expected not on the right, got %#v", and.Right)
	}
	cmp := and.Left.(*BinaryExpr)
	if cmp.Operator != ">" {
		t.Fatalf("expected >, got %s", cmp.Operator)
	}
	sum := cmp.Left.(*BinaryExpr)
	if sum.Operator != "+" {
		t.Fatalf("expected +, got %s", sum.Operator)
	}
	if prod, ok := sum.Right.(*BinaryExpr); !ok || prod.Operator != "*" {
		t.Errorf("expected * under +, got %#v", sum.Right)
	}
}

func TestParseCast(t *testing.T) {
	expr, err := ParseExpression("((float) a) > b")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cmp := expr.(*BinaryExpr)
	paren, ok := cmp.Left.(*ParenExpr)
	if !ok {
		t.Fatalf("expected parenthesized cast, got %T", cmp.Left)
	}
	cast, ok := paren.Expr.(*CastExpr)
	if !ok || cast.Type != types.Real {
		t.Fatalf("expected float cast, got %#v", paren.Expr)
	}
	if id, ok := cast.Expr.(*Ident); !ok || id.Name != "a" {
		t.Errorf("expected cast of a, got %#v", cast.Expr)
	}

	// an identifier that is not a type name stays a group
	expr, err = ParseExpression("(a) + 1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := expr.(*BinaryExpr).Left.(*ParenExpr); !ok {
		t.Error("expected (a) to parse as a group")
	}
}

func TestParseMarrayCondense(t *testing.T) {
	stmt, err := Parse("SELECT (marray x in [i(0:9)] values CONDENSE + OVER it1 in [j(0:9)] USING a[x[0], it1[0]]) FROM rastest AS a WHERE oid(a) = 1025")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sel := stmt.(*SelectStatement)
	paren, ok := sel.Expr.(*ParenExpr)
	if !ok {
		t.Fatalf("expected ParenExpr, got %T", sel.Expr)
	}
	m, ok := paren.Expr.(*MarrayExpr)
	if !ok {
		t.Fatalf("expected MarrayExpr, got %T", paren.Expr)
	}
	if m.Iterator != "x" || len(m.Domain) != 1 || m.Domain[0].Name != "i" {
		t.Errorf("unexpected marray header %+v", m)
	}
	c, ok := m.Value.(*CondenseExpr)
	if !ok {
		t.Fatalf("expected CondenseExpr, got %T", m.Value)
	}
	if c.Operator != "+" || c.Iterator != "it1" || c.Domain[0].Name != "j" {
		t.Errorf("unexpected condense header %+v", c)
	}
	sub, ok := c.Using.(*SubsetExpr)
	if !ok || len(sub.Elements) != 2 {
		t.Fatalf("expected 2-element subset, got %#v", c.Using)
	}
	if sel.Where == nil {
		t.Error("expected WHERE clause")
	}
}

func TestParseCondenseOperators(t *testing.T) {
	for _, op := range []string{"+", "*", "and", "or", "max", "min"} {
		expr, err := ParseExpression("condense " + op + " over x in [0:3] using x[0]")
		if err != nil {
			t.Errorf("%s: unexpected error: %v", op, err)
			continue
		}
		if c := expr.(*CondenseExpr); c.Operator != op {
			t.Errorf("operator = %q, want %q", c.Operator, op)
		}
	}
	if _, err := ParseExpression("condense - over x in [0:3] using x[0]"); err == nil {
		t.Error("expected error for - condenser")
	}
}

func TestParseArrayLiteral(t *testing.T) {
	expr, err := ParseExpression("< [0:2] 1.5d, 2d, -3.25d >")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	lit, ok := expr.(*ArrayLiteral)
	if !ok {
		t.Fatalf("expected ArrayLiteral, got %T", expr)
	}
	if len(lit.Domain) != 1 || len(lit.Cells) != 3 {
		t.Fatalf("unexpected literal shape %+v", lit)
	}
	n := lit.Cells[0].(*Number)
	if n.Value != 1.5 || n.Type != types.Double {
		t.Errorf("first cell = %+v", n)
	}
	neg, ok := lit.Cells[2].(*UnaryExpr)
	if !ok || neg.Operator != "-" {
		t.Errorf("third cell = %#v", lit.Cells[2])
	}

	expr, err = ParseExpression("< [0:1] 1s, 2s >")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := expr.(*ArrayLiteral).Cells[1].(*Number); n.Type != types.SmallInt || n.Value != 2 {
		t.Errorf("short cell = %+v", n)
	}
}

func TestParseNumberTypes(t *testing.T) {
	tests := []struct {
		input string
		want  types.ScalarType
	}{
		{"1", types.Integer},
		{"1.0", types.Double},
		{"1e2", types.Double},
		{"1c", types.TinyInt},
		{"1o", types.TinyInt},
		{"1us", types.SmallInt},
		{"1l", types.Integer},
		{"1f", types.Real},
		{"1d", types.Double},
	}
	for _, tt := range tests {
		expr, err := ParseExpression(tt.input)
		if err != nil {
			t.Errorf("%s: unexpected error: %v", tt.input, err)
			continue
		}
		if n := expr.(*Number); n.Type != tt.want {
			t.Errorf("%s: type = %s, want %s", tt.input, n.Type, tt.want)
		}
	}
}

func TestParseInsert(t *testing.T) {
	stmt, err := Parse("INSERT INTO PUBLIC_T_A VALUES decode($1)")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ins, ok := stmt.(*InsertStatement)
	if !ok {
		t.Fatalf("expected InsertStatement, got %T", stmt)
	}
	if ins.Collection != "PUBLIC_T_A" {
		t.Errorf("collection = %q", ins.Collection)
	}
	call, ok := ins.Value.(*FunctionCall)
	if !ok || call.Name != "decode" {
		t.Fatalf("expected decode call, got %#v", ins.Value)
	}
	if p, ok := call.Args[0].(*Param); !ok || p.Index != 1 {
		t.Errorf("expected $1, got %#v", call.Args[0])
	}
}

func TestParseCollectionDDL(t *testing.T) {
	stmt, err := Parse("create collection PUBLIC_T_A ShortSet1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	create, ok := stmt.(*CreateCollectionStatement)
	if !ok || create.Name != "PUBLIC_T_A" || create.Type != "ShortSet1" {
		t.Errorf("unexpected create %#v", stmt)
	}

	stmt, err = Parse("DROP COLLECTION PUBLIC_T_A")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if drop, ok := stmt.(*DropCollectionStatement); !ok || drop.Name != "PUBLIC_T_A" {
		t.Errorf("unexpected drop %#v", stmt)
	}
}

func TestParseDelete(t *testing.T) {
	stmt, err := Parse("delete from PUBLIC_T_A as c where oid(c) = 1025")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	del, ok := stmt.(*DeleteStatement)
	if !ok {
		t.Fatalf("expected DeleteStatement, got %T", stmt)
	}
	if del.Collection != "PUBLIC_T_A" || del.Alias != "c" {
		t.Errorf("got collection %q alias %q", del.Collection, del.Alias)
	}
	if cmp, ok := del.Where.(*BinaryExpr); !ok || cmp.Operator != "=" {
		t.Errorf("unexpected where %#v", del.Where)
	}

	stmt, err = Parse("DELETE FROM coll")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if del := stmt.(*DeleteStatement); del.Alias != "coll" || del.Where != nil {
		t.Errorf("unexpected delete %#v", del)
	}
}

func TestParseStrings(t *testing.T) {
	expr, err := ParseExpression(`encode(a, "png")`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s := expr.(*FunctionCall).Args[1].(*String); s.Value != "png" {
		t.Errorf("format = %q", s.Value)
	}
	expr, err = ParseExpression(`'it''s'`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s := expr.(*String); s.Value != "it's" {
		t.Errorf("value = %q", s.Value)
	}
}

func TestParseErrors(t *testing.T) {
	inputs := []string{
		"",
		"SELECT",
		"SELECT a FROM",
		"SELECT a[0 FROM c",
		"INSERT c VALUES 1",
		"CREATE COLLECTION c",
		"SELECT (a + 1",
		"SELECT a b c",
		"SELECT < [0:1] a, b >",
		"SELECT $x",
		"UPDATE c",
		"DELETE c",
	}
	for _, input := range inputs {
		_, err := Parse(input)
		if err == nil {
			t.Errorf("input %q: expected error", input)
			continue
		}
		if _, ok := err.(*ParseError); !ok {
			t.Errorf("input %q: expected *ParseError, got %T", input, err)
		}
	}
}
