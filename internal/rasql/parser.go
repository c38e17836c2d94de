package rasql

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/misev/asqldb/pkg/types"
)

// ParseError represents a parsing error with location information.
type ParseError struct {
	Message  string
	Position int
	Token    Token
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at position %d: %s (got %s)", e.Position, e.Message, e.Token.Literal)
}

// Parser parses rasql statements into an AST.
type Parser struct {
	lexer     *Lexer
	curToken  Token
	peekToken Token
}

// NewParser creates a new Parser for the given input.
func NewParser(input string) *Parser {
	p := &Parser{lexer: NewLexer(input)}
	// Read two tokens to initialize curToken and peekToken
	p.nextToken()
	p.nextToken()
	return p
}

// Parse parses the input and returns a Statement.
func Parse(input string) (Statement, error) {
	return NewParser(input).ParseStatement()
}

// ParseExpression parses a standalone expression.
func ParseExpression(input string) (Expression, error) {
	p := NewParser(input)
	expr, err := p.parseExpression(precLowest)
	if err != nil {
		return nil, err
	}
	if err := p.expectEnd(); err != nil {
		return nil, err
	}
	return expr, nil
}

func (p *Parser) nextToken() {
	p.curToken = p.peekToken
	p.peekToken = p.lexer.NextToken()
}

func (p *Parser) curTokenIs(t TokenType) bool {
	return p.curToken.Type == t
}

func (p *Parser) peekTokenIs(t TokenType) bool {
	return p.peekToken.Type == t
}

func (p *Parser) errorf(format string, args ...any) error {
	return &ParseError{
		Message:  fmt.Sprintf(format, args...),
		Position: p.curToken.Pos,
		Token:    p.curToken,
	}
}

// expect checks the current token and advances past it.
func (p *Parser) expect(t TokenType) error {
	if !p.curTokenIs(t) {
		return p.errorf("expected %s", t)
	}
	p.nextToken()
	return nil
}

// ident returns the current identifier and advances past it.
func (p *Parser) ident(what string) (string, error) {
	if !p.curTokenIs(TokenIdent) {
		return "", p.errorf("expected %s", what)
	}
	name := p.curToken.Literal
	p.nextToken()
	return name, nil
}

func (p *Parser) expectEnd() error {
	if !p.curTokenIs(TokenEOF) {
		return p.errorf("unexpected token after statement")
	}
	return nil
}

// ParseStatement parses a rasql statement.
func (p *Parser) ParseStatement() (Statement, error) {
	var (
		stmt Statement
		err  error
	)
	switch p.curToken.Type {
	case TokenSelect:
		stmt, err = p.parseSelectStatement()
	case TokenInsert:
		stmt, err = p.parseInsertStatement()
	case TokenCreate:
		stmt, err = p.parseCreateStatement()
	case TokenDrop:
		stmt, err = p.parseDropStatement()
	case TokenDelete:
		stmt, err = p.parseDeleteStatement()
	default:
		return nil, p.errorf("expected SELECT, INSERT, CREATE, DROP or DELETE")
	}
	if err != nil {
		return nil, err
	}
	if err := p.expectEnd(); err != nil {
		return nil, err
	}
	return stmt, nil
}

func (p *Parser) parseSelectStatement() (*SelectStatement, error) {
	p.nextToken() // Skip SELECT
	stmt := &SelectStatement{}

	expr, err := p.parseExpression(precLowest)
	if err != nil {
		return nil, err
	}
	stmt.Expr = expr

	if p.curTokenIs(TokenFrom) {
		p.nextToken()
		for {
			coll, err := p.ident("collection name")
			if err != nil {
				return nil, err
			}
			ref := CollectionRef{Collection: coll, Alias: coll}
			if p.curTokenIs(TokenAs) {
				p.nextToken()
			}
			if p.curTokenIs(TokenIdent) {
				ref.Alias = p.curToken.Literal
				p.nextToken()
			}
			stmt.From = append(stmt.From, ref)
			if !p.curTokenIs(TokenComma) {
				break
			}
			p.nextToken()
		}
	}

	if p.curTokenIs(TokenWhere) {
		p.nextToken()
		where, err := p.parseExpression(precLowest)
		if err != nil {
			return nil, err
		}
		stmt.Where = where
	}
	return stmt, nil
}

func (p *Parser) parseInsertStatement() (*InsertStatement, error) {
	p.nextToken() // Skip INSERT
	if err := p.expect(TokenInto); err != nil {
		return nil, err
	}
	coll, err := p.ident("collection name")
	if err != nil {
		return nil, err
	}
	if err := p.expect(TokenValues); err != nil {
		return nil, err
	}
	value, err := p.parseExpression(precLowest)
	if err != nil {
		return nil, err
	}
	return &InsertStatement{Collection: coll, Value: value}, nil
}

func (p *Parser) parseCreateStatement() (*CreateCollectionStatement, error) {
	p.nextToken() // Skip CREATE
	if err := p.expect(TokenCollection); err != nil {
		return nil, err
	}
	name, err := p.ident("collection name")
	if err != nil {
		return nil, err
	}
	typ, err := p.ident("collection type")
	if err != nil {
		return nil, err
	}
	return &CreateCollectionStatement{Name: name, Type: typ}, nil
}

func (p *Parser) parseDropStatement() (*DropCollectionStatement, error) {
	p.nextToken() // Skip DROP
	if err := p.expect(TokenCollection); err != nil {
		return nil, err
	}
	name, err := p.ident("collection name")
	if err != nil {
		return nil, err
	}
	return &DropCollectionStatement{Name: name}, nil
}

func (p *Parser) parseDeleteStatement() (*DeleteStatement, error) {
	p.nextToken() // Skip DELETE
	if err := p.expect(TokenFrom); err != nil {
		return nil, err
	}
	coll, err := p.ident("collection name")
	if err != nil {
		return nil, err
	}
	stmt := &DeleteStatement{Collection: coll, Alias: coll}
	if p.curTokenIs(TokenAs) {
		p.nextToken()
	}
	if p.curTokenIs(TokenIdent) {
		stmt.Alias = p.curToken.Literal
		p.nextToken()
	}
	if p.curTokenIs(TokenWhere) {
		p.nextToken()
		where, err := p.parseExpression(precLowest)
		if err != nil {
			return nil, err
		}
		stmt.Where = where
	}
	return stmt, nil
}

// Operator precedence levels
const (
	precLowest  = 0
	precOr      = 1
	precAnd     = 2
	precNot     = 3
	precCompare = 4
	precAdd     = 5
	precMul     = 6
	precUnary   = 7
	precPostfix = 8
)

func (p *Parser) getPrecedence() int {
	switch p.curToken.Type {
	case TokenOr:
		return precOr
	case TokenAnd:
		return precAnd
	case TokenEq, TokenNe, TokenLt, TokenGt, TokenLe, TokenGe:
		return precCompare
	case TokenPlus, TokenMinus:
		return precAdd
	case TokenStar, TokenSlash:
		return precMul
	case TokenLBracket, TokenDot:
		return precPostfix
	default:
		return precLowest
	}
}

func (p *Parser) parseExpression(precedence int) (Expression, error) {
	left, err := p.parsePrefixExpression()
	if err != nil {
		return nil, err
	}
	for !p.curTokenIs(TokenEOF) && precedence < p.getPrecedence() {
		left, err = p.parseInfixExpression(left)
		if err != nil {
			return nil, err
		}
	}
	return left, nil
}

func (p *Parser) parsePrefixExpression() (Expression, error) {
	switch p.curToken.Type {
	case TokenIdent:
		return p.parseIdentifierOrFunction()
	case TokenNumber:
		return p.parseNumber()
	case TokenString:
		return p.parseString()
	case TokenParam:
		idx, err := strconv.Atoi(p.curToken.Literal)
		if err != nil || idx < 1 {
			return nil, p.errorf("invalid parameter")
		}
		p.nextToken()
		return &Param{Index: idx}, nil
	case TokenTrue, TokenFalse:
		b := &Bool{Value: p.curTokenIs(TokenTrue)}
		p.nextToken()
		return b, nil
	case TokenLParen:
		return p.parseGroupedExpression()
	case TokenNot:
		p.nextToken()
		operand, err := p.parseExpression(precNot)
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{Operator: "not", Operand: operand}, nil
	case TokenMinus:
		p.nextToken()
		operand, err := p.parseExpression(precUnary)
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{Operator: "-", Operand: operand}, nil
	case TokenMarray:
		return p.parseMarray()
	case TokenCondense:
		return p.parseCondense()
	case TokenLt:
		return p.parseArrayLiteral()
	case TokenLBracket:
		p.nextToken()
		elems, err := p.parseElements(true)
		if err != nil {
			return nil, err
		}
		return &DomainLiteral{Elements: elems}, nil
	default:
		return nil, p.errorf("unexpected token in expression")
	}
}

func (p *Parser) parseIdentifierOrFunction() (Expression, error) {
	name := p.curToken.Literal
	p.nextToken()
	if !p.curTokenIs(TokenLParen) {
		return &Ident{Name: name}, nil
	}

	p.nextToken() // Skip (
	call := &FunctionCall{Name: strings.ToLower(name)}
	if !p.curTokenIs(TokenRParen) {
		for {
			arg, err := p.parseExpression(precLowest)
			if err != nil {
				return nil, err
			}
			call.Args = append(call.Args, arg)
			if !p.curTokenIs(TokenComma) {
				break
			}
			p.nextToken()
		}
	}
	if err := p.expect(TokenRParen); err != nil {
		return nil, err
	}
	return call, nil
}

// parseNumber parses a numeric literal and its cell type suffix.
func (p *Parser) parseNumber() (Expression, error) {
	text := p.curToken.Literal
	digits := strings.TrimRightFunc(text, func(r rune) bool {
		return strings.ContainsRune("cosulfd", r)
	})
	suffix := text[len(digits):]

	val, err := strconv.ParseFloat(digits, 64)
	if err != nil {
		return nil, p.errorf("invalid number")
	}
	typ, ok := suffixType(suffix, digits)
	if !ok {
		return nil, p.errorf("invalid number suffix %q", suffix)
	}
	p.nextToken()
	return &Number{Value: val, Type: typ, Text: text}, nil
}

func suffixType(suffix, digits string) (types.ScalarType, bool) {
	switch suffix {
	case "":
		if strings.ContainsAny(digits, ".eE") {
			return types.Double, true
		}
		return types.Integer, true
	case "c", "o":
		return types.TinyInt, true
	case "s", "us":
		return types.SmallInt, true
	case "l", "ul":
		return types.Integer, true
	case "f":
		return types.Real, true
	case "d":
		return types.Double, true
	}
	return types.Unknown, false
}

func (p *Parser) parseString() (Expression, error) {
	lit := p.curToken.Literal
	var val string
	if strings.HasPrefix(lit, "'") {
		val = strings.ReplaceAll(lit[1:len(lit)-1], "''", "'")
	} else {
		s, err := strconv.Unquote(lit)
		if err != nil {
			return nil, p.errorf("invalid string literal")
		}
		val = s
	}
	p.nextToken()
	return &String{Value: val}, nil
}

// parseGroupedExpression parses "(expr)" or the cast "(type) expr".
func (p *Parser) parseGroupedExpression() (Expression, error) {
	p.nextToken() // Skip (

	if p.curTokenIs(TokenIdent) && p.peekTokenIs(TokenRParen) {
		if st, ok := types.ParseRasType(p.curToken.Literal); ok {
			p.nextToken()
			p.nextToken()
			operand, err := p.parseExpression(precUnary)
			if err != nil {
				return nil, err
			}
			return &CastExpr{Type: st, Expr: operand}, nil
		}
	}

	expr, err := p.parseExpression(precLowest)
	if err != nil {
		return nil, err
	}
	if err := p.expect(TokenRParen); err != nil {
		return nil, err
	}
	return &ParenExpr{Expr: expr}, nil
}

func (p *Parser) parseInfixExpression(left Expression) (Expression, error) {
	switch p.curToken.Type {
	case TokenLBracket:
		p.nextToken()
		elems, err := p.parseElements(false)
		if err != nil {
			return nil, err
		}
		return &SubsetExpr{Base: left, Elements: elems}, nil
	case TokenDot:
		p.nextToken()
		name, err := p.ident("field name")
		if err != nil {
			return nil, err
		}
		return &FieldExpr{Base: left, Name: strings.ToLower(name)}, nil
	default:
		op := strings.ToLower(p.curToken.Literal)
		if op == "<>" {
			op = "!="
		}
		precedence := p.getPrecedence()
		p.nextToken()
		right, err := p.parseExpression(precedence)
		if err != nil {
			return nil, err
		}
		return &BinaryExpr{Left: left, Operator: op, Right: right}, nil
	}
}

// parseElements parses elements up to and including the closing bracket.
// With named set, "ident(" introduces a named element.
func (p *Parser) parseElements(named bool) ([]Element, error) {
	var elems []Element
	for !p.curTokenIs(TokenRBracket) {
		el, err := p.parseElement(named)
		if err != nil {
			return nil, err
		}
		elems = append(elems, el)
		if !p.curTokenIs(TokenComma) {
			break
		}
		p.nextToken()
	}
	if err := p.expect(TokenRBracket); err != nil {
		return nil, err
	}
	return elems, nil
}

func (p *Parser) parseElement(named bool) (Element, error) {
	if named && p.curTokenIs(TokenIdent) && p.peekTokenIs(TokenLParen) {
		name := p.curToken.Literal
		p.nextToken()
		p.nextToken()
		el, err := p.parseRange()
		if err != nil {
			return Element{}, err
		}
		if err := p.expect(TokenRParen); err != nil {
			return Element{}, err
		}
		el.Name = name
		return el, nil
	}
	return p.parseRange()
}

func (p *Parser) parseRange() (Element, error) {
	lo, err := p.parseBound()
	if err != nil {
		return Element{}, err
	}
	if !p.curTokenIs(TokenColon) {
		if lo == nil {
			return Element{}, nil
		}
		return Element{Lo: lo, Slice: true}, nil
	}
	p.nextToken()
	hi, err := p.parseBound()
	if err != nil {
		return Element{}, err
	}
	return Element{Lo: lo, Hi: hi}, nil
}

// parseBound returns nil for "*".
func (p *Parser) parseBound() (Expression, error) {
	if p.curTokenIs(TokenStar) {
		p.nextToken()
		return nil, nil
	}
	return p.parseExpression(precLowest)
}

// parseDomain parses "[elements]".
func (p *Parser) parseDomain() ([]Element, error) {
	if err := p.expect(TokenLBracket); err != nil {
		return nil, err
	}
	return p.parseElements(true)
}

func (p *Parser) parseMarray() (Expression, error) {
	p.nextToken() // Skip MARRAY
	iter, err := p.ident("iterator name")
	if err != nil {
		return nil, err
	}
	if err := p.expect(TokenIn); err != nil {
		return nil, err
	}
	dom, err := p.parseDomain()
	if err != nil {
		return nil, err
	}
	if err := p.expect(TokenValues); err != nil {
		return nil, err
	}
	value, err := p.parseExpression(precLowest)
	if err != nil {
		return nil, err
	}
	return &MarrayExpr{Iterator: iter, Domain: dom, Value: value}, nil
}

func (p *Parser) parseCondense() (Expression, error) {
	p.nextToken() // Skip CONDENSE
	var op string
	switch {
	case p.curTokenIs(TokenPlus), p.curTokenIs(TokenStar), p.curTokenIs(TokenAnd), p.curTokenIs(TokenOr):
		op = strings.ToLower(p.curToken.Literal)
	case p.curTokenIs(TokenIdent) && (strings.EqualFold(p.curToken.Literal, "max") || strings.EqualFold(p.curToken.Literal, "min")):
		op = strings.ToLower(p.curToken.Literal)
	default:
		return nil, p.errorf("expected condense operator")
	}
	p.nextToken()
	if err := p.expect(TokenOver); err != nil {
		return nil, err
	}
	iter, err := p.ident("iterator name")
	if err != nil {
		return nil, err
	}
	if err := p.expect(TokenIn); err != nil {
		return nil, err
	}
	dom, err := p.parseDomain()
	if err != nil {
		return nil, err
	}
	if err := p.expect(TokenUsing); err != nil {
		return nil, err
	}
	using, err := p.parseExpression(precLowest)
	if err != nil {
		return nil, err
	}
	return &CondenseExpr{Operator: op, Iterator: iter, Domain: dom, Using: using}, nil
}

// parseArrayLiteral parses "< [domain] cell, ... >". Cells are signed
// numbers or booleans.
func (p *Parser) parseArrayLiteral() (Expression, error) {
	p.nextToken() // Skip <
	dom, err := p.parseDomain()
	if err != nil {
		return nil, err
	}
	lit := &ArrayLiteral{Domain: dom}
	for {
		cell, err := p.parseCell()
		if err != nil {
			return nil, err
		}
		lit.Cells = append(lit.Cells, cell)
		if !p.curTokenIs(TokenComma) {
			break
		}
		p.nextToken()
	}
	if err := p.expect(TokenGt); err != nil {
		return nil, err
	}
	return lit, nil
}

func (p *Parser) parseCell() (Expression, error) {
	switch p.curToken.Type {
	case TokenMinus:
		p.nextToken()
		if !p.curTokenIs(TokenNumber) {
			return nil, p.errorf("expected number in array literal")
		}
		n, err := p.parseNumber()
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{Operator: "-", Operand: n}, nil
	case TokenNumber:
		return p.parseNumber()
	case TokenTrue, TokenFalse:
		b := &Bool{Value: p.curTokenIs(TokenTrue)}
		p.nextToken()
		return b, nil
	}
	return nil, p.errorf("expected array literal cell")
}
