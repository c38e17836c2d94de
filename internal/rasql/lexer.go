// Package rasql parses the array query language spoken by the array
// engine: the SELECT/INSERT statements the federation layer emits and the
// collection DDL around them.
package rasql

import (
	"fmt"
	"strings"
	"unicode"
)

// TokenType represents the type of a lexical token.
type TokenType int

const (
	// Special tokens
	TokenEOF TokenType = iota
	TokenError
	TokenIdent
	TokenNumber
	TokenString
	TokenParam

	// Keywords
	TokenSelect
	TokenFrom
	TokenWhere
	TokenAs
	TokenAnd
	TokenOr
	TokenNot
	TokenInsert
	TokenInto
	TokenValues
	TokenCreate
	TokenDrop
	TokenDelete
	TokenCollection
	TokenMarray
	TokenCondense
	TokenOver
	TokenUsing
	TokenIn
	TokenTrue
	TokenFalse

	// Operators
	TokenEq       // =
	TokenNe       // != or <>
	TokenLt       // <
	TokenGt       // >
	TokenLe       // <=
	TokenGe       // >=
	TokenPlus     // +
	TokenMinus    // -
	TokenStar     // *
	TokenSlash    // /
	TokenComma    // ,
	TokenColon    // :
	TokenLParen   // (
	TokenRParen   // )
	TokenLBracket // [
	TokenRBracket // ]
	TokenDot      // .
)

var tokenNames = map[TokenType]string{
	TokenEOF:        "EOF",
	TokenError:      "ERROR",
	TokenIdent:      "IDENT",
	TokenNumber:     "NUMBER",
	TokenString:     "STRING",
	TokenParam:      "PARAM",
	TokenSelect:     "SELECT",
	TokenFrom:       "FROM",
	TokenWhere:      "WHERE",
	TokenAs:         "AS",
	TokenAnd:        "AND",
	TokenOr:         "OR",
	TokenNot:        "NOT",
	TokenInsert:     "INSERT",
	TokenInto:       "INTO",
	TokenValues:     "VALUES",
	TokenCreate:     "CREATE",
	TokenDrop:       "DROP",
	TokenDelete:     "DELETE",
	TokenCollection: "COLLECTION",
	TokenMarray:     "MARRAY",
	TokenCondense:   "CONDENSE",
	TokenOver:       "OVER",
	TokenUsing:      "USING",
	TokenIn:         "IN",
	TokenTrue:       "TRUE",
	TokenFalse:      "FALSE",
	TokenEq:         "=",
	TokenNe:         "!=",
	TokenLt:         "<",
	TokenGt:         ">",
	TokenLe:         "<=",
	TokenGe:         ">=",
	TokenPlus:       "+",
	TokenMinus:      "-",
	TokenStar:       "*",
	TokenSlash:      "/",
	TokenComma:      ",",
	TokenColon:      ":",
	TokenLParen:     "(",
	TokenRParen:     ")",
	TokenLBracket:   "[",
	TokenRBracket:   "]",
	TokenDot:        ".",
}

// String returns the string representation of a TokenType.
func (t TokenType) String() string {
	if s, ok := tokenNames[t]; ok {
		return s
	}
	return "UNKNOWN"
}

// Token represents a lexical token.
type Token struct {
	Type    TokenType
	Literal string
	Pos     int // Position in input
}

func (t Token) String() string {
	return fmt.Sprintf("Token{%s, %q, %d}", t.Type, t.Literal, t.Pos)
}

// keywords maps rasql keywords to their token types.
var keywords = map[string]TokenType{
	"SELECT":     TokenSelect,
	"FROM":       TokenFrom,
	"WHERE":      TokenWhere,
	"AS":         TokenAs,
	"AND":        TokenAnd,
	"OR":         TokenOr,
	"NOT":        TokenNot,
	"INSERT":     TokenInsert,
	"INTO":       TokenInto,
	"VALUES":     TokenValues,
	"CREATE":     TokenCreate,
	"DROP":       TokenDrop,
	"DELETE":     TokenDelete,
	"COLLECTION": TokenCollection,
	"MARRAY":     TokenMarray,
	"CONDENSE":   TokenCondense,
	"OVER":       TokenOver,
	"USING":      TokenUsing,
	"IN":         TokenIn,
	"TRUE":       TokenTrue,
	"FALSE":      TokenFalse,
}

// numberSuffixes are the cell type suffixes a numeric literal may carry.
var numberSuffixes = []string{"ul", "us", "c", "o", "s", "l", "f", "d"}

// Lexer tokenizes rasql input.
type Lexer struct {
	input   string
	pos     int  // Current position in input
	readPos int  // Reading position (after current char)
	ch      byte // Current character
}

// NewLexer creates a new Lexer for the given input.
func NewLexer(input string) *Lexer {
	l := &Lexer{input: input}
	l.readChar()
	return l
}

func (l *Lexer) readChar() {
	if l.readPos >= len(l.input) {
		l.ch = 0 // EOF
	} else {
		l.ch = l.input[l.readPos]
	}
	l.pos = l.readPos
	l.readPos++
}

func (l *Lexer) peekChar() byte {
	if l.readPos >= len(l.input) {
		return 0
	}
	return l.input[l.readPos]
}

func (l *Lexer) skipWhitespace() {
	for l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r' {
		l.readChar()
	}
}

// NextToken returns the next token from the input.
func (l *Lexer) NextToken() Token {
	l.skipWhitespace()

	startPos := l.pos
	var tok Token

	switch l.ch {
	case '=':
		tok = Token{Type: TokenEq, Literal: "=", Pos: startPos}
	case '<':
		if l.peekChar() == '=' {
			l.readChar()
			tok = Token{Type: TokenLe, Literal: "<=", Pos: startPos}
		} else if l.peekChar() == '>' {
			l.readChar()
			tok = Token{Type: TokenNe, Literal: "<>", Pos: startPos}
		} else {
			tok = Token{Type: TokenLt, Literal: "<", Pos: startPos}
		}
	case '>':
		if l.peekChar() == '=' {
			l.readChar()
			tok = Token{Type: TokenGe, Literal: ">=", Pos: startPos}
		} else {
			tok = Token{Type: TokenGt, Literal: ">", Pos: startPos}
		}
	case '!':
		if l.peekChar() == '=' {
			l.readChar()
			tok = Token{Type: TokenNe, Literal: "!=", Pos: startPos}
		} else {
			tok = Token{Type: TokenError, Literal: string(l.ch), Pos: startPos}
		}
	case '+':
		tok = Token{Type: TokenPlus, Literal: "+", Pos: startPos}
	case '-':
		tok = Token{Type: TokenMinus, Literal: "-", Pos: startPos}
	case '*':
		tok = Token{Type: TokenStar, Literal: "*", Pos: startPos}
	case '/':
		tok = Token{Type: TokenSlash, Literal: "/", Pos: startPos}
	case ',':
		tok = Token{Type: TokenComma, Literal: ",", Pos: startPos}
	case ':':
		tok = Token{Type: TokenColon, Literal: ":", Pos: startPos}
	case '(':
		tok = Token{Type: TokenLParen, Literal: "(", Pos: startPos}
	case ')':
		tok = Token{Type: TokenRParen, Literal: ")", Pos: startPos}
	case '[':
		tok = Token{Type: TokenLBracket, Literal: "[", Pos: startPos}
	case ']':
		tok = Token{Type: TokenRBracket, Literal: "]", Pos: startPos}
	case '.':
		tok = Token{Type: TokenDot, Literal: ".", Pos: startPos}
	case '"', '\'':
		tok = l.readString(l.ch)
	case '$':
		return l.readParam()
	case 0:
		tok = Token{Type: TokenEOF, Literal: "", Pos: startPos}
	default:
		if isLetter(l.ch) || l.ch == '_' {
			return l.readIdentifier()
		} else if isDigit(l.ch) {
			return l.readNumber()
		}
		tok = Token{Type: TokenError, Literal: string(l.ch), Pos: startPos}
	}

	l.readChar()
	return tok
}

func (l *Lexer) readIdentifier() Token {
	startPos := l.pos
	for isLetter(l.ch) || isDigit(l.ch) || l.ch == '_' {
		l.readChar()
	}
	literal := l.input[startPos:l.pos]
	if tokType, ok := keywords[strings.ToUpper(literal)]; ok {
		return Token{Type: tokType, Literal: strings.ToUpper(literal), Pos: startPos}
	}
	return Token{Type: TokenIdent, Literal: literal, Pos: startPos}
}

// readNumber reads a numeric literal with an optional exponent and cell
// type suffix.
func (l *Lexer) readNumber() Token {
	startPos := l.pos
	hasDecimal := false
	for isDigit(l.ch) || (l.ch == '.' && !hasDecimal && isDigit(l.peekChar())) {
		if l.ch == '.' {
			hasDecimal = true
		}
		l.readChar()
	}
	if l.ch == 'e' || l.ch == 'E' {
		next := l.peekChar()
		if isDigit(next) || next == '+' || next == '-' {
			l.readChar()
			if l.ch == '+' || l.ch == '-' {
				l.readChar()
			}
			for isDigit(l.ch) {
				l.readChar()
			}
		}
	}
	rest := l.input[l.pos:]
	for _, sfx := range numberSuffixes {
		if strings.HasPrefix(rest, sfx) && !isIdentChar(charAt(rest, len(sfx))) {
			for range sfx {
				l.readChar()
			}
			break
		}
	}
	return Token{Type: TokenNumber, Literal: l.input[startPos:l.pos], Pos: startPos}
}

// readString reads a string literal enclosed in quote.
func (l *Lexer) readString(quote byte) Token {
	startPos := l.pos
	l.readChar() // Skip opening quote
	for l.ch != 0 {
		if l.ch == quote {
			if quote == '\'' && l.peekChar() == '\'' {
				l.readChar()
				l.readChar()
				continue
			}
			break
		}
		if l.ch == '\\' && quote == '"' {
			l.readChar()
		}
		l.readChar()
	}
	if l.ch == 0 {
		return Token{Type: TokenError, Literal: "unterminated string", Pos: startPos}
	}
	// the closing quote is consumed by NextToken
	return Token{Type: TokenString, Literal: l.input[startPos : l.pos+1], Pos: startPos}
}

func (l *Lexer) readParam() Token {
	startPos := l.pos
	l.readChar() // Skip $
	for isDigit(l.ch) {
		l.readChar()
	}
	if l.pos == startPos+1 {
		return Token{Type: TokenError, Literal: "$", Pos: startPos}
	}
	return Token{Type: TokenParam, Literal: l.input[startPos+1 : l.pos], Pos: startPos}
}

// Tokenize returns all tokens from the input.
func (l *Lexer) Tokenize() []Token {
	var tokens []Token
	for {
		tok := l.NextToken()
		tokens = append(tokens, tok)
		if tok.Type == TokenEOF || tok.Type == TokenError {
			break
		}
	}
	return tokens
}

func charAt(s string, i int) byte {
	if i >= len(s) {
		return 0
	}
	return s[i]
}

func isIdentChar(ch byte) bool {
	return isLetter(ch) || isDigit(ch) || ch == '_'
}

func isLetter(ch byte) bool {
	return ch != 0 && unicode.IsLetter(rune(ch))
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}
