package dsl

import (
	"strings"
	"unicode"
)

type tokenKind int

const (
	tkNumber tokenKind = iota // 42, 0.8, -3.14
	tkString                  // "hello" or 'hello'
	tkIdent                   // path, true/false/null, contains
	tkOp                      // == != > < >= <= && || ! + - * / %
	tkLParen
	tkRParen
)

type token struct {
	kind  tokenKind
	value string
}

// lexer splits an expression into tokens. pos of each token is kept in
// positions so syntax errors can point at the source.
type lexer struct {
	src       []rune
	i         int
	tokens    []token
	positions []int
}

func tokenize(expr string) ([]token, error) {
	toks, _, err := lex(expr)
	return toks, err
}

func lex(expr string) ([]token, []int, error) {
	l := &lexer{src: []rune(expr)}
	for l.i < len(l.src) {
		if err := l.next(); err != nil {
			return nil, nil, err
		}
	}
	return l.tokens, l.positions, nil
}

func (l *lexer) emit(kind tokenKind, value string, start int) {
	l.tokens = append(l.tokens, token{kind, value})
	l.positions = append(l.positions, start)
}

func (l *lexer) peekAt(off int) rune {
	if l.i+off < len(l.src) {
		return l.src[l.i+off]
	}
	return 0
}

func (l *lexer) next() error {
	start := l.i
	ch := l.src[l.i]

	switch {
	case unicode.IsSpace(ch):
		l.i++
		return nil
	case ch == '(':
		l.i++
		l.emit(tkLParen, "(", start)
		return nil
	case ch == ')':
		l.i++
		l.emit(tkRParen, ")", start)
		return nil
	case ch == '"' || ch == '\'':
		return l.str()
	}

	switch two := string(ch) + string(l.peekAt(1)); two {
	case "==", "!=", ">=", "<=", "&&", "||":
		l.i += 2
		l.emit(tkOp, two, start)
		return nil
	}

	if isDigit(ch) || (ch == '-' && isDigit(l.peekAt(1)) && l.operandExpected()) {
		l.number()
		return nil
	}

	switch ch {
	case '>', '<', '!', '+', '-', '*', '/', '%':
		l.i++
		l.emit(tkOp, string(ch), start)
		return nil
	}

	if unicode.IsLetter(ch) || ch == '_' {
		for l.i < len(l.src) && isIdentPart(l.src[l.i]) {
			l.i++
		}
		l.emit(tkIdent, string(l.src[start:l.i]), start)
		return nil
	}
	return &SyntaxError{Pos: start, Msg: "unexpected character " + quoteRune(ch)}
}

func (l *lexer) str() error {
	start := l.i
	quote := l.src[l.i]
	l.i++
	var sb strings.Builder
	for l.i < len(l.src) {
		ch := l.src[l.i]
		switch {
		case ch == '\\' && l.i+1 < len(l.src):
			sb.WriteRune(l.src[l.i+1])
			l.i += 2
		case ch == quote:
			l.i++
			l.emit(tkString, sb.String(), start)
			return nil
		default:
			sb.WriteRune(ch)
			l.i++
		}
	}
	return &SyntaxError{Pos: start, Msg: "unterminated string"}
}

func (l *lexer) number() {
	start := l.i
	if l.src[l.i] == '-' {
		l.i++
	}
	l.digits()
	if l.peekAt(0) == '.' && isDigit(l.peekAt(1)) {
		l.i++
		l.digits()
	}
	l.emit(tkNumber, string(l.src[start:l.i]), start)
}

func (l *lexer) digits() {
	for l.i < len(l.src) && isDigit(l.src[l.i]) {
		l.i++
	}
}

// operandExpected reports whether a '-' starts a negative literal rather
// than a subtraction: at the start, after an operator, '(' or contains.
func (l *lexer) operandExpected() bool {
	if len(l.tokens) == 0 {
		return true
	}
	last := l.tokens[len(l.tokens)-1]
	return last.kind == tkOp || last.kind == tkLParen ||
		(last.kind == tkIdent && last.value == "contains")
}

func isDigit(ch rune) bool { return ch >= '0' && ch <= '9' }

// node ids such as http-1 are valid path segments
func isIdentPart(ch rune) bool {
	return unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_' || ch == '.' || ch == '-'
}

func quoteRune(ch rune) string { return "'" + string(ch) + "'" }
