package dsl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenize(t *testing.T) {
	t.Parallel()

	tests := map[string][]token{
		`score > 0.8`:        {{tkIdent, "score"}, {tkOp, ">"}, {tkNumber, "0.8"}},
		`status == "active"`: {{tkIdent, "status"}, {tkOp, "=="}, {tkString, "active"}},
		`'it\'s'`:            {{tkString, "it's"}},
		`!(a||b)`:            {{tkOp, "!"}, {tkLParen, "("}, {tkIdent, "a"}, {tkOp, "||"}, {tkIdent, "b"}, {tkRParen, ")"}},
		`x - 1 > -2`:         {{tkIdent, "x"}, {tkOp, "-"}, {tkNumber, "1"}, {tkOp, ">"}, {tkNumber, "-2"}},
		`tags contains -1`:   {{tkIdent, "tags"}, {tkIdent, "contains"}, {tkNumber, "-1"}},
		`http-1.body.0`:      {{tkIdent, "http-1.body.0"}},
		"  \t ":              nil,
	}
	for expr, want := range tests {
		got, err := tokenize(expr)
		require.NoError(t, err, expr)
		assert.Equal(t, want, got, expr)
	}
}

func TestLex_Positions(t *testing.T) {
	t.Parallel()

	_, pos, err := lex(`a >= "é" && b`)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2, 5, 9, 12}, pos)
}

func TestLex_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		expr string
		pos  int
		msg  string
	}{
		{`status == "active`, 10, "unterminated string"},
		{`a @ b`, 2, "unexpected character '@'"},
		{`a = b`, 2, "unexpected character '='"},
		{`3.`, 1, "unexpected character '.'"},
	}
	for _, tt := range tests {
		_, err := tokenize(tt.expr)
		var se *SyntaxError
		require.ErrorAs(t, err, &se, tt.expr)
		assert.Equal(t, tt.pos, se.Pos, tt.expr)
		assert.Equal(t, tt.msg, se.Msg, tt.expr)
	}
}
