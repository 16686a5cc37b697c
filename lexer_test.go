package wren

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lexAll(source string) ([]token, *compileErrorList) {
	errs := &compileErrorList{}
	l := newLexer("main", source, errs)
	var toks []token
	for {
		tok := l.next()
		toks = append(toks, tok)
		if tok.typ == tokenEOF {
			break
		}
	}
	return toks, errs
}

func tokenTypes(toks []token) []tokenType {
	types := make([]tokenType, len(toks))
	for i, tok := range toks {
		types[i] = tok.typ
	}
	return types
}

func TestLexer_Punctuation(t *testing.T) {
	toks, errs := lexAll("( ) [ ] { } : , . .. ...")
	require.False(t, errs.HasErrors())
	assert.Equal(t, []tokenType{
		tokenLeftParen, tokenRightParen,
		tokenLeftBracket, tokenRightBracket,
		tokenLeftBrace, tokenRightBrace,
		tokenColon, tokenComma,
		tokenDot, tokenDotDot, tokenDotDotDot,
		tokenEOF,
	}, tokenTypes(toks))
}

func TestLexer_TwoCharOperatorsDisambiguateFromOneChar(t *testing.T) {
	toks, errs := lexAll("= == ! != < <= << > >= >> & && | ||")
	require.False(t, errs.HasErrors())
	assert.Equal(t, []tokenType{
		tokenEq, tokenEqEq,
		tokenBang, tokenBangEq,
		tokenLt, tokenLtEq, tokenLtLt,
		tokenGt, tokenGtEq, tokenGtGt,
		tokenAmp, tokenAmpAmp,
		tokenPipe, tokenPipePipe,
		tokenEOF,
	}, tokenTypes(toks))
}

func TestLexer_KeywordsAreNotPlainNames(t *testing.T) {
	toks, errs := lexAll("class construct foreign static super this is if")
	require.False(t, errs.HasErrors())
	assert.Equal(t, []tokenType{
		tokenClass, tokenConstruct, tokenForeign, tokenStatic,
		tokenSuper, tokenThis, tokenIs, tokenIf,
		tokenEOF,
	}, tokenTypes(toks))
}

func TestLexer_NameVsFieldVsStaticField(t *testing.T) {
	toks, errs := lexAll("foo _bar __baz")
	require.False(t, errs.HasErrors())
	require.Len(t, toks, 4)
	assert.Equal(t, tokenName, toks[0].typ)
	assert.Equal(t, "foo", toks[0].value.(*ObjString).Value)
	assert.Equal(t, tokenField, toks[1].typ)
	assert.Equal(t, "_bar", toks[1].value.(*ObjString).Value)
	assert.Equal(t, tokenStaticField, toks[2].typ)
	assert.Equal(t, "__baz", toks[2].value.(*ObjString).Value)
}

func TestLexer_DecimalAndScientificNumbers(t *testing.T) {
	toks, errs := lexAll("123 3.14 1e3 2.5e-2")
	require.False(t, errs.HasErrors())
	require.Len(t, toks, 5)
	for _, tok := range toks[:4] {
		assert.Equal(t, tokenNumber, tok.typ)
	}
	assert.Equal(t, float64(123), float64(toks[0].value.(Num)))
	assert.Equal(t, 3.14, float64(toks[1].value.(Num)))
	assert.Equal(t, 1e3, float64(toks[2].value.(Num)))
	assert.Equal(t, 2.5e-2, float64(toks[3].value.(Num)))
}

func TestLexer_HexNumber(t *testing.T) {
	toks, errs := lexAll("0xff")
	require.False(t, errs.HasErrors())
	require.Len(t, toks, 2)
	assert.Equal(t, tokenNumber, toks[0].typ)
	assert.Equal(t, float64(255), float64(toks[0].value.(Num)))
}

func TestLexer_StringEscapes(t *testing.T) {
	toks, errs := lexAll(`"a\nb\tc\"d"`)
	require.False(t, errs.HasErrors())
	require.Len(t, toks, 2)
	assert.Equal(t, tokenString, toks[0].typ)
	assert.Equal(t, "a\nb\tc\"d", toks[0].value.(*ObjString).Value)
}

func TestLexer_UnterminatedStringReportsError(t *testing.T) {
	_, errs := lexAll(`"unterminated`)
	require.True(t, errs.HasErrors())
}

// TestLexer_StringInterpolationSplitsIntoSegments pins the
// interpolation state machine's boundary rule: "a %( 1 + 2 ) b" lexes
// as an interpolation-head segment, the embedded expression's own
// tokens, and a closing string segment resumed from the matching ')'.
func TestLexer_StringInterpolationSplitsIntoSegments(t *testing.T) {
	toks, errs := lexAll(`"a %(1 + 2) b"`)
	require.False(t, errs.HasErrors())

	require.GreaterOrEqual(t, len(toks), 5)
	assert.Equal(t, tokenInterpolation, toks[0].typ)
	assert.Equal(t, "a ", toks[0].value.(*ObjString).Value)

	assert.Equal(t, tokenNumber, toks[1].typ)
	assert.Equal(t, tokenPlus, toks[2].typ)
	assert.Equal(t, tokenNumber, toks[3].typ)

	last := toks[len(toks)-2]
	assert.Equal(t, tokenString, last.typ)
	assert.Equal(t, " b", last.value.(*ObjString).Value)
}

// TestLexer_NestedParensInsideInterpolationDontCloseIt guards the
// parens/numParens nesting counter: a parenthesized sub-expression
// inside %(...) must not be mistaken for the interpolation's own
// closing paren.
func TestLexer_NestedParensInsideInterpolationDontCloseIt(t *testing.T) {
	toks, errs := lexAll(`"x %((1 + 2) * 3) y"`)
	require.False(t, errs.HasErrors())

	var types []tokenType
	for _, tok := range toks {
		types = append(types, tok.typ)
	}
	// The inner "(1 + 2)" pair must appear as ordinary parens, and the
	// string must resume ("y") only once the interpolation's own
	// paren depth returns to zero.
	assert.Contains(t, types, tokenLeftParen)
	assert.Contains(t, types, tokenRightParen)
	last := toks[len(toks)-2]
	assert.Equal(t, tokenString, last.typ)
	assert.Equal(t, " y", last.value.(*ObjString).Value)
}

func TestLexer_RawStringDedentsBracketingWhitespaceLines(t *testing.T) {
	src := "\"\"\"\n    line one\n    line two\n    \"\"\""
	toks, errs := lexAll(src)
	require.False(t, errs.HasErrors())
	require.Len(t, toks, 2)
	assert.Equal(t, tokenString, toks[0].typ)
	assert.Equal(t, "    line one\n    line two", toks[0].value.(*ObjString).Value)
}

func TestLexer_LineCommentAndBlockCommentAreSkipped(t *testing.T) {
	toks, errs := lexAll("1 // trailing comment\n/* block\ncomment */ 2")
	require.False(t, errs.HasErrors())
	var nums []tokenType
	for _, tok := range toks {
		if tok.typ == tokenNumber {
			nums = append(nums, tok.typ)
		}
	}
	assert.Len(t, nums, 2)
}

func TestLexer_ShebangOnFirstLineIsSkipped(t *testing.T) {
	toks, errs := lexAll("#!/usr/bin/env wren\nSystem")
	require.False(t, errs.HasErrors())
	// The shebang body is swallowed, but the newline that ends it still
	// lexes as its own tokenLine before the following name token.
	require.Len(t, toks, 3)
	assert.Equal(t, tokenLine, toks[0].typ)
	assert.Equal(t, tokenName, toks[1].typ)
	assert.Equal(t, "System", toks[1].value.(*ObjString).Value)
}

func TestLexer_InvalidCharacterReportsError(t *testing.T) {
	_, errs := lexAll("`")
	require.True(t, errs.HasErrors())
}
