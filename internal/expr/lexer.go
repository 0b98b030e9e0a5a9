package expr

import (
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokIdent
	tokString
	tokLParen
	tokRParen
	tokLBrace
	tokRBrace
	tokComma
	tokAssign
	tokPlus
	tokMinus
	tokStar
	tokSlash
	tokLT
	tokLE
	tokGT
	tokGE
	tokEQ
	tokNE
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

// lex splits expression text into tokens.
// Params: raw expression text.
// Returns: token list terminated by EOF or syntax error.
func lex(text string) ([]token, error) {
	tokens := make([]token, 0, len(text)/2+1)
	i := 0
	for i < len(text) {
		ch := rune(text[i])
		switch {
		case unicode.IsSpace(ch):
			i++
		case isIdentStart(ch):
			start := i
			for i < len(text) && isIdentPart(rune(text[i])) {
				i++
			}
			tokens = append(tokens, token{kind: tokIdent, text: text[start:i], pos: start})
		case ch >= '0' && ch <= '9' || ch == '.':
			start := i
			seenDot := false
			for i < len(text) && (text[i] >= '0' && text[i] <= '9' || text[i] == '.') {
				if text[i] == '.' {
					if seenDot {
						return nil, syntaxError(text, i, "unexpected '.'")
					}
					seenDot = true
				}
				i++
			}
			if text[start:i] == "." {
				return nil, syntaxError(text, start, "dangling '.'")
			}
			tokens = append(tokens, token{kind: tokNumber, text: text[start:i], pos: start})
		case ch == '\'' || ch == '"':
			start := i
			end := strings.IndexByte(text[i+1:], text[i])
			if end < 0 {
				return nil, syntaxError(text, start, "unterminated string")
			}
			tokens = append(tokens, token{kind: tokString, text: text[i+1 : i+1+end], pos: start})
			i += end + 2
		default:
			kind, width := operatorToken(text[i:])
			if width == 0 {
				return nil, syntaxError(text, i, "unexpected character %q", ch)
			}
			tokens = append(tokens, token{kind: kind, text: text[i : i+width], pos: i})
			i += width
		}
	}
	tokens = append(tokens, token{kind: tokEOF, pos: len(text)})
	return tokens, nil
}

func operatorToken(rest string) (tokenKind, int) {
	if len(rest) >= 2 {
		switch rest[:2] {
		case "<=":
			return tokLE, 2
		case ">=":
			return tokGE, 2
		case "==":
			return tokEQ, 2
		case "!=":
			return tokNE, 2
		}
	}
	switch rest[0] {
	case '(':
		return tokLParen, 1
	case ')':
		return tokRParen, 1
	case '{':
		return tokLBrace, 1
	case '}':
		return tokRBrace, 1
	case ',':
		return tokComma, 1
	case '=':
		return tokAssign, 1
	case '+':
		return tokPlus, 1
	case '-':
		return tokMinus, 1
	case '*':
		return tokStar, 1
	case '/':
		return tokSlash, 1
	case '<':
		return tokLT, 1
	case '>':
		return tokGT, 1
	}
	return tokEOF, 0
}

func isIdentStart(ch rune) bool {
	return ch == '_' || ch >= 'a' && ch <= 'z' || ch >= 'A' && ch <= 'Z'
}

func isIdentPart(ch rune) bool {
	return isIdentStart(ch) || ch >= '0' && ch <= '9'
}

// Normalize strips whitespace outside quoted strings.
// Params: raw expression text.
// Returns: text used to compare expressions across reloads.
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	var quote byte
	for i := 0; i < len(text); i++ {
		ch := text[i]
		if quote != 0 {
			b.WriteByte(ch)
			if ch == quote {
				quote = 0
			}
			continue
		}
		if ch == '\'' || ch == '"' {
			quote = ch
			b.WriteByte(ch)
			continue
		}
		if unicode.IsSpace(rune(ch)) {
			continue
		}
		b.WriteByte(ch)
	}
	return b.String()
}
