package guard

import "strings"

type tokenKind int

const (
	tokenWord tokenKind = iota
	tokenQuoted
	tokenString
	tokenNumber
	tokenPunct
)

type token struct {
	kind tokenKind
	text string // lower-cased for words and quoted identifiers
}

func (t token) is(kind tokenKind, text string) bool {
	return t.kind == kind && t.text == text
}

func (t token) isKeyword(word string) bool {
	return t.kind == tokenWord && t.text == word
}

// identifier reports whether the token can name a table, column or alias.
func (t token) identifier() bool {
	return t.kind == tokenQuoted || (t.kind == tokenWord && !isKeyword(t.text))
}

// tokenize splits SQL into words, quoted identifiers, literals and punctuation.
// Comments and whitespace are dropped. Unterminated literals run to the end of input.
func tokenize(sql string) []token {
	var tokens []token
	for i := 0; i < len(sql); {
		c := sql[i]
		switch {
		case isSpace(c):
			i++
		case c == '-' && i+1 < len(sql) && sql[i+1] == '-':
			for i < len(sql) && sql[i] != '\n' {
				i++
			}
		case c == '/' && i+1 < len(sql) && sql[i+1] == '*':
			end := strings.Index(sql[i+2:], "*/")
			if end < 0 {
				i = len(sql)
			} else {
				i += end + 4
			}
		case c == '\'':
			j := scanQuoted(sql, i, '\'')
			tokens = append(tokens, token{kind: tokenString, text: sql[i:j]})
			i = j
		case c == '"' || c == '`':
			j := scanQuoted(sql, i, c)
			tokens = append(tokens, token{kind: tokenQuoted, text: strings.ToLower(unquote(sql[i:j], c))})
			i = j
		case isWordStart(c):
			j := i + 1
			for j < len(sql) && isWordPart(sql[j]) {
				j++
			}
			tokens = append(tokens, token{kind: tokenWord, text: strings.ToLower(sql[i:j])})
			i = j
		case isDigit(c):
			j := i + 1
			for j < len(sql) && (isWordPart(sql[j]) || sql[j] == '.') {
				j++
			}
			tokens = append(tokens, token{kind: tokenNumber, text: sql[i:j]})
			i = j
		default:
			tokens = append(tokens, token{kind: tokenPunct, text: string(c)})
			i++
		}
	}
	return tokens
}

// scanQuoted returns the index just past the closing quote. Doubled quotes are escapes.
func scanQuoted(sql string, start int, quote byte) int {
	for i := start + 1; i < len(sql); i++ {
		if sql[i] != quote {
			continue
		}
		if i+1 < len(sql) && sql[i+1] == quote {
			i++
			continue
		}
		return i + 1
	}
	return len(sql)
}

func unquote(raw string, quote byte) string {
	raw = strings.TrimPrefix(raw, string(quote))
	raw = strings.TrimSuffix(raw, string(quote))
	return strings.ReplaceAll(raw, string([]byte{quote, quote}), string(quote))
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v'
}

func isWordStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c >= 0x80
}

func isWordPart(c byte) bool {
	return isWordStart(c) || isDigit(c) || c == '$'
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
