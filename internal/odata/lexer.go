package odata

import (
	"fmt"
	"regexp"
	"strings"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokString
	tokNumber
	tokLiteral // guid, date and datetime words
	tokTyped   // prefix'...'
	tokLParen
	tokRParen
	tokComma
	tokMinus
)

type token struct {
	kind   tokenKind
	text   string
	prefix string // typed literal prefix, lower case
	lit    Kind
	pos    int
}

var (
	guidWord     = regexp.MustCompile(`^[0-9A-Fa-f]{8}-[0-9A-Fa-f]{4}-[0-9A-Fa-f]{4}-[0-9A-Fa-f]{4}-[0-9A-Fa-f]{12}$`)
	dateWord     = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	dateTimeWord = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T[0-9:.]+(Z|[+\-]\d{2}:\d{2})?$`)
	timeWord     = regexp.MustCompile(`^\d{2}:\d{2}(:\d{2}(\.\d+)?)?$`)
	numberWord   = regexp.MustCompile(`^-?\d+(\.\d+)?([eE][+\-]?\d+)?[mMdDfFlL]?$`)
	identWord    = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(/[A-Za-z_][A-Za-z0-9_]*)*$`)
)

func isWordChar(c byte) bool {
	return c == '_' || c == '.' || c == ':' || c == '-' || c == '+' || c == '/' ||
		(c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func lex(src string) ([]token, error) {
	var out []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			out = append(out, token{kind: tokLParen, text: "(", pos: i})
			i++
		case c == ')':
			out = append(out, token{kind: tokRParen, text: ")", pos: i})
			i++
		case c == ',':
			out = append(out, token{kind: tokComma, text: ",", pos: i})
			i++
		case c == '\'':
			s, n, err := readQuoted(src, i)
			if err != nil {
				return nil, err
			}
			out = append(out, token{kind: tokString, text: s, pos: i})
			i = n
		case c == '-' && (i+1 >= len(src) || src[i+1] < '0' || src[i+1] > '9'):
			out = append(out, token{kind: tokMinus, text: "-", pos: i})
			i++
		case isWordChar(c):
			start := i
			i++
			for i < len(src) && isWordChar(src[i]) {
				i++
			}
			word := src[start:i]
			if i < len(src) && src[i] == '\'' && identWord.MatchString(word) {
				s, n, err := readQuoted(src, i)
				if err != nil {
					return nil, err
				}
				out = append(out, token{kind: tokTyped, text: s, prefix: strings.ToLower(word), pos: start})
				i = n
				continue
			}
			tok, err := classifyWord(word, start)
			if err != nil {
				return nil, err
			}
			out = append(out, tok)
		default:
			return nil, fmt.Errorf("syntax error: unexpected character %q at position %d", c, i)
		}
	}
	out = append(out, token{kind: tokEOF, pos: len(src)})
	return out, nil
}

// readQuoted reads a '...' literal starting at i where '' is an escaped quote.
func readQuoted(src string, i int) (string, int, error) {
	var b strings.Builder
	j := i + 1
	for j < len(src) {
		if src[j] == '\'' {
			if j+1 < len(src) && src[j+1] == '\'' {
				b.WriteByte('\'')
				j += 2
				continue
			}
			return b.String(), j + 1, nil
		}
		b.WriteByte(src[j])
		j++
	}
	return "", 0, fmt.Errorf("syntax error: unterminated string literal at position %d", i)
}

func classifyWord(word string, pos int) (token, error) {
	switch {
	case guidWord.MatchString(word):
		return token{kind: tokLiteral, lit: KindGuid, text: word, pos: pos}, nil
	case dateTimeWord.MatchString(word):
		return token{kind: tokLiteral, lit: KindDateTimeOffset, text: word, pos: pos}, nil
	case dateWord.MatchString(word):
		return token{kind: tokLiteral, lit: KindDate, text: word, pos: pos}, nil
	case timeWord.MatchString(word):
		return token{kind: tokLiteral, lit: KindTimeOfDay, text: word, pos: pos}, nil
	case numberWord.MatchString(word):
		return token{kind: tokNumber, text: word, pos: pos}, nil
	case identWord.MatchString(word):
		return token{kind: tokIdent, text: word, pos: pos}, nil
	}
	// Looks like a literal but does not fit its format, e.g. 2020-13-45T.
	if len(word) > 0 && word[0] >= '0' && word[0] <= '9' {
		return token{kind: tokLiteral, lit: guessLiteralKind(word), text: word, pos: pos}, nil
	}
	return token{}, fmt.Errorf("syntax error: unrecognized token %q at position %d", word, pos)
}

func guessLiteralKind(word string) Kind {
	switch {
	case strings.Contains(word, "T"):
		return KindDateTimeOffset
	case strings.Count(word, "-") == 2:
		return KindDate
	case strings.Count(word, "-") == 4:
		return KindGuid
	}
	return KindDecimal
}
