package surql

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokNumber
	tokDuration
	tokString
	tokPrefixed
	tokParam
	tokPunct
	tokQuoted
)

// token is one lexeme. val holds the identifier, string contents, parameter
// name or string prefix, depending on kind.
type token struct {
	kind  tokenKind
	text  string
	val   string
	pos   int
	end   int
	space bool
}

func (t token) is(kind tokenKind, text string) bool {
	return t.kind == kind && t.text == text
}

// keyword reports whether t is the identifier kw, ignoring case.
func (t token) keyword(kw ...string) bool {
	if t.kind != tokIdent {
		return false
	}
	for _, k := range kw {
		if strings.EqualFold(t.text, k) {
			return true
		}
	}
	return false
}

var punct3 = []string{"..="}

var punct2 = []string{"::", "==", "!=", ">=", "<=", "&&", "||", "??", "?:", "+=", "-=", "..", "->", "<-", "**", "?."}

const punct1 = "()[]{},;:.+-*/<>=!|?@%"

var durationUnits = []string{"ns", "us", "µs", "ms", "y", "w", "d", "h", "m", "s"}

// lex splits src into tokens, dropping whitespace and comments.
func lex(src string) ([]token, error) {
	var toks []token
	i := 0
	space := false
	for i < len(src) {
		r, size := utf8.DecodeRuneInString(src[i:])
		switch {
		case unicode.IsSpace(r):
			i += size
			space = true
			continue
		case strings.HasPrefix(src[i:], "--"), strings.HasPrefix(src[i:], "//"), r == '#':
			for i < len(src) && src[i] != '\n' {
				i++
			}
			space = true
			continue
		case strings.HasPrefix(src[i:], "/*"):
			end := strings.Index(src[i+2:], "*/")
			if end < 0 {
				return nil, fmt.Errorf("%w: unterminated comment", ErrParse)
			}
			i += end + 4
			space = true
			continue
		}

		start := i
		var tok token
		switch {
		case (r == 'd' || r == 'r' || r == 'u' || r == 's') && i+1 < len(src) && (src[i+1] == '"' || src[i+1] == '\''):
			s, n, err := lexString(src[i+1:])
			if err != nil {
				return nil, err
			}
			i += 1 + n
			tok = token{kind: tokPrefixed, val: s, text: src[start:i]}
		case r == '_' || unicode.IsLetter(r):
			for i < len(src) {
				r, size := utf8.DecodeRuneInString(src[i:])
				if r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
					break
				}
				i += size
			}
			tok = token{kind: tokIdent, text: src[start:i], val: src[start:i]}
		case r >= '0' && r <= '9':
			n, kind := lexNumber(src[i:])
			i += n
			tok = token{kind: kind, text: src[start:i], val: src[start:i]}
		case r == '"' || r == '\'':
			s, n, err := lexString(src[i:])
			if err != nil {
				return nil, err
			}
			i += n
			tok = token{kind: tokString, text: src[start:i], val: s}
		case r == '`' || r == '⟨':
			closer := "`"
			if r == '⟨' {
				closer = "⟩"
			}
			end := strings.Index(src[i+size:], closer)
			if end < 0 {
				return nil, fmt.Errorf("%w: unterminated identifier", ErrParse)
			}
			i += size + end + len(closer)
			tok = token{kind: tokQuoted, text: src[start:i], val: src[start+size : start+size+end]}
		case r == '$':
			i++
			for i < len(src) {
				r, size := utf8.DecodeRuneInString(src[i:])
				if r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
					break
				}
				i += size
			}
			if i == start+1 {
				return nil, fmt.Errorf("%w: empty parameter name at offset %d", ErrParse, start)
			}
			tok = token{kind: tokParam, text: src[start:i], val: src[start+1 : i]}
		default:
			text := ""
			for _, p := range punct3 {
				if strings.HasPrefix(src[i:], p) {
					text = p
				}
			}
			if text == "" {
				for _, p := range punct2 {
					if strings.HasPrefix(src[i:], p) {
						text = p
						break
					}
				}
			}
			if text == "" && strings.ContainsRune(punct1, r) {
				text = string(r)
			}
			if text == "" {
				return nil, fmt.Errorf("%w: unexpected character %q at offset %d", ErrParse, r, i)
			}
			i += len(text)
			tok = token{kind: tokPunct, text: text, val: text}
		}
		tok.pos, tok.end, tok.space = start, i, space
		toks = append(toks, tok)
		space = false
	}
	return toks, nil
}

// lexString reads a quoted string starting at src[0] and returns its
// unescaped contents and the number of bytes consumed.
func lexString(src string) (string, int, error) {
	quote := src[0]
	var b strings.Builder
	for i := 1; i < len(src); i++ {
		c := src[i]
		switch {
		case c == '\\' && i+1 < len(src):
			i++
			switch src[i] {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case 'r':
				b.WriteByte('\r')
			default:
				b.WriteByte(src[i])
			}
		case c == quote:
			return b.String(), i + 1, nil
		default:
			b.WriteByte(c)
		}
	}
	return "", 0, fmt.Errorf("%w: unterminated string", ErrParse)
}

// lexNumber reads an integer, float, decimal or duration literal.
func lexNumber(src string) (int, tokenKind) {
	i := 0
	digits := func() {
		for i < len(src) && (src[i] >= '0' && src[i] <= '9' || src[i] == '_') {
			i++
		}
	}
	digits()
	if unit := durationUnit(src[i:]); unit != "" {
		for {
			i += len(unit)
			j := i
			digits()
			if i == j {
				return i, tokDuration
			}
			unit = durationUnit(src[i:])
			if unit == "" {
				return j, tokDuration
			}
		}
	}
	if i+1 < len(src) && src[i] == '.' && src[i+1] >= '0' && src[i+1] <= '9' {
		i++
		digits()
	}
	if i < len(src) && (src[i] == 'e' || src[i] == 'E') {
		j := i + 1
		if j < len(src) && (src[j] == '+' || src[j] == '-') {
			j++
		}
		if j < len(src) && src[j] >= '0' && src[j] <= '9' {
			i = j
			digits()
		}
	}
	switch {
	case strings.HasPrefix(src[i:], "dec") && !identAt(src, i+3):
		i += 3
	case strings.HasPrefix(src[i:], "f") && !identAt(src, i+1):
		i++
	}
	return i, tokNumber
}

// durationUnit returns the unit at the start of s when it is not followed by
// more identifier characters.
func durationUnit(s string) string {
	for _, u := range durationUnits {
		if strings.HasPrefix(s, u) && !identAt(s, len(u)) {
			return u
		}
	}
	return ""
}

func identAt(s string, i int) bool {
	if i >= len(s) {
		return false
	}
	r, _ := utf8.DecodeRuneInString(s[i:])
	return r == '_' || unicode.IsLetter(r)
}
