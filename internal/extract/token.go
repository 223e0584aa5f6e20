package extract

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokenKind int

const (
	tokWord tokenKind = iota
	tokNumber
	tokPercent
	tokSep
	tokSymbol
	tokLParen
	tokRParen
)

type token struct {
	kind  tokenKind
	text  string
	num   float64
	start int
	end   int
}

// tokenize splits s into tokens carrying byte offsets into s. Hyphens and
// unknown punctuation only separate tokens. Only ASCII digits form numbers;
// other digit runes are skipped like punctuation.
func tokenize(s string) []token {
	var out []token
	i := 0
	for i < len(s) {
		r, size := utf8.DecodeRuneInString(s[i:])
		switch {
		case r == '\n' || r == ',' || r == ';' || r == '!' || r == '?' || r == '.':
			out = append(out, token{kind: tokSep, text: string(r), start: i, end: i + size})
			i += size
		case numberStartsAt(s, i) || (r == '-' && numberStartsAt(s, i+1) && boundaryBefore(s, i)):
			tok, n := scanNumber(s, i)
			out = append(out, tok)
			i = n
		case unicode.IsLetter(r):
			tok, n := scanWord(s, i)
			out = append(out, tok)
			i = n
		case r == '>' || r == '<' || r == '=':
			n := i + 1
			if n < len(s) && s[n] == '=' {
				n++
			}
			out = append(out, token{kind: tokSymbol, text: s[i:n], start: i, end: n})
			i = n
		case r == '(':
			out = append(out, token{kind: tokLParen, text: "(", start: i, end: i + 1})
			i++
		case r == ')':
			out = append(out, token{kind: tokRParen, text: ")", start: i, end: i + 1})
			i++
		default:
			i += size
		}
	}
	return out
}

func numberStartsAt(s string, i int) bool {
	return i < len(s) && s[i] >= '0' && s[i] <= '9'
}

func boundaryBefore(s string, i int) bool {
	if i == 0 {
		return true
	}
	switch s[i-1] {
	case ' ', '\t', '\n', '(', '>', '<', '=', ',':
		return true
	}
	return false
}

func scanNumber(s string, start int) (token, int) {
	i := start
	if s[i] == '-' {
		i++
	}
	var digits strings.Builder
	if i > start {
		digits.WriteByte('-')
	}
scan:
	for i < len(s) {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			digits.WriteByte(c)
			i++
		case c == ',' && thousandsGroupAt(s, i+1):
			i++
		case c == '.' && numberStartsAt(s, i+1) && !strings.Contains(digits.String(), "."):
			digits.WriteByte('.')
			i++
		default:
			break scan
		}
	}
	num, _ := strconv.ParseFloat(digits.String(), 64)
	tok := token{kind: tokNumber, text: s[start:i], num: num, start: start}
	if i < len(s) && s[i] == '%' {
		i++
		tok.kind = tokPercent
		tok.text = s[start:i]
	}
	tok.end = i
	return tok, i
}

// thousandsGroupAt reports whether exactly three digits start at i.
func thousandsGroupAt(s string, i int) bool {
	if i+3 > len(s) {
		return false
	}
	for j := i; j < i+3; j++ {
		if s[j] < '0' || s[j] > '9' {
			return false
		}
	}
	return i+3 == len(s) || s[i+3] < '0' || s[i+3] > '9'
}

func scanWord(s string, start int) (token, int) {
	i := start
	for i < len(s) {
		r, size := utf8.DecodeRuneInString(s[i:])
		if unicode.IsLetter(r) {
			i += size
			continue
		}
		if r == '\'' || r == '’' {
			next, nsize := utf8.DecodeRuneInString(s[i+size:])
			if i+size < len(s) && unicode.IsLetter(next) {
				i += size + nsize
				continue
			}
		}
		break
	}
	raw := s[start:i]
	word := strings.ToLower(raw)
	for _, suffix := range []string{"'s", "’s"} {
		word = strings.TrimSuffix(word, suffix)
	}
	word = strings.NewReplacer("'", "", "’", "").Replace(word)
	return token{kind: tokWord, text: word, start: start, end: i}, i
}
