package lexeme

import "strings"

// Token represents a single lexical token in source code
type Token struct {
	Type   string // Grammar node kind (e.g. "identifier", "int_literal", "func")
	Value  string // Original token text
	Line   int    // 1-based line in source
	Column int    // 1-based column in source
}

// TokenSequence is a slice of tokens
type TokenSequence []Token

// Values returns the raw text of every token.
func (ts TokenSequence) Values() []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.Value
	}
	return out
}

// Sanitize makes a lexeme safe for a whitespace-separated corpus line.
// Whitespace-only lexemes become "".
func Sanitize(lexeme string) string {
	fields := strings.Fields(lexeme)
	switch len(fields) {
	case 0:
		return ""
	case 1:
		return fields[0]
	}
	return strings.Join(fields, "_")
}

// Corpify joins lexemes into one corpus line, dropping empty ones.
func Corpify(lexemes []string) string {
	var b strings.Builder
	for _, l := range lexemes {
		l = Sanitize(l)
		if l == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(l)
	}
	return b.String()
}
