package tokenizer

import (
	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	golang "github.com/tree-sitter/tree-sitter-go/bindings/go"
)

var goNormalization = normalization{
	classes: map[string]string{
		"identifier":                 "ID",
		"field_identifier":           "ID",
		"package_identifier":         "ID",
		"type_identifier":            "ID",
		"int_literal":                "NUM",
		"float_literal":              "NUM",
		"imaginary_literal":          "NUM",
		"raw_string_literal":         "STR",
		"interpreted_string_literal": "STR",
		"rune_literal":               "CHAR",
		"true":                       "BOOL",
		"false":                      "BOOL",
		"nil":                        "NIL",
	},
	atomic: map[string]bool{
		"raw_string_literal":         true,
		"interpreted_string_literal": true,
		"rune_literal":               true,
	},
}

// NewGoTokenizer creates a tokenizer for Go source code
func NewGoTokenizer() (Tokenizer, error) {
	return newTreeSitterTokenizer("go", tree_sitter.NewLanguage(golang.Language()), goNormalization)
}
