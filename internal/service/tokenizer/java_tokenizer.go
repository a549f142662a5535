package tokenizer

import (
	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	java "github.com/tree-sitter/tree-sitter-java/bindings/go"
)

var javaNormalization = normalization{
	classes: map[string]string{
		"identifier":                     "ID",
		"type_identifier":                "ID",
		"decimal_integer_literal":        "NUM",
		"hex_integer_literal":            "NUM",
		"octal_integer_literal":          "NUM",
		"binary_integer_literal":         "NUM",
		"decimal_floating_point_literal": "NUM",
		"hex_floating_point_literal":     "NUM",
		"string_literal":                 "STR",
		"character_literal":              "STR",
		"true":                           "BOOL",
		"false":                          "BOOL",
		"null_literal":                   "NULL",
	},
	atomic: map[string]bool{
		"string_literal":    true,
		"character_literal": true,
	},
}

// NewJavaTokenizer creates a tokenizer for Java source code
func NewJavaTokenizer() (Tokenizer, error) {
	return newTreeSitterTokenizer("java", tree_sitter.NewLanguage(java.Language()), javaNormalization)
}
