package tokenizer

import (
	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	javascript "github.com/tree-sitter/tree-sitter-javascript/bindings/go"
)

var javaScriptNormalization = normalization{
	classes: map[string]string{
		"identifier":                    "ID",
		"property_identifier":           "ID",
		"shorthand_property_identifier": "ID",
		"number":                        "NUM",
		"string":                        "STR",
		"template_string":               "STR",
		"regex":                         "REGEX",
		"true":                          "BOOL",
		"false":                         "BOOL",
		"null":                          "NULL",
		"undefined":                     "UNDEF",
	},
	atomic: map[string]bool{
		"string":          true,
		"template_string": true,
		"regex":           true,
	},
}

// NewJavaScriptTokenizer creates a tokenizer for JavaScript source code
func NewJavaScriptTokenizer() (Tokenizer, error) {
	return newTreeSitterTokenizer("javascript", tree_sitter.NewLanguage(javascript.Language()), javaScriptNormalization)
}
