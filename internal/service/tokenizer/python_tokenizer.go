package tokenizer

import (
	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	python "github.com/tree-sitter/tree-sitter-python/bindings/go"
)

var pythonNormalization = normalization{
	classes: map[string]string{
		"identifier": "ID",
		"integer":    "NUM",
		"float":      "NUM",
		"string":     "STR",
		"true":       "BOOL",
		"false":      "BOOL",
		"True":       "BOOL",
		"False":      "BOOL",
		"none":       "NONE",
		"None":       "NONE",
	},
	atomic: map[string]bool{
		"string": true,
	},
}

// NewPythonTokenizer creates a tokenizer for Python source code
func NewPythonTokenizer() (Tokenizer, error) {
	return newTreeSitterTokenizer("python", tree_sitter.NewLanguage(python.Language()), pythonNormalization)
}
