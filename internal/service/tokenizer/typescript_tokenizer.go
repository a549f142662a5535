package tokenizer

import (
	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	typescript "github.com/tree-sitter/tree-sitter-typescript/bindings/go"
)

// TypeScript shares the JavaScript classes and adds type names.
var typeScriptNormalization = func() normalization {
	n := normalization{classes: map[string]string{}, atomic: map[string]bool{}}
	for k, v := range javaScriptNormalization.classes {
		n.classes[k] = v
	}
	for k, v := range javaScriptNormalization.atomic {
		n.atomic[k] = v
	}
	n.classes["type_identifier"] = "ID"
	n.classes["predefined_type"] = "TYPE"
	n.atomic["predefined_type"] = true
	return n
}()

// NewTypeScriptTokenizer creates a tokenizer for TypeScript source code
func NewTypeScriptTokenizer() (Tokenizer, error) {
	return newTreeSitterTokenizer("typescript", tree_sitter.NewLanguage(typescript.LanguageTypescript()), typeScriptNormalization)
}
