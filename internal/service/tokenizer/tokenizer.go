package tokenizer

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"lm-go/internal/model/lexeme"
)

// Tokenizer defines the interface for language-specific tokenization
type Tokenizer interface {
	// Tokenize converts source code into a sequence of tokens
	Tokenize(ctx context.Context, source []byte) (lexeme.TokenSequence, error)

	// Normalize applies language-specific normalization (e.g., all identifiers -> "ID")
	Normalize(token lexeme.Token) string

	// Language returns the language this tokenizer handles
	Language() string
}

// Lex tokenizes source and returns its normalized lexemes.
func Lex(ctx context.Context, tok Tokenizer, source []byte) ([]string, error) {
	tokens, err := tok.Tokenize(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("tokenization failed: %w", err)
	}
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if l := lexeme.Sanitize(tok.Normalize(t)); l != "" {
			out = append(out, l)
		}
	}
	return out, nil
}

// Registry manages tokenizers for different languages
type Registry struct {
	tokenizers map[string]Tokenizer
	extensions map[string]string // file extension -> language
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		tokenizers: make(map[string]Tokenizer),
		extensions: make(map[string]string),
	}
}

// NewDefaultRegistry registers every built-in language.
func NewDefaultRegistry() (*Registry, error) {
	r := NewRegistry()
	builders := []struct {
		language   string
		build      func() (Tokenizer, error)
		extensions []string
	}{
		{"go", NewGoTokenizer, []string{".go"}},
		{"python", NewPythonTokenizer, []string{".py", ".pyw"}},
		{"javascript", NewJavaScriptTokenizer, []string{".js", ".jsx", ".mjs"}},
		{"typescript", NewTypeScriptTokenizer, []string{".ts", ".tsx"}},
		{"java", NewJavaTokenizer, []string{".java"}},
	}
	for _, b := range builders {
		tok, err := b.build()
		if err != nil {
			return nil, fmt.Errorf("failed to create %s tokenizer: %w", b.language, err)
		}
		r.Register(b.language, tok, b.extensions)
	}
	return r, nil
}

// Register adds a tokenizer for a specific language
func (r *Registry) Register(language string, tokenizer Tokenizer, extensions []string) {
	r.tokenizers[language] = tokenizer
	for _, ext := range extensions {
		r.extensions[ext] = language
	}
}

// Get returns the tokenizer for a given language
func (r *Registry) Get(language string) (Tokenizer, bool) {
	tokenizer, ok := r.tokenizers[strings.ToLower(language)]
	return tokenizer, ok
}

// ForPath returns the tokenizer for a file based on its extension
func (r *Registry) ForPath(path string) (Tokenizer, bool) {
	language, ok := r.extensions[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return nil, false
	}
	return r.Get(language)
}

// Languages returns every registered language in sorted order
func (r *Registry) Languages() []string {
	languages := make([]string, 0, len(r.tokenizers))
	for lang := range r.tokenizers {
		languages = append(languages, lang)
	}
	sort.Strings(languages)
	return languages
}
