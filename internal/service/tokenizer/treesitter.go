package tokenizer

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"lm-go/internal/model/lexeme"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
)

// normalization describes how one grammar's node kinds collapse into
// placeholder lexemes. Kinds listed in atomic are emitted as a single token
// even when the grammar gives them children (string literals mostly).
type normalization struct {
	classes map[string]string
	atomic  map[string]bool
}

// treeSitterTokenizer lexes source with a tree-sitter grammar by walking the
// leaves of the syntax tree. Parsers are not safe for concurrent use, so
// Tokenize serialises on mu.
type treeSitterTokenizer struct {
	name     string
	mu       sync.Mutex
	parser   *tree_sitter.Parser
	language *tree_sitter.Language
	norm     normalization
}

func newTreeSitterTokenizer(name string, language *tree_sitter.Language, norm normalization) (*treeSitterTokenizer, error) {
	parser := tree_sitter.NewParser()
	if err := parser.SetLanguage(language); err != nil {
		return nil, fmt.Errorf("failed to set %s language: %w", name, err)
	}
	return &treeSitterTokenizer{
		name:     name,
		parser:   parser,
		language: language,
		norm:     norm,
	}, nil
}

func (t *treeSitterTokenizer) Tokenize(ctx context.Context, source []byte) (lexeme.TokenSequence, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.Lock()
	tree := t.parser.Parse(source, nil)
	t.mu.Unlock()
	if tree == nil {
		return nil, fmt.Errorf("failed to parse %s source", t.name)
	}
	defer tree.Close()

	var tokens lexeme.TokenSequence
	t.traverseNode(tree.RootNode(), source, &tokens)
	return tokens, nil
}

func (t *treeSitterTokenizer) traverseNode(node *tree_sitter.Node, source []byte, tokens *lexeme.TokenSequence) {
	if node == nil {
		return
	}

	kind := node.Kind()
	if strings.Contains(kind, "comment") {
		return
	}

	if node.ChildCount() == 0 || t.norm.atomic[kind] {
		content := node.Utf8Text(source)
		if strings.TrimSpace(content) == "" {
			return
		}
		start := node.StartPosition()
		*tokens = append(*tokens, lexeme.Token{
			Type:   kind,
			Value:  content,
			Line:   int(start.Row) + 1,
			Column: int(start.Column) + 1,
		})
		return
	}

	for i := uint(0); i < node.ChildCount(); i++ {
		t.traverseNode(node.Child(i), source, tokens)
	}
}

func (t *treeSitterTokenizer) Normalize(token lexeme.Token) string {
	if class, ok := t.norm.classes[token.Type]; ok {
		return class
	}
	// Keywords, operators and punctuation keep their text.
	return token.Value
}

func (t *treeSitterTokenizer) Language() string {
	return t.name
}
