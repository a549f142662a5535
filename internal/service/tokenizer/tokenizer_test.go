package tokenizer

import (
	"context"
	"strings"
	"testing"

	"lm-go/internal/model/lexeme"
)

func contains(lexemes []string, want string) bool {
	for _, l := range lexemes {
		if l == want {
			return true
		}
	}
	return false
}

func TestGoTokenizer(t *testing.T) {
	tok, err := NewGoTokenizer()
	if err != nil {
		t.Fatalf("Failed to create Go tokenizer: %v", err)
	}

	source := []byte(`package main

// add sums things
func add(a int, b int) int {
	s := "hello world"
	_ = s
	return a + b + 42
}
`)
	lexemes, err := Lex(context.Background(), tok, source)
	if err != nil {
		t.Fatalf("Lex failed: %v", err)
	}
	for _, want := range []string{"package", "func", "ID", "STR", "NUM", "return", "+", "{", "}"} {
		if !contains(lexemes, want) {
			t.Errorf("expected lexeme %q in %v", want, lexemes)
		}
	}
	for _, bad := range []string{"add", "hello", "world", "sums", "42"} {
		if contains(lexemes, bad) {
			t.Errorf("lexeme %q should have been normalized away: %v", bad, lexemes)
		}
	}
	for _, l := range lexemes {
		if strings.ContainsAny(l, " \t\n") {
			t.Errorf("lexeme %q contains whitespace", l)
		}
	}
}

func TestGoTokenizerPositions(t *testing.T) {
	tok, err := NewGoTokenizer()
	if err != nil {
		t.Fatalf("Failed to create Go tokenizer: %v", err)
	}
	tokens, err := tok.Tokenize(context.Background(), []byte("package main\nvar x = 1\n"))
	if err != nil {
		t.Fatalf("Tokenize failed: %v", err)
	}
	if len(tokens) == 0 || tokens[0].Value != "package" || tokens[0].Line != 1 || tokens[0].Column != 1 {
		t.Fatalf("unexpected first token: %+v", tokens)
	}
	last := tokens[len(tokens)-1]
	if last.Value != "1" || last.Line != 2 {
		t.Errorf("unexpected last token: %+v", last)
	}
}

func TestPythonTokenizer(t *testing.T) {
	tok, err := NewPythonTokenizer()
	if err != nil {
		t.Fatalf("Failed to create Python tokenizer: %v", err)
	}
	source := []byte("def f(x):\n    return x + 1  # note\n")
	lexemes, err := Lex(context.Background(), tok, source)
	if err != nil {
		t.Fatalf("Lex failed: %v", err)
	}
	for _, want := range []string{"def", "ID", "NUM", "return", ":"} {
		if !contains(lexemes, want) {
			t.Errorf("expected lexeme %q in %v", want, lexemes)
		}
	}
	if contains(lexemes, "note") || contains(lexemes, "# note") || contains(lexemes, "#_note") {
		t.Errorf("comment leaked into lexemes: %v", lexemes)
	}
}

func TestOtherLanguages(t *testing.T) {
	tests := []struct {
		build  func() (Tokenizer, error)
		source string
		want   []string
	}{
		{NewJavaTokenizer, `class A { int f() { return 1; } }`, []string{"class", "ID", "NUM", "return"}},
		{NewJavaScriptTokenizer, `function f(a) { return a + "x"; }`, []string{"function", "ID", "STR", "return"}},
		{NewTypeScriptTokenizer, `function f(a: number): string { return "x"; }`, []string{"function", "ID", "STR", "TYPE"}},
	}
	for _, tt := range tests {
		tok, err := tt.build()
		if err != nil {
			t.Fatalf("Failed to create tokenizer: %v", err)
		}
		lexemes, err := Lex(context.Background(), tok, []byte(tt.source))
		if err != nil {
			t.Fatalf("%s: Lex failed: %v", tok.Language(), err)
		}
		for _, want := range tt.want {
			if !contains(lexemes, want) {
				t.Errorf("%s: expected lexeme %q in %v", tok.Language(), want, lexemes)
			}
		}
	}
}

func TestDefaultRegistry(t *testing.T) {
	r, err := NewDefaultRegistry()
	if err != nil {
		t.Fatalf("NewDefaultRegistry failed: %v", err)
	}
	langs := r.Languages()
	if strings.Join(langs, ",") != "go,java,javascript,python,typescript" {
		t.Errorf("unexpected languages: %v", langs)
	}
	for path, want := range map[string]string{
		"main.go":        "go",
		"pkg/Tool.JAVA":  "java",
		"web/app.tsx":    "typescript",
		"scripts/run.py": "python",
		"lib/index.mjs":  "javascript",
	} {
		tok, ok := r.ForPath(path)
		if !ok {
			t.Errorf("no tokenizer for %s", path)
			continue
		}
		if tok.Language() != want {
			t.Errorf("%s: got %s, want %s", path, tok.Language(), want)
		}
	}
	if _, ok := r.ForPath("README.md"); ok {
		t.Error("expected no tokenizer for markdown")
	}
	if _, ok := r.Get("Go"); !ok {
		t.Error("Get should be case-insensitive")
	}
}

func TestCancelledContext(t *testing.T) {
	tok, err := NewGoTokenizer()
	if err != nil {
		t.Fatalf("Failed to create Go tokenizer: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := tok.Tokenize(ctx, []byte("package main")); err == nil {
		t.Error("expected error for cancelled context")
	}
}

func TestNormalizeKeepsPunctuation(t *testing.T) {
	tok, err := NewGoTokenizer()
	if err != nil {
		t.Fatalf("Failed to create Go tokenizer: %v", err)
	}
	if got := tok.Normalize(lexeme.Token{Type: ":=", Value: ":="}); got != ":=" {
		t.Errorf("Normalize(:=) = %q", got)
	}
	if got := tok.Normalize(lexeme.Token{Type: "identifier", Value: "x"}); got != "ID" {
		t.Errorf("Normalize(identifier) = %q", got)
	}
}
