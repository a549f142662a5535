package util

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"go.uber.org/zap"
)

func writeTree(t *testing.T, root string, files ...string) {
	t.Helper()
	for _, f := range files {
		path := filepath.Join(root, f)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir failed: %v", err)
		}
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatalf("write failed: %v", err)
		}
	}
}

func TestWalkDirTree(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "a.go", "sub/b.py", "node_modules/dep.js", ".git/HEAD", "sub/deep/c.java")

	var mu sync.Mutex
	var seen []string
	n, err := WalkDirTree(context.Background(), root, func(path string) error {
		mu.Lock()
		seen = append(seen, ToRelativePath(root, path))
		mu.Unlock()
		return nil
	}, SkipCommonDirs, zap.NewNop(), 3)
	if err != nil {
		t.Fatalf("WalkDirTree failed: %v", err)
	}
	sort.Strings(seen)
	want := []string{"a.go", "sub/b.py", "sub/deep/c.java"}
	if n != len(want) || len(seen) != len(want) {
		t.Fatalf("expected %v, got %v (n=%d)", want, seen, n)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("seen[%d] = %s, want %s", i, seen[i], want[i])
		}
	}
}

func TestWalkDirTreeFailuresAreNotCounted(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "ok.txt", "bad.txt")

	n, err := WalkDirTree(context.Background(), root, func(path string) error {
		if filepath.Base(path) == "bad.txt" {
			return errors.New("boom")
		}
		return nil
	}, nil, zap.NewNop(), 1)
	if err != nil {
		t.Fatalf("WalkDirTree failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 processed file, got %d", n)
	}
}

func TestWalkDirTreeCancelled(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "a.txt")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := WalkDirTree(ctx, root, func(string) error { return nil }, nil, nil, 2); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestWalkDirTreeMissingRoot(t *testing.T) {
	if _, err := WalkDirTree(context.Background(), filepath.Join(t.TempDir(), "nope"), func(string) error { return nil }, nil, nil, 1); err == nil {
		t.Error("expected error for missing root")
	}
}
