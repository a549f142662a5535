package util

import (
	"context"
	"io/fs"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// WalkFunc is called once per regular file. Returning an error logs it and
// moves on to the next file.
type WalkFunc func(path string) error

// SkipFunc reports whether path should be left out. Skipped directories are
// not descended into.
type SkipFunc func(path string, isDir bool) bool

// DefaultSkipDirs are directories that never hold corpus material.
var DefaultSkipDirs = map[string]bool{
	".git": true, "node_modules": true, ".vscode": true, ".idea": true,
	"vendor": true, "target": true, "build": true, "dist": true,
	"__pycache__": true, ".pytest_cache": true, "coverage": true,
	"site-packages": true, ".next": true, ".nuxt": true, "venv": true, "env": true,
}

// SkipCommonDirs skips the directories in DefaultSkipDirs.
func SkipCommonDirs(path string, isDir bool) bool {
	return isDir && DefaultSkipDirs[filepath.Base(path)]
}

// WalkDirTree walks root and hands every file to walkFn on numThreads
// workers. Files are visited in lexical order but walkFn may run
// concurrently. The walk stops early when ctx is done.
func WalkDirTree(ctx context.Context, root string, walkFn WalkFunc, skip SkipFunc, logger *zap.Logger, numThreads int) (int, error) {
	if numThreads < 1 {
		numThreads = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	workQueue := make(chan string, numThreads)
	var wg sync.WaitGroup
	var mu sync.Mutex
	processed := 0

	for i := 0; i < numThreads; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range workQueue {
				if err := walkFn(path); err != nil {
					logger.Warn("Failed to process file", zap.String("path", path), zap.Error(err))
					continue
				}
				mu.Lock()
				processed++
				mu.Unlock()
			}
		}()
	}

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if skip != nil && path != root && skip(path, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		select {
		case workQueue <- path:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	close(workQueue)
	wg.Wait()

	return processed, err
}

// ToRelativePath returns fullPath relative to rootPath, or fullPath itself
// when no relative form exists.
func ToRelativePath(rootPath, fullPath string) string {
	relPath, err := filepath.Rel(rootPath, fullPath)
	if err != nil {
		return fullPath
	}
	return filepath.ToSlash(relPath)
}
