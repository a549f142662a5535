package corpus

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"
)

// Stage writes every line of src to path, newline terminated, replacing any
// existing file atomically. It returns a File over the written corpus.
func Stage(path string, src LineSource) (*File, error) {
	r, err := src.Open()
	if err != nil {
		return nil, err
	}
	defer r.Close()

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create corpus directory: %w", err)
		}
	}

	pr, pw := io.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			line, err := r.Next()
			if err == io.EOF {
				pw.Close()
				return
			}
			if err != nil {
				pw.CloseWithError(err)
				return
			}
			if _, err := io.WriteString(pw, strings.TrimRight(line, "\r\n")+"\n"); err != nil {
				return
			}
		}
	}()

	err = atomic.WriteFile(path, pr)
	if err != nil {
		pr.CloseWithError(err)
	}
	<-done
	if err != nil {
		return nil, fmt.Errorf("failed to stage corpus %s: %w", path, err)
	}
	return NewFile(path), nil
}
