package corpus

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// maxLineBytes bounds a single corpus line. Corpified source files are one
// line each, so this is generous.
const maxLineBytes = 16 * 1024 * 1024

// LineReader yields corpus lines in order. Next returns io.EOF after the last
// line.
type LineReader interface {
	Next() (string, error)
	Close() error
}

// LineSource is anything that can be read line by line, any number of times.
type LineSource interface {
	Open() (LineReader, error)
}

// ReadAll drains src into a slice.
func ReadAll(src LineSource) ([]string, error) {
	r, err := src.Open()
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var lines []string
	for {
		line, err := r.Next()
		if err == io.EOF {
			return lines, nil
		}
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
}

// Memory presents in-memory lines through the same interface as a
// file-backed corpus. The lines are not copied unless one of them contains
// a line break; callers must not modify the slice afterwards.
type Memory struct {
	lines []string
}

// NewMemory wraps lines as a line source. A string holding line breaks is
// split the way a file reader would split it, so a Memory and the file it
// stages to read back the same lines.
func NewMemory(lines ...string) *Memory {
	for i, line := range lines {
		if strings.ContainsAny(line, "\r\n") {
			return &Memory{lines: splitLines(lines, i)}
		}
	}
	return &Memory{lines: lines}
}

// splitLines copies lines, breaking every entry from index from onwards at
// "\n" and dropping a trailing "\r" from each piece.
func splitLines(lines []string, from int) []string {
	out := make([]string, 0, len(lines)+1)
	out = append(out, lines[:from]...)
	for _, line := range lines[from:] {
		for _, piece := range strings.Split(line, "\n") {
			out = append(out, strings.TrimSuffix(piece, "\r"))
		}
	}
	return out
}

// Lines returns the underlying lines.
func (m *Memory) Lines() []string {
	return m.lines
}

// Len returns the number of lines.
func (m *Memory) Len() int {
	return len(m.lines)
}

func (m *Memory) Open() (LineReader, error) {
	return &memoryReader{lines: m.lines}, nil
}

type memoryReader struct {
	lines []string
	pos   int
}

func (r *memoryReader) Next() (string, error) {
	if r.pos >= len(r.lines) {
		return "", io.EOF
	}
	line := r.lines[r.pos]
	r.pos++
	return line, nil
}

func (r *memoryReader) Close() error {
	return nil
}

// File is a text file with one unit per line.
type File struct {
	Path string
}

// NewFile returns a line source over the file at path.
func NewFile(path string) *File {
	return &File{Path: path}
}

func (f *File) Open() (LineReader, error) {
	fh, err := os.Open(f.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open corpus %s: %w", f.Path, err)
	}
	scanner := bufio.NewScanner(fh)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return &fileReader{file: fh, scanner: scanner, path: f.Path}, nil
}

type fileReader struct {
	file    *os.File
	scanner *bufio.Scanner
	path    string
}

func (r *fileReader) Next() (string, error) {
	if r.scanner.Scan() {
		return r.scanner.Text(), nil
	}
	if err := r.scanner.Err(); err != nil {
		return "", fmt.Errorf("failed to read corpus %s: %w", r.path, err)
	}
	return "", io.EOF
}

func (r *fileReader) Close() error {
	return r.file.Close()
}
