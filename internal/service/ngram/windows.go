package ngram

import (
	"context"
	"sort"
)

// DefaultWindowSize is the width used to locate unusual stretches of a
// token sequence.
const DefaultWindowSize = 21

// WindowScore is the entropy of one window of a token sequence.
type WindowScore struct {
	Start        int      `json:"start"`
	End          int      `json:"end"` // exclusive
	Tokens       []string `json:"tokens"`
	CrossEntropy float64  `json:"cross_entropy"`
}

// Windows slides a window of size tokens over the sequence one token at a
// time and scores each window as a sentence of its own. Sequences shorter
// than size produce a single window.
func (s *Scorer) Windows(ctx context.Context, m *Model, params ParamVector, tokens []string, size int) ([]WindowScore, error) {
	if size <= 0 {
		size = DefaultWindowSize
	}
	if len(tokens) == 0 {
		return nil, &EmptyInputError{Lines: 0}
	}
	last := len(tokens) - size
	if last < 0 {
		last = 0
	}
	out := make([]WindowScore, 0, last+1)
	for start := 0; start <= last; start++ {
		end := start + size
		if end > len(tokens) {
			end = len(tokens)
		}
		res, err := s.ScoreTokens(ctx, m, params, tokens[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, WindowScore{
			Start:        start,
			End:          end,
			Tokens:       tokens[start:end],
			CrossEntropy: res.CrossEntropy,
		})
	}
	return out, nil
}

// WorstWindows returns the n windows with the highest entropy, worst first.
// Ties keep their position order. n <= 0 returns every window.
func (s *Scorer) WorstWindows(ctx context.Context, m *Model, params ParamVector, tokens []string, size, n int) ([]WindowScore, error) {
	windows, err := s.Windows(ctx, m, params, tokens, size)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(windows, func(i, j int) bool {
		return windows[i].CrossEntropy > windows[j].CrossEntropy
	})
	if n > 0 && n < len(windows) {
		windows = windows[:n]
	}
	return windows, nil
}
