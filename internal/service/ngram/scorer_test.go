package ngram

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"lm-go/internal/service/corpus"

	"go.uber.org/zap"
)

func TestSeenBigramScoresBetter(t *testing.T) {
	cfg := ModelConfig{Order: 2, Smoothing: "WittenBell", UseUnknown: true, Estimator: EstimatorConfig{MaxIterations: 200}}
	m, err := Train(context.Background(), corpus.NewMemory("the cat sat", "the dog ran"), cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}
	s := NewScorer(DefaultScoreOptions(), zap.NewNop())

	ran, err := s.Score(context.Background(), m, nil, corpus.NewMemory("the cat ran"))
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	sat, err := s.Score(context.Background(), m, nil, corpus.NewMemory("the cat sat"))
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	if math.IsInf(ran.CrossEntropy, 0) || math.IsNaN(ran.CrossEntropy) {
		t.Fatalf("Expected finite entropy, got %f", ran.CrossEntropy)
	}
	if !(ran.CrossEntropy > sat.CrossEntropy) {
		t.Errorf("Expected H(the cat ran)=%f > H(the cat sat)=%f", ran.CrossEntropy, sat.CrossEntropy)
	}
	if sat.Tokens != 4 || sat.Sentences != 1 {
		t.Errorf("Expected 4 tokens in 1 sentence, got %d in %d", sat.Tokens, sat.Sentences)
	}
	if sat.ModelID != m.ID() {
		t.Errorf("Expected model ID %s, got %s", m.ID(), sat.ModelID)
	}
}

func TestUnknownTokenWithoutUnknownHandling(t *testing.T) {
	m := buildModel(t, "KN", 3, false)
	s := NewScorer(DefaultScoreOptions(), zap.NewNop())
	_, err := s.Score(context.Background(), m, nil, corpus.NewMemory("the cat sat", "the zebra sat"))
	var unk *UnknownTokenError
	if !errors.As(err, &unk) {
		t.Fatalf("Expected UnknownTokenError, got %v", err)
	}
	if unk.Token != "zebra" || unk.Line != 1 || unk.Position != 1 {
		t.Errorf("Unexpected error details: %+v", unk)
	}
}

func TestUnknownTokenWithUnknownHandling(t *testing.T) {
	m := buildModel(t, "KN", 3, true)
	s := NewScorer(DefaultScoreOptions(), zap.NewNop())
	res, err := s.Score(context.Background(), m, nil, corpus.NewMemory("the zebra sat"))
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	if res.OOVs != 1 {
		t.Errorf("Expected 1 OOV, got %d", res.OOVs)
	}
	if math.IsInf(res.CrossEntropy, 0) {
		t.Error("Expected finite entropy with unknown handling")
	}
}

func TestEmptyFragment(t *testing.T) {
	m := buildModel(t, "KN", 3, true)
	s := NewScorer(DefaultScoreOptions(), zap.NewNop())
	for _, src := range []corpus.LineSource{corpus.NewMemory(), corpus.NewMemory("", "  \t")} {
		_, err := s.Score(context.Background(), m, nil, src)
		if !errors.Is(err, ErrEmptyInput) {
			t.Errorf("Expected ErrEmptyInput, got %v", err)
		}
		var empty *EmptyInputError
		if !errors.As(err, &empty) {
			t.Errorf("Expected *EmptyInputError, got %T", err)
		}
	}
	if _, err := s.ScoreTokens(context.Background(), m, nil, nil); !errors.Is(err, ErrEmptyInput) {
		t.Errorf("Expected ErrEmptyInput from ScoreTokens, got %v", err)
	}
}

func TestFastPathMatchesFilePath(t *testing.T) {
	fragment := []string{"the cat sat on the log", "", "a cat ran", "the zebra ran fast", "the cat\r\nsat on the mat"}
	for _, method := range []string{"KN", "MKN", "WB", "JM"} {
		m := buildModel(t, method, 3, true)
		mem := corpus.NewMemory(fragment...)

		fast := NewScorer(ScoreOptions{ShortCorpusThreshold: 100}, zap.NewNop())
		a, err := fast.Score(context.Background(), m, nil, mem)
		if err != nil {
			t.Fatalf("%s: fast path failed: %v", method, err)
		}

		staged, err := corpus.Stage(filepath.Join(t.TempDir(), "fragment.txt"), mem)
		if err != nil {
			t.Fatalf("Stage failed: %v", err)
		}
		b, err := fast.Score(context.Background(), m, nil, staged)
		if err != nil {
			t.Fatalf("%s: file path failed: %v", method, err)
		}

		// Threshold zero forces the loading pipeline for in-memory input too.
		loaded, err := NewScorer(ScoreOptions{}, zap.NewNop()).Score(context.Background(), m, nil, mem)
		if err != nil {
			t.Fatalf("%s: load path failed: %v", method, err)
		}

		for _, other := range []ScoreResult{b, loaded} {
			if math.Abs(a.Log2Prob-other.Log2Prob) > 1e-9 {
				t.Errorf("%s: log2 prob differs: %.12f vs %.12f", method, a.Log2Prob, other.Log2Prob)
			}
			if a.Tokens != other.Tokens || a.OOVs != other.OOVs || a.Sentences != other.Sentences {
				t.Errorf("%s: counts differ: %+v vs %+v", method, a, other)
			}
		}
		// The blank line is skipped and the embedded line break splits a
		// sentence on every path.
		if a.Sentences != 5 {
			t.Errorf("%s: expected 5 sentences, got %d", method, a.Sentences)
		}
	}
}

func TestHigherOrderFitsTrainingDataBetter(t *testing.T) {
	lines := make([]string, 5)
	for i := range lines {
		lines[i] = "a b c d e"
	}
	src := corpus.NewMemory(lines...)
	s := NewScorer(DefaultScoreOptions(), zap.NewNop())

	prev := math.Inf(1)
	for order := 1; order <= 4; order++ {
		cfg := ModelConfig{Order: order, Smoothing: "WB", UseUnknown: true, Estimator: EstimatorConfig{Disabled: true}}
		m, err := Train(context.Background(), src, cfg, zap.NewNop())
		if err != nil {
			t.Fatalf("order %d: Train failed: %v", order, err)
		}
		res, err := s.Score(context.Background(), m, nil, src)
		if err != nil {
			t.Fatalf("order %d: Score failed: %v", order, err)
		}
		if res.CrossEntropy > prev+1e-12 {
			t.Errorf("order %d: entropy rose from %f to %f", order, prev, res.CrossEntropy)
		}
		prev = res.CrossEntropy
	}
}

func TestScoreRejectsWrongParams(t *testing.T) {
	m := buildModel(t, "WB", 3, true)
	s := NewScorer(DefaultScoreOptions(), zap.NewNop())
	_, err := s.Score(context.Background(), m, ParamVector{1}, corpus.NewMemory("the cat"))
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Expected ConfigurationError, got %v", err)
	}
}

func TestAlternateParamsChangeScore(t *testing.T) {
	m := buildModel(t, "WB", 3, true)
	s := NewScorer(DefaultScoreOptions(), zap.NewNop())
	src := corpus.NewMemory("the dog sat on the mat")
	a, _ := s.Score(context.Background(), m, nil, src)
	b, _ := s.Score(context.Background(), m, fill(3, 50), src)
	if a.Log2Prob == b.Log2Prob {
		t.Error("Expected a different vector to change the score")
	}
}

func TestCrossSentenceKeepsTokenCount(t *testing.T) {
	m := buildModel(t, "KN", 3, true)
	src := corpus.NewMemory("the cat sat", "on the mat")
	reset, err := NewScorer(DefaultScoreOptions(), nil).Score(context.Background(), m, nil, src)
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	cross, err := NewScorer(ScoreOptions{ShortCorpusThreshold: 100, CrossSentence: true}, nil).Score(context.Background(), m, nil, src)
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	if reset.Tokens != cross.Tokens {
		t.Errorf("Token counts differ: %d vs %d", reset.Tokens, cross.Tokens)
	}
	if reset.Log2Prob == cross.Log2Prob {
		t.Error("Expected carried context to change the score")
	}
}

func TestTrace(t *testing.T) {
	m := buildModel(t, "KN", 3, true)
	s := NewScorer(DefaultScoreOptions(), zap.NewNop())
	tokens := strings.Fields("the cat zebra")
	traces, res, err := s.Trace(context.Background(), m, nil, tokens)
	if err != nil {
		t.Fatalf("Trace failed: %v", err)
	}
	if len(traces) != 4 || traces[3].Token != EOSText {
		t.Fatalf("Unexpected traces: %+v", traces)
	}
	if !traces[2].Unknown || traces[0].Unknown {
		t.Errorf("Unknown flags wrong: %+v", traces)
	}
	if traces[1].ContextLength != 2 {
		t.Errorf("Expected full context for cat, got %d", traces[1].ContextLength)
	}
	var sum float64
	for _, tr := range traces {
		sum += tr.Log2Prob
	}
	if math.Abs(sum-res.Log2Prob) > 1e-12 {
		t.Errorf("Trace sum %f differs from result %f", sum, res.Log2Prob)
	}
}

func TestWorstWindows(t *testing.T) {
	m := buildModel(t, "KN", 3, true)
	s := NewScorer(DefaultScoreOptions(), zap.NewNop())
	tokens := strings.Fields("the cat sat on the mat the dog sat on the log the cat ran a dog ran fast zebra zebra zebra the cat sat")
	windows, err := s.Windows(context.Background(), m, nil, tokens, DefaultWindowSize)
	if err != nil {
		t.Fatalf("Windows failed: %v", err)
	}
	if want := len(tokens) - DefaultWindowSize + 1; len(windows) != want {
		t.Fatalf("Expected %d windows, got %d", want, len(windows))
	}

	worst, err := s.WorstWindows(context.Background(), m, nil, tokens, DefaultWindowSize, 2)
	if err != nil {
		t.Fatalf("WorstWindows failed: %v", err)
	}
	if len(worst) != 2 || worst[0].CrossEntropy < worst[1].CrossEntropy {
		t.Errorf("Expected two windows worst first, got %+v", worst)
	}

	short, _ := s.Windows(context.Background(), m, nil, tokens[:5], DefaultWindowSize)
	if len(short) != 1 || short[0].End != 5 {
		t.Errorf("Expected a single window over short input, got %+v", short)
	}
}

func TestConcurrentScoringSharesModel(t *testing.T) {
	m := buildModel(t, "MKN", 3, true)
	s := NewScorer(DefaultScoreOptions(), zap.NewNop())
	params := m.Params()
	ctx := context.Background()
	fragment := corpus.NewMemory("the cat sat on the mat", "a dog ran", "the zebra sat")
	history := ids(t, m, "the", "cat")
	sat, _ := m.Vocabulary().Lookup("sat")

	want, err := s.Score(ctx, m, params, fragment)
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	wantP := m.Probability(history, sat, params)

	const workers = 16
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	results := make([]ScoreResult, workers)
	probs := make([]float64, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				res, err := s.Score(ctx, m, params, fragment)
				if err != nil {
					errs <- err
					return
				}
				results[i] = res
				probs[i] = m.Probability(history, sat, params)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("Concurrent Score failed: %v", err)
	}
	for i := range results {
		if results[i] != want {
			t.Errorf("worker %d: got %+v, want %+v", i, results[i], want)
		}
		if probs[i] != wantP {
			t.Errorf("worker %d: probability %g, want %g", i, probs[i], wantP)
		}
	}
}
