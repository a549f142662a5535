package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"lm-go/internal/model/lexeme"
	"lm-go/internal/service/corpus"
	"lm-go/internal/service/ngram"
	"lm-go/internal/service/tokenizer"
	"lm-go/internal/util"

	"go.uber.org/zap"
)

// Options configures an LMService.
type Options struct {
	Model         ngram.ModelConfig
	Scoring       ngram.ScoreOptions
	WindowSize    int
	IngestThreads int
	// TopSources bounds the ranked source list in corpus statistics.
	TopSources int
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		Model:         ngram.DefaultModelConfig(),
		Scoring:       ngram.DefaultScoreOptions(),
		WindowSize:    ngram.DefaultWindowSize,
		IngestThreads: 2,
		TopSources:    10,
	}
}

// corpusState holds the trained model of one corpus. mu serialises training
// so concurrent callers share one build.
type corpusState struct {
	mu      sync.Mutex
	manager *CorpusManager
}

// LMService keeps named corpora in a store and serves language models
// trained on them. Models are trained lazily on first use and dropped
// whenever their corpus changes.
type LMService struct {
	store    *corpus.SQLiteStore
	registry *tokenizer.Registry
	scorer   *ngram.Scorer
	opts     Options
	states   map[string]*corpusState
	logger   *zap.Logger
	mu       sync.RWMutex
}

// NewLMService creates a service over store. A nil registry gets the
// default tokenizers.
func NewLMService(store *corpus.SQLiteStore, registry *tokenizer.Registry, opts Options, logger *zap.Logger) (*LMService, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := opts.Model.Validate(); err != nil {
		return nil, err
	}
	if registry == nil {
		var err error
		registry, err = tokenizer.NewDefaultRegistry()
		if err != nil {
			return nil, err
		}
	}
	if opts.WindowSize <= 0 {
		opts.WindowSize = ngram.DefaultWindowSize
	}
	if opts.IngestThreads <= 0 {
		opts.IngestThreads = 1
	}
	return &LMService{
		store:    store,
		registry: registry,
		scorer:   ngram.NewScorer(opts.Scoring, logger),
		opts:     opts,
		states:   make(map[string]*corpusState),
		logger:   logger,
	}, nil
}

// Registry returns the tokenizers used for source files.
func (s *LMService) Registry() *tokenizer.Registry {
	return s.registry
}

// CreateCorpus registers an empty corpus. Creating an existing corpus is a
// no-op.
func (s *LMService) CreateCorpus(ctx context.Context, name, language string) error {
	if strings.TrimSpace(name) == "" {
		return ErrInvalidCorpusName
	}
	if language != "" {
		if _, ok := s.registry.Get(language); !ok {
			return fmt.Errorf("%w: %s", ErrUnsupportedLanguage, language)
		}
	}
	if err := s.store.Append(ctx, name, strings.ToLower(language), nil); err != nil {
		return err
	}
	s.logger.Info("Created corpus", zap.String("corpus", name), zap.String("language", language))
	return nil
}

// ListCorpora returns every stored corpus.
func (s *LMService) ListCorpora(ctx context.Context) ([]corpus.Info, error) {
	return s.store.List(ctx)
}

// DeleteCorpus removes a corpus and its model.
func (s *LMService) DeleteCorpus(ctx context.Context, name string) error {
	if _, err := s.lookup(ctx, name); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, name); err != nil {
		return err
	}
	s.invalidate(name)
	s.logger.Info("Deleted corpus", zap.String("corpus", name))
	return nil
}

func (s *LMService) lookup(ctx context.Context, name string) (corpus.Info, error) {
	info, ok, err := s.store.Lookup(ctx, name)
	if err != nil {
		return corpus.Info{}, err
	}
	if !ok {
		return corpus.Info{}, fmt.Errorf("%w: %s", ErrCorpusNotFound, name)
	}
	return info, nil
}

func (s *LMService) invalidate(name string) {
	s.mu.Lock()
	delete(s.states, name)
	s.mu.Unlock()
}

func (s *LMService) state(name string) *corpusState {
	s.mu.RLock()
	st, ok := s.states[name]
	s.mu.RUnlock()
	if ok {
		return st
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok = s.states[name]; !ok {
		st = &corpusState{}
		s.states[name] = st
	}
	return st
}

// AppendLines adds whitespace-tokenised lines to a corpus. Blank lines are
// dropped. The corpus model is retrained on next use.
func (s *LMService) AppendLines(ctx context.Context, name string, lines []string) (int, error) {
	info, err := s.lookup(ctx, name)
	if err != nil {
		return 0, err
	}
	entries := make([]corpus.Entry, 0, len(lines))
	for _, line := range lines {
		if l := strings.Join(strings.Fields(line), " "); l != "" {
			entries = append(entries, corpus.Entry{Line: l})
		}
	}
	if err := s.store.Append(ctx, name, info.Language, entries); err != nil {
		return 0, err
	}
	s.invalidate(name)
	return len(entries), nil
}

// Lex tokenizes source and normalizes its lexemes. The tokenizer is chosen
// by the extension of path, falling back to language.
func (s *LMService) Lex(ctx context.Context, path, language string, source []byte) ([]string, string, error) {
	tok, ok := s.registry.ForPath(path)
	if !ok && language != "" {
		tok, ok = s.registry.Get(language)
	}
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", ErrUnsupportedLanguage, path)
	}
	lexemes, err := tokenizer.Lex(ctx, tok, source)
	if err != nil {
		return nil, "", err
	}
	return lexemes, tok.Language(), nil
}

// AddSource lexes a source file and appends it to the corpus as one line.
// It returns the number of tokens added.
func (s *LMService) AddSource(ctx context.Context, name, path string, source []byte) (int, error) {
	info, err := s.lookup(ctx, name)
	if err != nil {
		return 0, err
	}
	lexemes, _, err := s.Lex(ctx, path, info.Language, source)
	if err != nil {
		return 0, err
	}
	if len(lexemes) == 0 {
		return 0, nil
	}
	if err := s.store.Append(ctx, name, info.Language, []corpus.Entry{{Source: path, Line: lexeme.Corpify(lexemes)}}); err != nil {
		return 0, err
	}
	s.invalidate(name)
	s.logger.Debug("Added source to corpus",
		zap.String("corpus", name),
		zap.String("path", path),
		zap.Int("tokens", len(lexemes)))
	return len(lexemes), nil
}

// IngestDirectory lexes every supported file under root and appends them to
// the corpus in path order. It returns the number of files added.
func (s *LMService) IngestDirectory(ctx context.Context, name, root string) (int, error) {
	info, err := s.lookup(ctx, name)
	if err != nil {
		return 0, err
	}

	var mu sync.Mutex
	var entries []corpus.Entry
	skip := func(path string, isDir bool) bool {
		if isDir {
			return util.SkipCommonDirs(path, isDir)
		}
		tok, ok := s.registry.ForPath(path)
		return !ok || (info.Language != "" && tok.Language() != info.Language)
	}
	walk := func(path string) error {
		source, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		lexemes, _, err := s.Lex(ctx, path, "", source)
		if err != nil {
			return err
		}
		if len(lexemes) == 0 {
			return nil
		}
		mu.Lock()
		entries = append(entries, corpus.Entry{Source: util.ToRelativePath(root, path), Line: lexeme.Corpify(lexemes)})
		mu.Unlock()
		return nil
	}

	if _, err := util.WalkDirTree(ctx, root, walk, skip, s.logger, s.opts.IngestThreads); err != nil {
		return 0, fmt.Errorf("failed to walk %s: %w", root, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Source < entries[j].Source })

	if err := s.store.Append(ctx, name, info.Language, entries); err != nil {
		return 0, err
	}
	s.invalidate(name)
	s.logger.Info("Ingested directory",
		zap.String("corpus", name),
		zap.String("root", root),
		zap.Int("files", len(entries)))
	return len(entries), nil
}

// manager returns the trained state of a corpus, training it if needed.
func (s *LMService) manager(ctx context.Context, name string) (*CorpusManager, error) {
	if _, err := s.lookup(ctx, name); err != nil {
		return nil, err
	}
	st := s.state(name)
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.manager != nil {
		return st.manager, nil
	}

	model, err := ngram.Train(ctx, s.store.Source(ctx, name), s.opts.Model, s.logger.With(zap.String("corpus", name)))
	if err != nil {
		return nil, err
	}
	cm, err := s.buildManager(ctx, name, model)
	if err != nil {
		return nil, err
	}
	st.manager = cm
	return cm, nil
}

func (s *LMService) buildManager(ctx context.Context, name string, model *ngram.Model) (*CorpusManager, error) {
	entries, err := s.store.Entries(ctx, name)
	if err != nil {
		return nil, err
	}
	cm := NewCorpusManager(name, model, s.scorer, s.logger)
	for i, e := range entries {
		tokens := strings.Fields(e.Line)
		if len(tokens) == 0 {
			continue
		}
		var language string
		if tok, ok := s.registry.ForPath(e.Source); ok {
			language = tok.Language()
		}
		if err := cm.AddSource(ctx, sourceKey(e.Source, i), language, tokens); err != nil {
			return nil, err
		}
	}
	return cm, nil
}

// Model returns the trained model of a corpus.
func (s *LMService) Model(ctx context.Context, name string) (*ngram.Model, error) {
	cm, err := s.manager(ctx, name)
	if err != nil {
		return nil, err
	}
	return cm.Model(), nil
}

// Score computes the cross-entropy of whitespace-tokenised lines under the
// corpus model.
func (s *LMService) Score(ctx context.Context, name string, lines []string) (ngram.ScoreResult, error) {
	model, err := s.Model(ctx, name)
	if err != nil {
		return ngram.ScoreResult{}, err
	}
	return s.scorer.Score(ctx, model, nil, corpus.NewMemory(lines...))
}

// ScoreFile scores a text file line by line under the corpus model.
func (s *LMService) ScoreFile(ctx context.Context, name, path string) (ngram.ScoreResult, error) {
	model, err := s.Model(ctx, name)
	if err != nil {
		return ngram.ScoreResult{}, err
	}
	return s.scorer.Score(ctx, model, nil, corpus.NewFile(path))
}

// AnalyzeSource lexes source code and compares it with the corpus sources.
func (s *LMService) AnalyzeSource(ctx context.Context, name, path, language string, source []byte, windows int) (*SourceAnalysis, error) {
	info, err := s.lookup(ctx, name)
	if err != nil {
		return nil, err
	}
	if language == "" {
		language = info.Language
	}
	lexemes, _, err := s.Lex(ctx, path, language, source)
	if err != nil {
		return nil, err
	}
	cm, err := s.manager(ctx, name)
	if err != nil {
		return nil, err
	}
	return cm.Analyze(ctx, lexemes, s.opts.WindowSize, windows)
}

// WorstWindows returns the n least natural windows of tokens.
func (s *LMService) WorstWindows(ctx context.Context, name string, tokens []string, size, n int) ([]ngram.WindowScore, error) {
	model, err := s.Model(ctx, name)
	if err != nil {
		return nil, err
	}
	if size <= 0 {
		size = s.opts.WindowSize
	}
	return s.scorer.WorstWindows(ctx, model, nil, tokens, size, n)
}

// Estimate re-runs parameter estimation starting from the current
// parameters and publishes the result. Scoring already in flight keeps the
// previous parameters.
func (s *LMService) Estimate(ctx context.Context, name string) (ngram.ModelInfo, error) {
	cm, err := s.manager(ctx, name)
	if err != nil {
		return ngram.ModelInfo{}, err
	}
	current := cm.Model()

	converged := true
	params, err := ngram.NewEstimator(s.opts.Model.Estimator, s.logger).Estimate(ctx, current, current.Params())
	if err != nil {
		var nc *ngram.NonConvergenceError
		if !errors.As(err, &nc) {
			return ngram.ModelInfo{}, err
		}
		s.logger.Warn("Re-estimation did not converge, publishing best parameters",
			zap.String("corpus", name),
			zap.Int("iterations", nc.Iterations))
		params, converged = nc.Best, false
	}
	next, err := current.WithParams(params, converged)
	if err != nil {
		return ngram.ModelInfo{}, err
	}
	updated, err := s.buildManager(ctx, name, next)
	if err != nil {
		return ngram.ModelInfo{}, err
	}

	st := s.state(name)
	st.mu.Lock()
	// A corpus change during estimation already dropped this model.
	if st.manager == cm {
		st.manager = updated
	}
	st.mu.Unlock()
	return next.Info(), nil
}

// Stats returns statistics of the corpus and its model.
func (s *LMService) Stats(ctx context.Context, name string) (*CorpusStats, error) {
	cm, err := s.manager(ctx, name)
	if err != nil {
		return nil, err
	}
	stats := cm.Stats(s.opts.TopSources)
	return &stats, nil
}
