package ngram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"lm-go/internal/service/corpus"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ModelConfig selects the model shape and how it is trained.
type ModelConfig struct {
	Order      int
	Smoothing  string
	UseUnknown bool
	CountStore CountStoreOptions
	Estimator  EstimatorConfig
}

// DefaultModelConfig matches the defaults used for source-code corpora:
// order 10, Kneser-Ney, unknown handling on.
func DefaultModelConfig() ModelConfig {
	return ModelConfig{
		Order:      10,
		Smoothing:  "KN",
		UseUnknown: true,
		CountStore: DefaultCountStoreOptions(),
		Estimator:  DefaultEstimatorConfig(),
	}
}

// Validate checks the order and smoothing method.
func (c ModelConfig) Validate() error {
	if c.Order < 1 {
		return &ConfigurationError{Field: "order", Reason: fmt.Sprintf("must be at least 1, got %d", c.Order)}
	}
	if _, err := ParseMethod(c.Smoothing); err != nil {
		return err
	}
	return nil
}

// Model is a trained n-gram model: frozen counts, a sealed vocabulary, the
// smoothing strategy and its parameters. A Model never changes after Train
// returns; WithParams derives a copy with a different vector.
type Model struct {
	id        string
	order     int
	store     *CountStore
	vocab     *Vocabulary
	smoother  Smoother
	defaults  ParamVector
	params    ParamVector
	converged bool
}

// Train reads every line of source, builds the vocabulary and counts, and
// estimates smoothing parameters unless estimation is disabled. A corpus
// without tokens is a ConfigurationError. Non-convergence is logged and the
// best parameters found are kept.
func Train(ctx context.Context, source corpus.LineSource, cfg ModelConfig, logger *zap.Logger) (*Model, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	model, err := Build(ctx, source, cfg, logger)
	if err != nil {
		return nil, err
	}
	if cfg.Estimator.Disabled {
		return model, nil
	}

	params, err := NewEstimator(cfg.Estimator, logger).Estimate(ctx, model, model.defaults)
	if err != nil {
		var nc *NonConvergenceError
		if !errors.As(err, &nc) {
			return nil, fmt.Errorf("failed to estimate parameters: %w", err)
		}
		logger.Warn("Parameter estimation did not converge, keeping best parameters",
			zap.String("model_id", model.id),
			zap.Int("iterations", nc.Iterations),
			zap.Float64("objective", nc.Objective),
			zap.String("status", nc.Status))
		model.params = nc.Best.Clone()
		model.converged = false
		return model, nil
	}
	model.params = params
	model.converged = true
	return model, nil
}

// Build counts the corpus and freezes the model with data-driven default
// parameters, without running the estimator.
func Build(ctx context.Context, source corpus.LineSource, cfg ModelConfig, logger *zap.Logger) (*Model, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	smoother, err := SmootherByName(cfg.Smoothing)
	if err != nil {
		return nil, err
	}

	vocab := NewVocabulary(cfg.UseUnknown)
	sentences, err := readTrainingSentences(ctx, source, vocab)
	if err != nil {
		return nil, err
	}
	if len(sentences) == 0 {
		return nil, &ConfigurationError{Field: "corpus", Reason: "training corpus contains no tokens"}
	}

	store := NewCountStore(cfg.Order, cfg.CountStore)
	for _, s := range sentences {
		if err := store.Accumulate(s); err != nil {
			return nil, err
		}
	}
	store.Freeze()
	vocab.Seal()

	defaults := smoother.DefaultParams(store)
	m := &Model{
		id:        uuid.NewString(),
		order:     cfg.Order,
		store:     store,
		vocab:     vocab,
		smoother:  smoother,
		defaults:  defaults,
		params:    defaults.Clone(),
		converged: true,
	}

	stats := store.Stats()
	logger.Info("Built n-gram model",
		zap.String("model_id", m.id),
		zap.Int("order", cfg.Order),
		zap.String("smoothing", smoother.Name()),
		zap.Int("vocabulary", vocab.Size()),
		zap.Int64("sentences", stats.Sentences),
		zap.Int64("tokens", stats.TotalTokens),
		zap.Int64("nodes", stats.TotalNodes))
	return m, nil
}

// readTrainingSentences materialises the corpus as ID arrays. Lines left
// without tokens are skipped.
func readTrainingSentences(ctx context.Context, source corpus.LineSource, vocab *Vocabulary) ([][]TokenID, error) {
	r, err := source.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open training corpus: %w", err)
	}
	defer r.Close()

	var sentences [][]TokenID
	for n := 0; ; n++ {
		if n%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		line, err := r.Next()
		if err == io.EOF {
			return sentences, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read training corpus: %w", err)
		}
		fields := strings.Fields(line)
		ids := make([]TokenID, 0, len(fields))
		for _, tok := range fields {
			id, _ := vocab.Intern(tok)
			if id == BOSID {
				// <s> is never predicted. A literal one in the text counts
				// as <unk>, or is dropped when there is no unknown slot.
				if !vocab.UseUnknown() {
					continue
				}
				id = UnknownID
			}
			ids = append(ids, id)
		}
		if len(ids) == 0 {
			continue
		}
		sentences = append(sentences, ids)
	}
}

// ID is a random identifier assigned when the model was built.
func (m *Model) ID() string { return m.id }

// Order returns the maximum n-gram length.
func (m *Model) Order() int { return m.order }

// Vocabulary returns the sealed training vocabulary.
func (m *Model) Vocabulary() *Vocabulary { return m.vocab }

// Store returns the frozen count store.
func (m *Model) Store() *CountStore { return m.store }

// Smoother returns the smoothing strategy.
func (m *Model) Smoother() Smoother { return m.smoother }

// Params returns a copy of the parameters the model scores with by default.
func (m *Model) Params() ParamVector { return m.params.Clone() }

// DefaultParams returns a copy of the data-driven starting parameters.
func (m *Model) DefaultParams() ParamVector { return m.defaults.Clone() }

// Converged is false when the estimator ran out of iterations.
func (m *Model) Converged() bool { return m.converged }

// WithParams returns a model sharing counts and vocabulary but scoring with
// params. The receiver is not modified.
func (m *Model) WithParams(params ParamVector, converged bool) (*Model, error) {
	if err := m.checkParams(params); err != nil {
		return nil, err
	}
	cp := *m
	cp.params = params.Clone()
	cp.converged = converged
	return &cp, nil
}

func (m *Model) checkParams(params ParamVector) error {
	if want := m.smoother.ParamCount(m.order); len(params) != want {
		return &ConfigurationError{Field: "params", Reason: fmt.Sprintf("%s expects %d parameters, got %d", m.smoother.Name(), want, len(params))}
	}
	return nil
}

// Probability returns P(token | history) under params. Only the last
// order-1 history IDs are used; a history normally begins with BOSID.
func (m *Model) Probability(history []TokenID, token TokenID, params ParamVector) float64 {
	var sc levelScratch
	return m.smoother.Interpolate(m.levels(history, token, false, &sc), m.vocab.PredictableSize(), params)
}

// levelScratch holds per-call buffers so concurrent readers never share
// memory.
type levelScratch struct {
	levels []Level
	ctx    []*TrieNode
	ev     []*TrieNode
}

// levels collects the statistics of every interpolation level for predicting
// token after history. With loo set, one occurrence of the event is removed
// from each level first (leave-one-out), which requires the event to have
// been counted.
func (m *Model) levels(history []TokenID, token TokenID, loo bool, sc *levelScratch) []Level {
	if n := m.order - 1; len(history) > n {
		history = history[len(history)-n:]
	}
	k := len(history) + 1
	sc.levels = sc.levels[:0]
	sc.ctx = sc.ctx[:0]
	sc.ev = sc.ev[:0]

	for lvl := 1; lvl <= k; lvl++ {
		h := history[len(history)-(lvl-1):]
		ctxNode := m.store.find(h)
		sc.ctx = append(sc.ctx, ctxNode)
		sc.ev = append(sc.ev, ctxNode.child(token))
	}

	continuation := m.smoother.UsesContinuationCounts()
	for lvl := 1; lvl <= k; lvl++ {
		ctxNode, ev := sc.ctx[lvl-1], sc.ev[lvl-1]
		if ctxNode == nil {
			sc.levels = append(sc.levels, Level{})
			continue
		}
		first := token
		if lvl > 1 {
			first = history[len(history)-(lvl-1)]
		}
		raw := !continuation || lvl == m.order || first == BOSID

		stats := ctxNode.raw
		var c int64
		if !raw {
			stats = ctxNode.kn
		}
		if ev != nil {
			if raw {
				c = ev.count
			} else {
				c = ev.cont
			}
		}

		if loo && c > 0 {
			// A continuation count drops only when the removed occurrence
			// was the sole instance of its left extension.
			remove := raw || (lvl < k && sc.ev[lvl] != nil && sc.ev[lvl].count == 1)
			if remove {
				stats, c = stats.without(c)
			}
		}
		sc.levels = append(sc.levels, stats.level(c))
	}
	return sc.levels
}

// without removes one unit from a continuation whose count is c.
func (s contextStats) without(c int64) (contextStats, int64) {
	s.total--
	s.n[countClass(c)]--
	if c-1 > 0 {
		s.n[countClass(c-1)]++
	} else {
		s.types--
	}
	return s, c - 1
}

func (s contextStats) level(c int64) Level {
	return Level{
		Count: float64(c),
		Total: float64(s.total),
		Types: float64(s.types),
		N1:    float64(s.n[1]),
		N2:    float64(s.n[2]),
		N3:    float64(s.n[3]),
	}
}

// ModelInfo is a JSON-friendly description of a model.
type ModelInfo struct {
	ID         string      `json:"id"`
	Order      int         `json:"order"`
	Smoothing  string      `json:"smoothing"`
	UseUnknown bool        `json:"use_unknown"`
	Vocabulary int         `json:"vocabulary"`
	Params     ParamVector `json:"params"`
	Converged  bool        `json:"converged"`
	Store      StoreStats  `json:"store"`
}

// Info describes the model.
func (m *Model) Info() ModelInfo {
	return ModelInfo{
		ID:         m.id,
		Order:      m.order,
		Smoothing:  m.smoother.Name(),
		UseUnknown: m.vocab.UseUnknown(),
		Vocabulary: m.vocab.Size(),
		Params:     m.Params(),
		Converged:  m.converged,
		Store:      m.store.Stats(),
	}
}
