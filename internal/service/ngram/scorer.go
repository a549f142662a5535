package ngram

import (
	"context"
	"fmt"
	"io"
	"math"
	"strings"

	"lm-go/internal/service/corpus"

	"go.uber.org/zap"
)

// infiniteEntropy is the level above which an entropy is reported as
// effectively infinite.
const infiniteEntropy = 1e70

// ScoreOptions tunes the scoring engine.
type ScoreOptions struct {
	// In-memory sources with fewer lines than this skip corpus loading.
	ShortCorpusThreshold int
	// CrossSentence keeps the history across lines instead of restarting
	// each line at <s>.
	CrossSentence bool
}

// DefaultScoreOptions returns the options used when nothing is configured.
func DefaultScoreOptions() ScoreOptions {
	return ScoreOptions{ShortCorpusThreshold: 100}
}

// ScoreResult is the outcome of scoring one input.
type ScoreResult struct {
	ModelID      string  `json:"model_id"`
	Log2Prob     float64 `json:"log2_prob"`
	Tokens       int     `json:"tokens"`
	OOVs         int     `json:"oovs"`
	Sentences    int     `json:"sentences"`
	CrossEntropy float64 `json:"cross_entropy"`
	Perplexity   float64 `json:"perplexity"`
}

// TokenTrace records how one token was scored.
type TokenTrace struct {
	Token         string  `json:"token"`
	ContextLength int     `json:"context_length"`
	Log2Prob      float64 `json:"log2_prob"`
	Unknown       bool    `json:"unknown,omitempty"`
}

// Scorer computes cross-entropy and perplexity of text under a model. It
// holds no per-call state and is safe for concurrent use.
type Scorer struct {
	opts   ScoreOptions
	logger *zap.Logger
}

// NewScorer creates a scorer.
func NewScorer(opts ScoreOptions, logger *zap.Logger) *Scorer {
	if opts.ShortCorpusThreshold < 0 {
		opts.ShortCorpusThreshold = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scorer{opts: opts, logger: logger}
}

// Score evaluates every line of src. Short in-memory sources are scored
// straight from their strings; anything else is loaded into ID arrays
// first. Both paths feed the same per-sentence kernel in the same order, so
// their results are identical. A nil params uses the model's own.
func (s *Scorer) Score(ctx context.Context, m *Model, params ParamVector, src corpus.LineSource) (ScoreResult, error) {
	params, err := resolveParams(m, params)
	if err != nil {
		return ScoreResult{}, err
	}
	k := s.newKernel(m, params, nil)

	var lines int
	if mem, ok := src.(*corpus.Memory); ok && mem.Len() < s.opts.ShortCorpusThreshold {
		lines = mem.Len()
		for i, line := range mem.Lines() {
			if err := ctx.Err(); err != nil {
				return ScoreResult{}, err
			}
			ids, oovs, err := encodeLine(m.vocab, line, i)
			if err != nil {
				return ScoreResult{}, err
			}
			if ids == nil {
				continue
			}
			k.sentence(ids, oovs)
		}
		s.logger.Debug("Scored fragment on fast path", zap.Int("lines", lines))
	} else {
		loaded, err := Load(ctx, m.vocab, src)
		if err != nil {
			return ScoreResult{}, err
		}
		lines = loaded.Lines
		for i, ids := range loaded.Sentences {
			if i%256 == 0 {
				if err := ctx.Err(); err != nil {
					return ScoreResult{}, err
				}
			}
			k.sentence(ids, loaded.OOVs[i])
		}
		s.logger.Debug("Scored loaded corpus", zap.Int("lines", lines), zap.Int("sentences", len(loaded.Sentences)))
	}
	return s.finish(k, lines)
}

// ScoreTokens scores one pre-tokenised sentence.
func (s *Scorer) ScoreTokens(ctx context.Context, m *Model, params ParamVector, tokens []string) (ScoreResult, error) {
	params, err := resolveParams(m, params)
	if err != nil {
		return ScoreResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return ScoreResult{}, err
	}
	k := s.newKernel(m, params, nil)
	if len(tokens) > 0 {
		ids, oovs, err := encodeTokens(m.vocab, tokens, 0)
		if err != nil {
			return ScoreResult{}, err
		}
		k.sentence(ids, oovs)
	}
	return s.finish(k, 1)
}

// Trace scores one pre-tokenised sentence and reports every prediction,
// the closing </s> included.
func (s *Scorer) Trace(ctx context.Context, m *Model, params ParamVector, tokens []string) ([]TokenTrace, ScoreResult, error) {
	params, err := resolveParams(m, params)
	if err != nil {
		return nil, ScoreResult{}, err
	}
	ids, oovs, err := encodeTokens(m.vocab, tokens, 0)
	if err != nil {
		return nil, ScoreResult{}, err
	}
	traces := make([]TokenTrace, 0, len(ids)+1)
	k := s.newKernel(m, params, func(id TokenID, contextLen int, lp float64) {
		i := len(traces)
		t := TokenTrace{ContextLength: contextLen, Log2Prob: lp}
		if i < len(tokens) {
			t.Token = tokens[i]
			t.Unknown = m.vocab.UseUnknown() && id == UnknownID && tokens[i] != UnknownText
		} else {
			t.Token = EOSText
		}
		traces = append(traces, t)
	})
	if len(ids) > 0 {
		k.sentence(ids, oovs)
	}
	res, err := s.finish(k, 1)
	if err != nil {
		return nil, ScoreResult{}, err
	}
	return traces, res, nil
}

func resolveParams(m *Model, params ParamVector) (ParamVector, error) {
	if params == nil {
		return m.params, nil
	}
	if err := m.checkParams(params); err != nil {
		return nil, err
	}
	return params, nil
}

func (s *Scorer) finish(k *kernel, lines int) (ScoreResult, error) {
	res := k.res
	if res.Tokens == 0 {
		return ScoreResult{}, &EmptyInputError{Lines: lines}
	}
	res.CrossEntropy = -res.Log2Prob / float64(res.Tokens)
	res.Perplexity = math.Exp2(res.CrossEntropy)
	if res.CrossEntropy >= infiniteEntropy || math.IsInf(res.CrossEntropy, 0) || math.IsNaN(res.CrossEntropy) {
		s.logger.Warn("Cross-entropy is effectively infinite",
			zap.String("model_id", res.ModelID),
			zap.Float64("cross_entropy", res.CrossEntropy),
			zap.Int("tokens", res.Tokens))
	}
	return res, nil
}

// kernel accumulates log-probabilities sentence by sentence. Every scoring
// path goes through it.
type kernel struct {
	model    *Model
	params   ParamVector
	vocab    int
	cross    bool
	started  bool
	history  []TokenID
	sc       levelScratch
	res      ScoreResult
	observer func(id TokenID, contextLen int, log2p float64)
}

func (s *Scorer) newKernel(m *Model, params ParamVector, observer func(TokenID, int, float64)) *kernel {
	return &kernel{
		model:    m,
		params:   params,
		vocab:    m.vocab.PredictableSize(),
		cross:    s.opts.CrossSentence,
		history:  make([]TokenID, 0, m.order),
		res:      ScoreResult{ModelID: m.id},
		observer: observer,
	}
}

func (k *kernel) sentence(ids []TokenID, oovs int) {
	if !k.cross || !k.started {
		k.history = append(k.history[:0], BOSID)
		k.started = true
	}
	for _, id := range ids {
		k.predict(id)
	}
	k.predict(EOSID)
	k.res.Sentences++
	k.res.OOVs += oovs
}

func (k *kernel) predict(id TokenID) {
	levels := k.model.levels(k.history, id, false, &k.sc)
	lp := math.Log2(k.model.smoother.Interpolate(levels, k.vocab, k.params))
	k.res.Log2Prob += lp
	k.res.Tokens++
	if k.observer != nil {
		k.observer(id, contextLength(levels), lp)
	}

	k.history = append(k.history, id)
	if n := k.model.order - 1; len(k.history) > n {
		copy(k.history, k.history[len(k.history)-n:])
		k.history = k.history[:n]
	}
}

// contextLength is the longest history whose context was observed.
func contextLength(levels []Level) int {
	n := 0
	for i, lv := range levels {
		if lv.Total > 0 {
			n = i
		}
	}
	return n
}

// LoadedCorpus is a corpus materialised as ID arrays, blank lines dropped.
type LoadedCorpus struct {
	Sentences [][]TokenID
	OOVs      []int // tokens mapped to <unk>, per sentence
	Lines     int   // lines read, blank ones included
}

// Load reads every line of src and maps it through the sealed vocabulary.
func Load(ctx context.Context, vocab *Vocabulary, src corpus.LineSource) (*LoadedCorpus, error) {
	r, err := src.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open corpus: %w", err)
	}
	defer r.Close()

	out := &LoadedCorpus{}
	for {
		if out.Lines%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		line, err := r.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read corpus: %w", err)
		}
		ids, oovs, err := encodeLine(vocab, line, out.Lines)
		out.Lines++
		if err != nil {
			return nil, err
		}
		if ids == nil {
			continue
		}
		out.Sentences = append(out.Sentences, ids)
		out.OOVs = append(out.OOVs, oovs)
	}
}

// encodeLine maps a whitespace-tokenised line to IDs. Blank lines yield nil.
func encodeLine(vocab *Vocabulary, line string, lineNo int) ([]TokenID, int, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, 0, nil
	}
	return encodeTokens(vocab, fields, lineNo)
}

func encodeTokens(vocab *Vocabulary, tokens []string, lineNo int) ([]TokenID, int, error) {
	ids := make([]TokenID, len(tokens))
	oovs := 0
	for i, tok := range tokens {
		id, ok := vocab.Lookup(tok)
		if ok && id == BOSID {
			// <s> is context only; inside a line it is just an unseen token.
			id, ok = vocab.fallback()
		}
		if !ok {
			return nil, 0, &UnknownTokenError{Token: tok, Line: lineNo, Position: i}
		}
		if vocab.UseUnknown() && id == UnknownID && tok != UnknownText {
			oovs++
		}
		ids[i] = id
	}
	return ids, oovs, nil
}
