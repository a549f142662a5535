package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"lm-go/internal/service/ngram"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// SourceEntropy is the cross-entropy of one corpus source under the corpus
// model.
type SourceEntropy struct {
	Source       string  `json:"source"`
	Language     string  `json:"language,omitempty"`
	Tokens       int     `json:"tokens"`
	CrossEntropy float64 `json:"cross_entropy"`
}

// CorpusManager tracks per-source entropies for one trained corpus so that
// new code can be ranked against the corpus it is compared with.
type CorpusManager struct {
	name    string
	model   *ngram.Model
	scorer  *ngram.Scorer
	sources map[string]*SourceEntropy
	logger  *zap.Logger
	mu      sync.RWMutex
}

// NewCorpusManager creates a manager over a trained model.
func NewCorpusManager(name string, model *ngram.Model, scorer *ngram.Scorer, logger *zap.Logger) *CorpusManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CorpusManager{
		name:    name,
		model:   model,
		scorer:  scorer,
		sources: make(map[string]*SourceEntropy),
		logger:  logger,
	}
}

// Model returns the model entropies are measured with.
func (cm *CorpusManager) Model() *ngram.Model {
	return cm.model
}

// AddSource scores tokens under the model and records the result for
// source, replacing an earlier entry with the same name.
func (cm *CorpusManager) AddSource(ctx context.Context, source, language string, tokens []string) error {
	res, err := cm.scorer.ScoreTokens(ctx, cm.model, nil, tokens)
	if err != nil {
		return fmt.Errorf("failed to score source %s: %w", source, err)
	}

	cm.mu.Lock()
	cm.sources[source] = &SourceEntropy{
		Source:       source,
		Language:     language,
		Tokens:       len(tokens),
		CrossEntropy: res.CrossEntropy,
	}
	cm.mu.Unlock()

	cm.logger.Debug("Added source to corpus statistics",
		zap.String("corpus", cm.name),
		zap.String("source", source),
		zap.Int("tokens", len(tokens)),
		zap.Float64("entropy", res.CrossEntropy),
	)
	return nil
}

// RemoveSource forgets a source. The model itself is unchanged.
func (cm *CorpusManager) RemoveSource(source string) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if _, exists := cm.sources[source]; !exists {
		return fmt.Errorf("source not found in corpus: %s", source)
	}
	delete(cm.sources, source)
	return nil
}

// SourceEntropy returns the recorded entropy of source.
func (cm *CorpusManager) SourceEntropy(source string) (SourceEntropy, error) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	se, exists := cm.sources[source]
	if !exists {
		return SourceEntropy{}, fmt.Errorf("source not found in corpus: %s", source)
	}
	return *se, nil
}

// RankSources returns the n sources with the highest entropy, most unusual
// first. n <= 0 returns all of them.
func (cm *CorpusManager) RankSources(n int) []SourceEntropy {
	cm.mu.RLock()
	out := make([]SourceEntropy, 0, len(cm.sources))
	for _, se := range cm.sources {
		out = append(out, *se)
	}
	cm.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CrossEntropy != out[j].CrossEntropy {
			return out[i].CrossEntropy > out[j].CrossEntropy
		}
		return out[i].Source < out[j].Source
	})
	if n > 0 && n < len(out) {
		out = out[:n]
	}
	return out
}

// EntropyStats summarises the entropies of every source.
type EntropyStats struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Median float64 `json:"median"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Count  int     `json:"count"`
}

// EntropyStats returns entropy statistics for z-score calculation.
func (cm *CorpusManager) EntropyStats() EntropyStats {
	cm.mu.RLock()
	entropies := make([]float64, 0, len(cm.sources))
	for _, se := range cm.sources {
		entropies = append(entropies, se.CrossEntropy)
	}
	cm.mu.RUnlock()

	return calculateEntropyStatistics(entropies)
}

func calculateEntropyStatistics(entropies []float64) EntropyStats {
	if len(entropies) == 0 {
		return EntropyStats{}
	}
	sort.Float64s(entropies)
	mean, std := stat.PopMeanStdDev(entropies, nil)
	return EntropyStats{
		Mean:   mean,
		StdDev: std,
		Median: median(entropies),
		Min:    floats.Min(entropies),
		Max:    floats.Max(entropies),
		Count:  len(entropies),
	}
}

// median expects sorted input. stat.Quantile returns the lower middle value
// for even counts, so it is averaged with the upper one.
func median(sorted []float64) float64 {
	m := stat.Quantile(0.5, stat.Empirical, sorted, nil)
	if n := len(sorted); n%2 == 0 {
		m = (m + sorted[n/2]) / 2
	}
	return m
}

// ZScore is (entropy - mean) / stddev over the corpus sources. Higher means
// more unusual. A corpus without spread yields 0.
func (cm *CorpusManager) ZScore(entropy float64) float64 {
	s := cm.EntropyStats()
	if s.StdDev == 0 {
		return 0
	}
	return (entropy - s.Mean) / s.StdDev
}

// ZScoreInterpretation is a human-readable reading of a z-score.
type ZScoreInterpretation struct {
	Level       string  `json:"level"` // very_low, low, normal, high, very_high
	Description string  `json:"description"`
	Percentile  float64 `json:"percentile"`
}

func interpretZScore(z float64) ZScoreInterpretation {
	percentile := 100 * distuv.UnitNormal.CDF(z)

	var level, description string
	switch {
	case z < -2.0:
		level = "very_low"
		description = "Extremely typical code"
	case z < -1.0:
		level = "low"
		description = "More typical than average"
	case z <= 1.0:
		level = "normal"
		description = "Within one standard deviation of the corpus mean"
	case z <= 2.0:
		level = "high"
		description = "Unusual code"
	default:
		level = "very_high"
		description = "Highly unusual code, a possible bug indicator"
	}
	return ZScoreInterpretation{
		Level:       level,
		Description: fmt.Sprintf("%s (more predictable than %.1f%% of the corpus)", description, 100-percentile),
		Percentile:  percentile,
	}
}

// SourceAnalysis reports how natural a piece of code is relative to a corpus.
type SourceAnalysis struct {
	Corpus         string               `json:"corpus"`
	Tokens         int                  `json:"tokens"`
	Score          ngram.ScoreResult    `json:"score"`
	ZScore         float64              `json:"z_score"`
	EntropyStats   EntropyStats         `json:"entropy_stats"`
	Interpretation ZScoreInterpretation `json:"interpretation"`
	WorstWindows   []ngram.WindowScore  `json:"worst_windows,omitempty"`
}

// Analyze scores tokens, places the result among the corpus sources and
// locates the least natural windows.
func (cm *CorpusManager) Analyze(ctx context.Context, tokens []string, windowSize, windows int) (*SourceAnalysis, error) {
	res, err := cm.scorer.ScoreTokens(ctx, cm.model, nil, tokens)
	if err != nil {
		return nil, err
	}
	worst, err := cm.scorer.WorstWindows(ctx, cm.model, nil, tokens, windowSize, windows)
	if err != nil {
		return nil, err
	}
	z := cm.ZScore(res.CrossEntropy)
	return &SourceAnalysis{
		Corpus:         cm.name,
		Tokens:         len(tokens),
		Score:          res,
		ZScore:         z,
		EntropyStats:   cm.EntropyStats(),
		Interpretation: interpretZScore(z),
		WorstWindows:   worst,
	}, nil
}

// CorpusStats contains statistics about one corpus and its model.
type CorpusStats struct {
	Name           string          `json:"name"`
	Sources        int             `json:"sources"`
	TotalTokens    int             `json:"total_tokens"`
	LanguageCounts map[string]int  `json:"language_counts"`
	Model          ngram.ModelInfo `json:"model"`
	Entropy        EntropyStats    `json:"entropy"`
	MostUnusual    []SourceEntropy `json:"most_unusual,omitempty"`
}

// Stats returns statistics about the corpus.
func (cm *CorpusManager) Stats(top int) CorpusStats {
	cm.mu.RLock()
	languageCounts := make(map[string]int)
	totalTokens := 0
	for _, se := range cm.sources {
		if se.Language != "" {
			languageCounts[se.Language]++
		}
		totalTokens += se.Tokens
	}
	sources := len(cm.sources)
	cm.mu.RUnlock()

	return CorpusStats{
		Name:           cm.name,
		Sources:        sources,
		TotalTokens:    totalTokens,
		LanguageCounts: languageCounts,
		Model:          cm.model.Info(),
		Entropy:        cm.EntropyStats(),
		MostUnusual:    cm.RankSources(top),
	}
}

// sourceKey names a stored line that did not come from a file.
func sourceKey(source string, index int) string {
	if strings.TrimSpace(source) != "" {
		return source
	}
	return fmt.Sprintf("line:%d", index+1)
}
