package ngram

import (
	"context"
	"errors"
	"math"
	"testing"

	"lm-go/internal/service/corpus"

	"go.uber.org/zap"
)

var trainingLines = []string{
	"the cat sat on the mat",
	"the dog sat on the log",
	"the cat ran",
	"a dog ran fast",
	"",
	"the cat sat",
}

func buildModel(t *testing.T, method string, order int, unk bool) *Model {
	t.Helper()
	cfg := ModelConfig{Order: order, Smoothing: method, UseUnknown: unk, CountStore: DefaultCountStoreOptions()}
	m, err := Build(context.Background(), corpus.NewMemory(trainingLines...), cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("Build(%s) failed: %v", method, err)
	}
	return m
}

func ids(t *testing.T, m *Model, tokens ...string) []TokenID {
	t.Helper()
	out := []TokenID{BOSID}
	for _, tok := range tokens {
		id, ok := m.Vocabulary().Lookup(tok)
		if !ok {
			t.Fatalf("token %q not in vocabulary", tok)
		}
		out = append(out, id)
	}
	return out
}

func midpoint(s Smoother, order int) ParamVector {
	lower, upper := s.Bounds(order)
	p := make(ParamVector, len(lower))
	for i := range p {
		p[i] = (lower[i] + upper[i]) / 2
	}
	return p
}

func TestProbabilitiesSumToOne(t *testing.T) {
	methods := []string{"KN", "MKN", "WB", "AbsDisc", "JM", "AddK", "GT"}
	for _, method := range methods {
		for _, unk := range []bool{true, false} {
			m := buildModel(t, method, 3, unk)
			histories := [][]TokenID{
				ids(t, m),
				ids(t, m, "the"),
				ids(t, m, "the", "cat"),
				ids(t, m, "cat", "sat")[1:],
				ids(t, m, "mat", "dog")[1:], // unseen bigram context
				{EOSID},                     // context with no continuations
			}
			for _, params := range []ParamVector{m.DefaultParams(), midpoint(m.Smoother(), m.Order())} {
				for _, h := range histories {
					var sum float64
					for _, id := range m.Vocabulary().PredictableIDs() {
						p := m.Probability(h, id, params)
						if p <= 0 {
							t.Fatalf("%s: non-positive probability %g for %d after %v", method, p, id, h)
						}
						sum += p
					}
					if math.Abs(sum-1) > 1e-6 {
						t.Errorf("%s (unk=%v): probabilities after %v sum to %.10f", method, unk, h, sum)
					}
				}
			}
		}
	}
}

func TestEmptyCorpusIsConfigurationError(t *testing.T) {
	cfg := DefaultModelConfig()
	_, err := Train(context.Background(), corpus.NewMemory("", "   "), cfg, zap.NewNop())
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Expected ConfigurationError, got %v", err)
	}
	if cfgErr.Field != "corpus" {
		t.Errorf("Expected corpus field, got %q", cfgErr.Field)
	}
}

func TestInvalidConfiguration(t *testing.T) {
	tests := []struct {
		name string
		cfg  ModelConfig
	}{
		{"zero order", ModelConfig{Order: 0, Smoothing: "KN"}},
		{"unknown method", ModelConfig{Order: 3, Smoothing: "bogus"}},
	}
	for _, tt := range tests {
		_, err := Build(context.Background(), corpus.NewMemory("a b"), tt.cfg, nil)
		var cfgErr *ConfigurationError
		if !errors.As(err, &cfgErr) {
			t.Errorf("%s: expected ConfigurationError, got %v", tt.name, err)
		}
	}
}

func TestParseMethodAliases(t *testing.T) {
	tests := map[string]Method{
		"KN":                 MethodKneserNey,
		"kneser-ney":         MethodKneserNey,
		"ModKN":              MethodModifiedKneserNey,
		"mkn":                MethodModifiedKneserNey,
		"WB":                 MethodWittenBell,
		"AbsDisc":            MethodAbsoluteDiscount,
		"JM":                 MethodInterpolated,
		"AddK":               MethodAdditive,
		"GoodTuring":         MethodGoodTuring,
		"Modified_KneserNey": MethodModifiedKneserNey,
	}
	for name, want := range tests {
		got, err := ParseMethod(name)
		if err != nil || got != want {
			t.Errorf("ParseMethod(%q) = %v, %v; want %v", name, got, err, want)
		}
	}
}

func TestWithParamsLeavesModelUntouched(t *testing.T) {
	m := buildModel(t, "WB", 2, true)
	orig := m.Params()
	alt := fill(2, 5.0)
	m2, err := m.WithParams(alt, true)
	if err != nil {
		t.Fatalf("WithParams failed: %v", err)
	}
	alt[0] = 99
	if m2.Params()[0] != 5.0 {
		t.Error("WithParams did not copy the vector")
	}
	if m.Params()[0] != orig[0] {
		t.Error("WithParams modified the original model")
	}
	if _, err := m.WithParams(ParamVector{1}, true); err == nil {
		t.Error("Expected error for wrong parameter count")
	}
}

func TestTrainEstimatesDeterministically(t *testing.T) {
	cfg := ModelConfig{
		Order:      3,
		Smoothing:  "KN",
		UseUnknown: true,
		CountStore: DefaultCountStoreOptions(),
		Estimator:  EstimatorConfig{MaxIterations: 200},
	}
	var first ParamVector
	for run := 0; run < 2; run++ {
		m, err := Train(context.Background(), corpus.NewMemory(trainingLines...), cfg, zap.NewNop())
		if err != nil {
			t.Fatalf("Train failed: %v", err)
		}
		p := m.Params()
		if run == 0 {
			first = p
			continue
		}
		for i := range p {
			if p[i] != first[i] {
				t.Fatalf("Parameter %d differs between runs: %v vs %v", i, p[i], first[i])
			}
		}
	}
}

func TestReservedTokensInTrainingText(t *testing.T) {
	lines := []string{"a <s> b", "a b", "</s> a", "<s>"}
	for _, method := range []string{"KN", "WB", "MKN"} {
		for _, unk := range []bool{true, false} {
			cfg := ModelConfig{Order: 2, Smoothing: method, UseUnknown: unk, CountStore: DefaultCountStoreOptions()}
			m, err := Build(context.Background(), corpus.NewMemory(lines...), cfg, zap.NewNop())
			if err != nil {
				t.Fatalf("Build(%s) failed: %v", method, err)
			}
			if got := m.Store().CountOf([]TokenID{BOSID}); got != 0 {
				t.Errorf("%s (unk=%v): <s> counted %d times as a predicted token", method, unk, got)
			}
			a, _ := m.Vocabulary().Lookup("a")
			for _, h := range [][]TokenID{{}, {BOSID}, {a}} {
				var sum float64
				for _, id := range m.Vocabulary().PredictableIDs() {
					sum += m.Probability(h, id, m.DefaultParams())
				}
				if math.Abs(sum-1) > 1e-6 {
					t.Errorf("%s (unk=%v): probabilities after %v sum to %.10f", method, unk, h, sum)
				}
			}
		}
	}
}

func TestBloomFilterDoesNotChangeProbabilities(t *testing.T) {
	lines := []string{"the cat sat", "the dog ran"}
	build := func(useBloom bool) *Model {
		opts := DefaultCountStoreOptions()
		opts.UseBloom = useBloom
		cfg := ModelConfig{Order: 2, Smoothing: "WB", UseUnknown: true, CountStore: opts}
		m, err := Build(context.Background(), corpus.NewMemory(lines...), cfg, zap.NewNop())
		if err != nil {
			t.Fatalf("Build failed: %v", err)
		}
		return m
	}
	with, without := build(true), build(false)
	if !with.Store().Stats().BloomFilter || without.Store().Stats().BloomFilter {
		t.Fatalf("Bloom settings not applied")
	}

	histories := [][]string{{}, {"<s>"}, {"<s>", "the"}, {"cat"}, {"ran"}}
	for _, h := range histories {
		for _, tok := range []string{"the", "cat", "dog", "sat", "ran", "</s>", "<unk>"} {
			hw, hwo := tokenIDs(with, h), tokenIDs(without, h)
			idw, _ := with.Vocabulary().Lookup(tok)
			idwo, _ := without.Vocabulary().Lookup(tok)
			pw := with.Probability(hw, idw, with.Params())
			pwo := without.Probability(hwo, idwo, without.Params())
			if math.Abs(pw-pwo) > 1e-12 {
				t.Errorf("P(%s|%v): bloom %g, no bloom %g", tok, h, pw, pwo)
			}
		}
	}
	the, _ := with.Vocabulary().Lookup("the")
	if got := with.Store().Children([]TokenID{BOSID}); len(got) != 1 || got[0].ID != the || got[0].Count != 2 {
		t.Errorf("Expected (<s> the) twice behind the filter, got %v", got)
	}
}

func tokenIDs(m *Model, tokens []string) []TokenID {
	out := make([]TokenID, len(tokens))
	for i, tok := range tokens {
		out[i], _ = m.Vocabulary().Lookup(tok)
	}
	return out
}
