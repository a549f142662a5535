package ngram

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/optimize"
)

// EstimatorConfig bounds the parameter search.
type EstimatorConfig struct {
	MaxIterations  int
	MaxEvaluations int
	Tolerance      float64
	Disabled       bool
}

// DefaultEstimatorConfig returns the limits used when nothing is configured.
func DefaultEstimatorConfig() EstimatorConfig {
	return EstimatorConfig{
		MaxIterations:  500,
		MaxEvaluations: 5000,
		Tolerance:      1e-7,
	}
}

// Estimator tunes a model's ParamVector by minimising leave-one-out
// cross-entropy on the training data with Nelder-Mead.
type Estimator struct {
	cfg    EstimatorConfig
	logger *zap.Logger
}

// NewEstimator creates an estimator; zero limits fall back to defaults.
func NewEstimator(cfg EstimatorConfig, logger *zap.Logger) *Estimator {
	def := DefaultEstimatorConfig()
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = def.MaxIterations
	}
	if cfg.MaxEvaluations <= 0 {
		cfg.MaxEvaluations = def.MaxEvaluations
	}
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = def.Tolerance
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Estimator{cfg: cfg, logger: logger}
}

// trainingEvent is one distinct predicted n-gram and how often it occurred.
type trainingEvent struct {
	history []TokenID
	token   TokenID
	weight  float64
}

func collectEvents(store *CountStore) ([]trainingEvent, float64) {
	var events []trainingEvent
	var total float64
	store.WalkEvents(func(ngram []TokenID, weight int64) {
		history := make([]TokenID, len(ngram)-1)
		copy(history, ngram[:len(ngram)-1])
		events = append(events, trainingEvent{
			history: history,
			token:   ngram[len(ngram)-1],
			weight:  float64(weight),
		})
		total += float64(weight)
	})
	return events, total
}

// objective computes leave-one-out cross-entropy in bits per token. Events
// are summed in trie order so repeated runs give identical results.
type objective struct {
	model  *Model
	events []trainingEvent
	total  float64
	sc     levelScratch
}

func newObjective(m *Model) *objective {
	events, total := collectEvents(m.store)
	return &objective{model: m, events: events, total: total}
}

func (o *objective) eval(params ParamVector) float64 {
	if o.total == 0 {
		return 0
	}
	v := o.model.vocab.PredictableSize()
	var sum float64
	for _, e := range o.events {
		levels := o.model.levels(e.history, e.token, true, &o.sc)
		p := o.model.smoother.Interpolate(levels, v, params)
		if !(p > 0) || math.IsInf(p, 0) {
			return math.MaxFloat64
		}
		sum -= e.weight * math.Log2(p)
	}
	return sum / o.total
}

// LeaveOneOutEntropy returns the estimator's objective for params.
func LeaveOneOutEntropy(m *Model, params ParamVector) (float64, error) {
	if err := m.checkParams(params); err != nil {
		return 0, err
	}
	return newObjective(m).eval(params), nil
}

// boundedMap maps between the bounded parameter space and the unconstrained
// space the optimizer walks: x = lo + (hi-lo)*sigmoid(z).
type boundedMap struct {
	lower, upper ParamVector
}

func (b boundedMap) toParams(z []float64, dst ParamVector) ParamVector {
	if dst == nil {
		dst = make(ParamVector, len(z))
	}
	for i, zi := range z {
		dst[i] = b.lower[i] + (b.upper[i]-b.lower[i])/(1+math.Exp(-zi))
	}
	return dst
}

func (b boundedMap) toFree(x ParamVector) []float64 {
	z := make([]float64, len(x))
	for i, xi := range x {
		f := (xi - b.lower[i]) / (b.upper[i] - b.lower[i])
		f = clamp(f, 1e-6, 1-1e-6)
		z[i] = math.Log(f / (1 - f))
	}
	return z
}

// contextConverger stops the optimizer once ctx is done.
type contextConverger struct {
	ctx   context.Context
	inner optimize.Converger
}

func (c *contextConverger) Init(dim int) {
	c.inner.Init(dim)
}

func (c *contextConverger) Converged(loc *optimize.Location) optimize.Status {
	if c.ctx.Err() != nil {
		return optimize.Failure
	}
	return c.inner.Converged(loc)
}

// Estimate searches for the parameter vector with the lowest leave-one-out
// cross-entropy, starting from initial. Evaluation is serial and
// deterministic. When the iteration budget runs out the best vector is
// returned together with a *NonConvergenceError. A result no better than
// initial yields initial.
func (e *Estimator) Estimate(ctx context.Context, m *Model, initial ParamVector) (ParamVector, error) {
	if err := m.checkParams(initial); err != nil {
		return nil, err
	}
	lower, upper := m.smoother.Bounds(m.order)
	bm := boundedMap{lower: lower, upper: upper}
	obj := newObjective(m)

	start := initial.Clone()
	for i := range start {
		start[i] = clamp(start[i], lower[i], upper[i])
	}
	f0 := obj.eval(start)

	scratch := make(ParamVector, len(start))
	problem := optimize.Problem{
		Func: func(z []float64) float64 {
			return obj.eval(bm.toParams(z, scratch))
		},
	}
	settings := &optimize.Settings{
		MajorIterations: e.cfg.MaxIterations,
		FuncEvaluations: e.cfg.MaxEvaluations,
		Converger: &contextConverger{
			ctx: ctx,
			inner: &optimize.FunctionConverge{
				Absolute:   e.cfg.Tolerance,
				Relative:   e.cfg.Tolerance,
				Iterations: 20,
			},
		},
	}

	e.logger.Debug("Starting parameter estimation",
		zap.String("model_id", m.id),
		zap.String("smoothing", m.smoother.Name()),
		zap.Int("params", len(start)),
		zap.Int("events", len(obj.events)),
		zap.Float64("initial_entropy", f0))

	result, err := optimize.Minimize(problem, bm.toFree(start), settings, &optimize.NelderMead{SimplexSize: 0.5})
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if result == nil {
		return nil, fmt.Errorf("optimizer failed: %w", err)
	}

	best := bm.toParams(result.Location.X, nil)
	bestF := result.Location.F
	if !(bestF < f0) {
		best, bestF = start, f0
	}

	switch result.Status {
	case optimize.IterationLimit, optimize.FunctionEvaluationLimit:
		return best, &NonConvergenceError{
			Iterations: result.Stats.MajorIterations,
			Objective:  bestF,
			Best:       best.Clone(),
			Status:     result.Status.String(),
		}
	}
	if err != nil {
		return nil, fmt.Errorf("optimizer failed: %w", err)
	}

	e.logger.Info("Estimated smoothing parameters",
		zap.String("model_id", m.id),
		zap.String("smoothing", m.smoother.Name()),
		zap.Float64("initial_entropy", f0),
		zap.Float64("entropy", bestF),
		zap.Int("iterations", result.Stats.MajorIterations),
		zap.Int("evaluations", result.Stats.FuncEvaluations),
		zap.String("status", result.Status.String()))
	return best, nil
}
