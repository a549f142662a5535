package ngram

import (
	"fmt"
	"math"
	"strings"
)

// ParamVector holds the smoothing hyperparameters of a model. Its layout is
// defined by the Smoother that produced it.
type ParamVector []float64

// Clone returns an independent copy.
func (p ParamVector) Clone() ParamVector {
	if p == nil {
		return nil
	}
	out := make(ParamVector, len(p))
	copy(out, p)
	return out
}

// Method identifies a smoothing algorithm.
type Method int

const (
	MethodKneserNey Method = iota
	MethodModifiedKneserNey
	MethodWittenBell
	MethodAbsoluteDiscount
	MethodInterpolated
	MethodAdditive
	MethodGoodTuring
)

var methodNames = map[Method]string{
	MethodKneserNey:         "KneserNey",
	MethodModifiedKneserNey: "ModifiedKneserNey",
	MethodWittenBell:        "WittenBell",
	MethodAbsoluteDiscount:  "AbsoluteDiscount",
	MethodInterpolated:      "Interpolated",
	MethodAdditive:          "Additive",
	MethodGoodTuring:        "GoodTuring",
}

var methodAliases = map[string]Method{
	"kneserney":         MethodKneserNey,
	"kn":                MethodKneserNey,
	"modifiedkneserney": MethodModifiedKneserNey,
	"modkn":             MethodModifiedKneserNey,
	"mkn":               MethodModifiedKneserNey,
	"wittenbell":        MethodWittenBell,
	"wb":                MethodWittenBell,
	"absolutediscount":  MethodAbsoluteDiscount,
	"absdisc":           MethodAbsoluteDiscount,
	"interpolated":      MethodInterpolated,
	"jelinekmercer":     MethodInterpolated,
	"jm":                MethodInterpolated,
	"additive":          MethodAdditive,
	"addk":              MethodAdditive,
	"goodturing":        MethodGoodTuring,
	"gt":                MethodGoodTuring,
}

func (m Method) String() string {
	if name, ok := methodNames[m]; ok {
		return name
	}
	return fmt.Sprintf("Method(%d)", int(m))
}

// ParseMethod resolves a smoothing name, case-insensitively, including the
// short aliases (KN, ModKN, MKN, WB, AbsDisc, JM, AddK, GT).
func ParseMethod(name string) (Method, error) {
	key := strings.ToLower(strings.NewReplacer("-", "", "_", "", " ", "").Replace(name))
	if m, ok := methodAliases[key]; ok {
		return m, nil
	}
	return 0, &ConfigurationError{Field: "smoothing", Reason: fmt.Sprintf("unknown smoothing method %q", name)}
}

// Level carries the statistics of one interpolation level: the count of the
// predicted n-gram and the totals of its context, both in the counting scheme
// the smoother asked for.
type Level struct {
	Count float64 // c(h_k w)
	Total float64 // N: sum of counts in context h_k
	Types float64 // T: distinct continuations of h_k
	N1    float64 // continuations seen exactly once
	N2    float64 // exactly twice
	N3    float64 // three or more times
}

// Smoother defines an interpolated smoothing algorithm. Implementations are
// stateless; all tunable values live in the ParamVector so one frozen model
// can be scored under several vectors concurrently.
type Smoother interface {
	Name() string
	Method() Method

	// ParamCount is the ParamVector length for a model of the given order.
	ParamCount(order int) int

	// DefaultParams derives a starting vector from a frozen store.
	DefaultParams(store *CountStore) ParamVector

	// Bounds returns the open interval each parameter must stay inside.
	Bounds(order int) (lower, upper ParamVector)

	// UsesContinuationCounts selects Kneser-Ney counts below the top order.
	UsesContinuationCounts() bool

	// Interpolate folds levels 1..K (levels[k-1]) onto the uniform
	// distribution over vocabSize predictable tokens.
	Interpolate(levels []Level, vocabSize int, params ParamVector) float64
}

// NewSmoother returns the smoother for a method.
func NewSmoother(m Method) (Smoother, error) {
	switch m {
	case MethodKneserNey:
		return NewKneserNeySmoother(), nil
	case MethodModifiedKneserNey:
		return NewModifiedKneserNeySmoother(), nil
	case MethodWittenBell:
		return NewWittenBellSmoother(), nil
	case MethodAbsoluteDiscount:
		return NewAbsoluteDiscountSmoother(), nil
	case MethodInterpolated:
		return NewInterpolatedSmoother(), nil
	case MethodAdditive:
		return NewAdditiveSmoother(), nil
	case MethodGoodTuring:
		return NewGoodTuringSmoother(), nil
	}
	return nil, &ConfigurationError{Field: "smoothing", Reason: fmt.Sprintf("unsupported method %v", m)}
}

// SmootherByName parses name and builds its smoother.
func SmootherByName(name string) (Smoother, error) {
	m, err := ParseMethod(name)
	if err != nil {
		return nil, err
	}
	return NewSmoother(m)
}

func uniform(vocabSize int) float64 {
	if vocabSize <= 0 {
		return 0
	}
	return 1.0 / float64(vocabSize)
}

func fill(n int, v float64) ParamVector {
	out := make(ParamVector, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// WittenBellSmoother implements Witten-Bell smoothing with one scale factor
// per order.
type WittenBellSmoother struct{}

// NewWittenBellSmoother creates a new Witten-Bell smoother
func NewWittenBellSmoother() *WittenBellSmoother {
	return &WittenBellSmoother{}
}

func (s *WittenBellSmoother) Name() string                 { return "WittenBell" }
func (s *WittenBellSmoother) Method() Method               { return MethodWittenBell }
func (s *WittenBellSmoother) ParamCount(order int) int     { return order }
func (s *WittenBellSmoother) UsesContinuationCounts() bool { return false }

func (s *WittenBellSmoother) DefaultParams(store *CountStore) ParamVector {
	return fill(store.Order(), 1.0)
}

func (s *WittenBellSmoother) Bounds(order int) (ParamVector, ParamVector) {
	return fill(order, 0.01), fill(order, 100)
}

func (s *WittenBellSmoother) Interpolate(levels []Level, vocabSize int, params ParamVector) float64 {
	p := uniform(vocabSize)
	for k, lv := range levels {
		if lv.Total <= 0 {
			continue
		}
		bt := params[k] * lv.Types
		p = (lv.Count + bt*p) / (lv.Total + bt)
	}
	return p
}

// AbsoluteDiscountSmoother subtracts a fixed discount per order from every
// seen count and hands the mass to the lower order.
type AbsoluteDiscountSmoother struct{}

// NewAbsoluteDiscountSmoother creates a new absolute-discount smoother
func NewAbsoluteDiscountSmoother() *AbsoluteDiscountSmoother {
	return &AbsoluteDiscountSmoother{}
}

func (s *AbsoluteDiscountSmoother) Name() string                 { return "AbsoluteDiscount" }
func (s *AbsoluteDiscountSmoother) Method() Method               { return MethodAbsoluteDiscount }
func (s *AbsoluteDiscountSmoother) ParamCount(order int) int     { return order }
func (s *AbsoluteDiscountSmoother) UsesContinuationCounts() bool { return false }

func (s *AbsoluteDiscountSmoother) DefaultParams(store *CountStore) ParamVector {
	return neyDiscounts(store, false)
}

func (s *AbsoluteDiscountSmoother) Bounds(order int) (ParamVector, ParamVector) {
	return fill(order, 0.001), fill(order, 0.999)
}

func (s *AbsoluteDiscountSmoother) Interpolate(levels []Level, vocabSize int, params ParamVector) float64 {
	return discountInterpolate(levels, vocabSize, params)
}

func discountInterpolate(levels []Level, vocabSize int, params ParamVector) float64 {
	p := uniform(vocabSize)
	for k, lv := range levels {
		if lv.Total <= 0 {
			continue
		}
		d := params[k]
		p = math.Max(lv.Count-d, 0)/lv.Total + d*lv.Types/lv.Total*p
	}
	return p
}

// neyDiscounts estimates D = n1/(n1+2n2) per order, falling back to 0.5 when
// the count-of-counts are degenerate.
func neyDiscounts(store *CountStore, continuation bool) ParamVector {
	order := store.Order()
	out := make(ParamVector, order)
	for k := 1; k <= order; k++ {
		n1 := float64(store.CountOfCounts(k, 1, continuation))
		n2 := float64(store.CountOfCounts(k, 2, continuation))
		d := 0.5
		if n1 > 0 && n2 > 0 {
			d = clamp(n1/(n1+2*n2), 0.05, 0.95)
		}
		out[k-1] = d
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

// KneserNeySmoother is interpolated Kneser-Ney: absolute discounting over
// continuation counts for every order below the top.
type KneserNeySmoother struct{}

// NewKneserNeySmoother creates a new Kneser-Ney smoother
func NewKneserNeySmoother() *KneserNeySmoother {
	return &KneserNeySmoother{}
}

func (s *KneserNeySmoother) Name() string                 { return "KneserNey" }
func (s *KneserNeySmoother) Method() Method               { return MethodKneserNey }
func (s *KneserNeySmoother) ParamCount(order int) int     { return order }
func (s *KneserNeySmoother) UsesContinuationCounts() bool { return true }

func (s *KneserNeySmoother) DefaultParams(store *CountStore) ParamVector {
	return neyDiscounts(store, true)
}

func (s *KneserNeySmoother) Bounds(order int) (ParamVector, ParamVector) {
	return fill(order, 0.001), fill(order, 0.999)
}

func (s *KneserNeySmoother) Interpolate(levels []Level, vocabSize int, params ParamVector) float64 {
	return discountInterpolate(levels, vocabSize, params)
}

// ModifiedKneserNeySmoother uses three discounts per order, for counts of
// one, two, and three or more. Params are laid out D1,D2,D3+ per order.
type ModifiedKneserNeySmoother struct{}

// NewModifiedKneserNeySmoother creates a new modified Kneser-Ney smoother
func NewModifiedKneserNeySmoother() *ModifiedKneserNeySmoother {
	return &ModifiedKneserNeySmoother{}
}

func (s *ModifiedKneserNeySmoother) Name() string                 { return "ModifiedKneserNey" }
func (s *ModifiedKneserNeySmoother) Method() Method               { return MethodModifiedKneserNey }
func (s *ModifiedKneserNeySmoother) ParamCount(order int) int     { return 3 * order }
func (s *ModifiedKneserNeySmoother) UsesContinuationCounts() bool { return true }

// DefaultParams uses the Chen-Goodman estimates
// D_c = c - (c+1)·Y·n_{c+1}/n_c with Y = n1/(n1+2n2).
func (s *ModifiedKneserNeySmoother) DefaultParams(store *CountStore) ParamVector {
	return chenGoodmanDiscounts(store, true)
}

func chenGoodmanDiscounts(store *CountStore, continuation bool) ParamVector {
	order := store.Order()
	lower, upper := classDiscountBounds(order)
	out := make(ParamVector, 3*order)
	for k := 1; k <= order; k++ {
		var n [5]float64
		for c := 1; c <= 4; c++ {
			n[c] = float64(store.CountOfCounts(k, c, continuation))
		}
		base := 3 * (k - 1)
		out[base], out[base+1], out[base+2] = 0.5, 1.0, 1.5
		if n[1] == 0 || n[2] == 0 {
			continue
		}
		y := n[1] / (n[1] + 2*n[2])
		for c := 1; c <= 3; c++ {
			if n[c] == 0 {
				continue
			}
			d := float64(c) - float64(c+1)*y*n[c+1]/n[c]
			i := base + c - 1
			margin := 0.05 * (upper[i] - lower[i])
			out[i] = clamp(d, lower[i]+margin, upper[i]-margin)
		}
	}
	return out
}

func (s *ModifiedKneserNeySmoother) Bounds(order int) (ParamVector, ParamVector) {
	return classDiscountBounds(order)
}

// classDiscountBounds keeps each discount below the smallest count of its
// class: D1 < 1, D2 < 2, D3+ < 3.
func classDiscountBounds(order int) (ParamVector, ParamVector) {
	lower := fill(3*order, 0.001)
	upper := make(ParamVector, 3*order)
	for k := 0; k < order; k++ {
		upper[3*k] = 0.999
		upper[3*k+1] = 1.999
		upper[3*k+2] = 2.999
	}
	return lower, upper
}

func (s *ModifiedKneserNeySmoother) Interpolate(levels []Level, vocabSize int, params ParamVector) float64 {
	return classDiscountInterpolate(levels, vocabSize, params)
}

func classDiscountInterpolate(levels []Level, vocabSize int, params ParamVector) float64 {
	p := uniform(vocabSize)
	for k, lv := range levels {
		if lv.Total <= 0 {
			continue
		}
		d1, d2, d3 := params[3*k], params[3*k+1], params[3*k+2]
		var d float64
		switch {
		case lv.Count <= 0:
			d = 0
		case lv.Count < 2:
			d = d1
		case lv.Count < 3:
			d = d2
		default:
			d = d3
		}
		gamma := (d1*lv.N1 + d2*lv.N2 + d3*lv.N3) / lv.Total
		p = math.Max(lv.Count-d, 0)/lv.Total + gamma*p
	}
	return p
}

// InterpolatedSmoother is Jelinek-Mercer interpolation with one weight per
// order.
type InterpolatedSmoother struct{}

// NewInterpolatedSmoother creates a new Jelinek-Mercer smoother
func NewInterpolatedSmoother() *InterpolatedSmoother {
	return &InterpolatedSmoother{}
}

func (s *InterpolatedSmoother) Name() string                 { return "Interpolated" }
func (s *InterpolatedSmoother) Method() Method               { return MethodInterpolated }
func (s *InterpolatedSmoother) ParamCount(order int) int     { return order }
func (s *InterpolatedSmoother) UsesContinuationCounts() bool { return false }

func (s *InterpolatedSmoother) DefaultParams(store *CountStore) ParamVector {
	return fill(store.Order(), 0.6)
}

func (s *InterpolatedSmoother) Bounds(order int) (ParamVector, ParamVector) {
	return fill(order, 0.001), fill(order, 0.999)
}

func (s *InterpolatedSmoother) Interpolate(levels []Level, vocabSize int, params ParamVector) float64 {
	p := uniform(vocabSize)
	for k, lv := range levels {
		if lv.Total <= 0 {
			continue
		}
		lambda := params[k]
		p = lambda*lv.Count/lv.Total + (1-lambda)*p
	}
	return p
}

// AdditiveSmoother implements add-k smoothing interpolated with the lower
// order: k pseudo-counts per vocabulary entry spread by the lower-order
// distribution.
type AdditiveSmoother struct{}

// NewAdditiveSmoother creates a new add-k smoother
func NewAdditiveSmoother() *AdditiveSmoother {
	return &AdditiveSmoother{}
}

func (s *AdditiveSmoother) Name() string                 { return "AddK" }
func (s *AdditiveSmoother) Method() Method               { return MethodAdditive }
func (s *AdditiveSmoother) ParamCount(order int) int     { return order }
func (s *AdditiveSmoother) UsesContinuationCounts() bool { return false }

func (s *AdditiveSmoother) DefaultParams(store *CountStore) ParamVector {
	return fill(store.Order(), 1.0) // Laplace
}

func (s *AdditiveSmoother) Bounds(order int) (ParamVector, ParamVector) {
	return fill(order, 0.0001), fill(order, 100)
}

func (s *AdditiveSmoother) Interpolate(levels []Level, vocabSize int, params ParamVector) float64 {
	p := uniform(vocabSize)
	v := float64(vocabSize)
	for k, lv := range levels {
		if lv.Total <= 0 {
			continue
		}
		dv := params[k] * v
		p = (lv.Count + dv*p) / (lv.Total + dv)
	}
	return p
}

// GoodTuringSmoother discounts raw counts by class with Good-Turing
// estimates, d_c = c - c* where c* = (c+1)·n_{c+1}/n_c, and interpolates
// the freed mass with the lower order. Params share the D1,D2,D3+ layout of
// modified Kneser-Ney.
type GoodTuringSmoother struct{}

// NewGoodTuringSmoother creates a new Good-Turing smoother
func NewGoodTuringSmoother() *GoodTuringSmoother {
	return &GoodTuringSmoother{}
}

func (s *GoodTuringSmoother) Name() string                 { return "GoodTuring" }
func (s *GoodTuringSmoother) Method() Method               { return MethodGoodTuring }
func (s *GoodTuringSmoother) ParamCount(order int) int     { return 3 * order }
func (s *GoodTuringSmoother) UsesContinuationCounts() bool { return false }

func (s *GoodTuringSmoother) DefaultParams(store *CountStore) ParamVector {
	order := store.Order()
	lower, upper := classDiscountBounds(order)
	out := make(ParamVector, 3*order)
	for k := 1; k <= order; k++ {
		var n [5]float64
		for c := 1; c <= 4; c++ {
			n[c] = float64(store.CountOfCounts(k, c, false))
		}
		for c := 1; c <= 3; c++ {
			i := 3*(k-1) + c - 1
			d := 0.5 * float64(c)
			if n[c] > 0 && n[c+1] > 0 {
				d = float64(c) - float64(c+1)*n[c+1]/n[c]
			}
			margin := 0.05 * (upper[i] - lower[i])
			out[i] = clamp(d, lower[i]+margin, upper[i]-margin)
		}
	}
	return out
}

func (s *GoodTuringSmoother) Bounds(order int) (ParamVector, ParamVector) {
	return classDiscountBounds(order)
}

func (s *GoodTuringSmoother) Interpolate(levels []Level, vocabSize int, params ParamVector) float64 {
	return classDiscountInterpolate(levels, vocabSize, params)
}
