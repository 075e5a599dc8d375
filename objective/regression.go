package objective

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/YuminosukeSato/scigbm/core/parallel"
	"github.com/YuminosukeSato/scigbm/pkg/errors"
)

// pointwise holds what every single-output regression loss shares.
type pointwise struct {
	workers int
	label   []float64
	weight  []float64
}

func (p *pointwise) init(op string, meta Metadata, ok func(float64) bool, want string) error {
	if err := checkLabels(op, meta, ok, want); err != nil {
		return err
	}
	p.label = meta.Label
	p.weight = meta.Weight
	return nil
}

// each computes (grad, hess) per row with fn and applies the row weight.
func (p *pointwise) each(score, grad, hess []float64, fn func(s, y float64) (g, h float64)) {
	parallel.ParallelizeWithThreshold(p.workers, len(p.label), 1024, func(start, end int) {
		for i := start; i < end; i++ {
			g, h := fn(score[i], p.label[i])
			if p.weight != nil {
				g *= p.weight[i]
				h *= p.weight[i]
			}
			grad[i], hess[i] = g, h
		}
	})
}

func (p *pointwise) weightedMean() float64 {
	return stat.Mean(p.label, p.weight)
}

// residualPercentile is the weighted alpha-quantile of label-score over rows.
func (p *pointwise) residualPercentile(score []float64, rows []int, alpha float64) float64 {
	if len(rows) == 0 {
		return 0
	}
	res := make([]float64, len(rows))
	var w []float64
	if p.weight != nil {
		w = make([]float64, len(rows))
	}
	for k, i := range rows {
		res[k] = p.label[i] - score[i]
		if w != nil {
			w[k] = p.weight[i]
		}
	}
	return percentile(res, w, alpha)
}

// percentile sorts x (with its weights) and returns the empirical
// alpha-quantile.
func percentile(x, w []float64, alpha float64) float64 {
	if len(x) == 1 {
		return x[0]
	}
	if w == nil {
		sort.Float64s(x)
		return stat.Quantile(alpha, stat.Empirical, x, nil)
	}
	idx := make([]int, len(x))
	floats.Argsort(x, idx)
	sorted := make([]float64, len(w))
	for k, i := range idx {
		sorted[k] = w[i]
	}
	return stat.Quantile(alpha, stat.Empirical, x, sorted)
}

func (p *pointwise) ConvertOutput(raw, out []float64) { copy(out, raw) }

func (p *pointwise) NumModelPerIteration() int { return 1 }

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// regressionL2 is squared error.
type regressionL2 struct {
	pointwise
}

func (o *regressionL2) Init(meta Metadata) error {
	return o.init("regression", meta, finite, "want a finite value")
}

func (o *regressionL2) GetGradients(score, grad, hess []float64) {
	o.each(score, grad, hess, func(s, y float64) (float64, float64) { return s - y, 1 })
}

func (o *regressionL2) BoostFromScore(int) float64 { return o.weightedMean() }

func (o *regressionL2) String() string { return "regression" }

// regressionL1 is absolute error; leaves are renewed to the residual median.
type regressionL1 struct {
	pointwise
}

func (o *regressionL1) Init(meta Metadata) error {
	return o.init("regression_l1", meta, finite, "want a finite value")
}

func (o *regressionL1) GetGradients(score, grad, hess []float64) {
	o.each(score, grad, hess, func(s, y float64) (float64, float64) {
		d := s - y
		if d >= 0 {
			return 1, 1
		}
		return -1, 1
	})
}

func (o *regressionL1) BoostFromScore(int) float64 {
	return percentile(append([]float64(nil), o.label...), cloneOrNil(o.weight), 0.5)
}

func (o *regressionL1) RenewTreeOutput(score []float64, rows []int) float64 {
	return o.residualPercentile(score, rows, 0.5)
}

func (o *regressionL1) String() string { return "regression_l1" }

// huber is squared error within alpha of the label, absolute error beyond.
type huber struct {
	pointwise
	alpha float64
}

func (o *huber) Init(meta Metadata) error {
	return o.init("huber", meta, finite, "want a finite value")
}

func (o *huber) GetGradients(score, grad, hess []float64) {
	o.each(score, grad, hess, func(s, y float64) (float64, float64) {
		d := s - y
		if math.Abs(d) <= o.alpha {
			return d, 1
		}
		if d >= 0 {
			return o.alpha, 1
		}
		return -o.alpha, 1
	})
}

func (o *huber) BoostFromScore(int) float64 { return o.weightedMean() }

func (o *huber) String() string { return "huber" }

// fair is c^2 * (|d|/c - log(1+|d|/c)).
type fair struct {
	pointwise
	c float64
}

func (o *fair) Init(meta Metadata) error {
	return o.init("fair", meta, finite, "want a finite value")
}

func (o *fair) GetGradients(score, grad, hess []float64) {
	c := o.c
	o.each(score, grad, hess, func(s, y float64) (float64, float64) {
		d := s - y
		den := math.Abs(d) + c
		return c * d / den, c * c / (den * den)
	})
}

func (o *fair) BoostFromScore(int) float64 { return o.weightedMean() }

func (o *fair) String() string { return "fair" }

// poisson is the Poisson negative log likelihood with a log link.
type poisson struct {
	pointwise
	maxDeltaStep float64
}

func (o *poisson) Init(meta Metadata) error {
	err := o.init("poisson", meta, func(v float64) bool { return finite(v) && v >= 0 }, "want a non-negative value")
	if err != nil {
		return err
	}
	if floats.Sum(o.label) == 0 {
		return errors.NewEngineErrorf("poisson", "invalid label", "sum of labels is zero")
	}
	return nil
}

func (o *poisson) GetGradients(score, grad, hess []float64) {
	o.each(score, grad, hess, func(s, y float64) (float64, float64) {
		e := errors.StabilizeExp(s)
		return e - y, errors.StabilizeExp(s + o.maxDeltaStep)
	})
}

func (o *poisson) BoostFromScore(int) float64 { return errors.StabilizeLog(o.weightedMean()) }

func (o *poisson) ConvertOutput(raw, out []float64) { out[0] = math.Exp(raw[0]) }

func (o *poisson) String() string { return "poisson" }

// quantile is the pinball loss at level alpha.
type quantile struct {
	pointwise
	alpha float64
}

func (o *quantile) Init(meta Metadata) error {
	return o.init("quantile", meta, finite, "want a finite value")
}

func (o *quantile) GetGradients(score, grad, hess []float64) {
	o.each(score, grad, hess, func(s, y float64) (float64, float64) {
		if s-y >= 0 {
			return 1 - o.alpha, 1
		}
		return -o.alpha, 1
	})
}

func (o *quantile) BoostFromScore(int) float64 {
	return percentile(append([]float64(nil), o.label...), cloneOrNil(o.weight), o.alpha)
}

func (o *quantile) RenewTreeOutput(score []float64, rows []int) float64 {
	return o.residualPercentile(score, rows, o.alpha)
}

func (o *quantile) String() string { return "quantile alpha:" + formatFloat(o.alpha) }

func cloneOrNil(s []float64) []float64 {
	if s == nil {
		return nil
	}
	return append([]float64(nil), s...)
}
