// Package objective implements the training losses of the booster.
//
// An Objective turns the current raw scores into first and second order
// gradients, supplies the starting score when boost_from_average is set and
// converts raw scores into the model's output space. Scores, gradients and
// hessians are class-major: the value of row i for model k is at k*numData+i.
package objective

import (
	"strconv"
	"strings"

	"github.com/YuminosukeSato/scigbm/config"
	"github.com/YuminosukeSato/scigbm/metrics"
	"github.com/YuminosukeSato/scigbm/pkg/errors"
)

// Metadata is the per-row training data an objective reads. It is shared with
// the metrics package so one value can initialize both.
type Metadata = metrics.Metadata

// Objective is a training loss.
type Objective interface {
	// Init validates labels and precomputes per-dataset statistics.
	Init(meta Metadata) error
	// GetGradients fills grad and hess from score.
	GetGradients(score, grad, hess []float64)
	// BoostFromScore is the initial raw score of model slot class.
	BoostFromScore(class int) float64
	// ConvertOutput maps one row of raw scores into output space.
	ConvertOutput(raw, out []float64)
	// NumModelPerIteration is the number of trees per boosting round.
	NumModelPerIteration() int
	// String is the model file representation, e.g. "binary sigmoid:1".
	String() string
}

// OutputRenewer is implemented by objectives whose leaf values are replaced by
// a percentile of the residuals after each tree is grown.
type OutputRenewer interface {
	// RenewTreeOutput returns the new output of a leaf holding rows, given the
	// scores of model slot class before the tree is added.
	RenewTreeOutput(score []float64, rows []int) float64
}

// New creates the objective named by cfg.Objective. Gradients are computed on
// the worker pool of ctx; a nil ctx uses the default pool.
func New(ctx *config.Context, cfg *config.Config) (Objective, error) {
	workers := ctx.OrDefault().Workers()
	switch cfg.Objective {
	case "regression":
		return &regressionL2{pointwise: pointwise{workers: workers}}, nil
	case "regression_l1":
		return &regressionL1{pointwise: pointwise{workers: workers}}, nil
	case "huber":
		return &huber{pointwise: pointwise{workers: workers}, alpha: cfg.Alpha}, nil
	case "fair":
		return &fair{pointwise: pointwise{workers: workers}, c: cfg.FairC}, nil
	case "poisson":
		return &poisson{pointwise: pointwise{workers: workers}, maxDeltaStep: cfg.PoissonMaxDelta}, nil
	case "quantile":
		return &quantile{pointwise: pointwise{workers: workers}, alpha: cfg.Alpha}, nil
	case "binary":
		return newBinary(cfg.Sigmoid, cfg.IsUnbalance, cfg.ScalePosWeight, workers), nil
	case "multiclass":
		return &multiclassSoftmax{numClass: cfg.NumClass, workers: workers}, nil
	case "multiclassova":
		return newMulticlassOVA(cfg, workers), nil
	case "lambdarank":
		return newLambdarank(cfg, workers), nil
	}
	return nil, errors.NewConfigError("objective", "unknown objective", cfg.Objective)
}

// FromString rebuilds an objective from its model file representation. The
// result supports ConvertOutput, NumModelPerIteration and String only.
func FromString(s string) (Objective, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return nil, errors.NewEngineErrorf("objective.FromString", "malformed model", "empty objective")
	}
	cfg := config.Default()
	if err := cfg.Set("objective", fields[0]); err != nil {
		return nil, errors.NewEngineError("objective.FromString", "malformed model", err)
	}
	for _, kv := range fields[1:] {
		k, v, ok := strings.Cut(kv, ":")
		if !ok {
			return nil, errors.NewEngineErrorf("objective.FromString", "malformed model", "bad objective parameter %q", kv)
		}
		if err := cfg.Set(k, v); err != nil {
			return nil, errors.NewEngineError("objective.FromString", "malformed model", err)
		}
	}
	return New(nil, cfg)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func checkLabels(op string, meta Metadata, ok func(float64) bool, want string) error {
	if len(meta.Label) == 0 {
		return errors.NewEngineErrorf(op, "invalid label", "training data has no labels")
	}
	for i, l := range meta.Label {
		if !ok(l) {
			return errors.NewEngineErrorf(op, "invalid label", "label %g at row %d, %s", l, i, want)
		}
	}
	if meta.Weight != nil && len(meta.Weight) != len(meta.Label) {
		return errors.NewEngineErrorf(op, "invalid weight", "%d weights for %d rows", len(meta.Weight), len(meta.Label))
	}
	return nil
}
