package lightgbm

import (
	"strings"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/YuminosukeSato/scigbm/config"
	"github.com/YuminosukeSato/scigbm/pkg/errors"
)

// LGBMRegressor implements a gradient boosted regressor with a scikit-learn
// style API.
type LGBMRegressor struct {
	estimator
}

// NewLGBMRegressor creates a regressor with the L2 objective and the engine's
// default parameters.
func NewLGBMRegressor() *LGBMRegressor {
	return &LGBMRegressor{estimator: newEstimator(map[string]any{"objective": "regression"})}
}

// WithContext sets the runtime context used for training and prediction.
func (r *LGBMRegressor) WithContext(ctx *config.Context) *LGBMRegressor {
	r.ctx = ctx
	return r
}

// WithNumLeaves sets the number of leaves
func (r *LGBMRegressor) WithNumLeaves(n int) *LGBMRegressor {
	r.set("num_leaves", n)
	return r
}

// WithMaxDepth sets the maximum depth
func (r *LGBMRegressor) WithMaxDepth(d int) *LGBMRegressor {
	r.set("max_depth", d)
	return r
}

// WithLearningRate sets the learning rate
func (r *LGBMRegressor) WithLearningRate(lr float64) *LGBMRegressor {
	r.set("learning_rate", lr)
	return r
}

// WithNumIterations sets the number of boosting rounds
func (r *LGBMRegressor) WithNumIterations(n int) *LGBMRegressor {
	r.set("n_estimators", n)
	return r
}

// WithMinChildSamples sets the minimum number of rows in a leaf
func (r *LGBMRegressor) WithMinChildSamples(n int) *LGBMRegressor {
	r.set("min_child_samples", n)
	return r
}

// WithObjective sets the objective; it must be a regression objective.
func (r *LGBMRegressor) WithObjective(obj string) *LGBMRegressor {
	r.set("objective", obj)
	return r
}

// WithEarlyStopping sets early stopping rounds
func (r *LGBMRegressor) WithEarlyStopping(rounds int) *LGBMRegressor {
	r.set("early_stopping_round", rounds)
	return r
}

// Fit trains the regressor on X and the single column y.
func (r *LGBMRegressor) Fit(X, y mat.Matrix) error {
	return r.FitWithEval(X, y)
}

// FitWithEval trains the regressor and evaluates every eval set after each
// round. With early stopping enabled the first eval set decides when to stop.
func (r *LGBMRegressor) FitWithEval(X, y mat.Matrix, evals ...EvalSet) (err error) {
	const op = "LGBMRegressor.Fit"
	defer errors.Recover(&err, op)
	rows, _ := X.Dims()
	label, err := column(op, y, rows)
	if err != nil {
		return err
	}
	cfg, err := r.config(nil)
	if err != nil {
		return err
	}
	if !isRegression(cfg.Objective) {
		return errors.NewConfigError("objective", "not a regression objective", cfg.Objective)
	}
	same := func(v []float64) ([]float64, error) { return v, nil }
	return r.train(op, cfg, X, label, evals, same)
}

// isRegression reports whether objective, possibly followed by its model text
// parameters, is a regression objective.
func isRegression(objective string) bool {
	objective, _, _ = strings.Cut(objective, " ")
	switch objective {
	case "binary", "lambdarank":
		return false
	}
	return !strings.HasPrefix(objective, "multiclass")
}

// Predict returns one prediction per row of X as a column vector.
func (r *LGBMRegressor) Predict(X mat.Matrix) (mat.Matrix, error) {
	if err := r.checkInput("LGBMRegressor.Predict", X); err != nil {
		return nil, err
	}
	pred, err := r.booster.Predict(X)
	if err != nil {
		return nil, err
	}
	return pred, nil
}

// Score returns the coefficient of determination R^2 of the prediction.
func (r *LGBMRegressor) Score(X, y mat.Matrix) (float64, error) {
	const op = "LGBMRegressor.Score"
	pred, err := r.Predict(X)
	if err != nil {
		return 0, err
	}
	rows, _ := X.Dims()
	label, err := column(op, y, rows)
	if err != nil {
		return 0, err
	}
	return stat.RSquaredFrom(mat.Col(nil, 0, pred), label, nil), nil
}

// LoadModelString restores a regressor from model text.
func (r *LGBMRegressor) LoadModelString(s string) error {
	if err := r.load(s); err != nil {
		return err
	}
	if obj := r.booster.Objective().String(); !isRegression(obj) {
		r.Reset()
		r.booster = nil
		return errors.NewPreconditionErrorf("LGBMRegressor.LoadModelString", "model objective %q is not a regression", obj)
	}
	return nil
}
