package lightgbm

import (
	"maps"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/scigbm/boosting"
	"github.com/YuminosukeSato/scigbm/config"
	"github.com/YuminosukeSato/scigbm/core/model"
	"github.com/YuminosukeSato/scigbm/dataset"
	"github.com/YuminosukeSato/scigbm/pkg/errors"
	"github.com/YuminosukeSato/scigbm/pkg/log"
)

// EvalSet is a validation set passed to FitWithEval. An empty Name becomes
// "valid_<i>".
type EvalSet struct {
	Name string
	X    mat.Matrix
	Y    mat.Matrix
}

// estimator holds the state shared by the regressor and the classifier. A nil
// ctx means one derived from num_threads and verbose.
type estimator struct {
	model.BaseEstimator

	params    map[string]any
	ctx       *config.Context
	booster   *boosting.Booster
	nFeatures int
}

func newEstimator(defaults map[string]any) estimator {
	return estimator{params: defaults}
}

// GetParams returns the parameters set on the estimator, keyed by their
// canonical names.
func (e *estimator) GetParams() map[string]any {
	return maps.Clone(e.params)
}

// SetParams merges params into the estimator's parameters. Unknown names and
// values of the wrong type are rejected with a ConfigError and leave the
// estimator unchanged.
func (e *estimator) SetParams(params map[string]any) error {
	scratch := config.Default()
	next := maps.Clone(e.params)
	for name, v := range params {
		if err := scratch.Set(name, v); err != nil {
			return err
		}
		next[config.CanonicalName(name)] = v
	}
	e.params = next
	return nil
}

func (e *estimator) set(name string, v any) {
	e.params[config.CanonicalName(name)] = v
}

// config builds a validated Config from the parameters and the overrides the
// estimator forces.
func (e *estimator) config(overrides map[string]any) (*config.Config, error) {
	cfg := config.Default()
	cfg.Verbose = -1
	if err := cfg.Apply(e.params); err != nil {
		return nil, err
	}
	if err := cfg.Apply(overrides); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// column extracts a single column target.
func column(op string, y mat.Matrix, rows int) ([]float64, error) {
	yRows, yCols := y.Dims()
	if yRows != rows {
		return nil, errors.NewDimensionError(op, rows, yRows, 0)
	}
	if yCols != 1 {
		return nil, errors.NewDimensionError(op, 1, yCols, 1)
	}
	out := make([]float64, rows)
	for i := range out {
		out[i] = y.At(i, 0)
	}
	return out, nil
}

// train fits a Booster on X and label. encode maps every eval target to the
// label space the objective expects.
func (e *estimator) train(op string, cfg *config.Config, X mat.Matrix, label []float64,
	evals []EvalSet, encode func([]float64) ([]float64, error),
) error {
	e.Reset()
	e.booster = nil
	ctx := e.ctx
	if ctx == nil {
		ctx = config.ContextFor(cfg)
	}
	logger := ctx.Logger("sklearn")
	rows, cols := X.Dims()

	train := dataset.New(ctx, dataset.FromMatrix(X), dataset.WithParams(cfg), dataset.WithLabel(label))
	valids := make([]boosting.ValidData, len(evals))
	for i, ev := range evals {
		if _, c := ev.X.Dims(); c != cols {
			return errors.NewDimensionError(op, cols, c, 1)
		}
		evRows, _ := ev.X.Dims()
		y, err := column(op, ev.Y, evRows)
		if err != nil {
			return err
		}
		if y, err = encode(y); err != nil {
			return err
		}
		valids[i] = boosting.ValidData{
			Name: ev.Name,
			Data: train.CreateValid(dataset.FromMatrix(ev.X), dataset.WithLabel(y)),
		}
	}

	logger.Info("Fitting estimator",
		"samples", rows,
		"features", cols,
		"objective", cfg.Objective,
	)
	b, err := boosting.Train(ctx, cfg, train, valids)
	if err != nil {
		return errors.Wrap(err, op)
	}
	e.booster = b
	e.nFeatures = cols
	e.SetFitted()
	logger.Debug("Estimator fitted", log.IterationKey, b.CurrentIteration(), "best_iteration", b.BestIteration())
	return nil
}

func (e *estimator) checkInput(op string, X mat.Matrix) error {
	if err := e.CheckFitted(op); err != nil {
		return err
	}
	if _, cols := X.Dims(); cols != e.nFeatures {
		return errors.NewDimensionError(op, e.nFeatures, cols, 1)
	}
	return nil
}

// Booster returns the fitted Booster, or nil before Fit.
func (e *estimator) Booster() *boosting.Booster { return e.booster }

// FeatureImportance returns split counts or total gains per feature, using the
// best iteration when early stopping found one.
func (e *estimator) FeatureImportance(kind boosting.ImportanceType) ([]float64, error) {
	if err := e.CheckFitted("FeatureImportance"); err != nil {
		return nil, err
	}
	return e.booster.FeatureImportance(kind, e.booster.BestIteration()), nil
}

// PredictContrib returns per-feature SHAP contributions to the raw score,
// see boosting.Booster.PredictContrib.
func (e *estimator) PredictContrib(X mat.Matrix) (*mat.Dense, error) {
	if err := e.checkInput("PredictContrib", X); err != nil {
		return nil, err
	}
	return e.booster.PredictContrib(X)
}

// ModelString renders the fitted model as LightGBM model text.
func (e *estimator) ModelString() (string, error) {
	if err := e.CheckFitted("ModelString"); err != nil {
		return "", err
	}
	return e.booster.ModelToString(0, 0), nil
}

func (e *estimator) load(s string) error {
	ctx := e.ctx
	if ctx == nil {
		ctx = config.NewContext(config.WithVerbosity(-1))
	}
	b, err := boosting.LoadModelFromString(ctx, s)
	if err != nil {
		return err
	}
	e.booster = b
	e.nFeatures = b.NumFeatures()
	e.SetFitted()
	return nil
}
