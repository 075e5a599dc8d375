package lightgbm

import (
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/scigbm/config"
	"github.com/YuminosukeSato/scigbm/pkg/errors"
)

// LGBMClassifier implements a gradient boosted classifier with a
// scikit-learn style API. Two classes train a binary logistic model, more
// train a softmax (or one-vs-all with objective=multiclassova) model.
type LGBMClassifier struct {
	estimator

	classes []float64
}

// NewLGBMClassifier creates a classifier with the engine's default parameters.
func NewLGBMClassifier() *LGBMClassifier {
	return &LGBMClassifier{estimator: newEstimator(map[string]any{})}
}

// WithContext sets the runtime context used for training and prediction.
func (c *LGBMClassifier) WithContext(ctx *config.Context) *LGBMClassifier {
	c.ctx = ctx
	return c
}

// WithNumLeaves sets the number of leaves
func (c *LGBMClassifier) WithNumLeaves(n int) *LGBMClassifier {
	c.set("num_leaves", n)
	return c
}

// WithLearningRate sets the learning rate
func (c *LGBMClassifier) WithLearningRate(lr float64) *LGBMClassifier {
	c.set("learning_rate", lr)
	return c
}

// WithNumIterations sets the number of boosting rounds
func (c *LGBMClassifier) WithNumIterations(n int) *LGBMClassifier {
	c.set("n_estimators", n)
	return c
}

// WithMinChildSamples sets the minimum number of rows in a leaf
func (c *LGBMClassifier) WithMinChildSamples(n int) *LGBMClassifier {
	c.set("min_child_samples", n)
	return c
}

// WithEarlyStopping sets early stopping rounds
func (c *LGBMClassifier) WithEarlyStopping(rounds int) *LGBMClassifier {
	c.set("early_stopping_round", rounds)
	return c
}

// WithClassWeightBalanced reweights the classes of a binary problem by their
// frequencies.
func (c *LGBMClassifier) WithClassWeightBalanced() *LGBMClassifier {
	c.set("is_unbalance", true)
	return c
}

// Classes returns the class labels seen by Fit in ascending order. A
// classifier restored from model text reports 0..K-1.
func (c *LGBMClassifier) Classes() []float64 { return slices.Clone(c.classes) }

// encode maps labels to class indices.
func (c *LGBMClassifier) encode(y []float64) ([]float64, error) {
	out := make([]float64, len(y))
	for i, v := range y {
		k, ok := slices.BinarySearch(c.classes, v)
		if !ok {
			return nil, errors.NewPreconditionErrorf("LGBMClassifier.Fit", "label %g at row %d was not seen in training", v, i)
		}
		out[i] = float64(k)
	}
	return out, nil
}

// Fit trains the classifier on X and the single column of labels y.
func (c *LGBMClassifier) Fit(X, y mat.Matrix) error {
	return c.FitWithEval(X, y)
}

// FitWithEval trains the classifier and evaluates every eval set after each
// round. Eval labels must be among the training classes.
func (c *LGBMClassifier) FitWithEval(X, y mat.Matrix, evals ...EvalSet) (err error) {
	const op = "LGBMClassifier.Fit"
	defer errors.Recover(&err, op)
	rows, _ := X.Dims()
	label, err := column(op, y, rows)
	if err != nil {
		return err
	}
	classes := slices.Clone(label)
	slices.Sort(classes)
	classes = slices.Compact(classes)
	if len(classes) < 2 {
		return errors.NewPreconditionErrorf(op, "need at least two classes, got %d", len(classes))
	}
	c.classes = classes

	overrides := map[string]any{"objective": "binary", "num_class": 1}
	if len(classes) > 2 {
		obj := "multiclass"
		probe := config.Default()
		if v, ok := c.params["objective"]; ok && probe.Set("objective", v) == nil && probe.Objective == "multiclassova" {
			obj = "multiclassova"
		}
		overrides = map[string]any{"objective": obj, "num_class": len(classes)}
	}
	cfg, err := c.config(overrides)
	if err != nil {
		return err
	}
	encoded, err := c.encode(label)
	if err != nil {
		return err
	}
	return c.train(op, cfg, X, encoded, evals, c.encode)
}

// PredictProba returns one column of class probabilities per class.
func (c *LGBMClassifier) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	if err := c.checkInput("LGBMClassifier.PredictProba", X); err != nil {
		return nil, err
	}
	pred, err := c.booster.Predict(X)
	if err != nil {
		return nil, err
	}
	rows, cols := pred.Dims()
	if cols > 1 || rows == 0 {
		return pred, nil
	}
	proba := mat.NewDense(rows, 2, nil)
	for i := 0; i < rows; i++ {
		p := pred.At(i, 0)
		proba.Set(i, 0, 1-p)
		proba.Set(i, 1, p)
	}
	return proba, nil
}

// Predict returns the most probable class label of each row as a column
// vector.
func (c *LGBMClassifier) Predict(X mat.Matrix) (mat.Matrix, error) {
	proba, err := c.PredictProba(X)
	if err != nil {
		return nil, err
	}
	rows, _ := proba.Dims()
	if rows == 0 {
		return &mat.Dense{}, nil
	}
	dense := proba.(*mat.Dense)
	out := mat.NewDense(rows, 1, nil)
	for i := 0; i < rows; i++ {
		out.Set(i, 0, c.classes[floats.MaxIdx(dense.RawRowView(i))])
	}
	return out, nil
}

// Score returns the mean accuracy on X and y.
func (c *LGBMClassifier) Score(X, y mat.Matrix) (float64, error) {
	pred, err := c.Predict(X)
	if err != nil {
		return 0, err
	}
	rows, _ := X.Dims()
	label, err := column("LGBMClassifier.Score", y, rows)
	if err != nil {
		return 0, err
	}
	if rows == 0 {
		return 0, errors.NewPreconditionError("LGBMClassifier.Score", "no rows")
	}
	correct := 0
	for i, v := range label {
		if pred.At(i, 0) == v {
			correct++
		}
	}
	return float64(correct) / float64(rows), nil
}

// LoadModelString restores a classifier from model text.
func (c *LGBMClassifier) LoadModelString(s string) error {
	if err := c.load(s); err != nil {
		return err
	}
	if obj := c.booster.Objective().String(); isRegression(obj) || obj == "lambdarank" {
		c.Reset()
		c.booster = nil
		return errors.NewPreconditionErrorf("LGBMClassifier.LoadModelString", "model objective %q is not a classification", obj)
	}
	k := max(c.booster.NumModelPerIteration(), 2)
	c.classes = make([]float64, k)
	for i := range c.classes {
		c.classes[i] = float64(i)
	}
	return nil
}
