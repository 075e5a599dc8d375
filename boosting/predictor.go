package boosting

import (
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/scigbm/config"
	"github.com/YuminosukeSato/scigbm/core/parallel"
	"github.com/YuminosukeSato/scigbm/dataset"
	"github.com/YuminosukeSato/scigbm/pkg/errors"
	"github.com/YuminosukeSato/scigbm/tree"
)

// PredictOption customizes prediction.
type PredictOption func(*predictOptions)

type predictOptions struct {
	rawScore        bool
	startIteration  int
	numIteration    int
	earlyStop       bool
	earlyStopFreq   int
	earlyStopMargin float64
}

// WithRawScore returns raw scores instead of converted outputs.
func WithRawScore() PredictOption {
	return func(o *predictOptions) { o.rawScore = true }
}

// WithStartIteration skips the first n rounds.
func WithStartIteration(n int) PredictOption {
	return func(o *predictOptions) { o.startIteration = n }
}

// WithNumIteration uses at most n rounds. By default the best iteration found
// by early stopping is used when there is one, otherwise every round.
func WithNumIteration(n int) PredictOption {
	return func(o *predictOptions) { o.numIteration = n }
}

// WithEarlyStopping stops accumulating trees for a row once its margin exceeds
// margin, checked every freq rounds.
func WithEarlyStopping(freq int, margin float64) PredictOption {
	return func(o *predictOptions) {
		o.earlyStop = true
		o.earlyStopFreq = freq
		o.earlyStopMargin = margin
	}
}

// WithPredictConfig applies the pred_early_stop parameters of cfg.
func WithPredictConfig(cfg *config.Config) PredictOption {
	return func(o *predictOptions) {
		if cfg.PredEarlyStop {
			WithEarlyStopping(cfg.PredEarlyStopFreq, cfg.PredEarlyStopMargin)(o)
		}
	}
}

// predictor scores raw rows with a fixed range of trees.
type predictor struct {
	trees     []*tree.Tree
	numModels int
	convert   func(raw, out []float64)
	margin    func(raw []float64) float64
	opts      predictOptions
}

func (b *Booster) newPredictor(opts []PredictOption) (*predictor, error) {
	const op = "Booster.Predict"
	o := predictOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.earlyStop {
		if o.earlyStopFreq < 1 {
			return nil, errors.NewConfigError("pred_early_stop_freq", "must be at least 1", o.earlyStopFreq)
		}
		if o.earlyStopMargin < 0 {
			return nil, errors.NewConfigError("pred_early_stop_margin", "must not be negative", o.earlyStopMargin)
		}
	}
	if o.startIteration < 0 {
		return nil, errors.NewPreconditionErrorf(op, "negative start iteration %d", o.startIteration)
	}
	first, last := b.treeRange(o.startIteration, o.numIteration)
	p := &predictor{
		trees:     b.trees[first:last],
		numModels: b.numTreePerIteration,
		margin:    marginFunc(b.obj.String(), b.numTreePerIteration),
		opts:      o,
	}
	if !o.rawScore {
		p.convert = b.obj.ConvertOutput
	}
	return p, nil
}

// marginFunc is the confidence measure used by prediction early stopping.
func marginFunc(objective string, numModels int) func(raw []float64) float64 {
	switch {
	case numModels > 1:
		return func(raw []float64) float64 {
			top1, top2 := math.Inf(-1), math.Inf(-1)
			for _, v := range raw {
				if v > top1 {
					top1, top2 = v, top1
				} else if v > top2 {
					top2 = v
				}
			}
			return top1 - top2
		}
	case strings.HasPrefix(objective, "binary"):
		return func(raw []float64) float64 { return 2 * math.Abs(raw[0]) }
	default:
		return func(raw []float64) float64 { return math.Abs(raw[0]) }
	}
}

// predictRaw accumulates the trees for one row into raw.
func (p *predictor) predictRaw(row, raw []float64) {
	for k := range raw {
		raw[k] = 0
	}
	k := p.numModels
	rounds := len(p.trees) / k
	for it := 0; it < rounds; it++ {
		for c := 0; c < k; c++ {
			raw[c] += p.trees[it*k+c].Predict(row)
		}
		if p.opts.earlyStop && (it+1)%p.opts.earlyStopFreq == 0 && p.margin(raw) > p.opts.earlyStopMargin {
			return
		}
	}
}

// predictSource scores every row of src. Rows are split across workers; each
// row is written by exactly one of them.
func (p *predictor) predictSource(src dataset.Source, numFeatures, workers int) *mat.Dense {
	rows, _ := src.Dims()
	if rows == 0 {
		return &mat.Dense{}
	}
	out := mat.NewDense(rows, p.numModels, nil)
	parallel.ParallelizeWithThreshold(workers, rows, 64, func(start, end int) {
		row := make([]float64, numFeatures)
		raw := make([]float64, p.numModels)
		for i := start; i < end; i++ {
			row = src.Row(i, row)
			p.predictRaw(row, raw)
			dst := out.RawRowView(i)
			if p.convert != nil {
				p.convert(raw, dst)
			} else {
				copy(dst, raw)
			}
		}
	})
	return out
}

// Predict scores the rows of X. The result has one column per model slot.
func (b *Booster) Predict(X mat.Matrix, opts ...PredictOption) (*mat.Dense, error) {
	_, cols := X.Dims()
	if cols != b.NumFeatures() {
		return nil, errors.NewDimensionError("Booster.Predict", b.NumFeatures(), cols, 1)
	}
	return b.predict(dataset.FromMatrix(X), opts)
}

// PredictRows scores dense rows.
func (b *Booster) PredictRows(rows [][]float64, opts ...PredictOption) (*mat.Dense, error) {
	src, err := dataset.FromRows(rows)
	if err != nil {
		return nil, err
	}
	if _, cols := src.Dims(); cols != b.NumFeatures() {
		return nil, errors.NewDimensionError("Booster.PredictRows", b.NumFeatures(), cols, 1)
	}
	return b.predict(src, opts)
}

// PredictFile scores the rows of a libsvm file. Rows may omit trailing
// features, which read as zero.
func (b *Booster) PredictFile(path string, opts ...PredictOption) (*mat.Dense, error) {
	svm, err := dataset.LoadLibSVM(path)
	if err != nil {
		return nil, err
	}
	return b.PredictCSR(svm.X, opts...)
}

// PredictCSR scores the rows of a sparse matrix.
func (b *Booster) PredictCSR(x *dataset.CSR, opts ...PredictOption) (*mat.Dense, error) {
	if x.NumCols > b.NumFeatures() {
		return nil, errors.NewDimensionError("Booster.PredictCSR", b.NumFeatures(), x.NumCols, 1)
	}
	return b.predict(x, opts)
}

func (b *Booster) predict(src dataset.Source, opts []PredictOption) (out *mat.Dense, err error) {
	defer errors.Recover(&err, "Booster.Predict")
	p, err := b.newPredictor(opts)
	if err != nil {
		return nil, err
	}
	return p.predictSource(src, b.NumFeatures(), b.ctx.Workers()), nil
}

// PredictClass returns the arg max class of each row of a multiclass
// prediction, or 1 for a single column above threshold.
func PredictClass(pred *mat.Dense, threshold float64) []int {
	if pred.IsEmpty() {
		return nil
	}
	rows, cols := pred.Dims()
	out := make([]int, rows)
	for i := range out {
		row := pred.RawRowView(i)
		if cols == 1 {
			if row[0] > threshold {
				out[i] = 1
			}
			continue
		}
		out[i] = floats.MaxIdx(row)
	}
	return out
}
