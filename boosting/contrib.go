package boosting

import (
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/scigbm/core/parallel"
	"github.com/YuminosukeSato/scigbm/dataset"
	"github.com/YuminosukeSato/scigbm/pkg/errors"
)

// PredictContrib returns the SHAP contribution of every feature to the raw
// score of each row of X. For each model slot there are NumFeatures()+1
// columns, the last holding the expected value, and each block sums to the
// raw score of that slot. Early stopping and raw score options are ignored.
func (b *Booster) PredictContrib(X mat.Matrix, opts ...PredictOption) (out *mat.Dense, err error) {
	const op = "Booster.PredictContrib"
	defer errors.Recover(&err, op)
	rows, cols := X.Dims()
	if cols != b.NumFeatures() {
		return nil, errors.NewDimensionError(op, b.NumFeatures(), cols, 1)
	}
	p, err := b.newPredictor(append(opts[:len(opts):len(opts)], WithRawScore()))
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return &mat.Dense{}, nil
	}
	src := dataset.FromMatrix(X)
	width := b.NumFeatures() + 1
	out = mat.NewDense(rows, width*p.numModels, nil)
	parallel.ParallelizeWithThreshold(b.ctx.Workers(), rows, 16, func(start, end int) {
		row := make([]float64, cols)
		for i := start; i < end; i++ {
			row = src.Row(i, row)
			dst := out.RawRowView(i)
			for j, t := range p.trees {
				c := j % p.numModels
				t.PredictContrib(row, dst[c*width:(c+1)*width])
			}
		}
	})
	return out, nil
}
