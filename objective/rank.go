package objective

import (
	"math"

	"github.com/YuminosukeSato/scigbm/config"
	"github.com/YuminosukeSato/scigbm/core/parallel"
	"github.com/YuminosukeSato/scigbm/metrics"
	"github.com/YuminosukeSato/scigbm/pkg/errors"
)

// lambdarank optimizes NDCG with pairwise lambdas inside each query.
type lambdarank struct {
	sigmoid    float64
	truncation int
	gain       []float64
	workers    int

	label      []float64
	weight     []float64
	boundaries []int
	invMaxDCG  []float64
}

func newLambdarank(cfg *config.Config, workers int) *lambdarank {
	return &lambdarank{
		sigmoid:    cfg.Sigmoid,
		truncation: cfg.MaxPosition,
		gain:       metrics.LabelGain(cfg),
		workers:    workers,
	}
}

func (o *lambdarank) Init(meta Metadata) error {
	if len(meta.Label) == 0 {
		return errors.NewEngineErrorf("lambdarank", "invalid label", "training data has no labels")
	}
	if len(meta.GroupBoundaries) < 2 {
		return errors.NewEngineErrorf("lambdarank", "missing query information", "ranking objectives need group data")
	}
	if err := metrics.CheckRankLabels("lambdarank", meta.Label, o.gain); err != nil {
		return err
	}
	o.label = meta.Label
	o.weight = meta.Weight
	o.boundaries = meta.GroupBoundaries

	numQuery := len(o.boundaries) - 1
	o.invMaxDCG = make([]float64, numQuery)
	for q := 0; q < numQuery; q++ {
		d := metrics.MaxDCGAtK(o.truncation, o.label[o.boundaries[q]:o.boundaries[q+1]], o.gain)
		if d > 0 {
			o.invMaxDCG[q] = 1 / d
		}
	}
	return nil
}

func (o *lambdarank) GetGradients(score, grad, hess []float64) {
	numQuery := len(o.boundaries) - 1
	parallel.Parallelize(o.workers, numQuery, func(start, end int) {
		for q := start; q < end; q++ {
			s, e := o.boundaries[q], o.boundaries[q+1]
			o.queryGradients(q, o.label[s:e], score[s:e], grad[s:e], hess[s:e])
			if o.weight != nil {
				for i := s; i < e; i++ {
					grad[i] *= o.weight[i]
					hess[i] *= o.weight[i]
				}
			}
		}
	})
}

func (o *lambdarank) queryGradients(q int, label, score, lambdas, hessians []float64) {
	cnt := len(label)
	for i := 0; i < cnt; i++ {
		lambdas[i], hessians[i] = 0, 0
	}
	invMax := o.invMaxDCG[q]
	if cnt <= 1 || invMax == 0 {
		return
	}
	sorted := metrics.SortByScore(score)
	best := score[sorted[0]]
	worst := score[sorted[cnt-1]]

	sumLambdas := 0.0
	for i := 0; i < cnt && i < o.truncation; i++ {
		for j := i + 1; j < cnt; j++ {
			if label[sorted[i]] == label[sorted[j]] {
				continue
			}
			highRank, lowRank := i, j
			if label[sorted[i]] < label[sorted[j]] {
				highRank, lowRank = j, i
			}
			high, low := sorted[highRank], sorted[lowRank]

			deltaScore := score[high] - score[low]
			dcgGap := o.gain[int(label[high])] - o.gain[int(label[low])]
			pairedDiscount := math.Abs(metrics.Discount(highRank) - metrics.Discount(lowRank))
			deltaNDCG := dcgGap * pairedDiscount * invMax
			if best != worst {
				deltaNDCG /= 0.01 + math.Abs(deltaScore)
			}

			pLambda := 1 / (1 + math.Exp(o.sigmoid*deltaScore))
			pHessian := pLambda * (1 - pLambda)
			pLambda *= -o.sigmoid * deltaNDCG
			pHessian *= o.sigmoid * o.sigmoid * deltaNDCG

			lambdas[low] -= pLambda
			hessians[low] += pHessian
			lambdas[high] += pLambda
			hessians[high] += pHessian
			sumLambdas -= 2 * pLambda
		}
	}
	if sumLambdas > 0 {
		norm := math.Log2(1+sumLambdas) / sumLambdas
		for i := 0; i < cnt; i++ {
			lambdas[i] *= norm
			hessians[i] *= norm
		}
	}
}

func (o *lambdarank) BoostFromScore(int) float64 { return 0 }

func (o *lambdarank) ConvertOutput(raw, out []float64) { copy(out, raw) }

func (o *lambdarank) NumModelPerIteration() int { return 1 }

func (o *lambdarank) String() string { return "lambdarank" }
