package metrics

import (
	"math"

	"github.com/YuminosukeSato/scigbm/core/parallel"
	"github.com/YuminosukeSato/scigbm/pkg/errors"
)

// lossFunc は1行分の損失を返す。scoreは変換後の値。
type lossFunc func(label, score float64) float64

// pointwiseMetric は行ごとの損失の重み付き平均を計算する指標。
type pointwiseMetric struct {
	name       string
	loss       lossFunc
	checkLabel func(float64) bool
	label      []float64
	weight     []float64
}

func newPointwise(name string, loss lossFunc, check func(float64) bool) *pointwiseMetric {
	return &pointwiseMetric{name: name, loss: loss, checkLabel: check}
}

func (m *pointwiseMetric) Init(meta Metadata) error {
	if len(meta.Label) == 0 {
		return errors.NewEngineErrorf(m.name, "invalid label", "evaluation data has no labels")
	}
	if m.checkLabel != nil {
		for i, l := range meta.Label {
			if !m.checkLabel(l) {
				return errors.NewEngineErrorf(m.name, "invalid label", "label %g at row %d", l, i)
			}
		}
	}
	m.label = meta.Label
	m.weight = meta.Weight
	return nil
}

func (m *pointwiseMetric) Names() []string { return []string{m.name} }

func (m *pointwiseMetric) HigherBetter() bool { return false }

func (m *pointwiseMetric) Eval(score []float64, convert Converter) []float64 {
	return []float64{m.mean(score, convert)}
}

func (m *pointwiseMetric) mean(score []float64, convert Converter) float64 {
	losses := make([]float64, len(m.label))
	parallel.ParallelizeWithThreshold(0, len(m.label), 4096, func(start, end int) {
		var in, out [1]float64
		for i := start; i < end; i++ {
			s := score[i]
			if convert != nil {
				in[0] = s
				convert(in[:], out[:])
				s = out[0]
			}
			losses[i] = m.loss(m.label[i], s)
		}
	})
	return weightedMean(losses, m.weight)
}

// rmse はl2の平方根。
type rmse struct {
	pointwiseMetric
}

func (m *rmse) Eval(score []float64, convert Converter) []float64 {
	return []float64{math.Sqrt(m.mean(score, convert))}
}

func l2Loss(label, score float64) float64 {
	d := score - label
	return d * d
}

func l1Loss(label, score float64) float64 {
	return math.Abs(score - label)
}

func quantileLoss(alpha float64) lossFunc {
	return func(label, score float64) float64 {
		d := label - score
		if d >= 0 {
			return alpha * d
		}
		return (alpha - 1) * d
	}
}

func huberLoss(alpha float64) lossFunc {
	return func(label, score float64) float64 {
		d := math.Abs(score - label)
		if d <= alpha {
			return 0.5 * d * d
		}
		return alpha * (d - 0.5*alpha)
	}
}

func fairLoss(c float64) lossFunc {
	return func(label, score float64) float64 {
		x := math.Abs(score - label)
		return c*x - c*c*math.Log1p(x/c)
	}
}

// poissonLoss はスコアが出力空間（exp変換後）の値であることを前提とする。
func poissonLoss(label, score float64) float64 {
	const eps = 1e-10
	if score < eps {
		score = eps
	}
	return score - label*math.Log(score)
}
