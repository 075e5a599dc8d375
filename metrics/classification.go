package metrics

import (
	"math"
	"sort"
	"strconv"

	"github.com/YuminosukeSato/scigbm/pkg/errors"
)

const probEpsilon = 1e-15

func binaryLabel(l float64) bool { return l == 0 || l == 1 }

// binaryLoglossLoss はscoreが正例の確率であることを前提とする。
func binaryLoglossLoss(label, prob float64) float64 {
	if label > 0 {
		return -math.Log(math.Max(prob, probEpsilon))
	}
	return -math.Log(math.Max(1-prob, probEpsilon))
}

func binaryErrorLoss(label, prob float64) float64 {
	if (prob > 0.5) == (label > 0) {
		return 0
	}
	return 1
}

// auc はROC曲線下面積。同点のスコアは台形として数える。
type auc struct {
	label  []float64
	weight []float64
}

func (m *auc) Init(meta Metadata) error {
	if len(meta.Label) == 0 {
		return errors.NewEngineErrorf("auc", "invalid label", "evaluation data has no labels")
	}
	for i, l := range meta.Label {
		if !binaryLabel(l) {
			return errors.NewEngineErrorf("auc", "invalid label", "label %g at row %d", l, i)
		}
	}
	m.label = meta.Label
	m.weight = meta.Weight
	return nil
}

func (m *auc) Names() []string { return []string{"auc"} }

func (m *auc) HigherBetter() bool { return true }

func (m *auc) Eval(score []float64, _ Converter) []float64 {
	return []float64{areaUnderCurve(m.label, score[:len(m.label)], m.weight)}
}

// areaUnderCurve は重み付きAUCを計算する。片方のクラスしか存在しない場合は
// 未定義のため警告を出して0.5を返す。
func areaUnderCurve(label, score, weight []float64) float64 {
	n := len(label)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return score[idx[a]] > score[idx[b]] })

	var accum, sumPos, sumW, curPos, curNeg float64
	threshold := score[idx[0]]
	for _, i := range idx {
		w := 1.0
		if weight != nil {
			w = weight[i]
		}
		if score[i] != threshold {
			threshold = score[i]
			accum += curNeg * (curPos*0.5 + sumPos)
			sumPos += curPos
			curNeg, curPos = 0, 0
		}
		if label[i] > 0 {
			curPos += w
		} else {
			curNeg += w
		}
		sumW += w
	}
	accum += curNeg * (curPos*0.5 + sumPos)
	sumPos += curPos

	if sumPos <= 0 || sumPos >= sumW {
		errors.Warn(errors.NewUndefinedMetricWarning("auc", "only one class present in labels", 0.5))
		return 0.5
	}
	return accum / (sumPos * (sumW - sumPos))
}

// multiclassMetric はmulti_loglossとmulti_errorを計算する。
type multiclassMetric struct {
	name     string
	numClass int
	label    []float64
	weight   []float64
}

func (m *multiclassMetric) Init(meta Metadata) error {
	if len(meta.Label) == 0 {
		return errors.NewEngineErrorf(m.name, "invalid label", "evaluation data has no labels")
	}
	for i, l := range meta.Label {
		if l < 0 || l >= float64(m.numClass) || l != math.Trunc(l) {
			return errors.NewEngineErrorf(m.name, "invalid label",
				"label %g at row %d, want an integer in [0, %s)", l, i, strconv.Itoa(m.numClass))
		}
	}
	m.label = meta.Label
	m.weight = meta.Weight
	return nil
}

func (m *multiclassMetric) Names() []string { return []string{m.name} }

func (m *multiclassMetric) HigherBetter() bool { return false }

func (m *multiclassMetric) Eval(score []float64, convert Converter) []float64 {
	n := len(m.label)
	k := m.numClass
	losses := make([]float64, n)
	raw := make([]float64, k)
	prob := make([]float64, k)
	for i := 0; i < n; i++ {
		for c := 0; c < k; c++ {
			raw[c] = score[c*n+i]
		}
		if convert != nil {
			convert(raw, prob)
		} else {
			copy(prob, raw)
		}
		y := int(m.label[i])
		if m.name == "multi_logloss" {
			losses[i] = -math.Log(math.Max(prob[y], probEpsilon))
			continue
		}
		larger := 0
		for _, p := range prob {
			if p >= prob[y] {
				larger++
			}
		}
		if larger > 1 {
			losses[i] = 1
		}
	}
	return []float64{weightedMean(losses, m.weight)}
}
