package metrics

import (
	"math"
	"sort"
	"strconv"

	"github.com/YuminosukeSato/scigbm/config"
	"github.com/YuminosukeSato/scigbm/core/parallel"
	"github.com/YuminosukeSato/scigbm/pkg/errors"
)

// DefaultLabelGain は関連度ラベルiの利得 2^i-1 を返す。
func DefaultLabelGain() []float64 {
	gain := make([]float64, 31)
	for i := range gain {
		gain[i] = math.Exp2(float64(i)) - 1
	}
	return gain
}

// LabelGain はcfgのlabel_gain、未指定なら既定値を返す。
func LabelGain(cfg *config.Config) []float64 {
	if len(cfg.LabelGain) > 0 {
		return cfg.LabelGain
	}
	return DefaultLabelGain()
}

// Discount は順位rank（0始まり）の割引 1/log2(2+rank)。
func Discount(rank int) float64 {
	return 1 / math.Log2(2+float64(rank))
}

// MaxDCGAtK は理想的な並びでの上位k件のDCG。
func MaxDCGAtK(k int, labels, gain []float64) float64 {
	sorted := append([]float64(nil), labels...)
	sort.Sort(sort.Reverse(sort.Float64Slice(sorted)))
	if k > len(sorted) {
		k = len(sorted)
	}
	dcg := 0.0
	for i := 0; i < k; i++ {
		dcg += gain[int(sorted[i])] * Discount(i)
	}
	return dcg
}

// SortByScore はscoreの降順に並べた添字を返す。同点は元の順序を保つ。
func SortByScore(score []float64) []int {
	idx := make([]int, len(score))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return score[idx[a]] > score[idx[b]] })
	return idx
}

// DCGAtK はscoreで並べたときの上位k件のDCG。
func DCGAtK(k int, labels, score, gain []float64) float64 {
	idx := SortByScore(score)
	if k > len(idx) {
		k = len(idx)
	}
	dcg := 0.0
	for i := 0; i < k; i++ {
		dcg += gain[int(labels[idx[i]])] * Discount(i)
	}
	return dcg
}

// CheckRankLabels は関連度ラベルが利得表の範囲内の整数であることを確認する。
func CheckRankLabels(op string, labels, gain []float64) error {
	for i, l := range labels {
		if l < 0 || l != math.Trunc(l) || int(l) >= len(gain) {
			return errors.NewEngineErrorf(op, "invalid label",
				"label %g at row %d, want an integer in [0, %d)", l, i, len(gain))
		}
	}
	return nil
}

func evalAtNames(prefix string, at []int) []string {
	names := make([]string, len(at))
	for i, k := range at {
		names[i] = prefix + "@" + strconv.Itoa(k)
	}
	return names
}

func initQueries(op string, meta Metadata) error {
	if len(meta.Label) == 0 {
		return errors.NewEngineErrorf(op, "invalid label", "evaluation data has no labels")
	}
	if len(meta.GroupBoundaries) < 2 {
		return errors.NewEngineErrorf(op, "missing query information", "ranking metrics need group data")
	}
	return nil
}

// perQuery はクエリごとにfnを実行し、位置ごとの平均を返す。
func perQuery(boundaries []int, numAt int, fn func(q, start, end int, out []float64)) []float64 {
	numQuery := len(boundaries) - 1
	results := make([][]float64, numQuery)
	parallel.ParallelizeWithThreshold(0, numQuery, 64, func(s, e int) {
		for q := s; q < e; q++ {
			results[q] = make([]float64, numAt)
			fn(q, boundaries[q], boundaries[q+1], results[q])
		}
	})
	out := make([]float64, numAt)
	for _, r := range results {
		for j, v := range r {
			out[j] += v
		}
	}
	for j := range out {
		out[j] /= float64(numQuery)
	}
	return out
}

// ndcg はクエリごとのNDCG@kの平均。
type ndcg struct {
	evalAt     []int
	gain       []float64
	label      []float64
	boundaries []int
	// invMaxDCG[q][j] は 1/MaxDCG@evalAt[j]、理想DCGが0なら0
	invMaxDCG [][]float64
}

func newNDCG(evalAt []int, cfg *config.Config) *ndcg {
	if len(evalAt) == 0 {
		evalAt = DefaultEvalAt
	}
	return &ndcg{evalAt: evalAt, gain: LabelGain(cfg)}
}

func (m *ndcg) Init(meta Metadata) error {
	if err := initQueries("ndcg", meta); err != nil {
		return err
	}
	if err := CheckRankLabels("ndcg", meta.Label, m.gain); err != nil {
		return err
	}
	m.label = meta.Label
	m.boundaries = meta.GroupBoundaries
	numQuery := len(m.boundaries) - 1
	m.invMaxDCG = make([][]float64, numQuery)
	for q := 0; q < numQuery; q++ {
		labels := m.label[m.boundaries[q]:m.boundaries[q+1]]
		m.invMaxDCG[q] = make([]float64, len(m.evalAt))
		for j, k := range m.evalAt {
			if d := MaxDCGAtK(k, labels, m.gain); d > 0 {
				m.invMaxDCG[q][j] = 1 / d
			}
		}
	}
	return nil
}

func (m *ndcg) Names() []string { return evalAtNames("ndcg", m.evalAt) }

func (m *ndcg) HigherBetter() bool { return true }

func (m *ndcg) Eval(score []float64, _ Converter) []float64 {
	return perQuery(m.boundaries, len(m.evalAt), func(q, start, end int, out []float64) {
		labels := m.label[start:end]
		for j, k := range m.evalAt {
			if m.invMaxDCG[q][j] == 0 {
				out[j] = 1
				continue
			}
			out[j] = DCGAtK(k, labels, score[start:end], m.gain) * m.invMaxDCG[q][j]
		}
	})
}

// meanAveragePrecision はクエリごとのAP@kの平均。ラベルが正なら関連ありとみなす。
type meanAveragePrecision struct {
	evalAt     []int
	label      []float64
	boundaries []int
}

func newMAP(evalAt []int) *meanAveragePrecision {
	if len(evalAt) == 0 {
		evalAt = DefaultEvalAt
	}
	return &meanAveragePrecision{evalAt: evalAt}
}

func (m *meanAveragePrecision) Init(meta Metadata) error {
	if err := initQueries("map", meta); err != nil {
		return err
	}
	m.label = meta.Label
	m.boundaries = meta.GroupBoundaries
	return nil
}

func (m *meanAveragePrecision) Names() []string { return evalAtNames("map", m.evalAt) }

func (m *meanAveragePrecision) HigherBetter() bool { return true }

func (m *meanAveragePrecision) Eval(score []float64, _ Converter) []float64 {
	return perQuery(m.boundaries, len(m.evalAt), func(_, start, end int, out []float64) {
		labels := m.label[start:end]
		npos := 0
		for _, l := range labels {
			if l > 0.5 {
				npos++
			}
		}
		idx := SortByScore(score[start:end])
		for j, k := range m.evalAt {
			if npos == 0 {
				out[j] = 1
				continue
			}
			hits, sumAP := 0, 0.0
			for r := 0; r < k && r < len(idx); r++ {
				if labels[idx[r]] > 0.5 {
					hits++
					sumAP += float64(hits) / float64(r+1)
				}
			}
			out[j] = sumAP / float64(min(k, npos))
		}
	})
}
