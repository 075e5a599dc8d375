package learner

import (
	"gonum.org/v1/gonum/floats"

	"github.com/YuminosukeSato/scigbm/core/parallel"
	"github.com/YuminosukeSato/scigbm/dataset"
)

// HistogramBin accumulates the gradient statistics of the rows in one bin.
type HistogramBin struct {
	SumGrad float64
	SumHess float64
	Count   int
}

// FeatureHistogram holds one bin entry per bin of a feature. A nil histogram
// marks a feature that is not used by the current tree.
type FeatureHistogram []HistogramBin

// leafHistograms is the histogram of every feature for one leaf.
type leafHistograms []FeatureHistogram

// HistogramBuilder builds per-feature histograms over the rows of a leaf.
type HistogramBuilder struct {
	data       *dataset.Dataset
	numBins    []int
	numWorkers int
}

// NewHistogramBuilder creates a builder over the binned columns of data.
func NewHistogramBuilder(data *dataset.Dataset, numWorkers int) *HistogramBuilder {
	mappers := data.BinMappers()
	numBins := make([]int, len(mappers))
	for f, m := range mappers {
		numBins[f] = m.NumBin()
	}
	return &HistogramBuilder{data: data, numBins: numBins, numWorkers: numWorkers}
}

// Build returns the histograms of the features with used[f] set, over rows.
// Features are processed concurrently; each feature's bins are filled in row
// order, so the sums do not depend on the worker count.
func (hb *HistogramBuilder) Build(rows []int, grad, hess []float64, used []bool) leafHistograms {
	hists := make(leafHistograms, len(hb.numBins))
	parallel.Parallelize(hb.numWorkers, len(hb.numBins), func(start, end int) {
		for f := start; f < end; f++ {
			if !used[f] {
				continue
			}
			h := make(FeatureHistogram, hb.numBins[f])
			col := hb.data.Bins(f)
			for _, r := range rows {
				b := &h[col[r]]
				b.SumGrad += grad[r]
				b.SumHess += hess[r]
				b.Count++
			}
			hists[f] = h
		}
	})
	return hists
}

// Subtract derives a sibling histogram as parent minus child.
func (hb *HistogramBuilder) Subtract(parent, child leafHistograms) leafHistograms {
	out := make(leafHistograms, len(parent))
	parallel.Parallelize(hb.numWorkers, len(parent), func(start, end int) {
		for f := start; f < end; f++ {
			if parent[f] == nil || child[f] == nil {
				continue
			}
			h := make(FeatureHistogram, len(parent[f]))
			for b := range h {
				h[b] = HistogramBin{
					SumGrad: parent[f][b].SumGrad - child[f][b].SumGrad,
					SumHess: parent[f][b].SumHess - child[f][b].SumHess,
					Count:   parent[f][b].Count - child[f][b].Count,
				}
			}
			out[f] = h
		}
	})
	return out
}

// rootStats sums the gradients and hessians of rows.
func rootStats(rows []int, grad, hess []float64) leafStats {
	g := make([]float64, len(rows))
	h := make([]float64, len(rows))
	for i, r := range rows {
		g[i], h[i] = grad[r], hess[r]
	}
	return leafStats{sumGrad: floats.Sum(g), sumHess: floats.Sum(h), count: len(rows)}
}
