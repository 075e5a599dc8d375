// Package learner grows one regression tree per call from gradient statistics,
// leaf by leaf, over the binned columns of a Dataset.
//
// Each round picks the leaf with the largest split gain. Histograms are built
// for the smaller child and derived for the larger one by subtracting from the
// parent. Histogram building and the per-feature split search run on the
// worker pool; partitioning the rows of the split leaf happens between rounds.
package learner

import (
	"time"

	"github.com/YuminosukeSato/scigbm/config"
	"github.com/YuminosukeSato/scigbm/core/parallel"
	"github.com/YuminosukeSato/scigbm/dataset"
	"github.com/YuminosukeSato/scigbm/pkg/errors"
	"github.com/YuminosukeSato/scigbm/pkg/log"
	"github.com/YuminosukeSato/scigbm/tree"
)

// TreeLearner grows trees on one training Dataset. It is not safe for
// concurrent use.
type TreeLearner struct {
	cfg     *config.Config
	data    *dataset.Dataset
	logger  log.Logger
	workers int

	numData     int
	numFeatures int
	mappers     []*dataset.BinMapper
	penalty     []float64
	monotone    []int
	candidates  []int

	hist    *HistogramBuilder
	finder  *splitFinder
	sampler *SamplingStrategy
	part    *partition

	// per-tree state, indexed by leaf
	hists  []leafHistograms
	best   []SplitInfo
	stats  []leafStats
	bounds []bounds
}

// New creates a learner for the constructed Dataset data.
func New(cfg *config.Config, data *dataset.Dataset) (*TreeLearner, error) {
	const op = "learner.New"
	if !data.IsConstructed() {
		return nil, errors.NewPreconditionError(op, "dataset is not constructed")
	}
	numData, _ := data.NumData()
	numFeatures, _ := data.NumFeatures()
	penalty, _ := data.FeaturePenalty()
	monotone, _ := data.MonotoneConstraints()

	l := &TreeLearner{
		cfg:         cfg,
		data:        data,
		logger:      data.Context().Logger("learner"),
		workers:     data.Context().Workers(),
		numData:     numData,
		numFeatures: numFeatures,
		mappers:     data.BinMappers(),
		penalty:     penalty,
		monotone:    monotone,
		finder:      newSplitFinder(cfg),
		sampler:     NewSamplingStrategy(cfg),
		part:        newPartition(cfg.NumLeaves),
	}
	l.hist = NewHistogramBuilder(data, l.workers)
	for f, m := range l.mappers {
		if !m.IsTrivial() {
			l.candidates = append(l.candidates, f)
		}
	}
	return l, nil
}

// Sampler exposes the row and feature sampler.
func (l *TreeLearner) Sampler() *SamplingStrategy { return l.sampler }

// Train grows a tree from the gradients of one model slot. bag selects the
// in-bag rows; nil means all rows. The returned tree may have a single leaf
// when no split passes the constraints.
func (l *TreeLearner) Train(grad, hess []float64, bag []int) (t *tree.Tree, err error) {
	const op = "TreeLearner.Train"
	defer errors.Recover(&err, op)
	if len(grad) != l.numData || len(hess) != l.numData {
		return nil, errors.NewDimensionError(op, l.numData, len(grad), 0)
	}
	start := time.Now()
	maxLeaves := l.cfg.NumLeaves

	l.part.init(l.numData, bag)
	used := l.sampler.SampleFeatures(l.numFeatures, l.candidates)

	l.hists = make([]leafHistograms, maxLeaves)
	l.best = make([]SplitInfo, maxLeaves)
	l.stats = make([]leafStats, maxLeaves)
	l.bounds = make([]bounds, maxLeaves)

	root := rootStats(l.part.rows(0), grad, hess)
	l.stats[0] = root
	l.bounds[0] = unbounded()

	t = tree.New(maxLeaves)
	t.SetLeafOutput(0, l.finder.reg.LeafOutput(root.sumGrad, root.sumHess))

	l.hists[0] = l.hist.Build(l.part.rows(0), grad, hess, used)
	l.best[0] = l.findBestSplit(t, 0)

	for t.NumLeaves() < maxLeaves {
		leaf := l.bestLeaf(t.NumLeaves())
		if leaf < 0 {
			break
		}
		l.split(t, leaf, grad, hess)
	}

	l.logger.Debug("Tree trained",
		log.NumLeavesKey, t.NumLeaves(),
		log.SamplesKey, len(l.part.indices),
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return t, nil
}

// LeafRows returns the in-bag rows that fell into leaf of the last trained tree.
func (l *TreeLearner) LeafRows(leaf int) []int { return l.part.rows(leaf) }

// bestLeaf picks the splittable leaf with the largest gain, lowest index on ties.
func (l *TreeLearner) bestLeaf(numLeaves int) int {
	leaf := -1
	for i := 0; i < numLeaves; i++ {
		if !l.best[i].Valid() {
			continue
		}
		if leaf < 0 || l.best[i].Gain > l.best[leaf].Gain {
			leaf = i
		}
	}
	return leaf
}

// findBestSplit searches every used feature of leaf concurrently and keeps the
// best candidate.
func (l *TreeLearner) findBestSplit(t *tree.Tree, leaf int) SplitInfo {
	st := l.stats[leaf]
	if l.cfg.MaxDepth > 0 && t.LeafDepth(leaf) >= l.cfg.MaxDepth {
		return noSplit()
	}
	if st.count < 2*l.cfg.MinDataInLeaf || st.sumHess < 2*l.cfg.MinSumHessianInLeaf {
		return noSplit()
	}
	hists := l.hists[leaf]
	perFeature := make([]SplitInfo, l.numFeatures)
	parallel.Parallelize(l.workers, l.numFeatures, func(s, e int) {
		for f := s; f < e; f++ {
			penalty := 1.0
			if l.penalty != nil {
				penalty = l.penalty[f]
			}
			mono := 0
			if l.monotone != nil {
				mono = l.monotone[f]
			}
			perFeature[f] = l.finder.FindBest(f, hists[f], l.mappers[f], st, l.bounds[leaf], mono, penalty)
		}
	})
	best := noSplit()
	for _, s := range perFeature {
		if s.better(best) {
			best = s
		}
	}
	return best
}

// split applies the best split of leaf to the tree and the row partition, then
// prepares histograms and split candidates of both children.
func (l *TreeLearner) split(t *tree.Tree, leaf int, grad, hess []float64) {
	s := l.best[leaf]
	m := l.mappers[s.Feature]
	ts := tree.Split{
		Feature:     s.Feature,
		DefaultLeft: s.DefaultLeft,
		MissingType: m.MissingType(),
		Gain:        s.Gain,
		LeftOutput:  s.LeftOutput,
		RightOutput: s.RightOutput,
		LeftCount:   s.LeftCount,
		RightCount:  s.RightCount,
		LeftWeight:  s.LeftSumHess,
		RightWeight: s.RightSumHess,
	}

	var right int
	if s.CatBins != nil {
		cats := make([]int, len(s.CatBins))
		for i, b := range s.CatBins {
			cats[i] = int(m.BinToValue(uint32(b)))
		}
		right = t.SplitCategorical(leaf, ts, tree.NewBitset(s.CatBins), tree.NewBitset(cats))
	} else {
		ts.ThresholdBin = s.ThresholdBin
		ts.Threshold = m.BinToValue(s.ThresholdBin)
		if m.MissingType() == dataset.MissingNone {
			ts.DefaultLeft = false
		}
		right = t.Split(leaf, ts)
	}

	node := t.LeafParent(leaf)
	col := l.data.Bins(s.Feature)
	l.part.split(leaf, right, func(row int) bool {
		return t.GoesLeftBinned(node, uint32(col[row]), m)
	})

	l.stats[leaf] = leafStats{sumGrad: s.LeftSumGrad, sumHess: s.LeftSumHess, count: s.LeftCount}
	l.stats[right] = leafStats{sumGrad: s.RightSumGrad, sumHess: s.RightSumHess, count: s.RightCount}
	l.bounds[leaf], l.bounds[right] = childBounds(l.bounds[leaf], s)

	parent := l.hists[leaf]
	smaller, larger := leaf, right
	if l.part.count[right] < l.part.count[leaf] {
		smaller, larger = right, leaf
	}
	used := make([]bool, l.numFeatures)
	for f, h := range parent {
		used[f] = h != nil
	}
	l.hists[smaller] = l.hist.Build(l.part.rows(smaller), grad, hess, used)
	l.hists[larger] = l.hist.Subtract(parent, l.hists[smaller])

	if t.NumLeaves() < l.cfg.NumLeaves {
		l.best[leaf] = l.findBestSplit(t, leaf)
		l.best[right] = l.findBestSplit(t, right)
	} else {
		l.best[leaf], l.best[right] = noSplit(), noSplit()
	}
}

// AddScore adds the outputs of t to score for every row of data, traversing
// the binned columns. data must share the training Dataset's bin mappers.
func AddScore(t *tree.Tree, data *dataset.Dataset, score []float64, numWorkers int) {
	if t.NumLeaves() == 1 {
		v := t.LeafOutput(0)
		for i := range score {
			score[i] += v
		}
		return
	}
	parallel.ParallelizeWithThreshold(numWorkers, len(score), 1024, func(start, end int) {
		for i := start; i < end; i++ {
			score[i] += t.PredictBinned(data, i)
		}
	})
}
