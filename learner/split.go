package learner

import (
	"math"
	"sort"

	"github.com/YuminosukeSato/scigbm/config"
	"github.com/YuminosukeSato/scigbm/dataset"
)

// SplitInfo is the best split found for a leaf. Feature is -1 when the leaf
// cannot be split.
type SplitInfo struct {
	Feature      int
	ThresholdBin uint32
	DefaultLeft  bool
	// Gain is the improvement over not splitting, after min_gain_to_split and
	// the feature penalty.
	Gain float64

	LeftSumGrad  float64
	LeftSumHess  float64
	LeftCount    int
	RightSumGrad float64
	RightSumHess float64
	RightCount   int
	LeftOutput   float64
	RightOutput  float64

	// CatBins lists the bins sent left by a categorical split.
	CatBins  []int
	Monotone int
}

func noSplit() SplitInfo { return SplitInfo{Feature: -1, Gain: math.Inf(-1)} }

// Valid reports whether the split can be applied.
func (s SplitInfo) Valid() bool { return s.Feature >= 0 && s.Gain > 0 }

// better orders candidates by gain, then by lower feature index, so the chosen
// split does not depend on the order features were searched in.
func (s SplitInfo) better(o SplitInfo) bool {
	if s.Feature < 0 {
		return false
	}
	if o.Feature < 0 || s.Gain > o.Gain {
		return true
	}
	return s.Gain == o.Gain && s.Feature < o.Feature
}

// leafStats are the gradient sums of the rows of a leaf.
type leafStats struct {
	sumGrad float64
	sumHess float64
	count   int
}

// bounds limit a leaf's output under monotone constraints.
type bounds struct {
	min, max float64
}

func unbounded() bounds { return bounds{min: math.Inf(-1), max: math.Inf(1)} }

func (b bounds) clamp(v float64) float64 { return math.Min(math.Max(v, b.min), b.max) }

// Regularization computes regularized leaf outputs and gains.
type Regularization struct {
	LambdaL1     float64
	LambdaL2     float64
	MaxDeltaStep float64
}

// thresholdL1 soft-thresholds s by l1.
func thresholdL1(s, l1 float64) float64 {
	reg := math.Max(0, math.Abs(s)-l1)
	if s < 0 {
		return -reg
	}
	return reg
}

// LeafOutput is the regularized Newton step -T(G)/(H+l2), capped by
// max_delta_step when it is positive.
func (r Regularization) LeafOutput(sumGrad, sumHess float64) float64 {
	out := -thresholdL1(sumGrad, r.LambdaL1) / (sumHess + r.LambdaL2)
	if r.MaxDeltaStep > 0 && math.Abs(out) > r.MaxDeltaStep {
		out = math.Copysign(r.MaxDeltaStep, out)
	}
	return out
}

// leafGainGivenOutput is the loss reduction of a leaf that outputs out.
func (r Regularization) leafGainGivenOutput(sumGrad, sumHess, out float64) float64 {
	sg := thresholdL1(sumGrad, r.LambdaL1)
	return -(2*sg*out + (sumHess+r.LambdaL2)*out*out)
}

// LeafGain is the loss reduction of a leaf at its optimal output.
func (r Regularization) LeafGain(sumGrad, sumHess float64) float64 {
	if r.MaxDeltaStep <= 0 {
		sg := thresholdL1(sumGrad, r.LambdaL1)
		return sg * sg / (sumHess + r.LambdaL2)
	}
	return r.leafGainGivenOutput(sumGrad, sumHess, r.LeafOutput(sumGrad, sumHess))
}

// splitFinder searches the best threshold of one feature histogram.
type splitFinder struct {
	reg                 Regularization
	minDataInLeaf       int
	minSumHessianInLeaf float64
	minGainToSplit      float64

	maxCatToOnehot  int
	maxCatThreshold int
	catL2           float64
	catSmooth       float64
	minDataPerGroup int
}

func newSplitFinder(cfg *config.Config) *splitFinder {
	return &splitFinder{
		reg: Regularization{
			LambdaL1:     cfg.LambdaL1,
			LambdaL2:     cfg.LambdaL2,
			MaxDeltaStep: cfg.MaxDeltaStep,
		},
		minDataInLeaf:       cfg.MinDataInLeaf,
		minSumHessianInLeaf: cfg.MinSumHessianInLeaf,
		minGainToSplit:      cfg.MinGainToSplit,
		maxCatToOnehot:      cfg.MaxCatToOnehot,
		maxCatThreshold:     cfg.MaxCatThreshold,
		catL2:               cfg.CatL2,
		catSmooth:           cfg.CatSmooth,
		minDataPerGroup:     cfg.MinDataPerGroup,
	}
}

// feasible reports whether both sides satisfy the minimum size rules.
func (sf *splitFinder) feasible(lc, rc int, lh, rh float64) bool {
	return lc >= sf.minDataInLeaf && rc >= sf.minDataInLeaf &&
		lh >= sf.minSumHessianInLeaf && rh >= sf.minSumHessianInLeaf
}

// evaluate fills outputs and returns the raw split gain, or -Inf when the
// monotone direction is violated.
func (sf *splitFinder) evaluate(reg Regularization, s *SplitInfo, b bounds, monotone int) float64 {
	s.LeftOutput = b.clamp(reg.LeafOutput(s.LeftSumGrad, s.LeftSumHess))
	s.RightOutput = b.clamp(reg.LeafOutput(s.RightSumGrad, s.RightSumHess))
	if (monotone > 0 && s.LeftOutput > s.RightOutput) || (monotone < 0 && s.LeftOutput < s.RightOutput) {
		return math.Inf(-1)
	}
	return reg.leafGainGivenOutput(s.LeftSumGrad, s.LeftSumHess, s.LeftOutput) +
		reg.leafGainGivenOutput(s.RightSumGrad, s.RightSumHess, s.RightOutput)
}

// FindBest returns the best split of feature f for a leaf.
func (sf *splitFinder) FindBest(f int, hist FeatureHistogram, m *dataset.BinMapper, leaf leafStats,
	b bounds, monotone int, penalty float64,
) SplitInfo {
	if hist == nil || m.NumBin() < 2 {
		return noSplit()
	}
	var best SplitInfo
	if m.BinType() == dataset.CategoricalBin {
		best = sf.findCategorical(hist, leaf, b)
	} else {
		best = sf.findNumerical(hist, m, leaf, b, monotone)
	}
	if best.Feature < 0 {
		return best
	}
	best.Feature = f
	best.Gain *= penalty
	return best
}

// findNumerical scans thresholds in bin order. When the feature has a missing
// bin, that bin is kept out of the scan and tried on each side in turn.
func (sf *splitFinder) findNumerical(hist FeatureHistogram, m *dataset.BinMapper, leaf leafStats,
	b bounds, monotone int,
) SplitInfo {
	numBin := len(hist)
	missing := -1
	switch m.MissingType() {
	case dataset.MissingZero:
		missing = int(m.DefaultBin())
	case dataset.MissingNaN:
		missing = numBin - 1
	}
	gainShift := sf.reg.LeafGain(leaf.sumGrad, leaf.sumHess) + sf.minGainToSplit

	best := noSplit()
	directions := []bool{false}
	if missing >= 0 {
		directions = []bool{false, true}
	}
	for _, defaultLeft := range directions {
		var lg, lh float64
		lc := 0
		if defaultLeft {
			lg, lh, lc = hist[missing].SumGrad, hist[missing].SumHess, hist[missing].Count
		}
		last := numBin - 2
		for t := 0; t <= last; t++ {
			if t != missing {
				lg += hist[t].SumGrad
				lh += hist[t].SumHess
				lc += hist[t].Count
			}
			s := SplitInfo{
				ThresholdBin: uint32(t),
				DefaultLeft:  defaultLeft,
				LeftSumGrad:  lg,
				LeftSumHess:  lh,
				LeftCount:    lc,
				RightSumGrad: leaf.sumGrad - lg,
				RightSumHess: leaf.sumHess - lh,
				RightCount:   leaf.count - lc,
				Monotone:     monotone,
			}
			if !sf.feasible(s.LeftCount, s.RightCount, s.LeftSumHess, s.RightSumHess) {
				continue
			}
			gain := sf.evaluate(sf.reg, &s, b, monotone)
			if gain <= gainShift {
				continue
			}
			s.Gain = gain - gainShift
			if best.Feature < 0 || s.Gain > best.Gain {
				s.Feature = 0
				best = s
			}
		}
	}
	return best
}

// findCategorical tries one-vs-rest splits for features with few bins and
// otherwise a prefix of the bins sorted by gradient ratio. The last bin holds
// unseen and negative values and never goes left.
func (sf *splitFinder) findCategorical(hist FeatureHistogram, leaf leafStats, b bounds) SplitInfo {
	numBin := len(hist)
	gainShift := sf.reg.LeafGain(leaf.sumGrad, leaf.sumHess) + sf.minGainToSplit
	best := noSplit()

	consider := func(reg Regularization, bins []int) {
		s := SplitInfo{}
		for _, bin := range bins {
			s.LeftSumGrad += hist[bin].SumGrad
			s.LeftSumHess += hist[bin].SumHess
			s.LeftCount += hist[bin].Count
		}
		s.RightSumGrad = leaf.sumGrad - s.LeftSumGrad
		s.RightSumHess = leaf.sumHess - s.LeftSumHess
		s.RightCount = leaf.count - s.LeftCount
		if !sf.feasible(s.LeftCount, s.RightCount, s.LeftSumHess, s.RightSumHess) {
			return
		}
		gain := sf.evaluate(reg, &s, b, 0)
		if gain <= gainShift {
			return
		}
		s.Gain = gain - gainShift
		if best.Feature < 0 || s.Gain > best.Gain {
			s.Feature = 0
			s.CatBins = append([]int(nil), bins...)
			best = s
		}
	}

	if numBin <= sf.maxCatToOnehot {
		for bin := 0; bin < numBin-1; bin++ {
			consider(sf.reg, []int{bin})
		}
		return best
	}

	reg := sf.reg
	reg.LambdaL2 += sf.catL2
	var used []int
	for bin := 0; bin < numBin-1; bin++ {
		if float64(hist[bin].Count) >= sf.catSmooth {
			used = append(used, bin)
		}
	}
	ctr := func(bin int) float64 { return hist[bin].SumGrad / (hist[bin].SumHess + sf.catSmooth) }
	sort.SliceStable(used, func(i, j int) bool { return ctr(used[i]) < ctr(used[j]) })
	maxNumCat := min(sf.maxCatThreshold, (len(used)+1)/2)

	for _, reverse := range []bool{false, true} {
		order := used
		if reverse {
			order = make([]int, len(used))
			for i, bin := range used {
				order[len(used)-1-i] = bin
			}
		}
		group := 0
		for i := 0; i < len(order) && i < maxNumCat; i++ {
			group += hist[order[i]].Count
			if group < sf.minDataPerGroup {
				continue
			}
			group = 0
			consider(reg, order[:i+1])
		}
	}
	return best
}

// childBounds narrows the parent's output bounds for the two children of a
// split on a monotone feature.
func childBounds(parent bounds, s SplitInfo) (left, right bounds) {
	left, right = parent, parent
	if s.Monotone == 0 || s.CatBins != nil {
		return left, right
	}
	mid := (s.LeftOutput + s.RightOutput) / 2
	if s.Monotone > 0 {
		left.max = math.Min(left.max, mid)
		right.min = math.Max(right.min, mid)
	} else {
		left.min = math.Max(left.min, mid)
		right.max = math.Min(right.max, mid)
	}
	return left, right
}
