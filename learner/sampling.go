package learner

import (
	"math/rand"
	"sort"

	"github.com/YuminosukeSato/scigbm/config"
)

// SamplingStrategy draws the per-tree feature subset and the bagged rows.
// Each draw uses its own seeded generator, so a run is reproducible.
type SamplingStrategy struct {
	featureRng      *rand.Rand
	baggingRng      *rand.Rand
	featureFraction float64
	baggingFraction float64
	baggingFreq     int
	bag             []int
}

// NewSamplingStrategy creates a sampler from the bagging and feature_fraction
// parameters of cfg.
func NewSamplingStrategy(cfg *config.Config) *SamplingStrategy {
	return &SamplingStrategy{
		featureRng:      rand.New(rand.NewSource(int64(cfg.FeatureFractionSeed))),
		baggingRng:      rand.New(rand.NewSource(int64(cfg.BaggingSeed))),
		featureFraction: cfg.FeatureFraction,
		baggingFraction: cfg.BaggingFraction,
		baggingFreq:     cfg.BaggingFreq,
	}
}

// SampleFeatures marks the features a tree may split on. Only candidates are
// drawn from; at least one is kept.
func (s *SamplingStrategy) SampleFeatures(numFeatures int, candidates []int) []bool {
	used := make([]bool, numFeatures)
	if s.featureFraction >= 1 || len(candidates) == 0 {
		for _, f := range candidates {
			used[f] = true
		}
		return used
	}
	numSample := int(float64(len(candidates))*s.featureFraction + 0.5)
	numSample = max(1, min(numSample, len(candidates)))
	for _, i := range partialShuffle(s.featureRng, len(candidates), numSample) {
		used[candidates[i]] = true
	}
	return used
}

// SampleInstances returns the bagged rows of iteration in ascending order, or
// nil when every row is used. A new bag is drawn every baggingFreq iterations.
func (s *SamplingStrategy) SampleInstances(numData, iteration int) []int {
	if s.baggingFreq <= 0 || s.baggingFraction >= 1 {
		return nil
	}
	if s.bag != nil && iteration%s.baggingFreq != 0 {
		return s.bag
	}
	numSample := int(float64(numData)*s.baggingFraction + 0.5)
	numSample = max(1, min(numSample, numData))
	bag := partialShuffle(s.baggingRng, numData, numSample)
	sort.Ints(bag)
	s.bag = bag
	return bag
}

// partialShuffle draws k of [0, n) without replacement with a Fisher-Yates
// prefix shuffle.
func partialShuffle(rng *rand.Rand, n, k int) []int {
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	for i := 0; i < k; i++ {
		j := i + rng.Intn(n-i)
		perm[i], perm[j] = perm[j], perm[i]
	}
	return perm[:k]
}
