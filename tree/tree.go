// Package tree holds a single regression tree of the ensemble.
//
// Trees are stored as flat arrays indexed by internal node or leaf. A child
// reference that is negative encodes a leaf: ^child is the leaf index. Node 0
// is the root; a tree with one leaf has no internal nodes.
package tree

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/YuminosukeSato/scigbm/config"
	"github.com/YuminosukeSato/scigbm/dataset"
)

// decision_type bits.
const (
	categoricalMask = 1 << 0
	defaultLeftMask = 1 << 1
)

// Split describes how one leaf becomes an internal node with two children.
type Split struct {
	Feature      int
	ThresholdBin uint32
	Threshold    float64
	DefaultLeft  bool
	MissingType  dataset.MissingType
	Gain         float64

	LeftOutput  float64
	RightOutput float64
	LeftCount   int
	RightCount  int
	LeftWeight  float64
	RightWeight float64
}

// Tree is a binary decision tree over raw or binned feature values.
type Tree struct {
	maxLeaves int
	numLeaves int

	splitFeature   []int
	splitGain      []float64
	thresholdBin   []uint32
	threshold      []float64
	decisionType   []uint8
	leftChild      []int
	rightChild     []int
	internalValue  []float64
	internalWeight []float64
	internalCount  []int

	leafValue  []float64
	leafWeight []float64
	leafCount  []int
	leafParent []int
	leafDepth  []int

	// category bitsets, one slice per categorical split
	catBoundaries      []int
	catThreshold       []uint32
	catBoundariesInner []int
	catThresholdInner  []uint32

	shrinkage float64
}

// New returns a tree with a single leaf of value 0 that can grow to maxLeaves.
func New(maxLeaves int) *Tree {
	t := &Tree{
		maxLeaves:          maxLeaves,
		numLeaves:          1,
		leafValue:          []float64{0},
		leafWeight:         []float64{0},
		leafCount:          []int{0},
		leafParent:         []int{-1},
		leafDepth:          []int{0},
		catBoundaries:      []int{0},
		catBoundariesInner: []int{0},
		shrinkage:          1,
	}
	return t
}

// Split turns leaf into an internal node with a numerical threshold. The left
// child keeps the leaf index and the right child gets the next free one, which
// is returned.
func (t *Tree) Split(leaf int, s Split) int {
	t.splitLeaf(leaf, s)
	t.thresholdBin = append(t.thresholdBin, s.ThresholdBin)
	t.threshold = append(t.threshold, avoidInf(s.Threshold))
	dt := uint8(s.MissingType&3) << 2
	if s.DefaultLeft {
		dt |= defaultLeftMask
	}
	t.decisionType = append(t.decisionType, dt)
	return t.numLeaves - 1
}

// SplitCategorical splits leaf on a categorical feature. Rows whose bin is in
// binSet (raw category in catSet) go left; both are bitsets.
func (t *Tree) SplitCategorical(leaf int, s Split, binSet, catSet []uint32) int {
	t.splitLeaf(leaf, s)
	numCat := len(t.catBoundaries) - 1
	t.thresholdBin = append(t.thresholdBin, uint32(numCat))
	t.threshold = append(t.threshold, float64(numCat))
	t.decisionType = append(t.decisionType, uint8(s.MissingType&3)<<2|categoricalMask)

	t.catThresholdInner = append(t.catThresholdInner, binSet...)
	t.catBoundariesInner = append(t.catBoundariesInner, len(t.catThresholdInner))
	t.catThreshold = append(t.catThreshold, catSet...)
	t.catBoundaries = append(t.catBoundaries, len(t.catThreshold))
	return t.numLeaves - 1
}

func (t *Tree) splitLeaf(leaf int, s Split) int {
	node := t.numLeaves - 1
	parent := t.leafParent[leaf]
	if parent >= 0 {
		if t.leftChild[parent] == ^leaf {
			t.leftChild[parent] = node
		} else {
			t.rightChild[parent] = node
		}
	}
	newLeaf := t.numLeaves

	t.splitFeature = append(t.splitFeature, s.Feature)
	t.splitGain = append(t.splitGain, s.Gain)
	t.leftChild = append(t.leftChild, ^leaf)
	t.rightChild = append(t.rightChild, ^newLeaf)
	t.internalValue = append(t.internalValue, t.leafValue[leaf])
	t.internalWeight = append(t.internalWeight, s.LeftWeight+s.RightWeight)
	t.internalCount = append(t.internalCount, s.LeftCount+s.RightCount)

	depth := t.leafDepth[leaf] + 1
	t.leafValue[leaf] = finiteOrZero(s.LeftOutput)
	t.leafWeight[leaf] = s.LeftWeight
	t.leafCount[leaf] = s.LeftCount
	t.leafParent[leaf] = node
	t.leafDepth[leaf] = depth

	t.leafValue = append(t.leafValue, finiteOrZero(s.RightOutput))
	t.leafWeight = append(t.leafWeight, s.RightWeight)
	t.leafCount = append(t.leafCount, s.RightCount)
	t.leafParent = append(t.leafParent, node)
	t.leafDepth = append(t.leafDepth, depth)

	t.numLeaves++
	return node
}

// avoidInf clamps infinite thresholds, such as the upper bound of the last
// bin, so the model text stays portable.
func avoidInf(v float64) float64 {
	switch {
	case math.IsInf(v, 1):
		return 1e300
	case math.IsInf(v, -1):
		return -1e300
	}
	return v
}

func finiteOrZero(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// NumLeaves is the current number of leaves.
func (t *Tree) NumLeaves() int { return t.numLeaves }

// MaxLeaves is the leaf budget the tree was created with.
func (t *Tree) MaxLeaves() int { return t.maxLeaves }

// Shrinkage is the product of all learning rates applied to the tree.
func (t *Tree) Shrinkage() float64 { return t.shrinkage }

// NumCat is the number of categorical splits.
func (t *Tree) NumCat() int { return len(t.catBoundaries) - 1 }

// LeafOutput returns the value of leaf.
func (t *Tree) LeafOutput(leaf int) float64 { return t.leafValue[leaf] }

// SetLeafOutput overwrites the value of leaf.
func (t *Tree) SetLeafOutput(leaf int, v float64) { t.leafValue[leaf] = finiteOrZero(v) }

// LeafCount is the number of training rows that reached leaf.
func (t *Tree) LeafCount(leaf int) int { return t.leafCount[leaf] }

// LeafDepth is the depth of leaf; the root leaf has depth 0.
func (t *Tree) LeafDepth(leaf int) int { return t.leafDepth[leaf] }

// LeafParent is the internal node above leaf, or -1 for a single-leaf tree.
func (t *Tree) LeafParent(leaf int) int { return t.leafParent[leaf] }

// SplitFeature is the feature used by internal node.
func (t *Tree) SplitFeature(node int) int { return t.splitFeature[node] }

// SplitGain is the gain recorded for internal node.
func (t *Tree) SplitGain(node int) float64 { return t.splitGain[node] }

// IsCategorical reports whether internal node splits on categories.
func (t *Tree) IsCategorical(node int) bool { return t.decisionType[node]&categoricalMask != 0 }

// DefaultLeft reports the direction of missing values at internal node.
func (t *Tree) DefaultLeft(node int) bool { return t.decisionType[node]&defaultLeftMask != 0 }

func (t *Tree) missingType(node int) dataset.MissingType {
	return dataset.MissingType((t.decisionType[node] >> 2) & 3)
}

// Shrink multiplies every output by rate.
func (t *Tree) Shrink(rate float64) {
	floats.Scale(rate, t.leafValue)
	floats.Scale(rate, t.internalValue)
	t.shrinkage *= rate
}

// AddBias adds v to every output.
func (t *Tree) AddBias(v float64) {
	floats.AddConst(v, t.leafValue)
	floats.AddConst(v, t.internalValue)
}

// Predict returns the output of the leaf row reaches.
func (t *Tree) Predict(row []float64) float64 {
	return t.leafValue[t.LeafIndex(row)]
}

// LeafIndex returns the leaf a raw feature row reaches.
func (t *Tree) LeafIndex(row []float64) int {
	if t.numLeaves == 1 {
		return 0
	}
	node := 0
	for node >= 0 {
		v := 0.0
		if f := t.splitFeature[node]; f < len(row) {
			v = row[f]
		}
		if t.IsCategorical(node) {
			node = t.categoricalDecision(node, v)
		} else {
			node = t.numericalDecision(node, v)
		}
	}
	return ^node
}

func (t *Tree) numericalDecision(node int, v float64) int {
	mt := t.missingType(node)
	if math.IsNaN(v) && mt != dataset.MissingNaN {
		v = 0
	}
	if (mt == dataset.MissingZero && math.Abs(v) <= config.ZeroThreshold) ||
		(mt == dataset.MissingNaN && math.IsNaN(v)) {
		if t.DefaultLeft(node) {
			return t.leftChild[node]
		}
		return t.rightChild[node]
	}
	if v <= t.threshold[node] {
		return t.leftChild[node]
	}
	return t.rightChild[node]
}

func (t *Tree) categoricalDecision(node int, v float64) int {
	if math.IsNaN(v) || v < 0 {
		return t.rightChild[node]
	}
	idx := int(t.threshold[node])
	set := t.catThreshold[t.catBoundaries[idx]:t.catBoundaries[idx+1]]
	if inBitset(set, int(v)) {
		return t.leftChild[node]
	}
	return t.rightChild[node]
}

// BinnedRows gives the tree access to binned feature columns. It is
// implemented by *dataset.Dataset.
type BinnedRows interface {
	Bins(feature int) []uint16
	BinMapper(feature int) *dataset.BinMapper
}

// LeafIndexBinned returns the leaf that row of a binned dataset reaches. It
// agrees with LeafIndex on the raw row the bins were built from.
func (t *Tree) LeafIndexBinned(data BinnedRows, row int) int {
	if t.numLeaves == 1 {
		return 0
	}
	node := 0
	for node >= 0 {
		f := t.splitFeature[node]
		if t.GoesLeftBinned(node, uint32(data.Bins(f)[row]), data.BinMapper(f)) {
			node = t.leftChild[node]
		} else {
			node = t.rightChild[node]
		}
	}
	return ^node
}

// GoesLeftBinned reports whether a row whose split feature has bin goes left at
// internal node. m is the mapper of the split feature.
func (t *Tree) GoesLeftBinned(node int, bin uint32, m *dataset.BinMapper) bool {
	if t.IsCategorical(node) {
		idx := int(t.thresholdBin[node])
		set := t.catThresholdInner[t.catBoundariesInner[idx]:t.catBoundariesInner[idx+1]]
		return inBitset(set, int(bin))
	}
	mt := t.missingType(node)
	if (mt == dataset.MissingZero && bin == m.DefaultBin()) ||
		(mt == dataset.MissingNaN && bin == uint32(m.NumBin()-1)) {
		return t.DefaultLeft(node)
	}
	return bin <= t.thresholdBin[node]
}

// PredictBinned returns the output for row of a binned dataset.
func (t *Tree) PredictBinned(data BinnedRows, row int) float64 {
	return t.leafValue[t.LeafIndexBinned(data, row)]
}

// MaxDepth is the depth of the deepest leaf.
func (t *Tree) MaxDepth() int {
	d := 0
	for _, v := range t.leafDepth {
		d = max(d, v)
	}
	return d
}

// NewBitset returns the smallest bitset holding vals.
func NewBitset(vals []int) []uint32 {
	top := 0
	for _, v := range vals {
		top = max(top, v)
	}
	set := make([]uint32, top/32+1)
	for _, v := range vals {
		set[v/32] |= 1 << (v % 32)
	}
	return set
}

func inBitset(set []uint32, v int) bool {
	i := v / 32
	if i >= len(set) {
		return false
	}
	return set[i]>>(v%32)&1 == 1
}
